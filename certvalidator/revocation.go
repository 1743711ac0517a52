package certvalidator

import (
	"bytes"
	"crypto/x509"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/ocsp"
)

// ErrUnknownRevocation is returned for data that is neither a CRL nor an
// OCSP response.
var ErrUnknownRevocation = errors.New("revocation data is neither a CRL nor an OCSP response")

// RevocationKind identifies the format of revocation data.
type RevocationKind string

const (
	KindCRL  RevocationKind = "CRL"
	KindOCSP RevocationKind = "OCSP"
)

// Revocation is a parsed CRL or OCSP response.
type Revocation struct {
	Kind RevocationKind
	Raw  []byte
	CRL  *x509.RevocationList
	OCSP *ocsp.Response
}

// ParseCRL parses a DER encoded CRL.
func ParseCRL(data []byte) (*Revocation, error) {
	crl, err := x509.ParseRevocationList(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CRL: %w", err)
	}
	return &Revocation{Kind: KindCRL, Raw: data, CRL: crl}, nil
}

// ParseOCSP parses a DER encoded OCSP response. The signature is checked
// against the responder certificate when one is embedded.
func ParseOCSP(data []byte) (*Revocation, error) {
	resp, err := ocsp.ParseResponse(data, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to parse OCSP response: %w", err)
	}
	return &Revocation{Kind: KindOCSP, Raw: data, OCSP: resp}, nil
}

// ParseRevocation identifies and parses a CRL or an OCSP response.
func ParseRevocation(data []byte) (*Revocation, error) {
	if rev, err := ParseCRL(data); err == nil {
		return rev, nil
	}
	if rev, err := ParseOCSP(data); err == nil {
		return rev, nil
	}
	return nil, ErrUnknownRevocation
}

// RevocationStore holds revocation data gathered offline. It is safe for
// concurrent use.
type RevocationStore struct {
	mu      sync.RWMutex
	entries []*Revocation
}

// NewRevocationStore creates an empty store.
func NewRevocationStore() *RevocationStore {
	return &RevocationStore{}
}

// Add registers parsed revocation data.
func (s *RevocationStore) Add(rev *Revocation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, rev)
}

// Len returns the number of entries.
func (s *RevocationStore) Len() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Status returns the revocation status of cert issued by issuer at the
// given time. Entries that are not signed by issuer are ignored.
func (s *RevocationStore) Status(cert, issuer *x509.Certificate, at time.Time) RevocationStatus {
	if s == nil {
		return RevocationUnknown
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := RevocationUnknown
	for _, rev := range s.entries {
		var st RevocationStatus
		switch rev.Kind {
		case KindCRL:
			st = crlStatus(rev.CRL, cert, issuer, at)
		case KindOCSP:
			st = ocspStatus(rev.OCSP, cert, issuer, at)
		}
		if st == RevocationRevoked {
			return RevocationRevoked
		}
		if st == RevocationGood {
			status = RevocationGood
		}
	}
	return status
}

func crlStatus(crl *x509.RevocationList, cert, issuer *x509.Certificate, at time.Time) RevocationStatus {
	if !bytes.Equal(crl.RawIssuer, cert.RawIssuer) {
		return RevocationUnknown
	}
	if err := crl.CheckSignatureFrom(issuer); err != nil {
		return RevocationUnknown
	}
	for _, entry := range crl.RevokedCertificateEntries {
		if entry.SerialNumber.Cmp(cert.SerialNumber) == 0 && !entry.RevocationTime.After(at) {
			return RevocationRevoked
		}
	}
	return RevocationGood
}

func ocspStatus(resp *ocsp.Response, cert, issuer *x509.Certificate, at time.Time) RevocationStatus {
	if resp.SerialNumber == nil || resp.SerialNumber.Cmp(cert.SerialNumber) != 0 {
		return RevocationUnknown
	}
	signer := issuer
	if resp.Certificate != nil {
		signer = resp.Certificate
		if !bytes.Equal(signer.Raw, issuer.Raw) && signer.CheckSignatureFrom(issuer) != nil {
			return RevocationUnknown
		}
	}
	if err := resp.CheckSignatureFrom(signer); err != nil {
		return RevocationUnknown
	}
	switch resp.Status {
	case ocsp.Good:
		return RevocationGood
	case ocsp.Revoked:
		if !resp.RevokedAt.After(at) {
			return RevocationRevoked
		}
		return RevocationGood
	default:
		return RevocationUnknown
	}
}
