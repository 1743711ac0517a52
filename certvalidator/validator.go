// Package certvalidator provides X.509 certificate path validation for
// timestamp signing certificates.
package certvalidator

import (
	"crypto/x509"
	"errors"
	"fmt"
	"time"
)

// Common errors
var (
	ErrCertificateExpired     = errors.New("certificate expired")
	ErrCertificateNotYetValid = errors.New("certificate not yet valid")
	ErrCertificateRevoked     = errors.New("certificate revoked")
	ErrInvalidChain           = errors.New("invalid certificate chain")
	ErrNoTrustAnchor          = errors.New("no trust anchor found")
)

// ValidationContext provides context for certificate validation.
type ValidationContext struct {
	TrustRoots        *x509.CertPool
	IntermediateCerts []*x509.Certificate
	ValidationTime    time.Time

	// Revocation holds revocation data collected offline, for example from
	// the cryptographic information of an evidence record.
	Revocation *RevocationStore

	SkipRevocation bool

	// KeyUsages restricts the extended key usages accepted along the chain.
	// Empty accepts any usage.
	KeyUsages []x509.ExtKeyUsage
}

// NewValidationContext creates a new validation context.
func NewValidationContext(roots *x509.CertPool) *ValidationContext {
	return &ValidationContext{
		TrustRoots:     roots,
		ValidationTime: time.Now(),
		Revocation:     NewRevocationStore(),
	}
}

// SetValidationTime sets the time for validation.
func (ctx *ValidationContext) SetValidationTime(t time.Time) {
	ctx.ValidationTime = t
}

// AddIntermediateCert adds an intermediate certificate.
func (ctx *ValidationContext) AddIntermediateCert(cert *x509.Certificate) {
	ctx.IntermediateCerts = append(ctx.IntermediateCerts, cert)
}

// ValidationResult contains the result of certificate validation.
type ValidationResult struct {
	Valid            bool
	Chain            []*x509.Certificate
	TrustAnchor      *x509.Certificate
	Errors           []error
	Warnings         []string
	RevocationStatus RevocationStatus
}

// ChainFound reports whether a path to a trust anchor was built.
func (r *ValidationResult) ChainFound() bool {
	return len(r.Chain) > 0
}

// RevocationStatus represents certificate revocation status.
type RevocationStatus int

const (
	RevocationUnknown RevocationStatus = iota
	RevocationGood
	RevocationRevoked
)

func (s RevocationStatus) String() string {
	switch s {
	case RevocationGood:
		return "good"
	case RevocationRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// CertificateValidator validates X.509 certificates.
type CertificateValidator struct {
	Context *ValidationContext
}

// NewCertificateValidator creates a new certificate validator.
func NewCertificateValidator(ctx *ValidationContext) *CertificateValidator {
	return &CertificateValidator{Context: ctx}
}

// Validate validates a certificate at the context validation time.
func (v *CertificateValidator) Validate(cert *x509.Certificate) (*ValidationResult, error) {
	if cert == nil {
		return nil, errors.New("certificate is nil")
	}
	result := &ValidationResult{}

	if v.Context.ValidationTime.After(cert.NotAfter) {
		result.Errors = append(result.Errors, ErrCertificateExpired)
	}
	if v.Context.ValidationTime.Before(cert.NotBefore) {
		result.Errors = append(result.Errors, ErrCertificateNotYetValid)
	}

	chain, err := v.buildChain(cert)
	if err != nil {
		result.Errors = append(result.Errors, err)
		return result, nil
	}
	result.Chain = chain
	result.TrustAnchor = chain[len(chain)-1]

	if !v.Context.SkipRevocation && len(chain) > 1 {
		result.RevocationStatus = v.Context.Revocation.Status(cert, chain[1], v.Context.ValidationTime)
		switch result.RevocationStatus {
		case RevocationRevoked:
			result.Errors = append(result.Errors, ErrCertificateRevoked)
		case RevocationUnknown:
			result.Warnings = append(result.Warnings, "no revocation data for "+cert.Subject.String())
		}
	}

	result.Valid = len(result.Errors) == 0
	return result, nil
}

// buildChain builds the certificate chain to a trust anchor.
func (v *CertificateValidator) buildChain(cert *x509.Certificate) ([]*x509.Certificate, error) {
	if v.Context.TrustRoots == nil {
		return nil, ErrNoTrustAnchor
	}

	intermediates := x509.NewCertPool()
	for _, inter := range v.Context.IntermediateCerts {
		intermediates.AddCert(inter)
	}

	usages := v.Context.KeyUsages
	if len(usages) == 0 {
		usages = []x509.ExtKeyUsage{x509.ExtKeyUsageAny}
	}

	// Chains are checked at a time inside the certificate validity so that
	// expiry is reported separately from path errors.
	at := v.Context.ValidationTime
	if at.After(cert.NotAfter) {
		at = cert.NotAfter
	}
	if at.Before(cert.NotBefore) {
		at = cert.NotBefore
	}

	chains, err := cert.Verify(x509.VerifyOptions{
		Roots:         v.Context.TrustRoots,
		Intermediates: intermediates,
		CurrentTime:   at,
		KeyUsages:     usages,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidChain, err)
	}
	if len(chains) == 0 || len(chains[0]) == 0 {
		return nil, ErrNoTrustAnchor
	}
	return chains[0], nil
}

// CheckExtKeyUsage checks if the certificate has the required extended key usage.
func CheckExtKeyUsage(cert *x509.Certificate, usage x509.ExtKeyUsage) bool {
	for _, eku := range cert.ExtKeyUsage {
		if eku == usage {
			return true
		}
	}
	return false
}

// TrustAnchor represents a trust anchor (root CA).
type TrustAnchor struct {
	Certificate *x509.Certificate
	Name        string
}

// TrustStore manages trust anchors and known intermediates.
type TrustStore struct {
	Anchors       []*TrustAnchor
	Intermediates []*x509.Certificate
	CertPool      *x509.CertPool
}

// NewTrustStore creates a new trust store.
func NewTrustStore() *TrustStore {
	return &TrustStore{
		CertPool: x509.NewCertPool(),
	}
}

// AddTrustAnchor adds a trust anchor.
func (ts *TrustStore) AddTrustAnchor(anchor *TrustAnchor) {
	ts.Anchors = append(ts.Anchors, anchor)
	ts.CertPool.AddCert(anchor.Certificate)
}

// AddCertificate adds a certificate as a trust anchor.
func (ts *TrustStore) AddCertificate(cert *x509.Certificate) {
	ts.AddTrustAnchor(&TrustAnchor{
		Certificate: cert,
		Name:        cert.Subject.CommonName,
	})
}

// AddIntermediate registers an intermediate certificate used for path
// building.
func (ts *TrustStore) AddIntermediate(cert *x509.Certificate) {
	ts.Intermediates = append(ts.Intermediates, cert)
}

// Empty reports whether the store has no anchors.
func (ts *TrustStore) Empty() bool {
	return ts == nil || len(ts.Anchors) == 0
}

// CreateValidationContext creates a validation context from the trust store.
func (ts *TrustStore) CreateValidationContext(at time.Time) *ValidationContext {
	ctx := NewValidationContext(ts.CertPool)
	ctx.SetValidationTime(at)
	for _, inter := range ts.Intermediates {
		ctx.AddIntermediateCert(inter)
	}
	return ctx
}

// Verify validates cert at the given time against the store. extra are
// certificates shipped alongside the signed object and are only used as
// path building candidates.
func (ts *TrustStore) Verify(cert *x509.Certificate, at time.Time, revocation *RevocationStore, extra ...*x509.Certificate) (*ValidationResult, error) {
	ctx := ts.CreateValidationContext(at)
	for _, c := range extra {
		ctx.AddIntermediateCert(c)
	}
	if revocation != nil {
		ctx.Revocation = revocation
	}
	return NewCertificateValidator(ctx).Validate(cert)
}
