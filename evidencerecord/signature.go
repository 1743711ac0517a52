package evidencerecord

import (
	"fmt"

	"github.com/georgepadayatti/goers/digest"
)

// SignatureFormat names the signature family protected by a record.
type SignatureFormat string

const (
	CAdES SignatureFormat = "CAdES"
	XAdES SignatureFormat = "XAdES"
)

// SignatureObject is the signature an embedded or external evidence record
// protects, together with the objects the signature itself encapsulates.
type SignatureObject struct {
	// ID is the identifier of the master signature.
	ID     string
	Format SignatureFormat

	// CounterSignatureIDs identifies the counter signatures.
	CounterSignatureIDs []string

	// CoexistingSignatureIDs identifies the other signatures sharing the
	// protected structure, which the leaf digest covers as well.
	CoexistingSignatureIDs []string

	// SignedData lists the names of the signed documents.
	SignedData []string

	Certificates [][]byte
	Revocations  [][]byte
	Timestamps   [][]byte

	// DigestFunc returns the candidate hash tree leaves of the signature.
	DigestFunc func(alg digest.Algorithm) ([]digest.Digest, error)
}

// Name implements DataObject.
func (s *SignatureObject) Name() string {
	return s.ID
}

// Digests implements DataObject.
func (s *SignatureObject) Digests(alg digest.Algorithm) ([]digest.Digest, error) {
	if s.DigestFunc == nil {
		return nil, fmt.Errorf("signature %s has no digest function", s.ID)
	}
	return s.DigestFunc(alg.OrDefault())
}

func matcherTypeOf(obj DataObject) MatcherType {
	if _, ok := obj.(*SignatureObject); ok {
		return MasterSignature
	}
	return ArchiveObject
}
