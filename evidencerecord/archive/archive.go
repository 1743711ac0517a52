// Package archive holds the encoding neutral structure of an evidence record:
// chains of archive timestamps, each with its reduced hash tree and
// timestamp token. The ers and xmlers packages decode into and encode from
// this structure.
package archive

import (
	"errors"
	"fmt"

	"github.com/georgepadayatti/goers/digest"
)

// Encoding is the serialization of an evidence record.
type Encoding string

const (
	// ASN1 is the RFC 4998 DER encoding.
	ASN1 Encoding = "ASN1"
	// XML is the RFC 6283 encoding.
	XML Encoding = "XML"
)

// Common errors
var (
	ErrEmptyRecord     = errors.New("evidence record has no archive timestamp")
	ErrNoHasher        = errors.New("evidence record has no renewal hasher")
	ErrIndexOutOfRange = errors.New("archive timestamp index out of range")
)

// FormatError reports a malformed evidence record encoding.
type FormatError struct {
	Encoding Encoding
	Msg      string
	Err      error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed %s evidence record: %s: %v", e.Encoding, e.Msg, e.Err)
	}
	return fmt.Sprintf("malformed %s evidence record: %s", e.Encoding, e.Msg)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// NewFormatError creates a FormatError.
func NewFormatError(enc Encoding, msg string, err error) *FormatError {
	return &FormatError{Encoding: enc, Msg: msg, Err: err}
}

// CryptoInfoType classifies a cryptographic information entry.
type CryptoInfoType string

const (
	CryptoInfoCertificate CryptoInfoType = "CERT"
	CryptoInfoCRL         CryptoInfoType = "CRL"
	CryptoInfoOCSP        CryptoInfoType = "OCSP"
	CryptoInfoOther       CryptoInfoType = "OTHER"
)

// CryptoInfo is a certificate or revocation value carried by the record to
// support the validation of its timestamps.
type CryptoInfo struct {
	Type  CryptoInfoType
	Value []byte
}

// Stamp is one archive timestamp.
type Stamp struct {
	// Algorithm is the digest algorithm declared on the archive timestamp,
	// empty when it inherits the chain algorithm.
	Algorithm digest.Algorithm

	// Groups is the reduced hash tree. Each group is a list of digest
	// values. Nil when the hash tree is omitted.
	Groups [][][]byte

	// Token is the DER encoded RFC 3161 timestamp token.
	Token []byte

	// CryptoInfos are the cryptographic information entries attached to
	// this archive timestamp.
	CryptoInfos []CryptoInfo

	// Attributes is the raw encoding of ASN.1 archive timestamp attributes.
	Attributes []byte

	// Raw is the encoding of the archive timestamp as read. Encoders write
	// it verbatim when set.
	Raw []byte
}

// HashTreeOmitted reports whether the archive timestamp has no reduced hash
// tree.
func (s *Stamp) HashTreeOmitted() bool {
	return len(s.Groups) == 0
}

// Chain is an archive timestamp chain. Every archive timestamp of a chain
// uses the same digest algorithm.
type Chain struct {
	Algorithm digest.Algorithm

	// Canonicalization is the canonicalization method URI of XML chains.
	Canonicalization string

	Stamps []*Stamp

	// Raw is the encoding of the chain as read.
	Raw []byte
}

// RenewalHasher computes the renewal digests of an encoding.
type RenewalHasher interface {
	// TimestampHash returns the hash of archive timestamp stamp of chain,
	// as covered by the following archive timestamp of the same chain.
	TimestampHash(chain, stamp int, alg digest.Algorithm) ([]byte, error)

	// SequenceHash returns the hash of the archive timestamp sequence made
	// of the chains preceding chain.
	SequenceHash(chain int, alg digest.Algorithm) ([]byte, error)

	// CombinedChainLeaves reports whether the first group of a chain renewal
	// holds H(h(d) || hs) per data object instead of separate leaves.
	CombinedChainLeaves() bool
}

// Record is a decoded evidence record.
type Record struct {
	Encoding Encoding

	// Raw is the complete encoding as read.
	Raw []byte

	Version int

	// DigestAlgorithms lists the digest algorithms used in the record.
	DigestAlgorithms []digest.Algorithm

	// CryptoInfos are the record level cryptographic information entries.
	CryptoInfos []CryptoInfo

	// EncryptionInfo is the raw encryption information, when present.
	EncryptionInfo []byte

	Chains []*Chain

	Hasher RenewalHasher
}

// Check verifies the structural requirements shared by every encoding.
func (r *Record) Check() error {
	if len(r.Chains) == 0 {
		return NewFormatError(r.Encoding, "no archive timestamp chain", ErrEmptyRecord)
	}
	for i, chain := range r.Chains {
		if len(chain.Stamps) == 0 {
			return NewFormatError(r.Encoding, fmt.Sprintf("chain %d", i), ErrEmptyRecord)
		}
		if !chain.Algorithm.Valid() {
			return NewFormatError(r.Encoding, fmt.Sprintf("chain %d", i), digest.ErrUnsupportedAlgorithm)
		}
		for j, stamp := range chain.Stamps {
			if len(stamp.Token) == 0 {
				return NewFormatError(r.Encoding, fmt.Sprintf("chain %d archive timestamp %d has no timestamp token", i, j), nil)
			}
		}
	}
	return nil
}

// StampCount returns the number of archive timestamps across all chains.
func (r *Record) StampCount() int {
	n := 0
	for _, chain := range r.Chains {
		n += len(chain.Stamps)
	}
	return n
}

// AllCryptoInfos returns the record level entries followed by the entries
// of every archive timestamp in sequence order.
func (r *Record) AllCryptoInfos() []CryptoInfo {
	out := append([]CryptoInfo(nil), r.CryptoInfos...)
	for _, chain := range r.Chains {
		for _, stamp := range chain.Stamps {
			out = append(out, stamp.CryptoInfos...)
		}
	}
	return out
}

// TimestampHash forwards to the record hasher.
func (r *Record) TimestampHash(chain, stamp int) ([]byte, error) {
	if r.Hasher == nil {
		return nil, ErrNoHasher
	}
	if chain < 0 || chain >= len(r.Chains) || stamp < 0 || stamp >= len(r.Chains[chain].Stamps) {
		return nil, ErrIndexOutOfRange
	}
	return r.Hasher.TimestampHash(chain, stamp, r.Chains[chain].Algorithm)
}

// SequenceHash forwards to the record hasher, hashing with the algorithm of
// chain.
func (r *Record) SequenceHash(chain int) ([]byte, error) {
	if r.Hasher == nil {
		return nil, ErrNoHasher
	}
	if chain <= 0 || chain >= len(r.Chains) {
		return nil, ErrIndexOutOfRange
	}
	return r.Hasher.SequenceHash(chain, r.Chains[chain].Algorithm)
}

// SequenceHashWith hashes the chains preceding chain with alg. Builders use
// it when a new chain with a new algorithm is about to be appended.
func (r *Record) SequenceHashWith(chain int, alg digest.Algorithm) ([]byte, error) {
	if r.Hasher == nil {
		return nil, ErrNoHasher
	}
	if chain <= 0 || chain > len(r.Chains) {
		return nil, ErrIndexOutOfRange
	}
	return r.Hasher.SequenceHash(chain, alg)
}

// CombinedChainLeaves reports the chain renewal leaf convention of the
// record encoding.
func (r *Record) CombinedChainLeaves() bool {
	return r.Hasher != nil && r.Hasher.CombinedChainLeaves()
}

// ChainLeaf returns the leaf a chain renewal holds for a data object digest
// under the combined convention: H(h(d) || hs).
func ChainLeaf(alg digest.Algorithm, objectDigest, sequenceHash []byte) []byte {
	buf := make([]byte, 0, len(objectDigest)+len(sequenceHash))
	buf = append(buf, objectDigest...)
	buf = append(buf, sequenceHash...)
	return alg.Sum(buf)
}
