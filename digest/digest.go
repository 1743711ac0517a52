// Package digest provides the digest algorithms used by evidence records.
package digest

import (
	"bytes"
	"crypto"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/asn1"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Algorithm names a digest algorithm.
type Algorithm string

// Supported digest algorithms.
const (
	SHA1     Algorithm = "SHA1"
	SHA224   Algorithm = "SHA224"
	SHA256   Algorithm = "SHA256"
	SHA384   Algorithm = "SHA384"
	SHA512   Algorithm = "SHA512"
	SHA3_256 Algorithm = "SHA3-256"
	SHA3_384 Algorithm = "SHA3-384"
	SHA3_512 Algorithm = "SHA3-512"
)

// Default is used when no algorithm is configured.
const Default = SHA256

// OIDs for digest algorithms
var (
	OIDSHA1     = asn1.ObjectIdentifier{1, 3, 14, 3, 2, 26}
	OIDSHA224   = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 4}
	OIDSHA256   = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	OIDSHA384   = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2}
	OIDSHA512   = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 3}
	OIDSHA3_256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 8}
	OIDSHA3_384 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 9}
	OIDSHA3_512 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 10}
)

// Common errors
var (
	ErrUnsupportedAlgorithm = errors.New("unsupported digest algorithm")
)

type algorithmInfo struct {
	oid    asn1.ObjectIdentifier
	uri    string
	size   int
	new    func() hash.Hash
	crypto crypto.Hash
}

var algorithms = map[Algorithm]algorithmInfo{
	SHA1:     {OIDSHA1, "http://www.w3.org/2000/09/xmldsig#sha1", sha1.Size, sha1.New, crypto.SHA1},
	SHA224:   {OIDSHA224, "http://www.w3.org/2001/04/xmldsig-more#sha224", sha256.Size224, sha256.New224, crypto.SHA224},
	SHA256:   {OIDSHA256, "http://www.w3.org/2001/04/xmlenc#sha256", sha256.Size, sha256.New, crypto.SHA256},
	SHA384:   {OIDSHA384, "http://www.w3.org/2001/04/xmldsig-more#sha384", sha512.Size384, sha512.New384, crypto.SHA384},
	SHA512:   {OIDSHA512, "http://www.w3.org/2001/04/xmlenc#sha512", sha512.Size, sha512.New, crypto.SHA512},
	SHA3_256: {OIDSHA3_256, "http://www.w3.org/2007/05/xmldsig-more#sha3-256", 32, sha3.New256, crypto.SHA3_256},
	SHA3_384: {OIDSHA3_384, "http://www.w3.org/2007/05/xmldsig-more#sha3-384", 48, sha3.New384, crypto.SHA3_384},
	SHA3_512: {OIDSHA3_512, "http://www.w3.org/2007/05/xmldsig-more#sha3-512", 64, sha3.New512, crypto.SHA3_512},
}

// Algorithms returns every supported algorithm in a stable order.
func Algorithms() []Algorithm {
	return []Algorithm{SHA1, SHA224, SHA256, SHA384, SHA512, SHA3_256, SHA3_384, SHA3_512}
}

// Parse resolves an algorithm name. Dashes, underscores and case are ignored
// for the SHA-2 family, so "sha-256" and "SHA256" are equivalent.
func Parse(name string) (Algorithm, error) {
	n := strings.ToUpper(strings.TrimSpace(name))
	if n == "" {
		return Default, nil
	}
	n = strings.NewReplacer("-", "", "_", "").Replace(n)
	if len(n) == 7 && strings.HasPrefix(n, "SHA3") {
		n = "SHA3-" + n[4:]
	}
	a := Algorithm(n)
	if _, ok := algorithms[a]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, name)
	}
	return a, nil
}

// FromOID resolves an algorithm from its ASN.1 object identifier.
func FromOID(oid asn1.ObjectIdentifier) (Algorithm, error) {
	for _, a := range Algorithms() {
		if algorithms[a].oid.Equal(oid) {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w: %v", ErrUnsupportedAlgorithm, oid)
}

// FromURI resolves an algorithm from its XML Signature identifier.
func FromURI(uri string) (Algorithm, error) {
	for _, a := range Algorithms() {
		if algorithms[a].uri == uri {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, uri)
}

// Valid reports whether the algorithm is supported.
func (a Algorithm) Valid() bool {
	_, ok := algorithms[a]
	return ok
}

// OrDefault returns the algorithm, or Default for the zero value.
func (a Algorithm) OrDefault() Algorithm {
	if a == "" {
		return Default
	}
	return a
}

// OID returns the ASN.1 object identifier of the algorithm.
func (a Algorithm) OID() asn1.ObjectIdentifier {
	return algorithms[a].oid
}

// URI returns the XML Signature identifier of the algorithm.
func (a Algorithm) URI() string {
	return algorithms[a].uri
}

// Size returns the digest length in bytes.
func (a Algorithm) Size() int {
	return algorithms[a].size
}

// CryptoHash returns the crypto.Hash identifier used by signature APIs.
func (a Algorithm) CryptoHash() crypto.Hash {
	return algorithms[a].crypto
}

// New returns a new hash for the algorithm.
func (a Algorithm) New() (hash.Hash, error) {
	info, ok := algorithms[a]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, string(a))
	}
	return info.new(), nil
}

// Sum hashes data in one call. It panics on an unsupported algorithm, callers
// are expected to validate the algorithm first.
func (a Algorithm) Sum(data []byte) []byte {
	h, err := a.New()
	if err != nil {
		panic(err)
	}
	h.Write(data)
	return h.Sum(nil)
}

// String returns the algorithm name.
func (a Algorithm) String() string {
	return string(a)
}

// Digest is a digest value with its algorithm.
type Digest struct {
	Algorithm Algorithm `json:"algorithm"`
	Value     []byte    `json:"value"`
}

// Compute hashes data with the given algorithm.
func Compute(alg Algorithm, data []byte) (Digest, error) {
	h, err := alg.New()
	if err != nil {
		return Digest{}, err
	}
	h.Write(data)
	return Digest{Algorithm: alg, Value: h.Sum(nil)}, nil
}

// ComputeReader hashes everything readable from r without buffering it.
func ComputeReader(alg Algorithm, r io.Reader) (Digest, error) {
	h, err := alg.New()
	if err != nil {
		return Digest{}, err
	}
	if _, err := io.Copy(h, r); err != nil {
		return Digest{}, fmt.Errorf("failed to read content: %w", err)
	}
	return Digest{Algorithm: alg, Value: h.Sum(nil)}, nil
}

// IsZero reports whether the digest carries no value.
func (d Digest) IsZero() bool {
	return len(d.Value) == 0
}

// Equal reports whether both digests use the same algorithm and value.
func (d Digest) Equal(other Digest) bool {
	return d.Algorithm == other.Algorithm && bytes.Equal(d.Value, other.Value)
}

// Hex returns the upper case hex encoding of the value.
func (d Digest) Hex() string {
	return strings.ToUpper(hex.EncodeToString(d.Value))
}

// Base64 returns the standard base64 encoding of the value.
func (d Digest) Base64() string {
	return base64.StdEncoding.EncodeToString(d.Value)
}

// String formats the digest for logs.
func (d Digest) String() string {
	return fmt.Sprintf("%s:%s", d.Algorithm, d.Hex())
}
