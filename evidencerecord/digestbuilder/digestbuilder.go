// Package digestbuilder computes the hash tree leaf an evidence record
// uses for a signature it protects.
//
// A signature that already carries evidence records can be hashed in two
// ways. The sequential convention hashes the signature as it is, embedded
// records included. The parallel convention hashes the signature without its
// embedded records, so independently created records over the same
// signature agree on the digest.
package digestbuilder

import (
	"errors"
	"fmt"

	"github.com/georgepadayatti/goers/digest"
	"github.com/georgepadayatti/goers/evidencerecord"
)

// Common errors
var (
	ErrNilArgument  = errors.New("nil argument")
	ErrFormat       = errors.New("invalid signature format")
	ErrIllegalInput = errors.New("illegal input")
)

func nilSignatureError() error {
	return fmt.Errorf("%w: Signature document cannot be null!", ErrNilArgument)
}

func algorithmOf(alg digest.Algorithm) (digest.Algorithm, error) {
	alg = alg.OrDefault()
	if !alg.Valid() {
		return "", fmt.Errorf("%w: %s", digest.ErrUnsupportedAlgorithm, alg)
	}
	return alg, nil
}

// groupDigest digests every item and reduces them with the hash tree group
// rule.
func groupDigest(alg digest.Algorithm, items [][]byte) digest.Digest {
	leaves := make([][]byte, len(items))
	for i, item := range items {
		leaves[i] = alg.Sum(item)
	}
	return digest.Digest{Algorithm: alg, Value: evidencerecord.GroupHash(alg, leaves, nil)}
}

func documentNames(docs []*evidencerecord.Document) []string {
	names := make([]string, 0, len(docs))
	for _, doc := range docs {
		names = append(names, doc.Name())
	}
	return names
}
