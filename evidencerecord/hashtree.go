package evidencerecord

import (
	"bytes"
	"sort"

	"github.com/georgepadayatti/goers/digest"
)

// HashTreeRoot reduces a hash tree to its root. Each group is extended with
// the result of the previous group; a single value passes through, several
// values are sorted in ascending binary order, concatenated and hashed.
// It returns nil for an empty tree.
func HashTreeRoot(alg digest.Algorithm, groups [][][]byte) []byte {
	var prev []byte
	for _, group := range groups {
		prev = GroupHash(alg, group, prev)
	}
	return prev
}

// GroupHash computes the value of one group given the value of the
// previous group, nil for the first.
func GroupHash(alg digest.Algorithm, group [][]byte, prev []byte) []byte {
	values := make([][]byte, 0, len(group)+1)
	values = append(values, group...)
	if len(prev) > 0 {
		values = append(values, prev)
	}
	switch len(values) {
	case 0:
		return prev
	case 1:
		return values[0]
	}
	sort.SliceStable(values, func(i, j int) bool {
		return bytes.Compare(values[i], values[j]) < 0
	})
	var buf bytes.Buffer
	for _, v := range values {
		buf.Write(v)
	}
	return alg.Sum(buf.Bytes())
}
