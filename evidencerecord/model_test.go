package evidencerecord

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/georgepadayatti/goers/digest"
	"github.com/georgepadayatti/goers/evidencerecord/archive"
)

func TestDigestMatcherCheck(t *testing.T) {
	d := digest.Digest{Algorithm: digest.SHA256, Value: sha256Of("x")}
	tests := []struct {
		name    string
		matcher DigestMatcher
		wantErr bool
	}{
		{"intact", intactMatcher(ArchiveObject, d, "a"), false},
		{"broken", brokenMatcher(ArchiveObject, d, "a"), false},
		{"orphan", orphanMatcher(d), false},
		{"intact not found", DigestMatcher{Type: ArchiveObject, DataIntact: true}, true},
		{"found orphan", DigestMatcher{Type: OrphanReference, DataFound: true}, true},
		{"unknown type", DigestMatcher{Type: "OTHER"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.matcher.Check()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	ts := func(types ...MatcherType) *ArchiveTimestamp {
		out := &ArchiveTimestamp{}
		for _, typ := range types {
			out.DigestMatchers = append(out.DigestMatchers, DigestMatcher{Type: typ})
		}
		return out
	}

	renewal, err := Classify(ts(ArchiveObject, OrphanReference, MasterSignature))
	require.NoError(t, err)
	assert.Equal(t, Initial, renewal)

	renewal, err = Classify(ts(ArchiveTimeStamp))
	require.NoError(t, err)
	assert.Equal(t, HashTreeRenewal, renewal)

	renewal, err = Classify(ts(ArchiveObject, ArchiveTimeStampSequence))
	require.NoError(t, err)
	assert.Equal(t, ChainRenewal, renewal)

	_, err = Classify(ts(ArchiveTimeStamp, ArchiveTimeStampSequence))
	assert.ErrorIs(t, err, ErrAmbiguousRenewal)

	_, err = Classify(ts("SOMETHING_ELSE"))
	assert.ErrorIs(t, err, ErrUnknownMatcher)
}

func TestHashTreeRoot(t *testing.T) {
	a, b, c := sha256Of("a"), sha256Of("b"), sha256Of("c")

	assert.Nil(t, HashTreeRoot(digest.SHA256, nil))
	assert.Equal(t, a, HashTreeRoot(digest.SHA256, [][][]byte{{a}}))

	lo, hi := a, b
	if bytes.Compare(lo, hi) > 0 {
		lo, hi = hi, lo
	}
	pair := digest.SHA256.Sum(append(append([]byte(nil), lo...), hi...))
	assert.Equal(t, pair, HashTreeRoot(digest.SHA256, [][][]byte{{a, b}}))
	assert.Equal(t, pair, HashTreeRoot(digest.SHA256, [][][]byte{{b, a}}))

	// The second group is combined with the first result.
	assert.Equal(t, HashTreeRoot(digest.SHA256, [][][]byte{{c, pair}}),
		HashTreeRoot(digest.SHA256, [][][]byte{{a, b}, {c}}))
}

func TestDocumentNameIsNormalized(t *testing.T) {
	doc := NewDocument("cafe\u0301.txt", []byte("x"))
	assert.Equal(t, "caf\u00e9.txt", doc.Name())
}

func TestDocumentDigestIsCached(t *testing.T) {
	var opened int32
	doc := NewReaderDocument("a.txt", func() (io.ReadCloser, error) {
		atomic.AddInt32(&opened, 1)
		return io.NopCloser(bytes.NewReader([]byte("alpha"))), nil
	})

	for i := 0; i < 3; i++ {
		d, err := doc.Digest(digest.SHA256)
		require.NoError(t, err)
		assert.Equal(t, sha256Of("alpha"), d.Value)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&opened))

	d, err := doc.Digest("")
	require.NoError(t, err)
	assert.Equal(t, digest.SHA256, d.Algorithm)

	_, err = doc.Digest(digest.SHA512)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&opened))
}

func TestFileDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, os.WriteFile(path, []byte("alpha"), 0o600))

	doc := NewFileDocument(path)
	assert.Equal(t, "data.bin", doc.Name())
	content, err := doc.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("alpha"), content)

	missing := NewFileDocument(filepath.Join(t.TempDir(), "missing"))
	_, err = missing.Digest(digest.SHA256)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestIdentifiers(t *testing.T) {
	id := DocumentID("a.txt")
	assert.Len(t, id, 2+64)
	assert.Equal(t, "D-", id[:2])
	assert.Equal(t, id, DocumentID("a.txt"))
	assert.NotEqual(t, TimestampID([]byte("a.txt")), id)
	assert.Regexp(t, "^E-[0-9A-F]{64}$", RecordID([]byte("record")))
}

func TestDetectEncoding(t *testing.T) {
	enc, err := DetectEncoding([]byte("\xEF\xBB\xBF \n<EvidenceRecord/>"))
	require.NoError(t, err)
	assert.Equal(t, archive.XML, enc)

	enc, err = DetectEncoding([]byte{0x30, 0x03, 0x02, 0x01, 0x01})
	require.NoError(t, err)
	assert.Equal(t, archive.ASN1, enc)

	_, err = DetectEncoding([]byte("  \n"))
	assert.ErrorIs(t, err, ErrNoRecord)

	_, err = DetectEncoding([]byte("{}"))
	assert.ErrorIs(t, err, ErrUnknownEncoding)
}

func TestParseBothEncodings(t *testing.T) {
	f := newFixture(t)
	record := asn1Record(chainOf(digest.SHA256, f.stamp(digest.SHA256, [][][]byte{{sha256Of("a")}})))

	for _, enc := range []archive.Encoding{archive.ASN1, archive.XML} {
		record.Encoding = enc
		data, err := Encode(record)
		require.NoError(t, err)
		parsed, err := Parse(data)
		require.NoError(t, err, enc)
		assert.Equal(t, enc, parsed.Encoding)
		assert.Equal(t, record.Chains[0].Stamps[0].Token, parsed.Chains[0].Stamps[0].Token)
	}
}

func TestCoverageSet(t *testing.T) {
	set := NewCoverageSet([]TimestampedObject{
		{Category: CategoryCertificate, ID: "C-1"},
		{Category: CategoryRevocation, ID: "R-1"},
		{Category: CategorySignature, ID: "S-1"},
		{Category: CategorySignedData, ID: "D-1"},
		{Category: CategoryTimestamp, ID: "T-1"},
		{Category: CategoryEvidenceRecord, ID: "E-1"},
	})
	assert.Equal(t, 6, set.Len())
	assert.Equal(t, []string{"T-1"}, set.Timestamps)
}
