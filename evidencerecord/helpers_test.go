package evidencerecord

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/georgepadayatti/goers/certvalidator"
	"github.com/georgepadayatti/goers/digest"
	"github.com/georgepadayatti/goers/evidencerecord/archive"
	"github.com/georgepadayatti/goers/evidencerecord/ers"
	"github.com/georgepadayatti/goers/sign/timestamps"
)

type fixture struct {
	t       *testing.T
	stamper *timestamps.DummyTimeStamper
	trust   *certvalidator.TrustStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	stamper, err := timestamps.CreateTestTimestamper()
	require.NoError(t, err)
	trust := certvalidator.NewTrustStore()
	trust.AddCertificate(stamper.TSACert)
	return &fixture{t: t, stamper: stamper, trust: trust}
}

func (f *fixture) token(imprint digest.Digest) []byte {
	f.t.Helper()
	token, err := f.stamper.Timestamp(context.Background(), imprint)
	require.NoError(f.t, err)
	return token
}

// stamp returns an archive timestamp over the root of groups.
func (f *fixture) stamp(alg digest.Algorithm, groups [][][]byte) *archive.Stamp {
	f.t.Helper()
	root := HashTreeRoot(alg, groups)
	return &archive.Stamp{Groups: groups, Token: f.token(digest.Digest{Algorithm: alg, Value: root})}
}

func (f *fixture) validator() *Validator {
	return NewValidator(WithTrustStore(f.trust))
}

func asn1Record(chains ...*archive.Chain) *archive.Record {
	record := &archive.Record{Encoding: archive.ASN1, Chains: chains}
	record.Hasher = ers.NewHasher(record)
	return record
}

func chainOf(alg digest.Algorithm, stamps ...*archive.Stamp) *archive.Chain {
	return &archive.Chain{Algorithm: alg, Stamps: stamps}
}

func sha256Of(s string) []byte {
	return digest.SHA256.Sum([]byte(s))
}

func requireMatchersConsistent(t *testing.T, er *EvidenceRecord) {
	t.Helper()
	for _, m := range er.DigestMatchers {
		require.NoError(t, m.Check())
	}
	for _, ts := range er.Timestamps {
		require.NoError(t, ts.MessageImprint.Check())
		for _, m := range ts.DigestMatchers {
			require.NoError(t, m.Check())
		}
	}
}
