package xmlers

import (
	"encoding/base64"
	"errors"
	"testing"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/georgepadayatti/goers/digest"
	"github.com/georgepadayatti/goers/evidencerecord/archive"
	"github.com/georgepadayatti/goers/sign/xades"
)

func chainOf(alg digest.Algorithm, tokens ...string) *archive.Chain {
	chain := &archive.Chain{Algorithm: alg}
	for i, token := range tokens {
		stamp := &archive.Stamp{Token: []byte(token)}
		if i == 0 {
			stamp.Groups = [][][]byte{{alg.Sum([]byte("a")), alg.Sum([]byte("b"))}, {alg.Sum([]byte("c"))}}
			stamp.CryptoInfos = []archive.CryptoInfo{{Type: archive.CryptoInfoCertificate, Value: []byte("cert")}}
		}
		chain.Stamps = append(chain.Stamps, stamp)
	}
	return chain
}

func TestEncodeParseRoundTrip(t *testing.T) {
	record := &archive.Record{Chains: []*archive.Chain{
		chainOf(digest.SHA256, "token-1", "token-2"),
		chainOf(digest.SHA512, "token-3"),
	}}
	encoded, err := Encode(record)
	require.NoError(t, err)

	parsed, err := Parse(encoded)
	require.NoError(t, err)
	assert.Equal(t, archive.XML, parsed.Encoding)
	assert.Equal(t, []digest.Algorithm{digest.SHA256, digest.SHA512}, parsed.DigestAlgorithms)
	require.Len(t, parsed.Chains, 2)
	assert.Equal(t, xades.C14N10, parsed.Chains[0].Canonicalization)

	first := parsed.Chains[0].Stamps[0]
	assert.Equal(t, record.Chains[0].Stamps[0].Groups, first.Groups)
	assert.Equal(t, []byte("token-1"), first.Token)
	require.Len(t, first.CryptoInfos, 1)
	assert.Equal(t, archive.CryptoInfoCertificate, first.CryptoInfos[0].Type)
	assert.True(t, parsed.Chains[0].Stamps[1].HashTreeOmitted())
	assert.Equal(t, []byte("token-3"), parsed.Chains[1].Stamps[0].Token)
	assert.False(t, parsed.CombinedChainLeaves())
}

func TestOrderAttributeSorting(t *testing.T) {
	token1 := base64.StdEncoding.EncodeToString([]byte("first"))
	token2 := base64.StdEncoding.EncodeToString([]byte("second"))
	doc := `<ers:EvidenceRecord xmlns:ers="urn:ietf:params:xml:ns:ers" Version="1.0">
  <ers:ArchiveTimeStampSequence>
    <ers:ArchiveTimeStampChain Order="1">
      <ers:DigestMethod Algorithm="http://www.w3.org/2001/04/xmlenc#sha256"/>
      <ers:CanonicalizationMethod Algorithm="http://www.w3.org/2001/10/xml-exc-c14n#"/>
      <ers:ArchiveTimeStamp Order="2">
        <ers:TimeStamp><ers:TimeStampToken Type="RFC3161">` + token2 + `</ers:TimeStampToken></ers:TimeStamp>
      </ers:ArchiveTimeStamp>
      <ers:ArchiveTimeStamp Order="1">
        <ers:TimeStamp><ers:TimeStampToken Type="RFC3161">` + token1 + `</ers:TimeStampToken></ers:TimeStamp>
      </ers:ArchiveTimeStamp>
    </ers:ArchiveTimeStampChain>
  </ers:ArchiveTimeStampSequence>
</ers:EvidenceRecord>`

	record, err := Parse([]byte(doc))
	require.NoError(t, err)
	require.Len(t, record.Chains[0].Stamps, 2)
	assert.Equal(t, []byte("first"), record.Chains[0].Stamps[0].Token)
	assert.Equal(t, []byte("second"), record.Chains[0].Stamps[1].Token)
	assert.Equal(t, xades.ExcC14N, record.Chains[0].Canonicalization)
}

func TestTimestampHashCoversTimeStampElement(t *testing.T) {
	record := &archive.Record{Chains: []*archive.Chain{chainOf(digest.SHA256, "token-1", "token-2")}}
	encoded, err := Encode(record)
	require.NoError(t, err)
	parsed, err := Parse(encoded)
	require.NoError(t, err)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(encoded))
	ts := doc.FindElement("//ArchiveTimeStamp[@Order='1']/TimeStamp")
	require.NotNil(t, ts)
	canonical, err := xades.Canonicalize(ts, xades.C14N10)
	require.NoError(t, err)
	assert.Contains(t, string(canonical), `xmlns="urn:ietf:params:xml:ns:ers"`)

	got, err := parsed.TimestampHash(0, 0)
	require.NoError(t, err)
	assert.Equal(t, digest.SHA256.Sum(canonical), got)
}

func TestSequenceHashMatchesRecordBeforeRenewal(t *testing.T) {
	for _, indent := range []bool{false, true} {
		before := &archive.Record{Chains: []*archive.Chain{chainOf(digest.SHA256, "token-1", "token-2")}}
		after := &archive.Record{Chains: []*archive.Chain{
			chainOf(digest.SHA256, "token-1", "token-2"),
			chainOf(digest.SHA512, "token-3"),
		}}

		encode := func(r *archive.Record) []byte {
			doc, err := EncodeDocument(r)
			require.NoError(t, err)
			if indent {
				doc.Indent(2)
			}
			out, err := doc.WriteToBytes()
			require.NoError(t, err)
			return out
		}

		parsedBefore, err := Parse(encode(before))
		require.NoError(t, err)
		expected, err := parsedBefore.SequenceHashWith(1, digest.SHA512)
		require.NoError(t, err)

		parsedAfter, err := Parse(encode(after))
		require.NoError(t, err)
		got, err := parsedAfter.SequenceHash(1)
		require.NoError(t, err)

		assert.Equal(t, expected, got, "indent=%v", indent)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not xml", "<EvidenceRecord"},
		{"wrong root", `<Other xmlns="urn:ietf:params:xml:ns:ers"/>`},
		{"wrong namespace", `<EvidenceRecord xmlns="urn:other"/>`},
		{"no sequence", `<EvidenceRecord xmlns="urn:ietf:params:xml:ns:ers"/>`},
		{"empty sequence", `<EvidenceRecord xmlns="urn:ietf:params:xml:ns:ers"><ArchiveTimeStampSequence/></EvidenceRecord>`},
		{"unknown digest", `<EvidenceRecord xmlns="urn:ietf:params:xml:ns:ers"><ArchiveTimeStampSequence><ArchiveTimeStampChain Order="1"><DigestMethod Algorithm="urn:md5"/></ArchiveTimeStampChain></ArchiveTimeStampSequence></EvidenceRecord>`},
		{"bad version", `<EvidenceRecord xmlns="urn:ietf:params:xml:ns:ers" Version="2.0"/>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			var fe *archive.FormatError
			assert.True(t, errors.As(err, &fe))
		})
	}
}

func TestParseElementInsideSignature(t *testing.T) {
	record := &archive.Record{Chains: []*archive.Chain{chainOf(digest.SHA256, "token-1")}}
	doc, err := EncodeDocument(record)
	require.NoError(t, err)

	host := etree.NewDocument()
	container := host.CreateElement("xadesen:SealingEvidenceRecords")
	container.CreateAttr("xmlns:xadesen", "http://uri.etsi.org/19132/v1.1.1#")
	container.AddChild(doc.Root().Copy())

	parsed, err := ParseElement(container.ChildElements()[0])
	require.NoError(t, err)
	assert.Len(t, parsed.Chains, 1)
	assert.NotEmpty(t, parsed.Raw)
}
