// Package ers decodes and encodes RFC 4998 evidence records.
//
//	EvidenceRecord ::= SEQUENCE {
//	    version                   INTEGER { v1(1) },
//	    digestAlgorithms          SEQUENCE OF AlgorithmIdentifier,
//	    cryptoInfos               [0] CryptoInfos OPTIONAL,
//	    encryptionInfo            [1] EncryptionInfo OPTIONAL,
//	    archiveTimeStampSequence  ArchiveTimeStampSequence }
//
//	ArchiveTimeStamp ::= SEQUENCE {
//	    digestAlgorithm  [0] AlgorithmIdentifier OPTIONAL,
//	    attributes       [1] Attributes OPTIONAL,
//	    reducedHashtree  [2] SEQUENCE OF PartialHashtree OPTIONAL,
//	    timeStamp        ContentInfo }
//
// The module uses implicit tagging.
package ers

import (
	"encoding/asn1"
	"fmt"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"

	"github.com/georgepadayatti/goers/digest"
	"github.com/georgepadayatti/goers/evidencerecord/archive"
	"github.com/georgepadayatti/goers/sign/timestamps"
)

// Version is the only evidence record version defined by RFC 4998.
const Version = 1

// Attribute types of CryptoInfos entries.
var (
	OIDUserCertificate           = asn1.ObjectIdentifier{2, 5, 4, 36}
	OIDCertificateRevocationList = asn1.ObjectIdentifier{2, 5, 4, 39}
	OIDOCSPResponse              = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 16, 2}
)

var (
	tagCryptoInfos     = cbasn1.Tag(0).Constructed().ContextSpecific()
	tagEncryptionInfo  = cbasn1.Tag(1).Constructed().ContextSpecific()
	tagDigestAlgorithm = cbasn1.Tag(0).Constructed().ContextSpecific()
	tagAttributes      = cbasn1.Tag(1).Constructed().ContextSpecific()
	tagReducedHashtree = cbasn1.Tag(2).Constructed().ContextSpecific()
)

func formatError(msg string, err error) error {
	return archive.NewFormatError(archive.ASN1, msg, err)
}

// Parse decodes a DER encoded evidence record.
func Parse(data []byte) (*archive.Record, error) {
	input := cryptobyte.String(data)
	var body cryptobyte.String
	if !input.ReadASN1(&body, cbasn1.SEQUENCE) {
		return nil, formatError("not a SEQUENCE", nil)
	}
	if !input.Empty() {
		return nil, formatError("trailing data", nil)
	}

	record := &archive.Record{Encoding: archive.ASN1, Raw: data}
	if !body.ReadASN1Integer(&record.Version) {
		return nil, formatError("malformed version", nil)
	}
	if record.Version != Version {
		return nil, formatError(fmt.Sprintf("unsupported version %d", record.Version), nil)
	}

	var algs cryptobyte.String
	if !body.ReadASN1(&algs, cbasn1.SEQUENCE) {
		return nil, formatError("malformed digestAlgorithms", nil)
	}
	for !algs.Empty() {
		var algID cryptobyte.String
		var oid asn1.ObjectIdentifier
		if !algs.ReadASN1(&algID, cbasn1.SEQUENCE) || !algID.ReadASN1ObjectIdentifier(&oid) {
			return nil, formatError("malformed digest algorithm", nil)
		}
		alg, err := digest.FromOID(oid)
		if err != nil {
			return nil, formatError("digestAlgorithms", err)
		}
		record.DigestAlgorithms = append(record.DigestAlgorithms, alg)
	}

	if body.PeekASN1Tag(tagCryptoInfos) {
		var infos cryptobyte.String
		if !body.ReadASN1(&infos, tagCryptoInfos) {
			return nil, formatError("malformed cryptoInfos", nil)
		}
		parsed, err := parseCryptoInfos(infos)
		if err != nil {
			return nil, err
		}
		record.CryptoInfos = parsed
	}
	if body.PeekASN1Tag(tagEncryptionInfo) {
		var enc cryptobyte.String
		if !body.ReadASN1Element(&enc, tagEncryptionInfo) {
			return nil, formatError("malformed encryptionInfo", nil)
		}
		record.EncryptionInfo = enc
	}

	var sequence cryptobyte.String
	if !body.ReadASN1(&sequence, cbasn1.SEQUENCE) {
		return nil, formatError("malformed archiveTimeStampSequence", nil)
	}
	if !body.Empty() {
		return nil, formatError("trailing data after archiveTimeStampSequence", nil)
	}
	for !sequence.Empty() {
		var chainRaw cryptobyte.String
		if !sequence.ReadASN1Element(&chainRaw, cbasn1.SEQUENCE) {
			return nil, formatError("malformed archiveTimeStampChain", nil)
		}
		chain, err := parseChain(chainRaw)
		if err != nil {
			return nil, err
		}
		if chain.Algorithm == "" && len(record.DigestAlgorithms) > 0 {
			chain.Algorithm = record.DigestAlgorithms[0]
		}
		record.Chains = append(record.Chains, chain)
	}

	record.Hasher = &hasher{record: record}
	if err := record.Check(); err != nil {
		return nil, err
	}
	return record, nil
}

func parseCryptoInfos(infos cryptobyte.String) ([]archive.CryptoInfo, error) {
	var out []archive.CryptoInfo
	for !infos.Empty() {
		var attr, values cryptobyte.String
		var oid asn1.ObjectIdentifier
		if !infos.ReadASN1(&attr, cbasn1.SEQUENCE) ||
			!attr.ReadASN1ObjectIdentifier(&oid) ||
			!attr.ReadASN1(&values, cbasn1.SET) {
			return nil, formatError("malformed cryptoInfos attribute", nil)
		}
		typ := cryptoInfoType(oid)
		for !values.Empty() {
			var value cryptobyte.String
			var tag cbasn1.Tag
			if !values.ReadAnyASN1Element(&value, &tag) {
				return nil, formatError("malformed cryptoInfos value", nil)
			}
			out = append(out, archive.CryptoInfo{Type: typ, Value: append([]byte(nil), value...)})
		}
	}
	return out, nil
}

func cryptoInfoType(oid asn1.ObjectIdentifier) archive.CryptoInfoType {
	switch {
	case oid.Equal(OIDUserCertificate):
		return archive.CryptoInfoCertificate
	case oid.Equal(OIDCertificateRevocationList):
		return archive.CryptoInfoCRL
	case oid.Equal(OIDOCSPResponse):
		return archive.CryptoInfoOCSP
	default:
		return archive.CryptoInfoOther
	}
}

func cryptoInfoOID(typ archive.CryptoInfoType) asn1.ObjectIdentifier {
	switch typ {
	case archive.CryptoInfoCertificate:
		return OIDUserCertificate
	case archive.CryptoInfoCRL:
		return OIDCertificateRevocationList
	case archive.CryptoInfoOCSP:
		return OIDOCSPResponse
	default:
		return nil
	}
}

func parseChain(raw cryptobyte.String) (*archive.Chain, error) {
	chain := &archive.Chain{Raw: append([]byte(nil), raw...)}
	s := raw
	var stamps cryptobyte.String
	if !s.ReadASN1(&stamps, cbasn1.SEQUENCE) {
		return nil, formatError("malformed archiveTimeStampChain", nil)
	}
	for !stamps.Empty() {
		var stampRaw cryptobyte.String
		if !stamps.ReadASN1Element(&stampRaw, cbasn1.SEQUENCE) {
			return nil, formatError("malformed archiveTimeStamp", nil)
		}
		stamp, err := parseStamp(stampRaw)
		if err != nil {
			return nil, err
		}
		chain.Stamps = append(chain.Stamps, stamp)
	}
	if len(chain.Stamps) > 0 {
		chain.Algorithm = stampAlgorithm(chain.Stamps[0])
	}
	return chain, nil
}

// stampAlgorithm returns the declared algorithm of the archive timestamp, or
// the message imprint algorithm of its token.
func stampAlgorithm(stamp *archive.Stamp) digest.Algorithm {
	if stamp.Algorithm != "" {
		return stamp.Algorithm
	}
	token, err := timestamps.ParseToken(stamp.Token)
	if err != nil {
		return ""
	}
	alg, err := token.ImprintAlgorithm()
	if err != nil {
		return ""
	}
	return alg
}

func parseStamp(raw cryptobyte.String) (*archive.Stamp, error) {
	stamp := &archive.Stamp{Raw: append([]byte(nil), raw...)}
	s := raw
	var body cryptobyte.String
	if !s.ReadASN1(&body, cbasn1.SEQUENCE) {
		return nil, formatError("malformed archiveTimeStamp", nil)
	}

	if body.PeekASN1Tag(tagDigestAlgorithm) {
		var algID cryptobyte.String
		var oid asn1.ObjectIdentifier
		if !body.ReadASN1(&algID, tagDigestAlgorithm) || !algID.ReadASN1ObjectIdentifier(&oid) {
			return nil, formatError("malformed archiveTimeStamp digestAlgorithm", nil)
		}
		alg, err := digest.FromOID(oid)
		if err != nil {
			return nil, formatError("archiveTimeStamp digestAlgorithm", err)
		}
		stamp.Algorithm = alg
	}
	if body.PeekASN1Tag(tagAttributes) {
		var attrs cryptobyte.String
		if !body.ReadASN1Element(&attrs, tagAttributes) {
			return nil, formatError("malformed archiveTimeStamp attributes", nil)
		}
		stamp.Attributes = append([]byte(nil), attrs...)
	}
	if body.PeekASN1Tag(tagReducedHashtree) {
		var tree cryptobyte.String
		if !body.ReadASN1(&tree, tagReducedHashtree) {
			return nil, formatError("malformed reducedHashtree", nil)
		}
		stamp.Groups = [][][]byte{}
		for !tree.Empty() {
			var partial cryptobyte.String
			if !tree.ReadASN1(&partial, cbasn1.SEQUENCE) {
				return nil, formatError("malformed partialHashtree", nil)
			}
			var group [][]byte
			for !partial.Empty() {
				var value cryptobyte.String
				if !partial.ReadASN1(&value, cbasn1.OCTET_STRING) {
					return nil, formatError("malformed partialHashtree value", nil)
				}
				group = append(group, append([]byte(nil), value...))
			}
			stamp.Groups = append(stamp.Groups, group)
		}
	}

	var token cryptobyte.String
	if !body.ReadASN1Element(&token, cbasn1.SEQUENCE) {
		return nil, formatError("malformed timeStamp", nil)
	}
	stamp.Token = append([]byte(nil), token...)
	if !body.Empty() {
		return nil, formatError("trailing data in archiveTimeStamp", nil)
	}
	return stamp, nil
}

// Encode returns the DER encoding of record. Archive timestamps that carry
// their original encoding are written verbatim. CryptoInfos entries of type
// OTHER have no attribute type and are not written.
func Encode(record *archive.Record) ([]byte, error) {
	if len(record.Chains) == 0 {
		return nil, formatError("no archive timestamp chain", archive.ErrEmptyRecord)
	}
	algs := record.DigestAlgorithms
	if len(algs) == 0 {
		algs = chainAlgorithms(record)
	}
	for _, alg := range algs {
		if !alg.Valid() {
			return nil, formatError("digestAlgorithms", digest.ErrUnsupportedAlgorithm)
		}
	}
	version := record.Version
	if version == 0 {
		version = Version
	}

	b := cryptobyte.NewBuilder(nil)
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1Int64(int64(version))
		b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
			for _, alg := range algs {
				addAlgorithmIdentifier(b, cbasn1.SEQUENCE, alg)
			}
		})
		if infos := encodableCryptoInfos(record.CryptoInfos); len(infos) > 0 {
			b.AddASN1(tagCryptoInfos, func(b *cryptobyte.Builder) {
				addCryptoInfos(b, infos)
			})
		}
		if len(record.EncryptionInfo) > 0 {
			b.AddBytes(record.EncryptionInfo)
		}
		b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
			for _, chain := range record.Chains {
				addChain(b, chain)
			}
		})
	})
	return b.Bytes()
}

func chainAlgorithms(record *archive.Record) []digest.Algorithm {
	var algs []digest.Algorithm
	seen := map[digest.Algorithm]bool{}
	for _, chain := range record.Chains {
		if chain.Algorithm != "" && !seen[chain.Algorithm] {
			seen[chain.Algorithm] = true
			algs = append(algs, chain.Algorithm)
		}
	}
	return algs
}

func encodableCryptoInfos(infos []archive.CryptoInfo) []archive.CryptoInfo {
	var out []archive.CryptoInfo
	for _, info := range infos {
		if cryptoInfoOID(info.Type) != nil {
			out = append(out, info)
		}
	}
	return out
}

// addCryptoInfos writes one attribute per entry type, in order of first
// appearance.
func addCryptoInfos(b *cryptobyte.Builder, infos []archive.CryptoInfo) {
	var order []archive.CryptoInfoType
	values := map[archive.CryptoInfoType][][]byte{}
	for _, info := range infos {
		if _, ok := values[info.Type]; !ok {
			order = append(order, info.Type)
		}
		values[info.Type] = append(values[info.Type], info.Value)
	}
	for _, typ := range order {
		typ := typ
		b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
			b.AddASN1ObjectIdentifier(cryptoInfoOID(typ))
			b.AddASN1(cbasn1.SET, func(b *cryptobyte.Builder) {
				for _, v := range values[typ] {
					b.AddBytes(v)
				}
			})
		})
	}
}

func addAlgorithmIdentifier(b *cryptobyte.Builder, tag cbasn1.Tag, alg digest.Algorithm) {
	b.AddASN1(tag, func(b *cryptobyte.Builder) {
		b.AddASN1ObjectIdentifier(alg.OID())
	})
}

func addChain(b *cryptobyte.Builder, chain *archive.Chain) {
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		for _, stamp := range chain.Stamps {
			addStamp(b, stamp)
		}
	})
}

func addStamp(b *cryptobyte.Builder, stamp *archive.Stamp) {
	if len(stamp.Raw) > 0 {
		b.AddBytes(stamp.Raw)
		return
	}
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		if stamp.Algorithm != "" {
			addAlgorithmIdentifier(b, tagDigestAlgorithm, stamp.Algorithm)
		}
		if len(stamp.Attributes) > 0 {
			b.AddBytes(stamp.Attributes)
		}
		if stamp.Groups != nil {
			b.AddASN1(tagReducedHashtree, func(b *cryptobyte.Builder) {
				for _, group := range stamp.Groups {
					group := group
					b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
						for _, value := range group {
							b.AddASN1OctetString(value)
						}
					})
				}
			})
		}
		b.AddBytes(stamp.Token)
	})
}

// EncodeChains returns the DER ArchiveTimeStampSequence made of chains.
func EncodeChains(chains []*archive.Chain) ([]byte, error) {
	b := cryptobyte.NewBuilder(nil)
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		for _, chain := range chains {
			addChain(b, chain)
		}
	})
	return b.Bytes()
}

// hasher implements the RFC 4998 renewal digests. The timestamp hash covers
// the DER timeStamp ContentInfo, the sequence hash the DER
// ArchiveTimeStampSequence of the preceding chains.
type hasher struct {
	record *archive.Record
}

// NewHasher returns the renewal hasher for a record built in memory.
func NewHasher(record *archive.Record) archive.RenewalHasher {
	return &hasher{record: record}
}

func (h *hasher) TimestampHash(chain, stamp int, alg digest.Algorithm) ([]byte, error) {
	if !alg.Valid() {
		return nil, digest.ErrUnsupportedAlgorithm
	}
	return alg.Sum(h.record.Chains[chain].Stamps[stamp].Token), nil
}

func (h *hasher) SequenceHash(chain int, alg digest.Algorithm) ([]byte, error) {
	if !alg.Valid() {
		return nil, digest.ErrUnsupportedAlgorithm
	}
	encoded, err := EncodeChains(h.record.Chains[:chain])
	if err != nil {
		return nil, fmt.Errorf("failed to encode archive timestamp sequence: %w", err)
	}
	return alg.Sum(encoded), nil
}

func (h *hasher) CombinedChainLeaves() bool {
	return true
}
