// Package xmlers decodes and encodes RFC 6283 XML evidence records.
//
// Renewal digests are computed on the canonical form of the document
// elements: a timestamp renewal covers the TimeStamp element of the previous
// ArchiveTimeStamp, a hash-tree renewal covers the ArchiveTimeStampSequence
// restricted to the preceding chains. Both use the digest and
// canonicalization methods of the chain being validated.
package xmlers

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/beevik/etree"

	"github.com/georgepadayatti/goers/digest"
	"github.com/georgepadayatti/goers/evidencerecord/archive"
	"github.com/georgepadayatti/goers/sign/xades"
)

// Namespace is the RFC 6283 namespace.
const Namespace = "urn:ietf:params:xml:ns:ers"

// TokenTypeRFC3161 is the only supported TimeStampToken type.
const TokenTypeRFC3161 = "RFC3161"

// Element names.
const (
	elEvidenceRecord         = "EvidenceRecord"
	elSequence               = "ArchiveTimeStampSequence"
	elChain                  = "ArchiveTimeStampChain"
	elDigestMethod           = "DigestMethod"
	elCanonicalizationMethod = "CanonicalizationMethod"
	elArchiveTimeStamp       = "ArchiveTimeStamp"
	elHashTree               = "HashTree"
	elHashSequence           = "Sequence"
	elDigestValue            = "DigestValue"
	elTimeStamp              = "TimeStamp"
	elTimeStampToken         = "TimeStampToken"
	elCryptoInfoList         = "CryptographicInformationList"
	elCryptoInfo             = "CryptographicInformation"
)

func formatError(msg string, err error) error {
	return archive.NewFormatError(archive.XML, msg, err)
}

// Parse decodes an XML evidence record document.
func Parse(data []byte) (*archive.Record, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, formatError("not well-formed XML", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, formatError("no root element", nil)
	}
	record, err := ParseElement(root)
	if err != nil {
		return nil, err
	}
	record.Raw = data
	return record, nil
}

// ParseElement decodes an EvidenceRecord element in place. Renewal hashes
// are computed against the document holding el, so an evidence record
// embedded in a signature keeps the namespace context of that signature.
func ParseElement(root *etree.Element) (*archive.Record, error) {
	if !isERS(root, elEvidenceRecord) {
		return nil, formatError(fmt.Sprintf("unexpected root element %q", root.FullTag()), nil)
	}
	record := &archive.Record{Encoding: archive.XML, Version: 1}
	if v := root.SelectAttrValue("Version", "1.0"); v != "1.0" && v != "1" {
		return nil, formatError(fmt.Sprintf("unsupported version %s", v), nil)
	}

	sequences := children(root, elSequence)
	if len(sequences) != 1 {
		return nil, formatError("expected one ArchiveTimeStampSequence", nil)
	}
	h := &hasher{sequence: sequences[0]}

	for _, chainEl := range ordered(children(sequences[0], elChain)) {
		chain, stamps, err := parseChain(chainEl)
		if err != nil {
			return nil, err
		}
		record.Chains = append(record.Chains, chain)
		h.chains = append(h.chains, chainEl)
		h.timeStamps = append(h.timeStamps, stamps)
		h.canon = append(h.canon, chain.Canonicalization)
		if !containsAlgorithm(record.DigestAlgorithms, chain.Algorithm) {
			record.DigestAlgorithms = append(record.DigestAlgorithms, chain.Algorithm)
		}
	}
	record.Hasher = h

	doc := etree.NewDocument()
	doc.SetRoot(xades.Detach(root))
	if raw, err := doc.WriteToBytes(); err == nil {
		record.Raw = raw
	}
	if err := record.Check(); err != nil {
		return nil, err
	}
	return record, nil
}

func parseChain(el *etree.Element) (*archive.Chain, []*etree.Element, error) {
	chain := &archive.Chain{}

	methods := children(el, elDigestMethod)
	if len(methods) != 1 {
		return nil, nil, formatError("ArchiveTimeStampChain requires one DigestMethod", nil)
	}
	alg, err := digest.FromURI(methods[0].SelectAttrValue("Algorithm", ""))
	if err != nil {
		return nil, nil, formatError("DigestMethod", err)
	}
	chain.Algorithm = alg

	chain.Canonicalization = xades.DefaultCanonicalization
	if canon := children(el, elCanonicalizationMethod); len(canon) > 0 {
		chain.Canonicalization = canon[0].SelectAttrValue("Algorithm", xades.DefaultCanonicalization)
	}
	if _, err := xades.Canonicalizer(chain.Canonicalization); err != nil {
		return nil, nil, formatError("CanonicalizationMethod", err)
	}

	var timeStamps []*etree.Element
	for _, stampEl := range ordered(children(el, elArchiveTimeStamp)) {
		stamp, tsEl, err := parseStamp(stampEl)
		if err != nil {
			return nil, nil, err
		}
		chain.Stamps = append(chain.Stamps, stamp)
		timeStamps = append(timeStamps, tsEl)
	}
	return chain, timeStamps, nil
}

func parseStamp(el *etree.Element) (*archive.Stamp, *etree.Element, error) {
	stamp := &archive.Stamp{}

	if trees := children(el, elHashTree); len(trees) > 0 {
		stamp.Groups = [][][]byte{}
		for _, seq := range ordered(children(trees[0], elHashSequence)) {
			var group [][]byte
			for _, dv := range children(seq, elDigestValue) {
				value, err := decodeBase64(dv.Text())
				if err != nil {
					return nil, nil, formatError("DigestValue", err)
				}
				group = append(group, value)
			}
			stamp.Groups = append(stamp.Groups, group)
		}
	}

	tss := children(el, elTimeStamp)
	if len(tss) != 1 {
		return nil, nil, formatError("ArchiveTimeStamp requires one TimeStamp", nil)
	}
	tokens := children(tss[0], elTimeStampToken)
	if len(tokens) != 1 {
		return nil, nil, formatError("TimeStamp requires one TimeStampToken", nil)
	}
	if typ := tokens[0].SelectAttrValue("Type", TokenTypeRFC3161); typ != TokenTypeRFC3161 {
		return nil, nil, formatError(fmt.Sprintf("unsupported TimeStampToken type %s", typ), nil)
	}
	token, err := decodeBase64(tokens[0].Text())
	if err != nil {
		return nil, nil, formatError("TimeStampToken", err)
	}
	stamp.Token = token

	if lists := children(tss[0], elCryptoInfoList); len(lists) > 0 {
		for _, info := range ordered(children(lists[0], elCryptoInfo)) {
			value, err := decodeBase64(info.Text())
			if err != nil {
				return nil, nil, formatError("CryptographicInformation", err)
			}
			stamp.CryptoInfos = append(stamp.CryptoInfos, archive.CryptoInfo{
				Type:  cryptoInfoType(info.SelectAttrValue("Type", "")),
				Value: value,
			})
		}
	}
	return stamp, tss[0], nil
}

func cryptoInfoType(value string) archive.CryptoInfoType {
	switch archive.CryptoInfoType(value) {
	case archive.CryptoInfoCertificate, archive.CryptoInfoCRL, archive.CryptoInfoOCSP:
		return archive.CryptoInfoType(value)
	default:
		return archive.CryptoInfoOther
	}
}

func decodeBase64(text string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(strings.Join(strings.Fields(text), ""))
}

func containsAlgorithm(algs []digest.Algorithm, alg digest.Algorithm) bool {
	for _, a := range algs {
		if a == alg {
			return true
		}
	}
	return false
}

func isERS(el *etree.Element, tag string) bool {
	return el.Tag == tag && el.NamespaceURI() == Namespace
}

func children(el *etree.Element, tag string) []*etree.Element {
	var out []*etree.Element
	for _, c := range el.ChildElements() {
		if isERS(c, tag) {
			out = append(out, c)
		}
	}
	return out
}

// ordered sorts elements by their Order attribute. Elements without a
// valid Order keep their document position relative to each other.
func ordered(els []*etree.Element) []*etree.Element {
	type keyed struct {
		el    *etree.Element
		order int
	}
	keys := make([]keyed, len(els))
	for i, el := range els {
		keys[i] = keyed{el: el, order: orderOf(el, i)}
	}
	sort.SliceStable(keys, func(i, j int) bool {
		return keys[i].order < keys[j].order
	})
	out := make([]*etree.Element, len(keys))
	for i, k := range keys {
		out[i] = k.el
	}
	return out
}

func orderOf(el *etree.Element, fallback int) int {
	n, err := strconv.Atoi(el.SelectAttrValue("Order", ""))
	if err != nil {
		return fallback + 1
	}
	return n
}

// Encode serializes record. Chains without a canonicalization method use
// C14N 1.0.
func Encode(record *archive.Record) ([]byte, error) {
	doc, err := EncodeDocument(record)
	if err != nil {
		return nil, err
	}
	return doc.WriteToBytes()
}

// EncodeDocument builds the XML document of record.
func EncodeDocument(record *archive.Record) (*etree.Document, error) {
	if len(record.Chains) == 0 {
		return nil, formatError("no archive timestamp chain", archive.ErrEmptyRecord)
	}
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement(elEvidenceRecord)
	root.CreateAttr("xmlns", Namespace)
	root.CreateAttr("Version", "1.0")

	seq := root.CreateElement(elSequence)
	for i, chain := range record.Chains {
		if !chain.Algorithm.Valid() {
			return nil, formatError(fmt.Sprintf("chain %d", i), digest.ErrUnsupportedAlgorithm)
		}
		canon := chain.Canonicalization
		if canon == "" {
			canon = xades.DefaultCanonicalization
		}
		chainEl := seq.CreateElement(elChain)
		chainEl.CreateAttr("Order", strconv.Itoa(i+1))
		chainEl.CreateElement(elDigestMethod).CreateAttr("Algorithm", chain.Algorithm.URI())
		chainEl.CreateElement(elCanonicalizationMethod).CreateAttr("Algorithm", canon)

		for j, stamp := range chain.Stamps {
			stampEl := chainEl.CreateElement(elArchiveTimeStamp)
			stampEl.CreateAttr("Order", strconv.Itoa(j+1))
			if stamp.Groups != nil {
				tree := stampEl.CreateElement(elHashTree)
				for k, group := range stamp.Groups {
					groupEl := tree.CreateElement(elHashSequence)
					groupEl.CreateAttr("Order", strconv.Itoa(k+1))
					for _, value := range group {
						groupEl.CreateElement(elDigestValue).SetText(base64.StdEncoding.EncodeToString(value))
					}
				}
			}
			ts := stampEl.CreateElement(elTimeStamp)
			token := ts.CreateElement(elTimeStampToken)
			token.CreateAttr("Type", TokenTypeRFC3161)
			token.SetText(base64.StdEncoding.EncodeToString(stamp.Token))
			if len(stamp.CryptoInfos) > 0 {
				list := ts.CreateElement(elCryptoInfoList)
				for n, info := range stamp.CryptoInfos {
					infoEl := list.CreateElement(elCryptoInfo)
					infoEl.CreateAttr("Order", strconv.Itoa(n+1))
					infoEl.CreateAttr("Type", string(info.Type))
					infoEl.SetText(base64.StdEncoding.EncodeToString(info.Value))
				}
			}
		}
	}
	return doc, nil
}

// hasher computes renewal digests on the parsed document.
type hasher struct {
	sequence   *etree.Element
	chains     []*etree.Element
	timeStamps [][]*etree.Element
	canon      []string
}

func (h *hasher) TimestampHash(chain, stamp int, alg digest.Algorithm) ([]byte, error) {
	if !alg.Valid() {
		return nil, digest.ErrUnsupportedAlgorithm
	}
	canonical, err := xades.Canonicalize(h.timeStamps[chain][stamp], h.canon[chain])
	if err != nil {
		return nil, err
	}
	return alg.Sum(canonical), nil
}

func (h *hasher) SequenceHash(chain int, alg digest.Algorithm) ([]byte, error) {
	if !alg.Valid() {
		return nil, digest.ErrUnsupportedAlgorithm
	}
	method := xades.DefaultCanonicalization
	if chain < len(h.canon) {
		method = h.canon[chain]
	}
	canon, err := xades.Canonicalizer(method)
	if err != nil {
		return nil, err
	}

	keep := map[*etree.Element]bool{}
	for _, el := range h.chains[:chain] {
		keep[el] = true
	}
	restricted := xades.Detach(h.sequence)
	restricted.Child = dropChains(h.sequence.Child, restricted.Child, func(el *etree.Element) bool {
		return isERS(el, elChain) && !keep[el]
	})
	canonical, err := canon.Canonicalize(restricted)
	if err != nil {
		return nil, err
	}
	return alg.Sum(canonical), nil
}

// dropChains removes the copies of the original elements matched by drop,
// together with the whitespace immediately preceding each of them, so that
// the remaining sequence reads as it did before the removed chains were
// appended. original and copied hold the same tokens in the same order.
func dropChains(original, copied []etree.Token, drop func(*etree.Element) bool) []etree.Token {
	out := make([]etree.Token, 0, len(copied))
	for i, tok := range copied {
		el, ok := original[i].(*etree.Element)
		if !ok || !drop(el) {
			out = append(out, tok)
			continue
		}
		if n := len(out); n > 0 {
			if cd, ok := out[n-1].(*etree.CharData); ok && strings.TrimSpace(cd.Data) == "" {
				out = out[:n-1]
			}
		}
	}
	return out
}

func (h *hasher) CombinedChainLeaves() bool {
	return false
}
