package digestbuilder

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/beevik/etree"
	"go.uber.org/zap"

	"github.com/georgepadayatti/goers/digest"
	"github.com/georgepadayatti/goers/evidencerecord"
	"github.com/georgepadayatti/goers/evidencerecord/archive"
	"github.com/georgepadayatti/goers/evidencerecord/xmlers"
	"github.com/georgepadayatti/goers/sign/cms"
	"github.com/georgepadayatti/goers/sign/xades"
)

// EmbeddedRecords returns a validator input for every evidence record
// embedded in a CAdES or XAdES signature, in encoding order. The master
// signature object of record i offers two candidate leaves: the signature
// without records i onwards and the signature without any record.
func EmbeddedRecords(signature []byte, detached ...*evidencerecord.Document) ([]evidencerecord.Input, error) {
	if signature == nil {
		return nil, nilSignatureError()
	}
	enc, err := evidencerecord.DetectEncoding(signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if enc == archive.XML {
		return xadesRecords(signature, detached)
	}
	return cadesRecords(signature, detached)
}

func cadesRecords(signature []byte, detached []*evidencerecord.Document) ([]evidencerecord.Input, error) {
	sd, err := cms.ParseSignedData(signature)
	if err != nil {
		return nil, fmt.Errorf("%w: Not a valid CAdES file: %v", ErrFormat, err)
	}

	var inputs []evidencerecord.Input
	for s, si := range sd.Signers {
		records := si.EvidenceRecords()
		if len(records) == 0 {
			continue
		}
		base, err := cadesObject(sd, s, detached)
		if err != nil {
			return nil, err
		}

		for j, raw := range records {
			signer, from := s, j
			obj := *base
			obj.DigestFunc = func(alg digest.Algorithm) ([]digest.Digest, error) {
				sequential, err := strippedDigest(sd, alg, signer, from)
				if err != nil {
					return nil, err
				}
				parallel, err := strippedDigest(sd, alg, -1, 0)
				if err != nil {
					return nil, err
				}
				return candidates(sequential, parallel), nil
			}
			inputs = append(inputs, evidencerecord.Input{
				Name:          fmt.Sprintf("signer-%d-er-%d", s, j),
				Data:          raw,
				Signature:     &obj,
				Incorporation: evidencerecord.Internal,
				Origin:        evidencerecord.OriginSignature,
			})
		}
	}
	return inputs, nil
}

// cadesObject describes signer number index without a digest function.
// Identifiers ignore embedded records. The other signers of sd are listed
// as coexisting signatures since the leaf digests the whole structure.
func cadesObject(sd *cms.SignedData, index int, detached []*evidencerecord.Document) (*evidencerecord.SignatureObject, error) {
	si := sd.Signers[index]
	counters, err := si.CounterSignatures()
	if err != nil {
		return nil, fmt.Errorf("%w: malformed counter signature: %v", ErrFormat, err)
	}
	var counterIDs []string
	for _, cs := range counters {
		counterIDs = append(counterIDs, evidencerecord.SignatureID(cs.Raw()))
	}
	var siblingIDs []string
	for i, other := range sd.Signers {
		if i != index {
			siblingIDs = append(siblingIDs, bareSignatureID(other))
		}
	}
	crls, ocsps := sd.RevocationValues()
	return &evidencerecord.SignatureObject{
		ID:                     bareSignatureID(si),
		Format:                 evidencerecord.CAdES,
		CounterSignatureIDs:    counterIDs,
		CoexistingSignatureIDs: siblingIDs,
		SignedData:             documentNames(detached),
		Certificates:           sd.CertificatesRaw(),
		Revocations:            append(append([][]byte(nil), crls...), ocsps...),
		Timestamps:             si.SignatureTimestamps(),
	}, nil
}

func bareSignatureID(si *cms.SignerInfo) string {
	bare := si.Clone()
	bare.StripEvidenceRecords(0)
	return evidencerecord.SignatureID(bare.Raw())
}

func xadesRecords(signature []byte, detached []*evidencerecord.Document) ([]evidencerecord.Input, error) {
	doc, err := xades.ParseDocument(signature)
	if err != nil {
		return nil, fmt.Errorf("%w: Not a valid XAdES file: %v", ErrFormat, err)
	}

	var inputs []evidencerecord.Input
	for s, sig := range doc.Signatures() {
		records := sig.EvidenceRecords()
		if len(records) == 0 {
			continue
		}
		obj, err := signatureObject(sig, detached)
		if err != nil {
			return nil, err
		}
		label := sig.ID()
		if label == "" {
			label = fmt.Sprintf("signature-%d", s)
		}

		for k, el := range records {
			position, index := s, k
			rec := *obj
			rec.DigestFunc = func(alg digest.Algorithm) ([]digest.Digest, error) {
				sequential, err := xadesCandidate(signature, detached, alg, position, index)
				if err != nil {
					return nil, err
				}
				parallel, err := xadesCandidate(signature, detached, alg, position, 0)
				if err != nil {
					return nil, err
				}
				return candidates(sequential, parallel), nil
			}

			in := evidencerecord.Input{
				Name:          fmt.Sprintf("%s-er-%d", label, k),
				Signature:     &rec,
				Incorporation: evidencerecord.Internal,
				Origin:        evidencerecord.OriginSignature,
			}
			if record, err := xmlers.ParseElement(el); err == nil {
				in.Record = record
			} else {
				// Left to the validator, which reports the parse error for
				// this record only.
				standalone := etree.NewDocument()
				standalone.SetRoot(xades.Detach(el))
				data, err := standalone.WriteToBytes()
				if err != nil {
					return nil, fmt.Errorf("%w: unable to serialize evidence record %d of %s: %v", ErrFormat, k, label, err)
				}
				in.Data = data
			}
			inputs = append(inputs, in)
		}
	}
	return inputs, nil
}

// xadesCandidate digests signature number position of a fresh copy of the
// document with its embedded records from index onwards removed.
func xadesCandidate(signature []byte, detached []*evidencerecord.Document, alg digest.Algorithm, position, index int) (digest.Digest, error) {
	doc, err := xades.ParseDocument(signature)
	if err != nil {
		return digest.Digest{}, err
	}
	sigs := doc.Signatures()
	if position >= len(sigs) {
		return digest.Digest{}, xades.ErrSignatureNotFound
	}
	sig := sigs[position]

	seen := 0
	for _, container := range sig.SealingEvidenceRecords() {
		n := len(container.ChildElements())
		if index < seen+n {
			truncate(container, index-seen)
			break
		}
		seen += n
	}
	b := &XAdES{detached: detached, logger: zap.NewNop()}
	return b.digest(sig, alg)
}

func candidates(sequential, parallel digest.Digest) []digest.Digest {
	if sequential.Equal(parallel) {
		return []digest.Digest{sequential}
	}
	return []digest.Digest{sequential, parallel}
}

func signatureObject(sig *xades.Signature, detached []*evidencerecord.Document) (*evidencerecord.SignatureObject, error) {
	id, err := signedInfoID(sig.El, sig.CanonicalizationMethod())
	if err != nil {
		return nil, err
	}
	obj := &evidencerecord.SignatureObject{ID: id, Format: evidencerecord.XAdES}

	for _, ref := range sig.References() {
		if !ref.Internal() {
			obj.SignedData = append(obj.SignedData, ref.URI)
		}
	}
	if len(obj.SignedData) == 0 {
		obj.SignedData = documentNames(detached)
	}

	certs, err := sig.Certificates()
	if err != nil {
		return nil, err
	}
	for _, cert := range certs {
		obj.Certificates = append(obj.Certificates, cert.Raw)
	}

	usp := sig.UnsignedSignatureProperties()
	if usp == nil {
		return obj, nil
	}
	for _, el := range usp.ChildElements() {
		if el.Tag == xades.SealingEvidenceRecordsTag {
			continue
		}
		if el.Tag == "CounterSignature" {
			for _, nested := range descendants(el, "Signature") {
				csID, err := signedInfoID(nested, xades.DefaultCanonicalization)
				if err != nil {
					return nil, err
				}
				obj.CounterSignatureIDs = append(obj.CounterSignatureIDs, csID)
			}
			continue
		}
		for _, enc := range descendants(el, "EncapsulatedX509Certificate") {
			if der, ok := decodeText(enc); ok {
				obj.Certificates = append(obj.Certificates, der)
			}
		}
		for _, tag := range []string{"EncapsulatedCRLValue", "EncapsulatedOCSPValue"} {
			for _, enc := range descendants(el, tag) {
				if der, ok := decodeText(enc); ok {
					obj.Revocations = append(obj.Revocations, der)
				}
			}
		}
		if el.Tag == "SignatureTimeStamp" {
			for _, enc := range descendants(el, "EncapsulatedTimeStamp") {
				if der, ok := decodeText(enc); ok {
					obj.Timestamps = append(obj.Timestamps, der)
				}
			}
		}
	}
	return obj, nil
}

// signedInfoID identifies an XML signature by its canonical SignedInfo,
// which embedding records does not change.
func signedInfoID(sigEl *etree.Element, method string) (string, error) {
	var signedInfo *etree.Element
	for _, el := range sigEl.ChildElements() {
		if el.Tag == "SignedInfo" && el.NamespaceURI() == xades.NamespaceDSig {
			signedInfo = el
			break
		}
	}
	if signedInfo == nil {
		return "", xades.ErrNoSignedInfo
	}
	if method == "" {
		method = xades.DefaultCanonicalization
	}
	c, err := xades.Canonicalize(signedInfo, method)
	if err != nil {
		return "", err
	}
	return evidencerecord.SignatureID(c), nil
}

func descendants(el *etree.Element, tag string) []*etree.Element {
	var out []*etree.Element
	for _, c := range el.ChildElements() {
		if c.Tag == tag {
			out = append(out, c)
		}
		out = append(out, descendants(c, tag)...)
	}
	return out
}

func decodeText(el *etree.Element) ([]byte, bool) {
	der, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(el.Text()), ""))
	if err != nil || len(der) == 0 {
		return nil, false
	}
	return der, true
}
