package digestbuilder

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/beevik/etree"
	"go.uber.org/zap"

	"github.com/georgepadayatti/goers/digest"
	"github.com/georgepadayatti/goers/evidencerecord"
	"github.com/georgepadayatti/goers/sign/xades"
)

// XAdES computes evidence record digests of an XML signature.
type XAdES struct {
	signature   []byte
	alg         digest.Algorithm
	parallel    bool
	detached    []*evidencerecord.Document
	signatureID string
	logger      *zap.Logger
}

// NewXAdES returns a builder for the XML document holding the signature.
// An empty algorithm selects SHA-256.
func NewXAdES(signature []byte, alg digest.Algorithm) *XAdES {
	return &XAdES{signature: signature, alg: alg, logger: zap.NewNop()}
}

// SetParallelEvidenceRecord selects the parallel convention.
func (b *XAdES) SetParallelEvidenceRecord(parallel bool) *XAdES {
	b.parallel = parallel
	return b
}

// SetDetachedContent sets the documents detached references point to.
func (b *XAdES) SetDetachedContent(docs ...*evidencerecord.Document) *XAdES {
	b.detached = docs
	return b
}

// SetSignatureID selects the signature by its Id attribute. It is required
// when the document holds several signatures.
func (b *XAdES) SetSignatureID(id string) *XAdES {
	b.signatureID = id
	return b
}

// SetLogger sets the logger receiving processing warnings.
func (b *XAdES) SetLogger(logger *zap.Logger) *XAdES {
	if logger != nil {
		b.logger = logger
	}
	return b
}

func (b *XAdES) load() (*xades.Signature, digest.Algorithm, error) {
	if b.signature == nil {
		return nil, "", nilSignatureError()
	}
	alg, err := algorithmOf(b.alg)
	if err != nil {
		return nil, "", err
	}
	doc, err := xades.ParseDocument(b.signature)
	if err != nil {
		return nil, "", fmt.Errorf("%w: Not a valid XAdES file: %v", ErrFormat, err)
	}
	sig, err := doc.Signature(b.signatureID)
	switch {
	case errors.Is(err, xades.ErrNoSignature):
		return nil, "", fmt.Errorf("%w: Not a valid XAdES file: The provided document does not contain any signature! Unable to compute message-imprint for an integrated evidence-record.", ErrFormat)
	case errors.Is(err, xades.ErrMultipleSignatures):
		return nil, "", fmt.Errorf("%w: The provided document contains multiple signatures! Please use SetSignatureID in order to provide the identifier.", ErrIllegalInput)
	case errors.Is(err, xades.ErrSignatureNotFound):
		return nil, "", fmt.Errorf("%w: No signature with Id '%s' found in the document!", ErrIllegalInput, b.signatureID)
	case err != nil:
		return nil, "", err
	}
	return sig, alg, nil
}

// Build returns the digest of the signature under the selected convention.
func (b *XAdES) Build() (digest.Digest, error) {
	sig, alg, err := b.load()
	if err != nil {
		return digest.Digest{}, err
	}
	if b.parallel {
		if containers := sig.SealingEvidenceRecords(); len(containers) > 0 {
			truncate(containers[0], 0)
		}
	} else if len(sig.EvidenceRecords()) > 1 {
		return digest.Digest{}, fmt.Errorf("%w: The XML signature contains multiple evidence record attributes! Unable to compute hash.", ErrIllegalInput)
	}
	return b.digest(sig, alg)
}

// digest builds the data object group of the signature: the referenced
// data, SignedInfo, SignatureValue, KeyInfo, each unsigned signature
// property, the ds:Object elements not holding the qualifying properties
// and the data of manifest references.
func (b *XAdES) digest(sig *xades.Signature, alg digest.Algorithm) (digest.Digest, error) {
	signedInfo := sig.SignedInfo()
	if signedInfo == nil {
		return digest.Digest{}, xades.ErrNoSignedInfo
	}
	method := sig.CanonicalizationMethod()
	if method == "" {
		b.logger.Warn("No canonicalization method found within ds:SignedInfo element. Re-use the default canonicalization algorithm",
			zap.String("algorithm", xades.DefaultCanonicalization))
		method = xades.DefaultCanonicalization
	}

	var items [][]byte
	addElement := func(el *etree.Element) error {
		c, err := xades.Canonicalize(el, method)
		if err != nil {
			return err
		}
		items = append(items, c)
		return nil
	}
	addReferences := func(refs []xades.Reference) error {
		for _, ref := range refs {
			data, err := b.referenceBytes(sig, ref, method)
			if err != nil {
				return err
			}
			items = append(items, data)
		}
		return nil
	}

	if err := addReferences(sig.References()); err != nil {
		return digest.Digest{}, err
	}
	for _, el := range []*etree.Element{signedInfo, sig.SignatureValue(), sig.KeyInfo()} {
		if el == nil {
			continue
		}
		if err := addElement(el); err != nil {
			return digest.Digest{}, err
		}
	}
	if usp := sig.UnsignedSignatureProperties(); usp != nil {
		for _, el := range usp.ChildElements() {
			if err := addElement(el); err != nil {
				return digest.Digest{}, err
			}
		}
	}
	for _, obj := range sig.Objects() {
		if holdsQualifyingProperties(obj) {
			continue
		}
		if err := addElement(obj); err != nil {
			return digest.Digest{}, err
		}
	}
	if err := addReferences(sig.ManifestReferences()); err != nil {
		return digest.Digest{}, err
	}
	return groupDigest(alg, items), nil
}

func (b *XAdES) referenceBytes(sig *xades.Signature, ref xades.Reference, method string) ([]byte, error) {
	if ref.Internal() {
		return sig.Dereference(ref, method)
	}
	doc := b.detachedDocument(ref.URI)
	if doc == nil {
		return nil, fmt.Errorf("%w: detached content %q was not provided", xades.ErrReferenceNotFound, ref.URI)
	}
	return doc.Bytes()
}

func (b *XAdES) detachedDocument(uri string) *evidencerecord.Document {
	name := uri
	if unescaped, err := url.PathUnescape(uri); err == nil {
		name = unescaped
	}
	for _, doc := range b.detached {
		if doc.Name() == uri || doc.Name() == name {
			return doc
		}
	}
	return nil
}

func holdsQualifyingProperties(obj *etree.Element) bool {
	for _, el := range obj.ChildElements() {
		if el.Tag == "QualifyingProperties" && el.NamespaceURI() == xades.NamespaceXAdES {
			return true
		}
	}
	return false
}

// truncate drops the records of container from index keep onwards together
// with every unsigned property after container. An emptied container is
// removed.
func truncate(container *etree.Element, keep int) {
	for i, el := range container.ChildElements() {
		if i >= keep {
			container.RemoveChild(el)
		}
	}
	usp := container.Parent()
	if usp == nil {
		return
	}
	after := false
	for _, el := range usp.ChildElements() {
		if el == container {
			after = true
			continue
		}
		if after {
			usp.RemoveChild(el)
		}
	}
	if len(container.ChildElements()) == 0 {
		usp.RemoveChild(container)
	}
}
