// Package xades locates XMLDSig signatures in a document and gives access to
// the parts an evidence record covers: references, SignedInfo,
// SignatureValue, KeyInfo, unsigned signature properties and sealing
// evidence records.
package xades

import (
	"crypto/x509"
	"errors"
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

// Namespaces
const (
	NamespaceDSig    = "http://www.w3.org/2000/09/xmldsig#"
	NamespaceXAdES   = "http://uri.etsi.org/01903/v1.3.2#"
	NamespaceXAdESEN = "http://uri.etsi.org/19132/v1.1.1#"
)

// Transform and reference type URIs.
const (
	TransformEnvelopedSignature = "http://www.w3.org/2000/09/xmldsig#enveloped-signature"
	TypeManifest                = "http://www.w3.org/2000/09/xmldsig#Manifest"
	TypeSignedProperties        = "http://uri.etsi.org/01903#SignedProperties"
)

// SealingEvidenceRecordsTag is the unsigned signature property holding
// embedded evidence records.
const SealingEvidenceRecordsTag = "SealingEvidenceRecords"

// Common errors
var (
	ErrNoSignature         = errors.New("document does not contain any signature")
	ErrMultipleSignatures  = errors.New("document contains multiple signatures")
	ErrSignatureNotFound   = errors.New("signature not found")
	ErrExternalReference   = errors.New("reference points outside the document")
	ErrReferenceNotFound   = errors.New("referenced element not found")
	ErrNoSignedInfo        = errors.New("signature has no SignedInfo")
	ErrNoQualifyingElement = errors.New("signature has no QualifyingProperties")
)

// Document is a parsed XML document holding signatures.
type Document struct {
	doc *etree.Document
}

// ParseDocument parses an XML document.
func ParseDocument(data []byte) (*Document, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("failed to parse XML: %w", err)
	}
	if doc.Root() == nil {
		return nil, errors.New("failed to parse XML: no root element")
	}
	return &Document{doc: doc}, nil
}

// Bytes serializes the document.
func (d *Document) Bytes() ([]byte, error) {
	return d.doc.WriteToBytes()
}

// Signatures returns every ds:Signature element in document order.
func (d *Document) Signatures() []*Signature {
	var out []*Signature
	walk(d.doc.Root(), func(el *etree.Element) {
		if is(el, NamespaceDSig, "Signature") {
			out = append(out, &Signature{El: el, doc: d})
		}
	})
	return out
}

// Signature returns the signature with the given Id. With an empty id the
// document must hold exactly one signature.
func (d *Document) Signature(id string) (*Signature, error) {
	sigs := d.Signatures()
	if id == "" {
		switch len(sigs) {
		case 0:
			return nil, ErrNoSignature
		case 1:
			return sigs[0], nil
		default:
			return nil, ErrMultipleSignatures
		}
	}
	for _, sig := range sigs {
		if sig.ID() == id {
			return sig, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrSignatureNotFound, id)
}

// FindByID returns the element whose Id, ID or id attribute equals id.
func (d *Document) FindByID(id string) *etree.Element {
	var found *etree.Element
	walk(d.doc.Root(), func(el *etree.Element) {
		if found != nil {
			return
		}
		for _, key := range []string{"Id", "ID", "id"} {
			if el.SelectAttrValue(key, "") == id {
				found = el
				return
			}
		}
	})
	return found
}

// Reference is a ds:Reference of SignedInfo or of a manifest.
type Reference struct {
	ID           string
	URI          string
	Type         string
	Transforms   []string
	DigestMethod string
	DigestValue  []byte
	El           *etree.Element
}

// Canonicalization returns the canonicalization transform of the reference,
// empty when it has none.
func (r Reference) Canonicalization() string {
	method := ""
	for _, t := range r.Transforms {
		if _, err := Canonicalizer(t); err == nil && t != "" {
			method = t
		}
	}
	return method
}

// Enveloped reports whether the reference applies the enveloped signature
// transform.
func (r Reference) Enveloped() bool {
	for _, t := range r.Transforms {
		if t == TransformEnvelopedSignature {
			return true
		}
	}
	return false
}

// Internal reports whether the reference points into the document.
func (r Reference) Internal() bool {
	return r.URI == "" || strings.HasPrefix(r.URI, "#")
}

// Signature is a view over a ds:Signature element.
type Signature struct {
	El  *etree.Element
	doc *Document
}

// Document returns the document holding the signature.
func (s *Signature) Document() *Document {
	return s.doc
}

// ID returns the Id attribute.
func (s *Signature) ID() string {
	return s.El.SelectAttrValue("Id", "")
}

// SignedInfo returns the ds:SignedInfo element.
func (s *Signature) SignedInfo() *etree.Element {
	return child(s.El, NamespaceDSig, "SignedInfo")
}

// SignatureValue returns the ds:SignatureValue element.
func (s *Signature) SignatureValue() *etree.Element {
	return child(s.El, NamespaceDSig, "SignatureValue")
}

// KeyInfo returns the ds:KeyInfo element, nil when absent.
func (s *Signature) KeyInfo() *etree.Element {
	return child(s.El, NamespaceDSig, "KeyInfo")
}

// CanonicalizationMethod returns the algorithm of the SignedInfo
// CanonicalizationMethod, empty when it is not declared.
func (s *Signature) CanonicalizationMethod() string {
	si := s.SignedInfo()
	if si == nil {
		return ""
	}
	cm := child(si, NamespaceDSig, "CanonicalizationMethod")
	if cm == nil {
		return ""
	}
	return cm.SelectAttrValue("Algorithm", "")
}

// References returns the SignedInfo references.
func (s *Signature) References() []Reference {
	si := s.SignedInfo()
	if si == nil {
		return nil
	}
	return parseReferences(si)
}

// Objects returns the ds:Object children of the signature.
func (s *Signature) Objects() []*etree.Element {
	return children(s.El, NamespaceDSig, "Object")
}

// QualifyingProperties returns the xades:QualifyingProperties element.
func (s *Signature) QualifyingProperties() *etree.Element {
	for _, obj := range s.Objects() {
		if qp := child(obj, NamespaceXAdES, "QualifyingProperties"); qp != nil {
			return qp
		}
	}
	return nil
}

// UnsignedSignatureProperties returns the xades:UnsignedSignatureProperties
// element, nil when absent.
func (s *Signature) UnsignedSignatureProperties() *etree.Element {
	qp := s.QualifyingProperties()
	if qp == nil {
		return nil
	}
	up := child(qp, NamespaceXAdES, "UnsignedProperties")
	if up == nil {
		return nil
	}
	return child(up, NamespaceXAdES, "UnsignedSignatureProperties")
}

// ManifestReferences returns the references of the ds:Manifest elements
// that SignedInfo references point to.
func (s *Signature) ManifestReferences() []Reference {
	var refs []Reference
	for _, ref := range s.References() {
		if ref.Type != TypeManifest || !strings.HasPrefix(ref.URI, "#") {
			continue
		}
		manifest := s.doc.FindByID(strings.TrimPrefix(ref.URI, "#"))
		if manifest != nil && is(manifest, NamespaceDSig, "Manifest") {
			refs = append(refs, parseReferences(manifest)...)
		}
	}
	return refs
}

// SealingEvidenceRecords returns the xadesen:SealingEvidenceRecords
// properties in document order.
func (s *Signature) SealingEvidenceRecords() []*etree.Element {
	usp := s.UnsignedSignatureProperties()
	if usp == nil {
		return nil
	}
	return children(usp, NamespaceXAdESEN, SealingEvidenceRecordsTag)
}

// EvidenceRecords returns the evidence record elements held by every
// SealingEvidenceRecords property, in document order.
func (s *Signature) EvidenceRecords() []*etree.Element {
	var out []*etree.Element
	for _, container := range s.SealingEvidenceRecords() {
		out = append(out, container.ChildElements()...)
	}
	return out
}

// Certificates returns the X.509 certificates of KeyInfo.
func (s *Signature) Certificates() ([]*x509.Certificate, error) {
	ki := s.KeyInfo()
	if ki == nil {
		return nil, nil
	}
	var certs []*x509.Certificate
	var parseErr error
	walk(ki, func(el *etree.Element) {
		if parseErr != nil || !is(el, NamespaceDSig, "X509Certificate") {
			return
		}
		der, err := decodeBase64(el.Text())
		if err != nil {
			parseErr = fmt.Errorf("invalid X509Certificate: %w", err)
			return
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			parseErr = fmt.Errorf("invalid X509Certificate: %w", err)
			return
		}
		certs = append(certs, cert)
	})
	return certs, parseErr
}

// EnsureUnsignedSignatureProperties returns the
// xades:UnsignedSignatureProperties element, creating the missing
// UnsignedProperties ancestors.
func (s *Signature) EnsureUnsignedSignatureProperties() (*etree.Element, error) {
	if usp := s.UnsignedSignatureProperties(); usp != nil {
		return usp, nil
	}
	qp := s.QualifyingProperties()
	if qp == nil {
		return nil, ErrNoQualifyingElement
	}
	prefix := qp.Space
	up := child(qp, NamespaceXAdES, "UnsignedProperties")
	if up == nil {
		up = qp.CreateElement(qualified(prefix, "UnsignedProperties"))
	}
	return up.CreateElement(qualified(prefix, "UnsignedSignatureProperties")), nil
}

// AddSealingEvidenceRecord appends a SealingEvidenceRecords property
// holding record as the last unsigned signature property.
func (s *Signature) AddSealingEvidenceRecord(record *etree.Element) error {
	usp, err := s.EnsureUnsignedSignatureProperties()
	if err != nil {
		return err
	}
	container := usp.CreateElement("xadesen:" + SealingEvidenceRecordsTag)
	container.CreateAttr("xmlns:xadesen", NamespaceXAdESEN)
	container.AddChild(record)
	return nil
}

// Dereference returns the octets of an internal reference after its
// transforms. The enveloped signature transform is applied, and the node set
// is canonicalized with the canonicalization transform of the reference or
// with method when it declares none.
func (s *Signature) Dereference(ref Reference, method string) ([]byte, error) {
	if !ref.Internal() {
		return nil, fmt.Errorf("%w: %s", ErrExternalReference, ref.URI)
	}
	var target *etree.Element
	if ref.URI == "" {
		target = s.doc.doc.Root()
	} else {
		target = s.doc.FindByID(strings.TrimPrefix(ref.URI, "#"))
	}
	if target == nil {
		return nil, fmt.Errorf("%w: %s", ErrReferenceNotFound, ref.URI)
	}

	detached := Detach(target)
	if ref.Enveloped() {
		if path, ok := relativePath(target, s.El); ok {
			removeAt(detached, path)
		}
	}
	if c := ref.Canonicalization(); c != "" {
		method = c
	}
	canon, err := Canonicalizer(method)
	if err != nil {
		return nil, err
	}
	return canon.Canonicalize(detached)
}
