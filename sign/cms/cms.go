// Package cms provides CMS (Cryptographic Message Syntax) support for CAdES
// signatures and RFC 3161 timestamp tokens.
//
// SignedData keeps the raw encoding of every field it does not interpret, so
// unsigned attributes can be removed or appended and the structure re-encoded
// without touching the signed parts.
package cms

import (
	"bytes"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// OIDs for CMS and signature algorithms
var (
	// Content types
	OIDData       = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 1}
	OIDSignedData = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}
	OIDTSTInfo    = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 1, 4}

	// Signature algorithms
	OIDRSAEncryption   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 1}
	OIDSHA1WithRSA     = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 5}
	OIDSHA256WithRSA   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 11}
	OIDSHA384WithRSA   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 12}
	OIDSHA512WithRSA   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 13}
	OIDRSAPSS          = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 10}
	OIDECPublicKey     = asn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1}
	OIDECDSAWithSHA256 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 2}
	OIDECDSAWithSHA384 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 3}
	OIDECDSAWithSHA512 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 4}
	OIDEd25519         = asn1.ObjectIdentifier{1, 3, 101, 112}

	// Signed attributes
	OIDContentType          = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 3}
	OIDMessageDigest        = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 4}
	OIDSigningTime          = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 5}
	OIDSigningCertificateV2 = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 47}

	// Unsigned attributes
	OIDCounterSignature         = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 6}
	OIDSignatureTimeStampToken  = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 14}
	OIDInternalEvidenceRecord   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 49}
	OIDExternalEvidenceRecord   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 50}
	OIDOCSPRevocationInfoFormat = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 16, 2}
)

// Common errors
var (
	ErrInvalidFormat        = errors.New("invalid CMS structure")
	ErrNotSignedData        = errors.New("content is not SignedData")
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")
	ErrInvalidSignature     = errors.New("invalid signature")
	ErrMissingCertificate   = errors.New("missing certificate")
	ErrNoSigner             = errors.New("no signer info")
)

var (
	tagExplicit0 = cbasn1.Tag(0).Constructed().ContextSpecific()
	tagImplicit0 = cbasn1.Tag(0).Constructed().ContextSpecific()
	tagImplicit1 = cbasn1.Tag(1).Constructed().ContextSpecific()
	tagSKI       = cbasn1.Tag(0).ContextSpecific()
)

// AlgorithmIdentifier represents an algorithm identifier.
type AlgorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.RawValue `asn1:"optional"`
}

// ContentInfo represents a CMS ContentInfo structure.
type ContentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,optional,tag:0"`
}

// Attribute represents a CMS attribute with its raw values.
type Attribute struct {
	Type   asn1.ObjectIdentifier
	Values []asn1.RawValue `asn1:"set"`
}

// IssuerAndSerialNumber identifies a certificate by issuer and serial.
type IssuerAndSerialNumber struct {
	Issuer       asn1.RawValue
	SerialNumber *big.Int
}

// SignedData is a parsed CMS SignedData wrapped in its ContentInfo.
type SignedData struct {
	version          []byte
	digestAlgorithms []byte
	encapContentInfo []byte
	certificates     []byte
	crls             []byte

	// EContentType is the encapsulated content type.
	EContentType asn1.ObjectIdentifier

	// EContent is the encapsulated content, nil for detached signatures.
	EContent []byte

	// Signers holds the signer infos in encoding order.
	Signers []*SignerInfo
}

// SignerInfo is a parsed CMS SignerInfo.
type SignerInfo struct {
	version            []byte
	sid                []byte
	digestAlgorithm    []byte
	signedAttrs        []byte
	signatureAlgorithm []byte
	signature          []byte

	// DigestAlgorithm is the OID of the digest algorithm.
	DigestAlgorithm asn1.ObjectIdentifier

	// SignatureAlgorithm is the OID of the signature algorithm.
	SignatureAlgorithm asn1.ObjectIdentifier

	// SignatureValue is the raw signature.
	SignatureValue []byte

	// SignedAttributes are the decoded signed attributes.
	SignedAttributes []Attribute

	// UnsignedAttributes are the decoded unsigned attributes, in encoding order.
	UnsignedAttributes []Attribute

	// IssuerSerial is set when the signer is identified by issuer and serial.
	IssuerSerial *IssuerAndSerialNumber

	// SubjectKeyID is set when the signer is identified by key identifier.
	SubjectKeyID []byte
}

// ParseSignedData parses a DER encoded ContentInfo holding SignedData.
func ParseSignedData(data []byte) (*SignedData, error) {
	input := cryptobyte.String(data)
	var contentInfo cryptobyte.String
	if !input.ReadASN1(&contentInfo, cbasn1.SEQUENCE) || !input.Empty() {
		return nil, fmt.Errorf("%w: malformed ContentInfo", ErrInvalidFormat)
	}

	var contentType asn1.ObjectIdentifier
	if !contentInfo.ReadASN1ObjectIdentifier(&contentType) {
		return nil, fmt.Errorf("%w: malformed content type", ErrInvalidFormat)
	}
	if !contentType.Equal(OIDSignedData) {
		return nil, fmt.Errorf("%w: got %v", ErrNotSignedData, contentType)
	}

	var explicit, body cryptobyte.String
	if !contentInfo.ReadASN1(&explicit, tagExplicit0) || !explicit.ReadASN1(&body, cbasn1.SEQUENCE) {
		return nil, fmt.Errorf("%w: malformed SignedData", ErrInvalidFormat)
	}

	sd := &SignedData{}
	var version, digestAlgs, encap cryptobyte.String
	if !body.ReadASN1Element(&version, cbasn1.INTEGER) ||
		!body.ReadASN1Element(&digestAlgs, cbasn1.SET) ||
		!body.ReadASN1Element(&encap, cbasn1.SEQUENCE) {
		return nil, fmt.Errorf("%w: malformed SignedData header", ErrInvalidFormat)
	}
	sd.version = version
	sd.digestAlgorithms = digestAlgs
	sd.encapContentInfo = encap

	if err := sd.parseEncapsulatedContent(encap); err != nil {
		return nil, err
	}

	if body.PeekASN1Tag(tagImplicit0) {
		var certs cryptobyte.String
		if !body.ReadASN1Element(&certs, tagImplicit0) {
			return nil, fmt.Errorf("%w: malformed certificates", ErrInvalidFormat)
		}
		sd.certificates = certs
	}
	if body.PeekASN1Tag(tagImplicit1) {
		var crls cryptobyte.String
		if !body.ReadASN1Element(&crls, tagImplicit1) {
			return nil, fmt.Errorf("%w: malformed crls", ErrInvalidFormat)
		}
		sd.crls = crls
	}

	var signerInfos cryptobyte.String
	if !body.ReadASN1(&signerInfos, cbasn1.SET) {
		return nil, fmt.Errorf("%w: malformed signer infos", ErrInvalidFormat)
	}
	for !signerInfos.Empty() {
		var raw cryptobyte.String
		if !signerInfos.ReadASN1Element(&raw, cbasn1.SEQUENCE) {
			return nil, fmt.Errorf("%w: malformed signer info", ErrInvalidFormat)
		}
		si, err := ParseSignerInfo(raw)
		if err != nil {
			return nil, err
		}
		sd.Signers = append(sd.Signers, si)
	}

	return sd, nil
}

func (sd *SignedData) parseEncapsulatedContent(encap cryptobyte.String) error {
	var body cryptobyte.String
	if !encap.ReadASN1(&body, cbasn1.SEQUENCE) || !body.ReadASN1ObjectIdentifier(&sd.EContentType) {
		return fmt.Errorf("%w: malformed encapsulated content", ErrInvalidFormat)
	}
	if body.Empty() {
		return nil
	}
	var explicit, content cryptobyte.String
	if !body.ReadASN1(&explicit, tagExplicit0) || !explicit.ReadASN1(&content, cbasn1.OCTET_STRING) {
		return fmt.Errorf("%w: malformed eContent", ErrInvalidFormat)
	}
	sd.EContent = content
	return nil
}

// ParseSignerInfo parses a DER encoded SignerInfo.
func ParseSignerInfo(data []byte) (*SignerInfo, error) {
	input := cryptobyte.String(data)
	var body cryptobyte.String
	if !input.ReadASN1(&body, cbasn1.SEQUENCE) {
		return nil, fmt.Errorf("%w: malformed SignerInfo", ErrInvalidFormat)
	}

	si := &SignerInfo{}
	var version, sid, digestAlg cryptobyte.String
	var sidTag cbasn1.Tag
	if !body.ReadASN1Element(&version, cbasn1.INTEGER) ||
		!body.ReadAnyASN1Element(&sid, &sidTag) ||
		!body.ReadASN1Element(&digestAlg, cbasn1.SEQUENCE) {
		return nil, fmt.Errorf("%w: malformed SignerInfo header", ErrInvalidFormat)
	}
	si.version = version
	si.sid = sid
	si.digestAlgorithm = digestAlg

	if err := si.parseSID(sid, sidTag); err != nil {
		return nil, err
	}
	oid, err := algorithmOID(digestAlg)
	if err != nil {
		return nil, err
	}
	si.DigestAlgorithm = oid

	if body.PeekASN1Tag(tagImplicit0) {
		var signedAttrs cryptobyte.String
		if !body.ReadASN1Element(&signedAttrs, tagImplicit0) {
			return nil, fmt.Errorf("%w: malformed signed attributes", ErrInvalidFormat)
		}
		si.signedAttrs = signedAttrs
		attrs, err := parseAttributes(signedAttrs, tagImplicit0)
		if err != nil {
			return nil, err
		}
		si.SignedAttributes = attrs
	}

	var sigAlg, signature cryptobyte.String
	if !body.ReadASN1Element(&sigAlg, cbasn1.SEQUENCE) || !body.ReadASN1Element(&signature, cbasn1.OCTET_STRING) {
		return nil, fmt.Errorf("%w: malformed signature", ErrInvalidFormat)
	}
	si.signatureAlgorithm = sigAlg
	si.signature = signature
	if si.SignatureAlgorithm, err = algorithmOID(sigAlg); err != nil {
		return nil, err
	}
	var value cryptobyte.String
	sigCopy := cryptobyte.String(signature)
	if !sigCopy.ReadASN1(&value, cbasn1.OCTET_STRING) {
		return nil, fmt.Errorf("%w: malformed signature value", ErrInvalidFormat)
	}
	si.SignatureValue = value

	if body.PeekASN1Tag(tagImplicit1) {
		var unsigned cryptobyte.String
		if !body.ReadASN1Element(&unsigned, tagImplicit1) {
			return nil, fmt.Errorf("%w: malformed unsigned attributes", ErrInvalidFormat)
		}
		attrs, err := parseAttributes(unsigned, tagImplicit1)
		if err != nil {
			return nil, err
		}
		si.UnsignedAttributes = attrs
	}

	if !body.Empty() {
		return nil, fmt.Errorf("%w: trailing data in SignerInfo", ErrInvalidFormat)
	}
	return si, nil
}

func (si *SignerInfo) parseSID(sid cryptobyte.String, tag cbasn1.Tag) error {
	switch tag {
	case cbasn1.SEQUENCE:
		var ias IssuerAndSerialNumber
		if _, err := asn1.Unmarshal(sid, &ias); err != nil {
			return fmt.Errorf("%w: malformed signer identifier: %v", ErrInvalidFormat, err)
		}
		si.IssuerSerial = &ias
	case tagSKI:
		var ski cryptobyte.String
		if !sid.ReadASN1(&ski, tagSKI) {
			return fmt.Errorf("%w: malformed subject key identifier", ErrInvalidFormat)
		}
		si.SubjectKeyID = ski
	default:
		return fmt.Errorf("%w: unknown signer identifier tag %d", ErrInvalidFormat, tag)
	}
	return nil
}

func algorithmOID(element []byte) (asn1.ObjectIdentifier, error) {
	s := cryptobyte.String(element)
	var body cryptobyte.String
	var oid asn1.ObjectIdentifier
	if !s.ReadASN1(&body, cbasn1.SEQUENCE) || !body.ReadASN1ObjectIdentifier(&oid) {
		return nil, fmt.Errorf("%w: malformed algorithm identifier", ErrInvalidFormat)
	}
	return oid, nil
}

func parseAttributes(element []byte, tag cbasn1.Tag) ([]Attribute, error) {
	s := cryptobyte.String(element)
	var set cryptobyte.String
	if !s.ReadASN1(&set, tag) {
		return nil, fmt.Errorf("%w: malformed attribute set", ErrInvalidFormat)
	}
	var attrs []Attribute
	for !set.Empty() {
		var attr, values cryptobyte.String
		var oid asn1.ObjectIdentifier
		if !set.ReadASN1(&attr, cbasn1.SEQUENCE) ||
			!attr.ReadASN1ObjectIdentifier(&oid) ||
			!attr.ReadASN1(&values, cbasn1.SET) {
			return nil, fmt.Errorf("%w: malformed attribute", ErrInvalidFormat)
		}
		a := Attribute{Type: oid}
		for !values.Empty() {
			var value cryptobyte.String
			var valueTag cbasn1.Tag
			if !values.ReadAnyASN1Element(&value, &valueTag) {
				return nil, fmt.Errorf("%w: malformed attribute value", ErrInvalidFormat)
			}
			a.Values = append(a.Values, asn1.RawValue{FullBytes: append([]byte(nil), value...)})
		}
		attrs = append(attrs, a)
	}
	return attrs, nil
}

// Bytes re-encodes the SignedData wrapped in a ContentInfo.
func (sd *SignedData) Bytes() ([]byte, error) {
	b := cryptobyte.NewBuilder(nil)
	var signerErr error
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1ObjectIdentifier(OIDSignedData)
		b.AddASN1(tagExplicit0, func(b *cryptobyte.Builder) {
			b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
				b.AddBytes(sd.version)
				b.AddBytes(sd.digestAlgorithms)
				b.AddBytes(sd.encapContentInfo)
				if len(sd.certificates) > 0 {
					b.AddBytes(sd.certificates)
				}
				if len(sd.crls) > 0 {
					b.AddBytes(sd.crls)
				}
				b.AddASN1(cbasn1.SET, func(b *cryptobyte.Builder) {
					for _, si := range sd.Signers {
						raw, err := si.Bytes()
						if err != nil {
							signerErr = err
							return
						}
						b.AddBytes(raw)
					}
				})
			})
		})
	})
	if signerErr != nil {
		return nil, signerErr
	}
	return b.Bytes()
}

// Bytes re-encodes the SignerInfo. An empty unsigned attribute set is omitted.
func (si *SignerInfo) Bytes() ([]byte, error) {
	b := cryptobyte.NewBuilder(nil)
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddBytes(si.version)
		b.AddBytes(si.sid)
		b.AddBytes(si.digestAlgorithm)
		if len(si.signedAttrs) > 0 {
			b.AddBytes(si.signedAttrs)
		}
		b.AddBytes(si.signatureAlgorithm)
		b.AddBytes(si.signature)
		if len(si.UnsignedAttributes) > 0 {
			b.AddASN1(tagImplicit1, func(b *cryptobyte.Builder) {
				addAttributes(b, si.UnsignedAttributes)
			})
		}
	})
	return b.Bytes()
}

func addAttributes(b *cryptobyte.Builder, attrs []Attribute) {
	for _, attr := range attrs {
		attr := attr
		b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
			b.AddASN1ObjectIdentifier(attr.Type)
			b.AddASN1(cbasn1.SET, func(b *cryptobyte.Builder) {
				for _, v := range attr.Values {
					b.AddBytes(v.FullBytes)
				}
			})
		})
	}
}

// SignedAttributesDER returns the signed attributes encoded as a DER SET, the
// form covered by the signature.
func (si *SignerInfo) SignedAttributesDER() []byte {
	if len(si.signedAttrs) == 0 {
		return nil
	}
	out := append([]byte(nil), si.signedAttrs...)
	out[0] = 0x31 // SET tag
	return out
}

// Clone returns a deep copy that can be modified independently.
func (sd *SignedData) Clone() *SignedData {
	c := *sd
	c.Signers = make([]*SignerInfo, len(sd.Signers))
	for i, si := range sd.Signers {
		c.Signers[i] = si.Clone()
	}
	return &c
}

// Clone returns a copy of the signer info with its own attribute slice.
func (si *SignerInfo) Clone() *SignerInfo {
	c := *si
	c.UnsignedAttributes = make([]Attribute, len(si.UnsignedAttributes))
	for i, attr := range si.UnsignedAttributes {
		c.UnsignedAttributes[i] = Attribute{
			Type:   attr.Type,
			Values: append([]asn1.RawValue(nil), attr.Values...),
		}
	}
	return &c
}

// Certificates returns the certificates embedded in the SignedData. Entries
// that are not X.509 certificates are skipped.
func (sd *SignedData) Certificates() []*x509.Certificate {
	var certs []*x509.Certificate
	for _, raw := range sd.CertificatesRaw() {
		cert, err := x509.ParseCertificate(raw)
		if err != nil {
			continue
		}
		certs = append(certs, cert)
	}
	return certs
}

// CertificatesRaw returns the DER encoding of each embedded certificate.
func (sd *SignedData) CertificatesRaw() [][]byte {
	return elementsOf(sd.certificates, tagImplicit0, cbasn1.SEQUENCE)
}

// RevocationValues returns the embedded CRLs and OCSP responses as raw DER.
func (sd *SignedData) RevocationValues() (crls [][]byte, ocsps [][]byte) {
	if len(sd.crls) == 0 {
		return nil, nil
	}
	s := cryptobyte.String(sd.crls)
	var set cryptobyte.String
	if !s.ReadASN1(&set, tagImplicit1) {
		return nil, nil
	}
	for !set.Empty() {
		var el cryptobyte.String
		var tag cbasn1.Tag
		if !set.ReadAnyASN1Element(&el, &tag) {
			break
		}
		switch tag {
		case cbasn1.SEQUENCE:
			crls = append(crls, el)
		case tagImplicit1:
			var other cryptobyte.String
			var format asn1.ObjectIdentifier
			var info cryptobyte.String
			var infoTag cbasn1.Tag
			if el.ReadASN1(&other, tagImplicit1) &&
				other.ReadASN1ObjectIdentifier(&format) &&
				other.ReadAnyASN1Element(&info, &infoTag) &&
				format.Equal(OIDOCSPRevocationInfoFormat) {
				ocsps = append(ocsps, info)
			}
		}
	}
	return crls, ocsps
}

func elementsOf(element []byte, outer, inner cbasn1.Tag) [][]byte {
	if len(element) == 0 {
		return nil
	}
	s := cryptobyte.String(element)
	var body cryptobyte.String
	if !s.ReadASN1(&body, outer) {
		return nil
	}
	var out [][]byte
	for !body.Empty() {
		var el cryptobyte.String
		var tag cbasn1.Tag
		if !body.ReadAnyASN1Element(&el, &tag) {
			break
		}
		if tag == inner {
			out = append(out, el)
		}
	}
	return out
}

// Signer returns the first signer info.
func (sd *SignedData) Signer() (*SignerInfo, error) {
	if len(sd.Signers) == 0 {
		return nil, ErrNoSigner
	}
	return sd.Signers[0], nil
}

// FindCertificate returns the certificate identified by the signer identifier.
func (si *SignerInfo) FindCertificate(certs []*x509.Certificate) *x509.Certificate {
	for _, cert := range certs {
		if si.IssuerSerial != nil {
			if cert.SerialNumber.Cmp(si.IssuerSerial.SerialNumber) == 0 &&
				bytes.Equal(cert.RawIssuer, si.IssuerSerial.Issuer.FullBytes) {
				return cert
			}
			continue
		}
		if len(si.SubjectKeyID) > 0 && bytes.Equal(cert.SubjectKeyId, si.SubjectKeyID) {
			return cert
		}
	}
	return nil
}

// Raw returns the current DER encoding of the signer info.
func (si *SignerInfo) Raw() []byte {
	raw, err := si.Bytes()
	if err != nil {
		return nil
	}
	return raw
}
