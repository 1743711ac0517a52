package cms

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"math/big"
	"time"

	"github.com/georgepadayatti/goers/digest"
)

// SignatureAlgorithm represents a signature algorithm with its digest.
type SignatureAlgorithm struct {
	Digest             digest.Algorithm
	SignatureAlgorithm asn1.ObjectIdentifier
}

// Common signature algorithms
var (
	SHA256WithRSA = SignatureAlgorithm{
		Digest:             digest.SHA256,
		SignatureAlgorithm: OIDSHA256WithRSA,
	}
	SHA384WithRSA = SignatureAlgorithm{
		Digest:             digest.SHA384,
		SignatureAlgorithm: OIDSHA384WithRSA,
	}
	SHA512WithRSA = SignatureAlgorithm{
		Digest:             digest.SHA512,
		SignatureAlgorithm: OIDSHA512WithRSA,
	}
	SHA256WithECDSA = SignatureAlgorithm{
		Digest:             digest.SHA256,
		SignatureAlgorithm: OIDECDSAWithSHA256,
	}
	SHA384WithECDSA = SignatureAlgorithm{
		Digest:             digest.SHA384,
		SignatureAlgorithm: OIDECDSAWithSHA384,
	}
	SHA512WithECDSA = SignatureAlgorithm{
		Digest:             digest.SHA512,
		SignatureAlgorithm: OIDECDSAWithSHA512,
	}
)

// AlgorithmFor picks the signature algorithm matching the key type.
func AlgorithmFor(key crypto.Signer, alg digest.Algorithm) (SignatureAlgorithm, error) {
	alg = alg.OrDefault()
	switch key.Public().(type) {
	case *rsa.PublicKey:
		switch alg {
		case digest.SHA384:
			return SHA384WithRSA, nil
		case digest.SHA512:
			return SHA512WithRSA, nil
		case digest.SHA256:
			return SHA256WithRSA, nil
		}
	case *ecdsa.PublicKey:
		switch alg {
		case digest.SHA384:
			return SHA384WithECDSA, nil
		case digest.SHA512:
			return SHA512WithECDSA, nil
		case digest.SHA256:
			return SHA256WithECDSA, nil
		}
	case ed25519.PublicKey:
		return SignatureAlgorithm{Digest: digest.SHA512, SignatureAlgorithm: OIDEd25519}, nil
	}
	return SignatureAlgorithm{}, fmt.Errorf("%w: %T with %s", ErrUnsupportedAlgorithm, key.Public(), alg)
}

type signedDataASN1 struct {
	Version          int
	DigestAlgorithms []AlgorithmIdentifier `asn1:"set"`
	EncapContentInfo encapsulatedContentInfo
	Certificates     []asn1.RawValue `asn1:"optional,implicit,tag:0,set"`
	CRLs             []asn1.RawValue `asn1:"optional,implicit,tag:1,set"`
	SignerInfos      []signerInfoASN1 `asn1:"set"`
}

type encapsulatedContentInfo struct {
	EContentType asn1.ObjectIdentifier
	EContent     asn1.RawValue `asn1:"explicit,optional,tag:0"`
}

type signerInfoASN1 struct {
	Version            int
	SID                IssuerAndSerialNumber
	DigestAlgorithm    AlgorithmIdentifier
	SignedAttrs        []Attribute `asn1:"optional,implicit,tag:0,set"`
	SignatureAlgorithm AlgorithmIdentifier
	Signature          []byte
	UnsignedAttrs      []Attribute `asn1:"optional,implicit,tag:1,set"`
}

// SigningCertificateV2 represents the signing certificate attribute.
type SigningCertificateV2 struct {
	Certs []ESSCertIDv2
}

// ESSCertIDv2 represents a certificate identifier.
type ESSCertIDv2 struct {
	HashAlgorithm AlgorithmIdentifier `asn1:"optional"`
	CertHash      []byte
	IssuerSerial  IssuerSerial `asn1:"optional"`
}

// IssuerSerial identifies a certificate by issuer and serial.
type IssuerSerial struct {
	Issuer       GeneralNames
	SerialNumber *big.Int
}

// GeneralNames represents a sequence of GeneralName.
type GeneralNames struct {
	Names []asn1.RawValue
}

// CMSBuilder builds CMS signed data structures.
type CMSBuilder struct {
	Certificate *x509.Certificate
	CertChain   []*x509.Certificate
	PrivateKey  crypto.Signer
	Algorithm   SignatureAlgorithm
	SigningTime time.Time

	// ContentType is the eContentType, id-data when unset.
	ContentType asn1.ObjectIdentifier

	// Encapsulate embeds the signed content instead of producing a detached
	// signature.
	Encapsulate bool

	// CRLs and OCSPResponses are embedded as revocation values.
	CRLs          [][]byte
	OCSPResponses [][]byte

	// UnsignedAttributes are appended to the signer info.
	UnsignedAttributes []Attribute
}

// NewCMSBuilder creates a new CMS builder.
func NewCMSBuilder(cert *x509.Certificate, key crypto.Signer, alg SignatureAlgorithm) *CMSBuilder {
	return &CMSBuilder{
		Certificate: cert,
		PrivateKey:  key,
		Algorithm:   alg,
		SigningTime: time.Now().UTC(),
	}
}

// SetCertificateChain sets the certificate chain.
func (b *CMSBuilder) SetCertificateChain(chain []*x509.Certificate) {
	b.CertChain = chain
}

// SetSigningTime sets the signing time.
func (b *CMSBuilder) SetSigningTime(t time.Time) {
	b.SigningTime = t.UTC()
}

func (b *CMSBuilder) contentType() asn1.ObjectIdentifier {
	if len(b.ContentType) == 0 {
		return OIDData
	}
	return b.ContentType
}

// Sign creates a CMS signature for the given data.
func (b *CMSBuilder) Sign(data []byte) ([]byte, error) {
	if b.Certificate == nil || b.PrivateKey == nil {
		return nil, ErrMissingCertificate
	}
	alg := b.Algorithm.Digest.OrDefault()
	messageDigest, err := digest.Compute(alg, data)
	if err != nil {
		return nil, err
	}

	signedAttrs, err := b.buildSignedAttributes(messageDigest.Value)
	if err != nil {
		return nil, fmt.Errorf("failed to build signed attributes: %w", err)
	}
	signedAttrsBytes, err := asn1.Marshal(struct {
		Attrs []Attribute `asn1:"set"`
	}{signedAttrs})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal signed attributes: %w", err)
	}
	// unwrap the helper SEQUENCE, keep the inner SET
	var wrapper asn1.RawValue
	if _, err := asn1.Unmarshal(signedAttrsBytes, &wrapper); err != nil {
		return nil, err
	}
	signedAttrsBytes = wrapper.Bytes

	signature, err := b.signAttributes(signedAttrsBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}

	digestAlg := AlgorithmIdentifier{Algorithm: alg.OID(), Parameters: asn1.NullRawValue}
	signerInfo := signerInfoASN1{
		Version: 1,
		SID: IssuerAndSerialNumber{
			Issuer:       asn1.RawValue{FullBytes: b.Certificate.RawIssuer},
			SerialNumber: b.Certificate.SerialNumber,
		},
		DigestAlgorithm: digestAlg,
		SignedAttrs:     signedAttrs,
		SignatureAlgorithm: AlgorithmIdentifier{
			Algorithm:  b.Algorithm.SignatureAlgorithm,
			Parameters: signatureAlgorithmParameters(b.Algorithm.SignatureAlgorithm),
		},
		Signature:     signature,
		UnsignedAttrs: b.UnsignedAttributes,
	}

	version := 1
	if !b.contentType().Equal(OIDData) {
		version = 3
	}
	signedData := signedDataASN1{
		Version:          version,
		DigestAlgorithms: []AlgorithmIdentifier{digestAlg},
		EncapContentInfo: encapsulatedContentInfo{EContentType: b.contentType()},
		SignerInfos:      []signerInfoASN1{signerInfo},
	}
	if b.Encapsulate {
		content, err := asn1.Marshal(data)
		if err != nil {
			return nil, err
		}
		signedData.EncapContentInfo.EContent = asn1.RawValue{
			Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: content,
		}
	}

	signedData.Certificates = append(signedData.Certificates,
		asn1.RawValue{FullBytes: b.Certificate.Raw})
	for _, cert := range b.CertChain {
		signedData.Certificates = append(signedData.Certificates,
			asn1.RawValue{FullBytes: cert.Raw})
	}
	for _, crl := range b.CRLs {
		signedData.CRLs = append(signedData.CRLs, asn1.RawValue{FullBytes: crl})
	}
	for _, resp := range b.OCSPResponses {
		other, err := asn1.Marshal(struct {
			Format asn1.ObjectIdentifier
			Info   asn1.RawValue
		}{OIDOCSPRevocationInfoFormat, asn1.RawValue{FullBytes: resp}})
		if err != nil {
			return nil, err
		}
		// retag the SEQUENCE as [1] IMPLICIT OtherRevocationInfoFormat
		other[0] = 0xA1
		signedData.CRLs = append(signedData.CRLs, asn1.RawValue{FullBytes: other})
	}

	signedDataBytes, err := asn1.Marshal(signedData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal signed data: %w", err)
	}

	contentInfo := ContentInfo{
		ContentType: OIDSignedData,
		Content:     asn1.RawValue{Class: 2, Tag: 0, IsCompound: true, Bytes: signedDataBytes},
	}
	return asn1.Marshal(contentInfo)
}

func signatureAlgorithmParameters(oid asn1.ObjectIdentifier) asn1.RawValue {
	switch {
	case oid.Equal(OIDSHA256WithRSA),
		oid.Equal(OIDSHA384WithRSA),
		oid.Equal(OIDSHA512WithRSA):
		return asn1.NullRawValue
	default:
		return asn1.RawValue{} // omit
	}
}

// buildSignedAttributes builds the signed attributes.
func (b *CMSBuilder) buildSignedAttributes(messageDigest []byte) ([]Attribute, error) {
	var attrs []Attribute

	contentTypeValue, err := asn1.Marshal(b.contentType())
	if err != nil {
		return nil, err
	}
	attrs = append(attrs, Attribute{
		Type:   OIDContentType,
		Values: []asn1.RawValue{{FullBytes: contentTypeValue}},
	})

	digestValue, err := asn1.Marshal(messageDigest)
	if err != nil {
		return nil, err
	}
	attrs = append(attrs, Attribute{
		Type:   OIDMessageDigest,
		Values: []asn1.RawValue{{FullBytes: digestValue}},
	})

	signingTimeValue, err := asn1.MarshalWithParams(b.SigningTime.UTC(), "utc")
	if err != nil {
		return nil, err
	}
	attrs = append(attrs, Attribute{
		Type:   OIDSigningTime,
		Values: []asn1.RawValue{{FullBytes: signingTimeValue}},
	})

	alg := b.Algorithm.Digest.OrDefault()
	issuerSerial := IssuerSerial{
		Issuer: GeneralNames{
			Names: []asn1.RawValue{
				{
					Class:      asn1.ClassContextSpecific,
					Tag:        4, // directoryName
					IsCompound: true,
					Bytes:      b.Certificate.RawIssuer,
				},
			},
		},
		SerialNumber: b.Certificate.SerialNumber,
	}
	signingCert := SigningCertificateV2{
		Certs: []ESSCertIDv2{
			{
				HashAlgorithm: AlgorithmIdentifier{Algorithm: alg.OID(), Parameters: asn1.NullRawValue},
				CertHash:      alg.Sum(b.Certificate.Raw),
				IssuerSerial:  issuerSerial,
			},
		},
	}
	signingCertValue, err := asn1.Marshal(signingCert)
	if err != nil {
		return nil, err
	}
	attrs = append(attrs, Attribute{
		Type:   OIDSigningCertificateV2,
		Values: []asn1.RawValue{{FullBytes: signingCertValue}},
	})

	return attrs, nil
}

// signAttributes signs the DER SET of signed attributes with the private key.
func (b *CMSBuilder) signAttributes(signedAttrs []byte) ([]byte, error) {
	if _, ok := b.PrivateKey.Public().(ed25519.PublicKey); ok {
		return b.PrivateKey.Sign(rand.Reader, signedAttrs, crypto.Hash(0))
	}
	alg := b.Algorithm.Digest.OrDefault()
	attrDigest := alg.Sum(signedAttrs)
	switch key := b.PrivateKey.(type) {
	case *rsa.PrivateKey:
		return rsa.SignPKCS1v15(rand.Reader, key, alg.CryptoHash(), attrDigest)
	default:
		return b.PrivateKey.Sign(rand.Reader, attrDigest, alg.CryptoHash())
	}
}
