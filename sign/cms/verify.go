package cms

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"time"

	"github.com/georgepadayatti/goers/digest"
)

// ErrMessageDigestMismatch is returned when the content does not match the
// message-digest signed attribute.
var ErrMessageDigestMismatch = errors.New("message digest mismatch")

// MessageDigest returns the message-digest signed attribute.
func (si *SignerInfo) MessageDigest() ([]byte, error) {
	for _, attr := range si.SignedAttributes {
		if attr.Type.Equal(OIDMessageDigest) && len(attr.Values) > 0 {
			var md []byte
			if _, err := asn1.Unmarshal(attr.Values[0].FullBytes, &md); err != nil {
				return nil, fmt.Errorf("%w: malformed message digest: %v", ErrInvalidFormat, err)
			}
			return md, nil
		}
	}
	return nil, fmt.Errorf("message digest attribute not found")
}

// SigningTime returns the signing-time signed attribute.
func (si *SignerInfo) SigningTime() (time.Time, error) {
	for _, attr := range si.SignedAttributes {
		if attr.Type.Equal(OIDSigningTime) && len(attr.Values) > 0 {
			var t time.Time
			if _, err := asn1.Unmarshal(attr.Values[0].FullBytes, &t); err != nil {
				return time.Time{}, fmt.Errorf("failed to parse signing time: %w", err)
			}
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("signing time not found")
}

// VerifyContent checks the message-digest attribute against content.
func (si *SignerInfo) VerifyContent(content []byte) error {
	alg, err := digest.FromOID(si.DigestAlgorithm)
	if err != nil {
		return err
	}
	md, err := si.MessageDigest()
	if err != nil {
		return err
	}
	if !bytes.Equal(alg.Sum(content), md) {
		return ErrMessageDigestMismatch
	}
	return nil
}

// VerifySignature verifies the signature value against the signer certificate.
// Signatures without signed attributes are checked over content.
func (si *SignerInfo) VerifySignature(cert *x509.Certificate, content []byte) error {
	if cert == nil {
		return ErrMissingCertificate
	}
	alg, err := digest.FromOID(si.DigestAlgorithm)
	if err != nil {
		return err
	}
	signed := si.SignedAttributesDER()
	if signed == nil {
		signed = content
	}
	if err := verifySignature(cert.PublicKey, si.SignatureAlgorithm, alg, signed, si.SignatureValue); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

// Verify checks the first signer of the SignedData. Detached content must be
// supplied, encapsulated content is used otherwise. It returns the signer
// certificate.
func (sd *SignedData) Verify(detached []byte) (*x509.Certificate, error) {
	signer, err := sd.Signer()
	if err != nil {
		return nil, err
	}
	content := sd.EContent
	if content == nil {
		content = detached
	}
	cert := signer.FindCertificate(sd.Certificates())
	if cert == nil {
		return nil, ErrMissingCertificate
	}
	if len(signer.SignedAttributes) > 0 {
		if err := signer.VerifyContent(content); err != nil {
			return cert, err
		}
	}
	if err := signer.VerifySignature(cert, content); err != nil {
		return cert, err
	}
	return cert, nil
}

// VerifyCMSSignature verifies a CMS signature against detached data.
func VerifyCMSSignature(cmsData, signedContent []byte) error {
	sd, err := ParseSignedData(cmsData)
	if err != nil {
		return err
	}
	_, err = sd.Verify(signedContent)
	return err
}

// verifySignature verifies a signature using the public key.
func verifySignature(pub crypto.PublicKey, sigAlg asn1.ObjectIdentifier, alg digest.Algorithm, signed, sig []byte) error {
	if key, ok := pub.(ed25519.PublicKey); ok {
		if !ed25519.Verify(key, signed, sig) {
			return errors.New("ed25519 verification failed")
		}
		return nil
	}
	hashed := alg.Sum(signed)
	switch key := pub.(type) {
	case *rsa.PublicKey:
		if sigAlg.Equal(OIDRSAPSS) {
			return rsa.VerifyPSS(key, alg.CryptoHash(), hashed, sig, nil)
		}
		return rsa.VerifyPKCS1v15(key, alg.CryptoHash(), hashed, sig)
	case *ecdsa.PublicKey:
		if !ecdsa.VerifyASN1(key, hashed, sig) {
			return errors.New("ecdsa verification failed")
		}
		return nil
	default:
		return fmt.Errorf("%w: unsupported key type %T", ErrUnsupportedAlgorithm, pub)
	}
}

// GetSignerCertificates extracts signer certificates from CMS data.
func GetSignerCertificates(cmsData []byte) ([]*x509.Certificate, error) {
	sd, err := ParseSignedData(cmsData)
	if err != nil {
		return nil, err
	}
	return sd.Certificates(), nil
}
