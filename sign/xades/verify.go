package xades

import (
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/moov-io/signedxml"
)

// ErrSignatureInvalid is returned when an XML signature does not verify.
var ErrSignatureInvalid = errors.New("XML signature validation failed")

// VerifySignature validates the signed references and the signature value
// of the XML signature in data. When trusted is empty the certificate of
// KeyInfo is used. It returns the signing certificate.
func VerifySignature(data []byte, trusted []*x509.Certificate) (*x509.Certificate, error) {
	validator, err := signedxml.NewValidator(string(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	certValues := make([]x509.Certificate, 0, len(trusted))
	for _, cert := range trusted {
		if cert != nil {
			certValues = append(certValues, *cert)
		}
	}
	validator.Certificates = certValues

	signed, err := validator.ValidateReferences()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	if len(signed) == 0 {
		return nil, fmt.Errorf("%w: no signed content", ErrSignatureInvalid)
	}

	signingCert := validator.SigningCert()
	if len(signingCert.Raw) == 0 {
		return nil, nil
	}
	return &signingCert, nil
}
