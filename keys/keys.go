// Package keys loads certificates, private keys and PKCS#12 bundles from
// PEM and DER encoded files, and builds trust stores from them.
package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"software.sslmate.com/src/go-pkcs12"

	"github.com/georgepadayatti/goers/certvalidator"
)

// Common errors
var (
	ErrNoCertFound      = errors.New("no certificate found in data")
	ErrNoKeyFound       = errors.New("no private key found in data")
	ErrUnknownKeyType   = errors.New("unknown private key type")
	ErrInvalidPEMBlock  = errors.New("invalid PEM block")
	ErrDecryptionFailed = errors.New("failed to decrypt private key")
	ErrMultipleCerts    = errors.New("expected exactly one certificate")
	ErrNoTrustAnchor    = errors.New("no trust anchor configured")
)

// PrivateKey is a private key usable by a timestamp signer.
type PrivateKey interface {
	crypto.Signer
}

// Credential is a signing certificate with its key and the certificates
// that chain it to a root.
type Credential struct {
	Certificate *x509.Certificate
	PrivateKey  PrivateKey
	CACerts     []*x509.Certificate
}

// LoadCertFromPemDer loads a single certificate from a PEM or DER encoded file.
func LoadCertFromPemDer(filename string) (*x509.Certificate, error) {
	certs, err := LoadCertsFromPemDer(filename)
	if err != nil {
		return nil, err
	}
	if len(certs) != 1 {
		return nil, fmt.Errorf("%w: found %d certificates in %s", ErrMultipleCerts, len(certs), filename)
	}
	return certs[0], nil
}

// LoadCertsFromPemDer loads certificates from a PEM or DER encoded file.
func LoadCertsFromPemDer(filename string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	return LoadCertsFromPemDerData(data)
}

// LoadCertsFromPemDerData loads certificates from PEM or DER encoded data.
// PEM blocks other than CERTIFICATE are skipped.
func LoadCertsFromPemDerData(data []byte) ([]*x509.Certificate, error) {
	if !isPEM(data) {
		certs, err := x509.ParseCertificates(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DER certificate: %w", err)
		}
		if len(certs) == 0 {
			return nil, ErrNoCertFound
		}
		return certs, nil
	}

	var certs []*x509.Certificate
	for rest := data; len(rest) > 0; {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, ErrNoCertFound
	}
	return certs, nil
}

// LoadCertsFromPemDerFiles loads certificates from multiple files.
func LoadCertsFromPemDerFiles(filenames []string) ([]*x509.Certificate, error) {
	var allCerts []*x509.Certificate
	for _, filename := range filenames {
		certs, err := LoadCertsFromPemDer(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to load certs from %s: %w", filename, err)
		}
		allCerts = append(allCerts, certs...)
	}
	return allCerts, nil
}

// LoadPrivateKeyFromPemDer loads a private key from a PEM or DER encoded file.
func LoadPrivateKeyFromPemDer(filename string, passphrase []byte) (PrivateKey, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	return LoadPrivateKeyFromPemDerData(data, passphrase)
}

// LoadPrivateKeyFromPemDerData loads a private key from PEM or DER encoded data.
func LoadPrivateKeyFromPemDerData(data []byte, passphrase []byte) (PrivateKey, error) {
	if !isPEM(data) {
		return parseDERKey(data)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, ErrInvalidPEMBlock
	}
	der := block.Bytes
	if x509.IsEncryptedPEMBlock(block) { //nolint:staticcheck
		if passphrase == nil {
			return nil, fmt.Errorf("%w: private key is encrypted but no passphrase provided", ErrDecryptionFailed)
		}
		var err error
		der, err = x509.DecryptPEMBlock(block, passphrase) //nolint:staticcheck
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
		}
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(der)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(der)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(der)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PKCS#8 private key: %w", err)
		}
		return toPrivateKey(key)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKeyType, block.Type)
	}
}

func parseDERKey(der []byte) (PrivateKey, error) {
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		return toPrivateKey(key)
	}
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}
	return nil, ErrNoKeyFound
}

func toPrivateKey(key interface{}) (PrivateKey, error) {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return k, nil
	case *ecdsa.PrivateKey:
		return k, nil
	case ed25519.PrivateKey:
		return k, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKeyType, key)
	}
}

func isPEM(data []byte) bool {
	return len(data) > 10 && string(data[:5]) == "-----"
}

// LoadCredential loads a certificate and its private key from PEM or DER
// files.
func LoadCredential(certFile, keyFile string, passphrase []byte) (*Credential, error) {
	certs, err := LoadCertsFromPemDer(certFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate: %w", err)
	}
	key, err := LoadPrivateKeyFromPemDer(keyFile, passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to load private key: %w", err)
	}
	return &Credential{Certificate: certs[0], PrivateKey: key, CACerts: certs[1:]}, nil
}

// LoadPKCS12 loads a credential from a PKCS#12 file.
func LoadPKCS12(filename, password string) (*Credential, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	return LoadPKCS12Data(data, password)
}

// LoadPKCS12Data decodes a PKCS#12 bundle.
func LoadPKCS12Data(data []byte, password string) (*Credential, error) {
	key, cert, caCerts, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		return nil, fmt.Errorf("failed to decode PKCS#12 data: %w", err)
	}
	signer, err := toPrivateKey(key)
	if err != nil {
		return nil, err
	}
	return &Credential{Certificate: cert, PrivateKey: signer, CACerts: caCerts}, nil
}

// LoadTrustStore builds a trust store from anchor and intermediate
// certificate files.
func LoadTrustStore(anchorFiles, intermediateFiles []string) (*certvalidator.TrustStore, error) {
	if len(anchorFiles) == 0 {
		return nil, ErrNoTrustAnchor
	}
	anchors, err := LoadCertsFromPemDerFiles(anchorFiles)
	if err != nil {
		return nil, err
	}
	intermediates, err := LoadCertsFromPemDerFiles(intermediateFiles)
	if err != nil {
		return nil, err
	}

	store := certvalidator.NewTrustStore()
	for _, cert := range anchors {
		store.AddCertificate(cert)
	}
	for _, cert := range intermediates {
		store.AddIntermediate(cert)
	}
	return store, nil
}
