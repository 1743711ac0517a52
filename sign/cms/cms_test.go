package cms

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"math/big"
	"testing"
	"time"
)

// Helper to generate test certificate and key
func generateTestCertAndKey(t *testing.T) (*x509.Certificate, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName:   "Test Signer",
			Organization: []string{"Test Org"},
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		t.Fatalf("Failed to parse certificate: %v", err)
	}

	return cert, key
}

func TestCMSBuilderSign(t *testing.T) {
	cert, key := generateTestCertAndKey(t)

	builder := NewCMSBuilder(cert, key, SHA256WithRSA)
	data := []byte("Test data to sign")

	signature, err := builder.Sign(data)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	signedData, err := ParseSignedData(signature)
	if err != nil {
		t.Fatalf("ParseSignedData failed: %v", err)
	}

	if len(signedData.Signers) != 1 {
		t.Errorf("Expected 1 signer info, got %d", len(signedData.Signers))
	}
	if len(signedData.Certificates()) != 1 {
		t.Errorf("Expected 1 certificate, got %d", len(signedData.Certificates()))
	}
	if signedData.EContent != nil {
		t.Error("Expected detached signature")
	}
	if !signedData.EContentType.Equal(OIDData) {
		t.Errorf("Expected id-data, got %v", signedData.EContentType)
	}
}

func TestCMSBuilderWithChain(t *testing.T) {
	cert, key := generateTestCertAndKey(t)

	builder := NewCMSBuilder(cert, key, SHA256WithRSA)
	builder.SetCertificateChain([]*x509.Certificate{cert})

	signature, err := builder.Sign([]byte("Test data"))
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	certs, err := GetSignerCertificates(signature)
	if err != nil {
		t.Fatalf("GetSignerCertificates failed: %v", err)
	}
	if len(certs) != 2 {
		t.Errorf("Expected 2 certificates (cert + chain), got %d", len(certs))
	}
}

func TestCMSBuilderSetSigningTime(t *testing.T) {
	cert, key := generateTestCertAndKey(t)

	builder := NewCMSBuilder(cert, key, SHA256WithRSA)
	testTime := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	builder.SetSigningTime(testTime)

	signature, err := builder.Sign([]byte("Test data"))
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	signedData, err := ParseSignedData(signature)
	if err != nil {
		t.Fatalf("ParseSignedData failed: %v", err)
	}
	signingTime, err := signedData.Signers[0].SigningTime()
	if err != nil {
		t.Fatalf("SigningTime failed: %v", err)
	}
	if !signingTime.Equal(testTime) {
		t.Errorf("Expected signing time %v, got %v", testTime, signingTime)
	}
}

func TestVerifyCMSSignature(t *testing.T) {
	cert, key := generateTestCertAndKey(t)

	builder := NewCMSBuilder(cert, key, SHA256WithRSA)
	data := []byte("Test data to sign and verify")

	signature, err := builder.Sign(data)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	if err := VerifyCMSSignature(signature, data); err != nil {
		t.Errorf("Expected valid signature, got %v", err)
	}
}

func TestVerifyCMSSignatureWithWrongData(t *testing.T) {
	cert, key := generateTestCertAndKey(t)

	builder := NewCMSBuilder(cert, key, SHA256WithRSA)
	signature, err := builder.Sign([]byte("Original data"))
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	err = VerifyCMSSignature(signature, []byte("Tampered data"))
	if !errors.Is(err, ErrMessageDigestMismatch) {
		t.Errorf("Expected ErrMessageDigestMismatch, got %v", err)
	}
}

func TestVerifyTamperedSignatureValue(t *testing.T) {
	cert, key := generateTestCertAndKey(t)
	data := []byte("Original data")

	signature, err := NewCMSBuilder(cert, key, SHA256WithRSA).Sign(data)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	sd, err := ParseSignedData(signature)
	if err != nil {
		t.Fatalf("ParseSignedData failed: %v", err)
	}

	sd.Signers[0].SignatureValue[0] ^= 0xFF
	signer := sd.Signers[0]
	if err := signer.VerifySignature(cert, data); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("Expected ErrInvalidSignature, got %v", err)
	}
}

func TestEncapsulatedECDSA(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(7),
		Subject:      pkix.Name{CommonName: "EC Signer"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}
	cert, _ := x509.ParseCertificate(der)

	alg, err := AlgorithmFor(key, "")
	if err != nil {
		t.Fatalf("AlgorithmFor failed: %v", err)
	}
	builder := NewCMSBuilder(cert, key, alg)
	builder.Encapsulate = true
	builder.ContentType = OIDTSTInfo

	content := []byte("encapsulated")
	signature, err := builder.Sign(content)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	sd, err := ParseSignedData(signature)
	if err != nil {
		t.Fatalf("ParseSignedData failed: %v", err)
	}
	if !bytes.Equal(sd.EContent, content) {
		t.Errorf("Expected encapsulated content %q, got %q", content, sd.EContent)
	}
	if !sd.EContentType.Equal(OIDTSTInfo) {
		t.Errorf("Expected TSTInfo content type, got %v", sd.EContentType)
	}
	signer, err := sd.Verify(nil)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if signer.Subject.CommonName != "EC Signer" {
		t.Errorf("Expected 'EC Signer', got '%s'", signer.Subject.CommonName)
	}
}

func TestReencodeIsStable(t *testing.T) {
	cert, key := generateTestCertAndKey(t)

	signature, err := NewCMSBuilder(cert, key, SHA256WithRSA).Sign([]byte("Test data"))
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	sd, err := ParseSignedData(signature)
	if err != nil {
		t.Fatalf("ParseSignedData failed: %v", err)
	}
	reencoded, err := sd.Bytes()
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}
	if !bytes.Equal(signature, reencoded) {
		t.Error("Expected re-encoding to reproduce the input")
	}
}

func TestEvidenceRecordAttributes(t *testing.T) {
	cert, key := generateTestCertAndKey(t)
	data := []byte("Test data")

	signature, err := NewCMSBuilder(cert, key, SHA256WithRSA).Sign(data)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	sd, err := ParseSignedData(signature)
	if err != nil {
		t.Fatalf("ParseSignedData failed: %v", err)
	}

	first, _ := asn1.Marshal([]byte("first record"))
	second, _ := asn1.Marshal([]byte("second record"))
	signer := sd.Signers[0]
	signer.AddEvidenceRecord(first)
	signer.AddEvidenceRecord(second)

	if len(signer.UnsignedAttributes) != 1 {
		t.Fatalf("Expected values appended to one attribute, got %d attributes", len(signer.UnsignedAttributes))
	}
	if signer.CountEvidenceRecords() != 2 {
		t.Errorf("Expected 2 evidence records, got %d", signer.CountEvidenceRecords())
	}

	encoded, err := sd.Bytes()
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}
	reparsed, err := ParseSignedData(encoded)
	if err != nil {
		t.Fatalf("ParseSignedData failed: %v", err)
	}
	records := reparsed.Signers[0].EvidenceRecords()
	if len(records) != 2 || !bytes.Equal(records[0], first) || !bytes.Equal(records[1], second) {
		t.Fatalf("Expected records to keep their order, got %d records", len(records))
	}
	if err := VerifyCMSSignature(encoded, data); err != nil {
		t.Errorf("Unsigned attributes must not break the signature: %v", err)
	}

	strip := reparsed.Clone()
	strip.Signers[0].StripEvidenceRecords(1)
	if strip.Signers[0].CountEvidenceRecords() != 1 {
		t.Errorf("Expected 1 record after stripping, got %d", strip.Signers[0].CountEvidenceRecords())
	}
	if reparsed.Signers[0].CountEvidenceRecords() != 2 {
		t.Error("Clone must not share attributes with the original")
	}

	strip.Signers[0].StripEvidenceRecords(0)
	stripped, err := strip.Bytes()
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}
	if !bytes.Equal(stripped, signature) {
		t.Error("Expected stripping all records to restore the original encoding")
	}
}

func TestCounterSignatures(t *testing.T) {
	cert, key := generateTestCertAndKey(t)

	master, err := NewCMSBuilder(cert, key, SHA256WithRSA).Sign([]byte("content"))
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	sd, _ := ParseSignedData(master)

	counter, err := NewCMSBuilder(cert, key, SHA256WithRSA).Sign(sd.Signers[0].SignatureValue)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	csd, _ := ParseSignedData(counter)

	sd.Signers[0].AddUnsignedAttribute(OIDCounterSignature, csd.Signers[0].Raw())
	encoded, err := sd.Bytes()
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}
	reparsed, err := ParseSignedData(encoded)
	if err != nil {
		t.Fatalf("ParseSignedData failed: %v", err)
	}
	counters, err := reparsed.Signers[0].CounterSignatures()
	if err != nil {
		t.Fatalf("CounterSignatures failed: %v", err)
	}
	if len(counters) != 1 {
		t.Fatalf("Expected 1 counter signature, got %d", len(counters))
	}
	if !bytes.Equal(counters[0].SignatureValue, csd.Signers[0].SignatureValue) {
		t.Error("Counter signature value mismatch")
	}
}

func TestParseRejectsNonSignedData(t *testing.T) {
	wrong, _ := asn1.Marshal(ContentInfo{ContentType: OIDData})
	if _, err := ParseSignedData(wrong); !errors.Is(err, ErrNotSignedData) {
		t.Errorf("Expected ErrNotSignedData, got %v", err)
	}
	if _, err := ParseSignedData([]byte("garbage")); !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("Expected ErrInvalidFormat, got %v", err)
	}
}

func TestRevocationValues(t *testing.T) {
	cert, key := generateTestCertAndKey(t)

	crl, _ := asn1.Marshal(struct{ A int }{1})
	ocspResp, _ := asn1.Marshal(struct{ B int }{2})

	builder := NewCMSBuilder(cert, key, SHA256WithRSA)
	builder.CRLs = [][]byte{crl}
	builder.OCSPResponses = [][]byte{ocspResp}
	signature, err := builder.Sign([]byte("data"))
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	sd, err := ParseSignedData(signature)
	if err != nil {
		t.Fatalf("ParseSignedData failed: %v", err)
	}
	crls, ocsps := sd.RevocationValues()
	if len(crls) != 1 || !bytes.Equal(crls[0], crl) {
		t.Errorf("Expected 1 CRL, got %d", len(crls))
	}
	if len(ocsps) != 1 || !bytes.Equal(ocsps[0], ocspResp) {
		t.Errorf("Expected 1 OCSP response, got %d", len(ocsps))
	}
}

func TestSignatureAlgorithms(t *testing.T) {
	cert, key := generateTestCertAndKey(t)

	algorithms := []SignatureAlgorithm{
		SHA256WithRSA,
		SHA384WithRSA,
		SHA512WithRSA,
	}

	data := []byte("Test data")

	for _, alg := range algorithms {
		t.Run(alg.Digest.String(), func(t *testing.T) {
			signature, err := NewCMSBuilder(cert, key, alg).Sign(data)
			if err != nil {
				t.Fatalf("Sign failed: %v", err)
			}
			if err := VerifyCMSSignature(signature, data); err != nil {
				t.Errorf("Verify failed: %v", err)
			}
		})
	}
}

func TestOIDs(t *testing.T) {
	tests := []struct {
		oid      asn1.ObjectIdentifier
		expected string
	}{
		{OIDData, "1.2.840.113549.1.7.1"},
		{OIDSignedData, "1.2.840.113549.1.7.2"},
		{OIDInternalEvidenceRecord, "1.2.840.113549.1.9.16.2.49"},
		{OIDExternalEvidenceRecord, "1.2.840.113549.1.9.16.2.50"},
		{OIDCounterSignature, "1.2.840.113549.1.9.6"},
		{OIDSignatureTimeStampToken, "1.2.840.113549.1.9.16.2.14"},
	}

	for _, tt := range tests {
		if tt.oid.String() != tt.expected {
			t.Errorf("Expected OID %s, got %s", tt.expected, tt.oid.String())
		}
	}
}
