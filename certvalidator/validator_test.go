package certvalidator

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"testing"
	"time"

	"golang.org/x/crypto/ocsp"
)

type testPKI struct {
	root    *x509.Certificate
	rootKey crypto.Signer
	leaf    *x509.Certificate
}

func newTestPKI(t *testing.T, leafUsage x509.ExtKeyUsage) *testPKI {
	t.Helper()
	rootKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	now := time.Now()
	rootTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Test Root"},
		NotBefore:             now.Add(-48 * time.Hour),
		NotAfter:              now.Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	rootDER, err := x509.CreateCertificate(rand.Reader, rootTemplate, rootTemplate, &rootKey.PublicKey, rootKey)
	if err != nil {
		t.Fatalf("Failed to create root: %v", err)
	}
	root, _ := x509.ParseCertificate(rootDER)

	leafKey, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	leafTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(42),
		Subject:      pkix.Name{CommonName: "Test TSA"},
		NotBefore:    now.Add(-24 * time.Hour),
		NotAfter:     now.Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{leafUsage},
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTemplate, root, &leafKey.PublicKey, rootKey)
	if err != nil {
		t.Fatalf("Failed to create leaf: %v", err)
	}
	leaf, _ := x509.ParseCertificate(leafDER)

	return &testPKI{root: root, rootKey: rootKey, leaf: leaf}
}

func TestTrustStoreVerify(t *testing.T) {
	pki := newTestPKI(t, x509.ExtKeyUsageTimeStamping)

	store := NewTrustStore()
	store.AddCertificate(pki.root)

	result, err := store.Verify(pki.leaf, time.Now(), nil)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !result.Valid {
		t.Errorf("Expected valid result, got errors %v", result.Errors)
	}
	if !result.ChainFound() {
		t.Error("Expected chain to be found")
	}
	if result.TrustAnchor.Subject.CommonName != "Test Root" {
		t.Errorf("Expected anchor Test Root, got %s", result.TrustAnchor.Subject.CommonName)
	}
	if result.RevocationStatus != RevocationUnknown {
		t.Errorf("Expected unknown revocation status, got %s", result.RevocationStatus)
	}
}

func TestTrustStoreWithoutAnchor(t *testing.T) {
	pki := newTestPKI(t, x509.ExtKeyUsageTimeStamping)

	store := NewTrustStore()
	if !store.Empty() {
		t.Error("Expected empty store")
	}
	result, err := store.Verify(pki.leaf, time.Now(), nil)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if result.Valid || result.ChainFound() {
		t.Error("Expected no chain without anchors")
	}
	if len(result.Errors) == 0 || !errors.Is(result.Errors[0], ErrInvalidChain) {
		t.Errorf("Expected ErrInvalidChain, got %v", result.Errors)
	}
}

func TestValidateExpired(t *testing.T) {
	pki := newTestPKI(t, x509.ExtKeyUsageTimeStamping)
	store := NewTrustStore()
	store.AddCertificate(pki.root)

	result, err := store.Verify(pki.leaf, time.Now().Add(72*time.Hour), nil)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if result.Valid {
		t.Error("Expected expired certificate to be invalid")
	}
	if !result.ChainFound() {
		t.Error("Expected chain to be built despite expiry")
	}
	if !errors.Is(result.Errors[0], ErrCertificateExpired) {
		t.Errorf("Expected ErrCertificateExpired, got %v", result.Errors[0])
	}
}

func TestKeyUsageRestriction(t *testing.T) {
	pki := newTestPKI(t, x509.ExtKeyUsageCodeSigning)
	store := NewTrustStore()
	store.AddCertificate(pki.root)

	ctx := store.CreateValidationContext(time.Now())
	ctx.KeyUsages = []x509.ExtKeyUsage{x509.ExtKeyUsageTimeStamping}
	result, err := NewCertificateValidator(ctx).Validate(pki.leaf)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if result.Valid {
		t.Error("Expected code signing certificate to be rejected for timestamping")
	}
	if CheckExtKeyUsage(pki.leaf, x509.ExtKeyUsageTimeStamping) {
		t.Error("Expected no timestamping usage")
	}
}

func TestRevocationFromCRL(t *testing.T) {
	pki := newTestPKI(t, x509.ExtKeyUsageTimeStamping)
	store := NewTrustStore()
	store.AddCertificate(pki.root)

	crlDER, err := x509.CreateRevocationList(rand.Reader, &x509.RevocationList{
		Number:     big.NewInt(1),
		ThisUpdate: time.Now().Add(-time.Hour),
		NextUpdate: time.Now().Add(time.Hour),
		RevokedCertificateEntries: []x509.RevocationListEntry{
			{SerialNumber: pki.leaf.SerialNumber, RevocationTime: time.Now().Add(-30 * time.Minute)},
		},
	}, pki.root, pki.rootKey)
	if err != nil {
		t.Fatalf("CreateRevocationList failed: %v", err)
	}

	rev, err := ParseRevocation(crlDER)
	if err != nil {
		t.Fatalf("ParseRevocation failed: %v", err)
	}
	if rev.Kind != KindCRL {
		t.Errorf("Expected CRL, got %s", rev.Kind)
	}
	revocations := NewRevocationStore()
	revocations.Add(rev)

	result, err := store.Verify(pki.leaf, time.Now(), revocations)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if result.RevocationStatus != RevocationRevoked {
		t.Errorf("Expected revoked, got %s", result.RevocationStatus)
	}
	if result.Valid {
		t.Error("Expected revoked certificate to be invalid")
	}

	before, _ := store.Verify(pki.leaf, time.Now().Add(-time.Hour), revocations)
	if before.RevocationStatus != RevocationGood {
		t.Errorf("Expected good before the revocation time, got %s", before.RevocationStatus)
	}
}

func TestRevocationFromOCSP(t *testing.T) {
	pki := newTestPKI(t, x509.ExtKeyUsageTimeStamping)
	store := NewTrustStore()
	store.AddCertificate(pki.root)

	respDER, err := ocsp.CreateResponse(pki.root, pki.root, ocsp.Response{
		Status:       ocsp.Good,
		SerialNumber: pki.leaf.SerialNumber,
		ThisUpdate:   time.Now().Add(-time.Hour),
		NextUpdate:   time.Now().Add(time.Hour),
	}, pki.rootKey)
	if err != nil {
		t.Fatalf("CreateResponse failed: %v", err)
	}

	rev, err := ParseRevocation(respDER)
	if err != nil {
		t.Fatalf("ParseRevocation failed: %v", err)
	}
	if rev.Kind != KindOCSP {
		t.Errorf("Expected OCSP, got %s", rev.Kind)
	}
	revocations := NewRevocationStore()
	revocations.Add(rev)

	result, err := store.Verify(pki.leaf, time.Now(), revocations)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if result.RevocationStatus != RevocationGood {
		t.Errorf("Expected good, got %s", result.RevocationStatus)
	}
	if !result.Valid {
		t.Errorf("Expected valid, got %v", result.Errors)
	}
}

func TestParseRevocationRejectsGarbage(t *testing.T) {
	if _, err := ParseRevocation([]byte{0x30, 0x03, 0x02, 0x01, 0x01}); !errors.Is(err, ErrUnknownRevocation) {
		t.Errorf("Expected ErrUnknownRevocation, got %v", err)
	}
}
