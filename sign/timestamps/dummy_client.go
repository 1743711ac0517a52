package timestamps

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/georgepadayatti/goers/digest"
	"github.com/georgepadayatti/goers/sign/cms"
)

// DummyTimeStamper acts as its own TSA for testing purposes.
// It accepts all requests and signs them using the provided certificate.
type DummyTimeStamper struct {
	// TSACert is the TSA signing certificate.
	TSACert *x509.Certificate

	// TSAKey is the TSA private key.
	TSAKey crypto.Signer

	// CertsToEmbed are additional certificates to include in the response.
	CertsToEmbed []*x509.Certificate

	// Clock supplies the generation time.
	Clock clockwork.Clock

	// IncludeNonce controls whether to echo the nonce from requests.
	IncludeNonce bool

	// SignatureDigest is the digest used for the CMS signature.
	SignatureDigest digest.Algorithm

	// Policy is the TSA policy OID.
	Policy asn1.ObjectIdentifier
}

// NewDummyTimeStamper creates a new dummy timestamper.
func NewDummyTimeStamper(cert *x509.Certificate, key crypto.Signer) *DummyTimeStamper {
	return &DummyTimeStamper{
		TSACert:      cert,
		TSAKey:       key,
		Clock:        clockwork.NewRealClock(),
		IncludeNonce: true,
		// Default TSA policy OID
		Policy: asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 4146, 2, 2},
	}
}

// WithCertsToEmbed adds certificates to embed in responses.
func (d *DummyTimeStamper) WithCertsToEmbed(certs []*x509.Certificate) *DummyTimeStamper {
	d.CertsToEmbed = certs
	return d
}

// WithFixedTime pins the generation time.
func (d *DummyTimeStamper) WithFixedTime(t time.Time) *DummyTimeStamper {
	d.Clock = clockwork.NewFakeClockAt(t)
	return d
}

// WithClock sets the clock used for generation times.
func (d *DummyTimeStamper) WithClock(clock clockwork.Clock) *DummyTimeStamper {
	d.Clock = clock
	return d
}

// WithoutNonce disables nonce echoing.
func (d *DummyTimeStamper) WithoutNonce() *DummyTimeStamper {
	d.IncludeNonce = false
	return d
}

// WithPolicy sets the TSA policy OID.
func (d *DummyTimeStamper) WithPolicy(policy asn1.ObjectIdentifier) *DummyTimeStamper {
	d.Policy = policy
	return d
}

// Timestamp implements Stamper.
func (d *DummyTimeStamper) Timestamp(ctx context.Context, imprint digest.Digest) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	reqBytes, err := CreateTimestampRequest(imprint, DefaultRequestOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var req TimeStampReq
	if _, err := asn1.Unmarshal(reqBytes, &req); err != nil {
		return nil, fmt.Errorf("failed to parse request: %w", err)
	}

	respBytes, err := d.handleRequest(&req)
	if err != nil {
		return nil, err
	}

	var resp TimeStampResp
	if _, err := asn1.Unmarshal(respBytes, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return resp.TimeStampToken.FullBytes, nil
}

// ServeHTTP answers RFC 3161 requests posted over HTTP.
func (d *DummyTimeStamper) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.Header.Get("Content-Type") != contentTypeQuery {
		http.Error(w, "expected a timestamp query", http.StatusBadRequest)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req TimeStampReq
	if _, err := asn1.Unmarshal(body, &req); err != nil {
		http.Error(w, "malformed timestamp query", http.StatusBadRequest)
		return
	}
	resp, err := d.handleRequest(&req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentTypeReply)
	_, _ = w.Write(resp)
}

// handleRequest processes a timestamp request and generates a response.
func (d *DummyTimeStamper) handleRequest(req *TimeStampReq) ([]byte, error) {
	clock := d.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	genTime := clock.Now().UTC().Truncate(time.Second)

	serialNumber, err := generateSerialNumber()
	if err != nil {
		return nil, err
	}

	tstInfo := TSTInfo{
		Version:        1,
		Policy:         d.Policy,
		MessageImprint: req.MessageImprint,
		SerialNumber:   serialNumber,
		GenTime:        genTime,
	}
	if len(req.ReqPolicy) > 0 {
		tstInfo.Policy = req.ReqPolicy
	}
	if d.IncludeNonce && req.Nonce != nil {
		tstInfo.Nonce = req.Nonce
	}

	tstInfoBytes, err := asn1.Marshal(tstInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to encode TSTInfo: %w", err)
	}

	token, err := d.createSignedCMS(tstInfoBytes, genTime)
	if err != nil {
		return nil, err
	}

	resp := TimeStampResp{
		Status: PKIStatusInfo{
			Status: 0, // granted
		},
		TimeStampToken: asn1.RawValue{
			FullBytes: token,
		},
	}

	return asn1.Marshal(resp)
}

// createSignedCMS signs the TSTInfo as encapsulated content.
func (d *DummyTimeStamper) createSignedCMS(tstInfoBytes []byte, genTime time.Time) ([]byte, error) {
	alg, err := cms.AlgorithmFor(d.TSAKey, d.SignatureDigest)
	if err != nil {
		return nil, err
	}
	builder := cms.NewCMSBuilder(d.TSACert, d.TSAKey, alg)
	builder.SetSigningTime(genTime)
	builder.SetCertificateChain(d.CertsToEmbed)
	builder.ContentType = cms.OIDTSTInfo
	builder.Encapsulate = true
	return builder.Sign(tstInfoBytes)
}

// generateSerialNumber generates a random serial number.
func generateSerialNumber() (*big.Int, error) {
	return rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
}

// DummyTimestamperConfig holds configuration for creating a dummy timestamper.
type DummyTimestamperConfig struct {
	// Certificate is the TSA certificate.
	Certificate *x509.Certificate

	// PrivateKey is the TSA private key.
	PrivateKey crypto.Signer

	// AdditionalCerts are certificates to include in responses.
	AdditionalCerts []*x509.Certificate

	// Clock supplies generation times, the real clock when nil.
	Clock clockwork.Clock

	// IncludeNonce controls nonce handling.
	IncludeNonce bool

	// Policy is the TSA policy OID.
	Policy asn1.ObjectIdentifier
}

// NewDummyTimestamperFromConfig creates a dummy timestamper from config.
func NewDummyTimestamperFromConfig(cfg *DummyTimestamperConfig) (*DummyTimeStamper, error) {
	if cfg.Certificate == nil {
		return nil, errors.New("certificate is required")
	}
	if cfg.PrivateKey == nil {
		return nil, errors.New("private key is required")
	}

	ts := NewDummyTimeStamper(cfg.Certificate, cfg.PrivateKey)
	ts.CertsToEmbed = cfg.AdditionalCerts
	if cfg.Clock != nil {
		ts.Clock = cfg.Clock
	}
	ts.IncludeNonce = cfg.IncludeNonce
	if len(cfg.Policy) > 0 {
		ts.Policy = cfg.Policy
	}

	return ts, nil
}

// CreateTestTimestamper creates a dummy timestamper with a self-signed certificate.
func CreateTestTimestamper() (*DummyTimeStamper, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName:   "Test TSA",
			Organization: []string{"Test"},
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageTimeStamping},
		BasicConstraintsValid: true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	return NewDummyTimeStamper(cert, privateKey), nil
}
