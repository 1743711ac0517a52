// Package timestamps provides RFC 3161 timestamp support.
package timestamps

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/georgepadayatti/goers/digest"
	"github.com/georgepadayatti/goers/sign/cms"
)

// Common errors
var (
	ErrTimestampFailed   = errors.New("timestamp request failed")
	ErrTimestampRejected = errors.New("timestamp request rejected")
	ErrInvalidTimestamp  = errors.New("invalid timestamp")
	ErrTimestampMismatch = errors.New("timestamp message imprint mismatch")
)

const (
	contentTypeQuery = "application/timestamp-query"
	contentTypeReply = "application/timestamp-reply"
)

// AlgorithmIdentifier represents an algorithm with parameters.
type AlgorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.RawValue `asn1:"optional"`
}

// MessageImprint represents the hash of the timestamped data.
type MessageImprint struct {
	HashAlgorithm AlgorithmIdentifier
	HashedMessage []byte
}

// TimeStampReq represents a timestamp request (RFC 3161).
type TimeStampReq struct {
	Version        int
	MessageImprint MessageImprint
	ReqPolicy      asn1.ObjectIdentifier `asn1:"optional"`
	Nonce          *big.Int              `asn1:"optional"`
	CertReq        bool                  `asn1:"optional,default:false"`
	Extensions     []Extension           `asn1:"optional,implicit,tag:0"`
}

// TimeStampResp represents a timestamp response (RFC 3161).
type TimeStampResp struct {
	Status         PKIStatusInfo
	TimeStampToken asn1.RawValue `asn1:"optional"`
}

// PKIStatusInfo represents the status of a PKI operation.
type PKIStatusInfo struct {
	Status       int
	StatusString []string       `asn1:"optional"`
	FailInfo     asn1.BitString `asn1:"optional"`
}

// TSTInfo represents the timestamp token info.
type TSTInfo struct {
	Version        int
	Policy         asn1.ObjectIdentifier
	MessageImprint MessageImprint
	SerialNumber   *big.Int
	GenTime        time.Time     `asn1:"generalized"`
	Accuracy       Accuracy      `asn1:"optional"`
	Ordering       bool          `asn1:"optional,default:false"`
	Nonce          *big.Int      `asn1:"optional"`
	TSA            asn1.RawValue `asn1:"optional,explicit,tag:0"`
	Extensions     []Extension   `asn1:"optional,implicit,tag:1"`
}

// Accuracy represents timestamp accuracy.
type Accuracy struct {
	Seconds int `asn1:"optional"`
	Millis  int `asn1:"optional,implicit,tag:0"`
	Micros  int `asn1:"optional,implicit,tag:1"`
}

// Extension represents an X.509 extension.
type Extension struct {
	ExtnID    asn1.ObjectIdentifier
	Critical  bool `asn1:"optional,default:false"`
	ExtnValue []byte
}

// RequestOptions configures a timestamp request.
type RequestOptions struct {
	Policy       asn1.ObjectIdentifier
	IncludeNonce bool
	RequestCerts bool
}

// DefaultRequestOptions returns default options.
func DefaultRequestOptions() *RequestOptions {
	return &RequestOptions{
		IncludeNonce: true,
		RequestCerts: true,
	}
}

// Stamper obtains a timestamp token over a message imprint.
type Stamper interface {
	Timestamp(ctx context.Context, imprint digest.Digest) ([]byte, error)
}

// HTTPStamper implements Stamper against an RFC 3161 HTTP endpoint.
type HTTPStamper struct {
	URL        string
	HTTPClient *http.Client
	Username   string
	Password   string
	Options    *RequestOptions
}

// NewHTTPStamper creates a new HTTP timestamper.
func NewHTTPStamper(url string) *HTTPStamper {
	return &HTTPStamper{
		URL: url,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		Options: DefaultRequestOptions(),
	}
}

// SetCredentials sets authentication credentials.
func (t *HTTPStamper) SetCredentials(username, password string) {
	t.Username = username
	t.Password = password
}

// Timestamp implements Stamper.
func (t *HTTPStamper) Timestamp(ctx context.Context, imprint digest.Digest) ([]byte, error) {
	opts := t.Options
	if opts == nil {
		opts = DefaultRequestOptions()
	}
	req, err := CreateTimestampRequest(imprint, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL, bytes.NewReader(req))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", contentTypeQuery)
	if t.Username != "" {
		httpReq.SetBasicAuth(t.Username, t.Password)
	}

	client := t.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTimestampFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d", ErrTimestampFailed, resp.StatusCode)
	}

	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return ParseTimestampResponse(respData, imprint)
}

// CreateTimestampRequest creates a DER-encoded timestamp request.
func CreateTimestampRequest(imprint digest.Digest, opts *RequestOptions) ([]byte, error) {
	if !imprint.Algorithm.Valid() {
		return nil, fmt.Errorf("%w: %q", digest.ErrUnsupportedAlgorithm, string(imprint.Algorithm))
	}
	req := TimeStampReq{
		Version: 1,
		MessageImprint: MessageImprint{
			HashAlgorithm: AlgorithmIdentifier{
				Algorithm:  imprint.Algorithm.OID(),
				Parameters: asn1.NullRawValue,
			},
			HashedMessage: imprint.Value,
		},
		CertReq: opts.RequestCerts,
	}

	if len(opts.Policy) > 0 {
		req.ReqPolicy = opts.Policy
	}

	if opts.IncludeNonce {
		nonce, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
		if err != nil {
			return nil, err
		}
		req.Nonce = nonce
	}

	return asn1.Marshal(req)
}

// ParseTimestampResponse parses a timestamp response and checks that the
// token covers the requested imprint.
func ParseTimestampResponse(respData []byte, imprint digest.Digest) ([]byte, error) {
	var resp TimeStampResp
	if _, err := asn1.Unmarshal(respData, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTimestamp, err)
	}

	// 0 = granted, 1 = grantedWithMods
	if resp.Status.Status > 1 {
		return nil, fmt.Errorf("%w: status %d", ErrTimestampRejected, resp.Status.Status)
	}

	token, err := ParseToken(resp.TimeStampToken.FullBytes)
	if err != nil {
		return nil, err
	}
	if !token.Matches(imprint) {
		return nil, ErrTimestampMismatch
	}

	return token.Raw, nil
}

// Token is a parsed timestamp token.
type Token struct {
	Raw        []byte
	SignedData *cms.SignedData
	Info       *TSTInfo
}

// ParseToken parses a DER encoded timestamp token.
func ParseToken(data []byte) (*Token, error) {
	sd, err := cms.ParseSignedData(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTimestamp, err)
	}
	if !sd.EContentType.Equal(cms.OIDTSTInfo) {
		return nil, fmt.Errorf("%w: content type %v is not TSTInfo", ErrInvalidTimestamp, sd.EContentType)
	}

	var info TSTInfo
	if _, err := asn1.Unmarshal(sd.EContent, &info); err != nil {
		return nil, fmt.Errorf("%w: failed to parse TSTInfo: %v", ErrInvalidTimestamp, err)
	}

	return &Token{Raw: data, SignedData: sd, Info: &info}, nil
}

// GenTime returns the generation time of the token.
func (t *Token) GenTime() time.Time {
	return t.Info.GenTime
}

// ImprintAlgorithm returns the digest algorithm of the message imprint.
func (t *Token) ImprintAlgorithm() (digest.Algorithm, error) {
	return digest.FromOID(t.Info.MessageImprint.HashAlgorithm.Algorithm)
}

// Imprint returns the hashed message.
func (t *Token) Imprint() []byte {
	return t.Info.MessageImprint.HashedMessage
}

// Matches reports whether the token's message imprint equals d.
func (t *Token) Matches(d digest.Digest) bool {
	alg, err := t.ImprintAlgorithm()
	if err != nil || alg != d.Algorithm {
		return false
	}
	return bytes.Equal(t.Imprint(), d.Value)
}

// Certificates returns the certificates carried in the token.
func (t *Token) Certificates() []*x509.Certificate {
	return t.SignedData.Certificates()
}

// SignerCertificate returns the TSA certificate, or nil when it is not
// embedded.
func (t *Token) SignerCertificate() *x509.Certificate {
	signer, err := t.SignedData.Signer()
	if err != nil {
		return nil
	}
	return signer.FindCertificate(t.Certificates())
}

// Verify checks the CMS signature of the token against the embedded TSA
// certificate.
func (t *Token) Verify() (*x509.Certificate, error) {
	return t.SignedData.Verify(nil)
}

// GetGenTime returns the generation time from a timestamp token.
func GetGenTime(tokenData []byte) (time.Time, error) {
	token, err := ParseToken(tokenData)
	if err != nil {
		return time.Time{}, err
	}
	return token.GenTime(), nil
}

// VerifyTimestamp verifies a timestamp against the original data.
func VerifyTimestamp(tokenData []byte, originalData []byte) error {
	token, err := ParseToken(tokenData)
	if err != nil {
		return err
	}
	alg, err := token.ImprintAlgorithm()
	if err != nil {
		return err
	}
	expected, err := digest.Compute(alg, originalData)
	if err != nil {
		return err
	}
	if !token.Matches(expected) {
		return ErrTimestampMismatch
	}
	_, err = token.Verify()
	return err
}
