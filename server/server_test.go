package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/georgepadayatti/goers/certvalidator"
	"github.com/georgepadayatti/goers/config"
	"github.com/georgepadayatti/goers/digest"
	"github.com/georgepadayatti/goers/evidencerecord"
	"github.com/georgepadayatti/goers/evidencerecord/builder"
	"github.com/georgepadayatti/goers/sign/ades"
	"github.com/georgepadayatti/goers/sign/cms"
	"github.com/georgepadayatti/goers/sign/timestamps"
)

var content = []byte("archived content")

type fixture struct {
	stamper *timestamps.DummyTimeStamper
	server  *Server
	logs    *observer.ObservedLogs
}

func newFixture(t *testing.T, cfg *config.AppConfig) *fixture {
	t.Helper()
	stamper, err := timestamps.CreateTestTimestamper()
	require.NoError(t, err)
	trust := certvalidator.NewTrustStore()
	trust.AddCertificate(stamper.TSACert)

	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)
	validator := evidencerecord.NewValidator(evidencerecord.WithTrustStore(trust), evidencerecord.WithLogger(logger))
	return &fixture{stamper: stamper, server: New(cfg, validator, logger), logs: logs}
}

func (f *fixture) record(t *testing.T) []byte {
	t.Helper()
	record, err := builder.New(f.stamper).Create(context.Background(),
		[]evidencerecord.DataObject{evidencerecord.NewDocument("content.txt", content)})
	require.NoError(t, err)
	encoded, err := evidencerecord.Encode(record)
	require.NoError(t, err)
	return encoded
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if s, ok := body.(string); ok {
		buf.WriteString(s)
	} else if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

type errorBody struct {
	RequestID string `json:"request_id"`
	Error     struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.True(t, strings.HasPrefix(rec.Header().Get(requestIDHeader), "req_"))
}

func TestRequestIDIsKept(t *testing.T) {
	f := newFixture(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "req_fixed")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "req_fixed", rec.Header().Get(requestIDHeader))

	entries := f.logs.FilterMessage("HTTP request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "req_fixed", fields["request_id"])
	assert.Equal(t, int64(http.StatusOK), fields["status"])
}

func TestValidate(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodPost, "/api/v1/evidence-records/validate", ValidateRequest{
		Records:   []NamedData{{Name: "content.ers", Data: f.record(t)}},
		Documents: []NamedData{{Name: "content.txt", Data: content}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		RequestID string `json:"request_id"`
		Reports   struct {
			Simple struct {
				RecordsCount int `json:"recordsCount"`
				ValidCount   int `json:"validCount"`
				Conclusion   struct {
					Indication string `json:"indication"`
				} `json:"conclusion"`
			} `json:"simpleReport"`
		} `json:"reports"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.RequestID)
	assert.Equal(t, 1, body.Reports.Simple.RecordsCount)
	assert.Equal(t, string(ades.IndicationPassed), body.Reports.Simple.Conclusion.Indication)
	assert.Equal(t, 1, f.logs.FilterMessage("Evidence records validated").Len())
}

func TestValidateTamperedDocument(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodPost, "/api/v1/evidence-records/validate", ValidateRequest{
		Records:   []NamedData{{Name: "content.ers", Data: f.record(t)}},
		Documents: []NamedData{{Name: "content.txt", Data: []byte("tampered")}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"indication":"FAILED"`)
}

func TestValidateXML(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodPost, "/api/v1/evidence-records/validate?format=xml", ValidateRequest{
		Records:   []NamedData{{Name: "content.ers", Data: f.record(t)}},
		Documents: []NamedData{{Name: "content.txt", Data: content}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/xml", rec.Header().Get("content-type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "<Reports>"))
	assert.Contains(t, rec.Body.String(), "<SimpleReport")
}

func TestValidateMalformedRecordIsReported(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodPost, "/api/v1/evidence-records/validate", ValidateRequest{
		Records: []NamedData{{Name: "garbage.ers", Data: []byte("garbage")}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), string(ades.SubIndicationFormatFailure))
	assert.Contains(t, rec.Body.String(), "garbage.ers")
}

func TestValidateErrors(t *testing.T) {
	f := newFixture(t, nil)
	tests := []struct {
		name   string
		path   string
		body   any
		status int
		code   string
	}{
		{"bad json", "/api/v1/evidence-records/validate", "{", http.StatusBadRequest, "BAD_JSON"},
		{"unknown field", "/api/v1/evidence-records/validate", `{"unknown":1}`, http.StatusBadRequest, "BAD_JSON"},
		{"bad format", "/api/v1/evidence-records/validate?format=pdf", ValidateRequest{}, http.StatusBadRequest, "BAD_FORMAT"},
		{"nothing to validate", "/api/v1/evidence-records/validate", ValidateRequest{}, http.StatusBadRequest, "MISSING_ARGUMENT"},
		{"empty record", "/api/v1/evidence-records/validate", ValidateRequest{Records: []NamedData{{Name: "a"}}}, http.StatusBadRequest, "MISSING_RECORD"},
		{"unnamed document", "/api/v1/evidence-records/validate", ValidateRequest{Documents: []NamedData{{Data: content}}}, http.StatusBadRequest, "BAD_REQUEST"},
		{"bad signature", "/api/v1/evidence-records/validate", ValidateRequest{Signature: &NamedData{Name: "s", Data: []byte("garbage")}}, http.StatusBadRequest, "INVALID_FORMAT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			body := decodeError(t, rec)
			assert.Equal(t, tt.code, body.Error.Code)
			assert.NotEmpty(t, body.RequestID)
		})
	}
}

func TestValidateSignatureWithoutRecords(t *testing.T) {
	f := newFixture(t, nil)
	signature, err := cms.NewCMSBuilder(f.stamper.TSACert, f.stamper.TSAKey, cms.SHA256WithRSA).Sign(content)
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/api/v1/evidence-records/validate", ValidateRequest{
		Signature: &NamedData{Name: "content.p7s", Data: signature},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "NO_RECORD", decodeError(t, rec).Error.Code)
}

func TestBodyTooLarge(t *testing.T) {
	cfg := config.DefaultAppConfig()
	cfg.Server.MaxBodyBytes = 16
	f := newFixture(t, cfg)
	rec := f.do(t, http.MethodPost, "/api/v1/evidence-records/validate", ValidateRequest{
		Records: []NamedData{{Name: "content.ers", Data: bytes.Repeat([]byte{1}, 64)}},
	})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "BODY_TOO_LARGE", decodeError(t, rec).Error.Code)
}

func TestDigest(t *testing.T) {
	f := newFixture(t, nil)
	signature, err := cms.NewCMSBuilder(f.stamper.TSACert, f.stamper.TSAKey, cms.SHA256WithRSA).Sign(content)
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/api/v1/evidence-records/digest", DigestRequest{
		Signature: &NamedData{Name: "content.p7s", Data: signature},
		Algorithm: "sha-512",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Algorithm string        `json:"algorithm"`
		Digests   []DigestValue `json:"digests"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(digest.SHA512), body.Algorithm)
	require.Len(t, body.Digests, 1)
	want, err := digest.Compute(digest.SHA512, signature)
	require.NoError(t, err)
	assert.Equal(t, want.Hex(), body.Digests[0].Hex)
	assert.Equal(t, want.Base64(), body.Digests[0].Base64)

	rec = f.do(t, http.MethodPost, "/api/v1/evidence-records/digest", DigestRequest{
		Signature: &NamedData{Name: "content.p7s", Data: signature},
		Documents: []NamedData{{Name: "content.txt", Data: content}},
		External:  true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Digests, 2)
}

func TestDigestErrors(t *testing.T) {
	f := newFixture(t, nil)
	xml := []byte(`<root xmlns="urn:test"><ds:Signature xmlns:ds="http://www.w3.org/2000/09/xmldsig#"/></root>`)
	tests := []struct {
		name   string
		body   DigestRequest
		status int
		code   string
	}{
		{"no signature", DigestRequest{}, http.StatusBadRequest, "MISSING_SIGNATURE"},
		{"bad algorithm", DigestRequest{Signature: &NamedData{Data: []byte{0x30}}, Algorithm: "MD5"}, http.StatusBadRequest, "BAD_ALGORITHM"},
		{"not a signature", DigestRequest{Signature: &NamedData{Data: []byte("garbage")}}, http.StatusBadRequest, "INVALID_FORMAT"},
		{"external xml", DigestRequest{Signature: &NamedData{Data: xml}, External: true}, http.StatusUnprocessableEntity, "ILLEGAL_INPUT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/v1/evidence-records/digest", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Error.Code)
		})
	}
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	cfg := config.DefaultAppConfig()
	cfg.Server.Addr = "127.0.0.1:0"
	f := newFixture(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.server.ListenAndServe(ctx) }()
	cancel()
	assert.NoError(t, <-done)
}
