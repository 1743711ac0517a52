// Package server exposes evidence record validation and signature digest
// computation over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/georgepadayatti/goers/config"
	"github.com/georgepadayatti/goers/digest"
	"github.com/georgepadayatti/goers/evidencerecord"
	"github.com/georgepadayatti/goers/evidencerecord/archive"
	"github.com/georgepadayatti/goers/evidencerecord/digestbuilder"
	"github.com/georgepadayatti/goers/report"
)

const shutdownTimeout = 10 * time.Second

// Server serves the evidence record API.
type Server struct {
	cfg        *config.ServerConfig
	validation *config.ValidationConfig
	validator  *evidencerecord.Validator
	logger     *zap.Logger
	router     chi.Router
}

// NamedData is a named base64 encoded file of a request.
type NamedData struct {
	Name string `json:"name"`
	Data []byte `json:"data"`
}

// ValidateRequest is the body of a validation request. Without records
// the records embedded in the signature are validated.
type ValidateRequest struct {
	Records   []NamedData `json:"records"`
	Signature *NamedData  `json:"signature,omitempty"`
	Documents []NamedData `json:"documents"`
}

// DigestRequest is the body of a digest request.
type DigestRequest struct {
	Signature   *NamedData  `json:"signature"`
	Documents   []NamedData `json:"documents"`
	Algorithm   string      `json:"algorithm"`
	Parallel    *bool       `json:"parallel,omitempty"`
	SignatureID string      `json:"signature_id"`
	External    bool        `json:"external"`
}

// DigestValue is one computed leaf.
type DigestValue struct {
	Hex    string `json:"hex"`
	Base64 string `json:"base64"`
}

// New creates a server. Missing configuration sections take their
// defaults.
func New(cfg *config.AppConfig, validator *evidencerecord.Validator, logger *zap.Logger) *Server {
	if cfg == nil {
		cfg = config.DefaultAppConfig()
	} else {
		cfg.SetDefaults()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if validator == nil {
		validator = evidencerecord.NewValidator(evidencerecord.WithLogger(logger))
	}
	s := &Server{
		cfg:        cfg.Server,
		validation: cfg.Validation,
		validator:  validator,
		logger:     logger,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(withRequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	r.Route("/api/v1/evidence-records", func(api chi.Router) {
		api.Post("/validate", s.handleValidate)
		api.Post("/digest", s.handleDigest)
	})
	return r
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Listening", zap.String("addr", s.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("HTTP request",
			zap.String("request_id", requestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)))
	})
}

// decode reads a size limited JSON body.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if err := readJSON(r, dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return false
		}
		writeError(w, r, http.StatusBadRequest, "BAD_JSON", err.Error())
		return false
	}
	return true
}

func documents(files []NamedData) ([]*evidencerecord.Document, error) {
	docs := make([]*evidencerecord.Document, 0, len(files))
	for i, f := range files {
		if f.Name == "" {
			return nil, fmt.Errorf("document %d has no name", i)
		}
		docs = append(docs, evidencerecord.NewDocument(f.Name, f.Data))
	}
	return docs, nil
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if !s.decode(w, r, &req) {
		return
	}
	format := r.URL.Query().Get("format")
	if format != "" && format != "json" && format != "xml" {
		writeError(w, r, http.StatusBadRequest, "BAD_FORMAT", "format must be json or xml")
		return
	}

	docs, err := documents(req.Documents)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	records := make([]evidencerecord.Input, 0, len(req.Records))
	for i, rec := range req.Records {
		if len(rec.Data) == 0 {
			writeError(w, r, http.StatusBadRequest, "MISSING_RECORD", fmt.Sprintf("record %d is empty", i))
			return
		}
		name := rec.Name
		if name == "" {
			name = fmt.Sprintf("record-%d", i)
		}
		records = append(records, evidencerecord.Input{Name: name, Data: rec.Data})
	}
	var signature []byte
	if req.Signature != nil {
		signature = req.Signature.Data
	}

	inputs, err := digestbuilder.Inputs(records, signature, docs...)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if len(inputs) == 0 {
		writeError(w, r, http.StatusUnprocessableEntity, "NO_RECORD", "the signature carries no evidence record")
		return
	}

	results := s.validator.ValidateAll(r.Context(), inputs)
	builder := report.NewReportBuilder()
	if at, fixed, _ := s.validation.Time(); fixed {
		builder.SetValidationTime(at)
	}
	for i, res := range results {
		builder.AddResult(inputs[i].Name, res)
	}
	reports := builder.Build()
	s.logger.Info("Evidence records validated",
		zap.String("request_id", requestID(r.Context())),
		zap.Int("records", len(inputs)),
		zap.String("indication", string(reports.Simple.Conclusion.Indication)))

	if format == "xml" {
		out, err := reports.ToXML()
		if err != nil {
			s.writeFailure(w, r, err)
			return
		}
		w.Header().Set("content-type", "application/xml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(out)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"request_id": requestID(r.Context()),
		"reports":    reports,
	})
}

func (s *Server) handleDigest(w http.ResponseWriter, r *http.Request) {
	var req DigestRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Signature == nil || len(req.Signature.Data) == 0 {
		writeError(w, r, http.StatusBadRequest, "MISSING_SIGNATURE", "a signature is required")
		return
	}
	alg := s.validation.Algorithm()
	if req.Algorithm != "" {
		parsed, err := digest.Parse(req.Algorithm)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "BAD_ALGORITHM", err.Error())
			return
		}
		alg = parsed
	}
	parallel := s.validation.Parallel
	if req.Parallel != nil {
		parallel = *req.Parallel
	}
	docs, err := documents(req.Documents)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	leaves, err := digestbuilder.Compute(req.Signature.Data, digestbuilder.Options{
		Algorithm:   alg,
		Parallel:    parallel,
		SignatureID: req.SignatureID,
		External:    req.External,
		Detached:    docs,
		Logger:      s.logger,
	})
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	values := make([]DigestValue, len(leaves))
	for i, d := range leaves {
		values[i] = DigestValue{Hex: d.Hex(), Base64: d.Base64()}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"request_id": requestID(r.Context()),
		"algorithm":  string(alg),
		"parallel":   parallel,
		"digests":    values,
	})
}

// writeFailure maps library errors to statuses.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	var formatErr *archive.FormatError
	switch {
	case errors.Is(err, digestbuilder.ErrNilArgument):
		writeError(w, r, http.StatusBadRequest, "MISSING_ARGUMENT", err.Error())
	case errors.Is(err, digestbuilder.ErrFormat),
		errors.Is(err, evidencerecord.ErrUnknownEncoding),
		errors.Is(err, evidencerecord.ErrNoRecord),
		errors.As(err, &formatErr):
		writeError(w, r, http.StatusBadRequest, "INVALID_FORMAT", err.Error())
	case errors.Is(err, digestbuilder.ErrIllegalInput):
		writeError(w, r, http.StatusUnprocessableEntity, "ILLEGAL_INPUT", err.Error())
	default:
		s.logger.Error("Request failed", zap.String("request_id", requestID(r.Context())), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", err.Error())
	}
}
