package evidencerecord

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/georgepadayatti/goers/certvalidator"
	"github.com/georgepadayatti/goers/evidencerecord/archive"
)

// Input is one evidence record to validate with the objects it protects.
type Input struct {
	// Name labels the record in reports, typically its file name.
	Name string

	// Data is the encoded record. It is ignored when Record is set.
	Data   []byte
	Record *archive.Record

	// Signature is the protected signature, for embedded records and
	// external records over a signature.
	Signature *SignatureObject

	// Documents are the detached data objects.
	Documents []*Document

	// Incorporation and Origin default to External.
	Incorporation Incorporation
	Origin        Origin
}

// Result is the outcome of one input of ValidateAll.
type Result struct {
	Record *EvidenceRecord
	Err    error
}

// Validator validates evidence records. It is safe for concurrent use.
type Validator struct {
	trust   *certvalidator.TrustStore
	clock   clockwork.Clock
	logger  *zap.Logger
	workers int
}

// Option configures a Validator.
type Option func(*Validator)

// WithTrustStore sets the trust anchors for timestamp signing certificates.
func WithTrustStore(ts *certvalidator.TrustStore) Option {
	return func(v *Validator) { v.trust = ts }
}

// WithClock sets the clock giving the validation time.
func WithClock(clock clockwork.Clock) Option {
	return func(v *Validator) { v.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(v *Validator) { v.logger = logger }
}

// WithWorkers bounds the records validated concurrently by ValidateAll.
func WithWorkers(n int) Option {
	return func(v *Validator) { v.workers = n }
}

// NewValidator creates a Validator.
func NewValidator(opts ...Option) *Validator {
	v := &Validator{
		clock:   clockwork.NewRealClock(),
		logger:  zap.NewNop(),
		workers: 4,
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.workers < 1 {
		v.workers = 1
	}
	return v
}

// Validate validates a single record. Malformed input aborts with an
// error; cryptographic and trust failures are reported in the result.
func (v *Validator) Validate(ctx context.Context, in Input) (*EvidenceRecord, error) {
	record := in.Record
	if record == nil {
		if len(in.Data) == 0 {
			return nil, ErrNoRecord
		}
		parsed, err := Parse(in.Data)
		if err != nil {
			return nil, err
		}
		record = parsed
	}
	raw := record.Raw
	if raw == nil {
		encoded, err := Encode(record)
		if err != nil {
			return nil, err
		}
		raw = encoded
	}

	er := &EvidenceRecord{
		ID:            RecordID(raw),
		Name:          in.Name,
		Type:          recordType(record.Encoding),
		Incorporation: in.Incorporation,
		Origin:        in.Origin,
		Record:        record,
	}
	if er.Incorporation == "" {
		er.Incorporation = External
	}
	if er.Origin == "" {
		er.Origin = OriginExternal
	}
	if in.Signature != nil && er.Incorporation == Internal {
		er.ParentID = in.Signature.ID
	}
	logger := v.logger.With(zap.String("record", er.ID))

	var objects []DataObject
	if in.Signature != nil {
		objects = append(objects, in.Signature)
	}
	for _, doc := range in.Documents {
		objects = append(objects, doc)
	}

	at := v.clock.Now()
	verified, err := newChainVerifier(record, objects, v.trust, at, logger).verify(ctx)
	if err != nil {
		return nil, err
	}
	er.DigestMatchers = verified.recordMatchers
	er.Timestamps = verified.timestamps
	if err := classifyAll(er.Timestamps); err != nil {
		return nil, err
	}

	resolver := &scopeResolver{signature: in.Signature}
	er.Scopes = resolver.scopes(er.DigestMatchers)
	er.CoveredObjects = resolver.references(er.DigestMatchers)
	propagate(er.Timestamps, resolver.scopes)
	assignCoverage(er, record)

	for _, ts := range er.Timestamps {
		ts.Conclusion = timestampConclusion(ts)
		ts.State = StateInvalid
		if ts.Conclusion.IsPassed() {
			ts.State = StateValid
		}
	}
	er.Conclusion = recordConclusion(er)

	logger.Info("Evidence record validated",
		zap.String("type", string(er.Type)),
		zap.Int("chains", len(record.Chains)),
		zap.Int("timestamps", len(er.Timestamps)),
		zap.String("indication", er.Conclusion.String()))
	return er, nil
}

// ValidateAll validates independent records concurrently. Every input gets
// its own result; a failing record does not stop the others.
func (v *Validator) ValidateAll(ctx context.Context, inputs []Input) []Result {
	results := make([]Result, len(inputs))
	var g errgroup.Group
	g.SetLimit(v.workers)
	for i := range inputs {
		i := i
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					results[i] = Result{Err: fmt.Errorf("validation of %q panicked: %v", inputs[i].Name, r)}
				}
			}()
			er, err := v.Validate(ctx, inputs[i])
			results[i] = Result{Record: er, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
