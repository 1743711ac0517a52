package digestbuilder

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/georgepadayatti/goers/digest"
	"github.com/georgepadayatti/goers/evidencerecord"
	"github.com/georgepadayatti/goers/evidencerecord/archive"
)

// Options select how Compute hashes a signature.
type Options struct {
	Algorithm digest.Algorithm
	Parallel  bool

	// SignatureID selects one signature of an XML document.
	SignatureID string

	// External requests the leaves of an external record over a detached
	// CAdES signature.
	External bool

	Detached []*evidencerecord.Document
	Logger   *zap.Logger
}

// Compute returns the leaves an evidence record uses for signature,
// picking the CAdES or XAdES builder from the encoding.
func Compute(signature []byte, opts Options) ([]digest.Digest, error) {
	if signature == nil {
		return nil, nilSignatureError()
	}
	enc, err := evidencerecord.DetectEncoding(signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}

	if enc == archive.XML {
		if opts.External {
			return nil, fmt.Errorf("%w: external evidence record digests are only defined for CAdES signatures", ErrIllegalInput)
		}
		d, err := NewXAdES(signature, opts.Algorithm).
			SetParallelEvidenceRecord(opts.Parallel).
			SetDetachedContent(opts.Detached...).
			SetSignatureID(opts.SignatureID).
			SetLogger(opts.Logger).
			Build()
		if err != nil {
			return nil, err
		}
		return []digest.Digest{d}, nil
	}

	b := NewCAdES(signature, opts.Algorithm).
		SetParallelEvidenceRecord(opts.Parallel).
		SetDetachedContent(opts.Detached...)
	if opts.External {
		return b.BuildExternalEvidenceRecordDigest()
	}
	d, err := b.Build()
	if err != nil {
		return nil, err
	}
	return []digest.Digest{d}, nil
}

// Inputs assembles validator inputs for records and the objects they
// protect. Without records, the records embedded in signature are
// returned. Given records are external and protect the signature file,
// when there is one, and the detached documents.
func Inputs(records []evidencerecord.Input, signature []byte, detached ...*evidencerecord.Document) ([]evidencerecord.Input, error) {
	if len(records) == 0 {
		if signature == nil {
			return nil, fmt.Errorf("%w: an evidence record or a signature is required", ErrNilArgument)
		}
		return EmbeddedRecords(signature, detached...)
	}

	var target *evidencerecord.SignatureObject
	if signature != nil {
		obj, err := ExternalTarget(signature, detached...)
		if err != nil {
			return nil, err
		}
		target = obj
	}
	inputs := make([]evidencerecord.Input, len(records))
	for i, in := range records {
		in.Signature = target
		in.Documents = append(in.Documents, detached...)
		if in.Incorporation == "" {
			in.Incorporation = evidencerecord.External
		}
		if in.Origin == "" {
			in.Origin = evidencerecord.OriginExternal
		}
		inputs[i] = in
	}
	return inputs, nil
}
