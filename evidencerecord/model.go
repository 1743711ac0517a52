// Package evidencerecord validates RFC 4998 and RFC 6283 evidence records
// and exposes the result as a read model: digest matchers, archive
// timestamps, coverage and scopes.
package evidencerecord

import (
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/georgepadayatti/goers/digest"
	"github.com/georgepadayatti/goers/evidencerecord/archive"
	"github.com/georgepadayatti/goers/sign/ades"
)

// Common errors
var (
	ErrUnknownMatcher   = errors.New("unknown digest matcher type")
	ErrAmbiguousRenewal = errors.New("archive timestamp is both a timestamp renewal and a chain renewal")
	ErrNoRecord         = errors.New("no evidence record supplied")
	ErrUnknownEncoding  = errors.New("unrecognized evidence record encoding")
)

// RecordType is the encoding family of an evidence record.
type RecordType string

const (
	ASN1EvidenceRecord RecordType = "ASN1_EVIDENCE_RECORD"
	XMLEvidenceRecord  RecordType = "XML_EVIDENCE_RECORD"
)

func recordType(enc archive.Encoding) RecordType {
	if enc == archive.XML {
		return XMLEvidenceRecord
	}
	return ASN1EvidenceRecord
}

// Incorporation tells whether a record is embedded in a signature.
type Incorporation string

const (
	Internal Incorporation = "INTERNAL"
	External Incorporation = "EXTERNAL"
)

// Origin tells where a record was found.
type Origin string

const (
	OriginSignature Origin = "SIGNATURE"
	OriginExternal  Origin = "EXTERNAL"
)

// MatcherType is the closed set of digest matcher kinds.
type MatcherType string

const (
	MessageImprint           MatcherType = "MESSAGE_IMPRINT"
	MasterSignature          MatcherType = "EVIDENCE_RECORD_MASTER_SIGNATURE"
	ArchiveObject            MatcherType = "EVIDENCE_RECORD_ARCHIVE_OBJECT"
	ArchiveTimeStamp         MatcherType = "EVIDENCE_RECORD_ARCHIVE_TIME_STAMP"
	ArchiveTimeStampSequence MatcherType = "EVIDENCE_RECORD_ARCHIVE_TIME_STAMP_SEQUENCE"
	OrphanReference          MatcherType = "EVIDENCE_RECORD_ORPHAN_REFERENCE"
)

// Valid reports whether t is one of the known matcher types.
func (t MatcherType) Valid() bool {
	switch t {
	case MessageImprint, MasterSignature, ArchiveObject, ArchiveTimeStamp, ArchiveTimeStampSequence, OrphanReference:
		return true
	}
	return false
}

// Category classifies a covered object.
type Category string

const (
	CategorySignature      Category = "SIGNATURE"
	CategorySignedData     Category = "SIGNED_DATA"
	CategoryCertificate    Category = "CERTIFICATE"
	CategoryRevocation     Category = "REVOCATION"
	CategoryTimestamp      Category = "TIMESTAMP"
	CategoryEvidenceRecord Category = "EVIDENCE_RECORD"
)

// ScopeType is the kind of a scope.
type ScopeType string

const (
	ScopeFull      ScopeType = "FULL"
	ScopeSignature ScopeType = "SIGNATURE"
)

// RenewalType is the role of an archive timestamp in the record.
type RenewalType string

const (
	Initial         RenewalType = "INITIAL"
	HashTreeRenewal RenewalType = "HASH_TREE_RENEWAL"
	ChainRenewal    RenewalType = "CHAIN_RENEWAL"
)

// TimestampState is the progress of an archive timestamp validation.
type TimestampState string

const (
	StatePending               TimestampState = "PENDING"
	StateMessageImprintChecked TimestampState = "MESSAGE_IMPRINT_CHECKED"
	StateSignatureChecked      TimestampState = "SIGNATURE_CHECKED"
	StateValid                 TimestampState = "VALID"
	StateInvalid               TimestampState = "INVALID"
)

// DigestMatcher is the outcome of locating and checking one digest.
// DataIntact implies DataFound.
type DigestMatcher struct {
	Type       MatcherType   `json:"type" xml:"Type"`
	Digest     digest.Digest `json:"digest" xml:"-"`
	Name       string        `json:"name,omitempty" xml:"Name,omitempty"`
	DataFound  bool          `json:"dataFound" xml:"DataFound"`
	DataIntact bool          `json:"dataIntact" xml:"DataIntact"`
	Duplicated bool          `json:"duplicated,omitempty" xml:"Duplicated,omitempty"`
}

func intactMatcher(t MatcherType, d digest.Digest, name string) DigestMatcher {
	return DigestMatcher{Type: t, Digest: d, Name: name, DataFound: true, DataIntact: true}
}

func brokenMatcher(t MatcherType, d digest.Digest, name string) DigestMatcher {
	return DigestMatcher{Type: t, Digest: d, Name: name, DataFound: true}
}

func orphanMatcher(d digest.Digest) DigestMatcher {
	return DigestMatcher{Type: OrphanReference, Digest: d}
}

// Check verifies the matcher invariants.
func (m DigestMatcher) Check() error {
	if !m.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownMatcher, m.Type)
	}
	if m.DataIntact && !m.DataFound {
		return fmt.Errorf("digest matcher %s is intact but not found", m.Type)
	}
	if m.Type == OrphanReference && (m.DataFound || m.DataIntact) {
		return fmt.Errorf("orphan reference %s is marked found", m.Digest.Hex())
	}
	return nil
}

// Broken reports whether the data was located but does not match.
func (m DigestMatcher) Broken() bool {
	return m.DataFound && !m.DataIntact
}

// CertificateRef identifies a certificate in the read model.
type CertificateRef struct {
	ID      string `json:"id" xml:"Id,attr"`
	Subject string `json:"subject" xml:"Subject"`
	Issuer  string `json:"issuer" xml:"Issuer"`
	Serial  string `json:"serial" xml:"Serial"`
}

// NewCertificateRef describes cert.
func NewCertificateRef(cert *x509.Certificate) *CertificateRef {
	if cert == nil {
		return nil
	}
	return &CertificateRef{
		ID:      CertificateID(cert.Raw),
		Subject: cert.Subject.String(),
		Issuer:  cert.Issuer.String(),
		Serial:  strings.ToUpper(hex.EncodeToString(cert.SerialNumber.Bytes())),
	}
}

// TimestampedObject is a reference to an object covered by a timestamp or
// a record.
type TimestampedObject struct {
	Category Category `json:"category" xml:"Category,attr"`
	ID       string   `json:"id" xml:"Id,attr"`
}

// Scope describes what a record or a timestamp protects.
type Scope struct {
	Type        ScopeType `json:"type" xml:"Type,attr"`
	Name        string    `json:"name" xml:"Name"`
	Description string    `json:"description" xml:"Description"`
}

// ArchiveTimestamp is one validated archive timestamp.
type ArchiveTimestamp struct {
	ID         string `json:"id"`
	ChainIndex int    `json:"chainIndex"`
	Index      int    `json:"index"`

	// Position is the index in EvidenceRecord.Timestamps.
	Position int `json:"position"`

	ProductionTime     time.Time           `json:"productionTime"`
	SigningCertificate *CertificateRef     `json:"signingCertificate,omitempty"`
	Certificates       []*x509.Certificate `json:"-"`
	DigestAlgorithm    digest.Algorithm    `json:"digestAlgorithm"`

	MessageImprint DigestMatcher   `json:"messageImprint"`
	DigestMatchers []DigestMatcher `json:"digestMatchers"`

	SignatureIntact bool `json:"signatureIntact"`
	SignatureValid  bool `json:"signatureValid"`
	ChainFound      bool `json:"chainFound"`

	State    TimestampState `json:"state"`
	Renewal  RenewalType    `json:"renewal"`
	Renews   int            `json:"renews"`
	Anchored bool           `json:"anchored"`

	TimestampedObjects []TimestampedObject `json:"timestampedObjects"`
	Scopes             []Scope             `json:"scopes"`

	Conclusion *ades.ValidationConclusion `json:"conclusion"`
}

// Coverage returns the typed view of the objects covered by the timestamp.
func (ts *ArchiveTimestamp) Coverage() CoverageSet {
	return NewCoverageSet(ts.TimestampedObjects)
}

// Matcher returns the first matcher of type t.
func (ts *ArchiveTimestamp) Matcher(t MatcherType) (DigestMatcher, bool) {
	for _, m := range ts.DigestMatchers {
		if m.Type == t {
			return m, true
		}
	}
	return DigestMatcher{}, false
}

// EvidenceRecord is a validated evidence record. It is not modified once
// returned by a Validator.
type EvidenceRecord struct {
	ID            string        `json:"id"`
	Name          string        `json:"name,omitempty"`
	Type          RecordType    `json:"type"`
	Incorporation Incorporation `json:"incorporation"`
	Origin        Origin        `json:"origin"`
	ParentID      string        `json:"parentId,omitempty"`

	DigestMatchers []DigestMatcher     `json:"digestMatchers"`
	Timestamps     []*ArchiveTimestamp `json:"timestamps"`
	CoveredObjects []TimestampedObject `json:"coveredObjects"`
	Scopes         []Scope             `json:"scopes"`

	Conclusion *ades.ValidationConclusion `json:"conclusion"`
	Record     *archive.Record            `json:"-"`
}

// Coverage returns the typed view of the objects covered by the record.
func (er *EvidenceRecord) Coverage() CoverageSet {
	return NewCoverageSet(er.CoveredObjects)
}

// FirstTimestamp returns the earliest archive timestamp.
func (er *EvidenceRecord) FirstTimestamp() *ArchiveTimestamp {
	if len(er.Timestamps) == 0 {
		return nil
	}
	return er.Timestamps[0]
}

// ProofOfExistence returns the production time of the earliest archive
// timestamp.
func (er *EvidenceRecord) ProofOfExistence() (time.Time, bool) {
	first := er.FirstTimestamp()
	if first == nil {
		return time.Time{}, false
	}
	return first.ProductionTime, true
}

// AnchoredProofOfExistence returns the production time of the earliest
// archive timestamp while that timestamp stays valid, anchors the protected
// objects and none of them fails its leaf. Failures of later renewals do not
// withdraw it.
func (er *EvidenceRecord) AnchoredProofOfExistence() (time.Time, bool) {
	first := er.FirstTimestamp()
	if first == nil || !first.Anchored || first.Conclusion == nil || !first.Conclusion.IsPassed() {
		return time.Time{}, false
	}
	if !anyFound(er.DigestMatchers) {
		return time.Time{}, false
	}
	for _, m := range er.DigestMatchers {
		if m.Broken() {
			return time.Time{}, false
		}
	}
	return first.ProductionTime, true
}

// RenewalCounts returns the number of archive timestamps per renewal type.
func (er *EvidenceRecord) RenewalCounts() map[RenewalType]int {
	counts := map[RenewalType]int{}
	for _, ts := range er.Timestamps {
		counts[ts.Renewal]++
	}
	return counts
}
