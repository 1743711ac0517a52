// Package report renders validated evidence records as diagnostic data and
// a simple report, in JSON, XML or plain text.
package report

import (
	"crypto/x509"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/georgepadayatti/goers/evidencerecord"
	"github.com/georgepadayatti/goers/sign/ades"
)

// CertificateInfo contains information about a certificate in the report.
type CertificateInfo struct {
	ID               string    `json:"id" xml:"Id,attr"`
	Subject          string    `json:"subject" xml:"Subject"`
	Issuer           string    `json:"issuer" xml:"Issuer"`
	SerialNumber     string    `json:"serialNumber" xml:"SerialNumber"`
	NotBefore        time.Time `json:"notBefore" xml:"NotBefore"`
	NotAfter         time.Time `json:"notAfter" xml:"NotAfter"`
	IsSelfSigned     bool      `json:"isSelfSigned" xml:"IsSelfSigned"`
	IsCA             bool      `json:"isCA" xml:"IsCA"`
	KeyUsage         []string  `json:"keyUsage,omitempty" xml:"KeyUsage>Usage,omitempty"`
	ExtendedKeyUsage []string  `json:"extendedKeyUsage,omitempty" xml:"ExtendedKeyUsage>Usage,omitempty"`
}

var keyUsages = []struct {
	bit  x509.KeyUsage
	name string
}{
	{x509.KeyUsageDigitalSignature, "digitalSignature"},
	{x509.KeyUsageContentCommitment, "contentCommitment"},
	{x509.KeyUsageKeyEncipherment, "keyEncipherment"},
	{x509.KeyUsageDataEncipherment, "dataEncipherment"},
	{x509.KeyUsageKeyAgreement, "keyAgreement"},
	{x509.KeyUsageCertSign, "keyCertSign"},
	{x509.KeyUsageCRLSign, "cRLSign"},
}

var extKeyUsages = map[x509.ExtKeyUsage]string{
	x509.ExtKeyUsageServerAuth:      "serverAuth",
	x509.ExtKeyUsageClientAuth:      "clientAuth",
	x509.ExtKeyUsageCodeSigning:     "codeSigning",
	x509.ExtKeyUsageEmailProtection: "emailProtection",
	x509.ExtKeyUsageTimeStamping:    "timeStamping",
	x509.ExtKeyUsageOCSPSigning:     "OCSPSigning",
}

// NewCertificateInfo describes cert. The identifier is the one the
// validator uses for covered certificates.
func NewCertificateInfo(cert *x509.Certificate) *CertificateInfo {
	info := &CertificateInfo{
		ID:           evidencerecord.CertificateID(cert.Raw),
		Subject:      cert.Subject.String(),
		Issuer:       cert.Issuer.String(),
		SerialNumber: cert.SerialNumber.String(),
		NotBefore:    cert.NotBefore,
		NotAfter:     cert.NotAfter,
		IsSelfSigned: cert.CheckSignatureFrom(cert) == nil,
		IsCA:         cert.IsCA,
	}
	for _, ku := range keyUsages {
		if cert.KeyUsage&ku.bit != 0 {
			info.KeyUsage = append(info.KeyUsage, ku.name)
		}
	}
	for _, eku := range cert.ExtKeyUsage {
		if name, ok := extKeyUsages[eku]; ok {
			info.ExtendedKeyUsage = append(info.ExtendedKeyUsage, name)
		}
	}
	return info
}

// IsValidAt checks if the certificate was valid at the given time.
func (c *CertificateInfo) IsValidAt(at time.Time) bool {
	return !at.Before(c.NotBefore) && !at.After(c.NotAfter)
}

// DigestMatcherInfo is a digest matcher with its digest spelled out.
type DigestMatcherInfo struct {
	Type            evidencerecord.MatcherType `json:"type" xml:"Type,attr"`
	DigestAlgorithm string                     `json:"digestAlgorithm" xml:"DigestAlgorithm"`
	DigestValue     string                     `json:"digestValue" xml:"DigestValue"`
	Name            string                     `json:"name,omitempty" xml:"Name,omitempty"`
	DataFound       bool                       `json:"dataFound" xml:"DataFound"`
	DataIntact      bool                       `json:"dataIntact" xml:"DataIntact"`
	Duplicated      bool                       `json:"duplicated,omitempty" xml:"Duplicated,omitempty"`
}

func newDigestMatcherInfo(m evidencerecord.DigestMatcher) DigestMatcherInfo {
	return DigestMatcherInfo{
		Type:            m.Type,
		DigestAlgorithm: string(m.Digest.Algorithm),
		DigestValue:     m.Digest.Hex(),
		Name:            m.Name,
		DataFound:       m.DataFound,
		DataIntact:      m.DataIntact,
		Duplicated:      m.Duplicated,
	}
}

func matcherInfos(matchers []evidencerecord.DigestMatcher) []DigestMatcherInfo {
	infos := make([]DigestMatcherInfo, len(matchers))
	for i, m := range matchers {
		infos[i] = newDigestMatcherInfo(m)
	}
	return infos
}

// TimestampInfo contains information about an archive timestamp.
type TimestampInfo struct {
	ID                 string                             `json:"id" xml:"Id,attr"`
	ChainIndex         int                                `json:"chainIndex" xml:"ChainIndex"`
	Index              int                                `json:"index" xml:"Index"`
	ProductionTime     time.Time                          `json:"productionTime" xml:"ProductionTime"`
	DigestAlgorithm    string                             `json:"digestAlgorithm" xml:"DigestAlgorithm"`
	SigningCertificate string                             `json:"signingCertificate,omitempty" xml:"SigningCertificate,omitempty"`
	Renewal            evidencerecord.RenewalType         `json:"renewal" xml:"Renewal"`
	Renews             int                                `json:"renews" xml:"Renews"`
	Anchored           bool                               `json:"anchored" xml:"Anchored"`
	State              evidencerecord.TimestampState      `json:"state" xml:"State"`
	SignatureIntact    bool                               `json:"signatureIntact" xml:"SignatureIntact"`
	SignatureValid     bool                               `json:"signatureValid" xml:"SignatureValid"`
	ChainFound         bool                               `json:"chainFound" xml:"ChainFound"`
	MessageImprint     DigestMatcherInfo                  `json:"messageImprint" xml:"MessageImprint"`
	DigestMatchers     []DigestMatcherInfo                `json:"digestMatchers,omitempty" xml:"DigestMatchers>DigestMatcher,omitempty"`
	TimestampedObjects []evidencerecord.TimestampedObject `json:"timestampedObjects,omitempty" xml:"TimestampedObjects>TimestampedObject,omitempty"`
	Scopes             []evidencerecord.Scope             `json:"scopes,omitempty" xml:"Scopes>Scope,omitempty"`
	Conclusion         *ades.ValidationConclusion         `json:"conclusion" xml:"Conclusion"`
}

func newTimestampInfo(ts *evidencerecord.ArchiveTimestamp) *TimestampInfo {
	info := &TimestampInfo{
		ID:                 ts.ID,
		ChainIndex:         ts.ChainIndex,
		Index:              ts.Index,
		ProductionTime:     ts.ProductionTime,
		DigestAlgorithm:    string(ts.DigestAlgorithm),
		Renewal:            ts.Renewal,
		Renews:             ts.Renews,
		Anchored:           ts.Anchored,
		State:              ts.State,
		SignatureIntact:    ts.SignatureIntact,
		SignatureValid:     ts.SignatureValid,
		ChainFound:         ts.ChainFound,
		MessageImprint:     newDigestMatcherInfo(ts.MessageImprint),
		DigestMatchers:     matcherInfos(ts.DigestMatchers),
		TimestampedObjects: ts.TimestampedObjects,
		Scopes:             ts.Scopes,
		Conclusion:         ts.Conclusion,
	}
	if ts.SigningCertificate != nil {
		info.SigningCertificate = ts.SigningCertificate.ID
	}
	return info
}

// RecordInfo contains the diagnostic data of one evidence record.
type RecordInfo struct {
	ID             string                             `json:"id" xml:"Id,attr"`
	Name           string                             `json:"name,omitempty" xml:"Name,omitempty"`
	Type           evidencerecord.RecordType          `json:"type" xml:"Type"`
	Incorporation  evidencerecord.Incorporation       `json:"incorporation" xml:"Incorporation"`
	Origin         evidencerecord.Origin              `json:"origin" xml:"Origin"`
	ParentID       string                             `json:"parentId,omitempty" xml:"ParentId,omitempty"`
	DigestMatchers []DigestMatcherInfo                `json:"digestMatchers" xml:"DigestMatchers>DigestMatcher"`
	Timestamps     []*TimestampInfo                   `json:"timestamps" xml:"Timestamps>Timestamp"`
	CoveredObjects []evidencerecord.TimestampedObject `json:"coveredObjects,omitempty" xml:"CoveredObjects>CoveredObject,omitempty"`
	Scopes         []evidencerecord.Scope             `json:"scopes,omitempty" xml:"Scopes>Scope,omitempty"`
	Conclusion     *ades.ValidationConclusion         `json:"conclusion" xml:"Conclusion"`
}

func newRecordInfo(er *evidencerecord.EvidenceRecord) *RecordInfo {
	info := &RecordInfo{
		ID:             er.ID,
		Name:           er.Name,
		Type:           er.Type,
		Incorporation:  er.Incorporation,
		Origin:         er.Origin,
		ParentID:       er.ParentID,
		DigestMatchers: matcherInfos(er.DigestMatchers),
		CoveredObjects: er.CoveredObjects,
		Scopes:         er.Scopes,
		Conclusion:     er.Conclusion,
	}
	for _, ts := range er.Timestamps {
		info.Timestamps = append(info.Timestamps, newTimestampInfo(ts))
	}
	return info
}

// Failure is an input that could not be validated at all.
type Failure struct {
	Name  string `json:"name" xml:"Name,attr"`
	Error string `json:"error" xml:",chardata"`
}

// DiagnosticData is the detailed view of a validation run.
type DiagnosticData struct {
	XMLName          xml.Name           `json:"-" xml:"DiagnosticData"`
	ID               string             `json:"id" xml:"Id,attr"`
	ValidationTime   time.Time          `json:"validationTime" xml:"ValidationTime"`
	EvidenceRecords  []*RecordInfo      `json:"evidenceRecords" xml:"EvidenceRecords>EvidenceRecord"`
	UsedCertificates []*CertificateInfo `json:"usedCertificates,omitempty" xml:"UsedCertificates>Certificate,omitempty"`
	Failures         []*Failure         `json:"failures,omitempty" xml:"Failures>Failure,omitempty"`
}

// ToJSON serializes the diagnostic data to JSON.
func (d *DiagnosticData) ToJSON() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

// ToXML serializes the diagnostic data to XML.
func (d *DiagnosticData) ToXML() ([]byte, error) {
	return xml.MarshalIndent(d, "", "  ")
}

// SimpleTimestamp is the outcome of one archive timestamp.
type SimpleTimestamp struct {
	ID             string                     `json:"id" xml:"Id,attr"`
	ProductionTime time.Time                  `json:"productionTime" xml:"ProductionTime"`
	Renewal        evidencerecord.RenewalType `json:"renewal" xml:"Renewal"`
	Indication     ades.Indication            `json:"indication" xml:"Indication"`
	SubIndication  ades.SubIndication         `json:"subIndication,omitempty" xml:"SubIndication,omitempty"`
}

// SimpleRecord is the outcome of one evidence record.
type SimpleRecord struct {
	ID               string                    `json:"id,omitempty" xml:"Id,attr,omitempty"`
	Name             string                    `json:"name,omitempty" xml:"Name,omitempty"`
	Type             evidencerecord.RecordType `json:"type,omitempty" xml:"Type,omitempty"`
	Indication       ades.Indication           `json:"indication" xml:"Indication"`
	SubIndication    ades.SubIndication        `json:"subIndication,omitempty" xml:"SubIndication,omitempty"`
	ProofOfExistence *time.Time                `json:"proofOfExistence,omitempty" xml:"ProofOfExistence,omitempty"`
	Timestamps       []*SimpleTimestamp        `json:"timestamps,omitempty" xml:"Timestamps>Timestamp,omitempty"`
	Scopes           []evidencerecord.Scope    `json:"scopes,omitempty" xml:"Scopes>Scope,omitempty"`
	Errors           []ades.Message            `json:"errors,omitempty" xml:"Errors>Error,omitempty"`
	Warnings         []ades.Message            `json:"warnings,omitempty" xml:"Warnings>Warning,omitempty"`
	Infos            []ades.Message            `json:"infos,omitempty" xml:"Infos>Info,omitempty"`
}

func newSimpleRecord(er *evidencerecord.EvidenceRecord) *SimpleRecord {
	rec := &SimpleRecord{
		ID:     er.ID,
		Name:   er.Name,
		Type:   er.Type,
		Scopes: er.Scopes,
	}
	if c := er.Conclusion; c != nil {
		rec.Indication = c.Indication
		rec.SubIndication = c.SubIndication
		rec.Errors = c.Errors
		rec.Warnings = c.Warnings
		rec.Infos = c.Infos
	}
	poe, ok := er.AnchoredProofOfExistence()
	if rec.Indication == ades.IndicationPassed {
		poe, ok = er.ProofOfExistence()
	}
	if ok {
		rec.ProofOfExistence = &poe
	}
	for _, ts := range er.Timestamps {
		st := &SimpleTimestamp{ID: ts.ID, ProductionTime: ts.ProductionTime, Renewal: ts.Renewal}
		if ts.Conclusion != nil {
			st.Indication = ts.Conclusion.Indication
			st.SubIndication = ts.Conclusion.SubIndication
		}
		rec.Timestamps = append(rec.Timestamps, st)
	}
	return rec
}

// SimpleReport summarizes a validation run.
type SimpleReport struct {
	XMLName        xml.Name                   `json:"-" xml:"SimpleReport"`
	ID             string                     `json:"id" xml:"Id,attr"`
	ValidationTime time.Time                  `json:"validationTime" xml:"ValidationTime"`
	RecordsCount   int                        `json:"recordsCount" xml:"RecordsCount"`
	ValidCount     int                        `json:"validCount" xml:"ValidCount"`
	Records        []*SimpleRecord            `json:"records" xml:"EvidenceRecord"`
	Conclusion     *ades.ValidationConclusion `json:"conclusion" xml:"Conclusion"`
}

// ComputeOverallConclusion computes the overall conclusion from all
// records: PASSED only if every record passed, FAILED if any failed.
func (r *SimpleReport) ComputeOverallConclusion() {
	r.RecordsCount = len(r.Records)
	r.ValidCount = 0
	if len(r.Records) == 0 {
		r.Conclusion = ades.NewValidationConclusion(ades.IndicationIndeterminate, ades.SubIndicationSignedDataNotFound)
		return
	}

	hasFailed := false
	var firstFailed, firstOther ades.SubIndication
	for _, rec := range r.Records {
		switch rec.Indication {
		case ades.IndicationPassed:
			r.ValidCount++
		case ades.IndicationFailed:
			if !hasFailed {
				firstFailed = rec.SubIndication
			}
			hasFailed = true
		default:
			if firstOther == "" {
				firstOther = rec.SubIndication
			}
		}
	}

	switch {
	case r.ValidCount == len(r.Records):
		r.Conclusion = ades.Passed()
	case hasFailed:
		r.Conclusion = ades.NewValidationConclusion(ades.IndicationFailed, firstFailed)
	default:
		r.Conclusion = ades.NewValidationConclusion(ades.IndicationIndeterminate, firstOther)
	}
}

// FailedCount returns the number of failed records.
func (r *SimpleReport) FailedCount() int {
	count := 0
	for _, rec := range r.Records {
		if rec.Indication == ades.IndicationFailed {
			count++
		}
	}
	return count
}

// ToJSON serializes the report to JSON.
func (r *SimpleReport) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// ToXML serializes the report to XML.
func (r *SimpleReport) ToXML() ([]byte, error) {
	return xml.MarshalIndent(r, "", "  ")
}

// TextFormat selects the sections of the plain text report.
type TextFormat struct {
	IncludeTimestamps bool
	IncludeScopes     bool
	IncludeMessages   bool
}

// DefaultTextFormat returns the default text format.
func DefaultTextFormat() *TextFormat {
	return &TextFormat{
		IncludeTimestamps: true,
		IncludeScopes:     false,
		IncludeMessages:   true,
	}
}

// ToSimpleText generates a plain text report.
func (r *SimpleReport) ToSimpleText(format *TextFormat) string {
	if format == nil {
		format = DefaultTextFormat()
	}

	var sb strings.Builder
	sb.WriteString("=== EVIDENCE RECORD VALIDATION REPORT ===\n")
	sb.WriteString(fmt.Sprintf("Report ID: %s\n", r.ID))
	sb.WriteString(fmt.Sprintf("Validation Time: %s\n", r.ValidationTime.Format(time.RFC3339)))

	if r.Conclusion != nil {
		sb.WriteString(fmt.Sprintf("\nOverall Result: %s\n", indicationText(r.Conclusion.Indication, r.Conclusion.SubIndication)))
	}
	sb.WriteString(fmt.Sprintf("\nEvidence records: %d total, %d passed, %d failed\n",
		r.RecordsCount, r.ValidCount, r.FailedCount()))

	for i, rec := range r.Records {
		sb.WriteString(fmt.Sprintf("\n--- Evidence record %d ---\n", i+1))
		if rec.Name != "" {
			sb.WriteString(fmt.Sprintf("Name: %s\n", rec.Name))
		}
		if rec.ID != "" {
			sb.WriteString(fmt.Sprintf("ID: %s\n", rec.ID))
		}
		if rec.Type != "" {
			sb.WriteString(fmt.Sprintf("Type: %s\n", rec.Type))
		}
		if rec.ProofOfExistence != nil {
			sb.WriteString(fmt.Sprintf("Proof of existence: %s\n", rec.ProofOfExistence.Format(time.RFC3339)))
		}

		if format.IncludeTimestamps && len(rec.Timestamps) > 0 {
			sb.WriteString("Archive timestamps:\n")
			for _, ts := range rec.Timestamps {
				sb.WriteString(fmt.Sprintf("  - %s %s: %s\n", ts.ProductionTime.Format(time.RFC3339), ts.Renewal,
					indicationText(ts.Indication, ts.SubIndication)))
			}
		}
		if format.IncludeScopes && len(rec.Scopes) > 0 {
			sb.WriteString("Scopes:\n")
			for _, scope := range rec.Scopes {
				sb.WriteString(fmt.Sprintf("  - %s (%s)\n", scope.Name, scope.Type))
			}
		}

		sb.WriteString(fmt.Sprintf("Result: %s\n", indicationText(rec.Indication, rec.SubIndication)))
		if format.IncludeMessages {
			for _, msg := range rec.Errors {
				sb.WriteString(fmt.Sprintf("  ERROR: %s - %s\n", msg.Key, msg.Value))
			}
			for _, msg := range rec.Warnings {
				sb.WriteString(fmt.Sprintf("  WARNING: %s - %s\n", msg.Key, msg.Value))
			}
		}
	}

	return sb.String()
}

func indicationText(ind ades.Indication, sub ades.SubIndication) string {
	if sub == "" {
		return string(ind)
	}
	return fmt.Sprintf("%s (%s)", ind, sub)
}

// Reports bundles both views of one validation run.
type Reports struct {
	XMLName    xml.Name        `json:"-" xml:"Reports"`
	Simple     *SimpleReport   `json:"simpleReport"`
	Diagnostic *DiagnosticData `json:"diagnosticData"`
}

// ToJSON serializes both reports to JSON.
func (r *Reports) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// ToXML serializes both reports to XML.
func (r *Reports) ToXML() ([]byte, error) {
	return xml.MarshalIndent(r, "", "  ")
}

// ReportBuilder collects validation outcomes into Reports.
type ReportBuilder struct {
	id      string
	at      time.Time
	records []*evidencerecord.EvidenceRecord
	failed  []*Failure
}

// NewReportBuilder creates a report builder with a random report id.
func NewReportBuilder() *ReportBuilder {
	return &ReportBuilder{id: uuid.NewString(), at: time.Now()}
}

// SetID overrides the report id.
func (b *ReportBuilder) SetID(id string) *ReportBuilder {
	b.id = id
	return b
}

// SetValidationTime sets the validation time.
func (b *ReportBuilder) SetValidationTime(t time.Time) *ReportBuilder {
	b.at = t
	return b
}

// AddRecord adds a validated record.
func (b *ReportBuilder) AddRecord(er *evidencerecord.EvidenceRecord) *ReportBuilder {
	if er != nil {
		b.records = append(b.records, er)
	}
	return b
}

// AddFailure adds an input that could not be validated.
func (b *ReportBuilder) AddFailure(name string, err error) *ReportBuilder {
	if err != nil {
		b.failed = append(b.failed, &Failure{Name: name, Error: err.Error()})
	}
	return b
}

// AddResult adds the outcome of one ValidateAll input.
func (b *ReportBuilder) AddResult(name string, res evidencerecord.Result) *ReportBuilder {
	if res.Err != nil {
		return b.AddFailure(name, res.Err)
	}
	return b.AddRecord(res.Record)
}

// Build completes and returns the reports.
func (b *ReportBuilder) Build() *Reports {
	diag := &DiagnosticData{ID: b.id, ValidationTime: b.at, Failures: b.failed}
	simple := &SimpleReport{ID: b.id, ValidationTime: b.at}

	seen := map[string]bool{}
	for _, er := range b.records {
		diag.EvidenceRecords = append(diag.EvidenceRecords, newRecordInfo(er))
		simple.Records = append(simple.Records, newSimpleRecord(er))
		for _, ts := range er.Timestamps {
			for _, cert := range ts.Certificates {
				info := NewCertificateInfo(cert)
				if !seen[info.ID] {
					seen[info.ID] = true
					diag.UsedCertificates = append(diag.UsedCertificates, info)
				}
			}
		}
	}
	for _, f := range b.failed {
		rec := &SimpleRecord{
			Name:          f.Name,
			Indication:    ades.IndicationFailed,
			SubIndication: ades.SubIndicationFormatFailure,
		}
		rec.Errors = []ades.Message{{Key: string(ades.SubIndicationFormatFailure), Value: f.Error}}
		simple.Records = append(simple.Records, rec)
	}
	simple.ComputeOverallConclusion()

	return &Reports{Simple: simple, Diagnostic: diag}
}
