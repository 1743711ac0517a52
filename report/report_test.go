package report

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/xml"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/georgepadayatti/goers/digest"
	"github.com/georgepadayatti/goers/evidencerecord"
	"github.com/georgepadayatti/goers/sign/ades"
)

// Test helpers

func generateTestCert(t *testing.T) *x509.Certificate {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}

	serial, _ := rand.Int(rand.Reader, big.NewInt(1000000))
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"Test Org"},
			CommonName:   "Test TSA",
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageTimeStamping},
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
	return cert
}

var poe = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func passedRecord(cert *x509.Certificate) *evidencerecord.EvidenceRecord {
	d := digest.Digest{Algorithm: digest.SHA256, Value: digest.SHA256.Sum([]byte("alpha"))}
	return &evidencerecord.EvidenceRecord{
		ID:            "ER-1",
		Name:          "alpha.ers",
		Type:          evidencerecord.ASN1EvidenceRecord,
		Incorporation: evidencerecord.External,
		Origin:        evidencerecord.OriginExternal,
		DigestMatchers: []evidencerecord.DigestMatcher{
			{Type: evidencerecord.ArchiveObject, Digest: d, Name: "alpha.txt", DataFound: true, DataIntact: true},
		},
		Timestamps: []*evidencerecord.ArchiveTimestamp{
			{
				ID:                 "T-1",
				ProductionTime:     poe,
				DigestAlgorithm:    digest.SHA256,
				Certificates:       []*x509.Certificate{cert},
				SigningCertificate: evidencerecord.NewCertificateRef(cert),
				State:              evidencerecord.StateValid,
				Renewal:            evidencerecord.Initial,
				Anchored:           true,
				Conclusion:         ades.Passed(),
			},
			{
				ID:              "T-2",
				Index:           1,
				ProductionTime:  poe.Add(24 * time.Hour),
				DigestAlgorithm: digest.SHA256,
				Certificates:    []*x509.Certificate{cert},
				State:           evidencerecord.StateValid,
				Renewal:         evidencerecord.HashTreeRenewal,
				Anchored:        true,
				Conclusion:      ades.Passed(),
			},
		},
		CoveredObjects: []evidencerecord.TimestampedObject{
			{Category: evidencerecord.CategorySignedData, ID: "D-1"},
		},
		Scopes: []evidencerecord.Scope{
			{Type: evidencerecord.ScopeFull, Name: "alpha.txt", Description: "Full document"},
		},
		Conclusion: ades.Passed(),
	}
}

func failedRecord() *evidencerecord.EvidenceRecord {
	conclusion := ades.NewValidationConclusion(ades.IndicationFailed, ades.SubIndicationHashFailure)
	conclusion.AddError("HASH_FAILURE", "Document hash mismatch")
	return &evidencerecord.EvidenceRecord{
		ID:         "ER-2",
		Name:       "beta.ers",
		Type:       evidencerecord.XMLEvidenceRecord,
		Timestamps: []*evidencerecord.ArchiveTimestamp{{ID: "T-3", ProductionTime: poe, Conclusion: ades.Passed()}},
		Conclusion: conclusion,
	}
}

// CertificateInfo tests

func TestNewCertificateInfo(t *testing.T) {
	cert := generateTestCert(t)
	info := NewCertificateInfo(cert)

	if info.ID != evidencerecord.CertificateID(cert.Raw) {
		t.Errorf("ID = %q, want %q", info.ID, evidencerecord.CertificateID(cert.Raw))
	}
	if !strings.Contains(info.Subject, "Test TSA") {
		t.Errorf("Subject should contain 'Test TSA', got %q", info.Subject)
	}
	if info.IsCA {
		t.Error("Certificate should not be CA")
	}
	if len(info.KeyUsage) != 2 {
		t.Errorf("Expected 2 key usages, got %d", len(info.KeyUsage))
	}
	if len(info.ExtendedKeyUsage) != 1 || info.ExtendedKeyUsage[0] != "timeStamping" {
		t.Errorf("ExtendedKeyUsage = %v, want [timeStamping]", info.ExtendedKeyUsage)
	}
}

func TestCertificateInfoIsValidAt(t *testing.T) {
	info := NewCertificateInfo(generateTestCert(t))

	if !info.IsValidAt(time.Now()) {
		t.Error("Certificate should be valid now")
	}
	if info.IsValidAt(time.Now().Add(-2 * time.Hour)) {
		t.Error("Certificate should not be valid before NotBefore")
	}
	if info.IsValidAt(time.Now().Add(2 * 365 * 24 * time.Hour)) {
		t.Error("Certificate should not be valid after NotAfter")
	}
}

// ReportBuilder tests

func TestReportBuilder(t *testing.T) {
	cert := generateTestCert(t)
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	reports := NewReportBuilder().
		SetID("report-1").
		SetValidationTime(at).
		AddRecord(passedRecord(cert)).
		AddRecord(nil).
		Build()

	simple := reports.Simple
	if simple.ID != "report-1" || reports.Diagnostic.ID != "report-1" {
		t.Errorf("Expected report id 'report-1', got %q and %q", simple.ID, reports.Diagnostic.ID)
	}
	if !simple.ValidationTime.Equal(at) {
		t.Errorf("ValidationTime = %v, want %v", simple.ValidationTime, at)
	}
	if simple.RecordsCount != 1 || simple.ValidCount != 1 {
		t.Errorf("Expected 1 record and 1 valid, got %d and %d", simple.RecordsCount, simple.ValidCount)
	}
	if !simple.Conclusion.IsPassed() {
		t.Errorf("Expected PASSED, got %s", simple.Conclusion)
	}

	rec := simple.Records[0]
	if rec.ProofOfExistence == nil || !rec.ProofOfExistence.Equal(poe) {
		t.Errorf("ProofOfExistence = %v, want %v", rec.ProofOfExistence, poe)
	}
	if len(rec.Timestamps) != 2 {
		t.Fatalf("Expected 2 timestamps, got %d", len(rec.Timestamps))
	}
	if rec.Timestamps[1].Renewal != evidencerecord.HashTreeRenewal {
		t.Errorf("Renewal = %q, want %q", rec.Timestamps[1].Renewal, evidencerecord.HashTreeRenewal)
	}

	diag := reports.Diagnostic
	if len(diag.UsedCertificates) != 1 {
		t.Errorf("Expected 1 used certificate, got %d", len(diag.UsedCertificates))
	}
	ts := diag.EvidenceRecords[0].Timestamps[0]
	if ts.SigningCertificate != diag.UsedCertificates[0].ID {
		t.Errorf("SigningCertificate = %q, want %q", ts.SigningCertificate, diag.UsedCertificates[0].ID)
	}
	matcher := diag.EvidenceRecords[0].DigestMatchers[0]
	if matcher.DigestAlgorithm != string(digest.SHA256) || len(matcher.DigestValue) != 64 {
		t.Errorf("Unexpected matcher digest %s %s", matcher.DigestAlgorithm, matcher.DigestValue)
	}
}

func TestReportBuilderNewID(t *testing.T) {
	a := NewReportBuilder().Build()
	b := NewReportBuilder().Build()
	if a.Simple.ID == "" || a.Simple.ID == b.Simple.ID {
		t.Errorf("Expected distinct report ids, got %q and %q", a.Simple.ID, b.Simple.ID)
	}
}

func TestComputeOverallConclusion(t *testing.T) {
	cert := generateTestCert(t)
	indeterminate := passedRecord(cert)
	indeterminate.Conclusion = ades.NewValidationConclusion(ades.IndicationIndeterminate, ades.SubIndicationSignedDataNotFound)

	tests := []struct {
		name    string
		records []*evidencerecord.EvidenceRecord
		want    ades.Indication
		wantSub ades.SubIndication
	}{
		{"empty", nil, ades.IndicationIndeterminate, ades.SubIndicationSignedDataNotFound},
		{"all passed", []*evidencerecord.EvidenceRecord{passedRecord(cert)}, ades.IndicationPassed, ""},
		{"one failed", []*evidencerecord.EvidenceRecord{passedRecord(cert), failedRecord()}, ades.IndicationFailed, ades.SubIndicationHashFailure},
		{"indeterminate", []*evidencerecord.EvidenceRecord{passedRecord(cert), indeterminate}, ades.IndicationIndeterminate, ades.SubIndicationSignedDataNotFound},
		{"failed wins", []*evidencerecord.EvidenceRecord{indeterminate, failedRecord()}, ades.IndicationFailed, ades.SubIndicationHashFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewReportBuilder()
			for _, er := range tt.records {
				b.AddRecord(er)
			}
			c := b.Build().Simple.Conclusion
			if c.Indication != tt.want || c.SubIndication != tt.wantSub {
				t.Errorf("Conclusion = %s, want %s/%s", c, tt.want, tt.wantSub)
			}
		})
	}
}

func TestFailedRecordHasNoProofOfExistence(t *testing.T) {
	reports := NewReportBuilder().AddRecord(failedRecord()).Build()
	rec := reports.Simple.Records[0]
	if rec.ProofOfExistence != nil {
		t.Errorf("Expected no proof of existence, got %v", rec.ProofOfExistence)
	}
	if len(rec.Errors) != 1 || rec.Errors[0].Key != "HASH_FAILURE" {
		t.Errorf("Expected HASH_FAILURE error, got %v", rec.Errors)
	}
	if reports.Simple.FailedCount() != 1 {
		t.Errorf("Expected 1 failed record, got %d", reports.Simple.FailedCount())
	}
}

func TestBrokenRenewalKeepsAnchoredProofOfExistence(t *testing.T) {
	record := passedRecord(generateTestCert(t))
	record.Timestamps[1].Conclusion = ades.NewValidationConclusion(ades.IndicationFailed, ades.SubIndicationHashFailure)
	record.Timestamps[1].State = evidencerecord.StateInvalid
	record.Conclusion = ades.NewValidationConclusion(ades.IndicationFailed, ades.SubIndicationHashFailure)

	rec := NewReportBuilder().AddRecord(record).Build().Simple.Records[0]
	if rec.Indication != ades.IndicationFailed {
		t.Errorf("Expected FAILED, got %s", rec.Indication)
	}
	if rec.ProofOfExistence == nil || !rec.ProofOfExistence.Equal(poe) {
		t.Errorf("ProofOfExistence = %v, want %v", rec.ProofOfExistence, poe)
	}
	if rec.Timestamps[1].Indication != ades.IndicationFailed {
		t.Errorf("Expected renewal FAILED, got %s", rec.Timestamps[1].Indication)
	}

	record.Timestamps[0].Conclusion = ades.NewValidationConclusion(ades.IndicationFailed, ades.SubIndicationSigCryptoFailure)
	rec = NewReportBuilder().AddRecord(record).Build().Simple.Records[0]
	if rec.ProofOfExistence != nil {
		t.Errorf("Expected no proof of existence for a failed initial timestamp, got %v", rec.ProofOfExistence)
	}
}

func TestAddResult(t *testing.T) {
	reports := NewReportBuilder().
		AddResult("broken.ers", evidencerecord.Result{Err: errors.New("unrecognized evidence record encoding")}).
		AddResult("alpha.ers", evidencerecord.Result{Record: passedRecord(generateTestCert(t))}).
		Build()

	if len(reports.Diagnostic.Failures) != 1 {
		t.Fatalf("Expected 1 failure, got %d", len(reports.Diagnostic.Failures))
	}
	if reports.Diagnostic.Failures[0].Name != "broken.ers" {
		t.Errorf("Failure name = %q, want 'broken.ers'", reports.Diagnostic.Failures[0].Name)
	}
	if reports.Simple.RecordsCount != 2 {
		t.Errorf("Expected 2 records, got %d", reports.Simple.RecordsCount)
	}
	last := reports.Simple.Records[1]
	if last.Indication != ades.IndicationFailed || last.SubIndication != ades.SubIndicationFormatFailure {
		t.Errorf("Expected FAILED/FORMAT_FAILURE, got %s/%s", last.Indication, last.SubIndication)
	}
	if !reports.Simple.Conclusion.IsFailed() {
		t.Errorf("Expected overall FAILED, got %s", reports.Simple.Conclusion)
	}
}

// Serialization tests

func TestSimpleReportToJSON(t *testing.T) {
	reports := NewReportBuilder().SetID("json-report").AddRecord(passedRecord(generateTestCert(t))).Build()

	data, err := reports.Simple.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON failed: %v", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("Failed to parse JSON: %v", err)
	}
	if parsed["id"] != "json-report" {
		t.Errorf("Expected id 'json-report', got %v", parsed["id"])
	}
	records := parsed["records"].([]interface{})
	if records[0].(map[string]interface{})["indication"] != "PASSED" {
		t.Errorf("Expected record indication PASSED, got %v", records[0])
	}
}

func TestDiagnosticDataToXML(t *testing.T) {
	reports := NewReportBuilder().SetID("xml-report").AddRecord(passedRecord(generateTestCert(t))).Build()

	data, err := reports.Diagnostic.ToXML()
	if err != nil {
		t.Fatalf("ToXML failed: %v", err)
	}
	s := string(data)
	for _, want := range []string{
		`<DiagnosticData Id="xml-report">`,
		`<EvidenceRecord Id="ER-1">`,
		`<DigestMatcher Type="EVIDENCE_RECORD_ARCHIVE_OBJECT">`,
		`<Timestamp Id="T-2">`,
		`<CoveredObject Category="SIGNED_DATA" Id="D-1">`,
	} {
		if !strings.Contains(s, want) {
			t.Errorf("XML should contain %s", want)
		}
	}

	var parsed DiagnosticData
	if err := xml.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("Failed to parse XML: %v", err)
	}
	if len(parsed.EvidenceRecords) != 1 || len(parsed.EvidenceRecords[0].Timestamps) != 2 {
		t.Errorf("Unexpected parsed diagnostic data: %+v", parsed.EvidenceRecords)
	}
}

func TestReportsToXML(t *testing.T) {
	data, err := NewReportBuilder().AddRecord(failedRecord()).Build().ToXML()
	if err != nil {
		t.Fatalf("ToXML failed: %v", err)
	}
	s := string(data)
	if !strings.HasPrefix(s, "<Reports>") {
		t.Errorf("XML should start with <Reports>, got %.40s", s)
	}
	if !strings.Contains(s, "<SimpleReport") || !strings.Contains(s, "<DiagnosticData") {
		t.Error("XML should contain both reports")
	}
}

func TestToSimpleText(t *testing.T) {
	reports := NewReportBuilder().
		SetID("text-report").
		AddRecord(passedRecord(generateTestCert(t))).
		AddRecord(failedRecord()).
		Build()

	text := reports.Simple.ToSimpleText(nil)
	for _, want := range []string{
		"=== EVIDENCE RECORD VALIDATION REPORT ===",
		"Report ID: text-report",
		"Overall Result: FAILED (HASH_FAILURE)",
		"Evidence records: 2 total, 1 passed, 1 failed",
		"Proof of existence: 2024-03-01T12:00:00Z",
		"HASH_TREE_RENEWAL: PASSED",
		"ERROR: HASH_FAILURE - Document hash mismatch",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("Text should contain %q", want)
		}
	}
	if strings.Contains(text, "Scopes:") {
		t.Error("Default format should not include scopes")
	}

	text = reports.Simple.ToSimpleText(&TextFormat{IncludeScopes: true})
	if !strings.Contains(text, "  - alpha.txt (FULL)") {
		t.Error("Text should list scopes when requested")
	}
	if strings.Contains(text, "ERROR:") {
		t.Error("Messages should be omitted when not requested")
	}
}
