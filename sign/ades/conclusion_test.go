package ades

import (
	"encoding/json"
	"encoding/xml"
	"strings"
	"testing"
)

func TestNewValidationConclusion(t *testing.T) {
	c := NewValidationConclusion(IndicationFailed, SubIndicationHashFailure)
	if !c.IsFailed() {
		t.Error("Expected conclusion to be failed")
	}
	if c.IsPassed() || c.IsIndeterminate() {
		t.Error("Expected failed conclusion only")
	}
	if c.String() != "FAILED/HASH_FAILURE" {
		t.Errorf("Expected FAILED/HASH_FAILURE, got %s", c.String())
	}
}

func TestPassed(t *testing.T) {
	c := Passed()
	if !c.IsPassed() {
		t.Error("Expected conclusion to be passed")
	}
	if c.String() != "PASSED" {
		t.Errorf("Expected PASSED, got %s", c.String())
	}
}

func TestConclusionMessages(t *testing.T) {
	c := NewValidationConclusion(IndicationIndeterminate, SubIndicationSignedDataNotFound)
	c.AddError("ref", "not found")
	c.AddWarning("tree", "omitted")
	c.AddInfo("chain", "2")

	if len(c.Errors) != 1 || c.Errors[0].Key != "ref" {
		t.Errorf("Expected one error keyed ref, got %v", c.Errors)
	}
	if len(c.Warnings) != 1 || len(c.Infos) != 1 {
		t.Errorf("Expected one warning and one info, got %d and %d", len(c.Warnings), len(c.Infos))
	}
}

func TestConclusionSerialization(t *testing.T) {
	c := NewValidationConclusion(IndicationFailed, SubIndicationSigCryptoFailure)
	c.AddError("signature", "broken")

	data, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("Failed to marshal JSON: %v", err)
	}
	if !strings.Contains(string(data), `"subIndication":"SIG_CRYPTO_FAILURE"`) {
		t.Errorf("Expected subIndication in JSON, got %s", data)
	}

	data, err = xml.Marshal(c)
	if err != nil {
		t.Fatalf("Failed to marshal XML: %v", err)
	}
	if !strings.Contains(string(data), "<Errors><Error><Key>signature</Key>") {
		t.Errorf("Expected nested error elements, got %s", data)
	}
}
