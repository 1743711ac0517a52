// Package ades holds the ETSI EN 319 102-1 validation vocabulary shared by
// the evidence record validator and its reports.
package ades

import "fmt"

// Indication is a main validation status.
type Indication string

// Validation Indication values per ETSI EN 319 102-1
const (
	IndicationPassed        Indication = "PASSED"
	IndicationFailed        Indication = "FAILED"
	IndicationIndeterminate Indication = "INDETERMINATE"
)

// SubIndication refines a FAILED or INDETERMINATE indication.
type SubIndication string

// Sub-indication values per ETSI EN 319 102-1
const (
	// FAILED sub-indications
	SubIndicationFormatFailure         SubIndication = "FORMAT_FAILURE"
	SubIndicationHashFailure           SubIndication = "HASH_FAILURE"
	SubIndicationSigCryptoFailure      SubIndication = "SIG_CRYPTO_FAILURE"
	SubIndicationSigConstraintsFailure SubIndication = "SIG_CONSTRAINTS_FAILURE"

	// INDETERMINATE sub-indications
	SubIndicationSignedDataNotFound      SubIndication = "SIGNED_DATA_NOT_FOUND"
	SubIndicationNoCertificateChainFound SubIndication = "NO_CERTIFICATE_CHAIN_FOUND"
	SubIndicationNoSignerCertFound       SubIndication = "NO_SIGNER_CERT_FOUND"
	SubIndicationNoValidTimestamp        SubIndication = "NO_VALID_TIMESTAMP"
	SubIndicationTimestampOrderFailure   SubIndication = "TIMESTAMP_ORDER_FAILURE"
	SubIndicationTryLater                SubIndication = "TRY_LATER"
)

// Message is a keyed validation message.
type Message struct {
	Key   string `json:"key" xml:"Key"`
	Value string `json:"value" xml:"Value"`
}

// ValidationConclusion represents a validation conclusion.
type ValidationConclusion struct {
	Indication    Indication    `json:"indication" xml:"Indication"`
	SubIndication SubIndication `json:"subIndication,omitempty" xml:"SubIndication,omitempty"`
	Errors        []Message     `json:"errors,omitempty" xml:"Errors>Error,omitempty"`
	Warnings      []Message     `json:"warnings,omitempty" xml:"Warnings>Warning,omitempty"`
	Infos         []Message     `json:"infos,omitempty" xml:"Infos>Info,omitempty"`
}

// NewValidationConclusion creates a new validation conclusion.
func NewValidationConclusion(indication Indication, subIndication SubIndication) *ValidationConclusion {
	return &ValidationConclusion{
		Indication:    indication,
		SubIndication: subIndication,
	}
}

// Passed returns a PASSED conclusion.
func Passed() *ValidationConclusion {
	return NewValidationConclusion(IndicationPassed, "")
}

// AddError adds an error to the conclusion.
func (c *ValidationConclusion) AddError(key, value string) {
	c.Errors = append(c.Errors, Message{Key: key, Value: value})
}

// AddWarning adds a warning to the conclusion.
func (c *ValidationConclusion) AddWarning(key, value string) {
	c.Warnings = append(c.Warnings, Message{Key: key, Value: value})
}

// AddInfo adds information to the conclusion.
func (c *ValidationConclusion) AddInfo(key, value string) {
	c.Infos = append(c.Infos, Message{Key: key, Value: value})
}

// IsPassed returns true if the indication is PASSED.
func (c *ValidationConclusion) IsPassed() bool {
	return c.Indication == IndicationPassed
}

// IsFailed returns true if the indication is FAILED.
func (c *ValidationConclusion) IsFailed() bool {
	return c.Indication == IndicationFailed
}

// IsIndeterminate returns true if the indication is INDETERMINATE.
func (c *ValidationConclusion) IsIndeterminate() bool {
	return c.Indication == IndicationIndeterminate
}

func (c *ValidationConclusion) String() string {
	if c.SubIndication == "" {
		return string(c.Indication)
	}
	return fmt.Sprintf("%s/%s", c.Indication, c.SubIndication)
}
