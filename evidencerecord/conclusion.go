package evidencerecord

import (
	"time"

	"github.com/georgepadayatti/goers/sign/ades"
)

// timestampConclusion applies the archive timestamp indication rules.
func timestampConclusion(ts *ArchiveTimestamp) *ades.ValidationConclusion {
	var c *ades.ValidationConclusion
	switch {
	case !ts.MessageImprint.DataFound:
		c = ades.NewValidationConclusion(ades.IndicationIndeterminate, ades.SubIndicationSignedDataNotFound)
		c.AddError("messageImprint", "no hash tree root could be computed")
	case !ts.MessageImprint.DataIntact:
		c = ades.NewValidationConclusion(ades.IndicationFailed, ades.SubIndicationHashFailure)
		c.AddError("messageImprint", "message imprint does not match the hash tree root")
	case brokenRenewal(ts):
		c = ades.NewValidationConclusion(ades.IndicationFailed, ades.SubIndicationHashFailure)
		c.AddError("renewal", "hash tree does not cover the renewed archive timestamps")
	case !ts.SignatureIntact:
		c = ades.NewValidationConclusion(ades.IndicationFailed, ades.SubIndicationSigCryptoFailure)
		c.AddError("signature", "timestamp signature is not intact")
	case !ts.ChainFound:
		c = ades.NewValidationConclusion(ades.IndicationIndeterminate, ades.SubIndicationNoCertificateChainFound)
		c.AddError("certificateChain", "signing certificate does not chain to a trust anchor")
	default:
		c = ades.Passed()
	}
	if !ts.Anchored {
		c.AddWarning("anchoring", "archive timestamp does not anchor the protected objects")
	}
	return c
}

// recordConclusion applies the evidence record indication rules. POE is the
// production time of the first archive timestamp.
func recordConclusion(er *EvidenceRecord) *ades.ValidationConclusion {
	for _, m := range er.DigestMatchers {
		if m.Broken() {
			c := ades.NewValidationConclusion(ades.IndicationFailed, ades.SubIndicationHashFailure)
			c.AddError("digestMatcher", "data object "+m.Name+" does not match its hash tree leaf")
			return c
		}
	}
	for _, ts := range er.Timestamps {
		if brokenRenewal(ts) {
			c := ades.NewValidationConclusion(ades.IndicationFailed, ades.SubIndicationHashFailure)
			c.AddError("renewal", "archive timestamp "+ts.ID+" does not cover the renewed data")
			return c
		}
	}
	if !anyFound(er.DigestMatchers) {
		c := ades.NewValidationConclusion(ades.IndicationIndeterminate, ades.SubIndicationSignedDataNotFound)
		c.AddError("digestMatcher", "no protected data object was found")
		return c
	}
	for _, ts := range er.Timestamps {
		if !ts.Conclusion.IsPassed() {
			c := ades.NewValidationConclusion(ts.Conclusion.Indication, ts.Conclusion.SubIndication)
			c.AddError("timestamp", "archive timestamp "+ts.ID+" is "+ts.Conclusion.String())
			return c
		}
	}
	c := ades.Passed()
	if poe, ok := er.ProofOfExistence(); ok {
		c.AddInfo("proofOfExistence", poe.UTC().Format(time.RFC3339))
	}
	return c
}

func brokenRenewal(ts *ArchiveTimestamp) bool {
	for _, m := range ts.DigestMatchers {
		if (m.Type == ArchiveTimeStamp || m.Type == ArchiveTimeStampSequence) && m.Broken() {
			return true
		}
	}
	return false
}

func anyFound(matchers []DigestMatcher) bool {
	for _, m := range matchers {
		if m.DataFound {
			return true
		}
	}
	return false
}
