package evidencerecord

import "fmt"

// Classify returns the renewal type of an archive timestamp from its digest
// matchers.
func Classify(ts *ArchiveTimestamp) (RenewalType, error) {
	var timestampRenewal, chainRenewal bool
	for _, m := range ts.DigestMatchers {
		switch m.Type {
		case ArchiveTimeStamp:
			timestampRenewal = true
		case ArchiveTimeStampSequence:
			chainRenewal = true
		case MessageImprint, ArchiveObject, MasterSignature, OrphanReference:
		default:
			return "", fmt.Errorf("%w: %q", ErrUnknownMatcher, m.Type)
		}
	}
	switch {
	case timestampRenewal && chainRenewal:
		return "", ErrAmbiguousRenewal
	case timestampRenewal:
		return HashTreeRenewal, nil
	case chainRenewal:
		return ChainRenewal, nil
	default:
		return Initial, nil
	}
}

// classifyAll sets the renewal type and the renewed timestamp of every
// archive timestamp.
func classifyAll(tss []*ArchiveTimestamp) error {
	for i, ts := range tss {
		renewal, err := Classify(ts)
		if err != nil {
			return fmt.Errorf("archive timestamp %s: %w", ts.ID, err)
		}
		ts.Renewal = renewal
		ts.Renews = -1
		if renewal != Initial && i > 0 {
			ts.Renews = i - 1
		}
	}
	return nil
}

// propagate anchors the timestamps in order. A timestamp renewal is only as
// good as the timestamp it renews; a chain renewal re-derives its objects
// and is anchored on its own matches. Failures never travel backwards.
func propagate(tss []*ArchiveTimestamp, scopesFor func([]DigestMatcher) []Scope) {
	for _, ts := range tss {
		imprint := ts.MessageImprint.DataIntact
		switch ts.Renewal {
		case Initial:
			ts.Anchored = imprint
			if ts.Anchored {
				ts.Scopes = scopesFor(ts.DigestMatchers)
			}
		case HashTreeRenewal:
			m, _ := ts.Matcher(ArchiveTimeStamp)
			var prev *ArchiveTimestamp
			if ts.Renews >= 0 {
				prev = tss[ts.Renews]
			}
			ts.Anchored = imprint && m.DataIntact && prev != nil && prev.Anchored
			if ts.Anchored {
				ts.Scopes = append([]Scope(nil), prev.Scopes...)
			}
		case ChainRenewal:
			ts.Anchored = imprint && hasIntactObject(ts.DigestMatchers)
			if ts.Anchored {
				ts.Scopes = scopesFor(ts.DigestMatchers)
			}
		}
		if ts.Scopes == nil {
			ts.Scopes = []Scope{}
		}
	}
}
