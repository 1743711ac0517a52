package evidencerecord

import "github.com/georgepadayatti/goers/evidencerecord/archive"

// CoverageSet groups covered object identifiers by category.
type CoverageSet struct {
	Certificates    []string `json:"certificates,omitempty"`
	Revocations     []string `json:"revocations,omitempty"`
	Signatures      []string `json:"signatures,omitempty"`
	SignedData      []string `json:"signedData,omitempty"`
	Timestamps      []string `json:"timestamps,omitempty"`
	EvidenceRecords []string `json:"evidenceRecords,omitempty"`
}

// NewCoverageSet sorts objects into a CoverageSet.
func NewCoverageSet(objects []TimestampedObject) CoverageSet {
	var set CoverageSet
	for _, obj := range objects {
		switch obj.Category {
		case CategoryCertificate:
			set.Certificates = append(set.Certificates, obj.ID)
		case CategoryRevocation:
			set.Revocations = append(set.Revocations, obj.ID)
		case CategorySignature:
			set.Signatures = append(set.Signatures, obj.ID)
		case CategorySignedData:
			set.SignedData = append(set.SignedData, obj.ID)
		case CategoryTimestamp:
			set.Timestamps = append(set.Timestamps, obj.ID)
		case CategoryEvidenceRecord:
			set.EvidenceRecords = append(set.EvidenceRecords, obj.ID)
		}
	}
	return set
}

// Len returns the number of covered objects.
func (c CoverageSet) Len() int {
	return len(c.Certificates) + len(c.Revocations) + len(c.Signatures) +
		len(c.SignedData) + len(c.Timestamps) + len(c.EvidenceRecords)
}

// referenceList is an ordered set of timestamped objects.
type referenceList struct {
	list []TimestampedObject
	seen map[TimestampedObject]bool
}

func (l *referenceList) add(category Category, id string) {
	l.addObject(TimestampedObject{Category: category, ID: id})
}

func (l *referenceList) addObject(obj TimestampedObject) {
	if l.seen == nil {
		l.seen = map[TimestampedObject]bool{}
	}
	if l.seen[obj] {
		return
	}
	l.seen[obj] = true
	l.list = append(l.list, obj)
}

func (l *referenceList) addAll(objs []TimestampedObject) {
	for _, obj := range objs {
		l.addObject(obj)
	}
}

func (l *referenceList) objects() []TimestampedObject {
	if l.list == nil {
		return []TimestampedObject{}
	}
	return l.list
}

func cryptoInfoReferences(infos []archive.CryptoInfo) []TimestampedObject {
	var refs []TimestampedObject
	for _, info := range infos {
		switch info.Type {
		case archive.CryptoInfoCertificate:
			refs = append(refs, TimestampedObject{Category: CategoryCertificate, ID: CertificateID(info.Value)})
		case archive.CryptoInfoCRL, archive.CryptoInfoOCSP:
			refs = append(refs, TimestampedObject{Category: CategoryRevocation, ID: RevocationID(info.Value)})
		}
	}
	return refs
}

// encapsulatedReferences are the objects a later archive timestamp covers
// through ts: the token and its certificates.
func encapsulatedReferences(ts *ArchiveTimestamp) []TimestampedObject {
	refs := []TimestampedObject{{Category: CategoryTimestamp, ID: ts.ID}}
	for _, cert := range ts.Certificates {
		refs = append(refs, TimestampedObject{Category: CategoryCertificate, ID: CertificateID(cert.Raw)})
	}
	return refs
}

// assignCoverage walks the chains in order and sets the objects covered by
// every archive timestamp. Each chain start covers the signer references,
// the record itself and everything the previous chains encapsulate; each
// archive timestamp covers the previous one and the cryptographic
// information gathered so far.
func assignCoverage(er *EvidenceRecord, record *archive.Record) {
	self := TimestampedObject{Category: CategoryEvidenceRecord, ID: er.ID}
	crypto := cryptoInfoReferences(record.CryptoInfos)
	var previousChains []TimestampedObject

	pos := 0
	for _, chain := range record.Chains {
		var chainRefs, previous []TimestampedObject
		for si, stamp := range chain.Stamps {
			ts := er.Timestamps[pos]
			pos++

			var refs referenceList
			if si == 0 {
				refs.addAll(er.CoveredObjects)
				refs.addObject(self)
				refs.addAll(previousChains)
			}
			refs.addAll(previous)
			crypto = append(crypto, cryptoInfoReferences(stamp.CryptoInfos)...)
			refs.addAll(crypto)
			ts.TimestampedObjects = refs.objects()

			previous = encapsulatedReferences(ts)
			chainRefs = append(chainRefs, previous...)
		}
		previousChains = append(previousChains, chainRefs...)
	}
}
