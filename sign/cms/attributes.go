package cms

import (
	"encoding/asn1"
)

// Values returns the raw values of every unsigned attribute of the given type,
// in encoding order.
func (si *SignerInfo) Values(oid asn1.ObjectIdentifier) [][]byte {
	var out [][]byte
	for _, attr := range si.UnsignedAttributes {
		if !attr.Type.Equal(oid) {
			continue
		}
		for _, v := range attr.Values {
			out = append(out, v.FullBytes)
		}
	}
	return out
}

// EvidenceRecords returns the internal evidence record values.
func (si *SignerInfo) EvidenceRecords() [][]byte {
	return si.Values(OIDInternalEvidenceRecord)
}

// SignatureTimestamps returns the signature timestamp tokens.
func (si *SignerInfo) SignatureTimestamps() [][]byte {
	return si.Values(OIDSignatureTimeStampToken)
}

// CounterSignatures parses the counter-signature attributes, recursively
// including counter-signatures of counter-signatures.
func (si *SignerInfo) CounterSignatures() ([]*SignerInfo, error) {
	var out []*SignerInfo
	for _, raw := range si.Values(OIDCounterSignature) {
		cs, err := ParseSignerInfo(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, cs)
		nested, err := cs.CounterSignatures()
		if err != nil {
			return nil, err
		}
		out = append(out, nested...)
	}
	return out, nil
}

// CountEvidenceRecords returns the number of internal evidence record values.
func (si *SignerInfo) CountEvidenceRecords() int {
	return len(si.EvidenceRecords())
}

// StripEvidenceRecords removes internal evidence record values with an index
// greater than or equal to from, counted across all attribute instances. An
// attribute left without values is dropped, and so is the unsigned attribute
// field when nothing remains.
func (si *SignerInfo) StripEvidenceRecords(from int) {
	if from < 0 {
		from = 0
	}
	seen := 0
	kept := si.UnsignedAttributes[:0:0]
	for _, attr := range si.UnsignedAttributes {
		if !attr.Type.Equal(OIDInternalEvidenceRecord) {
			kept = append(kept, attr)
			continue
		}
		var values []asn1.RawValue
		for _, v := range attr.Values {
			if seen < from {
				values = append(values, v)
			}
			seen++
		}
		if len(values) > 0 {
			kept = append(kept, Attribute{Type: attr.Type, Values: values})
		}
	}
	si.UnsignedAttributes = kept
}

// AddUnsignedAttribute appends a value to the first attribute of the given
// type, or adds a new attribute at the end when there is none.
func (si *SignerInfo) AddUnsignedAttribute(oid asn1.ObjectIdentifier, value []byte) {
	v := asn1.RawValue{FullBytes: append([]byte(nil), value...)}
	for i := range si.UnsignedAttributes {
		if si.UnsignedAttributes[i].Type.Equal(oid) {
			si.UnsignedAttributes[i].Values = append(si.UnsignedAttributes[i].Values, v)
			return
		}
	}
	si.UnsignedAttributes = append(si.UnsignedAttributes, Attribute{Type: oid, Values: []asn1.RawValue{v}})
}

// AddEvidenceRecord embeds an encoded evidence record as an internal
// evidence record attribute value.
func (si *SignerInfo) AddEvidenceRecord(record []byte) {
	si.AddUnsignedAttribute(OIDInternalEvidenceRecord, record)
}
