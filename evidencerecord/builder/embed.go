package builder

import (
	"fmt"

	"github.com/beevik/etree"

	"github.com/georgepadayatti/goers/evidencerecord"
	"github.com/georgepadayatti/goers/evidencerecord/archive"
	"github.com/georgepadayatti/goers/sign/cms"
	"github.com/georgepadayatti/goers/sign/xades"
)

// EmbedCAdES adds an ASN.1 record to the first signer of a CMS signature as
// an internal evidence record attribute.
func EmbedCAdES(signature []byte, record *archive.Record) ([]byte, error) {
	if record.Encoding != archive.ASN1 {
		return nil, fmt.Errorf("%w: a CAdES signature embeds ASN.1 evidence records", evidencerecord.ErrUnknownEncoding)
	}
	encoded, err := encodingOf(record)
	if err != nil {
		return nil, err
	}
	sd, err := cms.ParseSignedData(signature)
	if err != nil {
		return nil, err
	}
	signer, err := sd.Signer()
	if err != nil {
		return nil, err
	}
	signer.AddEvidenceRecord(encoded)
	return sd.Bytes()
}

// EmbedXAdES appends an XML record as a SealingEvidenceRecords property of
// the signature with the given Id, the only signature when id is empty.
func EmbedXAdES(signature []byte, id string, record *archive.Record) ([]byte, error) {
	if record.Encoding != archive.XML {
		return nil, fmt.Errorf("%w: a XAdES signature embeds XML evidence records", evidencerecord.ErrUnknownEncoding)
	}
	encoded, err := encodingOf(record)
	if err != nil {
		return nil, err
	}
	element := etree.NewDocument()
	if err := element.ReadFromBytes(encoded); err != nil {
		return nil, err
	}

	doc, err := xades.ParseDocument(signature)
	if err != nil {
		return nil, err
	}
	sig, err := doc.Signature(id)
	if err != nil {
		return nil, err
	}
	if err := sig.AddSealingEvidenceRecord(element.Root()); err != nil {
		return nil, err
	}
	return doc.Bytes()
}

func encodingOf(record *archive.Record) ([]byte, error) {
	if record.Raw != nil {
		return record.Raw, nil
	}
	return evidencerecord.Encode(record)
}
