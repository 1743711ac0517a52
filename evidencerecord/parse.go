package evidencerecord

import (
	"bytes"
	"fmt"

	"github.com/georgepadayatti/goers/evidencerecord/archive"
	"github.com/georgepadayatti/goers/evidencerecord/ers"
	"github.com/georgepadayatti/goers/evidencerecord/xmlers"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DetectEncoding tells the encoding of data from its first non whitespace
// byte: '<' for XML, a DER SEQUENCE for ASN.1.
func DetectEncoding(data []byte) (archive.Encoding, error) {
	trimmed := bytes.TrimLeft(bytes.TrimPrefix(data, utf8BOM), " \t\r\n")
	if len(trimmed) == 0 {
		return "", ErrNoRecord
	}
	switch trimmed[0] {
	case '<':
		return archive.XML, nil
	case 0x30:
		return archive.ASN1, nil
	}
	return "", fmt.Errorf("%w: leading byte 0x%02x", ErrUnknownEncoding, trimmed[0])
}

// Parse decodes an ASN.1 or XML evidence record.
func Parse(data []byte) (*archive.Record, error) {
	enc, err := DetectEncoding(data)
	if err != nil {
		return nil, err
	}
	if enc == archive.XML {
		return xmlers.Parse(data)
	}
	return ers.Parse(bytes.TrimLeft(data, " \t\r\n"))
}

// Encode serializes record in its encoding.
func Encode(record *archive.Record) ([]byte, error) {
	switch record.Encoding {
	case archive.XML:
		return xmlers.Encode(record)
	case archive.ASN1, "":
		return ers.Encode(record)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownEncoding, record.Encoding)
}
