package evidencerecord

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Identifier prefixes of the read model.
const (
	prefixSignature      = "S-"
	prefixTimestamp      = "T-"
	prefixEvidenceRecord = "E-"
	prefixCertificate    = "C-"
	prefixRevocation     = "R-"
	prefixDocument       = "D-"
)

func identifier(prefix string, data []byte) string {
	sum := sha256.Sum256(data)
	return prefix + strings.ToUpper(hex.EncodeToString(sum[:]))
}

// SignatureID identifies a signature by the encoding of its signer info or
// ds:Signature element.
func SignatureID(encoded []byte) string { return identifier(prefixSignature, encoded) }

// TimestampID identifies a timestamp by its token.
func TimestampID(token []byte) string { return identifier(prefixTimestamp, token) }

// RecordID identifies an evidence record by its encoding.
func RecordID(encoded []byte) string { return identifier(prefixEvidenceRecord, encoded) }

// CertificateID identifies a certificate by its DER encoding.
func CertificateID(der []byte) string { return identifier(prefixCertificate, der) }

// RevocationID identifies a CRL or OCSP response by its DER encoding.
func RevocationID(der []byte) string { return identifier(prefixRevocation, der) }

// DocumentID identifies a document by its name.
func DocumentID(name string) string { return identifier(prefixDocument, []byte(name)) }
