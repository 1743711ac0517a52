package digestbuilder

import (
	"fmt"

	"github.com/georgepadayatti/goers/digest"
	"github.com/georgepadayatti/goers/evidencerecord"
	"github.com/georgepadayatti/goers/sign/cms"
)

// CAdES computes evidence record digests of a CMS signature.
type CAdES struct {
	signature []byte
	alg       digest.Algorithm
	parallel  bool
	detached  []*evidencerecord.Document
}

// NewCAdES returns a builder for the DER encoded ContentInfo signature.
// An empty algorithm selects SHA-256.
func NewCAdES(signature []byte, alg digest.Algorithm) *CAdES {
	return &CAdES{signature: signature, alg: alg}
}

// SetParallelEvidenceRecord selects the parallel convention.
func (b *CAdES) SetParallelEvidenceRecord(parallel bool) *CAdES {
	b.parallel = parallel
	return b
}

// SetDetachedContent sets the signed content of a detached signature.
func (b *CAdES) SetDetachedContent(docs ...*evidencerecord.Document) *CAdES {
	b.detached = docs
	return b
}

func (b *CAdES) parse() (*cms.SignedData, digest.Algorithm, error) {
	if b.signature == nil {
		return nil, "", nilSignatureError()
	}
	alg, err := algorithmOf(b.alg)
	if err != nil {
		return nil, "", err
	}
	sd, err := cms.ParseSignedData(b.signature)
	if err != nil {
		return nil, "", fmt.Errorf("%w: Not a valid CAdES file: %v", ErrFormat, err)
	}
	return sd, alg, nil
}

// Build returns the digest of the signature under the selected convention.
func (b *CAdES) Build() (digest.Digest, error) {
	sd, alg, err := b.parse()
	if err != nil {
		return digest.Digest{}, err
	}
	if b.parallel {
		return strippedDigest(sd, alg, -1, 0)
	}
	if countEvidenceRecords(sd) > 1 {
		return digest.Digest{}, fmt.Errorf("%w: The CMSSignedData contains multiple evidence record attributes! Unable to compute hash.", ErrIllegalInput)
	}
	encoded, err := sd.Bytes()
	if err != nil {
		return digest.Digest{}, err
	}
	return digest.Compute(alg, encoded)
}

// BuildExternalEvidenceRecordDigest returns the signature digest followed
// by the digest of the signed content, the two leaves of an external
// evidence record over a detached signature.
func (b *CAdES) BuildExternalEvidenceRecordDigest() ([]digest.Digest, error) {
	sd, alg, err := b.parse()
	if err != nil {
		return nil, err
	}
	sigDigest, err := b.Build()
	if err != nil {
		return nil, err
	}

	var content digest.Digest
	switch {
	case len(b.detached) > 0:
		content, err = b.detached[0].Digest(alg)
	case sd.EContent != nil:
		content, err = digest.Compute(alg, sd.EContent)
	default:
		return nil, fmt.Errorf("%w: detached content is required for a detached signature", ErrIllegalInput)
	}
	if err != nil {
		return nil, err
	}
	return []digest.Digest{sigDigest, content}, nil
}

func countEvidenceRecords(sd *cms.SignedData) int {
	n := 0
	for _, si := range sd.Signers {
		n += si.CountEvidenceRecords()
	}
	return n
}

// strippedDigest hashes a copy of sd without the evidence records of signer
// from index onwards. A negative signer strips every signer.
func strippedDigest(sd *cms.SignedData, alg digest.Algorithm, signer, from int) (digest.Digest, error) {
	c := sd.Clone()
	for i, si := range c.Signers {
		if signer < 0 || i == signer {
			si.StripEvidenceRecords(from)
		}
	}
	encoded, err := c.Bytes()
	if err != nil {
		return digest.Digest{}, err
	}
	return digest.Compute(alg, encoded)
}
