package digestbuilder

import (
	"fmt"

	"github.com/georgepadayatti/goers/digest"
	"github.com/georgepadayatti/goers/evidencerecord"
	"github.com/georgepadayatti/goers/evidencerecord/archive"
	"github.com/georgepadayatti/goers/sign/cms"
	"github.com/georgepadayatti/goers/sign/xades"
)

// ExternalTarget describes a signature file protected by an external
// evidence record. The leaf is the digest of the file as it is; a CAdES
// signature also offers the digest without its embedded records. The first
// signer or signature identifies the object.
func ExternalTarget(signature []byte, detached ...*evidencerecord.Document) (*evidencerecord.SignatureObject, error) {
	if signature == nil {
		return nil, nilSignatureError()
	}
	enc, err := evidencerecord.DetectEncoding(signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if enc == archive.XML {
		return xadesTarget(signature, detached)
	}
	return cadesTarget(signature, detached)
}

func cadesTarget(signature []byte, detached []*evidencerecord.Document) (*evidencerecord.SignatureObject, error) {
	sd, err := cms.ParseSignedData(signature)
	if err != nil {
		return nil, fmt.Errorf("%w: Not a valid CAdES file: %v", ErrFormat, err)
	}
	if len(sd.Signers) == 0 {
		return nil, fmt.Errorf("%w: Not a valid CAdES file: no signer", ErrFormat)
	}
	obj, err := cadesObject(sd, 0, detached)
	if err != nil {
		return nil, err
	}
	obj.DigestFunc = func(alg digest.Algorithm) ([]digest.Digest, error) {
		whole, err := digest.Compute(alg, signature)
		if err != nil {
			return nil, err
		}
		stripped, err := strippedDigest(sd, alg, -1, 0)
		if err != nil {
			return nil, err
		}
		return candidates(whole, stripped), nil
	}
	return obj, nil
}

func xadesTarget(signature []byte, detached []*evidencerecord.Document) (*evidencerecord.SignatureObject, error) {
	doc, err := xades.ParseDocument(signature)
	if err != nil {
		return nil, fmt.Errorf("%w: Not a valid XAdES file: %v", ErrFormat, err)
	}
	sigs := doc.Signatures()
	if len(sigs) == 0 {
		return nil, fmt.Errorf("%w: Not a valid XAdES file: The provided document does not contain any signature!", ErrFormat)
	}
	obj, err := signatureObject(sigs[0], detached)
	if err != nil {
		return nil, err
	}
	obj.DigestFunc = func(alg digest.Algorithm) ([]digest.Digest, error) {
		whole, err := digest.Compute(alg, signature)
		if err != nil {
			return nil, err
		}
		return []digest.Digest{whole}, nil
	}
	return obj, nil
}
