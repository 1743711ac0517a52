package evidencerecord

import (
	"bytes"
	"context"
	"crypto/x509"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/georgepadayatti/goers/certvalidator"
	"github.com/georgepadayatti/goers/digest"
	"github.com/georgepadayatti/goers/evidencerecord/archive"
	"github.com/georgepadayatti/goers/sign/timestamps"
)

// chainVerifier walks the archive timestamp chains of a record in order and
// checks every archive timestamp against the protected objects and the
// renewal digests.
type chainVerifier struct {
	record  *archive.Record
	objects []DataObject
	trust   *certvalidator.TrustStore
	at      time.Time
	logger  *zap.Logger

	revocations  *certvalidator.RevocationStore
	certificates []*x509.Certificate
}

type verification struct {
	recordMatchers []DigestMatcher
	timestamps     []*ArchiveTimestamp
}

func newChainVerifier(record *archive.Record, objects []DataObject, trust *certvalidator.TrustStore, at time.Time, logger *zap.Logger) *chainVerifier {
	v := &chainVerifier{
		record:      record,
		objects:     objects,
		trust:       trust,
		at:          at,
		logger:      logger,
		revocations: certvalidator.NewRevocationStore(),
	}
	v.loadCryptoInfos()
	return v
}

// loadCryptoInfos collects the certificates and revocation data the record
// carries for the validation of its timestamps.
func (v *chainVerifier) loadCryptoInfos() {
	for _, info := range v.record.AllCryptoInfos() {
		switch info.Type {
		case archive.CryptoInfoCertificate:
			cert, err := x509.ParseCertificate(info.Value)
			if err != nil {
				v.logger.Warn("Unable to parse certificate of cryptographic information", zap.Error(err))
				continue
			}
			v.certificates = append(v.certificates, cert)
		case archive.CryptoInfoCRL, archive.CryptoInfoOCSP:
			rev, err := certvalidator.ParseRevocation(info.Value)
			if err != nil {
				v.logger.Warn("Unable to parse revocation data of cryptographic information",
					zap.String("type", string(info.Type)), zap.Error(err))
				continue
			}
			v.revocations.Add(rev)
		}
	}
}

func (v *chainVerifier) verify(ctx context.Context) (*verification, error) {
	out := &verification{}
	for ci, chain := range v.record.Chains {
		var seqHash []byte
		if ci > 0 {
			hash, err := v.record.SequenceHash(ci)
			if err != nil {
				return nil, fmt.Errorf("sequence hash of chain %d: %w", ci, err)
			}
			seqHash = hash
		}

		var lastTSHash []byte
		for si, stamp := range chain.Stamps {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			var objects []DataObject
			if lastTSHash == nil {
				objects = v.objects
			}
			ts, err := v.verifyStamp(ci, si, chain, stamp, objects, lastTSHash, seqHash)
			if err != nil {
				return nil, err
			}
			ts.Position = len(out.timestamps)
			out.timestamps = append(out.timestamps, ts)
			if ci == 0 && si == 0 {
				out.recordMatchers = append([]DigestMatcher(nil), ts.DigestMatchers...)
			}

			if si < len(chain.Stamps)-1 {
				lastTSHash, err = v.record.TimestampHash(ci, si)
				if err != nil {
					return nil, fmt.Errorf("timestamp hash of chain %d archive timestamp %d: %w", ci, si, err)
				}
			}
		}
	}
	return out, nil
}

func (v *chainVerifier) verifyStamp(ci, si int, chain *archive.Chain, stamp *archive.Stamp, objects []DataObject, lastTSHash, seqHash []byte) (*ArchiveTimestamp, error) {
	alg := chain.Algorithm
	token, err := timestamps.ParseToken(stamp.Token)
	if err != nil {
		return nil, archive.NewFormatError(v.record.Encoding,
			fmt.Sprintf("chain %d archive timestamp %d", ci, si), err)
	}

	ts := &ArchiveTimestamp{
		ID:              TimestampID(stamp.Token),
		ChainIndex:      ci,
		Index:           si,
		ProductionTime:  token.GenTime(),
		Certificates:    token.Certificates(),
		DigestAlgorithm: alg,
		State:           StatePending,
		Renews:          -1,
	}
	log := v.logger.With(zap.String("timestamp", ts.ID), zap.Int("chain", ci), zap.Int("index", si))

	groups := stamp.Groups
	if stamp.HashTreeOmitted() {
		groups = [][][]byte{v.virtualGroup(alg, objects, lastTSHash, seqHash, log)}
	}

	matchers, err := v.matchObjects(alg, groups[0], objects, seqHash)
	if err != nil {
		return nil, err
	}
	switch {
	case lastTSHash != nil:
		matchers = renewalDigest(matchers, digest.Digest{Algorithm: alg, Value: lastTSHash}, ArchiveTimeStamp)
	case seqHash != nil:
		seq := digest.Digest{Algorithm: alg, Value: seqHash}
		if v.record.CombinedChainLeaves() && hasIntactObject(matchers) {
			matchers = append(matchers, intactMatcher(ArchiveTimeStampSequence, seq, ""))
		} else {
			matchers = renewalDigest(matchers, seq, ArchiveTimeStampSequence)
		}
	}
	ts.DigestMatchers = matchers

	root := HashTreeRoot(alg, groups)
	imprint := digest.Digest{Algorithm: alg, Value: root}
	ts.MessageImprint = DigestMatcher{
		Type:       MessageImprint,
		Digest:     imprint,
		DataFound:  len(root) > 0,
		DataIntact: len(root) > 0 && token.Matches(imprint),
	}
	ts.State = StateMessageImprintChecked
	if !ts.MessageImprint.DataIntact {
		log.Debug("Archive timestamp message imprint does not match the hash tree root")
	}

	cert, err := token.Verify()
	ts.SignatureIntact = err == nil
	if err != nil {
		log.Debug("Archive timestamp signature is not intact", zap.Error(err))
	}
	if cert == nil {
		cert = token.SignerCertificate()
	}
	ts.SigningCertificate = NewCertificateRef(cert)
	ts.SignatureValid = ts.SignatureIntact && ts.MessageImprint.DataIntact
	ts.State = StateSignatureChecked

	ts.ChainFound = v.chainFound(cert, token, log)
	return ts, nil
}

// virtualGroup stands in for an omitted reduced hash tree.
func (v *chainVerifier) virtualGroup(alg digest.Algorithm, objects []DataObject, lastTSHash, seqHash []byte, log *zap.Logger) [][]byte {
	switch {
	case lastTSHash != nil:
		return [][]byte{lastTSHash}
	case seqHash != nil:
		return [][]byte{seqHash}
	case len(objects) == 1:
		digests, err := objects[0].Digests(alg)
		if err == nil && len(digests) > 0 {
			return [][]byte{digests[0].Value}
		}
		log.Warn("Unable to compute the digest of the protected object", zap.Error(err))
	}
	log.Warn("Hash tree is omitted and no data object can be associated with the archive timestamp")
	return [][]byte{{}}
}

type candidate struct {
	object DataObject
	leaves [][]byte
}

// matchObjects checks the leaves of the first hash tree group against the
// protected objects.
func (v *chainVerifier) matchObjects(alg digest.Algorithm, group [][]byte, objects []DataObject, seqHash []byte) ([]DigestMatcher, error) {
	combined := seqHash != nil && v.record.CombinedChainLeaves()
	candidates := make([]candidate, 0, len(objects))
	for _, obj := range objects {
		digests, err := obj.Digests(alg)
		if err != nil {
			return nil, fmt.Errorf("digest of %s: %w", obj.Name(), err)
		}
		c := candidate{object: obj}
		for _, d := range digests {
			leaf := d.Value
			if combined {
				leaf = archive.ChainLeaf(alg, d.Value, seqHash)
			}
			c.leaves = append(c.leaves, leaf)
		}
		candidates = append(candidates, c)
	}

	matchers := make([]DigestMatcher, 0, len(group))
	seen := map[string]int{}
	for _, value := range group {
		d := digest.Digest{Algorithm: alg, Value: value}
		m := matchLeaf(d, candidates, len(group))
		if prev, dup := seen[string(value)]; dup {
			m.Duplicated = true
			matchers[prev].Duplicated = true
		} else {
			seen[string(value)] = len(matchers)
		}
		matchers = append(matchers, m)
	}
	return matchers, nil
}

func matchLeaf(d digest.Digest, candidates []candidate, groupSize int) DigestMatcher {
	for _, c := range candidates {
		for _, leaf := range c.leaves {
			if bytes.Equal(leaf, d.Value) {
				return intactMatcher(matcherTypeOf(c.object), d, c.object.Name())
			}
		}
	}
	// A single leaf over a single object is assumed to be that object.
	if groupSize == 1 && len(candidates) == 1 {
		obj := candidates[0].object
		return brokenMatcher(matcherTypeOf(obj), d, obj.Name())
	}
	return orphanMatcher(d)
}

// renewalDigest marks the non intact matcher holding d as the renewal
// matcher of type t. When none holds it and a single non intact matcher
// exists, that matcher takes the renewal role as found but not intact.
func renewalDigest(matchers []DigestMatcher, d digest.Digest, t MatcherType) []DigestMatcher {
	var invalid []int
	for i, m := range matchers {
		if m.DataIntact {
			continue
		}
		if bytes.Equal(m.Digest.Value, d.Value) {
			matchers[i].Type = t
			matchers[i].Name = ""
			matchers[i].DataFound = true
			matchers[i].DataIntact = true
			return matchers
		}
		invalid = append(invalid, i)
	}
	if len(invalid) == 1 {
		i := invalid[0]
		matchers[i].Type = t
		matchers[i].DataFound = len(d.Value) > 0
	}
	return matchers
}

func hasIntactObject(matchers []DigestMatcher) bool {
	for _, m := range matchers {
		if m.DataIntact && (m.Type == ArchiveObject || m.Type == MasterSignature) {
			return true
		}
	}
	return false
}

func (v *chainVerifier) chainFound(cert *x509.Certificate, token *timestamps.Token, log *zap.Logger) bool {
	if cert == nil {
		log.Warn("Archive timestamp signing certificate not found")
		return false
	}
	if v.trust.Empty() {
		log.Warn("No trust anchor configured, archive timestamp is untrusted")
		return false
	}
	extra := append(append([]*x509.Certificate(nil), token.Certificates()...), v.certificates...)
	result, err := v.trust.Verify(cert, v.at, v.revocations, extra...)
	if err != nil || !result.ChainFound() {
		log.Warn("Archive timestamp signing certificate does not chain to a trust anchor",
			zap.String("subject", cert.Subject.String()))
		return false
	}
	return true
}
