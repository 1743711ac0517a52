package evidencerecord

import "strings"

const (
	masterSignatureDescription  = "Master signature"
	counterSignatureDescription = "Counter signature"
	signatureDescription        = "Signature"
	fullDocumentDescription     = "Full document"
)

// scopeResolver derives scopes and signer references from intact object
// matchers.
type scopeResolver struct {
	signature *SignatureObject
}

// signatureScopes describes the N covered signatures, the master first, and
// their signed data.
func (r *scopeResolver) signatureScopes() []Scope {
	sig := r.signature
	scopes := []Scope{{Type: ScopeSignature, Name: sig.ID, Description: masterSignatureDescription}}
	for _, id := range sig.CounterSignatureIDs {
		scopes = append(scopes, Scope{Type: ScopeSignature, Name: id, Description: counterSignatureDescription})
	}
	for _, id := range sig.CoexistingSignatureIDs {
		scopes = append(scopes, Scope{Type: ScopeSignature, Name: id, Description: signatureDescription})
	}
	name := "Signed data"
	if len(sig.SignedData) > 0 {
		name = strings.Join(sig.SignedData, ", ")
	}
	return append(scopes, Scope{Type: ScopeFull, Name: name, Description: fullDocumentDescription})
}

func (r *scopeResolver) scopes(matchers []DigestMatcher) []Scope {
	scopes := []Scope{}
	seen := map[Scope]bool{}
	add := func(s Scope) {
		if !seen[s] {
			seen[s] = true
			scopes = append(scopes, s)
		}
	}
	for _, m := range matchers {
		if !m.DataIntact {
			continue
		}
		switch m.Type {
		case MasterSignature:
			if r.signature != nil {
				for _, s := range r.signatureScopes() {
					add(s)
				}
			}
		case ArchiveObject:
			add(Scope{Type: ScopeFull, Name: m.Name, Description: fullDocumentDescription})
		}
	}
	return scopes
}

// references returns the objects covered through the intact matchers:
// signatures, signed data and the values embedded in the master signature.
func (r *scopeResolver) references(matchers []DigestMatcher) []TimestampedObject {
	var refs referenceList
	for _, m := range matchers {
		if !m.DataIntact {
			continue
		}
		switch m.Type {
		case MasterSignature:
			if r.signature == nil {
				continue
			}
			sig := r.signature
			refs.add(CategorySignature, sig.ID)
			for _, id := range sig.CounterSignatureIDs {
				refs.add(CategorySignature, id)
			}
			for _, id := range sig.CoexistingSignatureIDs {
				refs.add(CategorySignature, id)
			}
			for _, name := range sig.SignedData {
				refs.add(CategorySignedData, DocumentID(name))
			}
			for _, cert := range sig.Certificates {
				refs.add(CategoryCertificate, CertificateID(cert))
			}
			for _, rev := range sig.Revocations {
				refs.add(CategoryRevocation, RevocationID(rev))
			}
			for _, token := range sig.Timestamps {
				refs.add(CategoryTimestamp, TimestampID(token))
			}
		case ArchiveObject:
			refs.add(CategorySignedData, DocumentID(m.Name))
		}
	}
	return refs.objects()
}
