package xades

import (
	"errors"
	"strings"
	"testing"

	"github.com/beevik/etree"
)

const testSignature = `<?xml version="1.0" encoding="UTF-8"?>
<root xmlns="urn:test">
  <data Id="payload">hello</data>
  <ds:Signature xmlns:ds="http://www.w3.org/2000/09/xmldsig#" Id="sig-1">
    <ds:SignedInfo>
      <ds:CanonicalizationMethod Algorithm="http://www.w3.org/2001/10/xml-exc-c14n#"/>
      <ds:SignatureMethod Algorithm="http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"/>
      <ds:Reference URI="">
        <ds:Transforms>
          <ds:Transform Algorithm="http://www.w3.org/2000/09/xmldsig#enveloped-signature"/>
        </ds:Transforms>
        <ds:DigestMethod Algorithm="http://www.w3.org/2001/04/xmlenc#sha256"/>
        <ds:DigestValue>AAAA</ds:DigestValue>
      </ds:Reference>
      <ds:Reference URI="#payload">
        <ds:DigestMethod Algorithm="http://www.w3.org/2001/04/xmlenc#sha256"/>
        <ds:DigestValue>AAAA</ds:DigestValue>
      </ds:Reference>
      <ds:Reference URI="detached.txt">
        <ds:DigestMethod Algorithm="http://www.w3.org/2001/04/xmlenc#sha256"/>
        <ds:DigestValue>AAAA</ds:DigestValue>
      </ds:Reference>
      <ds:Reference URI="#manifest-1" Type="http://www.w3.org/2000/09/xmldsig#Manifest">
        <ds:DigestMethod Algorithm="http://www.w3.org/2001/04/xmlenc#sha256"/>
        <ds:DigestValue>AAAA</ds:DigestValue>
      </ds:Reference>
    </ds:SignedInfo>
    <ds:SignatureValue>c2lnbmF0dXJl</ds:SignatureValue>
    <ds:Object>
      <xades:QualifyingProperties xmlns:xades="http://uri.etsi.org/01903/v1.3.2#" Target="#sig-1">
        <xades:UnsignedProperties>
          <xades:UnsignedSignatureProperties>
            <xades:SignatureTimeStamp Id="ts-1"/>
          </xades:UnsignedSignatureProperties>
        </xades:UnsignedProperties>
      </xades:QualifyingProperties>
    </ds:Object>
    <ds:Object>
      <ds:Manifest Id="manifest-1">
        <ds:Reference URI="#payload">
          <ds:DigestMethod Algorithm="http://www.w3.org/2001/04/xmlenc#sha256"/>
          <ds:DigestValue>AAAA</ds:DigestValue>
        </ds:Reference>
      </ds:Manifest>
    </ds:Object>
  </ds:Signature>
</root>`

func parseTestSignature(t *testing.T) *Signature {
	t.Helper()
	doc, err := ParseDocument([]byte(testSignature))
	if err != nil {
		t.Fatalf("Failed to parse document: %v", err)
	}
	sig, err := doc.Signature("")
	if err != nil {
		t.Fatalf("Failed to locate signature: %v", err)
	}
	return sig
}

func TestSignatureParts(t *testing.T) {
	sig := parseTestSignature(t)

	if sig.ID() != "sig-1" {
		t.Errorf("Expected id sig-1, got %s", sig.ID())
	}
	if sig.CanonicalizationMethod() != ExcC14N {
		t.Errorf("Expected exclusive c14n, got %s", sig.CanonicalizationMethod())
	}
	if sig.SignedInfo() == nil || sig.SignatureValue() == nil {
		t.Fatal("Expected SignedInfo and SignatureValue")
	}
	if sig.KeyInfo() != nil {
		t.Error("Expected no KeyInfo")
	}

	refs := sig.References()
	if len(refs) != 4 {
		t.Fatalf("Expected 4 references, got %d", len(refs))
	}
	if !refs[0].Enveloped() || !refs[0].Internal() {
		t.Error("Expected first reference to be enveloped and internal")
	}
	if refs[2].Internal() {
		t.Error("Expected detached reference to be external")
	}
	if len(sig.ManifestReferences()) != 1 {
		t.Errorf("Expected 1 manifest reference, got %d", len(sig.ManifestReferences()))
	}
	if len(sig.Objects()) != 2 {
		t.Errorf("Expected 2 objects, got %d", len(sig.Objects()))
	}
	if sig.UnsignedSignatureProperties() == nil {
		t.Error("Expected unsigned signature properties")
	}
}

func TestSignatureLookup(t *testing.T) {
	doc, err := ParseDocument([]byte(testSignature))
	if err != nil {
		t.Fatalf("Failed to parse document: %v", err)
	}
	if _, err := doc.Signature("sig-1"); err != nil {
		t.Errorf("Expected signature sig-1, got error %v", err)
	}
	if _, err := doc.Signature("other"); !errors.Is(err, ErrSignatureNotFound) {
		t.Errorf("Expected ErrSignatureNotFound, got %v", err)
	}

	empty, err := ParseDocument([]byte(`<root/>`))
	if err != nil {
		t.Fatalf("Failed to parse document: %v", err)
	}
	if _, err := empty.Signature(""); !errors.Is(err, ErrNoSignature) {
		t.Errorf("Expected ErrNoSignature, got %v", err)
	}

	two, err := ParseDocument([]byte(`<root xmlns:ds="http://www.w3.org/2000/09/xmldsig#"><ds:Signature/><ds:Signature/></root>`))
	if err != nil {
		t.Fatalf("Failed to parse document: %v", err)
	}
	if _, err := two.Signature(""); !errors.Is(err, ErrMultipleSignatures) {
		t.Errorf("Expected ErrMultipleSignatures, got %v", err)
	}
}

func TestDereference(t *testing.T) {
	sig := parseTestSignature(t)
	refs := sig.References()

	whole, err := sig.Dereference(refs[0], C14N10)
	if err != nil {
		t.Fatalf("Failed to dereference enveloped reference: %v", err)
	}
	if strings.Contains(string(whole), "Signature") {
		t.Errorf("Expected enveloped signature to be removed, got %s", whole)
	}
	if !strings.Contains(string(whole), `<data Id="payload">hello</data>`) {
		t.Errorf("Expected payload in canonical form, got %s", whole)
	}

	payload, err := sig.Dereference(refs[1], "")
	if err != nil {
		t.Fatalf("Failed to dereference #payload: %v", err)
	}
	expected := `<data xmlns="urn:test" Id="payload">hello</data>`
	if string(payload) != expected {
		t.Errorf("Expected %s, got %s", expected, payload)
	}

	if _, err := sig.Dereference(refs[2], C14N10); !errors.Is(err, ErrExternalReference) {
		t.Errorf("Expected ErrExternalReference, got %v", err)
	}
	if _, err := sig.Dereference(Reference{URI: "#missing"}, C14N10); !errors.Is(err, ErrReferenceNotFound) {
		t.Errorf("Expected ErrReferenceNotFound, got %v", err)
	}
}

func TestAddSealingEvidenceRecord(t *testing.T) {
	sig := parseTestSignature(t)

	record := etree.NewElement("EvidenceRecord")
	record.CreateAttr("xmlns", "urn:ietf:params:xml:ns:ers")
	if err := sig.AddSealingEvidenceRecord(record); err != nil {
		t.Fatalf("Failed to add evidence record: %v", err)
	}

	containers := sig.SealingEvidenceRecords()
	if len(containers) != 1 {
		t.Fatalf("Expected 1 SealingEvidenceRecords, got %d", len(containers))
	}
	usp := sig.UnsignedSignatureProperties()
	last := usp.ChildElements()[len(usp.ChildElements())-1]
	if last != containers[0] {
		t.Error("Expected SealingEvidenceRecords to be the last property")
	}
	if len(sig.EvidenceRecords()) != 1 {
		t.Errorf("Expected 1 evidence record, got %d", len(sig.EvidenceRecords()))
	}
}

func TestEnsureUnsignedSignatureProperties(t *testing.T) {
	doc, err := ParseDocument([]byte(`<ds:Signature xmlns:ds="http://www.w3.org/2000/09/xmldsig#">` +
		`<ds:Object><xades:QualifyingProperties xmlns:xades="http://uri.etsi.org/01903/v1.3.2#"/></ds:Object>` +
		`</ds:Signature>`))
	if err != nil {
		t.Fatalf("Failed to parse document: %v", err)
	}
	sig, err := doc.Signature("")
	if err != nil {
		t.Fatalf("Failed to locate signature: %v", err)
	}
	usp, err := sig.EnsureUnsignedSignatureProperties()
	if err != nil {
		t.Fatalf("Failed to create properties: %v", err)
	}
	if usp.FullTag() != "xades:UnsignedSignatureProperties" {
		t.Errorf("Expected xades prefix, got %s", usp.FullTag())
	}
	if sig.UnsignedSignatureProperties() != usp {
		t.Error("Expected created element to be found")
	}

	bare, _ := ParseDocument([]byte(`<ds:Signature xmlns:ds="http://www.w3.org/2000/09/xmldsig#"/>`))
	bareSig, _ := bare.Signature("")
	if _, err := bareSig.EnsureUnsignedSignatureProperties(); !errors.Is(err, ErrNoQualifyingElement) {
		t.Errorf("Expected ErrNoQualifyingElement, got %v", err)
	}
}

func TestVerifySignatureRejectsUnsignedDocument(t *testing.T) {
	if _, err := VerifySignature([]byte(`<root/>`), nil); err == nil {
		t.Error("Expected error for document without signature")
	}
	if _, err := VerifySignature([]byte(testSignature), nil); !errors.Is(err, ErrSignatureInvalid) {
		t.Errorf("Expected ErrSignatureInvalid, got %v", err)
	}
}

func TestCanonicalizerMethods(t *testing.T) {
	for _, method := range []string{"", C14N10, C14N10WithComments, C14N11, C14N11WithComments, ExcC14N, ExcC14NWithComments} {
		if _, err := Canonicalizer(method); err != nil {
			t.Errorf("Expected canonicalizer for %q, got %v", method, err)
		}
	}
	if _, err := Canonicalizer("urn:unknown"); !errors.Is(err, ErrUnsupportedCanonicalization) {
		t.Errorf("Expected ErrUnsupportedCanonicalization, got %v", err)
	}
}
