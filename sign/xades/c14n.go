package xades

import (
	"errors"
	"fmt"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
)

// Canonicalization method URIs.
const (
	C14N10              = "http://www.w3.org/TR/2001/REC-xml-c14n-20010315"
	C14N10WithComments  = "http://www.w3.org/TR/2001/REC-xml-c14n-20010315#WithComments"
	C14N11              = "http://www.w3.org/2006/12/xml-c14n11"
	C14N11WithComments  = "http://www.w3.org/2006/12/xml-c14n11#WithComments"
	ExcC14N             = "http://www.w3.org/2001/10/xml-exc-c14n#"
	ExcC14NWithComments = "http://www.w3.org/2001/10/xml-exc-c14n#WithComments"

	// DefaultCanonicalization applies when no method is declared.
	DefaultCanonicalization = C14N10
)

// ErrUnsupportedCanonicalization is returned for unknown method URIs.
var ErrUnsupportedCanonicalization = errors.New("unsupported canonicalization method")

// Canonicalizer returns the goxmldsig canonicalizer for a method URI.
func Canonicalizer(method string) (dsig.Canonicalizer, error) {
	switch method {
	case C14N10, "":
		return dsig.MakeC14N10RecCanonicalizer(), nil
	case C14N10WithComments:
		return dsig.MakeC14N10WithCommentsCanonicalizer(), nil
	case C14N11:
		return dsig.MakeC14N11Canonicalizer(), nil
	case C14N11WithComments:
		return dsig.MakeC14N11WithCommentsCanonicalizer(), nil
	case ExcC14N:
		return dsig.MakeC14N10ExclusiveCanonicalizerWithPrefixList(""), nil
	case ExcC14NWithComments:
		return dsig.MakeC14N10ExclusiveWithCommentsCanonicalizerWithPrefixList(""), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCanonicalization, method)
	}
}

// Canonicalize returns the canonical form of el as a document subset: the
// namespace declarations in scope from its ancestors are kept.
func Canonicalize(el *etree.Element, method string) ([]byte, error) {
	canon, err := Canonicalizer(method)
	if err != nil {
		return nil, err
	}
	return canon.Canonicalize(Detach(el))
}

// Detach returns a parentless copy of el carrying the namespace
// declarations inherited from its ancestors.
func Detach(el *etree.Element) *etree.Element {
	c := el.Copy()
	declared := map[string]bool{}
	for _, attr := range c.Attr {
		if isNamespaceDecl(attr) {
			declared[attr.FullKey()] = true
		}
	}
	for p := el.Parent(); p != nil; p = p.Parent() {
		for _, attr := range p.Attr {
			if !isNamespaceDecl(attr) || declared[attr.FullKey()] {
				continue
			}
			declared[attr.FullKey()] = true
			c.CreateAttr(attr.FullKey(), attr.Value)
		}
	}
	return c
}

func isNamespaceDecl(attr etree.Attr) bool {
	return attr.Space == "xmlns" || (attr.Space == "" && attr.Key == "xmlns")
}
