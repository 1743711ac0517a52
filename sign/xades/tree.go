package xades

import (
	"encoding/base64"
	"strings"

	"github.com/beevik/etree"
)

func is(el *etree.Element, ns, tag string) bool {
	return el.Tag == tag && el.NamespaceURI() == ns
}

func child(el *etree.Element, ns, tag string) *etree.Element {
	for _, c := range el.ChildElements() {
		if is(c, ns, tag) {
			return c
		}
	}
	return nil
}

func children(el *etree.Element, ns, tag string) []*etree.Element {
	var out []*etree.Element
	for _, c := range el.ChildElements() {
		if is(c, ns, tag) {
			out = append(out, c)
		}
	}
	return out
}

// walk visits el and its descendants in document order.
func walk(el *etree.Element, fn func(*etree.Element)) {
	if el == nil {
		return
	}
	fn(el)
	for _, c := range el.ChildElements() {
		walk(c, fn)
	}
}

// relativePath returns the child element indexes leading from ancestor to
// el.
func relativePath(ancestor, el *etree.Element) ([]int, bool) {
	var path []int
	for cur := el; cur != ancestor; cur = cur.Parent() {
		parent := cur.Parent()
		if parent == nil {
			return nil, false
		}
		idx := -1
		for i, c := range parent.ChildElements() {
			if c == cur {
				idx = i
				break
			}
		}
		path = append([]int{idx}, path...)
	}
	return path, true
}

// removeAt removes the element reached from root by path. An empty path
// leaves root untouched.
func removeAt(root *etree.Element, path []int) {
	if len(path) == 0 {
		return
	}
	el := root
	for _, idx := range path {
		kids := el.ChildElements()
		if idx < 0 || idx >= len(kids) {
			return
		}
		el = kids[idx]
	}
	el.Parent().RemoveChild(el)
}

func qualified(prefix, tag string) string {
	if prefix == "" {
		return tag
	}
	return prefix + ":" + tag
}

func parseReferences(el *etree.Element) []Reference {
	var refs []Reference
	for _, r := range children(el, NamespaceDSig, "Reference") {
		ref := Reference{
			ID:   r.SelectAttrValue("Id", ""),
			URI:  r.SelectAttrValue("URI", ""),
			Type: r.SelectAttrValue("Type", ""),
			El:   r,
		}
		if transforms := child(r, NamespaceDSig, "Transforms"); transforms != nil {
			for _, t := range children(transforms, NamespaceDSig, "Transform") {
				ref.Transforms = append(ref.Transforms, t.SelectAttrValue("Algorithm", ""))
			}
		}
		if dm := child(r, NamespaceDSig, "DigestMethod"); dm != nil {
			ref.DigestMethod = dm.SelectAttrValue("Algorithm", "")
		}
		if dv := child(r, NamespaceDSig, "DigestValue"); dv != nil {
			ref.DigestValue, _ = decodeBase64(dv.Text())
		}
		refs = append(refs, ref)
	}
	return refs
}

func decodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(strings.Join(strings.Fields(s), ""))
}
