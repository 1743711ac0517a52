package evidencerecord

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/text/unicode/norm"

	"github.com/georgepadayatti/goers/digest"
)

// DataObject is an object an evidence record may protect. Digests returns
// every digest under which the object may appear as a hash tree leaf.
type DataObject interface {
	Name() string
	Digests(alg digest.Algorithm) ([]digest.Digest, error)
}

// Document is a detached data object. Its content is streamed every time a
// digest is computed for a new algorithm; computed digests are cached. It is
// safe for concurrent use.
type Document struct {
	name string
	open func() (io.ReadCloser, error)

	mu      sync.Mutex
	digests map[digest.Algorithm]digest.Digest
}

// NewReaderDocument creates a document whose content is read from the
// readers returned by open.
func NewReaderDocument(name string, open func() (io.ReadCloser, error)) *Document {
	return &Document{
		name:    norm.NFC.String(name),
		open:    open,
		digests: map[digest.Algorithm]digest.Digest{},
	}
}

// NewDocument creates an in-memory document.
func NewDocument(name string, data []byte) *Document {
	return NewReaderDocument(name, func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	})
}

// NewFileDocument creates a document backed by a file. The document is
// named after the base name of path.
func NewFileDocument(path string) *Document {
	return NewReaderDocument(filepath.Base(path), func() (io.ReadCloser, error) {
		return os.Open(path)
	})
}

// Name returns the NFC normalized document name.
func (d *Document) Name() string {
	return d.name
}

// Open returns a reader over the document content.
func (d *Document) Open() (io.ReadCloser, error) {
	return d.open()
}

// Bytes reads the whole document.
func (d *Document) Bytes() ([]byte, error) {
	r, err := d.open()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Digest returns the digest of the content under alg, the default algorithm
// when alg is empty.
func (d *Document) Digest(alg digest.Algorithm) (digest.Digest, error) {
	alg = alg.OrDefault()

	d.mu.Lock()
	defer d.mu.Unlock()
	if cached, ok := d.digests[alg]; ok {
		return cached, nil
	}

	r, err := d.open()
	if err != nil {
		return digest.Digest{}, err
	}
	defer r.Close()
	computed, err := digest.ComputeReader(alg, r)
	if err != nil {
		return digest.Digest{}, err
	}
	d.digests[alg] = computed
	return computed, nil
}

// Digests implements DataObject.
func (d *Document) Digests(alg digest.Algorithm) ([]digest.Digest, error) {
	computed, err := d.Digest(alg)
	if err != nil {
		return nil, err
	}
	return []digest.Digest{computed}, nil
}
