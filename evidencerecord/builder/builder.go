// Package builder creates and renews evidence records.
package builder

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/georgepadayatti/goers/digest"
	"github.com/georgepadayatti/goers/evidencerecord"
	"github.com/georgepadayatti/goers/evidencerecord/archive"
	"github.com/georgepadayatti/goers/sign/timestamps"
	"github.com/georgepadayatti/goers/sign/xades"
)

// Common errors
var (
	ErrNoObjects = errors.New("no data object to protect")
	ErrNoStamper = errors.New("no timestamp source configured")
)

// Builder produces evidence records with timestamps from a Stamper.
type Builder struct {
	stamper  timestamps.Stamper
	alg      digest.Algorithm
	encoding archive.Encoding
	workers  int
	logger   *zap.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithDigestAlgorithm sets the hash tree algorithm of new records.
func WithDigestAlgorithm(alg digest.Algorithm) Option {
	return func(b *Builder) { b.alg = alg.OrDefault() }
}

// WithEncoding selects ASN.1 (RFC 4998) or XML (RFC 6283) for new records.
func WithEncoding(enc archive.Encoding) Option {
	return func(b *Builder) { b.encoding = enc }
}

// WithWorkers bounds the number of objects digested concurrently.
func WithWorkers(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.workers = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// New creates a Builder.
func New(stamper timestamps.Stamper, opts ...Option) *Builder {
	b := &Builder{
		stamper:  stamper,
		alg:      digest.Default,
		encoding: archive.ASN1,
		workers:  4,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Create returns a record with one chain holding one archive timestamp
// over the objects. The hash tree is omitted for a single object.
func (b *Builder) Create(ctx context.Context, objects []evidencerecord.DataObject) (*archive.Record, error) {
	if len(objects) == 0 {
		return nil, ErrNoObjects
	}
	leaves, err := b.leaves(ctx, b.alg, objects)
	if err != nil {
		return nil, err
	}

	var groups [][][]byte
	root := leaves[0]
	if len(leaves) > 1 {
		groups = [][][]byte{leaves}
		root = evidencerecord.HashTreeRoot(b.alg, groups)
	}
	token, err := b.timestamp(ctx, b.alg, root)
	if err != nil {
		return nil, err
	}

	record := &archive.Record{
		Encoding: b.encoding,
		Chains:   []*archive.Chain{b.newChain(b.alg, &archive.Stamp{Groups: groups, Token: token})},
	}
	b.logger.Info("Evidence record created",
		zap.String("encoding", string(b.encoding)),
		zap.Int("objects", len(objects)),
		zap.String("algorithm", string(b.alg)))
	return reparse(record)
}

// RenewTimestamp appends an archive timestamp over the hash of the last
// archive timestamp to the last chain.
func (b *Builder) RenewTimestamp(ctx context.Context, record *archive.Record) (*archive.Record, error) {
	current, err := reparse(record)
	if err != nil {
		return nil, err
	}
	c := len(current.Chains) - 1
	chain := current.Chains[c]
	hash, err := current.TimestampHash(c, len(chain.Stamps)-1)
	if err != nil {
		return nil, err
	}
	token, err := b.timestamp(ctx, chain.Algorithm, hash)
	if err != nil {
		return nil, err
	}
	chain.Stamps = append(chain.Stamps, &archive.Stamp{Token: token})

	b.logger.Info("Archive timestamp renewed",
		zap.Int("chain", c),
		zap.Int("timestamps", len(chain.Stamps)))
	return reparse(current)
}

// RenewHashTree appends a chain whose first archive timestamp covers the
// objects together with the hash of the preceding chains, hashed with alg.
func (b *Builder) RenewHashTree(ctx context.Context, record *archive.Record, alg digest.Algorithm, objects []evidencerecord.DataObject) (*archive.Record, error) {
	if len(objects) == 0 {
		return nil, ErrNoObjects
	}
	alg = alg.OrDefault()
	current, err := reparse(record)
	if err != nil {
		return nil, err
	}
	seq, err := current.SequenceHashWith(len(current.Chains), alg)
	if err != nil {
		return nil, err
	}
	leaves, err := b.leaves(ctx, alg, objects)
	if err != nil {
		return nil, err
	}

	var group [][]byte
	if current.CombinedChainLeaves() {
		for _, leaf := range leaves {
			group = append(group, archive.ChainLeaf(alg, leaf, seq))
		}
	} else {
		group = append(leaves, seq)
	}
	groups := [][][]byte{group}
	token, err := b.timestamp(ctx, alg, evidencerecord.HashTreeRoot(alg, groups))
	if err != nil {
		return nil, err
	}
	current.Chains = append(current.Chains, b.newChain(alg, &archive.Stamp{Groups: groups, Token: token}))
	if !containsAlgorithm(current.DigestAlgorithms, alg) {
		current.DigestAlgorithms = append(current.DigestAlgorithms, alg)
	}

	b.logger.Info("Hash tree renewed",
		zap.Int("chain", len(current.Chains)-1),
		zap.String("algorithm", string(alg)),
		zap.Int("objects", len(objects)))
	return reparse(current)
}

func (b *Builder) newChain(alg digest.Algorithm, stamp *archive.Stamp) *archive.Chain {
	chain := &archive.Chain{Algorithm: alg, Stamps: []*archive.Stamp{stamp}}
	if b.encoding == archive.XML {
		chain.Canonicalization = xades.DefaultCanonicalization
	}
	return chain
}

func (b *Builder) timestamp(ctx context.Context, alg digest.Algorithm, value []byte) ([]byte, error) {
	if b.stamper == nil {
		return nil, ErrNoStamper
	}
	token, err := b.stamper.Timestamp(ctx, digest.Digest{Algorithm: alg, Value: value})
	if err != nil {
		return nil, fmt.Errorf("failed to obtain archive timestamp: %w", err)
	}
	return token, nil
}

// leaves digests the objects concurrently, keeping their order. A
// signature contributes its first candidate digest.
func (b *Builder) leaves(ctx context.Context, alg digest.Algorithm, objects []evidencerecord.DataObject) ([][]byte, error) {
	leaves := make([][]byte, len(objects))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for i, obj := range objects {
		i, obj := i, obj
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			digests, err := obj.Digests(alg)
			if err != nil {
				return fmt.Errorf("failed to digest %s: %w", obj.Name(), err)
			}
			if len(digests) == 0 {
				return fmt.Errorf("failed to digest %s: no digest", obj.Name())
			}
			leaves[i] = digests[0].Value
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return leaves, nil
}

// reparse encodes record and decodes it again, so renewal hashes are taken
// over the exact encoding that is returned.
func reparse(record *archive.Record) (*archive.Record, error) {
	if record == nil {
		return nil, evidencerecord.ErrNoRecord
	}
	encoded, err := evidencerecord.Encode(record)
	if err != nil {
		return nil, err
	}
	return evidencerecord.Parse(encoded)
}

func containsAlgorithm(algs []digest.Algorithm, alg digest.Algorithm) bool {
	for _, a := range algs {
		if a == alg {
			return true
		}
	}
	return false
}
