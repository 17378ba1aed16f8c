// Package dataloader provides the batching helpers used to resolve include
// edges: a page of parent records is joined to its related records with
// one backend query per batch of keys instead of one query per parent.
//
//	keys := dataloader.Keys(tasks, func(t Record) (string, bool) { ... })
//	byTask, err := dataloader.Load(ctx, keys, fetchComments, commentTaskKey)
//	// byTask[key] holds the comments of every task sharing that key.
package dataloader

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// DefaultMaxBatch bounds the keys passed to one BatchFunc call. It stays
// below the bind parameter limits of the SQL dialects.
const DefaultMaxBatch = 500

// KeyFunc extracts a key from an entity.
type KeyFunc[K comparable, V any] func(V) K

// BatchFunc loads every entity matching one of the given keys.
type BatchFunc[K comparable, V any] func(ctx context.Context, keys []K) ([]V, error)

// Option configures Load.
type Option func(*loader)

type loader struct {
	maxBatch    int
	concurrency int
}

// WithMaxBatch sets the largest key batch. Non-positive values disable
// splitting.
func WithMaxBatch(n int) Option {
	return func(l *loader) { l.maxBatch = n }
}

// WithConcurrency bounds the batches running at once. The default is 1.
func WithConcurrency(n int) Option {
	return func(l *loader) {
		if n > 0 {
			l.concurrency = n
		}
	}
}

// Keys returns the distinct keys of values in first-seen order.
// Values for which keyFn reports false (e.g. a null foreign key) are skipped.
func Keys[K comparable, V any](values []V, keyFn func(V) (K, bool)) []K {
	seen := make(map[K]struct{}, len(values))
	keys := make([]K, 0, len(values))
	for _, v := range values {
		k, ok := keyFn(v)
		if !ok {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}

// Load runs fn for the deduplicated keys, split into batches of at most
// the configured size, and groups the entities by keyFn. Entities sharing
// a key keep the order fn returned them in. No call is made when keys is
// empty and the first failing batch cancels the others.
func Load[K comparable, V any](ctx context.Context, keys []K, fn BatchFunc[K, V], keyFn KeyFunc[K, V], opts ...Option) (map[K][]V, error) {
	l := &loader{maxBatch: DefaultMaxBatch, concurrency: 1}
	for _, opt := range opts {
		opt(l)
	}
	keys = Keys(keys, func(k K) (K, bool) { return k, true })
	batches := chunk(keys, l.maxBatch)
	results := make([][]V, len(batches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)
	for i, batch := range batches {
		g.Go(func() error {
			values, err := fn(gctx, batch)
			results[i] = values
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	grouped := make(map[K][]V)
	for _, values := range results {
		for _, v := range values {
			k := keyFn(v)
			grouped[k] = append(grouped[k], v)
		}
	}
	return grouped, nil
}

func chunk[K any](keys []K, size int) [][]K {
	if len(keys) == 0 {
		return nil
	}
	if size <= 0 || len(keys) <= size {
		return [][]K{keys}
	}
	out := make([][]K, 0, (len(keys)+size-1)/size)
	for len(keys) > size {
		out = append(out, keys[:size:size])
		keys = keys[size:]
	}
	return append(out, keys)
}
