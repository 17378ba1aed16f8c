package crud

import (
	"bytes"
	"context"
	"log/slog"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/syssam/dynacrud"
)

// cached returns the cached record of (model, id), or nil.
func (s *Service) cached(ctx context.Context, model string, id any) dynacrud.Record {
	key := dynacrud.CacheKey{Model: model, ID: id}.String()
	b, err := s.cache.Get(ctx, key)
	if err != nil {
		s.log.WarnContext(ctx, "cache read failed", slog.String("key", key), slog.Any("error", err))
		return nil
	}
	if b == nil {
		s.metrics.cacheResult(model, false)
		s.log.DebugContext(ctx, "cache miss", slog.String("key", key))
		return nil
	}
	rec, err := decodeRecord(b)
	if err != nil {
		s.log.WarnContext(ctx, "cache entry unreadable", slog.String("key", key), slog.Any("error", err))
		_ = s.cache.Delete(ctx, key)
		s.metrics.cacheResult(model, false)
		return nil
	}
	s.metrics.cacheResult(model, true)
	s.log.DebugContext(ctx, "cache hit", slog.String("key", key))
	return rec
}

// store caches rec as the record of (model, id).
func (s *Service) store(ctx context.Context, model string, id any, rec dynacrud.Record) {
	key := dynacrud.CacheKey{Model: model, ID: id}.String()
	b, err := encodeRecord(rec)
	if err == nil {
		err = s.cache.Set(ctx, key, b, s.ttl)
	}
	if err != nil {
		s.log.WarnContext(ctx, "cache write failed", slog.String("key", key), slog.Any("error", err))
	}
}

func encodeRecord(rec dynacrud.Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(map[string]any(rec)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeRecord decodes a cached record. Integers decode as int64 and
// times as UTC, matching what delegates return.
func decodeRecord(b []byte) (dynacrud.Record, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	dec.UseLooseInterfaceDecoding(true)
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	for k, v := range m {
		if t, ok := v.(time.Time); ok {
			m[k] = t.UTC()
		}
	}
	return dynacrud.Record(m), nil
}
