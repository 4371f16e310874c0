// Package cache implements the lookup cache shared by the planet and weather
// services: JSON payloads keyed by entity kind and natural id, valid for a
// fixed TTL and expired lazily on read.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/l0p7/planetcast/internal/kv"
	"github.com/l0p7/planetcast/internal/metrics"
)

// TTL is how long an entry stays valid after a write.
const TTL = 1800 * time.Second

const (
	attrKey  = "cacheKey"
	attrData = "data"
	attrTTL  = "ttl"
)

// ErrBackend classifies failures of the underlying store. A backend failure
// is never reported as a miss.
var ErrBackend = errors.New("cache: backend failure")

// Entry is the persisted layout of a cache item.
type Entry struct {
	CacheKey string          `json:"cacheKey"`
	Data     json.RawMessage `json:"data"`
	// TTL is the absolute expiry in epoch seconds.
	TTL int64 `json:"ttl"`
}

// Key composes the storage key for kind and id, e.g. planet_1.
func Key(kind, id string) string {
	return kind + "_" + id
}

// Schema describes the cache table for backends that need one.
func Schema(table string) kv.Schema {
	return kv.Schema{Table: table, PartitionKey: attrKey, TTLAttribute: attrTTL}
}

type Options struct {
	Store   kv.Store
	Table   string
	Logger  *slog.Logger
	Metrics *metrics.Recorder
	Now     func() time.Time
}

// Cache reads and writes entries in a single kv table.
type Cache struct {
	store   kv.Store
	table   string
	logger  *slog.Logger
	metrics *metrics.Recorder
	now     func() time.Time
}

func New(opts Options) (*Cache, error) {
	if opts.Store == nil {
		return nil, errors.New("cache: store required")
	}
	if opts.Table == "" {
		return nil, errors.New("cache: table required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Cache{
		store:   opts.Store,
		table:   opts.Table,
		logger:  logger.With(slog.String("agent", "cache")),
		metrics: opts.Metrics,
		now:     now,
	}, nil
}

// Get returns the payload stored for kind and id when the entry exists and
// has not expired.
func (c *Cache) Get(ctx context.Context, kind, id string) (json.RawMessage, bool, error) {
	start := c.now()
	key := Key(kind, id)
	logger := c.logger.With(slog.String("kind", kind), slog.String("cacheKey", key))

	item, ok, err := c.store.Get(ctx, c.table, kv.Key{attrKey: key})
	if err != nil {
		c.metrics.ObserveCacheLookup(kind, metrics.CacheLookupError, c.now().Sub(start))
		logger.Error("cache lookup failed", slog.Any("error", err))
		return nil, false, fmt.Errorf("%w: get %s: %w", ErrBackend, key, err)
	}
	if !ok {
		c.metrics.ObserveCacheLookup(kind, metrics.CacheLookupMiss, c.now().Sub(start))
		logger.Debug("cache miss", slog.String("reason", "absent"))
		return nil, false, nil
	}

	expiry, ok := epochSeconds(item[attrTTL])
	if !ok || expiry <= c.now().Unix() {
		c.metrics.ObserveCacheLookup(kind, metrics.CacheLookupMiss, c.now().Sub(start))
		logger.Debug("cache miss", slog.String("reason", "expired"), slog.Int64("ttl", expiry))
		return nil, false, nil
	}

	payload, err := json.Marshal(item[attrData])
	if err != nil {
		c.metrics.ObserveCacheLookup(kind, metrics.CacheLookupError, c.now().Sub(start))
		logger.Error("cache payload unreadable", slog.Any("error", err))
		return nil, false, fmt.Errorf("%w: decode %s: %w", ErrBackend, key, err)
	}
	c.metrics.ObserveCacheLookup(kind, metrics.CacheLookupHit, c.now().Sub(start))
	logger.Debug("cache hit")
	return payload, true, nil
}

// Set overwrites the entry for kind and id with payload, valid for TTL.
func (c *Cache) Set(ctx context.Context, kind, id string, payload any) error {
	start := c.now()
	key := Key(kind, id)
	logger := c.logger.With(slog.String("kind", kind), slog.String("cacheKey", key))

	data, err := json.Marshal(payload)
	if err != nil {
		c.metrics.ObserveCacheStore(kind, metrics.CacheStoreError, c.now().Sub(start))
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}
	expiry := start.Add(TTL).Unix()
	item, err := kv.ItemFrom(Entry{CacheKey: key, Data: data, TTL: expiry})
	if err != nil {
		c.metrics.ObserveCacheStore(kind, metrics.CacheStoreError, c.now().Sub(start))
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}
	if err := c.store.Put(ctx, c.table, item); err != nil {
		c.metrics.ObserveCacheStore(kind, metrics.CacheStoreError, c.now().Sub(start))
		logger.Error("cache write failed", slog.Any("error", err))
		return fmt.Errorf("%w: put %s: %w", ErrBackend, key, err)
	}
	c.metrics.ObserveCacheStore(kind, metrics.CacheStoreStored, c.now().Sub(start))
	logger.Debug("cache write", slog.Int64("ttl", expiry))
	return nil
}

func epochSeconds(v any) (int64, bool) {
	switch val := v.(type) {
	case float64:
		return int64(val), true
	case int64:
		return val, true
	case int:
		return int64(val), true
	case json.Number:
		n, err := val.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}
