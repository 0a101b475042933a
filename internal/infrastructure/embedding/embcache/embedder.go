package embcache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/kirillkom/agrirag/internal/core/ports"
)

const keyPrefix = "agrirag:emb:"

// redisStore is the slice of go-redis the second tier needs.
type redisStore interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

type Options struct {
	Capacity int
	TTL      time.Duration
	// Namespace separates vectors of different models sharing one Redis.
	Namespace  string
	Redis      redisStore
	CacheTotal *prometheus.CounterVec
}

// CachedEncoder memoizes single-text encodings in a bounded LRU with TTL,
// optionally backed by Redis. Batches pass through untouched.
type CachedEncoder struct {
	inner      ports.Encoder
	local      *expirable.LRU[string, []float32]
	redis      redisStore
	ttl        time.Duration
	namespace  string
	cacheTotal *prometheus.CounterVec
}

func New(inner ports.Encoder, options Options) *CachedEncoder {
	capacity := options.Capacity
	if capacity <= 0 {
		capacity = 1000
	}
	ttl := options.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CachedEncoder{
		inner:      inner,
		local:      expirable.NewLRU[string, []float32](capacity, nil, ttl),
		redis:      options.Redis,
		ttl:        ttl,
		namespace:  options.Namespace,
		cacheTotal: options.CacheTotal,
	}
}

func (c *CachedEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) != 1 {
		return c.inner.Encode(ctx, texts)
	}

	key := c.cacheKey(texts[0])
	if vec, ok := c.local.Get(key); ok {
		c.inc("hit")
		return [][]float32{slices.Clone(vec)}, nil
	}
	if vec, ok := c.getRemote(ctx, key); ok {
		c.inc("hit")
		c.local.Add(key, vec)
		return [][]float32{slices.Clone(vec)}, nil
	}
	c.inc("miss")

	vectors, err := c.inner.Encode(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) == 1 && len(vectors[0]) > 0 {
		vec := slices.Clone(vectors[0])
		c.local.Add(key, vec)
		c.putRemote(ctx, key, vec)
	}
	return vectors, nil
}

func (c *CachedEncoder) Len() int {
	return c.local.Len()
}

func (c *CachedEncoder) inc(result string) {
	if c.cacheTotal != nil {
		c.cacheTotal.WithLabelValues(result).Inc()
	}
}

func (c *CachedEncoder) cacheKey(text string) string {
	h := sha256.Sum256([]byte(c.namespace + "\x00" + text))
	return keyPrefix + hex.EncodeToString(h[:])
}

func (c *CachedEncoder) getRemote(ctx context.Context, key string) ([]float32, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("embedding_cache_get_failed", "error", err)
		}
		return nil, false
	}
	vec, err := decodeVector(data)
	if err != nil {
		slog.Warn("embedding_cache_decode_failed", "error", err)
		return nil, false
	}
	return vec, true
}

func (c *CachedEncoder) putRemote(ctx context.Context, key string, vec []float32) {
	if c.redis == nil {
		return
	}
	if err := c.redis.Set(ctx, key, encodeVector(vec), c.ttl).Err(); err != nil {
		slog.Warn("embedding_cache_set_failed", "error", err)
	}
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(data []byte) ([]float32, error) {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid cached vector length %d", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}
