package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/fedgateway/internal/cache"
	"github.com/BaSui01/fedgateway/internal/metrics"
	"github.com/BaSui01/fedgateway/types"
)

// ErrQueryNotFound is returned by a QueryStore miss.
var ErrQueryNotFound = errors.New("persisted query not found")

// QueryStore keeps automatic persisted queries keyed by sha256 hex.
type QueryStore interface {
	Get(ctx context.Context, hash string) (string, error)
	Put(ctx context.Context, hash, query string) error
}

// =============================================================================
// 内存存储
// =============================================================================

type storedQuery struct {
	query   string
	expires time.Time
}

// MemoryQueryStore is a process-local QueryStore with per-entry TTL.
type MemoryQueryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]storedQuery
	now     func() time.Time
}

// NewMemoryQueryStore creates a store; ttl <= 0 keeps entries forever.
func NewMemoryQueryStore(ttl time.Duration) *MemoryQueryStore {
	return &MemoryQueryStore{
		ttl:     ttl,
		entries: make(map[string]storedQuery),
		now:     time.Now,
	}
}

// Get returns the query for hash.
func (s *MemoryQueryStore) Get(_ context.Context, hash string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[hash]
	if !ok {
		return "", ErrQueryNotFound
	}
	if !e.expires.IsZero() && s.now().After(e.expires) {
		delete(s.entries, hash)
		return "", ErrQueryNotFound
	}
	return e.query, nil
}

// Put stores query under hash and drops expired entries.
func (s *MemoryQueryStore) Put(_ context.Context, hash, query string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var expires time.Time
	if s.ttl > 0 {
		expires = now.Add(s.ttl)
		for k, e := range s.entries {
			if now.After(e.expires) {
				delete(s.entries, k)
			}
		}
	}
	s.entries[hash] = storedQuery{query: query, expires: expires}
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (s *MemoryQueryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// =============================================================================
// Redis 存储
// =============================================================================

// RedisQueryStore keeps persisted queries in Redis through cache.Manager.
type RedisQueryStore struct {
	cache *cache.Manager
	ttl   time.Duration
}

// NewRedisQueryStore wraps m; ttl 0 uses the manager default.
func NewRedisQueryStore(m *cache.Manager, ttl time.Duration) *RedisQueryStore {
	return &RedisQueryStore{cache: m, ttl: ttl}
}

// Get returns the query for hash and refreshes its TTL.
func (s *RedisQueryStore) Get(ctx context.Context, hash string) (string, error) {
	q, err := s.cache.Get(ctx, hash)
	if cache.IsCacheMiss(err) {
		return "", ErrQueryNotFound
	}
	if err != nil {
		return "", err
	}
	_ = s.cache.Touch(ctx, hash, s.ttl)
	return q, nil
}

// Put stores query under hash.
func (s *RedisQueryStore) Put(ctx context.Context, hash, query string) error {
	return s.cache.Set(ctx, hash, query, s.ttl)
}

// =============================================================================
// APQ 协议
// =============================================================================

// PersistedQueries implements the Apollo automatic persisted query protocol.
// A nil *PersistedQueries means APQ is disabled.
type PersistedQueries struct {
	store     QueryStore
	collector *metrics.Collector
}

// NewPersistedQueries creates the resolver over store.
func NewPersistedQueries(store QueryStore, collector *metrics.Collector) *PersistedQueries {
	return &PersistedQueries{store: store, collector: collector}
}

// persistedQueryHash extracts extensions.persistedQuery.sha256Hash.
func persistedQueryHash(ext map[string]any) (string, bool) {
	pq, ok := ext["persistedQuery"].(map[string]any)
	if !ok {
		return "", false
	}
	hash, _ := pq["sha256Hash"].(string)
	return strings.ToLower(hash), true
}

// Resolve fills req.Query from the store or registers it. Requests without
// the persistedQuery extension pass through untouched.
func (p *PersistedQueries) Resolve(ctx context.Context, req *types.GraphQLRequest) error {
	hash, ok := persistedQueryHash(req.Extensions)
	if !ok {
		return nil
	}
	if p == nil {
		return types.NewError(types.ErrPersistedQueryDisabled, "PersistedQueryNotSupported")
	}
	if hash == "" {
		return types.NewError(types.ErrInvalidRequest, "persistedQuery extension requires sha256Hash")
	}

	if req.Query == "" {
		q, err := p.store.Get(ctx, hash)
		if errors.Is(err, ErrQueryNotFound) {
			p.collector.RecordCacheMiss("apq")
			return types.NewError(types.ErrPersistedQueryNotFound, "PersistedQueryNotFound")
		}
		if err != nil {
			return types.NewError(types.ErrInternalError, "persisted query store unavailable").WithCause(err)
		}
		p.collector.RecordCacheHit("apq")
		req.Query = q
		return nil
	}

	sum := sha256.Sum256([]byte(req.Query))
	if hex.EncodeToString(sum[:]) != hash {
		return types.NewError(types.ErrPersistedQueryMismatch, "provided sha does not match query")
	}
	if err := p.store.Put(ctx, hash, req.Query); err != nil {
		return types.NewError(types.ErrInternalError, "persisted query store unavailable").WithCause(err)
	}
	return nil
}
