// Package counter implements the durable merchant transaction counter on top
// of Redis. Increments are atomic upsert-increments (INCRBY); reads are point
// lookups defaulting to zero for absent merchants.
//
// Connectivity failures are a documented weak-consistency tradeoff: a failed
// read is reported as zero and a failed increment is dropped, both logged and
// counted, neither fatal to the batch. A circuit breaker keeps a dead store
// from costing one timeout per merchant.
package counter

import (
	"context"
	"log/slog"
	"sync"

	"github.com/VenketeszRR/fraudlens/pkg/metrics"
	"github.com/VenketeszRR/fraudlens/pkg/redis"
	"github.com/VenketeszRR/fraudlens/pkg/resilience"
)

// Store is the merchant counter abstraction the batch processor depends on.
type Store interface {
	// Increment atomically adds delta to the merchant's counter, creating it
	// with value delta if absent.
	Increment(ctx context.Context, merchant string, delta int64) error
	// Get returns the merchant's cumulative count, 0 if absent.
	Get(ctx context.Context, merchant string) (int64, error)
}

// RedisStore is the production Store over a shared Redis keyspace.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	breaker   *resilience.CircuitBreaker
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewRedisStore creates a RedisStore using the given key prefix. metrics may
// be nil (tests).
func NewRedisStore(client *redis.Client, keyPrefix string, m *metrics.Metrics) *RedisStore {
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
		breaker:   resilience.NewCircuitBreaker("counter-store", resilience.CircuitBreakerConfig{}),
		metrics:   m,
		logger:    slog.Default().With("component", "counter-store"),
	}
}

// Increment adds delta to the merchant counter. Failures are logged and the
// increment is dropped; the error is never surfaced to the batch.
func (s *RedisStore) Increment(ctx context.Context, merchant string, delta int64) error {
	err := s.breaker.Execute(func() error {
		_, err := s.client.IncrBy(ctx, s.keyPrefix+merchant, delta)
		return err
	})
	if err != nil {
		s.logger.Error("increment dropped",
			"merchant", merchant,
			"delta", delta,
			"error", err,
		)
		if s.metrics != nil {
			s.metrics.CounterStoreErrorsTotal.WithLabelValues("increment").Inc()
		}
	}
	return nil
}

// Get returns the merchant's cumulative count. Failures are logged and
// reported as zero, which may cause false negatives in the elevated-risk rule
// but never aborts the batch.
func (s *RedisStore) Get(ctx context.Context, merchant string) (int64, error) {
	var value int64
	err := s.breaker.Execute(func() error {
		v, err := s.client.GetInt64(ctx, s.keyPrefix+merchant)
		if err != nil {
			return err
		}
		value = v
		return nil
	})
	if err != nil {
		s.logger.Error("read failed, assuming zero",
			"merchant", merchant,
			"error", err,
		)
		if s.metrics != nil {
			s.metrics.CounterStoreErrorsTotal.WithLabelValues("get").Inc()
		}
		return 0, nil
	}
	return value, nil
}

// MemoryStore is an in-process Store used by tests. Same-key increments
// serialize on a single mutex; values never decrease.
type MemoryStore struct {
	mu     sync.Mutex
	counts map[string]int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counts: make(map[string]int64)}
}

func (s *MemoryStore) Increment(ctx context.Context, merchant string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[merchant] += delta
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, merchant string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[merchant], nil
}
