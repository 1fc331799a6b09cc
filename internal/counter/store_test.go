package counter

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/VenketeszRR/fraudlens/pkg/config"
	"github.com/VenketeszRR/fraudlens/pkg/redis"
)

func TestMemoryStoreConcurrentIncrements(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	// Concurrent +5s on merchant A and +3s on merchant B must produce
	// independent, order-independent sums.
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			store.Increment(ctx, "A", 5)
		}()
		go func() {
			defer wg.Done()
			store.Increment(ctx, "B", 3)
		}()
	}
	wg.Wait()

	a, err := store.Get(ctx, "A")
	if err != nil {
		t.Fatal(err)
	}
	if a != 500 {
		t.Errorf("merchant A = %d, want 500", a)
	}
	b, err := store.Get(ctx, "B")
	if err != nil {
		t.Fatal(err)
	}
	if b != 300 {
		t.Errorf("merchant B = %d, want 300", b)
	}
}

func TestMemoryStoreAbsentMerchantIsZero(t *testing.T) {
	store := NewMemoryStore()
	got, err := store.Get(context.Background(), "never-seen")
	if err != nil {
		t.Fatal(err)
	}
	if got != 0 {
		t.Errorf("absent merchant = %d, want 0", got)
	}
}

// skipIfNoRedis skips the test when Redis is unavailable.
func skipIfNoRedis(t *testing.T) *redis.Client {
	t.Helper()
	client, err := redis.NewClient(config.RedisConfig{
		Addr:     "localhost:6379",
		PoolSize: 2,
	})
	if err != nil {
		t.Skipf("skipping integration test: redis unavailable: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisStoreIncrementAndGet(t *testing.T) {
	client := skipIfNoRedis(t)
	ctx := context.Background()
	prefix := fmt.Sprintf("test:counter:%s:", t.Name())
	store := NewRedisStore(client, prefix, nil)
	t.Cleanup(func() {
		client.Del(ctx, prefix+"M1", prefix+"M2")
	})

	if err := store.Increment(ctx, "M1", 5); err != nil {
		t.Fatal(err)
	}
	if err := store.Increment(ctx, "M1", 7); err != nil {
		t.Fatal(err)
	}
	if err := store.Increment(ctx, "M2", 3); err != nil {
		t.Fatal(err)
	}

	m1, err := store.Get(ctx, "M1")
	if err != nil {
		t.Fatal(err)
	}
	if m1 != 12 {
		t.Errorf("M1 = %d, want 12", m1)
	}
	m2, err := store.Get(ctx, "M2")
	if err != nil {
		t.Fatal(err)
	}
	if m2 != 3 {
		t.Errorf("M2 = %d, want 3", m2)
	}
	absent, err := store.Get(ctx, "M3")
	if err != nil {
		t.Fatal(err)
	}
	if absent != 0 {
		t.Errorf("absent merchant = %d, want 0", absent)
	}
}
