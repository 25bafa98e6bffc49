package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/pressly/goose/v3"

	_ "github.com/lib/pq"
)

// exerciseStore runs the behaviour every backend must share. advance moves
// the backend's notion of time forward.
func exerciseStore(t *testing.T, s Store, advance func(time.Duration)) {
	t.Helper()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := s.Incr(ctx, "counter")
		if err != nil || got != want {
			t.Fatalf("Incr() = %d, %v; want %d", got, err, want)
		}
	}
	if err := s.ResetCounter(ctx, "counter"); err != nil {
		t.Fatalf("ResetCounter() error = %v", err)
	}
	if got, _ := s.Incr(ctx, "counter"); got != 1 {
		t.Errorf("Incr() after reset = %d, want 1", got)
	}

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
	if err := s.Set(ctx, "k", []byte("v1"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got, err := s.Get(ctx, "k"); err != nil || string(got) != "v1" {
		t.Errorf("Get() = %q, %v", got, err)
	}
	if err := s.Set(ctx, "forever", []byte("x"), 0); err != nil {
		t.Fatalf("Set(no ttl) error = %v", err)
	}

	ok, err := s.SetNX(ctx, "lock", []byte("a"), 10*time.Second)
	if err != nil || !ok {
		t.Fatalf("first SetNX() = %v, %v", ok, err)
	}
	if ok, _ := s.SetNX(ctx, "lock", []byte("b"), 10*time.Second); ok {
		t.Errorf("second SetNX() acquired a held lock")
	}

	advance(2 * time.Minute)

	if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after ttl error = %v, want ErrNotFound", err)
	}
	if got, err := s.Get(ctx, "forever"); err != nil || string(got) != "x" {
		t.Errorf("Get(forever) = %q, %v", got, err)
	}
	if ok, _ := s.SetNX(ctx, "lock", []byte("c"), 10*time.Second); !ok {
		t.Errorf("SetNX() did not acquire an expired lock")
	}

	if err := s.Delete(ctx, "forever"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Get(ctx, "forever"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after delete error = %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	m := NewMemory()
	m.SetClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	})
	exerciseStore(t, m, func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	})
}

func TestMemoryStorePurge(t *testing.T) {
	now := time.Now()
	m := NewMemory()
	m.SetClock(func() time.Time { return now })
	ctx := context.Background()
	m.Set(ctx, "a", []byte("1"), time.Second)
	m.Set(ctx, "b", []byte("2"), time.Hour)
	m.Set(ctx, "c", []byte("3"), 0)

	now = now.Add(time.Minute)
	n, err := m.Purge(ctx)
	if err != nil || n != 1 {
		t.Errorf("Purge() = %d, %v; want 1", n, err)
	}
	if len(m.entries) != 2 {
		t.Errorf("entries after purge = %d, want 2", len(m.entries))
	}
}

func TestMemoryIncrConcurrent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	const workers, each = 8, 250

	var wg sync.WaitGroup
	seen := make(chan int64, workers*each)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < each; j++ {
				v, _ := m.Incr(ctx, "seq")
				seen <- v
			}
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[int64]bool)
	for v := range seen {
		if unique[v] {
			t.Fatalf("duplicate value %d", v)
		}
		unique[v] = true
	}
	if len(unique) != workers*each {
		t.Errorf("got %d values, want %d", len(unique), workers*each)
	}
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedis(client)
	defer s.Close()

	exerciseStore(t, s, mr.FastForward)
}

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("ESMELINK_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("ESMELINK_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	db, err := sql.Open("postgres", url)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	goose.SetBaseFS(Migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		t.Fatal(err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		t.Fatalf("goose up: %v", err)
	}
	if _, err := db.ExecContext(ctx, "TRUNCATE smpp_kv, smpp_counters"); err != nil {
		t.Fatal(err)
	}

	s, err := ConnectPostgres(ctx, url)
	if err != nil {
		t.Fatalf("ConnectPostgres() error = %v", err)
	}
	defer s.Close()

	// Expiry is evaluated by the server clock; shift stored expiries instead.
	exerciseStore(t, s, func(d time.Duration) {
		_, err := db.ExecContext(ctx,
			"UPDATE smpp_kv SET expires_at = expires_at - $1::bigint * interval '1 millisecond' WHERE expires_at IS NOT NULL",
			d.Milliseconds())
		if err != nil {
			t.Fatal(err)
		}
	})

	if _, err := s.Purge(ctx); err != nil {
		t.Errorf("Purge() error = %v", err)
	}
}
