package cache_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/levipshemish/jewgo-app-sub003/internal/cache"
)

func newMemory(t *testing.T) cache.Client {
	t.Helper()
	c, err := cache.New(cache.Config{Kind: "memory", Prefix: "test"})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestMemory_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	c := newMemory(t)

	if _, err := c.Get(ctx, "k"); !cache.IsNotFound(err) {
		t.Fatalf("key inexistente debió dar not found, obtuvo %v", err)
	}
	if err := c.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatal(err)
	}
	v, err := c.Get(ctx, "k")
	if err != nil || v != "v" {
		t.Fatalf("Get: %q %v", v, err)
	}
	ok, _ := c.Exists(ctx, "k")
	if !ok {
		t.Fatal("Exists debió dar true")
	}
	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get(ctx, "k"); !cache.IsNotFound(err) {
		t.Fatalf("tras Delete debió dar not found, obtuvo %v", err)
	}
}

func TestMemory_SetNXFirstWins(t *testing.T) {
	ctx := context.Background()
	c := newMemory(t)

	first, err := c.SetNX(ctx, "nonce", "1", time.Minute)
	if err != nil || !first {
		t.Fatalf("primer SetNX debió insertar: %v %v", first, err)
	}
	second, err := c.SetNX(ctx, "nonce", "2", time.Minute)
	if err != nil || second {
		t.Fatalf("segundo SetNX debió perder: %v %v", second, err)
	}
	// el valor del primero queda
	v, _ := c.Get(ctx, "nonce")
	if v != "1" {
		t.Fatalf("el valor del ganador debió quedar: %q", v)
	}
}

func TestMemory_SetNXConcurrentExactlyOneWinner(t *testing.T) {
	ctx := context.Background()
	c := newMemory(t)

	const goroutines = 32
	var wins int64
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			ok, err := c.SetNX(ctx, "carrera", "x", time.Minute)
			if err != nil {
				t.Error(err)
				return
			}
			if ok {
				atomic.AddInt64(&wins, 1)
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("exactamente un ganador esperado, hubo %d", wins)
	}
}
