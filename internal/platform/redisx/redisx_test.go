package redisx

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/logger"
)

func testAddr(t *testing.T) string {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	return addr
}

func TestLockerExcludesSecondHolder(t *testing.T) {
	rdb, err := Connect(context.Background(), testAddr(t))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer rdb.Close()

	l := NewLocker(rdb, "test:lock:")
	key := uuid.NewString()
	release, ok, err := l.TryLock(context.Background(), key, 5*time.Second)
	if err != nil || !ok {
		t.Fatalf("first TryLock: ok=%v err=%v", ok, err)
	}
	if _, ok2, err := l.TryLock(context.Background(), key, 5*time.Second); err != nil || ok2 {
		t.Fatalf("second TryLock should fail: ok=%v err=%v", ok2, err)
	}
	release()
	release2, ok3, err := l.TryLock(context.Background(), key, 5*time.Second)
	if err != nil || !ok3 {
		t.Fatalf("TryLock after release: ok=%v err=%v", ok3, err)
	}
	release2()
}

func TestCacheMissAndHit(t *testing.T) {
	rdb, err := Connect(context.Background(), testAddr(t))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer rdb.Close()

	c := NewCache(rdb, "test:cache:", time.Minute)
	key := uuid.NewString()
	if _, ok, err := c.Get(context.Background(), key); err != nil || ok {
		t.Fatalf("expected miss, ok=%v err=%v", ok, err)
	}
	if err := c.Set(context.Background(), key, []byte("v")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := c.Get(context.Background(), key)
	if err != nil || !ok || string(got) != "v" {
		t.Fatalf("expected hit, got %q ok=%v err=%v", got, ok, err)
	}
	_ = c.Delete(context.Background(), key)
}

func TestBusDeliversKeys(t *testing.T) {
	rdb, err := Connect(context.Background(), testAddr(t))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer rdb.Close()

	bus, err := NewBus(logger.Nop(), rdb, "test-invalidate-"+uuid.NewString())
	if err != nil {
		t.Fatalf("NewBus: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got := make(chan string, 1)
	if err := bus.Subscribe(ctx, func(k string) { got <- k }); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := bus.Publish(ctx, "t1|crm|account"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	select {
	case k := <-got:
		if k != "t1|crm|account" {
			t.Fatalf("unexpected key %q", k)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for invalidation")
	}
}

func TestConnectRequiresAddr(t *testing.T) {
	if _, err := Connect(context.Background(), " "); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}
