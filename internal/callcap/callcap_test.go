package callcap

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLocalCap(t *testing.T) {
	l := NewLocal(2)
	ctx := context.Background()
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if err := l.Acquire(ctx); !errors.Is(err, ErrAtCapacity) {
		t.Fatalf("expected ErrAtCapacity, got %v", err)
	}
	_ = l.Release(ctx)
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	if l.Active() != 2 {
		t.Fatalf("expected 2 active, got %d", l.Active())
	}
}

func TestLocalZeroIsUnlimited(t *testing.T) {
	l := NewLocal(0)
	for i := 0; i < 100; i++ {
		if err := l.Acquire(context.Background()); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
}

func TestReleaseNeverGoesNegative(t *testing.T) {
	l := NewLocal(1)
	_ = l.Release(context.Background())
	if l.Active() != 0 {
		t.Fatalf("expected 0 active, got %d", l.Active())
	}
}

func TestScriptsInitialized(t *testing.T) {
	if acquireScript == nil || releaseScript == nil {
		t.Fatalf("expected scripts to be initialized")
	}
}

func TestNewRedisValidates(t *testing.T) {
	if _, err := NewRedis(nil, "k", 1, time.Minute); err == nil {
		t.Fatalf("expected error for nil client")
	}
}

func TestOpenRedisRequiresAddr(t *testing.T) {
	if _, err := OpenRedis(context.Background(), RedisConfig{}); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}
