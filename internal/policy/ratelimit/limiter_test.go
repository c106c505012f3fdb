package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/openlegis/lexarc/internal/metrics"
)

func TestLimiter_Wait(t *testing.T) {
	metrics.Init()

	l := New(Config{
		DefaultRPS:   10, // 10 requests per second = 100ms interval
		DefaultBurst: 1,
	})

	ctx := context.Background()

	// First call consumes the initial burst token and returns immediately.
	start := time.Now()
	if err := l.Wait(ctx, "http://ditel.casacivil.ro.gov.br/COTEL"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Since(start) > 10*time.Millisecond {
		t.Logf("warning: first wait took %v", time.Since(start))
	}

	// Next one against the same host should wait ~100ms.
	start = time.Now()
	if err := l.Wait(ctx, "http://ditel.casacivil.ro.gov.br/COTEL/Livros"); err != nil {
		t.Fatal(err)
	}
	dur := time.Since(start)
	if dur < 80*time.Millisecond {
		t.Errorf("expected wait ~100ms, got %v", dur)
	}
}

func TestLimiter_DifferentHosts(t *testing.T) {
	metrics.Init()

	l := New(Config{
		DefaultRPS:   1, // 1 RPS = 1s interval
		DefaultBurst: 1,
	})

	ctx := context.Background()

	if err := l.Wait(ctx, "https://a.gov.br/1"); err != nil {
		t.Fatal(err)
	}

	// A second host must not be blocked by the first one's bucket.
	start := time.Now()
	if err := l.Wait(ctx, "https://b.gov.br/1"); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 10*time.Millisecond {
		t.Errorf("host b blocked unexpectedly")
	}
}

func TestLimiter_ContextCancel(t *testing.T) {
	metrics.Init()

	l := New(Config{DefaultRPS: 0.1, DefaultBurst: 1})
	ctx := context.Background()

	if err := l.Wait(ctx, "https://slow.gov.br/1"); err != nil {
		t.Fatal(err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := l.Wait(cancelled, "https://slow.gov.br/2"); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}
