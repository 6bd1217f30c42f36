package venue

import (
	"context"
	"testing"
	"time"
)

func TestTokenBucketAllowsBurstUpToCapacity(t *testing.T) {
	t.Parallel()

	tb := NewTokenBucket(3, 1)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for i := 0; i < 3; i++ {
		if err := tb.Wait(ctx); err != nil {
			t.Fatalf("Wait() call %d: %v", i, err)
		}
	}
}

func TestTokenBucketBlocksUntilRefill(t *testing.T) {
	t.Parallel()

	tb := NewTokenBucket(1, 100)
	ctx := context.Background()
	if err := tb.Wait(ctx); err != nil {
		t.Fatalf("first Wait: %v", err)
	}

	start := time.Now()
	if err := tb.Wait(ctx); err != nil {
		t.Fatalf("second Wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 5*time.Millisecond {
		t.Errorf("expected second Wait to block for refill, took %v", elapsed)
	}
}

func TestTokenBucketRespectsContextCancellation(t *testing.T) {
	t.Parallel()

	tb := NewTokenBucket(1, 0.001)
	ctx := context.Background()
	if err := tb.Wait(ctx); err != nil {
		t.Fatalf("first Wait: %v", err)
	}

	cctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := tb.Wait(cctx); err == nil {
		t.Error("expected context deadline error")
	}
}
