package api

import (
	"testing"
	"time"
)

func TestRateLimiterSlidingWindow(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(2, time.Minute)
	defer rl.Stop()
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return clock }

	if !rl.Allow("u") || !rl.Allow("u") {
		t.Fatal("first two requests should pass")
	}
	if rl.Allow("u") {
		t.Fatal("third request inside the window should be rejected")
	}
	if !rl.Allow("v") {
		t.Fatal("other keys are independent")
	}

	clock = clock.Add(61 * time.Second)
	if !rl.Allow("u") {
		t.Fatal("request after the window should pass")
	}
}

func TestRateLimiterEvictsIdleKeys(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(1, time.Hour)
	defer rl.Stop()
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return clock }

	rl.Allow("u")
	clock = clock.Add(2 * time.Hour)
	rl.evict()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.requests["u"]; ok {
		t.Fatal("idle key was not evicted")
	}
}
