package verification

import (
	"testing"
	"time"
)

func TestCheckLimiterAllowsBurstThenBlocks(t *testing.T) {
	limiter := newCheckLimiter(3)

	for i := 0; i < 3; i++ {
		ok, _ := limiter.reserve("code-1")
		if !ok {
			t.Fatalf("check %d within burst should be allowed", i+1)
		}
	}

	ok, retryAfter := limiter.reserve("code-1")
	if ok {
		t.Fatalf("check beyond burst should be blocked")
	}
	if retryAfter <= 0 || retryAfter > time.Minute {
		t.Fatalf("unexpected retry-after %s", retryAfter)
	}
}

func TestCheckLimiterIsolatesKeys(t *testing.T) {
	limiter := newCheckLimiter(1)

	if ok, _ := limiter.reserve("code-1"); !ok {
		t.Fatalf("first check for code-1 should be allowed")
	}
	if ok, _ := limiter.reserve("code-2"); !ok {
		t.Fatalf("first check for code-2 should be allowed")
	}
	if ok, _ := limiter.reserve("code-1"); ok {
		t.Fatalf("second immediate check for code-1 should be blocked")
	}
}
