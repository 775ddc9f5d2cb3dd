package retry_test

import (
	"errors"
	"testing"
	"time"

	"github.com/notifyhub/notify-core/internal/retry"
)

func TestClassify(t *testing.T) {
	if got := retry.Classify(nil); got != retry.Success {
		t.Fatalf("expected Success, got %s", got)
	}
	if got := retry.Classify(retry.NewTransient(errors.New("timeout"))); got != retry.Retry {
		t.Fatalf("expected Retry, got %s", got)
	}
	if got := retry.Classify(retry.NewPermanent(errors.New("bad recipient"))); got != retry.Fatal {
		t.Fatalf("expected Fatal, got %s", got)
	}
	if got := retry.Classify(errors.New("unclassified")); got != retry.Retry {
		t.Fatalf("expected unclassified error to default to Retry, got %s", got)
	}
}

func TestPolicy_NextDelay_Grows(t *testing.T) {
	p := retry.Policy{Base: time.Second, Cap: time.Hour, MaxAttempts: 10, Jitter: 0}
	d0 := p.NextDelay(0)
	d1 := p.NextDelay(1)
	d2 := p.NextDelay(2)
	if d0 != time.Second {
		t.Fatalf("expected 1s, got %s", d0)
	}
	if d1 != 2*time.Second {
		t.Fatalf("expected 2s, got %s", d1)
	}
	if d2 != 4*time.Second {
		t.Fatalf("expected 4s, got %s", d2)
	}
}

func TestPolicy_NextDelay_RespectsCap(t *testing.T) {
	p := retry.Policy{Base: time.Second, Cap: 3 * time.Second, MaxAttempts: 10, Jitter: 0}
	if got := p.NextDelay(10); got != 3*time.Second {
		t.Fatalf("expected delay clamped to cap 3s, got %s", got)
	}
}

func TestPolicy_NextDelay_JitterWithinBounds(t *testing.T) {
	p := retry.Policy{Base: 10 * time.Second, Cap: time.Hour, MaxAttempts: 10, Jitter: 0.2}
	for i := 0; i < 50; i++ {
		d := p.NextDelay(0)
		if d < 8*time.Second || d > 12*time.Second {
			t.Fatalf("jittered delay %s out of +/-20%% bounds", d)
		}
	}
}

func TestPolicy_Exhausted(t *testing.T) {
	p := retry.Policy{MaxAttempts: 3}
	if p.Exhausted(0) {
		t.Fatal("attempt 0 should not be exhausted with MaxAttempts=3")
	}
	if p.Exhausted(2) {
		t.Fatal("attempt 2 should not be exhausted with MaxAttempts=3")
	}
	if !p.Exhausted(3) {
		t.Fatal("attempt 3 should be exhausted with MaxAttempts=3")
	}
}
