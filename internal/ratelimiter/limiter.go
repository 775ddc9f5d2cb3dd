package ratelimiter

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/notifyhub/notify-core/internal/domain"
)

// ProviderLimiters holds one token bucket limiter per provider, since each
// downstream provider (GC Notify, an SMTP relay, HOUSING) enforces its own
// independent rate budget. Limiters are created lazily so a newly
// registered provider code never requires a code change here.
type ProviderLimiters struct {
	mu         sync.Mutex
	ratePerSec int
	limiters   map[domain.ProviderCode]*rate.Limiter
}

// New creates a ProviderLimiters with ratePerSec tokens per second per
// provider. Burst is set equal to the rate so no extra burst capacity is
// allowed beyond the configured per-second maximum.
func New(ratePerSec int) *ProviderLimiters {
	return &ProviderLimiters{
		ratePerSec: ratePerSec,
		limiters:   make(map[domain.ProviderCode]*rate.Limiter),
	}
}

// Wait blocks until the given provider's limiter grants a token. Called by
// each worker immediately before sending to the provider. Returns a
// non-nil error only if ctx is cancelled while waiting.
func (pl *ProviderLimiters) Wait(ctx context.Context, code domain.ProviderCode) error {
	return pl.limiterFor(code).Wait(ctx)
}

func (pl *ProviderLimiters) limiterFor(code domain.ProviderCode) *rate.Limiter {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	l, ok := pl.limiters[code]
	if !ok {
		l = rate.NewLimiter(rate.Limit(pl.ratePerSec), pl.ratePerSec)
		pl.limiters[code] = l
	}
	return l
}
