package ratelimit

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

const burstBytes = 64 * 1024

// Limiter paces sends to the configured bit rate.
type Limiter struct {
	limiter *rate.Limiter
}

// New creates limiter for the rate given in bits per second. Zero rate disables limiting.
func New(bitsPerSecond uint64) *Limiter {
	if bitsPerSecond == 0 {
		return &Limiter{}
	}

	bytesPerSecond := bitsPerSecond / 8
	if bytesPerSecond == 0 {
		bytesPerSecond = 1
	}

	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), burstBytes),
	}
}

// Pace blocks until n bytes may be sent.
func (l *Limiter) Pace(ctx context.Context, n int) error {
	if l.limiter == nil {
		return nil
	}

	for n > 0 {
		chunk := min(n, burstBytes)
		if err := l.limiter.WaitN(ctx, chunk); err != nil {
			return errors.WithStack(err)
		}
		n -= chunk
	}
	return nil
}
