package clipsink

import (
	"context"

	"golang.org/x/time/rate"
)

// Throttled limits how fast objects reach the wrapped sink.
type Throttled struct {
	next    Sink
	limiter *rate.Limiter
}

// NewThrottled allows perSecond puts per second with the given burst. A
// non-positive rate returns next unchanged.
func NewThrottled(next Sink, perSecond float64, burst int) Sink {
	if perSecond <= 0 {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	return &Throttled{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (t *Throttled) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return t.next.Put(ctx, key, data, contentType)
}
