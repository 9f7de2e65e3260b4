// Package worker runs pipeline units with bounded concurrency, per-unit
// timeouts and retries for transient failures.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/judacas/AutoDJ/pkg/models"
	"golang.org/x/sync/errgroup"
)

// Unit is one independently retryable piece of work.
type Unit interface {
	Key() string
	Run(ctx context.Context) error
}

// Outcome is the final result of a unit after all attempts.
type Outcome struct {
	Key      string
	Attempts int
	Duration time.Duration
	Err      error
	Kind     models.ErrorKind
}

func (o Outcome) OK() bool { return o.Err == nil }

// Queue accepts units and reports their outcomes. Wait blocks until every
// submitted unit has finished and returns the outcomes in submission order.
type Queue interface {
	Submit(u Unit) error
	Wait() []Outcome
}

type Config struct {
	Workers     int
	UnitTimeout time.Duration
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Workers:     4,
		UnitTimeout: 10 * time.Minute,
		MaxAttempts: 3,
		BaseBackoff: 500 * time.Millisecond,
		MaxBackoff:  30 * time.Second,
	}
}

func (c Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("%w: workers must be at least 1", models.ErrInvalidInput)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts must be at least 1", models.ErrInvalidInput)
	}
	if c.UnitTimeout < 0 || c.BaseBackoff < 0 || c.MaxBackoff < 0 {
		return fmt.Errorf("%w: durations must not be negative", models.ErrInvalidInput)
	}
	return nil
}

var ErrQueueClosed = errors.New("queue closed")

// LocalPool is an in-process Queue.
type LocalPool struct {
	cfg Config
	ctx context.Context
	g   *errgroup.Group

	mu       sync.Mutex
	outcomes []Outcome
	closed   bool

	// OnOutcome, when set, is called from the worker goroutine as each unit
	// finishes.
	OnOutcome func(Outcome)

	sleep func(ctx context.Context, d time.Duration) error
}

func NewLocalPool(ctx context.Context, cfg Config) (*LocalPool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	g := &errgroup.Group{}
	g.SetLimit(cfg.Workers)
	return &LocalPool{cfg: cfg, ctx: ctx, g: g, sleep: sleepCtx}, nil
}

// Submit schedules u. It blocks while all workers are busy.
func (p *LocalPool) Submit(u Unit) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrQueueClosed
	}
	idx := len(p.outcomes)
	p.outcomes = append(p.outcomes, Outcome{Key: u.Key()})
	p.mu.Unlock()

	p.g.Go(func() error {
		out := p.run(u)
		p.mu.Lock()
		p.outcomes[idx] = out
		p.mu.Unlock()
		if p.OnOutcome != nil {
			p.OnOutcome(out)
		}
		// failures are reported through outcomes, never through the group
		return nil
	})
	return nil
}

func (p *LocalPool) Wait() []Outcome {
	p.g.Wait()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return append([]Outcome(nil), p.outcomes...)
}

func (p *LocalPool) run(u Unit) Outcome {
	start := time.Now()
	out := Outcome{Key: u.Key()}
	for attempt := 1; ; attempt++ {
		out.Attempts = attempt
		out.Err = p.attempt(u)
		if out.Err == nil || attempt >= p.cfg.MaxAttempts || !models.Retryable(out.Err) || p.ctx.Err() != nil {
			break
		}
		if err := p.sleep(p.ctx, p.backoff(attempt)); err != nil {
			break
		}
	}
	out.Duration = time.Since(start)
	out.Kind = models.KindOf(out.Err)
	return out
}

func (p *LocalPool) attempt(u Unit) error {
	if err := p.ctx.Err(); err != nil {
		return err
	}
	ctx := p.ctx
	if p.cfg.UnitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(p.ctx, p.cfg.UnitTimeout)
		defer cancel()
	}
	err := u.Run(ctx)
	// a unit that swallowed its deadline still counts as timed out
	if err != nil && ctx.Err() == context.DeadlineExceeded && p.ctx.Err() == nil && !errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	}
	return err
}

// backoff doubles from BaseBackoff and caps at MaxBackoff.
func (p *LocalPool) backoff(attempt int) time.Duration {
	d := p.cfg.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.cfg.MaxBackoff > 0 && d >= p.cfg.MaxBackoff {
			return p.cfg.MaxBackoff
		}
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Func adapts a function to Unit.
type Func struct {
	Name string
	Fn   func(ctx context.Context) error
}

func (f Func) Key() string                   { return f.Name }
func (f Func) Run(ctx context.Context) error { return f.Fn(ctx) }
