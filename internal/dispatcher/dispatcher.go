// Package dispatcher implements the worker pool that drains the Buffer
// and delivers claimed messages through the configured Egress adapter
// for their destination (spec.md §4.3). It is grounded on the teacher's
// ProcessRetryQueue/worker-loop pattern, restructured around
// golang.org/x/sync/errgroup for supervised worker lifetimes and
// golang.org/x/time/rate to cap the claim rate independent of
// per-message backoff.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/armorclaw/iobridge/internal/adapter"
	"github.com/armorclaw/iobridge/internal/bridgeerr"
	"github.com/armorclaw/iobridge/internal/logging"
	"github.com/armorclaw/iobridge/internal/model"
)

// Buffer is the narrow subset of *buffer.Buffer the dispatcher depends
// on, so it can be unit-tested against a fake.
type Buffer interface {
	Claim(ctx context.Context, limit int, workerID string, leaseDuration time.Duration) ([]model.Message, error)
	Complete(ctx context.Context, id int64) error
	Retry(ctx context.Context, id int64, backoffAttempt int, errMsg string) error
	Reject(ctx context.Context, id int64, errMsg string) error
}

// Config tunes pool size, claim batching, and lease/timeout windows.
type Config struct {
	WorkerCount        int
	BatchSize          int
	ClaimRatePerSecond float64
	LeaseDuration      time.Duration
	PerMessageTimeout  time.Duration

	// IdleBackoff is the starting sleep on an empty or failed claim; it
	// doubles on each consecutive miss up to MaxIdleBackoff and resets
	// the moment a claim returns messages (spec.md §4.3: "exponentially
	// 50ms -> 2s, reset on non-empty claim").
	IdleBackoff    time.Duration
	MaxIdleBackoff time.Duration
}

// storeUnavailableEscalation is how long a worker tolerates consecutive
// StoreUnavailable claim failures before treating the condition as
// exhausted and aborting the dispatcher (spec.md §7).
const storeUnavailableEscalation = 30 * time.Second

// Dispatcher pulls claimed messages from the Buffer and routes each to the
// Egress registered for its destination.
type Dispatcher struct {
	buf     Buffer
	egress  map[model.Endpoint]adapter.Egress
	cfg     Config
	limiter *rate.Limiter
	log     *logging.Logger
}

func New(buf Buffer, egress map[model.Endpoint]adapter.Egress, cfg Config, log *logging.Logger) *Dispatcher {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 2
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = 60 * time.Second
	}
	if cfg.PerMessageTimeout <= 0 {
		cfg.PerMessageTimeout = 10 * time.Second
	}
	if cfg.IdleBackoff <= 0 {
		cfg.IdleBackoff = 50 * time.Millisecond
	}
	if cfg.MaxIdleBackoff <= 0 {
		cfg.MaxIdleBackoff = 2 * time.Second
	}
	var limit rate.Limit
	if cfg.ClaimRatePerSecond > 0 {
		limit = rate.Limit(cfg.ClaimRatePerSecond)
	} else {
		limit = rate.Inf
	}
	return &Dispatcher{
		buf:     buf,
		egress:  egress,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, cfg.BatchSize),
		log:     log.WithComponent("dispatcher"),
	}
}

// Run starts cfg.WorkerCount worker goroutines and blocks until ctx is
// cancelled or a worker returns a fatal error.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < d.cfg.WorkerCount; i++ {
		workerID := uuid.NewString()
		g.Go(func() error {
			return d.workerLoop(gctx, workerID)
		})
	}
	return g.Wait()
}

func (d *Dispatcher) workerLoop(ctx context.Context, workerID string) error {
	idleBackoff := d.cfg.IdleBackoff
	var storeUnavailSince time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := d.limiter.WaitN(ctx, d.cfg.BatchSize); err != nil {
			return nil // context cancelled
		}

		msgs, err := d.buf.Claim(ctx, d.cfg.BatchSize, workerID, d.cfg.LeaseDuration)
		if err != nil {
			d.log.Error("claim failed", "error", err, "worker_id", workerID)

			be, _ := bridgeerr.As(err)
			if be != nil && be.Kind == bridgeerr.KindStoreUnavail {
				if storeUnavailSince.IsZero() {
					storeUnavailSince = time.Now()
				} else if time.Since(storeUnavailSince) >= storeUnavailableEscalation {
					return bridgeerr.StoreUnavailableExhausted(
						fmt.Sprintf("store unavailable for over %s", storeUnavailableEscalation), err)
				}
			} else {
				storeUnavailSince = time.Time{}
			}

			if be != nil && be.Fatal() {
				return err
			}
			idleBackoff = d.sleepAndGrow(ctx, idleBackoff)
			continue
		}
		storeUnavailSince = time.Time{}

		if len(msgs) == 0 {
			idleBackoff = d.sleepAndGrow(ctx, idleBackoff)
			continue
		}
		idleBackoff = d.cfg.IdleBackoff

		for _, msg := range msgs {
			d.deliver(ctx, msg)
		}
	}
}

// sleepAndGrow sleeps for the current backoff and doubles it, capped at
// MaxIdleBackoff.
func (d *Dispatcher) sleepAndGrow(ctx context.Context, current time.Duration) time.Duration {
	sleep(ctx, current)
	next := current * 2
	if next > d.cfg.MaxIdleBackoff {
		next = d.cfg.MaxIdleBackoff
	}
	return next
}

func (d *Dispatcher) deliver(ctx context.Context, msg model.Message) {
	egress, ok := d.egress[msg.Destination]
	if !ok {
		d.log.Error("no egress registered for destination", "destination", msg.Destination, "message_id", msg.ID)
		if err := d.buf.Reject(ctx, msg.ID, "no egress adapter registered for destination "+string(msg.Destination)); err != nil {
			d.log.Error("reject failed", "error", err, "message_id", msg.ID)
		}
		return
	}

	dctx, cancel := context.WithTimeout(ctx, d.cfg.PerMessageTimeout)
	defer cancel()

	outcome, err := egress.Deliver(dctx, msg)
	if err != nil && outcome == adapter.Ok {
		outcome = adapter.Retryable
	}

	switch outcome {
	case adapter.Ok:
		if cerr := d.buf.Complete(ctx, msg.ID); cerr != nil {
			d.log.Error("complete failed", "error", cerr, "message_id", msg.ID)
		}
	case adapter.Permanent:
		errMsg := errString(err)
		if rerr := d.buf.Reject(ctx, msg.ID, errMsg); rerr != nil {
			d.log.Error("reject failed", "error", rerr, "message_id", msg.ID)
		}
	default: // Retryable
		errMsg := errString(err)
		if rerr := d.buf.Retry(ctx, msg.ID, msg.RetryCount, errMsg); rerr != nil {
			d.log.Error("retry scheduling failed", "error", rerr, "message_id", msg.ID)
		}
	}
}

func errString(err error) string {
	if err == nil {
		return "egress reported non-ok outcome without error detail"
	}
	return err.Error()
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
