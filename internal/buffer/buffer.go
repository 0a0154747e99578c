// Package buffer implements the Persistent Message Buffer façade
// (spec.md §4.2): the single entry point adapters and the dispatcher use
// to move messages through the store, applying validation, soft-capacity
// admission control, and coalescing before anything touches SQLite.
package buffer

import (
	"context"
	"fmt"
	"time"

	"github.com/armorclaw/iobridge/internal/bridgeerr"
	"github.com/armorclaw/iobridge/internal/logging"
	"github.com/armorclaw/iobridge/internal/mapping"
	"github.com/armorclaw/iobridge/internal/model"
	"github.com/armorclaw/iobridge/internal/store"
	"github.com/armorclaw/iobridge/internal/typecoerce"
)

// Config tunes admission control and retry scheduling, sourced from
// buffercfg.BufferConfig.
type Config struct {
	MaxSize          int
	DefaultTTL       time.Duration
	BaseBackoff      time.Duration
	MaxBackoff       time.Duration
	DefaultRetries   int
	CoalesceWindow   time.Duration
}

// Buffer is the façade over the Store: every enqueue and claim in the
// system passes through here.
type Buffer struct {
	store  *store.Store
	mapper *mapping.Table
	cfg    Config
	log    *logging.Logger
}

func New(st *store.Store, mapper *mapping.Table, cfg Config, log *logging.Logger) *Buffer {
	if cfg.DefaultRetries <= 0 {
		cfg.DefaultRetries = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Minute
	}
	return &Buffer{store: st, mapper: mapper, cfg: cfg, log: log.WithComponent("buffer")}
}

// Enqueue validates, coerces, and admits a message, rejecting it with
// BufferFull if the store is at soft capacity (spec.md §4.2, §9 I-CAP). A
// coercion failure (scenario S2, spec.md §8) still persists the message
// and immediately archives it with a last_error naming the coercion
// failure, rather than dropping it silently.
func (b *Buffer) Enqueue(ctx context.Context, msg model.Message) (model.Message, error) {
	if !model.ValidDataType(msg.DataType) {
		return model.Message{}, bridgeerr.Configuration(fmt.Sprintf("unsupported data_type %q", msg.DataType), nil)
	}
	if !model.ValidPriority(msg.Priority) {
		return model.Message{}, bridgeerr.Configuration(fmt.Sprintf("unsupported priority %d", msg.Priority), nil)
	}

	b.applyDefaults(&msg)

	canonical, coerceErr := typecoerce.Coerce(msg.DataType, msg.Value)
	if coerceErr != nil {
		return model.Message{}, b.archiveCoercionFailure(ctx, msg, coerceErr)
	}
	msg.Value = canonical

	if b.cfg.MaxSize > 0 {
		stats, err := b.store.Stats(ctx)
		if err != nil {
			return model.Message{}, err
		}
		if stats.Pending+stats.Processing >= b.cfg.MaxSize {
			return model.Message{}, bridgeerr.BufferFull(fmt.Sprintf("buffer at capacity (%d messages in flight)", b.cfg.MaxSize))
		}
	}

	coalesce := b.mapper != nil && b.mapper.Coalesce(msg.Destination, msg.TopicOrNode)

	out, err := b.store.Insert(ctx, msg, coalesce)
	if err != nil {
		return model.Message{}, err
	}
	b.log.WithFields("message_id", out.ID, "destination", out.Destination, "topic_or_node", out.TopicOrNode).
		Debug("message enqueued")
	return out, nil
}

// applyDefaults fills in the retry budget and expiry deadline for a
// message that didn't specify them, before it is persisted.
func (b *Buffer) applyDefaults(msg *model.Message) {
	if msg.MaxRetries <= 0 {
		msg.MaxRetries = b.cfg.DefaultRetries
	}
	if msg.ExpireAt.IsZero() {
		ttl := b.cfg.DefaultTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		msg.ExpireAt = time.Now().UTC().Add(ttl)
	}
}

// archiveCoercionFailure persists msg (using its raw, uncoerced value) and
// immediately archives it as a permanent failure so a bad payload still
// leaves a message row and a failed_messages record behind instead of
// vanishing at the Enqueue boundary.
func (b *Buffer) archiveCoercionFailure(ctx context.Context, msg model.Message, coerceErr error) error {
	inserted, err := b.store.Insert(ctx, msg, false)
	if err != nil {
		return err
	}
	errMsg := fmt.Sprintf("coerce: %v", coerceErr)
	if err := b.store.MarkPermanentFailure(ctx, inserted.ID, errMsg); err != nil {
		return err
	}
	b.log.WithFields("message_id", inserted.ID, "destination", inserted.Destination, "topic_or_node", inserted.TopicOrNode).
		Error("message failed type coercion", "error", coerceErr)
	return coerceErr
}

// Claim hands up to limit eligible messages to workerID, leasing them for
// leaseDuration.
func (b *Buffer) Claim(ctx context.Context, limit int, workerID string, leaseDuration time.Duration) ([]model.Message, error) {
	return b.store.Claim(ctx, limit, workerID, leaseDuration)
}

// Complete marks msg delivered.
func (b *Buffer) Complete(ctx context.Context, id int64) error {
	return b.store.Complete(ctx, id)
}

// retryJitterFrac is the +/-20% jitter spec.md:111 requires on retry
// backoff, to avoid synchronized retry storms across messages.
const retryJitterFrac = 0.20

// Retry schedules msg for another attempt, or archives it as terminally
// failed once its retry budget is spent. backoffAttempt is the message's
// retry_count prior to this failure, used to compute jittered backoff.
func (b *Buffer) Retry(ctx context.Context, id int64, backoffAttempt int, errMsg string) error {
	backoff := store.NextRetryBackoff(b.cfg.BaseBackoff, b.cfg.MaxBackoff, backoffAttempt, retryJitterFrac)
	return b.store.FailRetry(ctx, id, errMsg, backoff)
}

// Reject archives msg as a permanent failure regardless of remaining
// retry budget, used for Egress.Permanent outcomes (spec.md §4.6).
func (b *Buffer) Reject(ctx context.Context, id int64, errMsg string) error {
	return b.store.MarkPermanentFailure(ctx, id, errMsg)
}

// ExpireDue, ReclaimStuck, and Cleanup delegate to the store for the
// Janitor's maintenance passes (spec.md §4.4).
func (b *Buffer) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	return b.store.ExpireDue(ctx, now)
}

func (b *Buffer) ReclaimStuck(ctx context.Context, now time.Time) (int, error) {
	return b.store.ReclaimStuck(ctx, now)
}

func (b *Buffer) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	return b.store.Cleanup(ctx, olderThan)
}

func (b *Buffer) ResetProcessing(ctx context.Context) (int, error) {
	return b.store.ResetProcessing(ctx)
}

// Stats returns live per-status counts.
func (b *Buffer) Stats(ctx context.Context) (model.Stats, error) {
	return b.store.Stats(ctx)
}

func (b *Buffer) Pending(ctx context.Context, limit int) ([]model.Message, error) {
	return b.store.QueryPending(ctx, limit)
}

func (b *Buffer) Failed(ctx context.Context, limit int) ([]model.FailedMessage, error) {
	return b.store.QueryFailed(ctx, limit)
}

// SnapshotStats persists the full closed metric-name set (spec.md §3.3) as
// statistics rows, called by the Janitor's snapshot_stats pass (spec.md
// §4.4): the two live gauges, the five cumulative lifecycle counters, and
// a derived throughput_per_minute.
func (b *Buffer) SnapshotStats(ctx context.Context) error {
	stats, err := b.store.Stats(ctx)
	if err != nil {
		return err
	}
	enqueued, completed, failed, expired, retried := b.store.Counters()

	now := time.Now().UTC()
	throughput, err := b.throughputPerMinute(ctx, now, completed)
	if err != nil {
		return err
	}

	snapshots := []model.MetricSnapshot{
		{Timestamp: now, Name: model.MetricPendingCurrent, Value: float64(stats.Pending)},
		{Timestamp: now, Name: model.MetricProcessingCurrent, Value: float64(stats.Processing)},
		{Timestamp: now, Name: model.MetricEnqueued, Value: float64(enqueued)},
		{Timestamp: now, Name: model.MetricCompleted, Value: float64(completed)},
		{Timestamp: now, Name: model.MetricFailed, Value: float64(failed)},
		{Timestamp: now, Name: model.MetricExpired, Value: float64(expired)},
		{Timestamp: now, Name: model.MetricRetried, Value: float64(retried)},
		{Timestamp: now, Name: model.MetricThroughputPerMinute, Value: throughput},
	}
	for _, s := range snapshots {
		if err := b.store.RecordMetricSnapshot(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// throughputPerMinute derives a completed-messages-per-minute rate from
// the delta against the most recently recorded MetricCompleted snapshot,
// rather than assuming the Janitor's schedule runs exactly once a minute.
func (b *Buffer) throughputPerMinute(ctx context.Context, now time.Time, completed int64) (float64, error) {
	history, err := b.store.MetricHistory(ctx)
	if err != nil {
		return 0, err
	}
	var prev *model.MetricSnapshot
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Name == model.MetricCompleted {
			snap := history[i]
			prev = &snap
			break
		}
	}
	if prev == nil {
		return 0, nil
	}
	elapsedMinutes := now.Sub(prev.Timestamp).Minutes()
	if elapsedMinutes <= 0 {
		return 0, nil
	}
	delta := completed - int64(prev.Value)
	if delta < 0 {
		delta = 0
	}
	return float64(delta) / elapsedMinutes, nil
}

func (b *Buffer) MetricHistory(ctx context.Context) ([]model.MetricSnapshot, error) {
	return b.store.MetricHistory(ctx)
}

// Mapper exposes the routing table for adapters that need to resolve a
// destination before enqueuing (spec.md §4.5).
func (b *Buffer) Mapper() *mapping.Table { return b.mapper }

func (b *Buffer) CircuitState() string { return b.store.CircuitState() }
