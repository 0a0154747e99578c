// Package store provides the durable, transactional SQLite-backed storage
// for messages, the failed-message archive, and metric snapshots
// (spec.md §4.1). It is grounded on the teacher's internal/queue package:
// same WAL-mode single-file database, same circuit breaker around the
// writer lane, same exponential-backoff retry scheduling, adapted from a
// chat-platform outbox to the bridge's message/priority/TTL model.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	_ "modernc.org/sqlite"

	"github.com/armorclaw/iobridge/internal/bridgeerr"
	"github.com/armorclaw/iobridge/internal/model"
)

// Config configures the Store.
type Config struct {
	DBPath                  string
	ConnectionPool          int
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration
}

// Store is a durable, transactional message queue backed by a single
// SQLite file opened in WAL mode.
type Store struct {
	cfg     Config
	db      *sql.DB
	mu      sync.Mutex // serializes the claim critical section (the writer lane)
	cb      *circuitBreaker
	metrics *Metrics
	lock    *lockfile
}

// Open creates the schema (if absent) and returns a ready Store. It also
// creates a sidecar `<path>.lock` file so a second bridge process cannot
// open the same store concurrently (spec.md §6.4).
func Open(ctx context.Context, cfg Config, reg prometheus.Registerer) (*Store, error) {
	if cfg.ConnectionPool == 0 {
		cfg.ConnectionPool = 8
	}

	lock, err := acquireLockfile(cfg.DBPath + ".lock")
	if err != nil {
		return nil, bridgeerr.Configuration(fmt.Sprintf("store %s is already open by another process", cfg.DBPath), err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", cfg.DBPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		lock.release()
		return nil, bridgeerr.StoreUnavailable("open database", err)
	}
	db.SetMaxOpenConns(cfg.ConnectionPool)
	db.SetMaxIdleConns(cfg.ConnectionPool / 2)

	s := &Store{
		cfg:     cfg,
		db:      db,
		cb:      newCircuitBreaker(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerTimeout),
		metrics: NewMetrics(reg),
		lock:    lock,
	}

	if err := s.init(ctx); err != nil {
		db.Close()
		lock.release()
		return nil, err
	}

	return s, nil
}

// readOnlyCommands is the set of operator-CLI subcommands that only ever
// query the store; OpenReadOnly lets them inspect a store file without
// contending with a live bridge process's exclusive lock.
var readOnlyCommands = map[string]bool{
	"stats": true, "monitor": true, "pending": true, "failed": true, "export": true,
}

// ReadOnlyCommand reports whether name is one of the query-only operator
// subcommands that should use OpenReadOnly instead of Open.
func ReadOnlyCommand(name string) bool { return readOnlyCommands[name] }

// OpenReadOnly opens an existing store file for queries only, skipping the
// sidecar lock entirely so the operator CLI can inspect a store while a
// bridge process has it open for writing (spec.md §6.3).
func OpenReadOnly(ctx context.Context, cfg Config) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(5000)", cfg.DBPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, bridgeerr.StoreUnavailable("open database read-only", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, bridgeerr.StoreUnavailable("open database read-only", err)
	}
	return &Store{
		cfg:     cfg,
		db:      db,
		cb:      newCircuitBreaker(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerTimeout),
		metrics: NewMetrics(nil),
	}, nil
}

func (s *Store) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		return bridgeerr.StoreUnavailable("enable WAL mode", err)
	}
	if _, err := s.db.ExecContext(ctx, schemaDDL); err != nil {
		return bridgeerr.StoreUnavailable("create schema", err)
	}
	if _, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO store_meta (key, value) VALUES ('schema_version', ?)",
		fmt.Sprintf("%d", schemaVersion)); err != nil {
		return bridgeerr.StoreUnavailable("store schema version", err)
	}
	return nil
}

// Close releases the database handle and the sidecar lock file.
func (s *Store) Close() error {
	err := s.db.Close()
	s.lock.release()
	return err
}

func (s *Store) withCircuit(op func() error) error {
	if !s.cb.canProceed() {
		return bridgeerr.StoreUnavailable("circuit breaker open", nil)
	}
	err := op()
	if err != nil {
		s.cb.recordFailure()
		return err
	}
	s.cb.recordSuccess()
	return nil
}

// Insert assigns msg an ID and persists it in pending status. When
// coalesce is true and a pending row already exists for the same
// (destination, topic_or_node, priority), that row's value is replaced in
// place instead of inserting a duplicate (spec.md:100), using the
// idx_messages_coalesce index.
func (s *Store) Insert(ctx context.Context, msg model.Message, coalesce bool) (model.Message, error) {
	var result model.Message
	err := s.withCircuit(func() error {
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = time.Now().UTC()
		}
		if msg.NextAttemptAt.IsZero() {
			msg.NextAttemptAt = msg.CreatedAt
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return bridgeerr.StoreUnavailable("begin insert transaction", err)
		}
		defer tx.Rollback()

		if coalesce {
			replaced, ok, err := coalesceExisting(ctx, tx, msg)
			if err != nil {
				return err
			}
			if ok {
				result = replaced
				return tx.Commit()
			}
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO messages (
				source, destination, topic_or_node, value, data_type, status,
				priority, retry_count, max_retries, created_at, next_attempt_at,
				expire_at
			) VALUES (?, ?, ?, ?, ?, 'pending', ?, 0, ?, ?, ?, ?)`,
			msg.Source, msg.Destination, msg.TopicOrNode, msg.Value, msg.DataType,
			int(msg.Priority), msg.MaxRetries,
			msg.CreatedAt.UnixMilli(), msg.NextAttemptAt.UnixMilli(), msg.ExpireAt.UnixMilli(),
		)
		if err != nil {
			return bridgeerr.StoreUnavailable("insert message", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return bridgeerr.StoreUnavailable("read inserted id", err)
		}
		msg.ID = id
		msg.Status = model.StatusPending
		result = msg
		return tx.Commit()
	})
	if err == nil {
		s.metrics.RecordEnqueued()
	}
	return result, err
}

// coalesceExisting looks for a pending row matching msg's
// (destination, topic_or_node, priority) and, if found, overwrites its
// value/data_type/next_attempt_at/expire_at in place. created_at and
// retry_count are left untouched so the row keeps its place in the claim
// order instead of being pushed to the back of the queue.
func coalesceExisting(ctx context.Context, tx *sql.Tx, msg model.Message) (model.Message, bool, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id FROM messages
		WHERE destination = ? AND topic_or_node = ? AND priority = ? AND status = 'pending'
		LIMIT 1`, msg.Destination, msg.TopicOrNode, int(msg.Priority))

	var existingID int64
	switch err := row.Scan(&existingID); {
	case err == nil:
	case errors.Is(err, sql.ErrNoRows):
		return model.Message{}, false, nil
	default:
		return model.Message{}, false, bridgeerr.StoreUnavailable("query coalesce target", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE messages SET value = ?, data_type = ?, next_attempt_at = ?, expire_at = ?
		WHERE id = ?`, msg.Value, msg.DataType, msg.NextAttemptAt.UnixMilli(), msg.ExpireAt.UnixMilli(), existingID); err != nil {
		return model.Message{}, false, bridgeerr.StoreUnavailable("coalesce message", err)
	}

	msg.ID = existingID
	msg.Status = model.StatusPending
	return msg, true, nil
}

// Claim atomically selects up to limit pending, eligible messages ordered
// by (priority ASC, created_at ASC), marks them processing with a lease,
// and returns them (spec.md §4.1). The in-process mutex plus the
// transaction together stand in for SELECT ... FOR UPDATE, which SQLite
// does not support.
func (s *Store) Claim(ctx context.Context, limit int, workerID string, leaseDuration time.Duration) ([]model.Message, error) {
	if limit <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var claimed []model.Message
	err := s.withCircuit(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return bridgeerr.StoreUnavailable("begin claim transaction", err)
		}
		defer tx.Rollback()

		now := time.Now().UTC()
		rows, err := tx.QueryContext(ctx, `
			SELECT id FROM messages
			WHERE status = 'pending' AND next_attempt_at <= ?
			ORDER BY priority ASC, created_at ASC
			LIMIT ?`, now.UnixMilli(), limit)
		if err != nil {
			return bridgeerr.StoreUnavailable("select claimable ids", err)
		}
		var ids []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return bridgeerr.StoreUnavailable("scan claimable id", err)
			}
			ids = append(ids, id)
		}
		rows.Close()
		if len(ids) == 0 {
			return tx.Commit()
		}

		deadline := now.Add(leaseDuration)
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `
				UPDATE messages SET status = 'processing', lease_owner = ?, lease_deadline = ?
				WHERE id = ?`, workerID, deadline.UnixMilli(), id); err != nil {
				return bridgeerr.StoreUnavailable("mark message processing", err)
			}
		}

		claimed, err = queryByIDs(ctx, tx, ids)
		if err != nil {
			return err
		}

		return tx.Commit()
	})
	return claimed, err
}

func queryByIDs(ctx context.Context, tx *sql.Tx, ids []int64) ([]model.Message, error) {
	placeholders := make([]any, len(ids))
	query := "SELECT " + messageColumns + " FROM messages WHERE id IN ("
	for i, id := range ids {
		if i > 0 {
			query += ","
		}
		query += "?"
		placeholders[i] = id
	}
	query += ") ORDER BY priority ASC, created_at ASC, id ASC"

	rows, err := tx.QueryContext(ctx, query, placeholders...)
	if err != nil {
		return nil, bridgeerr.StoreUnavailable("select claimed rows", err)
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

const messageColumns = `id, source, destination, topic_or_node, value, data_type, status,
	priority, retry_count, max_retries, created_at, next_attempt_at, processed_at,
	expire_at, lease_owner, lease_deadline, last_error`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(rs rowScanner) (model.Message, error) {
	var msg model.Message
	var priority, createdAt, nextAttemptAt, expireAt int64
	var processedAt, leaseDeadline sql.NullInt64
	var leaseOwner, lastError sql.NullString

	err := rs.Scan(
		&msg.ID, &msg.Source, &msg.Destination, &msg.TopicOrNode, &msg.Value, &msg.DataType, &msg.Status,
		&priority, &msg.RetryCount, &msg.MaxRetries, &createdAt, &nextAttemptAt, &processedAt,
		&expireAt, &leaseOwner, &leaseDeadline, &lastError,
	)
	if err != nil {
		return msg, bridgeerr.StoreUnavailable("scan message row", err)
	}

	msg.Priority = model.Priority(priority)
	msg.CreatedAt = time.UnixMilli(createdAt).UTC()
	msg.NextAttemptAt = time.UnixMilli(nextAttemptAt).UTC()
	msg.ExpireAt = time.UnixMilli(expireAt).UTC()
	if processedAt.Valid {
		t := time.UnixMilli(processedAt.Int64).UTC()
		msg.ProcessedAt = &t
	}
	if leaseDeadline.Valid {
		t := time.UnixMilli(leaseDeadline.Int64).UTC()
		msg.LeaseDeadline = &t
	}
	if leaseOwner.Valid {
		msg.LeaseOwner = leaseOwner.String
	}
	if lastError.Valid {
		msg.LastError = lastError.String
	}
	return msg, nil
}

// Complete marks a processing message completed.
func (s *Store) Complete(ctx context.Context, id int64) error {
	err := s.withCircuit(func() error {
		now := time.Now().UTC()
		res, err := s.db.ExecContext(ctx, `
			UPDATE messages SET status = 'completed', processed_at = ?
			WHERE id = ? AND status = 'processing'`, now.UnixMilli(), id)
		if err != nil {
			return bridgeerr.StoreUnavailable("complete message", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return bridgeerr.Integrity(fmt.Sprintf("message %d not found or not processing", id), nil)
		}
		return nil
	})
	if err == nil {
		s.metrics.RecordCompleted()
	}
	return err
}

// FailRetry applies the outcome of a failed egress attempt: if retry budget
// remains, the message returns to pending with a next_attempt_at backoff;
// otherwise it becomes terminally failed and is archived (spec.md §4.1).
func (s *Store) FailRetry(ctx context.Context, id int64, errMsg string, backoff time.Duration) error {
	return s.withCircuit(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return bridgeerr.StoreUnavailable("begin fail_retry transaction", err)
		}
		defer tx.Rollback()

		row := tx.QueryRowContext(ctx, "SELECT "+messageColumns+" FROM messages WHERE id = ?", id)
		msg, err := scanMessage(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return bridgeerr.Integrity(fmt.Sprintf("message %d not found", id), nil)
			}
			return err
		}

		nextRetry := msg.RetryCount + 1
		if nextRetry > msg.MaxRetries {
			if err := archiveFailed(ctx, tx, msg, errMsg, "retries_exhausted"); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE messages SET status = 'failed', retry_count = ?, last_error = ?
				WHERE id = ?`, nextRetry, errMsg, id); err != nil {
				return bridgeerr.StoreUnavailable("mark message failed", err)
			}
			s.metrics.RecordFailed()
			return tx.Commit()
		}

		nextAttempt := time.Now().UTC().Add(backoff)
		if _, err := tx.ExecContext(ctx, `
			UPDATE messages SET status = 'pending', retry_count = ?, next_attempt_at = ?,
				last_error = ?, lease_owner = NULL, lease_deadline = NULL
			WHERE id = ?`, nextRetry, nextAttempt.UnixMilli(), errMsg, id); err != nil {
			return bridgeerr.StoreUnavailable("schedule retry", err)
		}
		s.metrics.RecordRetried()
		return tx.Commit()
	})
}

func archiveFailed(ctx context.Context, tx *sql.Tx, msg model.Message, errMsg, reason string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO failed_messages (
			original_id, source, destination, topic_or_node, value, error_message,
			failed_at, retry_count, archive_reason
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.Source, msg.Destination, msg.TopicOrNode, msg.Value, errMsg,
		time.Now().UTC().UnixMilli(), msg.RetryCount, reason)
	if err != nil {
		return bridgeerr.StoreUnavailable("archive failed message", err)
	}
	return nil
}

// MarkPermanentFailure archives and fails msg regardless of remaining
// retry budget (an egress Permanent outcome, spec.md §4.6).
func (s *Store) MarkPermanentFailure(ctx context.Context, id int64, errMsg string) error {
	err := s.withCircuit(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return bridgeerr.StoreUnavailable("begin permanent-failure transaction", err)
		}
		defer tx.Rollback()

		row := tx.QueryRowContext(ctx, "SELECT "+messageColumns+" FROM messages WHERE id = ?", id)
		msg, err := scanMessage(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return bridgeerr.Integrity(fmt.Sprintf("message %d not found", id), nil)
			}
			return err
		}
		if err := archiveFailed(ctx, tx, msg, errMsg, "permanent"); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE messages SET status = 'failed', last_error = ? WHERE id = ?`, errMsg, id); err != nil {
			return bridgeerr.StoreUnavailable("mark message failed", err)
		}
		return tx.Commit()
	})
	if err == nil {
		s.metrics.RecordFailed()
	}
	return err
}

// ExpireDue sweeps rows past expire_at in a non-terminal status, archives,
// and marks them expired (spec.md §4.1 expire_due).
func (s *Store) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := s.withCircuit(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return bridgeerr.StoreUnavailable("begin expire_due transaction", err)
		}
		defer tx.Rollback()

		rows, err := tx.QueryContext(ctx, `
			SELECT `+messageColumns+` FROM messages
			WHERE expire_at <= ? AND status IN ('pending', 'processing')`, now.UnixMilli())
		if err != nil {
			return bridgeerr.StoreUnavailable("select expired rows", err)
		}
		var due []model.Message
		for rows.Next() {
			msg, err := scanMessage(rows)
			if err != nil {
				rows.Close()
				return err
			}
			due = append(due, msg)
		}
		rows.Close()

		for _, msg := range due {
			if err := archiveFailed(ctx, tx, msg, "message ttl elapsed", "ttl"); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE messages SET status = 'expired' WHERE id = ?`, msg.ID); err != nil {
				return bridgeerr.StoreUnavailable("mark message expired", err)
			}
		}
		n = len(due)
		return tx.Commit()
	})
	for i := 0; i < n; i++ {
		s.metrics.RecordExpired()
	}
	return n, err
}

// ReclaimStuck returns processing rows whose lease has expired to pending,
// incrementing retry_count (spec.md §4.1 reclaim_stuck).
func (s *Store) ReclaimStuck(ctx context.Context, now time.Time) (int, error) {
	var n int64
	err := s.withCircuit(func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE messages
			SET status = 'pending', retry_count = retry_count + 1, lease_owner = NULL, lease_deadline = NULL
			WHERE status = 'processing' AND lease_deadline <= ?`, now.UnixMilli())
		if err != nil {
			return bridgeerr.StoreUnavailable("reclaim stuck leases", err)
		}
		n, err = res.RowsAffected()
		if err != nil {
			return bridgeerr.StoreUnavailable("count reclaimed leases", err)
		}
		return nil
	})
	return int(n), err
}

// Cleanup removes completed rows older than olderThan (spec.md §4.1 cleanup).
func (s *Store) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	var n int64
	err := s.withCircuit(func() error {
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM messages WHERE status = 'completed' AND processed_at < ?`, olderThan.UnixMilli())
		if err != nil {
			return bridgeerr.StoreUnavailable("cleanup completed rows", err)
		}
		n, err = res.RowsAffected()
		if err != nil {
			return bridgeerr.StoreUnavailable("count cleaned rows", err)
		}
		return nil
	})
	return int(n), err
}

// ResetProcessing transitions every processing row back to pending without
// touching retry_count, for manual recovery (spec.md §6.3 `reset`).
func (s *Store) ResetProcessing(ctx context.Context) (int, error) {
	var n int64
	err := s.withCircuit(func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE messages SET status = 'pending', lease_owner = NULL, lease_deadline = NULL
			WHERE status = 'processing'`)
		if err != nil {
			return bridgeerr.StoreUnavailable("reset processing rows", err)
		}
		n, err = res.RowsAffected()
		return err
	})
	return int(n), err
}

// Stats returns live per-status counts.
func (s *Store) Stats(ctx context.Context) (model.Stats, error) {
	var stats model.Stats
	err := s.withCircuit(func() error {
		row := s.db.QueryRowContext(ctx, `
			SELECT
				COUNT(CASE WHEN status = 'pending' THEN 1 END),
				COUNT(CASE WHEN status = 'processing' THEN 1 END),
				COUNT(CASE WHEN status = 'completed' THEN 1 END),
				COUNT(CASE WHEN status = 'failed' THEN 1 END),
				COUNT(CASE WHEN status = 'expired' THEN 1 END)
			FROM messages`)
		if err := row.Scan(&stats.Pending, &stats.Processing, &stats.Completed, &stats.Failed, &stats.Expired); err != nil {
			return bridgeerr.StoreUnavailable("query stats", err)
		}
		return nil
	})
	if err == nil {
		s.metrics.UpdateGauges(stats.Pending, stats.Processing)
	}
	return stats, err
}

// RecordMetricSnapshot writes a single (timestamp, name, value) row.
func (s *Store) RecordMetricSnapshot(ctx context.Context, snap model.MetricSnapshot) error {
	return s.withCircuit(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO statistics (timestamp, metric_name, metric_value) VALUES (?, ?, ?)`,
			snap.Timestamp.UnixMilli(), snap.Name, snap.Value)
		if err != nil {
			return bridgeerr.StoreUnavailable("record metric snapshot", err)
		}
		return nil
	})
}

// MetricHistory returns every recorded metric snapshot, newest last, used
// by `buffer_monitor export`.
func (s *Store) MetricHistory(ctx context.Context) ([]model.MetricSnapshot, error) {
	var out []model.MetricSnapshot
	err := s.withCircuit(func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT timestamp, metric_name, metric_value FROM statistics ORDER BY timestamp ASC`)
		if err != nil {
			return bridgeerr.StoreUnavailable("query metric history", err)
		}
		defer rows.Close()
		for rows.Next() {
			var ts int64
			var snap model.MetricSnapshot
			if err := rows.Scan(&ts, &snap.Name, &snap.Value); err != nil {
				return bridgeerr.StoreUnavailable("scan metric row", err)
			}
			snap.Timestamp = time.UnixMilli(ts).UTC()
			out = append(out, snap)
		}
		return nil
	})
	return out, err
}

// QueryPending returns the oldest limit pending rows, for `buffer_monitor pending`.
func (s *Store) QueryPending(ctx context.Context, limit int) ([]model.Message, error) {
	var out []model.Message
	err := s.withCircuit(func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT `+messageColumns+` FROM messages
			WHERE status = 'pending' ORDER BY created_at ASC, id ASC LIMIT ?`, limit)
		if err != nil {
			return bridgeerr.StoreUnavailable("query pending rows", err)
		}
		defer rows.Close()
		for rows.Next() {
			msg, err := scanMessage(rows)
			if err != nil {
				return err
			}
			out = append(out, msg)
		}
		return nil
	})
	return out, err
}

// QueryFailed returns the newest limit failed-archive rows, for
// `buffer_monitor failed`.
func (s *Store) QueryFailed(ctx context.Context, limit int) ([]model.FailedMessage, error) {
	var out []model.FailedMessage
	err := s.withCircuit(func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, original_id, source, destination, topic_or_node, value,
				error_message, failed_at, retry_count, archive_reason
			FROM failed_messages ORDER BY failed_at DESC LIMIT ?`, limit)
		if err != nil {
			return bridgeerr.StoreUnavailable("query failed archive", err)
		}
		defer rows.Close()
		for rows.Next() {
			var fm model.FailedMessage
			var failedAt int64
			if err := rows.Scan(&fm.ID, &fm.OriginalID, &fm.Source, &fm.Destination, &fm.TopicOrNode,
				&fm.Value, &fm.ErrorMessage, &failedAt, &fm.RetryCount, &fm.ArchiveReason); err != nil {
				return bridgeerr.StoreUnavailable("scan failed archive row", err)
			}
			fm.FailedAt = time.UnixMilli(failedAt).UTC()
			out = append(out, fm)
		}
		return nil
	})
	return out, err
}

// CircuitState exposes the writer-lane circuit breaker's state for health
// checks.
func (s *Store) CircuitState() string { return s.cb.String() }

// Counters returns the store's cumulative lifecycle counters, used by the
// Janitor's snapshot_stats pass to populate the full metric-name set
// (spec.md §3.3).
func (s *Store) Counters() (enqueued, completed, failed, expired, retried int64) {
	return s.metrics.Counters()
}

// lockfile is a simple advisory sidecar preventing two bridge processes
// from opening the same store file (spec.md §6.4).
type lockfile struct {
	path string
	file *os.File
}

func acquireLockfile(path string) (*lockfile, error) {
	f, err := tryAcquireLockfile(path)
	if err == nil {
		return f, nil
	}
	if !os.IsExist(err) {
		return nil, err
	}
	if !staleLockfile(path) {
		return nil, fmt.Errorf("lock file %s exists; another bridge process may be running", path)
	}
	// The PID recorded in the lock file is dead (a crash or SIGKILL left
	// it behind); reclaim it and retry once.
	os.Remove(path)
	f, err = tryAcquireLockfile(path)
	if err != nil {
		return nil, fmt.Errorf("lock file %s exists; another bridge process may be running", path)
	}
	return f, nil
}

func tryAcquireLockfile(path string) (*lockfile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(f, "%d", os.Getpid())
	return &lockfile{path: path, file: f}, nil
}

// staleLockfile reports whether the PID recorded at path belongs to a
// process that is no longer alive, meaning the file survived a crash
// rather than a clean Close.
func staleLockfile(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return false
	}
	return !processAlive(pid)
}

// processAlive reports whether pid identifies a live process, using
// signal 0 to probe for existence without actually signaling it.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func (l *lockfile) release() {
	if l == nil {
		return
	}
	l.file.Close()
	os.Remove(l.path)
}

// NextRetryBackoff computes exponential backoff with +/-jitterFrac jitter
// (spec.md:111 calls for +/-20%), grounded on the teacher's
// calculateNextRetry. Used by Buffer.Retry to schedule a message's next
// attempt.
func NextRetryBackoff(base, max time.Duration, attempt int, jitterFrac float64) time.Duration {
	backoff := float64(base) * math.Pow(2, float64(attempt))
	if backoff > float64(max) {
		backoff = float64(max)
	}
	jitter := backoff * jitterFrac * (rand.Float64()*2 - 1)
	result := time.Duration(backoff + jitter)
	if result < 0 {
		result = 0
	}
	return result
}
