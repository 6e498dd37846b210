// Package history persists the bounded, age-limited conversation record.
//
// The store is a single SQLite file. Two policies govern it: a sliding
// window of at most MaxTurns entries (oldest evicted first), and a full
// clear once the oldest retained entry is older than MaxAge. A store that
// cannot be read is reset and reported, never fatal — losing chat history
// is always preferable to refusing service.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	wardenotel "github.com/homewarden/warden/internal/otel"
	"github.com/homewarden/warden/internal/requestctx"
	"github.com/homewarden/warden/internal/sanitize"
)

var tracer = wardenotel.Tracer("github.com/homewarden/warden/internal/history")

// Turn roles. Only completed user/assistant exchanges are persisted; the
// system instruction is rebuilt per request and never stored.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const schema = `
CREATE TABLE IF NOT EXISTS turns (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL,
    role TEXT NOT NULL,
    text TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS history_meta (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_turns_timestamp ON turns(timestamp);
`

const metaEpochKey = "epoch"

// Turn is a single persisted conversation entry. Immutable once appended.
type Turn struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Recorder is the subset of the audit logger the store reports through.
type Recorder interface {
	Record(ctx context.Context, kind, correlationID, detail string, fields map[string]string)
}

// Store persists conversation turns in SQLite with rotation and expiry.
// All mutating operations are serialized; the length bound holds under
// concurrent appends.
type Store struct {
	mu        sync.Mutex
	db        *sql.DB
	path      string
	maxTurns  int
	maxAge    time.Duration
	sanitizer *sanitize.Sanitizer
	audit     Recorder
	now       func() time.Time
}

// NewStore opens (or creates) the history database. A store that fails to
// initialize is deleted and recreated once — corruption resets the history,
// it does not take the process down.
func NewStore(dbPath string, maxTurns int, maxAge time.Duration, s *sanitize.Sanitizer, audit Recorder) (*Store, error) {
	db, err := openAndInit(dbPath)
	if err != nil {
		log.Warn().Err(err).Str("path", dbPath).Msg("history_store_unreadable")
		if audit != nil {
			audit.Record(context.Background(), "history_reset", "", "store unreadable, recreating", nil)
		}
		_ = os.Remove(dbPath)
		db, err = openAndInit(dbPath)
		if err != nil {
			return nil, fmt.Errorf("recreating history store: %w", err)
		}
	}

	st := &Store{
		db:        db,
		path:      dbPath,
		maxTurns:  maxTurns,
		maxAge:    maxAge,
		sanitizer: s,
		audit:     audit,
		now:       func() time.Time { return time.Now().UTC() },
	}
	if err := st.ensureEpoch(context.Background()); err != nil {
		return nil, err
	}
	return st, nil
}

func openAndInit(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating history schema: %w", err)
	}
	return db, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// AppendExchange appends one completed user/assistant exchange, sanitizing
// both texts before they touch disk, then enforces the length bound.
func (s *Store) AppendExchange(ctx context.Context, userText, assistantText string) error {
	ctx, span := tracer.Start(ctx, "history.append_exchange")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	userText = s.sanitizer.CleanString(ctx, userText)
	assistantText = s.sanitizer.CleanString(ctx, assistantText)
	now := s.now()

	err := s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		insert := `INSERT INTO turns (id, role, text, timestamp) VALUES (?, ?, ?, ?)`
		if _, err := tx.ExecContext(ctx, insert, newTurnID(), RoleUser, userText, now); err != nil {
			return fmt.Errorf("appending user turn: %w", err)
		}
		if _, err := tx.ExecContext(ctx, insert, newTurnID(), RoleAssistant, assistantText, now); err != nil {
			return fmt.Errorf("appending assistant turn: %w", err)
		}
		return tx.Commit()
	})
	if err != nil {
		return err
	}

	evicted, err := s.enforceMaxTurns(ctx)
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.Int64("history.evicted", evicted))
	return nil
}

// enforceMaxTurns deletes the oldest turns when the count exceeds the cap
// (FIFO). Caller holds the mutex.
func (s *Store) enforceMaxTurns(ctx context.Context) (int64, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM turns`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting turns: %w", err)
	}
	if count <= s.maxTurns {
		return 0, nil
	}

	excess := count - s.maxTurns
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM turns WHERE seq IN (
			SELECT seq FROM turns ORDER BY seq ASC LIMIT ?
		)`, excess)
	if err != nil {
		return 0, fmt.Errorf("enforcing max turns: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected > 0 {
		s.record(ctx, "history_rotated", fmt.Sprintf("evicted %d oldest turns, retained %d", affected, s.maxTurns))
	}
	return affected, nil
}

// MaybeRotate clears the entire history when the oldest retained entry (or
// the last-cleared epoch for an empty store) is older than the retention
// window. Calling it on a non-expired store is a no-op, so it is safe on
// every load and on a periodic schedule.
func (s *Store) MaybeRotate(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "history.maybe_rotate")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	oldest, err := s.oldestTimestamp(ctx)
	if err != nil {
		return err
	}
	age := s.now().Sub(oldest)
	span.SetAttributes(attribute.String("history.oldest_age", age.String()))
	if age <= s.maxAge {
		return nil
	}

	if err := s.clearLocked(ctx); err != nil {
		return err
	}
	s.record(ctx, "history_cleared_by_age", fmt.Sprintf("oldest entry age %s exceeded %s", age.Round(time.Minute), s.maxAge))
	return nil
}

// Clear wipes all turns and resets the epoch. Used by the explicit clear
// operations; age-based clearing goes through MaybeRotate.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.clearLocked(ctx); err != nil {
		return err
	}
	s.record(ctx, "history_reset", "history cleared on request")
	return nil
}

func (s *Store) clearLocked(ctx context.Context) error {
	return s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `DELETE FROM turns`); err != nil {
			return fmt.Errorf("clearing turns: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO history_meta (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			metaEpochKey, s.now().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("updating epoch: %w", err)
		}
		return tx.Commit()
	})
}

// Recent returns the last n turns in chronological order. n <= 0 returns
// all retained turns.
func (s *Store) Recent(ctx context.Context, n int) ([]Turn, error) {
	ctx, span := tracer.Start(ctx, "history.recent")
	defer span.End()

	query := `SELECT id, role, text, timestamp FROM turns ORDER BY seq DESC`
	args := []interface{}{}
	if n > 0 {
		query += ` LIMIT ?`
		args = append(args, n)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer rows.Close()

	var reversed []Turn
	for rows.Next() {
		var t Turn
		var ts interface{}
		if err := rows.Scan(&t.ID, &t.Role, &t.Text, &ts); err != nil {
			continue
		}
		if parsed, ok := scanTime(ts); ok {
			t.Timestamp = parsed
		}
		reversed = append(reversed, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading turns: %w", err)
	}

	out := make([]Turn, len(reversed))
	for i, t := range reversed {
		out[len(reversed)-1-i] = t
	}
	span.SetAttributes(attribute.Int("history.turns", len(out)))
	return out, nil
}

// Len returns the number of retained turns.
func (s *Store) Len(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM turns`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting turns: %w", err)
	}
	return count, nil
}

// oldestTimestamp returns the oldest retained turn's timestamp, or the
// stored epoch for an empty history.
func (s *Store) oldestTimestamp(ctx context.Context) (time.Time, error) {
	var ts interface{}
	err := s.db.QueryRowContext(ctx, `SELECT timestamp FROM turns ORDER BY seq ASC LIMIT 1`).Scan(&ts)
	switch {
	case err == nil:
		if parsed, ok := scanTime(ts); ok {
			return parsed, nil
		}
		return s.now(), nil
	case errors.Is(err, sql.ErrNoRows):
		return s.epoch(ctx)
	default:
		return time.Time{}, fmt.Errorf("querying oldest turn: %w", err)
	}
}

func (s *Store) epoch(ctx context.Context) (time.Time, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM history_meta WHERE key = ?`, metaEpochKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return s.now(), nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("querying epoch: %w", err)
	}
	parsed, perr := time.Parse(time.RFC3339Nano, raw)
	if perr != nil {
		return s.now(), nil
	}
	return parsed, nil
}

func (s *Store) ensureEpoch(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO history_meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO NOTHING`,
		metaEpochKey, s.now().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("initializing epoch: %w", err)
	}
	return nil
}

func (s *Store) record(ctx context.Context, kind, detail string) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, kind, requestctx.CorrelationID(ctx), detail, nil)
}

// withRetry runs fn with retries on SQLite busy/locked.
func (s *Store) withRetry(ctx context.Context, fn func() error) error {
	const maxRetries = 10
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt*attempt) * 20 * time.Millisecond
			if backoff > 250*time.Millisecond {
				backoff = 250 * time.Millisecond
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("context cancelled: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteLocked(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// isSQLiteLocked reports whether the error is SQLite busy/locked (retryable).
func isSQLiteLocked(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "locked")
}

// scanTime scans a column that may be time.Time or string (SQLite returns
// datetime as string depending on driver settings).
func scanTime(v interface{}) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		return val, true
	case []byte:
		return parseSQLiteTime(string(val))
	case string:
		return parseSQLiteTime(val)
	}
	return time.Time{}, false
}

func parseSQLiteTime(s string) (time.Time, bool) {
	parsed, err := time.Parse("2006-01-02 15:04:05.999999999-07:00", s)
	if err != nil {
		parsed, err = time.Parse(time.RFC3339, s)
	}
	if err != nil {
		return time.Time{}, false
	}
	return parsed, true
}

func newTurnID() string {
	return "turn_" + uuid.New().String()[:12]
}
