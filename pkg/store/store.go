package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/corpsec/device-trust/pkg/errors"
)

// ErrNoRows is returned by Get when the statement matched no rows.
var ErrNoRows = sql.ErrNoRows

// Options configures the SQLite store
type Options struct {
	Path           string
	MaxInFlight    int   // cap on concurrently executing statements
	BusyTimeoutMs  int   // PRAGMA busy_timeout
	CacheSizePages int   // PRAGMA cache_size
	MmapSizeBytes  int64 // PRAGMA mmap_size
}

// DefaultOptions returns the options tuned for ~2000 concurrent employees
// against a single-writer embedded store.
func DefaultOptions(path string) Options {
	return Options{
		Path:           path,
		MaxInFlight:    10,
		BusyTimeoutMs:  30000,
		CacheSizePages: 10000,
		MmapSizeBytes:  268435456,
	}
}

// Store owns the SQLite connection. It is the sole writer of all
// device-trust tables; every statement goes through Run/Get/All, each
// bounded by a fixed pool of in-flight slots.
type Store struct {
	opts Options

	mu        sync.Mutex
	db        *sql.DB
	connected bool

	slots chan struct{}
}

// RunResult reports the outcome of a write statement
type RunResult struct {
	LastInsertID int64
	RowsAffected int64
}

// New creates a Store with the given options. Connect must be called
// before any statement is executed.
func New(opts Options) *Store {
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 10
	}
	return &Store{
		opts:  opts,
		slots: make(chan struct{}, opts.MaxInFlight),
	}
}

// Connect opens the database and applies the performance pragmas.
// It is idempotent: a second call on a connected store is a no-op.
func (s *Store) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return nil
	}

	db, err := sql.Open("sqlite", s.opts.Path)
	if err != nil {
		return errors.StoreFailure(err, "failed to open sqlite database")
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA cache_size = %d", s.opts.CacheSizePages),
		"PRAGMA temp_store = MEMORY",
		fmt.Sprintf("PRAGMA mmap_size = %d", s.opts.MmapSizeBytes),
		fmt.Sprintf("PRAGMA busy_timeout = %d", s.opts.BusyTimeoutMs),
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return errors.StoreFailure(err, fmt.Sprintf("failed to apply %q", pragma))
		}
	}

	s.db = db
	s.connected = true
	slog.Info("Connected to sqlite store", "path", s.opts.Path, "maxInFlight", s.opts.MaxInFlight)
	return nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil
	}
	s.connected = false
	return s.db.Close()
}

// acquire blocks until an in-flight slot frees or the caller's context
// is cancelled. The store does not impose its own request timeout; only
// the sqlite busy_timeout applies below this point.
func (s *Store) acquire(ctx context.Context) error {
	select {
	case s.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), errors.ErrCodeTimeout, "cancelled while waiting for a statement slot")
	}
}

func (s *Store) release() {
	<-s.slots
}

func (s *Store) handle() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil, errors.New(errors.ErrCodeNotConnected, "store is not connected")
	}
	return s.db, nil
}

// Run executes a write statement
func (s *Store) Run(ctx context.Context, query string, args ...interface{}) (RunResult, error) {
	db, err := s.handle()
	if err != nil {
		return RunResult{}, err
	}
	if err := s.acquire(ctx); err != nil {
		return RunResult{}, err
	}
	defer s.release()

	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		slog.Error("Statement failed", "err", err, "query", query)
		return RunResult{}, errors.StoreFailure(err, "statement failed")
	}

	lastID, err := res.LastInsertId()
	if err != nil {
		return RunResult{}, errors.StoreFailure(err, "failed to read last insert id")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return RunResult{}, errors.StoreFailure(err, "failed to read affected rows")
	}
	return RunResult{LastInsertID: lastID, RowsAffected: affected}, nil
}

// Get executes a single-row query and passes the row to scan.
// Returns ErrNoRows (unwrapped) when nothing matched so callers can
// distinguish absence from driver failure.
func (s *Store) Get(ctx context.Context, query string, args []interface{}, scan func(row *sql.Row) error) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	row := db.QueryRowContext(ctx, query, args...)
	if err := scan(row); err != nil {
		if err == sql.ErrNoRows {
			return ErrNoRows
		}
		slog.Error("Query failed", "err", err, "query", query)
		return errors.StoreFailure(err, "query failed")
	}
	return nil
}

// All executes a multi-row query and passes the rows to scan. The
// in-flight slot is held for the whole iteration.
func (s *Store) All(ctx context.Context, query string, args []interface{}, scan func(rows *sql.Rows) error) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("Query failed", "err", err, "query", query)
		return errors.StoreFailure(err, "query failed")
	}
	defer rows.Close()

	if err := scan(rows); err != nil {
		return errors.StoreFailure(err, "failed to scan rows")
	}
	if err := rows.Err(); err != nil {
		return errors.StoreFailure(err, "error iterating over rows")
	}
	return nil
}

// PurgeResult reports how many audit rows a retention purge removed
type PurgeResult struct {
	AccessLogsDeleted     int64
	SecurityEventsDeleted int64
}

// PurgeOldLogs removes access logs older than the horizon and LOW/MEDIUM
// security events older than the horizon. HIGH and CRITICAL events are
// retained indefinitely.
func (s *Store) PurgeOldLogs(ctx context.Context, horizon time.Duration) (PurgeResult, error) {
	cutoff := time.Now().UTC().Add(-horizon)

	accessRes, err := s.Run(ctx, `DELETE FROM device_access_logs WHERE access_time < ?`, cutoff)
	if err != nil {
		return PurgeResult{}, err
	}
	eventRes, err := s.Run(ctx,
		`DELETE FROM security_events WHERE created_at < ? AND severity IN ('LOW', 'MEDIUM')`, cutoff)
	if err != nil {
		return PurgeResult{}, err
	}

	result := PurgeResult{
		AccessLogsDeleted:     accessRes.RowsAffected,
		SecurityEventsDeleted: eventRes.RowsAffected,
	}
	slog.Info("Purged old audit rows",
		"accessLogs", result.AccessLogsDeleted,
		"securityEvents", result.SecurityEventsDeleted,
		"cutoff", cutoff.Format(time.RFC3339))
	return result, nil
}
