// Package sqlite provides a durable ticket store backed by SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/sso-tools/cascade/pkg/ticketstore"
)

const defaultRecordTTL = 8 * time.Hour

// for tests
var nowFunc = time.Now

// Options configures the SQLite adapter.
type Options struct {
	// Path is the database file path. Required.
	Path string

	// DefaultTTL applies to records without their own expiration. Zero
	// selects 8 hours.
	DefaultTTL time.Duration

	// Logger receives debug logging. Defaults to a discarding logger.
	Logger logr.Logger
}

// Adapter persists session records in a single SQLite table with an
// expires_at column checked on read.
type Adapter struct {
	db         *sql.DB
	defaultTTL time.Duration
	logger     logr.Logger
}

var _ ticketstore.Store = (*Adapter)(nil)

// New opens (creating if needed) the database at opts.Path and runs the
// schema migration.
func New(opts Options) (*Adapter, error) {
	if opts.Path == "" {
		return nil, errors.New("sqlite: database path is required")
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = defaultRecordTTL
	}
	if opts.Logger.GetSink() == nil {
		opts.Logger = logr.Discard()
	}

	db, err := sql.Open("sqlite", opts.Path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	a := &Adapter{db: db, defaultTTL: opts.DefaultTTL, logger: opts.Logger}
	if err := a.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return a, nil
}

func (a *Adapter) migrate() error {
	_, err := a.db.Exec(`CREATE TABLE IF NOT EXISTS cas_sessions (
		key TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		expires_at INTEGER NOT NULL
	)`)
	return err
}

// Close releases the underlying database handle.
func (a *Adapter) Close() error {
	return a.db.Close()
}

func (a *Adapter) Store(ctx context.Context, rec ticketstore.Record) (string, error) {
	key := ticketstore.DeriveKey(rec)
	if err := a.upsert(ctx, key, rec); err != nil {
		return "", err
	}
	return key, nil
}

func (a *Adapter) Retrieve(ctx context.Context, key string) (ticketstore.Record, bool, error) {
	if key == "" {
		return ticketstore.Record{}, false, ticketstore.ErrEmptyKey
	}

	var data string
	var expiresAt int64
	err := a.db.QueryRowContext(ctx,
		`SELECT data, expires_at FROM cas_sessions WHERE key = ?`, key,
	).Scan(&data, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ticketstore.Record{}, false, nil
	}
	if err != nil {
		return ticketstore.Record{}, false, fmt.Errorf("sqlite: retrieve: %w", err)
	}

	if nowFunc().Unix() >= expiresAt {
		// Best effort reap; absence is the answer either way.
		if _, err := a.db.ExecContext(ctx, `DELETE FROM cas_sessions WHERE key = ?`, key); err != nil {
			a.logger.V(1).Info("failed to reap expired session", "key", key, "error", err.Error())
		}
		return ticketstore.Record{}, false, nil
	}

	var rec ticketstore.Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return ticketstore.Record{}, false, fmt.Errorf("sqlite: decode record: %w", err)
	}
	return rec, true, nil
}

func (a *Adapter) Renew(ctx context.Context, key string, rec ticketstore.Record) error {
	if key == "" {
		return ticketstore.ErrEmptyKey
	}
	return a.upsert(ctx, key, rec)
}

func (a *Adapter) Remove(ctx context.Context, key string) error {
	if key == "" {
		return ticketstore.ErrEmptyKey
	}
	if _, err := a.db.ExecContext(ctx, `DELETE FROM cas_sessions WHERE key = ?`, key); err != nil {
		return fmt.Errorf("sqlite: remove: %w", err)
	}
	return nil
}

// upsert writes the record in a single statement so no reader can observe
// a partially updated key.
func (a *Adapter) upsert(ctx context.Context, key string, rec ticketstore.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("sqlite: encode record: %w", err)
	}
	now := nowFunc()
	expires := now.Add(rec.TTL(now, a.defaultTTL)).Unix()

	_, err = a.db.ExecContext(ctx,
		`INSERT INTO cas_sessions (key, data, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET data = excluded.data, expires_at = excluded.expires_at`,
		key, string(data), expires)
	if err != nil {
		return fmt.Errorf("sqlite: upsert: %w", err)
	}
	return nil
}
