package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"tx/internal/config"
	"tx/internal/logging"
	"tx/internal/pipeline"
)

// schemaVersion is bumped with every change to the schema below.
const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	label TEXT NOT NULL DEFAULT '',
	provider TEXT NOT NULL,
	profile TEXT NOT NULL DEFAULT '',
	recipe TEXT NOT NULL,
	resume_token TEXT NOT NULL DEFAULT '',
	path TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);
CREATE INDEX IF NOT EXISTS idx_sessions_provider ON sessions(provider, updated_at);
`

// Store persists snapshots in SQLite.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	path   string
	driver string
	now    func() time.Time
}

// Open opens the store described by the session_store config section.
func Open(cfg config.StoreConfig) (*Store, error) {
	return OpenPath(cfg.GetDriver(), cfg.GetPath())
}

// OpenPath opens (creating if needed) the database at path with the named
// driver: "sqlite" (pure Go) or "sqlite3" (cgo).
func OpenPath(driver, path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "session store open")
	defer timer.Stop()

	switch driver {
	case "":
		driver = config.DriverModernc
	case config.DriverModernc, config.DriverCgo:
	default:
		return nil, fmt.Errorf("unsupported session store driver %q (want %q or %q)", driver, config.DriverModernc, config.DriverCgo)
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		logging.StoreError("failed to open session store at %s: %v", path, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("failed to set sqlite journal_mode=WAL: %v", err)
	}

	s := &Store{db: db, path: path, driver: driver, now: time.Now}
	if err := s.initialize(); err != nil {
		db.Close()
		logging.StoreError("failed to initialize session schema: %v", err)
		return nil, err
	}
	logging.Store("session store ready at %s (driver=%s)", path, driver)
	return s, nil
}

func (s *Store) initialize() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create session schema: %w", err)
	}
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if version > schemaVersion {
		return fmt.Errorf("session store schema version %d is newer than supported version %d", version, schemaVersion)
	}
	if version < schemaVersion {
		if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
			return fmt.Errorf("failed to set schema version: %w", err)
		}
		logging.StoreDebug("session schema migrated from v%d to v%d", version, schemaVersion)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path is the database location.
func (s *Store) Path() string { return s.path }

// Record creates a snapshot for a freshly compiled plan. sc supplies the id,
// label and path; an empty id gets a new one.
func (s *Store) Record(ctx context.Context, sc pipeline.SessionContext, recipe pipeline.Recipe) (Snapshot, error) {
	snap := Snapshot{
		ID:     sc.ID,
		Label:  sc.Label,
		Recipe: recipe,
		Path:   sc.Path,
	}
	if err := s.Save(ctx, &snap); err != nil {
		return Snapshot{}, err
	}
	logging.Audit(logging.AuditEvent{Type: logging.AuditSessionRecorded, SessionID: snap.ID})
	return snap, nil
}

// Save inserts or updates snap. Timestamps are set by the store. Updating a
// snapshot with a different provider fails with a ProviderConflictError.
func (s *Store) Save(ctx context.Context, snap *Snapshot) error {
	if snap.Recipe.Provider == "" {
		return ErrNoProvider
	}
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	recipe, err := json.Marshal(snap.Recipe)
	if err != nil {
		return fmt.Errorf("failed to encode recipe: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UTC()
	var recorded string
	var created int64
	err = tx.QueryRowContext(ctx, "SELECT provider, created_at FROM sessions WHERE id = ?", snap.ID).Scan(&recorded, &created)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx,
			`INSERT INTO sessions (id, label, provider, profile, recipe, resume_token, path, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			snap.ID, snap.Label, snap.Recipe.Provider, snap.Recipe.Profile, string(recipe),
			snap.ResumeToken, snap.Path, now.UnixMilli(), now.UnixMilli())
		if err != nil {
			return fmt.Errorf("failed to insert session %s: %w", snap.ID, err)
		}
		snap.CreatedAt = time.UnixMilli(now.UnixMilli()).UTC()
	case err != nil:
		return fmt.Errorf("failed to read session %s: %w", snap.ID, err)
	default:
		if recorded != snap.Recipe.Provider {
			return &pipeline.ProviderConflictError{Session: snap.ID, Recorded: recorded, Requested: snap.Recipe.Provider}
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE sessions SET label = ?, profile = ?, recipe = ?, resume_token = ?, path = ?, updated_at = ?
			 WHERE id = ?`,
			snap.Label, snap.Recipe.Profile, string(recipe), snap.ResumeToken, snap.Path, now.UnixMilli(), snap.ID)
		if err != nil {
			return fmt.Errorf("failed to update session %s: %w", snap.ID, err)
		}
		snap.CreatedAt = time.UnixMilli(created).UTC()
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session %s: %w", snap.ID, err)
	}
	snap.UpdatedAt = time.UnixMilli(now.UnixMilli()).UTC()
	logging.StoreDebug("saved session %s (provider=%s)", snap.ID, snap.Recipe.Provider)
	return nil
}

const selectColumns = "id, label, recipe, resume_token, path, created_at, updated_at"

// Get returns the session with the given id, or the only session whose id
// starts with it.
func (s *Store) Get(ctx context.Context, idOrPrefix string) (Snapshot, error) {
	idOrPrefix = strings.TrimSpace(idOrPrefix)
	if idOrPrefix == "" {
		return Snapshot{}, ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+selectColumns+" FROM sessions WHERE id = ?", idOrPrefix)
	snap, err := scanSnapshot(row)
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+selectColumns+" FROM sessions WHERE substr(id, 1, ?) = ? ORDER BY updated_at DESC LIMIT 2",
		len(idOrPrefix), idOrPrefix)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()
	matches, err := scanAll(rows)
	if err != nil {
		return Snapshot{}, err
	}
	switch len(matches) {
	case 0:
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, idOrPrefix)
	case 1:
		return matches[0], nil
	default:
		return Snapshot{}, fmt.Errorf("%w: %s", ErrAmbiguous, idOrPrefix)
	}
}

// ListOptions filters List.
type ListOptions struct {
	Provider string
	Limit    int
}

// List returns sessions, most recently updated first.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]Snapshot, error) {
	timer := logging.StartTimer(logging.CategoryStore, "session list")
	defer timer.Stop()

	query := "SELECT " + selectColumns + " FROM sessions"
	var args []any
	if opts.Provider != "" {
		query += " WHERE provider = ?"
		args = append(args, opts.Provider)
	}
	query += " ORDER BY updated_at DESC, id"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()
	return scanAll(rows)
}

// Delete removes the session with the given id.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	logging.Store("deleted session %s", id)
	return nil
}

// Touch marks a session as used now, and records token as its resume token
// when token is not empty.
func (s *Store) Touch(ctx context.Context, id, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC().UnixMilli()
	var (
		res sql.Result
		err error
	)
	if token != "" {
		res, err = s.db.ExecContext(ctx, "UPDATE sessions SET updated_at = ?, resume_token = ? WHERE id = ?", now, token, id)
	} else {
		res, err = s.db.ExecContext(ctx, "UPDATE sessions SET updated_at = ? WHERE id = ?", now, id)
	}
	if err != nil {
		return fmt.Errorf("failed to touch session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	logging.Audit(logging.AuditEvent{Type: logging.AuditSessionReplayed, SessionID: id})
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row scanner) (Snapshot, error) {
	var (
		snap             Snapshot
		recipe           string
		created, updated int64
	)
	if err := row.Scan(&snap.ID, &snap.Label, &recipe, &snap.ResumeToken, &snap.Path, &created, &updated); err != nil {
		return Snapshot{}, err
	}
	if err := json.Unmarshal([]byte(recipe), &snap.Recipe); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode recipe of session %s: %w", snap.ID, err)
	}
	snap.CreatedAt = time.UnixMilli(created).UTC()
	snap.UpdatedAt = time.UnixMilli(updated).UTC()
	return snap, nil
}

func scanAll(rows *sql.Rows) ([]Snapshot, error) {
	var out []Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sessions: %w", err)
	}
	return out, nil
}
