// Package storage persists entries and profiles in SQLite. It implements
// the ledger ports for the durable backend and the session profile-store
// port, plus the sync bookkeeping the worker relies on.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"papi/internal/core"
	"papi/internal/ledger"
	"papi/internal/session"

	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db *sql.DB
}

// Ensure interface conformance
var (
	_ ledger.EntryWriter   = (*SQLiteRepository)(nil)
	_ ledger.EntryLister   = (*SQLiteRepository)(nil)
	_ ledger.EntryDeleter  = (*SQLiteRepository)(nil)
	_ session.ProfileStore = (*SQLiteRepository)(nil)
)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Append implements ledger.EntryWriter. The returned reference is the
// database ID as a string.
func (r *SQLiteRepository) Append(ctx context.Context, e core.Entry) (string, error) {
	if err := e.Validate(); err != nil {
		return "", err
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO entries (kind, category, amount_cents, description, occurred_on)
		 VALUES (?, ?, ?, ?, ?)`,
		string(e.Kind), e.Category, e.Amount.Cents, e.Description, e.OccurredOn.String())
	if err != nil {
		return "", fmt.Errorf("insert entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return "", fmt.Errorf("last insert id: %w", err)
	}

	slog.InfoContext(ctx, "Entry saved to SQLite",
		"id", id,
		"kind", string(e.Kind),
		"category", e.Category,
		"amount_cents", e.Amount.Cents)

	return strconv.FormatInt(id, 10), nil
}

// ListEntries implements ledger.EntryLister, newest first, skipping
// soft-deleted rows.
func (r *SQLiteRepository) ListEntries(ctx context.Context) ([]core.Entry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, kind, category, amount_cents, description, occurred_on
		 FROM entries WHERE deleted_at IS NULL ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var entries []core.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

// GetEntry returns a single non-deleted entry by ID.
func (r *SQLiteRepository) GetEntry(ctx context.Context, id int64) (core.Entry, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, kind, category, amount_cents, description, occurred_on
		 FROM entries WHERE id = ? AND deleted_at IS NULL`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Entry{}, core.ErrEntryNotFound
	}
	if err != nil {
		return core.Entry{}, err
	}
	return e, nil
}

// UpdateEntry overwrites the mutable fields of an entry, bumps its version
// and re-queues it for sync.
func (r *SQLiteRepository) UpdateEntry(ctx context.Context, e core.Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE entries
		 SET category = ?, amount_cents = ?, description = ?, occurred_on = ?,
		     version = version + 1, synced_at = NULL, sync_error = 0
		 WHERE id = ? AND deleted_at IS NULL`,
		e.Category, e.Amount.Cents, e.Description, e.OccurredOn.String(), e.ID)
	if err != nil {
		return fmt.Errorf("update entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return core.ErrEntryNotFound
	}
	return nil
}

// SoftDeleteEntry marks an entry deleted; the row is retained so the worker
// can still resolve its remote reference.
func (r *SQLiteRepository) SoftDeleteEntry(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE entries SET deleted_at = CURRENT_TIMESTAMP WHERE id = ? AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("soft delete entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return core.ErrEntryNotFound
	}
	return nil
}

// DeleteEntry implements ledger.EntryDeleter over local IDs. The
// reference is the decimal entry ID as returned by Append.
func (r *SQLiteRepository) DeleteEntry(ctx context.Context, ref string) error {
	id, err := strconv.ParseInt(ref, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad entry reference %q", core.ErrEntryNotFound, ref)
	}
	return r.SoftDeleteEntry(ctx, id)
}

// PendingEntry is the minimal data a sync message carries.
type PendingEntry struct {
	ID      int64
	Version int64
}

// GetPendingSyncEntries returns entries not yet pushed to the remote
// ledger, oldest first.
func (r *SQLiteRepository) GetPendingSyncEntries(ctx context.Context, limit int) ([]PendingEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, version FROM entries
		 WHERE synced_at IS NULL AND deleted_at IS NULL
		 ORDER BY id ASC LIMIT ?`, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("query pending entries: %w", err)
	}
	defer rows.Close()

	var pending []PendingEntry
	for rows.Next() {
		var p PendingEntry
		if err := rows.Scan(&p.ID, &p.Version); err != nil {
			return nil, fmt.Errorf("scan pending entry: %w", err)
		}
		pending = append(pending, p)
	}
	return pending, rows.Err()
}

// MarkSynced records a successful push and the remote record reference.
func (r *SQLiteRepository) MarkSynced(ctx context.Context, id int64, remoteRef string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE entries SET synced_at = CURRENT_TIMESTAMP, sync_error = 0, remote_ref = ? WHERE id = ?`,
		remoteRef, id)
	if err != nil {
		return fmt.Errorf("mark entry synced: %w", err)
	}
	slog.InfoContext(ctx, "Entry marked as synced", "id", id, "remote_ref", remoteRef)
	return nil
}

// MarkSyncError flags an entry whose push failed.
func (r *SQLiteRepository) MarkSyncError(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE entries SET sync_error = sync_error + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark sync error: %w", err)
	}
	slog.WarnContext(ctx, "Entry marked with sync error", "id", id)
	return nil
}

// RemoteRef returns the remote record reference for an entry, including
// soft-deleted ones (needed to propagate deletes).
func (r *SQLiteRepository) RemoteRef(ctx context.Context, id int64) (string, error) {
	var ref string
	err := r.db.QueryRowContext(ctx, `SELECT remote_ref FROM entries WHERE id = ?`, id).Scan(&ref)
	if errors.Is(err, sql.ErrNoRows) {
		return "", core.ErrEntryNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query remote ref: %w", err)
	}
	return ref, nil
}

// ReadProfile implements session.ProfileStore.
func (r *SQLiteRepository) ReadProfile(ctx context.Context, uid string) (session.Profile, error) {
	var (
		p   session.Profile
		dob sql.NullString
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT name, place_of_birth, date_of_birth, gender FROM profiles WHERE uid = ?`, uid).
		Scan(&p.Name, &p.PlaceOfBirth, &dob, &p.Gender)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Profile{}, session.ErrProfileNotFound
	}
	if err != nil {
		return session.Profile{}, fmt.Errorf("query profile: %w", err)
	}
	if dob.Valid && dob.String != "" {
		d, err := core.ParseDate(dob.String)
		if err != nil {
			return session.Profile{}, fmt.Errorf("parse stored date of birth %q: %w", dob.String, err)
		}
		p.DateOfBirth = d
	}
	return p, nil
}

// WriteProfile implements session.ProfileStore with merge-on-write
// semantics: unspecified fields are retained.
func (r *SQLiteRepository) WriteProfile(ctx context.Context, uid string, updates session.ProfileUpdate) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin profile write: %w", err)
	}
	defer tx.Rollback()

	var (
		current session.Profile
		dob     sql.NullString
	)
	err = tx.QueryRowContext(ctx,
		`SELECT name, place_of_birth, date_of_birth, gender FROM profiles WHERE uid = ?`, uid).
		Scan(&current.Name, &current.PlaceOfBirth, &dob, &current.Gender)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read current profile: %w", err)
	}
	if dob.Valid && dob.String != "" {
		if d, perr := core.ParseDate(dob.String); perr == nil {
			current.DateOfBirth = d
		}
	}

	merged := current.Merge(updates)
	var mergedDOB any
	if !merged.DateOfBirth.IsZero() {
		mergedDOB = merged.DateOfBirth.String()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO profiles (uid, name, place_of_birth, date_of_birth, gender, updated_at)
		 VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(uid) DO UPDATE SET
		     name = excluded.name,
		     place_of_birth = excluded.place_of_birth,
		     date_of_birth = excluded.date_of_birth,
		     gender = excluded.gender,
		     updated_at = CURRENT_TIMESTAMP`,
		uid, merged.Name, merged.PlaceOfBirth, mergedDOB, merged.Gender)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit profile write: %w", err)
	}

	slog.InfoContext(ctx, "Profile saved to SQLite", "uid", uid, "complete", merged.Complete())
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (core.Entry, error) {
	var (
		e    core.Entry
		kind string
		date string
	)
	if err := row.Scan(&e.ID, &kind, &e.Category, &e.Amount.Cents, &e.Description, &date); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Entry{}, err
		}
		return core.Entry{}, fmt.Errorf("scan entry: %w", err)
	}
	e.Kind = core.EntryKind(kind)
	d, err := core.ParseDate(date)
	if err != nil {
		return core.Entry{}, fmt.Errorf("parse stored date %q: %w", date, err)
	}
	e.OccurredOn = d
	return e, nil
}
