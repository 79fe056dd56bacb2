package reload

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteAudit is a durable, queryable mirror of every applied/rolled-back
// fix, kept alongside the JSON version-history file the Manager already
// writes atomically. The JSON file remains authoritative for
// backup/rollback; the SQLite copy exists purely so an operator can run
// ad-hoc SQL over heal history instead of parsing JSON. Single-file DB,
// WAL mode, schema auto-created on first use.
type SQLiteAudit struct {
	db *sql.DB
}

// NewSQLiteAudit opens (creating if absent) a SQLite database at path and
// ensures its schema exists.
func NewSQLiteAudit(path string) (*SQLiteAudit, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("reload: open sqlite audit db: %w", err)
	}
	db.SetMaxOpenConns(1) // avoid SQLITE_BUSY from concurrent writers; Manager already serializes per-provider

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("reload: enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("reload: set busy_timeout: %w", err)
	}

	const schema = `
	CREATE TABLE IF NOT EXISTS fix_versions (
		provider    TEXT NOT NULL,
		version     INTEGER NOT NULL,
		fix_type    TEXT NOT NULL,
		confidence  REAL NOT NULL,
		summary     TEXT NOT NULL,
		status      TEXT NOT NULL,
		saved_at    TEXT NOT NULL,
		PRIMARY KEY (provider, version)
	);`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("reload: create fix_versions table: %w", err)
	}

	return &SQLiteAudit{db: db}, nil
}

// Record upserts one version's audit row. Best-effort: callers treat a
// failure here as non-fatal, since the JSON history file is still the
// durable source of truth for rollback.
func (a *SQLiteAudit) Record(ctx context.Context, version Version) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO fix_versions (provider, version, fix_type, confidence, summary, status, saved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider, version) DO UPDATE SET
			fix_type=excluded.fix_type, confidence=excluded.confidence,
			summary=excluded.summary, status=excluded.status, saved_at=excluded.saved_at`,
		version.Fix.Provider, version.N, string(version.Fix.Type), version.Fix.Confidence,
		version.Fix.Summary, string(version.Fix.Status), version.SavedAt.Format(time.RFC3339))
	return err
}

// History returns every audited version for a provider, ascending by
// version number, read straight from SQLite rather than the in-memory
// map — useful for verifying the two stores agree.
func (a *SQLiteAudit) History(ctx context.Context, providerName string) ([]AuditRow, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT version, fix_type, confidence, summary, status, saved_at
		FROM fix_versions WHERE provider = ? ORDER BY version ASC`, providerName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditRow
	for rows.Next() {
		var row AuditRow
		var savedAt string
		if err := rows.Scan(&row.Version, &row.FixType, &row.Confidence, &row.Summary, &row.Status, &savedAt); err != nil {
			return nil, err
		}
		row.Provider = providerName
		row.SavedAt, _ = time.Parse(time.RFC3339, savedAt)
		out = append(out, row)
	}
	return out, rows.Err()
}

// Close releases the underlying database connection.
func (a *SQLiteAudit) Close() error { return a.db.Close() }

// AuditRow is one SQLite-backed fix-history record.
type AuditRow struct {
	Provider   string
	Version    int
	FixType    string
	Confidence float64
	Summary    string
	Status     string
	SavedAt    time.Time
}
