package infra

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Vovarama1992/clipvault/internal/domain"
	"github.com/Vovarama1992/clipvault/internal/models"
	"github.com/Vovarama1992/clipvault/internal/ports"
	"github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS media (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	public_token      TEXT     NOT NULL UNIQUE,
	title             TEXT     NOT NULL,
	location          TEXT,
	start_time        DATETIME NOT NULL,
	original_filename TEXT     NOT NULL,
	storage_path      TEXT,
	status            TEXT     NOT NULL DEFAULT 'pending',
	created_at        DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS media_pending_created_idx ON media (created_at) WHERE storage_path IS NULL;
`

// SQLiteMediaRepo is the single-node metadata store.
type SQLiteMediaRepo struct {
	db *sql.DB
}

func NewSQLiteMediaRepo(path string) (*SQLiteMediaRepo, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &SQLiteMediaRepo{db: db}, nil
}

var _ ports.MediaRepository = (*SQLiteMediaRepo)(nil)

func (r *SQLiteMediaRepo) Insert(ctx context.Context, rec *models.MediaRecord) (int64, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO media (public_token, title, location, start_time, original_filename, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 'pending', ?, ?)`,
		rec.PublicToken, rec.Title, rec.Location, rec.StartTime.UTC(), rec.OriginalFilename, now, now,
	)
	if err != nil {
		var sqErr sqlite3.Error
		if errors.As(err, &sqErr) && sqErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return 0, domain.ErrTokenConflict
		}
		return 0, fmt.Errorf("insert media: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert media: %w", err)
	}
	rec.CreatedAt, rec.UpdatedAt = now, now
	return id, nil
}

func (r *SQLiteMediaRepo) FindByToken(ctx context.Context, token string) (*models.MediaRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+mediaColumns+` FROM media WHERE public_token = ?`, token)

	rec, err := scanSQLMedia(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find media by token: %w", err)
	}
	return rec, nil
}

func (r *SQLiteMediaRepo) SetStoragePath(ctx context.Context, id int64, path string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE media SET storage_path = ?, status = 'ready', updated_at = ?
		WHERE id = ? AND storage_path IS NULL AND status = 'pending'`,
		path, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("set storage path: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("set storage path: record %d is not pending", id)
	}
	return nil
}

func (r *SQLiteMediaRepo) ListOrphans(ctx context.Context, createdBefore time.Time) ([]models.MediaRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+mediaColumns+` FROM media
		WHERE storage_path IS NULL AND status = 'pending' AND created_at < ?
		ORDER BY id`,
		createdBefore.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list orphans: %w", err)
	}
	defer rows.Close()

	var out []models.MediaRecord
	for rows.Next() {
		rec, err := scanSQLMedia(rows)
		if err != nil {
			return nil, fmt.Errorf("scan orphan: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (r *SQLiteMediaRepo) MarkFailed(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE media SET status = 'failed', updated_at = ?
		WHERE id = ? AND storage_path IS NULL`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("mark failed: record %d already placed", id)
	}
	return nil
}

func (r *SQLiteMediaRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteMediaRepo) Close() {
	_, _ = r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE);")
	r.db.Close()
}

type sqlScanner interface {
	Scan(dest ...any) error
}

func scanSQLMedia(row sqlScanner) (*models.MediaRecord, error) {
	var (
		m        models.MediaRecord
		location sql.NullString
		path     sql.NullString
	)
	err := row.Scan(
		&m.ID,
		&m.PublicToken,
		&m.Title,
		&location,
		&m.StartTime,
		&m.OriginalFilename,
		&path,
		&m.Status,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if location.Valid {
		m.Location = &location.String
	}
	if path.Valid {
		m.StoragePath = &path.String
	}
	return &m, nil
}
