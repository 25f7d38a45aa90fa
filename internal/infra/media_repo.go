package infra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Vovarama1992/clipvault/internal/domain"
	"github.com/Vovarama1992/clipvault/internal/models"
	"github.com/Vovarama1992/clipvault/internal/ports"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

const mediaColumns = `id, public_token, title, location, start_time, original_filename,
	storage_path, status, created_at, updated_at`

type PostgresMediaRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresMediaRepo(pool *pgxpool.Pool) *PostgresMediaRepo {
	return &PostgresMediaRepo{pool: pool}
}

var _ ports.MediaRepository = (*PostgresMediaRepo)(nil)

func (r *PostgresMediaRepo) Insert(ctx context.Context, rec *models.MediaRecord) (int64, error) {
	query := `
		INSERT INTO media (public_token, title, location, start_time, original_filename, status)
		VALUES ($1, $2, $3, $4, $5, 'pending')
		RETURNING id, created_at, updated_at
	`
	row := r.pool.QueryRow(ctx, query,
		rec.PublicToken, rec.Title, rec.Location, rec.StartTime, rec.OriginalFilename,
	)

	var id int64
	if err := row.Scan(&id, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return 0, domain.ErrTokenConflict
		}
		return 0, fmt.Errorf("insert media: %w", err)
	}
	return id, nil
}

func (r *PostgresMediaRepo) FindByToken(ctx context.Context, token string) (*models.MediaRecord, error) {
	query := `SELECT ` + mediaColumns + ` FROM media WHERE public_token = $1`

	rec, err := scanMedia(r.pool.QueryRow(ctx, query, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find media by token: %w", err)
	}
	return rec, nil
}

func (r *PostgresMediaRepo) SetStoragePath(ctx context.Context, id int64, path string) error {
	query := `
		UPDATE media
		SET storage_path = $1, status = 'ready', updated_at = now()
		WHERE id = $2 AND storage_path IS NULL AND status = 'pending'
	`
	tag, err := r.pool.Exec(ctx, query, path, id)
	if err != nil {
		return fmt.Errorf("set storage path: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("set storage path: record %d is not pending", id)
	}
	return nil
}

func (r *PostgresMediaRepo) ListOrphans(ctx context.Context, createdBefore time.Time) ([]models.MediaRecord, error) {
	query := `
		SELECT ` + mediaColumns + `
		FROM media
		WHERE storage_path IS NULL AND status = 'pending' AND created_at < $1
		ORDER BY id
	`
	rows, err := r.pool.Query(ctx, query, createdBefore)
	if err != nil {
		return nil, fmt.Errorf("list orphans: %w", err)
	}
	defer rows.Close()

	var out []models.MediaRecord
	for rows.Next() {
		rec, err := scanMedia(rows)
		if err != nil {
			return nil, fmt.Errorf("scan orphan: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (r *PostgresMediaRepo) MarkFailed(ctx context.Context, id int64) error {
	query := `
		UPDATE media
		SET status = 'failed', updated_at = now()
		WHERE id = $1 AND storage_path IS NULL
	`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("mark failed: record %d already placed", id)
	}
	return nil
}

func (r *PostgresMediaRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *PostgresMediaRepo) Close() {
	r.pool.Close()
}

func scanMedia(row pgx.Row) (*models.MediaRecord, error) {
	var m models.MediaRecord
	err := row.Scan(
		&m.ID,
		&m.PublicToken,
		&m.Title,
		&m.Location,
		&m.StartTime,
		&m.OriginalFilename,
		&m.StoragePath,
		&m.Status,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}
