package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/KingMansaMusaMarketplace/circulate-black-wealth-hub-sub011/internal/model"
	"github.com/KingMansaMusaMarketplace/circulate-black-wealth-hub-sub011/internal/repository"
)

type apiKeyRepository struct {
	pool *pgxpool.Pool
}

func NewAPIKeyRepository(pool *pgxpool.Pool) repository.APIKeyRepository {
	return &apiKeyRepository{pool: pool}
}

var _ repository.APIKeyRepository = (*apiKeyRepository)(nil)

const apiKeyColumns = `
	id,
	key_hash,
	developer_id,
	name,
	scopes,
	status,
	rate_limit_per_minute,
	last_used_at,
	created_at
`

func (r *apiKeyRepository) FindByHash(ctx context.Context, keyHash string) (*model.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE key_hash = $1`
	key, err := scanAPIKey(r.pool.QueryRow(ctx, query, keyHash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return key, nil
}

func (r *apiKeyRepository) Create(ctx context.Context, key *model.APIKey) error {
	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}

	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO api_keys (
			id, key_hash, developer_id, name, scopes,
			status, rate_limit_per_minute, last_used_at, created_at
		)
		VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9
		)`,
		key.ID,
		key.KeyHash,
		key.DeveloperID,
		key.Name,
		key.Scopes,
		key.Status,
		key.RateLimitPerMinute,
		key.LastUsedAt,
		key.CreatedAt,
	)
	return err
}

func (r *apiKeyRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.APIKeyStatus) error {
	tag, err := r.pool.Exec(
		ctx,
		`UPDATE api_keys
		    SET status = $2
		  WHERE id = $1`,
		id,
		status,
	)
	if err != nil {
		return err
	}
	return ensureAffected(tag)
}

func (r *apiKeyRepository) TouchLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(
		ctx,
		`UPDATE api_keys
		    SET last_used_at = $2
		  WHERE id = $1`,
		id,
		at,
	)
	return err
}

func (r *apiKeyRepository) List(ctx context.Context, developerID *uuid.UUID, page repository.Pagination) ([]*model.APIKey, error) {
	limit, offset := normalizePagination(page)

	query := `SELECT ` + apiKeyColumns + ` FROM api_keys`
	args := make([]any, 0, 3)
	if developerID != nil {
		args = append(args, *developerID)
		query += ` WHERE developer_id = $1`
	}
	args = append(args, limit, offset)
	if developerID != nil {
		query += ` ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	} else {
		query += ` ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]*model.APIKey, 0, limit)
	for rows.Next() {
		item, scanErr := scanAPIKey(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// BumpWindow is the single conditional write backing the rate limiter.
// The three CASE arms: a stale window restarts at (now, 1); a window whose
// count already passed the limit is held where it is so rejected calls do
// not inflate the counter; otherwise the count is incremented. The caller
// compares the returned count against the limit.
func (r *apiKeyRepository) BumpWindow(
	ctx context.Context,
	apiKeyID uuid.UUID,
	now time.Time,
	window time.Duration,
	limit int,
) (time.Time, int, error) {
	staleBefore := now.Add(-window)

	var windowStart time.Time
	var count int
	err := r.pool.QueryRow(
		ctx,
		`INSERT INTO rate_windows (api_key_id, window_start, request_count)
		 VALUES ($1, $2, 1)
		 ON CONFLICT (api_key_id) DO UPDATE SET
			request_count = CASE
				WHEN rate_windows.window_start <= $3 THEN 1
				WHEN rate_windows.request_count > $4 THEN rate_windows.request_count
				ELSE rate_windows.request_count + 1
			END,
			window_start = CASE
				WHEN rate_windows.window_start <= $3 THEN $2
				ELSE rate_windows.window_start
			END
		 RETURNING window_start, request_count`,
		apiKeyID,
		now,
		staleBefore,
		limit,
	).Scan(&windowStart, &count)
	if err != nil {
		return time.Time{}, 0, err
	}
	return windowStart, count, nil
}

func (r *apiKeyRepository) PruneWindows(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := r.pool.Exec(
		ctx,
		`DELETE FROM rate_windows
		  WHERE window_start < $1`,
		olderThan,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *apiKeyRepository) CountWindows(ctx context.Context) (int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM rate_windows`).Scan(&total)
	return total, err
}

func scanAPIKey(src scanTarget) (*model.APIKey, error) {
	key := &model.APIKey{}
	err := src.Scan(
		&key.ID,
		&key.KeyHash,
		&key.DeveloperID,
		&key.Name,
		&key.Scopes,
		&key.Status,
		&key.RateLimitPerMinute,
		&key.LastUsedAt,
		&key.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return key, nil
}
