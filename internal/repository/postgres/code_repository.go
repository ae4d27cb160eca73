package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/KingMansaMusaMarketplace/circulate-black-wealth-hub-sub011/internal/model"
	"github.com/KingMansaMusaMarketplace/circulate-black-wealth-hub-sub011/internal/repository"
)

type codeRepository struct {
	pool *pgxpool.Pool
}

func NewCodeRepository(pool *pgxpool.Pool) repository.CodeRepository {
	return &codeRepository{pool: pool}
}

var _ repository.CodeRepository = (*codeRepository)(nil)

const codeColumns = `
	id,
	issuer_id,
	code_type,
	points_value,
	discount_pct,
	scan_limit,
	scan_count,
	is_active,
	expires_at,
	created_by,
	created_at
`

func (r *codeRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Code, error) {
	query := `SELECT ` + codeColumns + ` FROM codes WHERE id = $1`
	code, err := scanCode(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return code, nil
}

func (r *codeRepository) Create(ctx context.Context, code *model.Code) error {
	if code.ID == uuid.Nil {
		code.ID = uuid.New()
	}
	if code.CreatedAt.IsZero() {
		code.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO codes (
			id, issuer_id, code_type, points_value, discount_pct,
			scan_limit, scan_count, is_active, expires_at,
			created_by, created_at
		)
		VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11
		)
	`

	_, err := r.pool.Exec(
		ctx,
		query,
		code.ID,
		code.IssuerID,
		code.Type,
		code.PointsValue,
		code.DiscountPct,
		code.ScanLimit,
		code.ScanCount,
		code.IsActive,
		code.ExpiresAt,
		code.CreatedBy,
		code.CreatedAt,
	)
	return err
}

func (r *codeRepository) BatchCreate(ctx context.Context, codes []*model.Code) error {
	if len(codes) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	query := `
		INSERT INTO codes (
			id, issuer_id, code_type, points_value, discount_pct,
			scan_limit, scan_count, is_active, expires_at,
			created_by, created_at
		)
		VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11
		)
	`

	batch := &pgx.Batch{}
	now := time.Now().UTC()
	for _, code := range codes {
		if code.ID == uuid.Nil {
			code.ID = uuid.New()
		}
		if code.CreatedAt.IsZero() {
			code.CreatedAt = now
		}

		batch.Queue(
			query,
			code.ID,
			code.IssuerID,
			code.Type,
			code.PointsValue,
			code.DiscountPct,
			code.ScanLimit,
			code.ScanCount,
			code.IsActive,
			code.ExpiresAt,
			code.CreatedBy,
			code.CreatedAt,
		)
	}

	results := tx.SendBatch(ctx, batch)
	for range codes {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return err
		}
	}
	if err := results.Close(); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *codeRepository) SetActive(ctx context.Context, ids []uuid.UUID, active bool) error {
	if len(ids) == 0 {
		return nil
	}

	tag, err := r.pool.Exec(
		ctx,
		`UPDATE codes
		    SET is_active = $2
		  WHERE id = ANY($1)`,
		ids,
		active,
	)
	if err != nil {
		return err
	}
	return ensureAffected(tag)
}

func (r *codeRepository) List(ctx context.Context, filter repository.CodeListFilter) ([]*model.Code, error) {
	query := `SELECT ` + codeColumns + ` FROM codes`
	conditions, args := buildCodeConditions(filter)
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	limit, offset := normalizePagination(filter.Pagination)
	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]*model.Code, 0, limit)
	for rows.Next() {
		item, scanErr := scanCode(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *codeRepository) Count(ctx context.Context, filter repository.CodeListFilter) (int64, error) {
	query := `SELECT COUNT(*) FROM codes`
	conditions, args := buildCodeConditions(filter)
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int64
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func (r *codeRepository) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(
		ctx,
		`UPDATE codes
		    SET is_active = FALSE
		  WHERE is_active = TRUE
		    AND expires_at IS NOT NULL
		    AND expires_at <= $1`,
		now,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func buildCodeConditions(filter repository.CodeListFilter) ([]string, []any) {
	conditions := make([]string, 0, 3)
	args := make([]any, 0, 5)

	if filter.IssuerID != nil {
		args = append(args, *filter.IssuerID)
		conditions = append(conditions, fmt.Sprintf("issuer_id = $%d", len(args)))
	}
	if filter.Type != nil {
		args = append(args, *filter.Type)
		conditions = append(conditions, fmt.Sprintf("code_type = $%d", len(args)))
	}
	if filter.IsActive != nil {
		args = append(args, *filter.IsActive)
		conditions = append(conditions, fmt.Sprintf("is_active = $%d", len(args)))
	}

	return conditions, args
}

func scanCode(src scanTarget) (*model.Code, error) {
	code := &model.Code{}
	err := src.Scan(
		&code.ID,
		&code.IssuerID,
		&code.Type,
		&code.PointsValue,
		&code.DiscountPct,
		&code.ScanLimit,
		&code.ScanCount,
		&code.IsActive,
		&code.ExpiresAt,
		&code.CreatedBy,
		&code.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return code, nil
}
