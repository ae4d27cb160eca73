package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/KingMansaMusaMarketplace/circulate-black-wealth-hub-sub011/internal/model"
	"github.com/KingMansaMusaMarketplace/circulate-black-wealth-hub-sub011/internal/repository"
)

// The scan ledger is append-only; the only writer is the redemption
// transaction in RedemptionService, so this repository is read-side only.
type scanLedgerRepository struct {
	pool *pgxpool.Pool
}

func NewScanLedgerRepository(pool *pgxpool.Pool) repository.ScanLedgerRepository {
	return &scanLedgerRepository{pool: pool}
}

var _ repository.ScanLedgerRepository = (*scanLedgerRepository)(nil)

const scanEventColumns = `
	id,
	code_id,
	caller_id,
	issuer_id,
	points_awarded,
	discount_applied,
	occurred_at
`

func (r *scanLedgerRepository) List(ctx context.Context, filter repository.ScanListFilter) ([]*model.ScanEvent, error) {
	query := `SELECT ` + scanEventColumns + ` FROM scan_events`
	conditions, args := buildScanConditions(filter)
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	limit, offset := normalizePagination(filter.Pagination)
	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY occurred_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]*model.ScanEvent, 0, limit)
	for rows.Next() {
		item := &model.ScanEvent{}
		if scanErr := rows.Scan(
			&item.ID,
			&item.CodeID,
			&item.CallerID,
			&item.IssuerID,
			&item.PointsAwarded,
			&item.DiscountApplied,
			&item.OccurredAt,
		); scanErr != nil {
			return nil, scanErr
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *scanLedgerRepository) Count(ctx context.Context, filter repository.ScanListFilter) (int64, error) {
	query := `SELECT COUNT(*) FROM scan_events`
	conditions, args := buildScanConditions(filter)
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int64
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func buildScanConditions(filter repository.ScanListFilter) ([]string, []any) {
	conditions := make([]string, 0, 3)
	args := make([]any, 0, 5)

	if filter.CallerID != nil {
		args = append(args, *filter.CallerID)
		conditions = append(conditions, fmt.Sprintf("caller_id = $%d", len(args)))
	}
	if filter.CodeID != nil {
		args = append(args, *filter.CodeID)
		conditions = append(conditions, fmt.Sprintf("code_id = $%d", len(args)))
	}
	if filter.IssuerID != nil {
		args = append(args, *filter.IssuerID)
		conditions = append(conditions, fmt.Sprintf("issuer_id = $%d", len(args)))
	}

	return conditions, args
}
