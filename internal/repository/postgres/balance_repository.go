package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/KingMansaMusaMarketplace/circulate-black-wealth-hub-sub011/internal/model"
	"github.com/KingMansaMusaMarketplace/circulate-black-wealth-hub-sub011/internal/repository"
)

// Balances are mutated only inside the redemption transaction; this
// repository serves the read side.
type balanceRepository struct {
	pool *pgxpool.Pool
}

func NewBalanceRepository(pool *pgxpool.Pool) repository.BalanceRepository {
	return &balanceRepository{pool: pool}
}

var _ repository.BalanceRepository = (*balanceRepository)(nil)

func (r *balanceRepository) Get(ctx context.Context, customerID, issuerID uuid.UUID) (*model.PointBalance, error) {
	balance := &model.PointBalance{}
	err := r.pool.QueryRow(
		ctx,
		`SELECT customer_id, issuer_id, points, updated_at
		   FROM point_balances
		  WHERE customer_id = $1
		    AND issuer_id = $2`,
		customerID,
		issuerID,
	).Scan(&balance.CustomerID, &balance.IssuerID, &balance.Points, &balance.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return balance, nil
}

func (r *balanceRepository) ListByCustomer(ctx context.Context, customerID uuid.UUID, page repository.Pagination) ([]*model.PointBalance, error) {
	limit, offset := normalizePagination(page)

	rows, err := r.pool.Query(
		ctx,
		`SELECT customer_id, issuer_id, points, updated_at
		   FROM point_balances
		  WHERE customer_id = $1
		  ORDER BY updated_at DESC
		  LIMIT $2 OFFSET $3`,
		customerID,
		limit,
		offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]*model.PointBalance, 0, limit)
	for rows.Next() {
		item := &model.PointBalance{}
		if scanErr := rows.Scan(&item.CustomerID, &item.IssuerID, &item.Points, &item.UpdatedAt); scanErr != nil {
			return nil, scanErr
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
