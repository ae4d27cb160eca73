package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/KingMansaMusaMarketplace/circulate-black-wealth-hub-sub011/internal/model"
	"github.com/KingMansaMusaMarketplace/circulate-black-wealth-hub-sub011/internal/repository"
)

type usageRepository struct {
	pool *pgxpool.Pool
}

func NewUsageRepository(pool *pgxpool.Pool) repository.UsageRepository {
	return &usageRepository{pool: pool}
}

var _ repository.UsageRepository = (*usageRepository)(nil)

func (r *usageRepository) Create(ctx context.Context, record *model.UsageRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO usage_records (
			id, api_key_id, endpoint, method, status_code,
			latency_ms, billed_units, created_at
		)
		VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8
		)`,
		record.ID,
		record.APIKeyID,
		record.Endpoint,
		record.Method,
		record.StatusCode,
		record.LatencyMs,
		record.BilledUnits,
		record.CreatedAt,
	)
	return err
}

func (r *usageRepository) Summary(ctx context.Context, apiKeyID uuid.UUID, from, to time.Time) (*model.UsageSummary, error) {
	summary := &model.UsageSummary{
		APIKeyID: apiKeyID,
		From:     from,
		To:       to,
	}

	err := r.pool.QueryRow(
		ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(billed_units), 0),
		        COUNT(*) FILTER (WHERE status_code >= 400),
		        COALESCE(AVG(latency_ms), 0)
		   FROM usage_records
		  WHERE api_key_id = $1
		    AND created_at >= $2
		    AND created_at < $3`,
		apiKeyID,
		from,
		to,
	).Scan(
		&summary.TotalRequests,
		&summary.TotalUnits,
		&summary.ErrorRequests,
		&summary.AvgLatencyMs,
	)
	if err != nil {
		return nil, err
	}
	return summary, nil
}
