package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/KingMansaMusaMarketplace/circulate-black-wealth-hub-sub011/internal/event"
	"github.com/KingMansaMusaMarketplace/circulate-black-wealth-hub-sub011/internal/metrics"
	"github.com/KingMansaMusaMarketplace/circulate-black-wealth-hub-sub011/internal/model"
	"github.com/KingMansaMusaMarketplace/circulate-black-wealth-hub-sub011/internal/repository"
)

const (
	codeListDefaultPage = 1
	codeListDefaultSize = 20
	codeListMaxPageSize = 200

	maxBatchGenerateCount = 5000
)

var (
	ErrCodeNotFound       = errors.New("code not found")
	ErrCodeInactive       = errors.New("code is inactive")
	ErrCodeExpired        = errors.New("code expired")
	ErrCodeLimitExceeded  = errors.New("code scan limit exceeded")
	ErrCallerUnauthorized = errors.New("caller is not authenticated")
	ErrInvalidCodeInput   = errors.New("invalid code input")
	ErrBalanceNotFound    = errors.New("balance not found")
	ErrRedemptionInternal = errors.New("redemption store failure")
)

type RedeemResult struct {
	PointsEarned    int     `json:"pointsEarned"`
	DiscountApplied float64 `json:"discountApplied"`
}

type BatchGenerateRequest struct {
	Count       int             `json:"count"`
	IssuerID    uuid.UUID       `json:"issuer_id"`
	Type        model.CodeType  `json:"type"`
	PointsValue int             `json:"points_value"`
	DiscountPct float64         `json:"discount_pct"`
	ScanLimit   *int            `json:"scan_limit"`
	ExpiresAt   *time.Time      `json:"expires_at"`
}

type CodeListFilter struct {
	IssuerID *uuid.UUID
	Type     *model.CodeType
	IsActive *bool
}

// RedemptionService is the coordinator for the redeem path: it owns the
// one transaction that checks the scan limit, appends the ledger row,
// increments the counter and upserts the balance as a unit.
type RedemptionService struct {
	codeRepo    repository.CodeRepository
	ledgerRepo  repository.ScanLedgerRepository
	balanceRepo repository.BalanceRepository
	pool        *pgxpool.Pool
	bus         *event.Bus
	milestone   int64
	logger      *zap.Logger
}

func NewRedemptionService(
	codeRepo repository.CodeRepository,
	ledgerRepo repository.ScanLedgerRepository,
	balanceRepo repository.BalanceRepository,
	pool *pgxpool.Pool,
	bus *event.Bus,
	milestoneStep int64,
	logger *zap.Logger,
) *RedemptionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if milestoneStep <= 0 {
		milestoneStep = 1000
	}

	return &RedemptionService{
		codeRepo:    codeRepo,
		ledgerRepo:  ledgerRepo,
		balanceRepo: balanceRepo,
		pool:        pool,
		bus:         bus,
		milestone:   milestoneStep,
		logger:      logger,
	}
}

// Redeem turns a scanned code into a durable balance mutation exactly once.
// Preconditions are checked in a fixed order, each with its own error;
// the write path is a single transaction: SELECT FOR UPDATE on the code
// row, a conditional scan_count increment guarded by the limit, the ledger
// append and the balance upsert. Concurrent redemptions of the same code
// serialize on the row lock, so a code with scan_limit = N admits exactly
// N redemptions no matter how many callers race.
//
// There is no idempotency key: a caller that retries after a timeout whose
// first attempt actually committed will redeem twice. That gap is tracked
// as a product decision, not silently papered over here.
func (s *RedemptionService) Redeem(ctx context.Context, codeID, callerID uuid.UUID) (*RedeemResult, error) {
	if s.pool == nil {
		return nil, errors.New("database pool is nil")
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedemptionInternal, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	code, err := s.findByIDForUpdateTx(ctx, tx, codeID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if !code.IsActive {
		metrics.IncRedemption("inactive")
		return nil, ErrCodeInactive
	}
	if code.ExpiresAt != nil && !code.ExpiresAt.After(now) {
		metrics.IncRedemption("expired")
		return nil, ErrCodeExpired
	}
	if code.ScanLimit != nil && code.ScanCount >= *code.ScanLimit {
		metrics.IncRedemption("limit_exceeded")
		return nil, ErrCodeLimitExceeded
	}
	if callerID == uuid.Nil {
		metrics.IncRedemption("unauthorized")
		return nil, ErrCallerUnauthorized
	}

	// The limit guard is repeated in the UPDATE itself so the increment
	// is a compare-and-increment even if the row state moved between the
	// read and the write.
	tag, err := tx.Exec(
		ctx,
		`UPDATE codes
		    SET scan_count = scan_count + 1
		  WHERE id = $1
		    AND (scan_limit IS NULL OR scan_count < scan_limit)`,
		code.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedemptionInternal, err)
	}
	if tag.RowsAffected() == 0 {
		metrics.IncRedemption("limit_exceeded")
		return nil, ErrCodeLimitExceeded
	}

	if _, err := tx.Exec(
		ctx,
		`INSERT INTO scan_events (
			id, code_id, caller_id, issuer_id,
			points_awarded, discount_applied, occurred_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.New(),
		code.ID,
		callerID,
		code.IssuerID,
		code.PointsValue,
		code.DiscountPct,
		now,
	); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedemptionInternal, err)
	}

	var newBalance int64
	if err := tx.QueryRow(
		ctx,
		`INSERT INTO point_balances (customer_id, issuer_id, points, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (customer_id, issuer_id) DO UPDATE SET
			points = point_balances.points + EXCLUDED.points,
			updated_at = EXCLUDED.updated_at
		 RETURNING points`,
		callerID,
		code.IssuerID,
		int64(code.PointsValue),
		now,
	).Scan(&newBalance); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedemptionInternal, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedemptionInternal, err)
	}

	metrics.IncRedemption("success")
	metrics.AddPointsAwarded(code.PointsValue)
	s.publishRedeemed(code, callerID, newBalance)

	return &RedeemResult{
		PointsEarned:    code.PointsValue,
		DiscountApplied: code.DiscountPct,
	}, nil
}

func (s *RedemptionService) findByIDForUpdateTx(ctx context.Context, tx pgx.Tx, codeID uuid.UUID) (*model.Code, error) {
	code := &model.Code{}
	err := tx.QueryRow(
		ctx,
		`SELECT id, issuer_id, code_type, points_value, discount_pct,
		        scan_limit, scan_count, is_active, expires_at,
		        created_by, created_at
		   FROM codes
		  WHERE id = $1
		    FOR UPDATE`,
		codeID,
	).Scan(
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
	if errors.Is(err, pgx.ErrNoRows) {
		metrics.IncRedemption("not_found")
		return nil, ErrCodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedemptionInternal, err)
	}
	return code, nil
}

// publishRedeemed fires the post-commit notifications. They never block or
// fail the redemption; the dispatcher consumes them asynchronously.
func (s *RedemptionService) publishRedeemed(code *model.Code, callerID uuid.UUID, newBalance int64) {
	if s.bus == nil {
		return
	}

	s.bus.Publish(event.EventCodeRedeemed, event.CodeRedeemedPayload{
		CodeID:   code.ID.String(),
		CallerID: callerID.String(),
		IssuerID: code.IssuerID.String(),
		Points:   code.PointsValue,
		Discount: code.DiscountPct,
	})

	previous := newBalance - int64(code.PointsValue)
	if previous < 0 {
		previous = 0
	}
	if newBalance/s.milestone > previous/s.milestone {
		s.bus.Publish(event.EventBalanceMilestone, event.BalanceMilestonePayload{
			CallerID:  callerID.String(),
			IssuerID:  code.IssuerID.String(),
			Balance:   newBalance,
			Threshold: (newBalance / s.milestone) * s.milestone,
		})
	}
}

func (s *RedemptionService) BatchGenerate(ctx context.Context, operatorID uuid.UUID, req BatchGenerateRequest) ([]*model.Code, error) {
	if s.codeRepo == nil {
		return nil, errors.New("code repository is nil")
	}

	if req.Count <= 0 || req.Count > maxBatchGenerateCount {
		return nil, ErrInvalidCodeInput
	}
	if req.IssuerID == uuid.Nil {
		return nil, ErrInvalidCodeInput
	}
	if req.PointsValue < 0 || req.DiscountPct < 0 || req.DiscountPct > 100 {
		return nil, ErrInvalidCodeInput
	}
	if req.ScanLimit != nil && *req.ScanLimit <= 0 {
		return nil, ErrInvalidCodeInput
	}

	codeType := req.Type
	if codeType == "" {
		codeType = model.CodeTypePoints
	}
	switch codeType {
	case model.CodeTypePoints, model.CodeTypeDiscount, model.CodeTypeHybrid:
	default:
		return nil, ErrInvalidCodeInput
	}

	now := time.Now().UTC()
	items := make([]*model.Code, 0, req.Count)
	for i := 0; i < req.Count; i++ {
		items = append(items, &model.Code{
			ID:          uuid.New(),
			IssuerID:    req.IssuerID,
			Type:        codeType,
			PointsValue: req.PointsValue,
			DiscountPct: req.DiscountPct,
			ScanLimit:   cloneIntPtr(req.ScanLimit),
			IsActive:    true,
			ExpiresAt:   cloneTimePtr(req.ExpiresAt),
			CreatedBy:   operatorID,
			CreatedAt:   now,
		})
	}

	if err := s.codeRepo.BatchCreate(ctx, items); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *RedemptionService) SetActive(ctx context.Context, ids []uuid.UUID, active bool) error {
	if s.codeRepo == nil {
		return errors.New("code repository is nil")
	}
	if len(ids) == 0 {
		return ErrInvalidCodeInput
	}
	return s.codeRepo.SetActive(ctx, ids, active)
}

func (s *RedemptionService) List(ctx context.Context, page, pageSize int, filter CodeListFilter) ([]*model.Code, int64, error) {
	if s.codeRepo == nil {
		return nil, 0, errors.New("code repository is nil")
	}

	page, pageSize = normalizeCodeListPage(page, pageSize)
	repoFilter := repository.CodeListFilter{
		IssuerID: filter.IssuerID,
		Type:     filter.Type,
		IsActive: filter.IsActive,
		Pagination: repository.Pagination{
			Limit:  int32(pageSize),
			Offset: int32((page - 1) * pageSize),
		},
	}

	items, err := s.codeRepo.List(ctx, repoFilter)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.codeRepo.Count(ctx, repoFilter)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *RedemptionService) ListScanHistory(ctx context.Context, callerID uuid.UUID, page, pageSize int) ([]*model.ScanEvent, int64, error) {
	if s.ledgerRepo == nil {
		return nil, 0, errors.New("scan ledger repository is nil")
	}
	if callerID == uuid.Nil {
		return nil, 0, ErrCallerUnauthorized
	}

	page, pageSize = normalizeCodeListPage(page, pageSize)
	filter := repository.ScanListFilter{
		CallerID: &callerID,
		Pagination: repository.Pagination{
			Limit:  int32(pageSize),
			Offset: int32((page - 1) * pageSize),
		},
	}

	items, err := s.ledgerRepo.List(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.ledgerRepo.Count(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *RedemptionService) Balance(ctx context.Context, customerID, issuerID uuid.UUID) (*model.PointBalance, error) {
	if s.balanceRepo == nil {
		return nil, errors.New("balance repository is nil")
	}
	if customerID == uuid.Nil || issuerID == uuid.Nil {
		return nil, ErrInvalidCodeInput
	}

	balance, err := s.balanceRepo.Get(ctx, customerID, issuerID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrBalanceNotFound
	}
	if err != nil {
		return nil, err
	}
	return balance, nil
}

// ExpireCodes deactivates codes whose expiry has passed. Redemption checks
// expiry inline; the sweep keeps listings and the active-code gauge honest.
func (s *RedemptionService) ExpireCodes(ctx context.Context) (int64, error) {
	if s.codeRepo == nil {
		return 0, errors.New("code repository is nil")
	}
	return s.codeRepo.DeactivateExpired(ctx, time.Now().UTC())
}

func (s *RedemptionService) ActiveCodeCount(ctx context.Context) (int64, error) {
	if s.codeRepo == nil {
		return 0, errors.New("code repository is nil")
	}

	active := true
	return s.codeRepo.Count(ctx, repository.CodeListFilter{IsActive: &active})
}

func normalizeCodeListPage(page, pageSize int) (int, int) {
	if page <= 0 {
		page = codeListDefaultPage
	}
	if pageSize <= 0 {
		pageSize = codeListDefaultSize
	}
	if pageSize > codeListMaxPageSize {
		pageSize = codeListMaxPageSize
	}
	return page, pageSize
}

func cloneIntPtr(v *int) *int {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func cloneTimePtr(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
