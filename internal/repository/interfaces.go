package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/KingMansaMusaMarketplace/circulate-black-wealth-hub-sub011/internal/model"
)

var ErrNotFound = errors.New("not found")

type Pagination struct {
	Limit  int32 `json:"limit"`
	Offset int32 `json:"offset"`
}

type CodeListFilter struct {
	IssuerID   *uuid.UUID      `json:"issuer_id,omitempty"`
	Type       *model.CodeType `json:"type,omitempty"`
	IsActive   *bool           `json:"is_active,omitempty"`
	Pagination Pagination      `json:"pagination"`
}

type ScanListFilter struct {
	CallerID   *uuid.UUID `json:"caller_id,omitempty"`
	CodeID     *uuid.UUID `json:"code_id,omitempty"`
	IssuerID   *uuid.UUID `json:"issuer_id,omitempty"`
	Pagination Pagination `json:"pagination"`
}

type CodeRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*model.Code, error)
	Create(ctx context.Context, code *model.Code) error
	BatchCreate(ctx context.Context, codes []*model.Code) error
	SetActive(ctx context.Context, ids []uuid.UUID, active bool) error
	List(ctx context.Context, filter CodeListFilter) ([]*model.Code, error)
	Count(ctx context.Context, filter CodeListFilter) (int64, error)

	// DeactivateExpired flips is_active off for codes whose expiry has
	// passed. Redemption checks expiry on its own; the sweep only keeps
	// listings and the active-code gauge honest.
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
}

type ScanLedgerRepository interface {
	List(ctx context.Context, filter ScanListFilter) ([]*model.ScanEvent, error)
	Count(ctx context.Context, filter ScanListFilter) (int64, error)
}

type BalanceRepository interface {
	Get(ctx context.Context, customerID, issuerID uuid.UUID) (*model.PointBalance, error)
	ListByCustomer(ctx context.Context, customerID uuid.UUID, page Pagination) ([]*model.PointBalance, error)
}

type APIKeyRepository interface {
	FindByHash(ctx context.Context, keyHash string) (*model.APIKey, error)
	Create(ctx context.Context, key *model.APIKey) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.APIKeyStatus) error
	TouchLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error
	List(ctx context.Context, developerID *uuid.UUID, page Pagination) ([]*model.APIKey, error)

	// BumpWindow is the atomic check-and-increment on the key's current
	// rate window: a stale window is replaced with (now, 1), a window
	// already past the limit is held, otherwise the count is incremented.
	// The request is admitted iff the returned count <= limit.
	BumpWindow(ctx context.Context, apiKeyID uuid.UUID, now time.Time, window time.Duration, limit int) (windowStart time.Time, count int, err error)
	PruneWindows(ctx context.Context, olderThan time.Time) (int64, error)
	CountWindows(ctx context.Context) (int64, error)
}

type UsageRepository interface {
	Create(ctx context.Context, record *model.UsageRecord) error
	Summary(ctx context.Context, apiKeyID uuid.UUID, from, to time.Time) (*model.UsageSummary, error)
}
