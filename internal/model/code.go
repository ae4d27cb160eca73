package model

import (
	"time"

	"github.com/google/uuid"
)

type CodeType string

const (
	CodeTypePoints   CodeType = "points"
	CodeTypeDiscount CodeType = "discount"
	CodeTypeHybrid   CodeType = "hybrid"
)

// Code is an issuable redemption token. ScanLimit is nil for unlimited
// codes; ScanCount is only ever mutated by the redemption transaction.
type Code struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	IssuerID    uuid.UUID  `db:"issuer_id" json:"issuer_id"`
	Type        CodeType   `db:"code_type" json:"type"`
	PointsValue int        `db:"points_value" json:"points_value"`
	DiscountPct float64    `db:"discount_pct" json:"discount_pct"`
	ScanLimit   *int       `db:"scan_limit" json:"scan_limit,omitempty"`
	ScanCount   int        `db:"scan_count" json:"scan_count"`
	IsActive    bool       `db:"is_active" json:"is_active"`
	ExpiresAt   *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	CreatedBy   uuid.UUID  `db:"created_by" json:"created_by"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}
