package model

import (
	"time"

	"github.com/google/uuid"
)

// ScanEvent is one append-only ledger row per accepted redemption.
// Rows are never updated or deleted.
type ScanEvent struct {
	ID              uuid.UUID `db:"id" json:"id"`
	CodeID          uuid.UUID `db:"code_id" json:"code_id"`
	CallerID        uuid.UUID `db:"caller_id" json:"caller_id"`
	IssuerID        uuid.UUID `db:"issuer_id" json:"issuer_id"`
	PointsAwarded   int       `db:"points_awarded" json:"points_awarded"`
	DiscountApplied float64   `db:"discount_applied" json:"discount_applied"`
	OccurredAt      time.Time `db:"occurred_at" json:"occurred_at"`
}
