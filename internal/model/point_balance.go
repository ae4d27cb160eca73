package model

import (
	"time"

	"github.com/google/uuid"
)

// PointBalance is the running point total for a (customer, issuer) pair.
// It equals the signed sum of all accrual and redemption deltas for that
// pair and is never negative.
type PointBalance struct {
	CustomerID uuid.UUID `db:"customer_id" json:"customer_id"`
	IssuerID   uuid.UUID `db:"issuer_id" json:"issuer_id"`
	Points     int64     `db:"points" json:"points"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}
