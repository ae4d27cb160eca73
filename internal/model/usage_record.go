package model

import (
	"time"

	"github.com/google/uuid"
)

// UsageRecord is the append-only metering row written once per inbound
// request, success or failure. APIKeyID is nil for unauthenticated calls
// (unauthenticated health checks).
type UsageRecord struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	APIKeyID    *uuid.UUID `db:"api_key_id" json:"api_key_id,omitempty"`
	Endpoint    string     `db:"endpoint" json:"endpoint"`
	Method      string     `db:"method" json:"method"`
	StatusCode  int        `db:"status_code" json:"status_code"`
	LatencyMs   int64      `db:"latency_ms" json:"latency_ms"`
	BilledUnits int        `db:"billed_units" json:"billed_units"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// UsageSummary aggregates billed units for reconciliation queries.
type UsageSummary struct {
	APIKeyID      uuid.UUID `json:"api_key_id"`
	TotalRequests int64     `json:"total_requests"`
	TotalUnits    int64     `json:"total_units"`
	ErrorRequests int64     `json:"error_requests"`
	AvgLatencyMs  float64   `json:"avg_latency_ms"`
	From          time.Time `json:"from"`
	To            time.Time `json:"to"`
}
