package model

import (
	"time"

	"github.com/google/uuid"
)

type APIKeyStatus string

const (
	APIKeyStatusActive    APIKeyStatus = "active"
	APIKeyStatusSuspended APIKeyStatus = "suspended"
	APIKeyStatusRevoked   APIKeyStatus = "revoked"
)

// APIKey stores only the one-way digest of the issued key. The raw key is
// shown once at creation time and is not recoverable afterwards.
type APIKey struct {
	ID                 uuid.UUID    `db:"id" json:"id"`
	KeyHash            string       `db:"key_hash" json:"-"`
	DeveloperID        uuid.UUID    `db:"developer_id" json:"developer_id"`
	Name               string       `db:"name" json:"name"`
	Scopes             []string     `db:"scopes" json:"scopes"`
	Status             APIKeyStatus `db:"status" json:"status"`
	RateLimitPerMinute int          `db:"rate_limit_per_minute" json:"rate_limit_per_minute"`
	LastUsedAt         *time.Time   `db:"last_used_at" json:"last_used_at,omitempty"`
	CreatedAt          time.Time    `db:"created_at" json:"created_at"`
}

// RateWindow is the durable per-key request counter. One row per key;
// a stale row is replaced in place when a new window starts.
type RateWindow struct {
	APIKeyID     uuid.UUID `db:"api_key_id" json:"api_key_id"`
	WindowStart  time.Time `db:"window_start" json:"window_start"`
	RequestCount int       `db:"request_count" json:"request_count"`
}
