package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KingMansaMusaMarketplace/circulate-black-wealth-hub-sub011/internal/metrics"
	"github.com/KingMansaMusaMarketplace/circulate-black-wealth-hub-sub011/internal/model"
	"github.com/KingMansaMusaMarketplace/circulate-black-wealth-hub-sub011/internal/repository"
)

const rawKeyPrefix = "cwh_"

var (
	ErrKeyUnauthorized = errors.New("unknown or invalid api key")
	ErrKeyForbidden    = errors.New("api key lacks access")
	ErrInvalidKeyInput = errors.New("invalid api key input")
)

// RateLimitError carries how long the caller must wait for the current
// window to reset.
type RateLimitError struct {
	Limit      time.Duration
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry in %s", e.RetryAfter)
}

// RetryAfterSeconds rounds up so a client that waits the advertised number
// of seconds always lands in a fresh window.
func (e *RateLimitError) RetryAfterSeconds() int {
	secs := int(math.Ceil(e.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// DeveloperContext is the authenticated caller attached to a request.
type DeveloperContext struct {
	KeyID       uuid.UUID `json:"key_id"`
	DeveloperID uuid.UUID `json:"developer_id"`
	Name        string    `json:"name"`
	Scopes      []string  `json:"scopes"`
	RateLimit   int       `json:"rate_limit"`
	Remaining   int       `json:"remaining"`
}

type CreateKeyRequest struct {
	DeveloperID        uuid.UUID `json:"developer_id"`
	Name               string    `json:"name"`
	Scopes             []string  `json:"scopes"`
	RateLimitPerMinute int       `json:"rate_limit_per_minute"`
}

// APIKeyService authenticates callers and enforces the per-key request
// ceiling. The durable rate window is the sole source of truth: any number
// of instances coordinate only through the backing store.
type APIKeyService struct {
	keyRepo repository.APIKeyRepository
	window  time.Duration
	logger  *zap.Logger
}

func NewAPIKeyService(keyRepo repository.APIKeyRepository, window time.Duration, logger *zap.Logger) *APIKeyService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if window <= 0 {
		window = time.Minute
	}

	return &APIKeyService{
		keyRepo: keyRepo,
		window:  window,
		logger:  logger,
	}
}

func (s *APIKeyService) Window() time.Duration {
	return s.window
}

// HashKey is the one-way digest under which keys are stored and looked up.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(raw)))
	return hex.EncodeToString(sum[:])
}

// Authorize runs the full guard: digest lookup, status check, scope check,
// then the atomic window check-and-increment. A rejected request never
// counts against a future window. When the key itself resolved, the caller
// context is returned alongside the error so the rejection can still be
// metered to that key.
func (s *APIKeyService) Authorize(ctx context.Context, rawKey, requiredScope string) (*DeveloperContext, error) {
	key, err := s.authenticate(ctx, rawKey)
	if err != nil {
		if key != nil {
			return developerContext(key), err
		}
		return nil, err
	}

	if requiredScope != "" && !hasScope(key.Scopes, requiredScope) {
		return developerContext(key), ErrKeyForbidden
	}

	now := time.Now().UTC()
	windowStart, count, err := s.keyRepo.BumpWindow(ctx, key.ID, now, s.window, key.RateLimitPerMinute)
	if err != nil {
		return nil, fmt.Errorf("bump rate window: %w", err)
	}
	if count > key.RateLimitPerMinute {
		metrics.IncRateLimited()
		return developerContext(key), &RateLimitError{
			Limit:      s.window,
			RetryAfter: windowStart.Add(s.window).Sub(now),
		}
	}

	if err := s.keyRepo.TouchLastUsed(ctx, key.ID, now); err != nil {
		s.logger.Warn("touch api key last_used failed", zap.String("key_id", key.ID.String()), zap.Error(err))
	}

	dev := developerContext(key)
	dev.Remaining = key.RateLimitPerMinute - count
	return dev, nil
}

// Authenticate resolves a key without scope or rate-limit checks. Health
// checks use it so they bill to the right caller while staying exempt from
// the window.
func (s *APIKeyService) Authenticate(ctx context.Context, rawKey string) (*DeveloperContext, error) {
	key, err := s.authenticate(ctx, rawKey)
	if err != nil {
		if key != nil {
			return developerContext(key), err
		}
		return nil, err
	}

	return developerContext(key), nil
}

func developerContext(key *model.APIKey) *DeveloperContext {
	return &DeveloperContext{
		KeyID:       key.ID,
		DeveloperID: key.DeveloperID,
		Name:        key.Name,
		Scopes:      key.Scopes,
		RateLimit:   key.RateLimitPerMinute,
	}
}

func (s *APIKeyService) authenticate(ctx context.Context, rawKey string) (*model.APIKey, error) {
	if s.keyRepo == nil {
		return nil, errors.New("api key repository is nil")
	}

	provided := strings.TrimSpace(rawKey)
	if provided == "" {
		return nil, ErrKeyUnauthorized
	}

	key, err := s.keyRepo.FindByHash(ctx, HashKey(provided))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrKeyUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("lookup api key: %w", err)
	}

	// The resolved key travels with the error so rejections still meter
	// to the right caller.
	if key.Status != model.APIKeyStatusActive {
		return key, ErrKeyForbidden
	}
	return key, nil
}

// Create generates a new key, stores only its digest and returns the raw
// key once. It cannot be recovered later.
func (s *APIKeyService) Create(ctx context.Context, req CreateKeyRequest) (*model.APIKey, string, error) {
	if s.keyRepo == nil {
		return nil, "", errors.New("api key repository is nil")
	}

	name := strings.TrimSpace(req.Name)
	if name == "" || req.DeveloperID == uuid.Nil {
		return nil, "", ErrInvalidKeyInput
	}

	rateLimit := req.RateLimitPerMinute
	if rateLimit <= 0 {
		rateLimit = 60
	}

	scopes := make([]string, 0, len(req.Scopes))
	for _, scope := range req.Scopes {
		trimmed := strings.TrimSpace(scope)
		if trimmed != "" {
			scopes = append(scopes, trimmed)
		}
	}
	if len(scopes) == 0 {
		return nil, "", ErrInvalidKeyInput
	}

	rawKey, err := generateRawKey()
	if err != nil {
		return nil, "", fmt.Errorf("generate api key: %w", err)
	}

	key := &model.APIKey{
		ID:                 uuid.New(),
		KeyHash:            HashKey(rawKey),
		DeveloperID:        req.DeveloperID,
		Name:               name,
		Scopes:             scopes,
		Status:             model.APIKeyStatusActive,
		RateLimitPerMinute: rateLimit,
		CreatedAt:          time.Now().UTC(),
	}

	if err := s.keyRepo.Create(ctx, key); err != nil {
		return nil, "", err
	}
	return key, rawKey, nil
}

func (s *APIKeyService) UpdateStatus(ctx context.Context, id uuid.UUID, status model.APIKeyStatus) error {
	if s.keyRepo == nil {
		return errors.New("api key repository is nil")
	}

	switch status {
	case model.APIKeyStatusActive, model.APIKeyStatusSuspended, model.APIKeyStatusRevoked:
	default:
		return ErrInvalidKeyInput
	}

	err := s.keyRepo.UpdateStatus(ctx, id, status)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrKeyUnauthorized
	}
	return err
}

func (s *APIKeyService) List(ctx context.Context, developerID *uuid.UUID, page, pageSize int) ([]*model.APIKey, error) {
	if s.keyRepo == nil {
		return nil, errors.New("api key repository is nil")
	}

	page, pageSize = normalizeCodeListPage(page, pageSize)
	return s.keyRepo.List(ctx, developerID, repository.Pagination{
		Limit:  int32(pageSize),
		Offset: int32((page - 1) * pageSize),
	})
}

// PruneWindows deletes rate windows that ended before the retention
// horizon; the scheduler calls it periodically.
func (s *APIKeyService) PruneWindows(ctx context.Context) (int64, error) {
	if s.keyRepo == nil {
		return 0, errors.New("api key repository is nil")
	}
	return s.keyRepo.PruneWindows(ctx, time.Now().UTC().Add(-2*s.window))
}

func (s *APIKeyService) OpenWindowCount(ctx context.Context) (int64, error) {
	if s.keyRepo == nil {
		return 0, errors.New("api key repository is nil")
	}
	return s.keyRepo.CountWindows(ctx)
}

// hasScope matches exact scopes, the global wildcard "*" and prefix
// wildcards such as "admin:*". The delimiter before the "*" is part of
// the prefix, so "admin:*" grants "admin:codes" but not "administrator".
func hasScope(scopes []string, required string) bool {
	requested := strings.TrimSpace(required)
	if requested == "" {
		return true
	}

	for _, scope := range scopes {
		value := strings.TrimSpace(scope)
		if value == "" {
			continue
		}
		if value == "*" || strings.EqualFold(value, requested) {
			return true
		}
		if strings.HasSuffix(value, ":*") || strings.HasSuffix(value, ".*") {
			prefix := strings.TrimSuffix(strings.ToLower(value), "*")
			if strings.HasPrefix(strings.ToLower(requested), prefix) {
				return true
			}
		}
	}

	return false
}

func generateRawKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return rawKeyPrefix + hex.EncodeToString(buf), nil
}
