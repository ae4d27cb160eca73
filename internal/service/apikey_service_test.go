package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/KingMansaMusaMarketplace/circulate-black-wealth-hub-sub011/internal/model"
	"github.com/KingMansaMusaMarketplace/circulate-black-wealth-hub-sub011/internal/repository"
)

type fakeKeyRepo struct {
	keys        map[string]*model.APIKey
	windowStart time.Time
	count       int
	limit       int
	bumpErr     error
	touched     int
	pruned      int64
}

func newFakeKeyRepo() *fakeKeyRepo {
	return &fakeKeyRepo{keys: map[string]*model.APIKey{}}
}

func (f *fakeKeyRepo) FindByHash(_ context.Context, keyHash string) (*model.APIKey, error) {
	key, ok := f.keys[keyHash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return key, nil
}

func (f *fakeKeyRepo) Create(_ context.Context, key *model.APIKey) error {
	f.keys[key.KeyHash] = key
	return nil
}

func (f *fakeKeyRepo) UpdateStatus(_ context.Context, id uuid.UUID, status model.APIKeyStatus) error {
	for _, key := range f.keys {
		if key.ID == id {
			key.Status = status
			return nil
		}
	}
	return repository.ErrNotFound
}

func (f *fakeKeyRepo) TouchLastUsed(_ context.Context, _ uuid.UUID, _ time.Time) error {
	f.touched++
	return nil
}

func (f *fakeKeyRepo) List(_ context.Context, _ *uuid.UUID, _ repository.Pagination) ([]*model.APIKey, error) {
	out := make([]*model.APIKey, 0, len(f.keys))
	for _, key := range f.keys {
		out = append(out, key)
	}
	return out, nil
}

func (f *fakeKeyRepo) BumpWindow(_ context.Context, _ uuid.UUID, now time.Time, window time.Duration, limit int) (time.Time, int, error) {
	if f.bumpErr != nil {
		return time.Time{}, 0, f.bumpErr
	}

	f.limit = limit
	if f.windowStart.IsZero() || !f.windowStart.After(now.Add(-window)) {
		f.windowStart = now
		f.count = 1
		return f.windowStart, f.count, nil
	}
	if f.count <= limit {
		f.count++
	}
	return f.windowStart, f.count, nil
}

func (f *fakeKeyRepo) PruneWindows(_ context.Context, _ time.Time) (int64, error) {
	return f.pruned, nil
}

func (f *fakeKeyRepo) CountWindows(_ context.Context) (int64, error) {
	if f.count > 0 {
		return 1, nil
	}
	return 0, nil
}

func seedKey(repo *fakeKeyRepo, raw string, scopes []string, limit int) *model.APIKey {
	key := &model.APIKey{
		ID:                 uuid.New(),
		KeyHash:            HashKey(raw),
		DeveloperID:        uuid.New(),
		Name:               "test key",
		Scopes:             scopes,
		Status:             model.APIKeyStatusActive,
		RateLimitPerMinute: limit,
		CreatedAt:          time.Now().UTC(),
	}
	repo.keys[key.KeyHash] = key
	return key
}

func TestHashKey_StableAndTrimmed(t *testing.T) {
	t.Parallel()

	a := HashKey("cwh_abc123")
	b := HashKey("  cwh_abc123  ")
	if a != b {
		t.Fatal("digest must ignore surrounding whitespace")
	}
	if a == HashKey("cwh_abc124") {
		t.Fatal("different keys must not collide on digest")
	}
	if len(a) != 64 {
		t.Fatalf("digest length = %d, want 64 hex chars", len(a))
	}
}

func TestAuthorize_UnknownKey(t *testing.T) {
	t.Parallel()

	svc := NewAPIKeyService(newFakeKeyRepo(), time.Minute, nil)

	if _, err := svc.Authorize(context.Background(), "cwh_missing", "redeem:write"); !errors.Is(err, ErrKeyUnauthorized) {
		t.Fatalf("error = %v, want ErrKeyUnauthorized", err)
	}
	if _, err := svc.Authorize(context.Background(), "", "redeem:write"); !errors.Is(err, ErrKeyUnauthorized) {
		t.Fatalf("empty key error = %v, want ErrKeyUnauthorized", err)
	}
}

func TestAuthorize_SuspendedKeyForbidden(t *testing.T) {
	t.Parallel()

	repo := newFakeKeyRepo()
	key := seedKey(repo, "cwh_suspended", []string{"*"}, 60)
	key.Status = model.APIKeyStatusSuspended

	svc := NewAPIKeyService(repo, time.Minute, nil)
	if _, err := svc.Authorize(context.Background(), "cwh_suspended", "redeem:write"); !errors.Is(err, ErrKeyForbidden) {
		t.Fatalf("error = %v, want ErrKeyForbidden", err)
	}
}

func TestAuthorize_ScopeEnforced(t *testing.T) {
	t.Parallel()

	repo := newFakeKeyRepo()
	seedKey(repo, "cwh_narrow", []string{"calculate:read"}, 60)

	svc := NewAPIKeyService(repo, time.Minute, nil)

	if _, err := svc.Authorize(context.Background(), "cwh_narrow", "redeem:write"); !errors.Is(err, ErrKeyForbidden) {
		t.Fatalf("error = %v, want ErrKeyForbidden", err)
	}
	if _, err := svc.Authorize(context.Background(), "cwh_narrow", "calculate:read"); err != nil {
		t.Fatalf("matching scope rejected: %v", err)
	}
}

func TestAuthorize_RateLimitExceeded(t *testing.T) {
	t.Parallel()

	repo := newFakeKeyRepo()
	seedKey(repo, "cwh_limited", []string{"*"}, 2)

	svc := NewAPIKeyService(repo, time.Minute, nil)

	for i := 0; i < 2; i++ {
		if _, err := svc.Authorize(context.Background(), "cwh_limited", "redeem:write"); err != nil {
			t.Fatalf("request %d rejected inside limit: %v", i+1, err)
		}
	}

	_, err := svc.Authorize(context.Background(), "cwh_limited", "redeem:write")
	var rateErr *RateLimitError
	if !errors.As(err, &rateErr) {
		t.Fatalf("error = %v, want RateLimitError", err)
	}
	if secs := rateErr.RetryAfterSeconds(); secs < 1 || secs > 60 {
		t.Fatalf("retry after = %d s, want within (0, 60]", secs)
	}
}

func TestAuthorize_RejectionsStillIdentifyCaller(t *testing.T) {
	t.Parallel()

	repo := newFakeKeyRepo()
	limited := seedKey(repo, "cwh_billed_limited", []string{"*"}, 1)
	narrow := seedKey(repo, "cwh_billed_narrow", []string{"calculate:read"}, 60)
	suspended := seedKey(repo, "cwh_billed_suspended", []string{"*"}, 60)
	suspended.Status = model.APIKeyStatusSuspended

	svc := NewAPIKeyService(repo, time.Minute, nil)

	if _, err := svc.Authorize(context.Background(), "cwh_billed_limited", "redeem:write"); err != nil {
		t.Fatalf("request inside limit rejected: %v", err)
	}
	dev, err := svc.Authorize(context.Background(), "cwh_billed_limited", "redeem:write")
	var rateErr *RateLimitError
	if !errors.As(err, &rateErr) {
		t.Fatalf("error = %v, want RateLimitError", err)
	}
	if dev == nil || dev.KeyID != limited.ID {
		t.Fatalf("rate-limited caller context = %+v, want key %s", dev, limited.ID)
	}

	dev, err = svc.Authorize(context.Background(), "cwh_billed_narrow", "redeem:write")
	if !errors.Is(err, ErrKeyForbidden) {
		t.Fatalf("error = %v, want ErrKeyForbidden", err)
	}
	if dev == nil || dev.KeyID != narrow.ID {
		t.Fatalf("forbidden caller context = %+v, want key %s", dev, narrow.ID)
	}

	dev, err = svc.Authorize(context.Background(), "cwh_billed_suspended", "redeem:write")
	if !errors.Is(err, ErrKeyForbidden) {
		t.Fatalf("error = %v, want ErrKeyForbidden", err)
	}
	if dev == nil || dev.KeyID != suspended.ID {
		t.Fatalf("suspended caller context = %+v, want key %s", dev, suspended.ID)
	}

	if dev, err = svc.Authorize(context.Background(), "cwh_billed_unknown", "redeem:write"); !errors.Is(err, ErrKeyUnauthorized) || dev != nil {
		t.Fatalf("unknown key = (%+v, %v), want (nil, ErrKeyUnauthorized)", dev, err)
	}
}

func TestAuthorize_RemainingReported(t *testing.T) {
	t.Parallel()

	repo := newFakeKeyRepo()
	seedKey(repo, "cwh_counted", []string{"*"}, 5)

	svc := NewAPIKeyService(repo, time.Minute, nil)

	dev, err := svc.Authorize(context.Background(), "cwh_counted", "redeem:write")
	if err != nil {
		t.Fatalf("Authorize returned error: %v", err)
	}
	if dev.Remaining != 4 {
		t.Fatalf("remaining = %d, want 4", dev.Remaining)
	}
	if repo.touched != 1 {
		t.Fatalf("last_used touched %d times, want 1", repo.touched)
	}
}

func TestAuthenticate_SkipsWindow(t *testing.T) {
	t.Parallel()

	repo := newFakeKeyRepo()
	seedKey(repo, "cwh_health", []string{"*"}, 1)

	svc := NewAPIKeyService(repo, time.Minute, nil)

	for i := 0; i < 5; i++ {
		if _, err := svc.Authenticate(context.Background(), "cwh_health"); err != nil {
			t.Fatalf("Authenticate %d returned error: %v", i+1, err)
		}
	}
	if repo.count != 0 {
		t.Fatalf("window count = %d, want 0 after authenticate-only calls", repo.count)
	}
}

func TestCreate_ReturnsRawKeyOnce(t *testing.T) {
	t.Parallel()

	repo := newFakeKeyRepo()
	svc := NewAPIKeyService(repo, time.Minute, nil)

	key, raw, err := svc.Create(context.Background(), CreateKeyRequest{
		DeveloperID: uuid.New(),
		Name:        "dashboard",
		Scopes:      []string{"redeem:write", " redeem:read "},
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if !strings.HasPrefix(raw, "cwh_") {
		t.Fatalf("raw key %q missing prefix", raw)
	}
	if key.KeyHash != HashKey(raw) {
		t.Fatal("stored hash must be the digest of the raw key")
	}
	if key.KeyHash == raw {
		t.Fatal("raw key must never be stored")
	}
	if key.RateLimitPerMinute != 60 {
		t.Fatalf("default rate limit = %d, want 60", key.RateLimitPerMinute)
	}
	if len(key.Scopes) != 2 || key.Scopes[1] != "redeem:read" {
		t.Fatalf("scopes not trimmed: %v", key.Scopes)
	}
}

func TestCreate_RejectsInvalidInput(t *testing.T) {
	t.Parallel()

	svc := NewAPIKeyService(newFakeKeyRepo(), time.Minute, nil)

	cases := []CreateKeyRequest{
		{DeveloperID: uuid.Nil, Name: "x", Scopes: []string{"*"}},
		{DeveloperID: uuid.New(), Name: "  ", Scopes: []string{"*"}},
		{DeveloperID: uuid.New(), Name: "x", Scopes: nil},
		{DeveloperID: uuid.New(), Name: "x", Scopes: []string{"  "}},
	}
	for i, req := range cases {
		if _, _, err := svc.Create(context.Background(), req); !errors.Is(err, ErrInvalidKeyInput) {
			t.Fatalf("case %d error = %v, want ErrInvalidKeyInput", i, err)
		}
	}
}

func TestUpdateStatus_Validation(t *testing.T) {
	t.Parallel()

	repo := newFakeKeyRepo()
	key := seedKey(repo, "cwh_status", []string{"*"}, 60)

	svc := NewAPIKeyService(repo, time.Minute, nil)

	if err := svc.UpdateStatus(context.Background(), key.ID, "frozen"); !errors.Is(err, ErrInvalidKeyInput) {
		t.Fatalf("unknown status error = %v, want ErrInvalidKeyInput", err)
	}
	if err := svc.UpdateStatus(context.Background(), uuid.New(), model.APIKeyStatusRevoked); !errors.Is(err, ErrKeyUnauthorized) {
		t.Fatalf("missing key error = %v, want ErrKeyUnauthorized", err)
	}
	if err := svc.UpdateStatus(context.Background(), key.ID, model.APIKeyStatusRevoked); err != nil {
		t.Fatalf("UpdateStatus returned error: %v", err)
	}
	if key.Status != model.APIKeyStatusRevoked {
		t.Fatalf("status = %s, want revoked", key.Status)
	}
}

func TestHasScope_Wildcards(t *testing.T) {
	t.Parallel()

	cases := []struct {
		scopes   []string
		required string
		want     bool
	}{
		{[]string{"redeem:write"}, "redeem:write", true},
		{[]string{"REDEEM:WRITE"}, "redeem:write", true},
		{[]string{"redeem:write"}, "redeem:read", false},
		{[]string{"*"}, "admin:keys", true},
		{[]string{"admin:*"}, "admin:codes", true},
		{[]string{"admin:*"}, "admin:keys", true},
		{[]string{"admin:*"}, "admin:usage", true},
		{[]string{"ADMIN:*"}, "admin:codes", true},
		{[]string{"admin:*"}, "redeem:write", false},
		{[]string{"admin:*"}, "administrator", false},
		{[]string{"admin.*"}, "admin.keys", true},
		{[]string{"admin.*"}, "calculate.read", false},
		{nil, "redeem:write", false},
		{[]string{""}, "redeem:write", false},
		{[]string{"redeem:write"}, "", true},
	}

	for i, tc := range cases {
		if got := hasScope(tc.scopes, tc.required); got != tc.want {
			t.Fatalf("case %d: hasScope(%v, %q) = %v, want %v", i, tc.scopes, tc.required, got, tc.want)
		}
	}
}
