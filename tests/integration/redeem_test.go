//go:build integration

package integration

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/KingMansaMusaMarketplace/circulate-black-wealth-hub-sub011/internal/service"
)

func TestRedeem_CreditsBalanceAndAppendsLedger(t *testing.T) {
	env := getEnv(t)
	code := generateCode(t, 150, nil, nil)
	callerID := uuid.New()

	result, err := env.redemptionSvc.Redeem(context.Background(), code.ID, callerID)
	if err != nil {
		t.Fatalf("redeem failed: %v", err)
	}
	if result.PointsEarned != 150 {
		t.Fatalf("points earned = %d, want 150", result.PointsEarned)
	}

	balance, err := env.redemptionSvc.Balance(context.Background(), callerID, code.IssuerID)
	if err != nil {
		t.Fatalf("balance lookup failed: %v", err)
	}
	if balance.Points != 150 {
		t.Fatalf("balance = %d, want 150", balance.Points)
	}

	if total := scanEventCount(t, code.ID); total != 1 {
		t.Fatalf("scan events = %d, want 1", total)
	}

	history, total, err := env.redemptionSvc.ListScanHistory(context.Background(), callerID, 1, 20)
	if err != nil {
		t.Fatalf("list history failed: %v", err)
	}
	if total != 1 || len(history) != 1 {
		t.Fatalf("history total=%d len=%d, want 1/1", total, len(history))
	}
	if history[0].CodeID != code.ID || history[0].PointsAwarded != 150 {
		t.Fatalf("unexpected ledger row: %+v", history[0])
	}
}

func TestRedeem_ConcurrentCallersRespectScanLimit(t *testing.T) {
	env := getEnv(t)

	limit := 5
	code := generateCode(t, 40, &limit, nil)

	const workers = 25
	callerIDs := make([]uuid.UUID, 0, workers)
	for i := 0; i < workers; i++ {
		callerIDs = append(callerIDs, uuid.New())
	}

	var successCount int32
	var limitCount int32
	var wg sync.WaitGroup
	for _, callerID := range callerIDs {
		wg.Add(1)
		go func(caller uuid.UUID) {
			defer wg.Done()
			_, err := env.redemptionSvc.Redeem(context.Background(), code.ID, caller)
			switch {
			case err == nil:
				atomic.AddInt32(&successCount, 1)
			case errors.Is(err, service.ErrCodeLimitExceeded):
				atomic.AddInt32(&limitCount, 1)
			default:
				t.Errorf("unexpected redeem error: %v", err)
			}
		}(callerID)
	}
	wg.Wait()

	if successCount != int32(limit) {
		t.Fatalf("successes = %d, want exactly %d", successCount, limit)
	}
	if limitCount != int32(workers-limit) {
		t.Fatalf("limit rejections = %d, want %d", limitCount, workers-limit)
	}

	var scanCount int
	if err := env.pool.QueryRow(
		context.Background(),
		`SELECT scan_count FROM codes WHERE id = $1`,
		code.ID,
	).Scan(&scanCount); err != nil {
		t.Fatalf("read scan_count: %v", err)
	}
	if scanCount != limit {
		t.Fatalf("scan_count = %d, want %d", scanCount, limit)
	}

	if total := scanEventCount(t, code.ID); total != int64(limit) {
		t.Fatalf("scan events = %d, want %d", total, limit)
	}

	var pointsTotal int64
	if err := env.pool.QueryRow(
		context.Background(),
		`SELECT COALESCE(SUM(points), 0) FROM point_balances WHERE issuer_id = $1`,
		code.IssuerID,
	).Scan(&pointsTotal); err != nil {
		t.Fatalf("sum balances: %v", err)
	}
	if pointsTotal != int64(limit*40) {
		t.Fatalf("credited points = %d, want %d", pointsTotal, limit*40)
	}
}

func TestRedeem_PreconditionErrors(t *testing.T) {
	env := getEnv(t)
	ctx := context.Background()
	callerID := uuid.New()

	if _, err := env.redemptionSvc.Redeem(ctx, uuid.New(), callerID); !errors.Is(err, service.ErrCodeNotFound) {
		t.Fatalf("unknown code error = %v, want ErrCodeNotFound", err)
	}

	inactive := generateCode(t, 10, nil, nil)
	if err := env.redemptionSvc.SetActive(ctx, []uuid.UUID{inactive.ID}, false); err != nil {
		t.Fatalf("deactivate code: %v", err)
	}
	if _, err := env.redemptionSvc.Redeem(ctx, inactive.ID, callerID); !errors.Is(err, service.ErrCodeInactive) {
		t.Fatalf("inactive code error = %v, want ErrCodeInactive", err)
	}

	past := time.Now().UTC().Add(time.Second)
	expired := generateCode(t, 10, nil, &past)
	time.Sleep(1100 * time.Millisecond)
	if _, err := env.redemptionSvc.Redeem(ctx, expired.ID, callerID); !errors.Is(err, service.ErrCodeExpired) {
		t.Fatalf("expired code error = %v, want ErrCodeExpired", err)
	}

	one := 1
	exhausted := generateCode(t, 10, &one, nil)
	if _, err := env.redemptionSvc.Redeem(ctx, exhausted.ID, callerID); err != nil {
		t.Fatalf("first redeem failed: %v", err)
	}
	if _, err := env.redemptionSvc.Redeem(ctx, exhausted.ID, uuid.New()); !errors.Is(err, service.ErrCodeLimitExceeded) {
		t.Fatalf("exhausted code error = %v, want ErrCodeLimitExceeded", err)
	}

	if _, err := env.redemptionSvc.Redeem(ctx, generateCode(t, 10, nil, nil).ID, uuid.Nil); !errors.Is(err, service.ErrCallerUnauthorized) {
		t.Fatalf("nil caller error = %v, want ErrCallerUnauthorized", err)
	}
}

// A caller that redeems the same code twice is charged twice. There is no
// idempotency key on the redeem path; this pins the current behavior so a
// future dedupe mechanism shows up as a deliberate change.
func TestRedeem_SameCallerTwiceCreditsTwice(t *testing.T) {
	env := getEnv(t)
	code := generateCode(t, 30, nil, nil)
	callerID := uuid.New()

	for i := 0; i < 2; i++ {
		if _, err := env.redemptionSvc.Redeem(context.Background(), code.ID, callerID); err != nil {
			t.Fatalf("redeem %d failed: %v", i+1, err)
		}
	}

	balance, err := env.redemptionSvc.Balance(context.Background(), callerID, code.IssuerID)
	if err != nil {
		t.Fatalf("balance lookup failed: %v", err)
	}
	if balance.Points != 60 {
		t.Fatalf("balance = %d, want 60 (two separate credits)", balance.Points)
	}
	if total := scanEventCount(t, code.ID); total != 2 {
		t.Fatalf("scan events = %d, want 2", total)
	}
}

func TestRedeemEndpoint_ErrorMapping(t *testing.T) {
	_, rawKey := createAPIKey(t, []string{"redeem:write"}, 600)

	rec := doRequest(t, http.MethodPost, "/api/v1/redeem", rawKey, map[string]any{
		"codeId":   uuid.New().String(),
		"callerId": uuid.New().String(),
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown code status = %d, want 404 (%s)", rec.Code, rec.Body.String())
	}

	one := 1
	code := generateCode(t, 10, &one, nil)
	first := doRequest(t, http.MethodPost, "/api/v1/redeem", rawKey, map[string]any{
		"codeId":   code.ID.String(),
		"callerId": uuid.New().String(),
	})
	if first.Code != http.StatusOK {
		t.Fatalf("first redeem status = %d (%s)", first.Code, first.Body.String())
	}

	second := doRequest(t, http.MethodPost, "/api/v1/redeem", rawKey, map[string]any{
		"codeId":   code.ID.String(),
		"callerId": uuid.New().String(),
	})
	if second.Code != http.StatusConflict {
		t.Fatalf("exhausted code status = %d, want 409 (%s)", second.Code, second.Body.String())
	}
}
