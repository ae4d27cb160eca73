package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	NotificationCodeRedeemed     = "code.redeemed"
	NotificationBalanceMilestone = "balance.milestone"
)

// NotificationService forwards redemption events to the external
// dispatcher. The dispatcher itself is out of scope; this client is
// fire-and-forget and never blocks the redemption path.
type NotificationService struct {
	webhookURL string
	client     *http.Client
	logger     *zap.Logger
}

func NewNotificationService(webhookURL string, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &NotificationService{
		webhookURL: strings.TrimSpace(webhookURL),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

func (s *NotificationService) Dispatch(ctx context.Context, kind string, payload any) error {
	if s.webhookURL == "" {
		s.logger.Debug("notification dispatcher not configured, dropping event",
			zap.String("kind", kind),
		)
		return nil
	}

	body, err := json.Marshal(map[string]any{
		"event":   kind,
		"payload": payload,
		"sent_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification dispatcher returned status %d", resp.StatusCode)
	}
	return nil
}
