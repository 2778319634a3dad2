// Package alert delivers exception notifications to the outbound channel.
// Delivery is best effort; failures are logged and retried by the MQ layer,
// never surfaced back into walker processing.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"graphminer/internal/model"
)

// Alerter notifies a user about an exception.
type Alerter interface {
	Notify(ctx context.Context, userID int64, exc *model.Exception) error
}

// WebhookAlerter posts exception alerts to a configured webhook.
type WebhookAlerter struct {
	webhookURL string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewWebhookAlerter(webhookURL string, logger *zap.Logger) *WebhookAlerter {
	return &WebhookAlerter{
		webhookURL: webhookURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		logger: logger,
	}
}

func (a *WebhookAlerter) Notify(ctx context.Context, userID int64, exc *model.Exception) error {
	body := map[string]any{
		"user_id":      userID,
		"exception_id": exc.ID,
		"session_id":   exc.SessionID,
		"type":         exc.Type,
		"severity":     exc.Severity,
		"message":      exc.Message,
		"item_text":    exc.ItemText,
	}

	b, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.webhookURL, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("alert webhook returned %d", resp.StatusCode)
	}

	a.logger.Info("Alert delivered",
		zap.Int64("user_id", userID),
		zap.Int64("exception_id", exc.ID),
		zap.String("severity", string(exc.Severity)),
	)
	return nil
}

// LogAlerter writes alerts to the log only. Used when no webhook is configured.
type LogAlerter struct {
	logger *zap.Logger
}

func NewLogAlerter(logger *zap.Logger) *LogAlerter {
	return &LogAlerter{logger: logger}
}

func (a *LogAlerter) Notify(ctx context.Context, userID int64, exc *model.Exception) error {
	a.logger.Warn("Exception alert",
		zap.Int64("user_id", userID),
		zap.Int64("exception_id", exc.ID),
		zap.Int64("session_id", exc.SessionID),
		zap.String("type", string(exc.Type)),
		zap.String("severity", string(exc.Severity)),
		zap.String("message", exc.Message),
	)
	return nil
}
