package service

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultHTTPStatusThreshold = 300
	alertTimeout               = 5 * time.Second

	EventRefreshTokenReuse = "refresh_token_reuse"
)

type TokenReuseEvent struct {
	UserID        uuid.UUID
	RevokedTokens int64
	OccurredAt    time.Time
}

type alertPayload struct {
	Event         string    `json:"event"`
	UserID        string    `json:"user_id"`
	RevokedTokens int64     `json:"revoked_tokens"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// AlertService posts security events to a webhook in the background.
type AlertService struct {
	client     *http.Client
	log        *zap.SugaredLogger
	webhookURL string
	wg         sync.WaitGroup
}

func NewAlertService(log *zap.SugaredLogger, webhookURL string) *AlertService {
	return &AlertService{
		client:     &http.Client{Timeout: alertTimeout},
		log:        log,
		webhookURL: webhookURL,
	}
}

func (s *AlertService) NotifyTokenReuse(ctx context.Context, event TokenReuseEvent) {
	s.log.Warnw("security alert",
		"event", EventRefreshTokenReuse,
		"userID", event.UserID,
		"revokedTokens", event.RevokedTokens,
	)
	if s.webhookURL == "" {
		return
	}

	payload, err := json.Marshal(alertPayload{
		Event:         EventRefreshTokenReuse,
		UserID:        event.UserID.String(),
		RevokedTokens: event.RevokedTokens,
		OccurredAt:    event.OccurredAt.UTC(),
	})
	if err != nil {
		s.log.Errorw("failed to marshal alert payload", "error", err)
		return
	}

	// The request outlives the caller's request context.
	bg := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		reqCtx, cancel := context.WithTimeout(bg, alertTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, s.webhookURL, bytes.NewReader(payload))
		if err != nil {
			s.log.Errorw("failed to create alert request", "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			s.log.Errorw("failed to send alert", "error", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode >= defaultHTTPStatusThreshold {
			s.log.Warnw("alert webhook returned non-2xx status", "status", resp.StatusCode)
		}
	}()
}

// Wait blocks until in-flight alerts are delivered or have failed.
func (s *AlertService) Wait() {
	s.wg.Wait()
}
