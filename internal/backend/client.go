// Package backend is a client of the portal's REST API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/conseiller-portal/messagerie/internal/model"
	"github.com/conseiller-portal/messagerie/pkg/logger"
)

var (
	// ErrNotificationDelivery wraps failures of the beneficiary notification call.
	ErrNotificationDelivery = errors.New("notification delivery failed")
	// ErrAnalyticsPost wraps failures of the audit event post.
	ErrAnalyticsPost = errors.New("evenement post failed")
	// ErrNotFound is returned when the backend answers 404.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is returned when the backend rejects the access token.
	ErrUnauthorized = errors.New("unauthorized")
)

const maxErrorBody = 512

// StatusError is a non-2xx backend response.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend %s %s returned %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Unwrap maps well-known statuses to sentinel errors.
func (e *StatusError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	}
	return nil
}

// Client calls the backend on behalf of an authenticated counsellor.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logger.Logger
}

// NewClient creates a backend client rooted at baseURL.
func NewClient(baseURL string, timeout time.Duration, log *logger.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: log.Named("backend"),
	}
}

// GetChatCredentials exchanges the counsellor's access token for the chat
// store token and the shared encryption key.
func (c *Client) GetChatCredentials(ctx context.Context, accessToken string) (model.ChatCredentials, error) {
	var creds model.ChatCredentials
	if err := c.do(ctx, http.MethodPost, "/auth/firebase/token", accessToken, nil, &creds); err != nil {
		return model.ChatCredentials{}, fmt.Errorf("failed to get chat credentials: %w", err)
	}
	if creds.Key == "" {
		return model.ChatCredentials{}, fmt.Errorf("failed to get chat credentials: empty key")
	}
	return creds, nil
}

type notifyMessagesRequest struct {
	IDsJeunes []string `json:"idsJeunes"`
}

// NotifyMessages asks the backend to push a new-message notification to each
// beneficiary.
func (c *Client) NotifyMessages(ctx context.Context, counsellorID string, beneficiaryIDs []string, accessToken string) error {
	path := "/conseillers/" + url.PathEscape(counsellorID) + "/jeunes/notify-messages"
	if err := c.do(ctx, http.MethodPost, path, accessToken, notifyMessagesRequest{IDsJeunes: beneficiaryIDs}, nil); err != nil {
		return fmt.Errorf("%w: %w", ErrNotificationDelivery, err)
	}
	return nil
}

// PostEvenement records an audit event.
func (c *Client) PostEvenement(ctx context.Context, evt model.Evenement, accessToken string) error {
	if err := c.do(ctx, http.MethodPost, "/evenements", accessToken, evt, nil); err != nil {
		return fmt.Errorf("%w: %w", ErrAnalyticsPost, err)
	}
	return nil
}

// GetBeneficiaire reads the static identity of a beneficiary.
func (c *Client) GetBeneficiaire(ctx context.Context, beneficiaryID, accessToken string) (model.Beneficiaire, error) {
	var b model.Beneficiaire
	if err := c.do(ctx, http.MethodGet, "/jeunes/"+url.PathEscape(beneficiaryID), accessToken, nil, &b); err != nil {
		return model.Beneficiaire{}, fmt.Errorf("failed to get beneficiaire: %w", err)
	}
	if b.ID == "" {
		b.ID = beneficiaryID
	}
	return b, nil
}

// do sends a JSON request with the counsellor's bearer token and decodes the
// response into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path, accessToken string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Debug("Backend call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       string(excerpt),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
