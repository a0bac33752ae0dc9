package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Registrar manages push subscriptions with an external webhook service.
// The service pings our callback URL whenever a subscribed feed publishes.
type Registrar struct {
	client  *http.Client
	baseURL string
	secret  string
}

// NewRegistrar creates a registrar for the webhook service at baseURL.
func NewRegistrar(baseURL, secret string) *Registrar {
	return &Registrar{
		client:  &http.Client{Timeout: 15 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
	}
}

type registerRequest struct {
	FeedURL     string `json:"feed_url"`
	CallbackURL string `json:"callback_url"`
	Secret      string `json:"secret,omitempty"`
}

type registerResponse struct {
	ID string `json:"id"`
}

// Register subscribes feedURL with the service, asking it to ping
// callbackURL on new content. Returns the service-issued subscription id.
func (r *Registrar) Register(ctx context.Context, feedURL, callbackURL string) (string, error) {
	body, err := json.Marshal(registerRequest{
		FeedURL:     feedURL,
		CallbackURL: callbackURL,
		Secret:      r.secret,
	})
	if err != nil {
		return "", fmt.Errorf("encode register request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		r.baseURL+"/subscriptions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create register request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("register webhook for %s: %w", feedURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("webhook service returned status %d", resp.StatusCode)
	}

	var out registerResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode register response: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("webhook service returned empty subscription id")
	}
	return out.ID, nil
}

// Unregister removes a subscription. Reports whether the service confirmed
// the removal; a missing subscription counts as removed.
func (r *Registrar) Unregister(ctx context.Context, webhookID string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		r.baseURL+"/subscriptions/"+url.PathEscape(webhookID), nil)
	if err != nil {
		return false, fmt.Errorf("create unregister request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("unregister webhook %s: %w", webhookID, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return true, nil
	default:
		log.Warn().Str("webhook_id", webhookID).Int("status", resp.StatusCode).
			Msg("webhook service refused unregister")
		return false, nil
	}
}

// CallbackURL derives the public callback endpoint from the application
// base URL.
func CallbackURL(appBaseURL string) (string, error) {
	u, err := url.Parse(appBaseURL)
	if err != nil {
		return "", fmt.Errorf("parse application base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("application base URL %q must be absolute", appBaseURL)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/webhook"
	return u.String(), nil
}
