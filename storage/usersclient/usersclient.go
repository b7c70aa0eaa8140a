// Package usersclient is the HTTP client for the external Users store's
// administrative API: login/logout/OTP delegation and the auth_events
// projection endpoint the outbox forwarder calls.
package usersclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to the Users store's admin API over plain HTTP(S), using a
// service-role credential shared out-of-band.
type Client struct {
	baseURL        string
	serviceRoleKey string
	httpClient     *http.Client
}

func New(baseURL, serviceRoleKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: baseURL, serviceRoleKey: serviceRoleKey, httpClient: httpClient}
}

// APIError is returned when the Users store responds with a non-2xx
// status; Status carries the HTTP code so callers can map it to their own
// error envelope.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("usersclient: status %d: %s", e.Status, e.Body)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.serviceRoleKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Body: string(b)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// LoginRequest/LoginResult delegate password-based login to the Users
// store, which owns credential storage; the gateway never sees a password
// hash.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResult struct {
	Subject string `json:"subject"`
}

func (c *Client) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	var out LoginResult
	err := c.do(ctx, http.MethodPost, "/internal/auth/login", req, &out)
	return out, err
}

func (c *Client) Logout(ctx context.Context, subject string) error {
	return c.do(ctx, http.MethodPost, "/internal/auth/logout", map[string]string{"subject": subject}, nil)
}

type OTPSendRequest struct {
	Email string `json:"email"`
}

func (c *Client) SendOTP(ctx context.Context, req OTPSendRequest) error {
	return c.do(ctx, http.MethodPost, "/internal/auth/otp/send", req, nil)
}

type OTPVerifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func (c *Client) VerifyOTP(ctx context.Context, req OTPVerifyRequest) (LoginResult, error) {
	var out LoginResult
	err := c.do(ctx, http.MethodPost, "/internal/auth/otp/verify", req, &out)
	return out, err
}

func (c *Client) ResendOTP(ctx context.Context, req OTPSendRequest) error {
	return c.do(ctx, http.MethodPost, "/internal/auth/otp/resend", req, nil)
}

// AuthEvent is the shape projected into the Users store's auth_events
// read model by the outbox forwarder.
type AuthEvent struct {
	EventID      string          `json:"event_id"`
	AggregateID  string          `json:"aggregate_id"`
	Version      int64           `json:"version"`
	EventType    string          `json:"event_type"`
	Payload      json.RawMessage `json:"payload"`
	OccurredAt   time.Time       `json:"occurred_at"`
}

// UpsertAuthEvent projects one event. Upserting by EventID makes delivery
// idempotent: the forwarder retries the same payload on any transport
// failure without risk of double-application on the Users-store side.
func (c *Client) UpsertAuthEvent(ctx context.Context, e AuthEvent) error {
	return c.do(ctx, http.MethodPut, "/internal/auth-events/"+e.EventID, e, nil)
}
