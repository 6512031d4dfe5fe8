// Package identity talks to the external identity service that validates
// handshake tokens and resolves them to stable player identities.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"github.com/trackmania-bingo/bingoserver/internal/v1/metrics"
	"github.com/trackmania-bingo/bingoserver/internal/v1/types"
)

// identityResponse mirrors the identity service's success payload.
type identityResponse struct {
	AccountID   string `json:"account_id"`
	DisplayName string `json:"display_name"`
	Error       string `json:"error"`
}

// Client validates opaque handshake tokens against the external identity
// service over HTTP, guarded by a circuit breaker so a flapping service
// degrades to fast failures instead of hanging connections. Implements
// types.IdentityValidator.
type Client struct {
	baseURL      string
	serverSecret string
	httpClient   *http.Client
	cb           *gobreaker.CircuitBreaker
}

var _ types.IdentityValidator = (*Client)(nil)

// NewClient creates an identity service client. baseURL is the service's
// base address; serverSecret is forwarded on every validation call.
func NewClient(baseURL, serverSecret string, timeout time.Duration) *Client {
	st := gobreaker.Settings{
		Name:        "identity",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("identity").Set(stateVal)
		},
	}

	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		serverSecret: serverSecret,
		httpClient:   &http.Client{Timeout: timeout},
		cb:           gobreaker.NewCircuitBreaker(st),
	}
}

// Validate exchanges an opaque handshake token for a player identity.
// Returns an error for any transport, protocol, or identity-service-refused
// outcome; callers are responsible for mapping that to the handshake's
// AuthFailure/AuthRefused outcome codes.
func (c *Client) Validate(ctx context.Context, token string) (types.PlayerIDType, types.DisplayNameType, error) {
	result, err := c.cb.Execute(func() (interface{}, error) {
		return c.validate(ctx, token)
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("identity").Inc()
		}
		return "", "", err
	}

	resp := result.(identityResponse)
	if resp.Error != "" {
		return "", "", &RefusedError{Reason: resp.Error}
	}

	return types.PlayerIDType(resp.AccountID), types.DisplayNameType(resp.DisplayName), nil
}

func (c *Client) validate(ctx context.Context, token string) (identityResponse, error) {
	form := url.Values{
		"token":  {token},
		"secret": {c.serverSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/validate", strings.NewReader(form.Encode()))
	if err != nil {
		return identityResponse{}, fmt.Errorf("build identity request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return identityResponse{}, fmt.Errorf("identity request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return identityResponse{}, fmt.Errorf("read identity response: %w", err)
	}

	var parsed identityResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return identityResponse{}, fmt.Errorf("decode identity response: %w", err)
	}

	return parsed, nil
}

// RefusedError represents an explicit error payload returned by the
// identity service (as opposed to a transport failure).
type RefusedError struct {
	Reason string
}

func (e *RefusedError) Error() string {
	return fmt.Sprintf("identity service refused: %s", e.Reason)
}
