package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aurora-insure/concierge/internal/tools"
	"github.com/aurora-insure/concierge/pkg/logging"
)

// CheckoutRequest describes a premium to collect.
type CheckoutRequest struct {
	QuoteID       string         `json:"quote_id"`
	PlanCode      string         `json:"plan_code"`
	Amount        int64          `json:"amount"`
	Currency      string         `json:"currency"`
	CustomerEmail string         `json:"customer_email,omitempty"`
	SuccessURL    string         `json:"success_url"`
	CancelURL     string         `json:"cancel_url"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// CheckoutSession is the hosted payment page the traveller is sent to.
type CheckoutSession struct {
	Provider    string `json:"provider"`
	SessionID   string `json:"session_id"`
	CheckoutURL string `json:"checkout_url"`
}

// PaymentStatus is the state of a checkout session.
type PaymentStatus struct {
	SessionID     string `json:"session_id"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
}

// Gateway is what the checkout and status tools depend on.
type Gateway interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	FetchStatus(ctx context.Context, sessionID string) (*PaymentStatus, error)
}

// HTTPGateway fronts the payments service that owns the provider
// integration. Creating a session for the same quote twice returns the same
// session; the service keys on quote_id.
type HTTPGateway struct {
	baseURL    string
	successURL string
	cancelURL  string
	httpClient *http.Client
	logger     *logging.Logger
}

var _ Gateway = (*HTTPGateway)(nil)

// NewHTTPGateway builds a gateway for the payments service.
func NewHTTPGateway(baseURL, successURL, cancelURL string, logger *logging.Logger) (*HTTPGateway, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("payments: base URL is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &HTTPGateway{
		baseURL:    strings.TrimRight(baseURL, "/"),
		successURL: successURL,
		cancelURL:  cancelURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger.Component("payments"),
	}, nil
}

// CreateCheckout opens a hosted checkout session for the premium.
func (g *HTTPGateway) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if strings.TrimSpace(req.QuoteID) == "" {
		return nil, &tools.InvalidInputError{Reason: "quote_id is required"}
	}
	if req.Amount <= 0 {
		return nil, &tools.InvalidInputError{Reason: "amount must be positive"}
	}
	if req.SuccessURL == "" {
		req.SuccessURL = g.successURL
	}
	if req.CancelURL == "" {
		req.CancelURL = g.cancelURL
	}
	if req.Currency == "" {
		req.Currency = "SGD"
	}
	if req.Metadata == nil {
		req.Metadata = map[string]any{}
	}
	req.Metadata["quote_id"] = req.QuoteID

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("payments: failed to encode checkout request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/payments/session", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("payments: failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("payments: service unreachable: %w", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, &tools.RejectedError{Reason: fmt.Sprintf("payments service returned %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("payments: service returned %d", resp.StatusCode)
	}

	var session CheckoutSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("payments: service returned invalid JSON: %w", err)
	}
	if session.SessionID == "" || session.CheckoutURL == "" {
		return nil, fmt.Errorf("payments: service response missing session fields")
	}
	if session.Provider == "" {
		session.Provider = "stripe"
	}

	g.logger.Info("checkout session created", "quote_id", req.QuoteID, "session_id", session.SessionID)
	return &session, nil
}

// FetchStatus looks up the state of a checkout session.
func (g *HTTPGateway) FetchStatus(ctx context.Context, sessionID string) (*PaymentStatus, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, &tools.InvalidInputError{Reason: "checkout_ref is required"}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/payments/session/"+sessionID, nil)
	if err != nil {
		return nil, fmt.Errorf("payments: failed to build request: %w", err)
	}

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("payments: service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, &tools.NotFoundError{What: fmt.Sprintf("payment session %s", sessionID)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("payments: service returned %d", resp.StatusCode)
	}

	var status PaymentStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("payments: service returned invalid JSON: %w", err)
	}
	if status.SessionID == "" {
		status.SessionID = sessionID
	}
	return &status, nil
}
