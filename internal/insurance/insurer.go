package insurance

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

// QuoteOffer is one plan offer returned by the insurer's pricing endpoint.
type QuoteOffer struct {
	OfferID  string  `json:"offerId"`
	PlanCode string  `json:"planCode"`
	PlanName string  `json:"planName"`
	Currency string  `json:"currency"`
	Premium  float64 `json:"premium"`
}

// Quote is the insurer's priced response for a trip.
type Quote struct {
	QuoteID string       `json:"quoteId"`
	Market  string       `json:"market"`
	Offers  []QuoteOffer `json:"offers"`
}

// QuoteRequest describes the trip to price.
type QuoteRequest struct {
	TripType         string `json:"trip_type"`
	DepartureDate    string `json:"departure_date"`
	ReturnDate       string `json:"return_date"`
	DepartureCountry string `json:"departure_country"`
	ArrivalCountry   string `json:"arrival_country"`
	AdultsCount      int    `json:"adults_count"`
	ChildrenCount    int    `json:"children_count"`
}

// PurchaseRequest issues a policy against a priced quote after payment.
type PurchaseRequest struct {
	QuoteID       string `json:"quote_id"`
	OfferID       string `json:"offer_id"`
	TravellerName string `json:"traveller_name"`
	EmailAddress  string `json:"email_address"`
	PhoneNumber   string `json:"phone_number,omitempty"`
	PassportNo    string `json:"passport_number,omitempty"`
}

// PurchaseResult is the issued policy reference.
type PurchaseResult struct {
	PolicyRef string `json:"policy_ref"`
	QuoteID   string `json:"quote_id"`
	Status    string `json:"status"`
}

// InsurerClient talks to the underwriting partner's pricing and purchase
// API. A 4xx from the partner is a definitive rejection; network failures
// and 5xx stay ambiguous from the caller's point of view.
type InsurerClient struct {
	baseURL    string
	apiKey     string
	market     string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewInsurerClient builds a client for the partner API.
func NewInsurerClient(baseURL, apiKey, market string, logger *logging.Logger) (*InsurerClient, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("insurance: insurer base URL is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if market == "" {
		market = "SG"
	}
	return &InsurerClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		market:     strings.ToUpper(market),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger.Component("insurer"),
	}, nil
}

// Quote prices a trip with the partner.
func (c *InsurerClient) Quote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	body := map[string]any{
		"market":       c.market,
		"languageCode": "en",
		"channel":      "white-label",
		"context": map[string]any{
			"tripType":         normalizeTripType(req.TripType),
			"departureDate":    req.DepartureDate,
			"returnDate":       req.ReturnDate,
			"departureCountry": req.DepartureCountry,
			"arrivalCountry":   req.ArrivalCountry,
			"adultsCount":      max(req.AdultsCount, 1),
			"childrenCount":    req.ChildrenCount,
		},
	}

	var quote Quote
	if err := c.post(ctx, "/pricing", body, &quote); err != nil {
		return nil, err
	}
	c.logger.Info("quote priced", "quote_id", quote.QuoteID, "offers", len(quote.Offers))
	return &quote, nil
}

// Purchase issues the policy for a priced quote.
func (c *InsurerClient) Purchase(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error) {
	if strings.TrimSpace(req.QuoteID) == "" {
		return nil, &tools.InvalidInputError{Reason: "quote_id is required"}
	}
	body := map[string]any{
		"quoteId": req.QuoteID,
		"purchaseOffers": []map[string]any{
			{"offerId": req.OfferID},
		},
		"insureds": []map[string]any{
			{"name": req.TravellerName, "passportNumber": req.PassportNo},
		},
		"mainContact": map[string]any{
			"name":  req.TravellerName,
			"email": req.EmailAddress,
			"phone": req.PhoneNumber,
		},
	}

	var result PurchaseResult
	if err := c.post(ctx, "/purchase", body, &result); err != nil {
		return nil, err
	}
	if result.QuoteID == "" {
		result.QuoteID = req.QuoteID
	}
	c.logger.Info("policy issued", "quote_id", result.QuoteID, "policy_ref", result.PolicyRef)
	return &result, nil
}

func (c *InsurerClient) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("insurance: failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("insurance: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("insurance: partner API unreachable: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("insurance: failed to read partner response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &tools.NotFoundError{What: fmt.Sprintf("partner resource at %s", path)}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return &tools.RejectedError{Reason: fmt.Sprintf("partner returned %d: %s", resp.StatusCode, previewBody(data))}
	case resp.StatusCode >= 500:
		return fmt.Errorf("insurance: partner returned %d: %s", resp.StatusCode, previewBody(data))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("insurance: partner returned invalid JSON: %w", err)
	}
	return nil
}

func normalizeTripType(tripType string) string {
	switch strings.ToUpper(strings.TrimSpace(tripType)) {
	case "RT", "ROUND", "ROUND-TRIP", "ANNUAL", "MULTI":
		return "RT"
	default:
		return "ST"
	}
}

func previewBody(data []byte) string {
	const limit = 300
	s := strings.TrimSpace(string(data))
	if len(s) > limit {
		return s[:limit]
	}
	if s == "" {
		return "unknown error"
	}
	return s
}
