package insurance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aurora-insure/concierge/internal/knowledge"
	"github.com/aurora-insure/concierge/internal/payments"
	"github.com/aurora-insure/concierge/internal/tools"
)

// Tool names exposed to the reasoning step.
const (
	ToolPolicyResearch       = "policy_research"
	ToolClaimsRecommendation = "claims_recommendation"
	ToolDocumentIngest       = "document_ingest"
	ToolTripQuote            = "trip_quote"
	ToolPaymentCheckout      = "payment_checkout"
	ToolPaymentStatus        = "payment_status"
	ToolPolicyPurchase       = "policy_purchase"
)

const policyResearchSchema = `{
	"type": "object",
	"properties": {
		"query": {"type": "string", "description": "What to look up in the policy wordings"},
		"limit": {"type": "integer", "minimum": 1, "maximum": 10}
	},
	"required": ["query"],
	"additionalProperties": false
}`

const claimsRecommendationSchema = `{
	"type": "object",
	"properties": {
		"destination": {"type": "string"},
		"activity": {"type": "string"},
		"trip_cost": {"type": "number", "minimum": 0}
	},
	"additionalProperties": false
}`

const documentIngestSchema = `{
	"type": "object",
	"properties": {
		"document_key": {"type": "string", "description": "Storage key of the uploaded trip document"}
	},
	"required": ["document_key"],
	"additionalProperties": false
}`

const tripQuoteSchema = `{
	"type": "object",
	"properties": {
		"trip_type": {"type": "string"},
		"departure_date": {"type": "string"},
		"return_date": {"type": "string"},
		"departure_country": {"type": "string"},
		"arrival_country": {"type": "string"},
		"adults_count": {"type": "integer", "minimum": 1},
		"children_count": {"type": "integer", "minimum": 0}
	},
	"required": ["departure_date", "return_date", "departure_country", "arrival_country"],
	"additionalProperties": false
}`

const paymentCheckoutSchema = `{
	"type": "object",
	"properties": {
		"quote_id": {"type": "string"},
		"plan_code": {"type": "string"},
		"amount": {"type": "integer", "minimum": 1, "description": "Premium in minor currency units"},
		"currency": {"type": "string"},
		"customer_email": {"type": "string"}
	},
	"required": ["quote_id", "plan_code", "amount"],
	"additionalProperties": false
}`

const paymentStatusSchema = `{
	"type": "object",
	"properties": {
		"checkout_ref": {"type": "string"}
	},
	"required": ["checkout_ref"],
	"additionalProperties": false
}`

const policyPurchaseSchema = `{
	"type": "object",
	"properties": {
		"quote_id": {"type": "string"},
		"offer_id": {"type": "string"},
		"traveller_name": {"type": "string"},
		"email_address": {"type": "string"},
		"phone_number": {"type": "string"},
		"passport_number": {"type": "string"}
	},
	"required": ["quote_id", "offer_id", "traveller_name", "email_address"],
	"additionalProperties": false
}`

// CatalogDeps are the domain services the tool handlers close over.
type CatalogDeps struct {
	Knowledge knowledge.Searcher
	Claims    *ClaimsInsights
	Documents *DocumentService
	Insurer   *InsurerClient
	Payments  payments.Gateway
	Market    string
}

// BuildCatalog registers the full travel insurance tool set. Startup wiring
// calls this once; a bad catalog is a programming error.
func BuildCatalog(reg *tools.Registry, deps CatalogDeps) error {
	specs := []tools.Spec{
		{
			Name:        ToolPolicyResearch,
			Description: "Search travel insurance policy wordings for coverage, exclusions, and claim conditions.",
			Schema:      policyResearchSchema,
			Effect:      tools.EffectRead,
			Handler:     policyResearchHandler(deps.Knowledge, deps.Market),
		},
		{
			Name:        ToolClaimsRecommendation,
			Description: "Analyze historical claims for a destination or activity and recommend a plan tier.",
			Schema:      claimsRecommendationSchema,
			Effect:      tools.EffectRead,
			Handler:     claimsRecommendationHandler(deps.Claims),
		},
		{
			Name:        ToolDocumentIngest,
			Description: "Parse an uploaded trip document (itinerary, booking, ticket) into traveller facts.",
			Schema:      documentIngestSchema,
			Effect:      tools.EffectRead,
			Handler:     documentIngestHandler(deps.Documents),
		},
		{
			Name:        ToolTripQuote,
			Description: "Price a trip with the underwriting partner and return plan offers with premiums.",
			Schema:      tripQuoteSchema,
			Effect:      tools.EffectRead,
			Handler:     tripQuoteHandler(deps.Insurer),
		},
		{
			Name:                ToolPaymentCheckout,
			Description:         "Create a hosted checkout link to collect the premium for a priced quote.",
			Schema:              paymentCheckoutSchema,
			Effect:              tools.EffectWriteIdempotent,
			TransactionKeyField: "quote_id",
			Handler:             paymentCheckoutHandler(deps.Payments),
		},
		{
			Name:        ToolPaymentStatus,
			Description: "Check whether a checkout session has been paid.",
			Schema:      paymentStatusSchema,
			Effect:      tools.EffectRead,
			Handler:     paymentStatusHandler(deps.Payments),
		},
		{
			Name:                ToolPolicyPurchase,
			Description:         "Issue the policy for a paid quote. Runs at most once per quote.",
			Schema:              policyPurchaseSchema,
			Effect:              tools.EffectWriteOnce,
			TransactionKeyField: "quote_id",
			Handler:             policyPurchaseHandler(deps.Insurer),
		},
	}

	for _, spec := range specs {
		if err := reg.Register(spec); err != nil {
			return err
		}
	}
	return nil
}

func policyResearchHandler(searcher knowledge.Searcher, market string) tools.Handler {
	return func(ctx context.Context, input json.RawMessage) (*tools.Result, error) {
		var args struct {
			Query string `json:"query"`
			Limit int    `json:"limit"`
		}
		if err := json.Unmarshal(input, &args); err != nil {
			return nil, &tools.InvalidInputError{Reason: err.Error()}
		}
		if strings.TrimSpace(args.Query) == "" {
			return nil, &tools.InvalidInputError{Reason: "query cannot be empty"}
		}
		if searcher == nil {
			return nil, fmt.Errorf("policy knowledge base is not configured")
		}

		snippets, err := searcher.Search(ctx, market, args.Query, args.Limit)
		if err != nil {
			return nil, fmt.Errorf("policy search failed: %w", err)
		}
		if len(snippets) == 0 {
			return nil, &tools.NotFoundError{What: fmt.Sprintf("policy wording matching %q", args.Query)}
		}

		sources := make([]string, 0, len(snippets))
		seen := make(map[string]struct{})
		for _, s := range snippets {
			if _, dup := seen[s.Source]; dup {
				continue
			}
			seen[s.Source] = struct{}{}
			sources = append(sources, s.Source)
		}

		return &tools.Result{
			Payload:  map[string]any{"snippets": snippets},
			Citation: strings.Join(sources, ", "),
		}, nil
	}
}

func claimsRecommendationHandler(claims *ClaimsInsights) tools.Handler {
	return func(_ context.Context, input json.RawMessage) (*tools.Result, error) {
		var args struct {
			Destination string  `json:"destination"`
			Activity    string  `json:"activity"`
			TripCost    float64 `json:"trip_cost"`
		}
		if err := json.Unmarshal(input, &args); err != nil {
			return nil, &tools.InvalidInputError{Reason: err.Error()}
		}
		if claims == nil {
			return nil, fmt.Errorf("claims dataset is not loaded")
		}

		report := claims.RecommendPlan(args.Destination, args.Activity, args.TripCost)
		return &tools.Result{
			Payload:  report,
			Citation: "historical claims dataset",
		}, nil
	}
}

func documentIngestHandler(documents *DocumentService) tools.Handler {
	return func(ctx context.Context, input json.RawMessage) (*tools.Result, error) {
		var args struct {
			DocumentKey string `json:"document_key"`
		}
		if err := json.Unmarshal(input, &args); err != nil {
			return nil, &tools.InvalidInputError{Reason: err.Error()}
		}

		doc, err := documents.Ingest(ctx, args.DocumentKey)
		if err != nil {
			return nil, err
		}
		return &tools.Result{
			Payload:  doc,
			Citation: doc.File,
		}, nil
	}
}

func tripQuoteHandler(insurer *InsurerClient) tools.Handler {
	return func(ctx context.Context, input json.RawMessage) (*tools.Result, error) {
		var req QuoteRequest
		if err := json.Unmarshal(input, &req); err != nil {
			return nil, &tools.InvalidInputError{Reason: err.Error()}
		}

		quote, err := insurer.Quote(ctx, req)
		if err != nil {
			return nil, err
		}
		return &tools.Result{
			Payload:  quote,
			Citation: "partner pricing API",
		}, nil
	}
}

func paymentCheckoutHandler(gateway payments.Gateway) tools.Handler {
	return func(ctx context.Context, input json.RawMessage) (*tools.Result, error) {
		var req payments.CheckoutRequest
		if err := json.Unmarshal(input, &req); err != nil {
			return nil, &tools.InvalidInputError{Reason: err.Error()}
		}

		session, err := gateway.CreateCheckout(ctx, req)
		if err != nil {
			return nil, err
		}
		return &tools.Result{Payload: session}, nil
	}
}

func paymentStatusHandler(gateway payments.Gateway) tools.Handler {
	return func(ctx context.Context, input json.RawMessage) (*tools.Result, error) {
		var args struct {
			CheckoutRef string `json:"checkout_ref"`
		}
		if err := json.Unmarshal(input, &args); err != nil {
			return nil, &tools.InvalidInputError{Reason: err.Error()}
		}

		status, err := gateway.FetchStatus(ctx, args.CheckoutRef)
		if err != nil {
			return nil, err
		}
		return &tools.Result{Payload: status}, nil
	}
}

func policyPurchaseHandler(insurer *InsurerClient) tools.Handler {
	return func(ctx context.Context, input json.RawMessage) (*tools.Result, error) {
		var req PurchaseRequest
		if err := json.Unmarshal(input, &req); err != nil {
			return nil, &tools.InvalidInputError{Reason: err.Error()}
		}

		result, err := insurer.Purchase(ctx, req)
		if err != nil {
			return nil, err
		}
		return &tools.Result{Payload: result}, nil
	}
}
