package insurance

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurora-insure/concierge/internal/knowledge"
	"github.com/aurora-insure/concierge/internal/payments"
	"github.com/aurora-insure/concierge/internal/tools"
	"github.com/aurora-insure/concierge/pkg/logging"
)

type stubSearcher struct {
	snippets []knowledge.Snippet
	err      error
}

func (s *stubSearcher) Search(_ context.Context, _, _ string, _ int) ([]knowledge.Snippet, error) {
	return s.snippets, s.err
}

type stubGateway struct {
	session *payments.CheckoutSession
	status  *payments.PaymentStatus
	err     error
}

func (s *stubGateway) CreateCheckout(_ context.Context, _ payments.CheckoutRequest) (*payments.CheckoutSession, error) {
	return s.session, s.err
}

func (s *stubGateway) FetchStatus(_ context.Context, _ string) (*payments.PaymentStatus, error) {
	return s.status, s.err
}

func buildTestCatalog(t *testing.T, deps CatalogDeps) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry()
	require.NoError(t, BuildCatalog(reg, deps))
	return reg
}

func fullDeps(t *testing.T) CatalogDeps {
	t.Helper()
	claims, err := LoadClaimsInsights(writeClaims(t, claimsCSV), logging.Default())
	require.NoError(t, err)
	insurer, err := NewInsurerClient("http://localhost:1", "", "SG", logging.Default())
	require.NoError(t, err)
	return CatalogDeps{
		Knowledge: &stubSearcher{},
		Claims:    claims,
		Documents: NewDocumentService(nil, "", "", logging.Default()),
		Insurer:   insurer,
		Payments:  &stubGateway{},
		Market:    "SG",
	}
}

func TestBuildCatalog_RegistersAllTools(t *testing.T) {
	reg := buildTestCatalog(t, fullDeps(t))

	for _, name := range []string{
		ToolPolicyResearch, ToolClaimsRecommendation, ToolDocumentIngest,
		ToolTripQuote, ToolPaymentCheckout, ToolPaymentStatus, ToolPolicyPurchase,
	} {
		_, ok := reg.Lookup(name)
		assert.True(t, ok, "missing tool %s", name)
	}

	purchase, _ := reg.Lookup(ToolPolicyPurchase)
	assert.Equal(t, tools.EffectWriteOnce, purchase.Effect)
	assert.Equal(t, "quote_id", purchase.TransactionKeyField)

	checkout, _ := reg.Lookup(ToolPaymentCheckout)
	assert.Equal(t, tools.EffectWriteIdempotent, checkout.Effect)
}

func TestPolicyResearchHandler(t *testing.T) {
	deps := fullDeps(t)
	deps.Knowledge = &stubSearcher{snippets: []knowledge.Snippet{
		{ID: "snip-1", Source: "explorer-plus-2026.pdf", Title: "Medical", UpdatedAt: time.Now()},
		{ID: "snip-2", Source: "explorer-plus-2026.pdf", Title: "Baggage", UpdatedAt: time.Now()},
	}}
	reg := buildTestCatalog(t, deps)
	spec, _ := reg.Lookup(ToolPolicyResearch)

	result, err := spec.Handler(context.Background(), json.RawMessage(`{"query":"medical"}`))
	require.NoError(t, err)
	assert.Equal(t, "explorer-plus-2026.pdf", result.Citation, "duplicate sources collapse")

	_, err = spec.Handler(context.Background(), json.RawMessage(`{"query":"  "}`))
	var invalid *tools.InvalidInputError
	assert.True(t, errors.As(err, &invalid))
}

func TestPolicyResearchHandler_NoMatches(t *testing.T) {
	reg := buildTestCatalog(t, fullDeps(t))
	spec, _ := reg.Lookup(ToolPolicyResearch)

	_, err := spec.Handler(context.Background(), json.RawMessage(`{"query":"submarine"}`))
	var notFound *tools.NotFoundError
	assert.True(t, errors.As(err, &notFound))
}

func TestClaimsRecommendationHandler(t *testing.T) {
	reg := buildTestCatalog(t, fullDeps(t))
	spec, _ := reg.Lookup(ToolClaimsRecommendation)

	result, err := spec.Handler(context.Background(), json.RawMessage(`{"destination":"Japan","activity":"skiing"}`))
	require.NoError(t, err)

	report, ok := result.Payload.(RiskReport)
	require.True(t, ok)
	assert.Equal(t, TierPlatinum, report.Recommendation)
}

func TestPaymentStatusHandler(t *testing.T) {
	deps := fullDeps(t)
	deps.Payments = &stubGateway{status: &payments.PaymentStatus{SessionID: "cs_1", PaymentStatus: "paid"}}
	reg := buildTestCatalog(t, deps)
	spec, _ := reg.Lookup(ToolPaymentStatus)

	result, err := spec.Handler(context.Background(), json.RawMessage(`{"checkout_ref":"cs_1"}`))
	require.NoError(t, err)
	status, ok := result.Payload.(*payments.PaymentStatus)
	require.True(t, ok)
	assert.Equal(t, "paid", status.PaymentStatus)
}
