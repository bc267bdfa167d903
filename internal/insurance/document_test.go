package insurance

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurora-insure/concierge/internal/tools"
	"github.com/aurora-insure/concierge/pkg/logging"
)

type mockS3 struct {
	objects map[string]string
}

func (m *mockS3) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := m.objects[*input.Key]
	if !ok {
		return nil, errors.New("NoSuchKey: the specified key does not exist")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

const itineraryText = `Booking Confirmation
Passenger: Mei Lin
Flight SQ638 to Tokyo departing 2026-09-10
Return 2026-09-20
Total: SGD 2,400.00
`

func TestDocumentService_IngestPlainText(t *testing.T) {
	svc := NewDocumentService(&mockS3{objects: map[string]string{
		"uploads/itinerary.txt": itineraryText,
	}}, "docs-bucket", "", logging.Default())

	doc, err := svc.Ingest(context.Background(), "uploads/itinerary.txt")
	require.NoError(t, err)

	assert.Equal(t, "uploads/itinerary.txt", doc.File)
	assert.Contains(t, doc.Dates, "2026-09-10")
	assert.Contains(t, doc.Dates, "2026-09-20")
	assert.Contains(t, doc.Destinations, "Tokyo")
	assert.Contains(t, doc.Passengers, "Mei Lin")
	assert.InDelta(t, 2400.0, doc.EstimatedTripCost, 0.01)
	assert.NotEmpty(t, doc.RawPreview)
}

func TestDocumentService_IngestMissingObject(t *testing.T) {
	svc := NewDocumentService(&mockS3{objects: map[string]string{}}, "docs-bucket", "", logging.Default())

	_, err := svc.Ingest(context.Background(), "uploads/ghost.txt")
	var notFound *tools.NotFoundError
	assert.True(t, errors.As(err, &notFound))
}

func TestDocumentService_IngestPDFUsesExtractionService(t *testing.T) {
	extraction := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/extract", r.URL.Path)
		require.Equal(t, "application/pdf", r.Header.Get("Content-Type"))
		w.Write([]byte(`{"text": "Passenger: Mei Lin\nTo Osaka on 2026-10-01"}`))
	}))
	defer extraction.Close()

	svc := NewDocumentService(&mockS3{objects: map[string]string{
		"uploads/ticket.pdf": "%PDF-1.7 binary...",
	}}, "docs-bucket", extraction.URL, logging.Default())

	doc, err := svc.Ingest(context.Background(), "uploads/ticket.pdf")
	require.NoError(t, err)
	assert.Contains(t, doc.Destinations, "Osaka")
	assert.Contains(t, doc.Dates, "2026-10-01")
}

func TestDocumentService_PDFWithoutExtractionConfigured(t *testing.T) {
	svc := NewDocumentService(&mockS3{objects: map[string]string{
		"uploads/ticket.pdf": "%PDF-1.7",
	}}, "docs-bucket", "", logging.Default())

	_, err := svc.Ingest(context.Background(), "uploads/ticket.pdf")
	var invalid *tools.InvalidInputError
	assert.True(t, errors.As(err, &invalid))
}

func TestDocumentService_RequiresConfiguration(t *testing.T) {
	svc := NewDocumentService(nil, "", "", logging.Default())

	_, err := svc.Ingest(context.Background(), "uploads/x.txt")
	var invalid *tools.InvalidInputError
	assert.True(t, errors.As(err, &invalid))
}
