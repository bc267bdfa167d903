package insurance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/aurora-insure/concierge/internal/tools"
	"github.com/aurora-insure/concierge/pkg/logging"
)

// S3API is the subset of the S3 client used by DocumentService.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// ParsedDocument is what document ingestion extracts from an itinerary,
// booking confirmation, or ticket.
type ParsedDocument struct {
	File              string   `json:"file"`
	Dates             []string `json:"dates"`
	Destinations      []string `json:"destinations"`
	Passengers        []string `json:"passengers"`
	EstimatedTripCost float64  `json:"estimated_trip_cost,omitempty"`
	RawPreview        string   `json:"raw_preview"`
}

// DocumentService pulls uploaded trip documents from S3 and mines traveller
// facts out of them. PDF-to-text conversion is delegated to the extraction
// service; plain-text objects are read directly.
type DocumentService struct {
	s3Client       S3API
	bucket         string
	extractionBase string
	httpClient     *http.Client
	logger         *logging.Logger
}

// NewDocumentService builds the service. An empty extraction base URL limits
// ingestion to plain-text objects.
func NewDocumentService(s3Client S3API, bucket, extractionBase string, logger *logging.Logger) *DocumentService {
	if logger == nil {
		logger = logging.Default()
	}
	return &DocumentService{
		s3Client:       s3Client,
		bucket:         bucket,
		extractionBase: strings.TrimRight(extractionBase, "/"),
		httpClient:     &http.Client{Timeout: 20 * time.Second},
		logger:         logger.Component("documents"),
	}
}

// Ingest fetches the object and extracts trip facts from its text.
func (d *DocumentService) Ingest(ctx context.Context, key string) (*ParsedDocument, error) {
	if d.s3Client == nil || d.bucket == "" {
		return nil, &tools.InvalidInputError{Reason: "document storage is not configured"}
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, &tools.InvalidInputError{Reason: "document_key is required"}
	}

	obj, err := d.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, &tools.NotFoundError{What: fmt.Sprintf("document %s", key)}
		}
		return nil, fmt.Errorf("insurance: s3 get %s: %w", key, err)
	}
	defer obj.Body.Close()

	data, err := io.ReadAll(io.LimitReader(obj.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("insurance: read document %s: %w", key, err)
	}

	text, err := d.toText(ctx, key, data)
	if err != nil {
		return nil, err
	}

	doc := &ParsedDocument{
		File:              key,
		Dates:             extractDates(text),
		Destinations:      extractDestinations(text),
		Passengers:        extractPassengers(text),
		EstimatedTripCost: estimateTripCost(text),
		RawPreview:        previewText(text, 1000),
	}
	d.logger.Info("document parsed",
		"key", key,
		"dates", len(doc.Dates),
		"destinations", len(doc.Destinations),
		"passengers", len(doc.Passengers),
	)
	return doc, nil
}

func (d *DocumentService) toText(ctx context.Context, key string, data []byte) (string, error) {
	if !strings.HasSuffix(strings.ToLower(key), ".pdf") {
		return string(data), nil
	}
	if d.extractionBase == "" {
		return "", &tools.InvalidInputError{Reason: "PDF extraction is not configured; upload a text document"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.extractionBase+"/extract", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("insurance: build extraction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/pdf")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("insurance: extraction service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("insurance: extraction service returned %d", resp.StatusCode)
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("insurance: extraction service returned invalid JSON: %w", err)
	}
	return out.Text, nil
}

var datePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{1,2}\s+[A-Za-z]{3,9}\s+\d{2,4}\b`),
	regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),
}

var destinationPattern = regexp.MustCompile(`(?i)\b(?:to|destination|arriving in|arrival)[:\s]+([A-Z][A-Za-z]+(?:\s[A-Z][A-Za-z]+)?)`)

var passengerPattern = regexp.MustCompile(`(?i)\b(?:passenger|traveller|traveler|name)[:\s]+([A-Z][A-Za-z]+(?:\s[A-Z][A-Za-z]+){0,2})`)

var costPattern = regexp.MustCompile(`(?i)(?:total|amount|cost|price)[:\s]*(?:USD|SGD|MYR|\$|S\$)?\s*([\d,]+(?:\.\d{1,2})?)`)

func extractDates(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, pattern := range datePatterns {
		for _, match := range pattern.FindAllString(text, -1) {
			if _, dup := seen[match]; dup {
				continue
			}
			seen[match] = struct{}{}
			out = append(out, match)
		}
	}
	return out
}

func extractDestinations(text string) []string {
	return dedupeSubmatches(destinationPattern.FindAllStringSubmatch(text, -1))
}

func extractPassengers(text string) []string {
	return dedupeSubmatches(passengerPattern.FindAllStringSubmatch(text, -1))
}

func estimateTripCost(text string) float64 {
	var best float64
	for _, match := range costPattern.FindAllStringSubmatch(text, -1) {
		raw := strings.ReplaceAll(match[1], ",", "")
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		if value > best {
			best = value
		}
	}
	return best
}

func dedupeSubmatches(matches [][]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, match := range matches {
		if len(match) < 2 {
			continue
		}
		value := strings.TrimSpace(match[1])
		if value == "" {
			continue
		}
		lowered := strings.ToLower(value)
		if _, dup := seen[lowered]; dup {
			continue
		}
		seen[lowered] = struct{}{}
		out = append(out, value)
	}
	return out
}

func previewText(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return text[:limit]
}

func isS3NotFound(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "NoSuchKey") || strings.Contains(msg, "NotFound")
}
