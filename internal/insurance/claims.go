package insurance

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/aurora-insure/concierge/pkg/logging"
)

// ClaimRecord is one historical claim row from the insights dataset.
type ClaimRecord struct {
	Destination string
	Activity    string
	Season      string
	ClaimAmount float64
	Plan        string
	AgeBand     string
}

// ClaimsSummary aggregates the claims matching a filter.
type ClaimsSummary struct {
	ClaimCount   int     `json:"claim_count"`
	AverageClaim float64 `json:"average_claim"`
	P90Claim     float64 `json:"p90_claim"`
	MaxClaim     float64 `json:"max_claim"`
}

// SeasonStat is claim volume and severity for one travel season.
type SeasonStat struct {
	Season       string  `json:"season"`
	Count        int     `json:"count"`
	AverageClaim float64 `json:"average_claim"`
}

// RiskReport is what the claims recommendation tool returns.
type RiskReport struct {
	Filters        map[string]string  `json:"filters"`
	Summary        *ClaimsSummary     `json:"summary,omitempty"`
	Seasonality    []SeasonStat       `json:"seasonality,omitempty"`
	TopActivities  map[string]float64 `json:"top_activities,omitempty"`
	Recommendation string             `json:"recommendation,omitempty"`
	Reason         string             `json:"reason,omitempty"`
	Message        string             `json:"message,omitempty"`
}

// Plan tiers ordered by coverage depth.
const (
	TierSilver   = "silver"
	TierGold     = "gold"
	TierPlatinum = "platinum"
)

// ClaimsInsights answers risk questions from the historical claims dataset.
// The dataset loads once at startup; an absent file degrades to default
// recommendations rather than failing the process.
type ClaimsInsights struct {
	records []ClaimRecord
	logger  *logging.Logger
}

// LoadClaimsInsights reads the claims dataset from a CSV with the header
// destination,activity,season,claim_amount,plan,age_band.
func LoadClaimsInsights(path string, logger *logging.Logger) (*ClaimsInsights, error) {
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.Component("claims")

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("claims dataset missing, recommendations will use defaults", "path", path)
			return &ClaimsInsights{logger: logger}, nil
		}
		return nil, fmt.Errorf("insurance: failed to open claims data: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("insurance: failed to parse claims data: %w", err)
	}
	if len(rows) == 0 {
		return &ClaimsInsights{logger: logger}, nil
	}

	cols := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"destination", "activity", "season", "claim_amount"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("insurance: claims data missing column %q", required)
		}
	}

	records := make([]ClaimRecord, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := ClaimRecord{
			Destination: field(row, cols, "destination"),
			Activity:    field(row, cols, "activity"),
			Season:      field(row, cols, "season"),
			Plan:        field(row, cols, "plan"),
			AgeBand:     field(row, cols, "age_band"),
		}
		amount, err := strconv.ParseFloat(field(row, cols, "claim_amount"), 64)
		if err != nil {
			amount = 0
		}
		rec.ClaimAmount = amount
		records = append(records, rec)
	}

	logger.Info("claims dataset loaded", "path", path, "records", len(records))
	return &ClaimsInsights{records: records, logger: logger}, nil
}

func field(row []string, cols map[string]int, name string) string {
	idx, ok := cols[name]
	if !ok || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// RiskSummary aggregates claims matching the destination and activity
// filters. Empty filters match everything.
func (c *ClaimsInsights) RiskSummary(destination, activity string) RiskReport {
	filters := map[string]string{}
	if destination != "" {
		filters["destination"] = destination
	}
	if activity != "" {
		filters["activity"] = activity
	}

	var subset []ClaimRecord
	for _, rec := range c.records {
		if destination != "" && !strings.Contains(strings.ToLower(rec.Destination), strings.ToLower(destination)) {
			continue
		}
		if activity != "" && !strings.Contains(strings.ToLower(rec.Activity), strings.ToLower(activity)) {
			continue
		}
		subset = append(subset, rec)
	}

	if len(subset) == 0 {
		return RiskReport{
			Filters: filters,
			Message: "No claims data available for the specified filters.",
		}
	}

	amounts := make([]float64, len(subset))
	var sum, max float64
	for i, rec := range subset {
		amounts[i] = rec.ClaimAmount
		sum += rec.ClaimAmount
		if rec.ClaimAmount > max {
			max = rec.ClaimAmount
		}
	}
	sort.Float64s(amounts)

	summary := &ClaimsSummary{
		ClaimCount:   len(subset),
		AverageClaim: round2(sum / float64(len(subset))),
		P90Claim:     round2(percentile(amounts, 0.9)),
		MaxClaim:     round2(max),
	}

	return RiskReport{
		Filters:       filters,
		Summary:       summary,
		Seasonality:   topSeasons(subset, 3),
		TopActivities: topActivities(subset, 5),
	}
}

// RecommendPlan maps the claims history for a trip onto a plan tier.
func (c *ClaimsInsights) RecommendPlan(destination, activity string, tripCost float64) RiskReport {
	report := c.RiskSummary(destination, activity)
	if report.Summary == nil {
		report.Recommendation = TierSilver
		report.Reason = "Default recommendation due to limited data."
		return report
	}

	switch {
	case report.Summary.P90Claim > 50000:
		report.Recommendation = TierPlatinum
		report.Reason = "High 90th percentile claim amount; recommend premium medical coverage"
	case report.Summary.AverageClaim > 20000:
		report.Recommendation = TierGold
		report.Reason = "Elevated average claim cost; gold tier balances value and protection"
	default:
		report.Recommendation = TierSilver
		report.Reason = "Moderate claim history; silver tier suffices for most travelers"
	}

	if tripCost > 0 && tripCost > report.Summary.P90Claim {
		report.Reason += " and upgrade trip cancellation coverage to match trip cost."
	}
	return report
}

// percentile uses linear interpolation between closest ranks over a sorted
// slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	frac := rank - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func topSeasons(records []ClaimRecord, limit int) []SeasonStat {
	type agg struct {
		count int
		sum   float64
	}
	bySeason := make(map[string]*agg)
	for _, rec := range records {
		if rec.Season == "" {
			continue
		}
		a, ok := bySeason[rec.Season]
		if !ok {
			a = &agg{}
			bySeason[rec.Season] = a
		}
		a.count++
		a.sum += rec.ClaimAmount
	}

	stats := make([]SeasonStat, 0, len(bySeason))
	for season, a := range bySeason {
		stats = append(stats, SeasonStat{
			Season:       season,
			Count:        a.count,
			AverageClaim: round2(a.sum / float64(a.count)),
		})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Count != stats[j].Count {
			return stats[i].Count > stats[j].Count
		}
		return stats[i].Season < stats[j].Season
	})
	if len(stats) > limit {
		stats = stats[:limit]
	}
	return stats
}

func topActivities(records []ClaimRecord, limit int) map[string]float64 {
	type agg struct {
		count int
		sum   float64
	}
	byActivity := make(map[string]*agg)
	for _, rec := range records {
		if rec.Activity == "" {
			continue
		}
		a, ok := byActivity[rec.Activity]
		if !ok {
			a = &agg{}
			byActivity[rec.Activity] = a
		}
		a.count++
		a.sum += rec.ClaimAmount
	}

	type pair struct {
		activity string
		mean     float64
	}
	pairs := make([]pair, 0, len(byActivity))
	for activity, a := range byActivity {
		pairs = append(pairs, pair{activity: activity, mean: round2(a.sum / float64(a.count))})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].mean != pairs[j].mean {
			return pairs[i].mean > pairs[j].mean
		}
		return pairs[i].activity < pairs[j].activity
	})
	if len(pairs) > limit {
		pairs = pairs[:limit]
	}

	out := make(map[string]float64, len(pairs))
	for _, p := range pairs {
		out[p.activity] = p.mean
	}
	return out
}
