package session

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ProfileBag is the structured context carried alongside a session's turns:
// traveller identity, itinerary, payment state, and the verification flow
// used to gate checkout. Merges are shallow; new keys overwrite old ones.
type ProfileBag map[string]any

// Profile keys written by channel adapters, tools, and the payment webhook.
const (
	KeyTravellerName  = "traveller_name"
	KeyEmailAddress   = "email_address"
	KeyPhoneNumber    = "phone_number"
	KeyPassportNumber = "passport_number"
	KeyDestination    = "destination"
	KeyStartDate      = "start_date"
	KeyEndDate        = "end_date"
	KeyTripType       = "trip_type"
	KeyTripCost       = "trip_cost"

	KeyVerificationStatus      = "verification_status"
	KeyVerificationFields      = "verification_fields"
	KeyVerificationRequestedAt = "verification_requested_at"
	KeyVerificationConfirmedAt = "verification_confirmed_at"

	KeyPaymentStatus = "payment_status"
	KeyCheckoutRef   = "checkout_ref"
	KeyPolicyRef     = "policy_ref"
)

// Verification states for the pre-checkout confirmation flow.
const (
	VerificationPending   = "pending"
	VerificationConfirmed = "confirmed"
)

// requiredCheckoutFields must be present before a checkout may be created.
var requiredCheckoutFields = []string{
	KeyTravellerName,
	KeyEmailAddress,
	KeyDestination,
	KeyStartDate,
	KeyEndDate,
	KeyTripCost,
}

// Merge returns a new bag with partial shallow-merged over the receiver.
func (b ProfileBag) Merge(partial ProfileBag) ProfileBag {
	merged := make(ProfileBag, len(b)+len(partial))
	for k, v := range b {
		merged[k] = v
	}
	for k, v := range partial {
		if k == "" {
			continue
		}
		merged[k] = v
	}
	return merged
}

// StringValue returns the trimmed string under key, or "" if absent or not a
// string.
func (b ProfileBag) StringValue(key string) string {
	v, ok := b[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}

func (b ProfileBag) hasValue(key string) bool {
	v, ok := b[key]
	if !ok || v == nil {
		return false
	}
	if s, isStr := v.(string); isStr {
		return strings.TrimSpace(s) != ""
	}
	return true
}

// Readiness statuses returned by PaymentReadiness.
const (
	ReadinessReady          = "ready"
	ReadinessMissingProfile = "missing_profile"
	ReadinessMissingFields  = "missing_fields"
	ReadinessUnverified     = "unverified"
)

// PaymentReadiness captures whether the profile is complete and confirmed
// enough to create a checkout.
type PaymentReadiness struct {
	Status  string
	Missing []string
	Fields  map[string]string
}

// PaymentReadiness evaluates the checkout guard: every required traveller
// field must be present, and the traveller must have confirmed the details.
func (b ProfileBag) PaymentReadiness() PaymentReadiness {
	if len(b) == 0 {
		return PaymentReadiness{Status: ReadinessMissingProfile}
	}

	var missing []string
	for _, field := range requiredCheckoutFields {
		if !b.hasValue(field) {
			missing = append(missing, field)
		}
	}
	if len(missing) == len(requiredCheckoutFields) {
		return PaymentReadiness{Status: ReadinessMissingProfile, Missing: missing}
	}
	if len(missing) > 0 {
		return PaymentReadiness{Status: ReadinessMissingFields, Missing: missing}
	}

	if b.StringValue(KeyVerificationStatus) != VerificationConfirmed {
		return PaymentReadiness{
			Status: ReadinessUnverified,
			Fields: b.VerificationFields(),
		}
	}
	return PaymentReadiness{Status: ReadinessReady}
}

// VerificationFields builds the summary shown to the traveller when asking
// them to confirm their details.
func (b ProfileBag) VerificationFields() map[string]string {
	fields := make(map[string]string)
	for _, key := range []string{
		KeyTravellerName, KeyDestination, KeyTripType, KeyTripCost,
		KeyStartDate, KeyEndDate, KeyEmailAddress, KeyPhoneNumber, KeyPassportNumber,
	} {
		if v := b.StringValue(key); v != "" {
			fields[key] = v
		} else if b.hasValue(key) {
			fields[key] = stringify(b[key])
		}
	}
	return fields
}

// RequestVerification marks the profile as awaiting traveller confirmation.
func (b ProfileBag) RequestVerification(now time.Time) {
	b[KeyVerificationStatus] = VerificationPending
	b[KeyVerificationFields] = b.VerificationFields()
	b[KeyVerificationRequestedAt] = now.UTC().Format(time.RFC3339)
	delete(b, KeyVerificationConfirmedAt)
}

// ConfirmVerification flips a pending verification to confirmed. Returns
// false when no verification was pending.
func (b ProfileBag) ConfirmVerification(now time.Time) bool {
	if b.StringValue(KeyVerificationStatus) != VerificationPending {
		return false
	}
	b[KeyVerificationStatus] = VerificationConfirmed
	b[KeyVerificationConfirmedAt] = now.UTC().Format(time.RFC3339)
	return true
}

var confirmationPhrases = []string{
	"confirm",
	"confirmed",
	"looks good",
	"correct",
	"go ahead",
	"approve",
	"proceed",
	"verified",
}

var confirmationStarts = map[string]struct{}{
	"yes": {}, "yup": {}, "yeah": {}, "sure": {}, "ok": {}, "okay": {},
}

// IsConfirmationMessage reports whether a user message reads as confirming
// the previously presented traveller details. Questions never confirm.
func IsConfirmationMessage(text string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(text))
	if trimmed == "" || strings.Contains(trimmed, "?") {
		return false
	}
	for _, phrase := range confirmationPhrases {
		if strings.Contains(trimmed, phrase) {
			return true
		}
	}
	first := strings.Fields(trimmed)
	if len(first) == 0 {
		return false
	}
	_, ok := confirmationStarts[first[0]]
	return ok
}

// profileKeyAliases maps the loosely-named keys seen in payment metadata and
// partner payloads onto canonical profile keys.
var profileKeyAliases = map[string]string{
	"customer_email": KeyEmailAddress,
	"email":          KeyEmailAddress,
	"contact_email":  KeyEmailAddress,
	"name":           KeyTravellerName,
	"full_name":      KeyTravellerName,
	"customer_name":  KeyTravellerName,
	"traveller_name": KeyTravellerName,
	"traveler_name":  KeyTravellerName,
	"phone":          KeyPhoneNumber,
	"contact_number": KeyPhoneNumber,
	"mobile":         KeyPhoneNumber,
	"customer_phone": KeyPhoneNumber,
	"passport":       KeyPassportNumber,

	"trip_destination":   KeyDestination,
	"travel_destination": KeyDestination,
	"destination_city":   KeyDestination,
	"trip_start_date":    KeyStartDate,
	"departure_date":     KeyStartDate,
	"trip_end_date":      KeyEndDate,
	"return_date":        KeyEndDate,
	"trip_category":      KeyTripType,
	"total_cost":         KeyTripCost,
	"coverage_amount":    KeyTripCost,
}

var camelBoundary = regexp.MustCompile(`([a-z0-9])([A-Z])`)
var nonAlnum = regexp.MustCompile(`[^A-Za-z0-9]+`)

func normalizeProfileKey(key string) string {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return ""
	}
	snake := camelBoundary.ReplaceAllString(trimmed, "${1}_${2}")
	snake = nonAlnum.ReplaceAllString(snake, "_")
	return strings.Trim(strings.ToLower(snake), "_")
}

// ApplyPaymentContext folds traveller facts carried in a payment payload
// (top-level fields plus metadata) into the profile. Returns true when any
// field changed. A confirmed verification is never reopened.
func (b ProfileBag) ApplyPaymentContext(payload map[string]any) bool {
	if len(payload) == 0 {
		return false
	}

	flattened := make(map[string]any)
	collect := func(key string, value any) {
		normalized := normalizeProfileKey(key)
		if normalized == "" || isBlank(value) {
			return
		}
		if _, seen := flattened[normalized]; !seen {
			flattened[normalized] = value
		}
	}
	for k, v := range payload {
		if k == "metadata" {
			continue
		}
		collect(k, v)
	}
	if meta, ok := payload["metadata"].(map[string]any); ok {
		for k, v := range meta {
			collect(k, v)
		}
	}

	updated := false
	for key, value := range flattened {
		canonical := key
		if alias, ok := profileKeyAliases[key]; ok {
			canonical = alias
		}
		if !isProfileKey(canonical) {
			continue
		}
		next := stringify(value)
		if next == "" || b.StringValue(canonical) == next {
			continue
		}
		b[canonical] = next
		updated = true
	}

	if updated && b.StringValue(KeyVerificationStatus) != VerificationConfirmed {
		b[KeyVerificationFields] = b.VerificationFields()
	}
	return updated
}

func isProfileKey(key string) bool {
	switch key {
	case KeyTravellerName, KeyEmailAddress, KeyPhoneNumber, KeyPassportNumber,
		KeyDestination, KeyStartDate, KeyEndDate, KeyTripType, KeyTripCost:
		return true
	}
	return false
}

func isBlank(value any) bool {
	if value == nil {
		return true
	}
	if s, ok := value.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case bool:
		if v {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}
