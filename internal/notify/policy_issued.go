package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/aurora-insure/concierge/pkg/logging"
)

// PolicyIssuedDetails describes the issued policy for the confirmation
// email.
type PolicyIssuedDetails struct {
	TravellerName string
	EmailAddress  string
	PolicyRef     string
	PlanName      string
	Destination   string
	StartDate     string
	EndDate       string
}

// Notifier sends traveller-facing notifications. A nil sender disables it,
// so local stacks run without email credentials.
type Notifier struct {
	sender EmailSender
	logger *logging.Logger
}

func NewNotifier(sender EmailSender, logger *logging.Logger) *Notifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &Notifier{sender: sender, logger: logger.Component("notify")}
}

// PolicyIssued emails the traveller their policy confirmation. Failures are
// logged, not propagated; the policy is already issued and the conversation
// must not fail over a notification.
func (n *Notifier) PolicyIssued(ctx context.Context, details PolicyIssuedDetails) {
	if n == nil || n.sender == nil {
		return
	}
	if strings.TrimSpace(details.EmailAddress) == "" {
		n.logger.Warn("policy issued but traveller has no email on file", "policy_ref", details.PolicyRef)
		return
	}

	msg := buildPolicyIssuedEmail(details)
	if err := n.sender.Send(ctx, msg); err != nil {
		n.logger.Error("policy confirmation email failed", "policy_ref", details.PolicyRef, "error", err)
		return
	}
	n.logger.Info("policy confirmation email sent", "policy_ref", details.PolicyRef, "to", details.EmailAddress)
}

func buildPolicyIssuedEmail(d PolicyIssuedDetails) EmailMessage {
	name := d.TravellerName
	if name == "" {
		name = "Traveller"
	}

	var body strings.Builder
	fmt.Fprintf(&body, "Hi %s,\n\n", name)
	fmt.Fprintf(&body, "Your travel insurance policy is confirmed.\n\n")
	fmt.Fprintf(&body, "Policy reference: %s\n", d.PolicyRef)
	if d.PlanName != "" {
		fmt.Fprintf(&body, "Plan: %s\n", d.PlanName)
	}
	if d.Destination != "" {
		fmt.Fprintf(&body, "Destination: %s\n", d.Destination)
	}
	if d.StartDate != "" && d.EndDate != "" {
		fmt.Fprintf(&body, "Coverage period: %s to %s\n", d.StartDate, d.EndDate)
	}
	fmt.Fprintf(&body, "\nKeep this reference handy when making a claim. Safe travels!\n\nAurora\n")

	return EmailMessage{
		To:      d.EmailAddress,
		ToName:  d.TravellerName,
		Subject: fmt.Sprintf("Your travel insurance is confirmed (%s)", d.PolicyRef),
		Body:    body.String(),
	}
}
