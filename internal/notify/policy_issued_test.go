package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurora-insure/concierge/pkg/logging"
)

type captureSender struct {
	sent []EmailMessage
	err  error
}

func (c *captureSender) Send(_ context.Context, msg EmailMessage) error {
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, msg)
	return nil
}

func TestNotifier_PolicyIssued(t *testing.T) {
	sender := &captureSender{}
	notifier := NewNotifier(sender, logging.Default())

	notifier.PolicyIssued(context.Background(), PolicyIssuedDetails{
		TravellerName: "Mei Lin",
		EmailAddress:  "mei@example.com",
		PolicyRef:     "POL-77",
		PlanName:      "Explorer Plus",
		Destination:   "Tokyo",
		StartDate:     "2026-09-10",
		EndDate:       "2026-09-20",
	})

	require.Len(t, sender.sent, 1)
	msg := sender.sent[0]
	assert.Equal(t, "mei@example.com", msg.To)
	assert.Contains(t, msg.Subject, "POL-77")
	assert.Contains(t, msg.Body, "Explorer Plus")
	assert.Contains(t, msg.Body, "2026-09-10")
}

func TestNotifier_PolicyIssuedWithoutEmailIsSkipped(t *testing.T) {
	sender := &captureSender{}
	notifier := NewNotifier(sender, logging.Default())

	notifier.PolicyIssued(context.Background(), PolicyIssuedDetails{PolicyRef: "POL-1"})
	assert.Empty(t, sender.sent)
}

func TestNotifier_SendFailureDoesNotPanic(t *testing.T) {
	notifier := NewNotifier(&captureSender{err: errors.New("smtp down")}, logging.Default())
	notifier.PolicyIssued(context.Background(), PolicyIssuedDetails{
		EmailAddress: "mei@example.com",
		PolicyRef:    "POL-2",
	})
}

func TestNotifier_NilSenderIsNoop(t *testing.T) {
	notifier := NewNotifier(nil, logging.Default())
	notifier.PolicyIssued(context.Background(), PolicyIssuedDetails{
		EmailAddress: "mei@example.com",
		PolicyRef:    "POL-3",
	})
}
