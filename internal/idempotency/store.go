package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnavailable indicates the record store could not be reached. Callers
// must not run a write-once tool when the guard store is down.
var ErrUnavailable = errors.New("idempotency: store unavailable")

// Record is a completed write-once execution: the serialized result envelope
// that every replay of the same key must return verbatim.
type Record struct {
	Key       string `dynamodbav:"recordKey" json:"record_key"`
	Result    []byte `dynamodbav:"result" json:"result"`
	CreatedAt string `dynamodbav:"createdAt" json:"created_at"`
	ExpiresAt int64  `dynamodbav:"expiresAt,omitempty" json:"-"`
}

// Store guards at-most-once tool executions. PutIfAbsent is a compare-and-set:
// exactly one caller per key wins; everyone else gets the winner's record back.
type Store interface {
	// Get returns the record for the key, or (nil, nil) when absent.
	Get(ctx context.Context, key string) (*Record, error)
	// PutIfAbsent stores the result under the key if no record exists yet.
	// It reports whether this call won the race; on a lost race it returns
	// the existing record.
	PutIfAbsent(ctx context.Context, key string, result []byte) (won bool, existing *Record, err error)
}

// Key composes the guard key for a tool execution. The transaction key comes
// from the tool's declared input field, so retried model directives for the
// same business transaction collapse onto one record.
func Key(sessionID, toolName, transactionKey string) string {
	return fmt.Sprintf("%s|%s|%s",
		strings.TrimSpace(sessionID),
		strings.TrimSpace(toolName),
		strings.TrimSpace(transactionKey),
	)
}
