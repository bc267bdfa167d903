package tools

import "encoding/json"

// Error kinds carried in failure envelopes. The reasoning step sees these
// and decides whether to rephrase, ask the user, or give up.
const (
	ErrKindInvalidInput     = "invalid_input"
	ErrKindNotFound         = "not_found"
	ErrKindUpstream         = "upstream_error"
	ErrKindAmbiguousOutcome = "ambiguous_outcome"
)

// Envelope statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// ResultEnvelope is the uniform record of one tool execution, success or
// failure. It is what gets appended to the session as a tool turn and fed
// back to the reasoning step; tool failures are data, not process errors.
type ResultEnvelope struct {
	Status       string          `json:"status"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Citation     string          `json:"citation,omitempty"`
	ErrorKind    string          `json:"error_kind,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Retryable    bool            `json:"retryable,omitempty"`
	Replayed     bool            `json:"replayed,omitempty"`
}

// OK builds a success envelope around a marshaled payload.
func OK(payload json.RawMessage, citation string) ResultEnvelope {
	return ResultEnvelope{
		Status:   StatusOK,
		Payload:  payload,
		Citation: citation,
	}
}

// Failure builds an error envelope.
func Failure(kind, message string, retryable bool) ResultEnvelope {
	return ResultEnvelope{
		Status:       StatusError,
		ErrorKind:    kind,
		ErrorMessage: message,
		Retryable:    retryable,
	}
}

// Marshal serializes the envelope; the envelope shape never fails to
// marshal, so errors here indicate a corrupted payload.
func (e ResultEnvelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
