package tools

import "fmt"

// InvalidInputError signals the handler received input that passed the
// schema but is semantically unusable (bad date range, unknown currency).
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input: %s", e.Reason)
}

// NotFoundError signals the requested entity does not exist upstream.
type NotFoundError struct {
	What string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s", e.What)
}

// RejectedError signals a definitive upstream refusal: the provider
// processed the request and said no, so no side effect occurred. Distinct
// from an ambiguous failure, where the side effect may or may not have
// happened.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("rejected: %s", e.Reason)
}
