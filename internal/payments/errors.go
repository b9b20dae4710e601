package payments

import "errors"

var (
	// ErrSignatureInvalid rejects a webhook before any side effect.
	ErrSignatureInvalid = errors.New("payments: webhook signature invalid")
	ErrCaptureFailed    = errors.New("payments: capture failed")
	ErrVoidFailed       = errors.New("payments: void failed")
	ErrGateway          = errors.New("payments: gateway error")
	// ErrMalformedEvent marks a payload that will never process no matter how
	// often the provider redelivers it.
	ErrMalformedEvent = errors.New("payments: malformed event")
)
