package domain

import (
	"errors"
	"fmt"
)

var (
	ErrProviderNotConfigured = errors.New("provider_not_configured")
	ErrInvalidProvider       = errors.New("invalid_provider")
	ErrInvalidAmount         = errors.New("invalid_amount")
	ErrInvalidCurrency       = errors.New("invalid_currency")
	ErrAmountOutOfRange      = errors.New("amount_out_of_range")
	ErrInvalidOrderID        = errors.New("invalid_order_id")
	ErrInvalidPhone          = errors.New("invalid_phone")
	ErrMissingCredentials    = errors.New("missing_credentials")
	ErrPushUnsupported       = errors.New("push_unsupported")
	ErrInvalidPayload        = errors.New("invalid_payload")
	ErrInvalidSignature      = errors.New("invalid_signature")
	ErrEventIgnored          = errors.New("event_ignored")
)

// ErrorKind classifies failures at the provider boundary.
type ErrorKind string

const (
	KindConfiguration ErrorKind = "configuration"
	KindTransport     ErrorKind = "transport"
	KindVendor        ErrorKind = "vendor"
	KindValidation    ErrorKind = "validation"
	KindUnknownStatus ErrorKind = "unknown_status"
)

// Error carries the failure kind together with the provider and operation.
type Error struct {
	Kind     ErrorKind
	Provider ProviderID
	Op       string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Provider != "" {
		return fmt.Sprintf("%s %s %s: %s", e.Provider, e.Op, e.Kind, msg)
	}
	return fmt.Sprintf("%s %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, provider ProviderID, op, message string, err error) *Error {
	return &Error{Kind: kind, Provider: provider, Op: op, Message: message, Err: err}
}

func ConfigurationError(provider ProviderID, op, message string) *Error {
	return newError(KindConfiguration, provider, op, message, ErrMissingCredentials)
}

func TransportError(provider ProviderID, op string, err error) *Error {
	return newError(KindTransport, provider, op, "", err)
}

func VendorError(provider ProviderID, op, message string) *Error {
	return newError(KindVendor, provider, op, message, nil)
}

func ValidationError(provider ProviderID, op string, err error) *Error {
	return newError(KindValidation, provider, op, "", err)
}

func UnknownStatusError(provider ProviderID, op, raw string) *Error {
	return newError(KindUnknownStatus, provider, op, fmt.Sprintf("unmapped status %q", raw), nil)
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind
	}
	return ""
}

func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
