package types

import "errors"

// Error codes.
const (
	// ErrProviderUnavailable marks a transient RPC/indexer failure. The
	// caller retries on the next tick; no state changes.
	ErrProviderUnavailable = "PROVIDER_UNAVAILABLE"

	// ErrNotFound means a receipt is not yet available (unmined). Treated
	// as "not yet", not as a failure.
	ErrNotFound = "NOT_FOUND"

	// ErrNoWalletForNetwork is terminal and user-facing: the merchant has
	// not provisioned a wallet for the requested chain.
	ErrNoWalletForNetwork = "NO_WALLET_FOR_NETWORK"

	// ErrMerchantNotReady is terminal and user-facing: the merchant does
	// not exist or has not completed wallet provisioning.
	ErrMerchantNotReady = "MERCHANT_NOT_READY"

	// ErrDedupConflict should be impossible by construction. Observed
	// conflicts are logged at error level and skipped.
	ErrDedupConflict = "DEDUP_CONFLICT"

	ErrUnsupportedNetwork = "UNSUPPORTED_NETWORK"
	ErrInvalidRequest     = "INVALID_REQUEST"
	ErrConfig             = "CONFIG_ERROR"
)

// Error is the typed error carried across package boundaries.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// NewError builds a typed error with an optional wrapped cause.
func NewError(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// CodeOf extracts the error code, or the empty string for untyped errors.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsNotFound reports whether err means "receipt not yet available".
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrNotFound
}

// IsProviderUnavailable reports whether err is a transient provider failure.
func IsProviderUnavailable(err error) bool {
	return CodeOf(err) == ErrProviderUnavailable
}
