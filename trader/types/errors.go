package types

import (
	"errors"
	"fmt"
)

// Error kinds. Use errors.Is against these; concrete failures carry more detail.
var (
	// ErrTransientNetwork marks failures worth retrying for read calls
	ErrTransientNetwork = errors.New("transient network error")
	// ErrMarginInsufficient aborts the remaining placements of a ladder build
	ErrMarginInsufficient = errors.New("margin is insufficient")
	// ErrInsufficientData means indicators could not be computed; the cycle is skipped
	ErrInsufficientData = errors.New("insufficient data")
	// ErrGateway is any other venue failure; the cycle is aborted and the loop continues
	ErrGateway = errors.New("gateway error")
	// ErrRiskLimitBreached is terminal: liquidate and halt
	ErrRiskLimitBreached = errors.New("risk limit breached")
)

// GatewayError is a classified venue failure
type GatewayError struct {
	Op   string // Operation that failed, e.g. "PlaceOrder"
	Code int64  // Venue error code, 0 if none
	Kind error  // One of the Err* kinds above
	Err  error  // Underlying cause
}

func (e *GatewayError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: %v (code %d): %v", e.Op, e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As
func (e *GatewayError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// NewGatewayError builds a classified error. A nil kind defaults to ErrGateway.
func NewGatewayError(op string, kind error, code int64, err error) *GatewayError {
	if kind == nil {
		kind = ErrGateway
	}
	if err == nil {
		err = kind
	}
	return &GatewayError{Op: op, Code: code, Kind: kind, Err: err}
}

// IsRetriable reports whether a read may be retried
func IsRetriable(err error) bool {
	return errors.Is(err, ErrTransientNetwork)
}

// InsufficientData wraps ErrInsufficientData with context
func InsufficientData(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInsufficientData, fmt.Sprintf(format, args...))
}
