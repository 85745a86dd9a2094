package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrDataInsufficient means the candle window is too short to evaluate.
	ErrDataInsufficient = errors.New("insufficient candle data")
	// ErrNotFound is returned by lookups of unknown IDs.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when a terminal or incompatible state change is requested.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// ValidationError rejects malformed input before it reaches the exchange.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// NewValidationError builds a ValidationError.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// RiskRejectedError carries the reason a candidate trade was dropped.
type RiskRejectedError struct {
	Reason string
}

func (e *RiskRejectedError) Error() string {
	return "risk rejected: " + e.Reason
}

// ExchangeErrorKind classifies exchange failures.
type ExchangeErrorKind string

const (
	ExchangeAuth              ExchangeErrorKind = "auth"
	ExchangeRateLimit         ExchangeErrorKind = "rate_limit"
	ExchangeServer            ExchangeErrorKind = "server"
	ExchangeTimeout           ExchangeErrorKind = "timeout"
	ExchangeInsufficientFunds ExchangeErrorKind = "insufficient_funds"
)

// ExchangeError wraps a failed call to the exchange collaborator.
type ExchangeError struct {
	Kind ExchangeErrorKind
	Op   string
	Err  error
}

func (e *ExchangeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exchange %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("exchange %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *ExchangeError) Unwrap() error { return e.Err }

// IsExchangeError reports whether err wraps an ExchangeError and returns it.
func IsExchangeError(err error) (*ExchangeError, bool) {
	var ee *ExchangeError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}

// BacktestTimeoutError is returned when a backtest exceeds its execution budget.
type BacktestTimeoutError struct {
	Phase         string
	Limit         string
	SuggestedDays int
}

func (e *BacktestTimeoutError) Error() string {
	return fmt.Sprintf("backtest %s timed out after %s; try a window of %d days or less", e.Phase, e.Limit, e.SuggestedDays)
}
