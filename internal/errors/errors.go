// Package errors defines the categorized error model of the portfolio ledger.
//
// Categories follow the failure taxonomy of the engine: validation errors for
// malformed caller input, state errors for violated preconditions, external
// errors for custody failures, and a dedicated paused category for the
// circuit breaker. Price-quality degradations are deliberately not errors;
// the planner skips the affected asset instead.
package errors

import (
	"fmt"
	"net/http"

	"github.com/portfolio-ledger/internal/types"
)

// Category classifies an error for transport mapping and logging.
type Category string

const (
	// CategoryValidation marks malformed caller input (4xx).
	CategoryValidation Category = "validation"
	// CategoryState marks a violated operation precondition.
	CategoryState Category = "state"
	// CategoryAuthorization marks a missing capability.
	CategoryAuthorization Category = "authorization"
	// CategoryExternal marks a failed external collaborator call.
	CategoryExternal Category = "external"
	// CategoryPaused marks operations rejected by the circuit breaker.
	CategoryPaused Category = "paused"
	// CategorySystem marks internal faults (5xx).
	CategorySystem Category = "system"
)

// Error carries a category, stable code and HTTP status alongside the message.
type Error struct {
	Category   Category
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to the transport error shape.
func (e *Error) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// Validation errors

// NewValidationError creates a generic validation error.
func NewValidationError(code, message string) *Error {
	return &Error{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       code,
		Message:    message,
	}
}

// NewInvalidAmountError reports a zero or negative amount.
func NewInvalidAmountError() *Error {
	return NewValidationError("INVALID_AMOUNT", "amount must be greater than zero")
}

// NewInvalidAllocationError reports a target allocation outside [100, 5000] bps.
func NewInvalidAllocationError(bps int64) *Error {
	e := NewValidationError("INVALID_ALLOCATION",
		fmt.Sprintf("target allocation must be within [%d, %d] bps", types.MinTargetAllocationBps, types.MaxTargetAllocationBps))
	e.Details = map[string]interface{}{"targetAllocationBps": bps}
	return e
}

// NewAllocationSumExceededError reports a total target allocation above 10000 bps.
func NewAllocationSumExceededError(totalBps int64) *Error {
	e := NewValidationError("ALLOCATION_SUM_EXCEEDED", "total target allocation exceeds 10000 bps")
	e.Details = map[string]interface{}{"totalTargetBps": totalBps}
	return e
}

// NewTooManyAssetsError reports the per-portfolio asset cap being hit.
func NewTooManyAssetsError() *Error {
	return NewValidationError("TOO_MANY_ASSETS",
		fmt.Sprintf("portfolio may hold at most %d distinct assets", types.MaxAssetsPerPortfolio))
}

// NewAssetNotSupportedError reports an asset missing from the allow-list.
func NewAssetNotSupportedError(asset types.Address) *Error {
	e := NewValidationError("ASSET_NOT_SUPPORTED", "asset is not on the supported-asset list")
	e.Details = map[string]interface{}{"asset": asset.Hex()}
	return e
}

// State errors

func newStateError(code, message string) *Error {
	return &Error{
		Category:   CategoryState,
		StatusCode: http.StatusConflict,
		Code:       code,
		Message:    message,
	}
}

// NewPortfolioNotFoundError reports an unknown portfolio id.
func NewPortfolioNotFoundError(id uint64) *Error {
	return &Error{
		Category:   CategoryState,
		StatusCode: http.StatusNotFound,
		Code:       "PORTFOLIO_NOT_FOUND",
		Message:    fmt.Sprintf("portfolio not found: %d", id),
	}
}

// NewPortfolioInactiveError reports a mutation against a soft-deleted portfolio.
func NewPortfolioInactiveError(id uint64) *Error {
	return newStateError("PORTFOLIO_INACTIVE", fmt.Sprintf("portfolio %d is inactive", id))
}

// NewCooldownActiveError reports a rebalance attempted before the cooldown elapsed.
func NewCooldownActiveError() *Error {
	return newStateError("COOLDOWN_ACTIVE", "rebalance cooldown has not elapsed")
}

// NewRebalanceNotNeededError reports that no holding deviates beyond the threshold.
func NewRebalanceNotNeededError() *Error {
	return newStateError("REBALANCE_NOT_NEEDED", "rebalance not needed")
}

// NewAssetNotHeldError reports an operation on an asset absent from the portfolio.
func NewAssetNotHeldError(asset types.Address) *Error {
	e := newStateError("ASSET_NOT_HELD", "asset is not held by the portfolio")
	e.StatusCode = http.StatusNotFound
	e.Details = map[string]interface{}{"asset": asset.Hex()}
	return e
}

// NewInsufficientHoldingError reports a withdrawal above the held amount.
func NewInsufficientHoldingError(asset types.Address) *Error {
	e := newStateError("INSUFFICIENT_HOLDING", "requested amount exceeds current holding")
	e.Details = map[string]interface{}{"asset": asset.Hex()}
	return e
}

// NewPerformanceRateLimitedError reports an early performance recomputation.
func NewPerformanceRateLimitedError() *Error {
	return newStateError("PERFORMANCE_RATE_LIMITED", "performance was updated less than an hour ago")
}

// Authorization and pause

// NewNotAuthorizedError reports a caller without the required capability.
func NewNotAuthorizedError(caller types.Address) *Error {
	return &Error{
		Category:   CategoryAuthorization,
		StatusCode: http.StatusForbidden,
		Code:       "NOT_AUTHORIZED",
		Message:    "caller is not the owner and holds no rebalancer role",
		Details:    map[string]interface{}{"caller": caller.Hex()},
	}
}

// NewProtocolPausedError reports a mutation rejected by the circuit breaker.
func NewProtocolPausedError() *Error {
	return &Error{
		Category:   CategoryPaused,
		StatusCode: http.StatusServiceUnavailable,
		Code:       "PROTOCOL_PAUSED",
		Message:    "protocol is paused",
	}
}

// External errors

// NewTransferFailedError wraps a custody collaborator failure.
func NewTransferFailedError(cause error) *Error {
	return &Error{
		Category:   CategoryExternal,
		StatusCode: http.StatusBadGateway,
		Code:       "TRANSFER_FAILED",
		Message:    "custody transfer failed",
		Cause:      cause,
	}
}

// NewStorageError wraps a store failure.
func NewStorageError(cause error) *Error {
	return &Error{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       "STORAGE_ERROR",
		Message:    "storage operation failed",
		Cause:      cause,
	}
}
