package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the stable machine-readable error identifier surfaced on outcomes.
type Kind string

const (
	KindInvalidRequest     Kind = "INVALID_REQUEST"
	KindCurrencyMismatch   Kind = "CURRENCY_MISMATCH"
	KindUnbalancedGroup    Kind = "UNBALANCED_GROUP"
	KindAccountNotFound    Kind = "ACCOUNT_NOT_FOUND"
	KindAccountFrozen      Kind = "ACCOUNT_FROZEN"
	KindAccountClosed      Kind = "ACCOUNT_CLOSED"
	KindGroupNotFound      Kind = "GROUP_NOT_FOUND"
	KindHoldNotFound       Kind = "HOLD_NOT_FOUND"
	KindAlreadyReversed    Kind = "ALREADY_REVERSED"
	KindInsufficientFunds  Kind = "INSUFFICIENT_FUNDS"
	KindRiskBlocked        Kind = "RISK_BLOCKED"
	KindLockTimeout        Kind = "LOCK_TIMEOUT"
	KindStorageUnavailable Kind = "STORAGE_UNAVAILABLE"
	KindCanceled           Kind = "CANCELED"
	KindRequestInFlight    Kind = "REQUEST_IN_FLIGHT"
	KindUnauthorized       Kind = "UNAUTHORIZED"
	KindForbidden          Kind = "FORBIDDEN"
	KindRateLimited        Kind = "RATE_LIMITED"
	KindInternal           Kind = "INTERNAL"
)

// Category groups kinds by how the orchestrator treats them.
type Category string

const (
	CategoryValidation     Category = "validation"
	CategoryBusiness       Category = "business"
	CategoryInfrastructure Category = "infrastructure"
	CategoryTransport      Category = "transport"
)

// AppError is a structured error that maps to outcomes and HTTP responses.
type AppError struct {
	Code       string   `json:"error_code"`
	Kind       Kind     `json:"error_kind"`
	Category   Category `json:"-"`
	Message    string   `json:"message"`
	HTTPStatus int      `json:"-"`
	Err        error    `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches another AppError of the same kind, so errors.Is works against the
// constructors below.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Retryable reports whether the caller may resubmit under the same idempotency key.
func (e *AppError) Retryable() bool {
	return e.Category == CategoryInfrastructure
}

// New creates a new AppError.
func New(code string, kind Kind, category Category, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Kind:       kind,
		Category:   category,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, kind Kind, category Category, message string, httpStatus int, err error) *AppError {
	e := New(code, kind, category, message, httpStatus)
	e.Err = err
	return e
}

// As extracts an *AppError from err. Unknown errors become INTERNAL.
func As(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return InternalError(err)
}

// KindOf returns the kind of err, or INTERNAL for foreign errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return As(err).Kind
}

// ---- Validation (VAL) ----

func Validation(message string) *AppError {
	return New("VAL_001", KindInvalidRequest, CategoryValidation, message, http.StatusBadRequest)
}

func ErrCurrencyMismatch(a, b string) *AppError {
	return New("VAL_002", KindCurrencyMismatch, CategoryValidation,
		fmt.Sprintf("currency mismatch: %s vs %s", a, b), http.StatusUnprocessableEntity)
}

func ErrUnbalancedGroup(detail string) *AppError {
	return New("VAL_003", KindUnbalancedGroup, CategoryValidation,
		"ledger group is not balanced: "+detail, http.StatusUnprocessableEntity)
}

func ErrAccountNotFound(id string) *AppError {
	return New("VAL_004", KindAccountNotFound, CategoryValidation,
		fmt.Sprintf("account %s not found", id), http.StatusNotFound)
}

func ErrAccountFrozen(id string) *AppError {
	return New("VAL_005", KindAccountFrozen, CategoryValidation,
		fmt.Sprintf("account %s is frozen", id), http.StatusUnprocessableEntity)
}

func ErrAccountClosed(id string) *AppError {
	return New("VAL_006", KindAccountClosed, CategoryValidation,
		fmt.Sprintf("account %s is closed", id), http.StatusUnprocessableEntity)
}

func ErrGroupNotFound(id string) *AppError {
	return New("VAL_007", KindGroupNotFound, CategoryValidation,
		fmt.Sprintf("ledger group %s not found", id), http.StatusNotFound)
}

func ErrHoldNotFound(id string) *AppError {
	return New("VAL_008", KindHoldNotFound, CategoryValidation,
		fmt.Sprintf("hold %s not found", id), http.StatusNotFound)
}

func ErrAlreadyReversed(id string) *AppError {
	return New("VAL_009", KindAlreadyReversed, CategoryValidation,
		fmt.Sprintf("ledger group %s already reversed", id), http.StatusConflict)
}

// ---- Business (BIZ) ----

func ErrInsufficientFunds(id string) *AppError {
	return New("BIZ_001", KindInsufficientFunds, CategoryBusiness,
		fmt.Sprintf("insufficient available balance in account %s", id), http.StatusPaymentRequired)
}

func ErrRiskBlocked(score int) *AppError {
	return New("BIZ_002", KindRiskBlocked, CategoryBusiness,
		fmt.Sprintf("blocked by risk engine (score %d)", score), http.StatusForbidden)
}

// ---- Infrastructure (SYS) ----

func ErrLockTimeout(err error) *AppError {
	return Wrap("SYS_002", KindLockTimeout, CategoryInfrastructure,
		"Lock acquisition timeout", http.StatusServiceUnavailable, err)
}

func ErrStorageUnavailable(err error) *AppError {
	return Wrap("SYS_003", KindStorageUnavailable, CategoryInfrastructure,
		"Storage unavailable", http.StatusServiceUnavailable, err)
}

func ErrCanceled(err error) *AppError {
	return Wrap("SYS_004", KindCanceled, CategoryInfrastructure,
		"Request canceled before posting", http.StatusServiceUnavailable, err)
}

// InternalError wraps an unexpected error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", KindInternal, CategoryInfrastructure,
		"Internal server error", http.StatusInternalServerError, err)
}

// ---- Transport (API) ----

func ErrRequestInFlight(key string) *AppError {
	return New("API_001", KindRequestInFlight, CategoryTransport,
		fmt.Sprintf("request %s is already being processed", key), http.StatusConflict)
}

func ErrUnauthorized() *AppError {
	return New("API_002", KindUnauthorized, CategoryTransport,
		"Invalid or missing principal", http.StatusUnauthorized)
}

func ErrForbidden() *AppError {
	return New("API_004", KindForbidden, CategoryTransport,
		"Principal lacks the required role", http.StatusForbidden)
}

func ErrRateLimitExceeded() *AppError {
	return New("API_003", KindRateLimited, CategoryTransport,
		"Rate limit exceeded", http.StatusTooManyRequests)
}
