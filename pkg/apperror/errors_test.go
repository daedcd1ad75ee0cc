package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appErr   *AppError
		expected string
	}{
		{
			name:     "without wrapped error",
			appErr:   ErrInsufficientFunds("acc-1"),
			expected: "[BIZ_001] insufficient available balance in account acc-1",
		},
		{
			name:     "with wrapped error",
			appErr:   ErrStorageUnavailable(fmt.Errorf("connection refused")),
			expected: "[SYS_003] Storage unavailable: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.appErr.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	inner := fmt.Errorf("inner error")
	appErr := ErrLockTimeout(inner)

	assert.True(t, errors.Is(appErr, inner))
	assert.Nil(t, Validation("x").Unwrap())
}

func TestAppError_IsMatchesKind(t *testing.T) {
	wrapped := fmt.Errorf("post group: %w", ErrAccountFrozen("a"))

	assert.True(t, errors.Is(wrapped, ErrAccountFrozen("b")))
	assert.False(t, errors.Is(wrapped, ErrAccountClosed("a")))
}

func TestAs_ForeignErrorBecomesInternal(t *testing.T) {
	err := As(errors.New("boom"))
	assert.Equal(t, KindInternal, err.Kind)
	assert.Equal(t, http.StatusInternalServerError, err.HTTPStatus)
	assert.Nil(t, As(nil))
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, KindRiskBlocked, KindOf(fmt.Errorf("x: %w", ErrRiskBlocked(80))))
}

func TestCategories(t *testing.T) {
	tests := []struct {
		name       string
		err        *AppError
		kind       Kind
		category   Category
		httpStatus int
		retryable  bool
	}{
		{"CurrencyMismatch", ErrCurrencyMismatch("USD", "EUR"), KindCurrencyMismatch, CategoryValidation, 422, false},
		{"Unbalanced", ErrUnbalancedGroup("USD"), KindUnbalancedGroup, CategoryValidation, 422, false},
		{"AccountNotFound", ErrAccountNotFound("a"), KindAccountNotFound, CategoryValidation, 404, false},
		{"AccountFrozen", ErrAccountFrozen("a"), KindAccountFrozen, CategoryValidation, 422, false},
		{"AlreadyReversed", ErrAlreadyReversed("g"), KindAlreadyReversed, CategoryValidation, 409, false},
		{"InsufficientFunds", ErrInsufficientFunds("a"), KindInsufficientFunds, CategoryBusiness, 402, false},
		{"RiskBlocked", ErrRiskBlocked(90), KindRiskBlocked, CategoryBusiness, 403, false},
		{"LockTimeout", ErrLockTimeout(nil), KindLockTimeout, CategoryInfrastructure, 503, true},
		{"StorageUnavailable", ErrStorageUnavailable(nil), KindStorageUnavailable, CategoryInfrastructure, 503, true},
		{"InFlight", ErrRequestInFlight("k"), KindRequestInFlight, CategoryTransport, 409, false},
		{"RateLimited", ErrRateLimitExceeded(), KindRateLimited, CategoryTransport, 429, false},
		{"Forbidden", ErrForbidden(), KindForbidden, CategoryTransport, 403, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, tt.err.Kind)
			assert.Equal(t, tt.category, tt.err.Category)
			assert.Equal(t, tt.httpStatus, tt.err.HTTPStatus)
			assert.Equal(t, tt.retryable, tt.err.Retryable())
		})
	}
}
