package apperror

import (
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
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

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// ---- Ledger Business Logic (LGR) ----

func ErrAccountNotFound(ref string) *AppError {
	return New("LGR_001", fmt.Sprintf("Account %s not found", ref), http.StatusNotFound)
}

func ErrSelfTransfer() *AppError {
	return New("LGR_002", "Cannot transfer to yourself", http.StatusBadRequest)
}

func ErrInvalidAmount() *AppError {
	return New("LGR_003", "Amount must be a positive integer", http.StatusBadRequest)
}

func ErrInsufficientBalance() *AppError {
	return New("LGR_004", "Insufficient balance", http.StatusPaymentRequired)
}

func ErrBusy() *AppError {
	return New("LGR_005", "Account is contended, please retry", http.StatusConflict)
}

// Validation returns a LGR_006-style validation error.
func Validation(message string) *AppError {
	return New("LGR_006", message, http.StatusBadRequest)
}

// ---- Authentication (AUTH) ----

func ErrUnauthorized() *AppError {
	return New("AUTH_001", "Invalid credentials", http.StatusUnauthorized)
}

func ErrInvalidToken() *AppError {
	return New("AUTH_002", "Invalid or expired token", http.StatusUnauthorized)
}

// ---- System & Infrastructure (SYS) ----

func ErrRateLimitExceeded() *AppError {
	return New("SYS_003", "Too many requests, slow down", http.StatusTooManyRequests)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

// ErrPersistenceFailure marks the integrity incident where balances were
// mutated but the audit row could not be written. Surfaced, never retried.
func ErrPersistenceFailure(err error) *AppError {
	return Wrap("SYS_002", "Ledger persistence failure", http.StatusInternalServerError, err)
}
