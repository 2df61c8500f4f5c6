package domain

import "errors"

var (
	ErrVariantNotFound     = errors.New("variant not found")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrTenantMismatch      = errors.New("reservation belongs to another tenant")
	ErrInvalidQuantity     = errors.New("quantity must be positive")

	// ErrInsufficientStock is an expected business outcome, not a fault:
	// the requested quantity exceeds what is currently available.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrAlreadyTerminal signals a transition attempt on a reservation that
	// was already confirmed, released or expired.
	ErrAlreadyTerminal = errors.New("reservation already terminal")

	// ErrConcurrencyConflict is transient; callers may retry with backoff.
	ErrConcurrencyConflict = errors.New("concurrent update conflict")
)
