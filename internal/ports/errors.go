package ports

import "errors"

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Ledger Errors
	ErrInvalidFill           = errors.New("invalid fill: quantity must be positive and price non-negative")
	ErrPositionNotFound      = errors.New("position not found or already closed")
	ErrInvalidPrice          = errors.New("valuation price must be non-negative")
	ErrSignalAlreadyTerminal = errors.New("signal already acted upon by a different trade")
	ErrLedgerBusy            = errors.New("position busy applying a fill, valuation skipped")

	// Valuation Feed Errors
	ErrFeedUnavailable = errors.New("valuation feed is unavailable")
	ErrRateLimited     = errors.New("API rate limit exceeded")

	// Database Specific Errors
	ErrPersistenceConflict = errors.New("concurrent modification detected at commit")
	ErrDuplicateEntry      = errors.New("database record already exists")
	ErrDBConnection        = errors.New("database connection error")
	ErrQueryFailed         = errors.New("database query failed")
	ErrUpdateFailed        = errors.New("database update failed")
)
