package types

import "errors"

// Sentinel errors for the pipeline.
var (
	// Risk errors
	ErrRiskRejected       = errors.New("risk check rejected")
	ErrDuplicateOrder     = errors.New("duplicate order id")
	ErrRebuildInProgress  = errors.New("risk state rebuild in progress")
	ErrNotInitialized     = errors.New("risk state not initialized")
	ErrStateInconsistency = errors.New("risk state inconsistency")

	// Execution errors
	ErrExecutionFailed    = errors.New("execution failed")
	ErrReservationTimeout = errors.New("reservation timed out")

	// Port errors
	ErrPortUnavailable   = errors.New("port unavailable")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrSourceExhausted   = errors.New("market event source exhausted")

	// Validation errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrInvalidIntent = errors.New("invalid order intent")
	ErrInvalidData   = errors.New("invalid market data")
)
