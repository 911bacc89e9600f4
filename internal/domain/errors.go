package domain

import "errors"

var (
	// ErrStoreUnavailable indicates the metric store failed. It is
	// terminal for the current request and is not retried by the engine.
	ErrStoreUnavailable = errors.New("metric store unavailable")

	// ErrMerchantNotFound indicates no snapshots exist for a merchant.
	ErrMerchantNotFound = errors.New("merchant not found")
)
