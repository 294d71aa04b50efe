// Package rest provides an HTTP JSON exchange adapter.
package rest

import (
	"time"
)

// Config holds REST exchange connection configuration.
type Config struct {
	BaseURL string
	APIKey  string

	// Timeouts
	RequestTimeout time.Duration

	// Rate limiting
	MaxRequestsPerSecond int

	// FillPollInterval enables polling GET /fills. Zero disables the fill
	// stream; orders are then resolved by execution responses and TTL.
	FillPollInterval time.Duration
	FillBuffer       int

	UserAgent string
}

// DefaultConfig returns default REST configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:              "http://127.0.0.1:8787",
		RequestTimeout:       10 * time.Second,
		MaxRequestsPerSecond: 10,
		FillPollInterval:     time.Second,
		FillBuffer:           256,
		UserAgent:            "riskflow/rest",
	}
}
