package config

import "errors"

var (
	// ErrMissingBrokerAddress is returned when the broker address is not set
	ErrMissingBrokerAddress = errors.New("broker address is required")

	// ErrInvalidBrokerPort is returned when the broker port is out of range
	ErrInvalidBrokerPort = errors.New("broker port must be between 1 and 65535")

	// ErrInvalidTimeout is returned when the timeout is invalid
	ErrInvalidTimeout = errors.New("timeout must be greater than 0")

	// ErrInvalidMaxRetries is returned when max retries is invalid
	ErrInvalidMaxRetries = errors.New("max retries must be greater than or equal to 0")
)
