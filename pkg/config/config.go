// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the worker's runtime configuration. The five fields named in
// the core contract (BrokerAddress, BrokerPort, InitialGraphID,
// ListenForSinglePoint, TestTaskRedelivery) are the only knobs a deployment
// is required to set; the rest are ambient defaults carried from request
// handling and observability.
type Config struct {
	// BrokerAddress is the host the worker polls for work
	BrokerAddress string

	// BrokerPort is the port the broker listens on
	BrokerPort int

	// InitialGraphID is the network/graph id to load at startup
	InitialGraphID string

	// ListenForSinglePoint enables the POST /single HTTP endpoint
	ListenForSinglePoint bool

	// TestTaskRedelivery forces the worker to simulate a crash after
	// accepting a task, exercising the broker's redelivery path
	TestTaskRedelivery bool

	// Timeout is the HTTP socket timeout applied to broker and preloader requests
	Timeout time.Duration

	// MaxRetries is the maximum number of retries for network/object-store clients
	// that do retry (the poll/report path itself never retries)
	MaxRetries int

	// RetryWaitMin is the minimum wait time between retries
	RetryWaitMin time.Duration

	// RetryWaitMax is the maximum wait time between retries
	RetryWaitMax time.Duration

	// Debug enables debug-level logging
	Debug bool

	// ListenAddress is the address the single-point/health/metrics HTTP server binds to
	ListenAddress string
}

// NewDefault creates a new configuration with default values
func NewDefault() *Config {
	return &Config{
		BrokerAddress:        getEnvOrDefault("R5_BROKER_ADDRESS", "localhost"),
		BrokerPort:           getEnvIntOrDefault("R5_BROKER_PORT", 7070),
		InitialGraphID:       getEnvOrDefault("R5_INITIAL_GRAPH_ID", ""),
		ListenForSinglePoint: getEnvBoolOrDefault("R5_LISTEN_FOR_SINGLE_POINT", false),
		TestTaskRedelivery:   getEnvBoolOrDefault("R5_TEST_TASK_REDELIVERY", false),
		Timeout:              55 * time.Second,
		MaxRetries:           3,
		RetryWaitMin:         1 * time.Second,
		RetryWaitMax:         30 * time.Second,
		Debug:                getEnvBoolOrDefault("R5_DEBUG", false),
		ListenAddress:        getEnvOrDefault("R5_LISTEN_ADDRESS", ":7080"),
	}
}

// Load loads configuration from environment variables, overriding any values
// already present on c
func (c *Config) Load() {
	if addr := os.Getenv("R5_BROKER_ADDRESS"); addr != "" {
		c.BrokerAddress = addr
	}

	if port := os.Getenv("R5_BROKER_PORT"); port != "" {
		if i, err := strconv.Atoi(port); err == nil {
			c.BrokerPort = i
		}
	}

	if graphID := os.Getenv("R5_INITIAL_GRAPH_ID"); graphID != "" {
		c.InitialGraphID = graphID
	}

	if timeout := os.Getenv("R5_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			c.Timeout = d
		}
	}

	if maxRetries := os.Getenv("R5_MAX_RETRIES"); maxRetries != "" {
		if i, err := strconv.Atoi(maxRetries); err == nil {
			c.MaxRetries = i
		}
	}

	if listenAddr := os.Getenv("R5_LISTEN_ADDRESS"); listenAddr != "" {
		c.ListenAddress = listenAddr
	}

	c.ListenForSinglePoint = getEnvBoolOrDefault("R5_LISTEN_FOR_SINGLE_POINT", c.ListenForSinglePoint)
	c.TestTaskRedelivery = getEnvBoolOrDefault("R5_TEST_TASK_REDELIVERY", c.TestTaskRedelivery)
	c.Debug = getEnvBoolOrDefault("R5_DEBUG", c.Debug)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.BrokerAddress == "" {
		return ErrMissingBrokerAddress
	}

	if c.BrokerPort <= 0 || c.BrokerPort > 65535 {
		return ErrInvalidBrokerPort
	}

	if c.Timeout <= 0 {
		return ErrInvalidTimeout
	}

	if c.MaxRetries < 0 {
		return ErrInvalidMaxRetries
	}

	return nil
}

// BrokerURL returns the broker's base URL, e.g. "http://localhost:7070"
func (c *Config) BrokerURL() string {
	return fmt.Sprintf("http://%s:%d", c.BrokerAddress, c.BrokerPort)
}

// getEnvOrDefault returns the environment variable value or a default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBoolOrDefault returns the environment variable value as a boolean or a default value
func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvIntOrDefault returns the environment variable value as an int or a default value
func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
