// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package ctxutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureTimeout(t *testing.T) {
	t.Run("no existing deadline", func(t *testing.T) {
		ctx := context.Background()
		defaultTimeout := 30 * time.Second

		timeoutCtx, cancel := EnsureTimeout(ctx, defaultTimeout)
		defer cancel()

		deadline, hasDeadline := timeoutCtx.Deadline()
		assert.True(t, hasDeadline)

		expectedDeadline := time.Now().Add(defaultTimeout)
		assert.WithinDuration(t, expectedDeadline, deadline, 100*time.Millisecond)
	})

	t.Run("existing deadline", func(t *testing.T) {
		existingDeadline := time.Now().Add(1 * time.Hour)
		ctx, cancel := context.WithDeadline(context.Background(), existingDeadline)
		defer cancel()

		timeoutCtx, cancelFunc := EnsureTimeout(ctx, 30*time.Second)

		// Cancel function should be a no-op
		cancelFunc()

		actualDeadline, hasDeadline := timeoutCtx.Deadline()
		assert.True(t, hasDeadline)
		assert.Equal(t, existingDeadline, actualDeadline)
		assert.Equal(t, ctx, timeoutCtx)
	})

	t.Run("zero default timeout", func(t *testing.T) {
		ctx := context.Background()

		timeoutCtx, cancel := EnsureTimeout(ctx, 0)
		defer cancel()

		deadline, hasDeadline := timeoutCtx.Deadline()
		assert.True(t, hasDeadline)

		// Should use DefaultTimeout
		expectedDeadline := time.Now().Add(DefaultTimeout)
		assert.WithinDuration(t, expectedDeadline, deadline, 100*time.Millisecond)
	})
}

func TestIsContextError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: false,
		},
		{
			name:     "context canceled",
			err:      context.Canceled,
			expected: true,
		},
		{
			name:     "context deadline exceeded",
			err:      context.DeadlineExceeded,
			expected: true,
		},
		{
			name:     "other error",
			err:      errors.New("some other error"),
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsContextError(tt.err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestContextError(t *testing.T) {
	t.Run("deadline exceeded", func(t *testing.T) {
		err := &ContextError{
			Operation: "test-operation",
			Timeout:   30 * time.Second,
			Err:       context.DeadlineExceeded,
		}

		expected := "operation 'test-operation' timed out after 30s"
		assert.Equal(t, expected, err.Error())
		assert.Equal(t, context.DeadlineExceeded, err.Unwrap())
	})

	t.Run("canceled", func(t *testing.T) {
		err := &ContextError{
			Operation: "test-operation",
			Timeout:   30 * time.Second,
			Err:       context.Canceled,
		}

		expected := "operation 'test-operation' was canceled"
		assert.Equal(t, expected, err.Error())
		assert.Equal(t, context.Canceled, err.Unwrap())
	})

	t.Run("other context error", func(t *testing.T) {
		customErr := errors.New("custom context error")
		err := &ContextError{
			Operation: "test-operation",
			Timeout:   30 * time.Second,
			Err:       customErr,
		}

		expected := "context error in operation 'test-operation': custom context error"
		assert.Equal(t, expected, err.Error())
		assert.Equal(t, customErr, err.Unwrap())
	})
}

func TestWrapContextError(t *testing.T) {
	t.Run("context error", func(t *testing.T) {
		operation := "test-operation"
		timeout := 30 * time.Second

		wrappedErr := WrapContextError(context.DeadlineExceeded, operation, timeout)

		require.IsType(t, &ContextError{}, wrappedErr)
		contextErr := wrappedErr.(*ContextError)
		assert.Equal(t, operation, contextErr.Operation)
		assert.Equal(t, timeout, contextErr.Timeout)
		assert.Equal(t, context.DeadlineExceeded, contextErr.Err)
	})

	t.Run("non-context error", func(t *testing.T) {
		originalErr := errors.New("not a context error")
		operation := "test-operation"
		timeout := 30 * time.Second

		wrappedErr := WrapContextError(originalErr, operation, timeout)

		assert.Equal(t, originalErr, wrappedErr)
	})

	t.Run("nil error", func(t *testing.T) {
		operation := "test-operation"
		timeout := 30 * time.Second

		wrappedErr := WrapContextError(nil, operation, timeout)

		assert.Nil(t, wrappedErr)
	})
}

func TestConstants(t *testing.T) {
	assert.Equal(t, 55*time.Second, DefaultTimeout)
}
