// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
)

// WrapError converts a generic error into a structured WorkerError
func WrapError(err error) *WorkerError {
	if err == nil {
		return nil
	}

	// If already a WorkerError, return as-is
	var workerErr *WorkerError
	if stderrors.As(err, &workerErr) {
		return workerErr
	}

	// Check for context errors first
	if stderrors.Is(err, context.Canceled) {
		return NewWorkerErrorWithCause(ErrorCodeContextCanceled, "Operation was canceled", err)
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return NewWorkerErrorWithCause(ErrorCodeDeadlineExceeded, "Operation timed out", err)
	}

	// Check for network errors
	if netErr := classifyNetworkError(err); netErr != nil {
		return netErr
	}

	// Check for URL errors
	var urlErr *url.Error
	if stderrors.As(err, &urlErr) {
		return classifyURLError(urlErr)
	}

	// Default to unknown error
	return NewWorkerErrorWithCause(ErrorCodeUnknown, err.Error(), err)
}

// WrapHTTPError converts a broker HTTP response error into a structured WorkerError
func WrapHTTPError(statusCode int, body []byte, taskID string) *WorkerError {
	code := mapHTTPStatusToErrorCode(statusCode)
	message := fmt.Sprintf("HTTP %d: %s", statusCode, http.StatusText(statusCode))

	workerErr := NewWorkerError(code, message)
	workerErr.StatusCode = statusCode
	workerErr.TaskID = taskID

	if len(body) > 0 && len(body) < 1000 { // Include response body if reasonable size
		workerErr.Details = string(body)
	}

	return workerErr
}

// classifyNetworkError identifies and wraps network-related errors
func classifyNetworkError(err error) *WorkerError {
	if err == nil {
		return nil
	}

	// Check for context errors first (before net.Error check)
	// because context.DeadlineExceeded also implements net.Error with Timeout() == true
	// Use errors.Is() to handle wrapped errors
	if stderrors.Is(err, context.Canceled) {
		return NewWorkerErrorWithCause(ErrorCodeContextCanceled, "Operation was canceled", err)
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return NewWorkerErrorWithCause(ErrorCodeDeadlineExceeded, "Operation deadline exceeded", err)
	}

	errStr := err.Error()

	// Check for specific network error types
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		if netErr.Timeout() {
			return NewWorkerErrorWithCause(ErrorCodeNetworkTimeout, "Network operation timed out", err)
		}
		// Note: netErr.Temporary() is deprecated since Go 1.18
		// We classify common temporary network errors by error string patterns
		errorStr := err.Error()
		if strings.Contains(errorStr, "connection reset") ||
			strings.Contains(errorStr, "broken pipe") ||
			strings.Contains(errorStr, "network is unreachable") ||
			strings.Contains(errorStr, "temporary") {
			return NewWorkerErrorWithCause(ErrorCodeConnectionRefused, "Temporary network failure", err)
		}
	}

	// Check for specific error patterns
	switch {
	case strings.Contains(errStr, "connection refused"):
		return NewWorkerErrorWithCause(ErrorCodeConnectionRefused, "Connection refused by broker", err)
	case strings.Contains(errStr, "no such host"):
		return NewWorkerErrorWithCause(ErrorCodeDNSResolution, "DNS resolution failed", err)
	case strings.Contains(errStr, "timeout"):
		return NewWorkerErrorWithCause(ErrorCodeNetworkTimeout, "Network timeout", err)
	case strings.Contains(errStr, "tls"):
		return NewWorkerErrorWithCause(ErrorCodeTLSHandshake, "TLS handshake failed", err)
	case strings.Contains(errStr, "certificate"):
		return NewWorkerErrorWithCause(ErrorCodeTLSHandshake, "TLS certificate error", err)
	}

	// Check for syscall errors
	var opErr *net.OpError
	if stderrors.As(err, &opErr) {
		var dnsErr *net.DNSError
		if stderrors.As(opErr.Err, &dnsErr) {
			return NewWorkerErrorWithCause(ErrorCodeDNSResolution, "DNS lookup failed", dnsErr)
		}
		var syscallErr syscall.Errno
		if stderrors.As(opErr.Err, &syscallErr) {
			switch syscallErr {
			case syscall.ECONNREFUSED:
				return NewWorkerErrorWithCause(ErrorCodeConnectionRefused, "Connection refused", err)
			case syscall.ETIMEDOUT:
				return NewWorkerErrorWithCause(ErrorCodeNetworkTimeout, "Connection timeout", err)
			case syscall.ENETUNREACH:
				return NewWorkerErrorWithCause(ErrorCodeDNSResolution, "Network unreachable", err)
			}
		}
	}

	return nil
}

// classifyURLError handles URL-specific errors
func classifyURLError(urlErr *url.Error) *WorkerError {
	// Extract host and port for network errors
	var host string
	var port int
	if u, err := url.Parse(urlErr.URL); err == nil {
		host = u.Hostname()
		if u.Port() != "" {
			_, _ = fmt.Sscanf(u.Port(), "%d", &port) // Ignore error, port parsing is best-effort
		}
	}

	// Check for context errors first (before network classification)
	if stderrors.Is(urlErr.Err, context.Canceled) {
		return NewWorkerErrorWithCause(ErrorCodeContextCanceled, "Operation was canceled", urlErr)
	}
	if stderrors.Is(urlErr.Err, context.DeadlineExceeded) {
		return NewWorkerErrorWithCause(ErrorCodeDeadlineExceeded, "Operation deadline exceeded", urlErr)
	}

	// Check underlying error
	if netErr := classifyNetworkError(urlErr.Err); netErr != nil {
		if host != "" {
			networkErr := &NetworkError{
				WorkerError: netErr,
				Host:        host,
				Port:        port,
			}
			return networkErr.WorkerError
		}
		return netErr
	}

	// Default URL error handling
	return NewWorkerErrorWithCause(ErrorCodeNetworkTimeout, "URL error: "+urlErr.Op, urlErr)
}

// NewClientError creates errors for client-side issues
func NewClientError(code ErrorCode, message string, details ...string) *WorkerError {
	err := NewWorkerError(code, message)
	if len(details) > 0 {
		err.Details = strings.Join(details, "; ")
	}
	return err
}

// NewValidationErrorf creates a validation error with a formatted message
func NewValidationErrorf(field string, value interface{}, format string, args ...interface{}) *ValidationError {
	message := fmt.Sprintf(format, args...)
	return NewValidationError(message, field, value)
}

// NewTaskError creates task-specific transport/compute errors
func NewTaskError(taskID string, operation string, cause error) *WorkerError {
	var code ErrorCode
	var message string

	causeStr := cause.Error()
	switch {
	case strings.Contains(causeStr, "not found"):
		code = ErrorCodeResourceNotFound
		message = fmt.Sprintf("task %s not found", taskID)
	case strings.Contains(causeStr, "queue full"):
		code = ErrorCodeQueueFull
		message = "task queue is full"
	default:
		code = ErrorCodeCompute
		message = fmt.Sprintf("task %s failed during %s", taskID, operation)
	}

	err := NewWorkerErrorWithCause(code, message, cause)
	err.TaskID = taskID
	err.Details = fmt.Sprintf("operation: %s", operation)
	return err
}

// IsRetryableError checks if an error is retryable
func IsRetryableError(err error) bool {
	var workerErr *WorkerError
	if stderrors.As(err, &workerErr) {
		return workerErr.IsRetryable()
	}

	// Check for known retryable error patterns
	if err != nil {
		errStr := err.Error()
		return strings.Contains(errStr, "timeout") ||
			strings.Contains(errStr, "connection refused") ||
			strings.Contains(errStr, "temporary failure") ||
			strings.Contains(errStr, "service unavailable")
	}

	return false
}

// IsTemporaryError checks if an error is temporary
func IsTemporaryError(err error) bool {
	if err == nil {
		return false
	}

	var workerErr *WorkerError
	if stderrors.As(err, &workerErr) {
		return workerErr.IsTemporary()
	}

	// Check for net.Error interface
	// Note: netErr.Temporary() is deprecated since Go 1.18
	// We classify common temporary errors by timeout or error string patterns
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		if netErr.Timeout() {
			return true
		}
	}

	// Check for common temporary error patterns
	errorStr := err.Error()
	if strings.Contains(errorStr, "connection reset") ||
		strings.Contains(errorStr, "broken pipe") ||
		strings.Contains(errorStr, "network is unreachable") ||
		strings.Contains(errorStr, "temporary") {
		return true
	}

	return false
}

// GetErrorCode extracts the error code from any error
func GetErrorCode(err error) ErrorCode {
	var workerErr *WorkerError
	if stderrors.As(err, &workerErr) {
		return workerErr.Code
	}
	return ErrorCodeUnknown
}

// GetErrorCategory extracts the error category from any error
func GetErrorCategory(err error) ErrorCategory {
	var workerErr *WorkerError
	if stderrors.As(err, &workerErr) {
		return workerErr.Category
	}
	return CategoryUnknown
}

// IsNetworkError checks if an error is a network-related error
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}

	// Check if it's a WorkerError with network category
	var workerErr *WorkerError
	if stderrors.As(err, &workerErr) {
		return workerErr.Category == CategoryNetwork
	}

	// Check if it's a direct network error
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return true
	}

	// Check for URL errors
	var urlErr *url.Error
	if stderrors.As(err, &urlErr) {
		return true
	}

	// Check for specific network error patterns
	errMsg := strings.ToLower(err.Error())
	networkPatterns := []string{
		"connection refused",
		"connection reset",
		"no such host",
		"network unreachable",
		"timeout",
		"tls handshake",
		"dns",
	}

	for _, pattern := range networkPatterns {
		if strings.Contains(errMsg, pattern) {
			return true
		}
	}

	return false
}

// NewNotImplementedError creates errors for operations not yet implemented
func NewNotImplementedError(operation string) *WorkerError {
	message := fmt.Sprintf("operation '%s' is not implemented", operation)
	return NewWorkerError(ErrorCodeUnsupportedOperation, message)
}

// IsNotImplementedError checks if an error is a not implemented error
func IsNotImplementedError(err error) bool {
	var workerErr *WorkerError
	if stderrors.As(err, &workerErr) {
		return workerErr.Code == ErrorCodeUnsupportedOperation
	}
	return false
}

// IsClientError checks if an error is a client-side error
func IsClientError(err error) bool {
	// Check if it's a WorkerError with client category
	var workerErr *WorkerError
	if stderrors.As(err, &workerErr) {
		return workerErr.Category == CategoryClient
	}
	return false
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	// Check if it's directly a ValidationError
	var valErr *ValidationError
	if stderrors.As(err, &valErr) {
		return true
	}
	// Check if it's a WorkerError with validation category
	var workerErr *WorkerError
	if stderrors.As(err, &workerErr) {
		return workerErr.Category == CategoryValidation
	}
	return false
}
