// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package broker implements the broker client (C8): the HTTP wrapper around
// polling for work and reporting per-task errors, using a pooled HTTP client
// with retries disabled (the broker redelivers on its own timeout, not the
// client). It has no call for delivering synchronous results; regional
// results travel back in the body of the next Poll.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/conveyal/r5-worker/internal/task"
	"github.com/conveyal/r5-worker/pkg/ctxutil"
	"github.com/conveyal/r5-worker/pkg/errors"
	"github.com/conveyal/r5-worker/pkg/logging"
	"github.com/conveyal/r5-worker/pkg/metrics"
)

const (
	pollPath           = "/internal/poll"
	completePathFormat = "/internal/complete/%d/%d"
)

// Client wraps the broker's HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     logging.Logger
	metric     metrics.Collector
}

// New constructs a Client. httpClient should come from pkg/pool, tuned per
// spec.md §4.6 (pooled connections, socket timeout >= longest expected
// compute, no automatic retries).
func New(baseURL string, httpClient *http.Client, logger logging.Logger, collector metrics.Collector) *Client {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
		metric:     collector,
	}
}

// Poll posts status to the broker. A nil, true return means "no work"; a
// non-nil, true return carries delivered tasks; a false ok means the caller
// must treat this as a transport failure and reinsert its drained results.
func (c *Client) Poll(ctx context.Context, status *task.WorkerStatus) (tasks []*task.Task, ok bool) {
	ctx, cancel := ctxutil.EnsureTimeout(ctx, ctxutil.DefaultTimeout)
	defer cancel()

	body, err := json.Marshal(status)
	if err != nil {
		c.logger.Error("broker: marshal worker status", "error", err)
		return nil, false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+pollPath, bytes.NewReader(body))
	if err != nil {
		c.logger.Error("broker: build poll request", "error", err)
		return nil, false
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	c.metric.RecordRequest(http.MethodPost, pollPath)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		werr := ctxutil.WrapContextError(err, "poll", ctxutil.DefaultTimeout)
		c.metric.RecordError(http.MethodPost, pollPath, werr)
		c.logger.Warn("broker: poll request failed", "error", werr)
		return nil, false
	}
	defer drainAndClose(resp)

	switch resp.StatusCode {
	case http.StatusNoContent:
		c.metric.RecordResponse(http.MethodPost, pollPath, resp.StatusCode, time.Since(start))
		return nil, true

	case http.StatusOK:
		var decoded []*task.Task
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			c.logger.Error("broker: decode poll response", "error", err)
			return nil, false
		}
		c.metric.RecordResponse(http.MethodPost, pollPath, resp.StatusCode, time.Since(start))
		return decoded, true

	default:
		respBody, _ := io.ReadAll(resp.Body)
		werr := errors.WrapHTTPError(resp.StatusCode, respBody, "")
		c.metric.RecordError(http.MethodPost, pollPath, werr)
		c.logger.Warn("broker: poll returned unexpected status", "status", resp.StatusCode, "error", werr)
		return nil, false
	}
}

// ReportTaskErrors posts a batch of structured error descriptors for one
// task to the broker's completion endpoint.
func (c *Client) ReportTaskErrors(ctx context.Context, taskID int64, httpStatusCode int, taskErrors []task.ErrorDescriptor) error {
	ctx, cancel := ctxutil.EnsureTimeout(ctx, ctxutil.DefaultTimeout)
	defer cancel()

	body, err := json.Marshal(taskErrors)
	if err != nil {
		return fmt.Errorf("broker: marshal task errors: %w", err)
	}

	path := fmt.Sprintf(completePathFormat, httpStatusCode, taskID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("broker: build report request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	c.metric.RecordRequest(http.MethodPost, path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		werr := ctxutil.WrapContextError(err, "report_task_errors", ctxutil.DefaultTimeout)
		c.metric.RecordError(http.MethodPost, path, werr)
		return errors.WrapError(werr)
	}
	defer drainAndClose(resp)

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		werr := errors.WrapHTTPError(resp.StatusCode, respBody, fmt.Sprintf("%d", taskID))
		c.metric.RecordError(http.MethodPost, path, werr)
		return werr
	}

	c.metric.RecordResponse(http.MethodPost, path, resp.StatusCode, time.Since(start))
	return nil
}

// drainAndClose consumes and closes the response body so the underlying
// connection is released back to the pool on every path, including error
// paths (spec.md §4.6).
func drainAndClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
