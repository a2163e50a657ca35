// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package httpapi

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/conveyal/r5-worker/internal/handler"
	"github.com/conveyal/r5-worker/internal/network"
	"github.com/conveyal/r5-worker/internal/task"
	"github.com/conveyal/r5-worker/internal/taskqueue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExecutor struct {
	payload []byte
	err     error
}

func (f *fakeExecutor) Handle(ctx context.Context, t *task.Task) ([]byte, error) {
	return f.payload, f.err
}

func TestServer_Single_Success(t *testing.T) {
	exec := &fakeExecutor{payload: []byte("grid-bytes")}
	q := taskqueue.New(1, func(*task.Task) {}, nil)
	srv := New(exec, q, func() string { return "G1" }, nil, nil)

	body, _ := json.Marshal(task.Task{Kind: task.KindSinglePoint, GraphID: "G1"})
	req := httptest.NewRequest(http.MethodPost, "/single", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))

	gz, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	raw, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Equal(t, "grid-bytes", string(raw))
}

func TestServer_Single_NotReadyMapsTo202(t *testing.T) {
	exec := &fakeExecutor{err: &handler.NotReadyError{Progress: network.Progress{State: network.ProgressBuilding, PercentComplete: 42}}}
	srv := New(exec, nil, nil, nil, nil)

	body, _ := json.Marshal(task.Task{})
	req := httptest.NewRequest(http.MethodPost, "/single", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	var parsed map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &parsed))
	assert.Equal(t, "building", parsed["state"])
}

func TestServer_Single_OtherErrorMapsTo500(t *testing.T) {
	exec := &fakeExecutor{err: assert.AnError}
	srv := New(exec, nil, nil, nil, nil)

	body, _ := json.Marshal(task.Task{})
	req := httptest.NewRequest(http.MethodPost, "/single", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_Single_MalformedBodyMapsTo400(t *testing.T) {
	srv := New(&fakeExecutor{}, nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/single", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Health(t *testing.T) {
	q := taskqueue.New(2, func(*task.Task) {}, nil)
	srv := New(&fakeExecutor{}, q, func() string { return "G1" }, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "G1", status.LoadedNetworkID)
	assert.Equal(t, q.Capacity(), status.QueueCapacity)
}

func TestServer_Metrics(t *testing.T) {
	srv := New(&fakeExecutor{}, nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
