// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package resultbuffer implements the worker's result buffer (C2): a
// thread-safe accumulator for completed regional results, drained atomically
// on every poll cycle and reinserted if delivery fails.
package resultbuffer

import (
	"sync"

	"github.com/conveyal/r5-worker/internal/task"
)

// Buffer accumulates RegionalWorkResults produced by compute threads until
// the polling loop drains them into an outbound status report.
type Buffer struct {
	mu      sync.Mutex
	results []task.RegionalWorkResult
}

// New returns an empty Buffer.
func New() *Buffer {
	return &Buffer{}
}

// Append adds one result. Safe to call concurrently with Drain and Reinsert.
func (b *Buffer) Append(r task.RegionalWorkResult) {
	b.mu.Lock()
	b.results = append(b.results, r)
	b.mu.Unlock()
}

// Drain atomically returns the buffer's contents and replaces it with an
// empty one.
func (b *Buffer) Drain() []task.RegionalWorkResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.results) == 0 {
		return nil
	}
	drained := b.results
	b.results = nil
	return drained
}

// Reinsert puts a previously-drained batch back, interleaved safely with any
// results appended concurrently since the drain. Used when a poll fails to
// deliver the batch it drained, so no completed result is ever lost across a
// transport failure.
func (b *Buffer) Reinsert(batch []task.RegionalWorkResult) {
	if len(batch) == 0 {
		return
	}
	b.mu.Lock()
	b.results = append(batch, b.results...)
	b.mu.Unlock()
}

// Len reports the number of results currently buffered. Informational only;
// callers must not rely on it remaining accurate past the call.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.results)
}
