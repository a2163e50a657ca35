// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package routing defines the transit-routing capability the single-point
// and regional handlers invoke to produce a OneOriginResult. The routing
// engine itself is explicitly out of scope (spec.md §1): it does not route,
// compute accessibility, or parse graphs; this package only models the
// interface the core depends on.
package routing

import (
	"context"

	"github.com/conveyal/r5-worker/internal/network"
	"github.com/conveyal/r5-worker/internal/task"
)

// Engine computes a OneOriginResult for one task against a prepared graph.
type Engine interface {
	Route(ctx context.Context, graph *network.Graph, t *task.Task) (*task.OneOriginResult, error)
}
