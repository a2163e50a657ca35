// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package routing

import (
	"context"

	"github.com/conveyal/r5-worker/internal/network"
	"github.com/conveyal/r5-worker/internal/task"
)

// Fake is an Engine whose result (or error) is configured up front; it
// records every task it was asked to route, for assertions in tests.
type Fake struct {
	Result *task.OneOriginResult
	Err    error
	Routed []*task.Task
}

func (f *Fake) Route(_ context.Context, _ *network.Graph, t *task.Task) (*task.OneOriginResult, error) {
	f.Routed = append(f.Routed, t)
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Result, nil
}
