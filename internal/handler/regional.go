// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/conveyal/r5-worker/internal/gridfile"
	"github.com/conveyal/r5-worker/internal/network"
	"github.com/conveyal/r5-worker/internal/pointset"
	"github.com/conveyal/r5-worker/internal/resultbuffer"
	"github.com/conveyal/r5-worker/internal/routing"
	"github.com/conveyal/r5-worker/internal/storage"
	"github.com/conveyal/r5-worker/internal/task"
	"github.com/conveyal/r5-worker/internal/tracker"
	"github.com/conveyal/r5-worker/pkg/errors"
	"github.com/conveyal/r5-worker/pkg/logging"
)

// maxTripDurationCapMinutes is the hard ceiling a decay function's zero point
// is clamped to (spec.md §4.5 step 2 / §8 invariant).
const maxTripDurationCapMinutes = 120

// DecayFunction reports the trip duration, in seconds, at which a travel-time
// decay weighting first reaches zero for a given cutoff. The routing
// capability owns the actual decay curve; this interface only exposes the
// one query the regional handler needs to derive maxTripDurationMinutes.
type DecayFunction interface {
	ZeroPointSeconds(cutoffMinutes int) float64
}

// HardCutoffDecay is a step decay function: weight is 1 up to the cutoff and
// 0 after it, so its zero point is exactly the cutoff itself.
type HardCutoffDecay struct{}

// ZeroPointSeconds implements DecayFunction.
func (HardCutoffDecay) ZeroPointSeconds(cutoffMinutes int) float64 {
	return float64(cutoffMinutes) * 60
}

// RegionalHandler computes one origin within a large job and stashes its
// result in the Result Buffer; it never returns a value directly.
type RegionalHandler struct {
	preloader network.Preloader
	engine    routing.Engine
	pointsets pointset.Cache
	store     storage.ObjectStore
	bucket    string
	buffer    *resultbuffer.Buffer
	tracker   *tracker.Tracker
	decay     DecayFunction
	logger    logging.Logger

	mu        sync.Mutex
	networkID string
}

// NewRegionalHandler constructs a RegionalHandler. decay may be nil, in which
// case HardCutoffDecay is used.
func NewRegionalHandler(preloader network.Preloader, engine routing.Engine, pointsets pointset.Cache, store storage.ObjectStore, bucket string, buffer *resultbuffer.Buffer, trk *tracker.Tracker, decay DecayFunction, logger logging.Logger) *RegionalHandler {
	if decay == nil {
		decay = HardCutoffDecay{}
	}
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &RegionalHandler{
		preloader: preloader,
		engine:    engine,
		pointsets: pointsets,
		store:     store,
		bucket:    bucket,
		buffer:    buffer,
		tracker:   trk,
		decay:     decay,
		logger:    logger,
	}
}

// NetworkID reports the sticky network id most recently recorded by a
// regional compute (spec.md §5: "racy reads are acceptable, only
// informational").
func (h *RegionalHandler) NetworkID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.networkID
}

// Handle is the taskqueue.Handler entry point: it executes the nine-step
// regional algorithm and guarantees every outcome, success or failure, is
// appended to the Result Buffer. It never lets a panic escape, matching
// spec.md §4.5's "any throwable escaping steps 4-8 must be caught at the
// outer runnable boundary."
func (h *RegionalHandler) Handle(t *task.Task) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("regional handler panicked", "jobId", t.JobID, "taskId", t.TaskID, "panic", r)
			h.buffer.Append(task.NewErrorResult(t.JobID, t.TaskID, string(errors.ErrorCodeCompute), fmt.Sprintf("panic: %v", r)))
		}
	}()

	result, err := h.process(context.Background(), t)
	if err != nil {
		code := string(errors.ErrorCodeCompute)
		switch e := err.(type) {
		case *errors.WorkerError:
			code = string(e.Code)
		case *errors.ValidationError:
			code = string(e.Code)
		}
		h.buffer.Append(task.NewErrorResult(t.JobID, t.TaskID, code, err.Error()))
		return
	}
	h.buffer.Append(result)
	h.tracker.Record(t.JobID)
}

func (h *RegionalHandler) process(ctx context.Context, t *task.Task) (task.RegionalWorkResult, error) {
	maxCutoff := t.MaxCutoffMinutes()
	zeroSeconds := h.decay.ZeroPointSeconds(maxCutoff)
	maxTripDurationMinutes := int(math.Ceil(zeroSeconds / 60))
	if maxTripDurationMinutes > maxTripDurationCapMinutes {
		h.logger.Warn("regional handler: capping maxTripDurationMinutes",
			"jobId", t.JobID, "taskId", t.TaskID, "computed", maxTripDurationMinutes, "cap", maxTripDurationCapMinutes)
		maxTripDurationMinutes = maxTripDurationCapMinutes
	}
	h.logger.Debug("regional handler: decay zero point", "jobId", t.JobID, "taskId", t.TaskID, "maxTripDurationMinutes", maxTripDurationMinutes)

	if len(t.CutoffsMinutes) == 0 || len(t.Percentiles) == 0 {
		return task.RegionalWorkResult{}, errors.NewValidationError("cutoffsMinutes and percentiles must both be non-empty", "cutoffsMinutes/percentiles", nil)
	}

	key := network.Key{GraphID: t.GraphID, ScenarioID: t.ScenarioID}
	graph, err := h.preloader.Get(ctx, key)
	if err != nil {
		return task.RegionalWorkResult{}, fmt.Errorf("regional: acquire graph: %w", err)
	}
	h.mu.Lock()
	h.networkID = t.GraphID
	h.mu.Unlock()

	if !t.MakeTauiSite {
		if _, err := h.pointsets.LoadAndValidate(ctx, t.DestinationPointSetKeys); err != nil {
			return task.RegionalWorkResult{}, fmt.Errorf("regional: load destination point sets: %w", err)
		}
	}

	if t.MakeTauiSite && t.TaskID == 0 {
		meta := []byte(fmt.Sprintf(`{"jobId":%q,"graphId":%q,"scenarioId":%q}`, t.JobID, t.GraphID, t.ScenarioID))
		if err := h.store.Put(ctx, h.bucket, t.JobID+"_metadata.json", bytes.NewReader(meta)); err != nil {
			return task.RegionalWorkResult{}, fmt.Errorf("regional: write job metadata: %w", err)
		}
	}

	result, err := h.engine.Route(ctx, graph, t)
	if err != nil {
		return task.RegionalWorkResult{}, fmt.Errorf("regional: routing: %w", err)
	}

	accessibility := result.Accessibility
	travelTimes := result.TravelTimes

	if t.MakeTauiSite {
		if result.TravelTimes != nil && anyReached(result.TravelTimes.Values) {
			if err := h.storeTimeGrid(ctx, t, result.TravelTimes); err != nil {
				return task.RegionalWorkResult{}, fmt.Errorf("regional: store time grid: %w", err)
			}
		}
		// Replace the result with a zero-filled sentinel: the broker only
		// needs to track progress, not transport the full time grid.
		accessibility = zeroAccessibility(t)
		travelTimes = nil
	}

	return task.RegionalWorkResult{
		JobID:               t.JobID,
		TaskID:              t.TaskID,
		AccessibilityValues: accessibility,
		TravelTimes:         travelTimes,
	}, nil
}

func (h *RegionalHandler) storeTimeGrid(ctx context.Context, t *task.Task, grid *task.TimeGrid) error {
	header := gridfile.Header{
		Version:        1,
		Zoom:           int32(t.Grid.Zoom),
		West:           int32(t.Grid.West),
		North:          int32(t.Grid.North),
		Width:          int32(t.Grid.Width),
		Height:         int32(t.Grid.Height),
		ValuesPerPixel: int32(len(grid.Values)),
	}
	var buf bytes.Buffer
	if err := gridfile.WriteTimeGrid(&buf, header, grid.Values); err != nil {
		return err
	}
	key := fmt.Sprintf("%d_times.dat", t.TaskID)
	return h.store.Put(ctx, h.bucket, key, &buf)
}

func anyReached(planes [][]int32) bool {
	for _, plane := range planes {
		for _, v := range plane {
			if v > 0 {
				return true
			}
		}
	}
	return false
}

func zeroAccessibility(t *task.Task) [][][]int64 {
	out := make([][][]int64, 1)
	out[0] = make([][]int64, len(t.Percentiles))
	for i := range out[0] {
		out[0][i] = make([]int64, len(t.CutoffsMinutes))
	}
	return out
}
