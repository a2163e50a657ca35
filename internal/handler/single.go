// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package handler implements the two task-execution paths that share the
// same external capabilities: the synchronous Single-Point Handler (C5) and
// the asynchronous Regional Handler (C6).
package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/conveyal/r5-worker/internal/geotiff"
	"github.com/conveyal/r5-worker/internal/gridfile"
	"github.com/conveyal/r5-worker/internal/network"
	"github.com/conveyal/r5-worker/internal/pointset"
	"github.com/conveyal/r5-worker/internal/routing"
	"github.com/conveyal/r5-worker/internal/task"
	"github.com/conveyal/r5-worker/internal/tracker"
	"github.com/conveyal/r5-worker/pkg/logging"
)

// NotReadyError is returned by the single-point handler when the requested
// graph has not finished preparing. The surrounding HTTP endpoint maps this
// to a 202 response carrying Progress.
type NotReadyError struct {
	Progress network.Progress
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("graph not ready: %s (%d%%)", e.Progress.State, e.Progress.PercentComplete)
}

// ScenarioInfo summarizes how a scenario was applied to the base network, for
// inclusion in the single-point response's trailing metadata block.
type ScenarioInfo struct {
	ScenarioID string   `json:"scenarioId,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
}

// PathSummary is one itinerary summary optionally attached to a single-point
// response.
type PathSummary struct {
	Route    string `json:"route,omitempty"`
	Duration int    `json:"durationSeconds"`
}

// singlePointMetadata is the JSON block appended after the binary payload in
// a single-point response.
type singlePointMetadata struct {
	AccessibilityValues [][][]int64   `json:"accessibilityValues,omitempty"`
	ScenarioWarnings    []string      `json:"scenarioWarnings,omitempty"`
	ScenarioInfo        *ScenarioInfo `json:"scenarioApplicationInfo,omitempty"`
	PathSummaries       []PathSummary `json:"pathSummaries,omitempty"`
}

const tauiCutoffCount = 121 // 0..120 inclusive

// SinglePointHandler answers one interactive task synchronously: it never
// blocks on graph preparation, returning NotReadyError immediately instead.
type SinglePointHandler struct {
	preloader network.Preloader
	engine    routing.Engine
	pointsets pointset.Cache
	tracker   *tracker.Tracker
	logger    logging.Logger
}

// NewSinglePointHandler constructs a SinglePointHandler from its external
// capabilities.
func NewSinglePointHandler(preloader network.Preloader, engine routing.Engine, pointsets pointset.Cache, trk *tracker.Tracker, logger logging.Logger) *SinglePointHandler {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &SinglePointHandler{
		preloader: preloader,
		engine:    engine,
		pointsets: pointsets,
		tracker:   trk,
		logger:    logger,
	}
}

// Handle executes the single-point contract (spec.md §4.4's five steps) and
// returns the binary response body: either GeoTIFF or the proprietary grid
// format, followed by a JSON metadata block.
func (h *SinglePointHandler) Handle(ctx context.Context, t *task.Task) ([]byte, error) {
	key := network.Key{GraphID: t.GraphID, ScenarioID: t.ScenarioID}

	graph, progress, ok := h.preloader.TryGet(key)
	if !ok {
		return nil, &NotReadyError{Progress: progress}
	}

	if len(t.DestinationPointSetKeys) > 0 {
		t.CutoffsMinutes = make([]int, tauiCutoffCount)
		for i := range t.CutoffsMinutes {
			t.CutoffsMinutes[i] = i
		}
		if _, err := h.pointsets.LoadAndValidate(ctx, t.DestinationPointSetKeys); err != nil {
			return nil, fmt.Errorf("single-point: load destination point sets: %w", err)
		}
	}

	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("single-point: %w", err)
	}

	result, err := h.engine.Route(ctx, graph, t)
	if err != nil {
		return nil, fmt.Errorf("single-point: routing: %w", err)
	}

	var buf bytes.Buffer
	if t.Format == task.FormatGeoTIFF {
		if err := h.writeGeoTIFF(&buf, t, result); err != nil {
			return nil, fmt.Errorf("single-point: encode geotiff: %w", err)
		}
	} else {
		if err := h.writeGrid(&buf, t, result); err != nil {
			return nil, fmt.Errorf("single-point: encode grid: %w", err)
		}
	}

	meta := singlePointMetadata{
		AccessibilityValues: result.Accessibility,
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("single-point: encode metadata: %w", err)
	}
	buf.Write(metaBytes)

	h.tracker.Record(tracker.SingleKey(t.ScenarioID))

	return buf.Bytes(), nil
}

func (h *SinglePointHandler) writeGrid(buf *bytes.Buffer, t *task.Task, result *task.OneOriginResult) error {
	planes := [][]int32{}
	if result.TravelTimes != nil {
		planes = result.TravelTimes.Values
	}
	header := gridfile.Header{
		Version:        1,
		Zoom:           int32(t.Grid.Zoom),
		West:           int32(t.Grid.West),
		North:          int32(t.Grid.North),
		Width:          int32(t.Grid.Width),
		Height:         int32(t.Grid.Height),
		ValuesPerPixel: int32(len(planes)),
	}
	return gridfile.WriteTimeGrid(buf, header, planes)
}

func (h *SinglePointHandler) writeGeoTIFF(buf *bytes.Buffer, t *task.Task, result *task.OneOriginResult) error {
	bounds := geotiff.Bounds{
		Zoom:   t.Grid.Zoom,
		West:   t.Grid.West,
		North:  t.Grid.North,
		Width:  t.Grid.Width,
		Height: t.Grid.Height,
	}
	var planes [][]int32
	if result.TravelTimes != nil {
		planes = result.TravelTimes.Values
	}
	return geotiff.Encode(buf, bounds, planes)
}
