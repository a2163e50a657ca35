// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package poller implements the polling loop (C7): the sole driver of the
// worker, deciding each cycle whether to contact the broker, how many tasks
// to request, and what to do with the tasks and errors that come back.
package poller

import (
	"context"
	"math/rand"
	"time"

	"github.com/conveyal/r5-worker/internal/resultbuffer"
	"github.com/conveyal/r5-worker/internal/task"
	"github.com/conveyal/r5-worker/internal/taskqueue"
	"github.com/conveyal/r5-worker/internal/tracker"
	"github.com/conveyal/r5-worker/pkg/logging"
)

// PollMin is the loop's base sleep between iterations.
const PollMin = 1 * time.Second

// PollMax is the longest the loop will go without contacting the broker,
// regardless of queue state.
const PollMax = 15 * time.Second

// startupJitterMax bounds the random delay added before the first iteration,
// so a fleet of workers restarted together doesn't poll in lockstep.
const startupJitterMax = 5 * time.Second

// Broker is the subset of the broker client the loop depends on.
type Broker interface {
	Poll(ctx context.Context, status *task.WorkerStatus) (tasks []*task.Task, ok bool)
}

// Loop drives the worker's single polling goroutine.
type Loop struct {
	broker  Broker
	queue   *taskqueue.Queue
	buffer  *resultbuffer.Buffer
	tracker *tracker.Tracker
	logger  logging.Logger

	machineID       string
	workerVersion   string
	loadedNetworkID func() string
	processors      int

	lastPoll              time.Time
	receivedWorkLastCycle bool
	now                   func() time.Time
	sleep                 func(time.Duration)
	randomJitter          func(max time.Duration) time.Duration
}

// Config carries the fixed inputs a Loop needs at construction.
type Config struct {
	Broker          Broker
	Queue           *taskqueue.Queue
	Buffer          *resultbuffer.Buffer
	Tracker         *tracker.Tracker
	Logger          logging.Logger
	MachineID       string
	WorkerVersion   string
	Processors      int
	LoadedNetworkID func() string
}

// New constructs a Loop ready to Run.
func New(cfg Config) *Loop {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	loadedNetworkID := cfg.LoadedNetworkID
	if loadedNetworkID == nil {
		loadedNetworkID = func() string { return "" }
	}
	return &Loop{
		broker:          cfg.Broker,
		queue:           cfg.Queue,
		buffer:          cfg.Buffer,
		tracker:         cfg.Tracker,
		logger:          logger,
		machineID:       cfg.MachineID,
		workerVersion:   cfg.WorkerVersion,
		loadedNetworkID: loadedNetworkID,
		processors:      cfg.Processors,
		now:             time.Now,
		sleep:           time.Sleep,
		randomJitter:    func(max time.Duration) time.Duration { return time.Duration(rand.Int63n(int64(max))) },
	}
}

// Run executes the loop forever, or until ctx is cancelled. Each iteration
// follows spec.md §4.7 exactly: sleep, decide whether to poll, size the
// request, drain the result buffer, poll, distribute returned tasks.
func (l *Loop) Run(ctx context.Context) {
	l.sleep(l.randomJitter(startupJitterMax))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		l.sleep(PollMin)

		select {
		case <-ctx.Done():
			return
		default:
		}

		if !l.shouldPoll() {
			continue
		}

		l.runOneCycle(ctx)
	}
}

// shouldPoll implements step 2: poll if the max interval has elapsed, or if
// the last cycle delivered work and fewer than P tasks are queued.
func (l *Loop) shouldPoll() bool {
	if l.lastPoll.IsZero() {
		return true
	}
	elapsed := l.now().Sub(l.lastPoll)
	if elapsed > PollMax {
		return true
	}
	return l.receivedWorkLastCycle && l.queue.Len() < l.processors
}

func (l *Loop) runOneCycle(ctx context.Context) {
	tasksToRequest := l.queue.RemainingCapacity()

	drained := l.buffer.Drain()
	secondsSinceLastPoll := 0.0
	if !l.lastPoll.IsZero() {
		secondsSinceLastPoll = l.now().Sub(l.lastPoll).Seconds()
	}

	status := &task.WorkerStatus{
		MachineID:            l.machineID,
		LoadedNetworkID:      l.loadedNetworkID(),
		WorkerVersion:        l.workerVersion,
		MaxTasksRequested:    tasksToRequest,
		SecondsSinceLastPoll: secondsSinceLastPoll,
		TasksPerMinuteByJob:  l.tracker.TasksPerMinuteByJob(),
		Results:              drained,
	}

	l.lastPoll = l.now()
	returned, ok := l.broker.Poll(ctx, status)
	if !ok {
		l.buffer.Reinsert(drained)
		l.receivedWorkLastCycle = false
		return
	}

	for _, t := range returned {
		if !l.queue.Offer(t) {
			l.logger.Warn("poller: dropping task, queue full", "taskId", t.TaskID, "jobId", t.JobID)
		}
	}

	l.receivedWorkLastCycle = len(returned) > 0
}
