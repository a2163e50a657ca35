// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package assembler implements the grid result assembler (C10): one instance
// per job, collecting per-origin results delivered as binary messages and
// composing them into a single finalized, gzipped AccessGrid file uploaded
// to an object store.
package assembler

import (
	"compress/gzip"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/bits-and-blooms/bitset"

	"github.com/conveyal/r5-worker/internal/gridfile"
	"github.com/conveyal/r5-worker/internal/storage"
	"github.com/conveyal/r5-worker/pkg/logging"
	"github.com/conveyal/r5-worker/pkg/metrics"
)

const (
	metricOriginMessage  = "origin_message"
	metricFinalizeUpload = "finalize_upload"
)

// legacyMagic is the ASCII prefix a prior wire format began each message
// with. The current format omits it; Assembler accepts both on read and
// never emits the legacy form.
const legacyMagic = "ORIGIN"

// Descriptor carries the job-level fields every task in an assembled job
// shares: grid dimensions and the web-mercator placement of that grid.
type Descriptor struct {
	JobID  string
	Zoom   int
	West   int
	North  int
	Width  int
	Height int
}

// Assembler collects per-origin results for one job and finalizes them into
// a single AccessGrid file once every cell has been received. All exported
// methods are safe for concurrent use; a single mutex guards the buffer
// file's seek+write pairs and the finalize step, matching the positional
// atomicity the format requires.
type Assembler struct {
	desc   Descriptor
	bucket string
	store  storage.ObjectStore
	logger logging.Logger
	metric metrics.Collector

	nTotal int64

	mu              sync.Mutex
	file            *os.File
	tmpPath         string
	nIterations     int
	originsReceived *bitset.BitSet
	nComplete       int64
	errored         bool
	finished        bool
}

// New constructs an Assembler for one job. bucket/store are where the
// finalized file is uploaded once every origin has arrived.
func New(desc Descriptor, bucket string, store storage.ObjectStore, logger logging.Logger, collector metrics.Collector) *Assembler {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	nTotal := int64(desc.Width) * int64(desc.Height)
	return &Assembler{
		desc:            desc,
		bucket:          bucket,
		store:           store,
		logger:          logger,
		metric:          collector,
		nTotal:          nTotal,
		originsReceived: bitset.New(uint(nTotal)),
	}
}

// Errored reports whether a dimension mismatch or finalize failure has made
// this job's output unrecoverable without external action.
func (a *Assembler) Errored() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.errored
}

// Finished reports whether finalize has already succeeded for this job.
func (a *Assembler) Finished() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.finished
}

// NComplete reports how many distinct origins have been received so far.
func (a *Assembler) NComplete() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nComplete
}

// HandleMessage decodes one binary Origin message and writes its delta-coded
// samples into the buffer file. If this is the job's final origin, it
// finalizes the job through finishLocked.
func (a *Assembler) HandleMessage(ctx context.Context, data []byte) error {
	start := time.Now()
	a.metric.RecordRequest(metricOriginMessage, a.desc.JobID)

	x, y, samples, err := decodeOriginMessage(data)
	if err != nil {
		a.metric.RecordError(metricOriginMessage, a.desc.JobID, err)
		return fmt.Errorf("assembler: job %s: %w", a.desc.JobID, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.errored {
		err := fmt.Errorf("assembler: job %s already in error state", a.desc.JobID)
		a.metric.RecordError(metricOriginMessage, a.desc.JobID, err)
		return err
	}

	if a.file != nil && len(samples) != a.nIterations {
		a.errored = true
		a.logger.Error("assembler dimension mismatch",
			"jobId", a.desc.JobID, "expected", a.nIterations, "got", len(samples))
		err := fmt.Errorf("assembler: job %s: dimension mismatch: expected %d samples, got %d",
			a.desc.JobID, a.nIterations, len(samples))
		a.metric.RecordError(metricOriginMessage, a.desc.JobID, err)
		return err
	}

	encoded := gridfile.DeltaEncode(samples)

	if a.file == nil {
		if err := a.initLocked(len(samples)); err != nil {
			a.errored = true
			a.metric.RecordError(metricOriginMessage, a.desc.JobID, err)
			return err
		}
	}

	index1d := int64(y)*int64(a.desc.Width) + int64(x)
	if index1d < 0 || index1d >= a.nTotal {
		a.errored = true
		err := fmt.Errorf("assembler: job %s: origin (%d,%d) out of bounds", a.desc.JobID, x, y)
		a.metric.RecordError(metricOriginMessage, a.desc.JobID, err)
		return err
	}

	offset := gridfile.PixelOffset(a.desc.Width, a.nIterations, int(x), int(y))
	if _, err := a.file.WriteAt(encoded, offset); err != nil {
		a.errored = true
		err := fmt.Errorf("assembler: job %s: write pixel (%d,%d): %w", a.desc.JobID, x, y, err)
		a.metric.RecordError(metricOriginMessage, a.desc.JobID, err)
		return err
	}

	if !a.originsReceived.Test(uint(index1d)) {
		a.originsReceived.Set(uint(index1d))
		a.nComplete++
	}

	a.metric.RecordResponse(metricOriginMessage, a.desc.JobID, 0, time.Since(start))

	if a.nComplete == a.nTotal && !a.errored {
		return a.finishLocked(ctx)
	}
	return nil
}

func (a *Assembler) initLocked(nIterations int) error {
	f, err := os.CreateTemp("", fmt.Sprintf("assembler-%s-*.tmp", a.desc.JobID))
	if err != nil {
		return fmt.Errorf("assembler: create buffer file: %w", err)
	}

	header := gridfile.Header{
		Version:        1,
		Zoom:           int32(a.desc.Zoom),
		West:           int32(a.desc.West),
		North:          int32(a.desc.North),
		Width:          int32(a.desc.Width),
		Height:         int32(a.desc.Height),
		ValuesPerPixel: int32(nIterations),
	}
	if err := gridfile.WriteHeader(f, header); err != nil {
		f.Close()
		os.Remove(f.Name())
		return fmt.Errorf("assembler: write header: %w", err)
	}
	// Pre-size so later WriteAt calls never extend the file; sparse on
	// filesystems that support holes. Never write explicit zeros here.
	if err := f.Truncate(header.FileSize()); err != nil {
		f.Close()
		os.Remove(f.Name())
		return fmt.Errorf("assembler: presize buffer file: %w", err)
	}

	a.file = f
	a.tmpPath = f.Name()
	a.nIterations = nIterations
	return nil
}

// finishLocked finalizes the job's buffer file: gzip it, upload it, and
// remove both temporary files. Called with a.mu held. Completion is
// re-verified by population count of the bitset rather than trusting the
// running nComplete counter, the safer of the two per spec.md's open
// question.
func (a *Assembler) finishLocked(ctx context.Context) error {
	if a.finished {
		return nil
	}
	if int64(a.originsReceived.Count()) != a.nTotal {
		return nil
	}

	start := time.Now()
	a.metric.RecordRequest(metricFinalizeUpload, a.desc.JobID)

	tmpPath := a.tmpPath
	if err := a.file.Close(); err != nil {
		a.errored = true
		werr := fmt.Errorf("assembler: job %s: close buffer file: %w", a.desc.JobID, err)
		a.metric.RecordError(metricFinalizeUpload, a.desc.JobID, werr)
		return werr
	}

	gzPath := tmpPath + ".gz"
	if err := gzipFile(tmpPath, gzPath); err != nil {
		a.errored = true
		werr := fmt.Errorf("assembler: job %s: gzip buffer file: %w", a.desc.JobID, err)
		a.metric.RecordError(metricFinalizeUpload, a.desc.JobID, werr)
		return werr
	}
	defer os.Remove(tmpPath)
	defer os.Remove(gzPath)

	gz, err := os.Open(gzPath)
	if err != nil {
		a.errored = true
		werr := fmt.Errorf("assembler: job %s: reopen gzip file: %w", a.desc.JobID, err)
		a.metric.RecordError(metricFinalizeUpload, a.desc.JobID, werr)
		return werr
	}
	defer gz.Close()

	key := a.desc.JobID + ".access"
	if err := a.store.Put(ctx, a.bucket, key, gz); err != nil {
		a.errored = true
		werr := fmt.Errorf("assembler: job %s: upload %s/%s: %w", a.desc.JobID, a.bucket, key, err)
		a.metric.RecordError(metricFinalizeUpload, a.desc.JobID, werr)
		return werr
	}

	a.finished = true
	a.metric.RecordResponse(metricFinalizeUpload, a.desc.JobID, 0, time.Since(start))
	a.logger.Info("assembler finalized job", "jobId", a.desc.JobID, "bucket", a.bucket, "key", key)
	return nil
}

// Terminate closes and deletes the buffer file, releasing resources. Safe to
// call concurrently with HandleMessage; once called, further HandleMessage
// calls on this Assembler are not supported.
func (a *Assembler) Terminate() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.file != nil {
		a.file.Close()
		os.Remove(a.tmpPath)
		a.file = nil
	}
}

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		gz.Close()
		return err
	}
	return gz.Close()
}

// decodeOriginMessage parses a binary Origin message: {x, y, samples[]} with
// N implicit in the payload length, accepting an optional legacy
// "ORIGIN"+version prefix for backward compatibility.
func decodeOriginMessage(data []byte) (x, y int32, samples []int32, err error) {
	if len(data) >= len(legacyMagic)+4 && string(data[:len(legacyMagic)]) == legacyMagic {
		data = data[len(legacyMagic)+4:]
	}

	if len(data) < 8 || (len(data)-8)%4 != 0 {
		return 0, 0, nil, fmt.Errorf("malformed origin message (%d bytes)", len(data))
	}

	x = int32(binary.LittleEndian.Uint32(data[0:4]))
	y = int32(binary.LittleEndian.Uint32(data[4:8]))

	n := (len(data) - 8) / 4
	samples = make([]int32, n)
	for i := 0; i < n; i++ {
		samples[i] = int32(binary.LittleEndian.Uint32(data[8+i*4 : 12+i*4]))
	}
	return x, y, samples, nil
}
