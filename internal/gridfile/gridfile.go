// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package gridfile implements the binary AccessGrid codec shared by the
// assembler (C10) and the single-point/regional handlers' time-grid output
// (§3, §6): a little-endian header followed by a delta-coded payload. Two
// delta-coding layouts are used in the wild: the assembler's own job grid
// delta-codes within each pixel (one pixel's N values are first-differenced),
// while the per-task time-grid output delta-codes within each percentile
// plane (one percentile's row-major destination values are
// first-differenced). Both share the header format and the underlying
// DeltaEncode/DeltaDecode primitive; only the grouping of values differs.
package gridfile

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Magic is the ASCII header prefix identifying an AccessGrid file.
const Magic = "ACCESSGR"

// HeaderSize is the fixed byte length of the header preceding the payload.
const HeaderSize = 36

// Header is the AccessGrid file header (spec.md §3).
type Header struct {
	Version        int32
	Zoom           int32
	West           int32
	North          int32
	Width          int32
	Height         int32
	ValuesPerPixel int32
}

// NTotal returns width*height as a 64-bit value, computed with 64-bit
// arithmetic at the point of multiplication so grids exceeding 2^31 cells
// don't overflow.
func (h Header) NTotal() int64 {
	return int64(h.Width) * int64(h.Height)
}

// DataSize returns the payload size in bytes.
func (h Header) DataSize() int64 {
	return h.NTotal() * int64(h.ValuesPerPixel) * 4
}

// FileSize returns the total pre-compression file size: header plus payload.
func (h Header) FileSize() int64 {
	return int64(HeaderSize) + h.DataSize()
}

// WriteHeader writes h in the on-disk layout.
func WriteHeader(w io.Writer, h Header) error {
	buf := make([]byte, HeaderSize)
	copy(buf[0:8], Magic)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.Version))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(h.Zoom))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(h.West))
	binary.LittleEndian.PutUint32(buf[20:24], uint32(h.North))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(h.Width))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(h.Height))
	binary.LittleEndian.PutUint32(buf[32:36], uint32(h.ValuesPerPixel))
	_, err := w.Write(buf)
	return err
}

// ReadHeader reads and validates an AccessGrid header, rejecting anything
// whose magic doesn't match.
func ReadHeader(r io.Reader) (Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Header{}, fmt.Errorf("gridfile: read header: %w", err)
	}
	if string(buf[0:8]) != Magic {
		return Header{}, fmt.Errorf("gridfile: bad magic %q", buf[0:8])
	}
	return Header{
		Version:        int32(binary.LittleEndian.Uint32(buf[8:12])),
		Zoom:           int32(binary.LittleEndian.Uint32(buf[12:16])),
		West:           int32(binary.LittleEndian.Uint32(buf[16:20])),
		North:          int32(binary.LittleEndian.Uint32(buf[20:24])),
		Width:          int32(binary.LittleEndian.Uint32(buf[24:28])),
		Height:         int32(binary.LittleEndian.Uint32(buf[28:32])),
		ValuesPerPixel: int32(binary.LittleEndian.Uint32(buf[32:36])),
	}, nil
}

// PixelOffset computes the byte offset of pixel (x, y)'s payload within an
// AccessGrid file whose pixels are stored in row-major, pixel-interleaved
// order. index1d is computed as a 64-bit value at the point of
// multiplication to avoid overflow for grids exceeding 2^31 cells.
func PixelOffset(width, valuesPerPixel int, x, y int) int64 {
	index1d := int64(y)*int64(width) + int64(x)
	return int64(HeaderSize) + index1d*int64(valuesPerPixel)*4
}

// DeltaEncode first-differences a sequence of raw values (one pixel's N
// values, or one percentile plane's destination values) into little-endian
// 4-byte ints, with the previous value implicitly zero before the first
// element.
func DeltaEncode(values []int32) []byte {
	buf := make([]byte, len(values)*4)
	var prev int32
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], uint32(v-prev))
		prev = v
	}
	return buf
}

// DeltaDecode reverses DeltaEncode.
func DeltaDecode(data []byte) []int32 {
	n := len(data) / 4
	out := make([]int32, n)
	var prev int32
	for i := 0; i < n; i++ {
		delta := int32(binary.LittleEndian.Uint32(data[i*4 : i*4+4]))
		prev += delta
		out[i] = prev
	}
	return out
}

// WriteTimeGrid serializes a full time-grid file (§6): the header, followed
// by each percentile plane delta-coded independently, the running previous
// value resetting to zero at the start of every plane. planes must have
// exactly h.ValuesPerPixel entries, each of length h.Width*h.Height.
func WriteTimeGrid(w io.Writer, h Header, planes [][]int32) error {
	if int32(len(planes)) != h.ValuesPerPixel {
		return fmt.Errorf("gridfile: expected %d planes, got %d", h.ValuesPerPixel, len(planes))
	}
	if err := WriteHeader(w, h); err != nil {
		return err
	}
	nTotal := int(h.NTotal())
	for i, plane := range planes {
		if len(plane) != nTotal {
			return fmt.Errorf("gridfile: plane %d has %d values, want %d", i, len(plane), nTotal)
		}
		if _, err := w.Write(DeltaEncode(plane)); err != nil {
			return fmt.Errorf("gridfile: write plane %d: %w", i, err)
		}
	}
	return nil
}

// ReadTimeGrid reverses WriteTimeGrid.
func ReadTimeGrid(r io.Reader) (Header, [][]int32, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return Header{}, nil, err
	}

	nTotal := int(h.NTotal())
	planes := make([][]int32, h.ValuesPerPixel)
	buf := make([]byte, nTotal*4)
	for i := range planes {
		if _, err := io.ReadFull(r, buf); err != nil {
			return Header{}, nil, fmt.Errorf("gridfile: read plane %d: %w", i, err)
		}
		plane := make([]byte, len(buf))
		copy(plane, buf)
		planes[i] = DeltaDecode(plane)
	}
	return h, planes, nil
}
