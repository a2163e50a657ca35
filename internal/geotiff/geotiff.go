// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package geotiff encodes a per-percentile travel-time grid as a baseline
// GeoTIFF: one 32-bit signed band per percentile, LZW-compressed, with
// minimal georeferencing tags derived from the task's (zoom, west, north,
// width, height). No GeoTIFF-writing library exists anywhere in the
// retrieved pack (the one TIFF dependency found, hhrutter/tiff, is a reader
// pulled in transitively by a PDF library, and golang.org/x/image ships no
// TIFF encoder), so this writes the TIFF container directly against the
// standard library's encoding/binary and compress/lzw — see the design
// ledger for the justification.
package geotiff

import (
	"bytes"
	"compress/lzw"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Bounds describes the georeferencing inputs: a web-mercator tile zoom and
// pixel offsets, plus the grid's pixel dimensions.
type Bounds struct {
	Zoom, West, North, Width, Height int
}

const (
	tagImageWidth                = 256
	tagImageLength                = 257
	tagBitsPerSample              = 258
	tagCompression                = 259
	tagPhotometricInterpretation  = 262
	tagStripOffsets               = 273
	tagSamplesPerPixel            = 277
	tagRowsPerStrip               = 278
	tagStripByteCounts            = 279
	tagPlanarConfiguration        = 284
	tagSampleFormat               = 339
	tagModelPixelScale            = 33550
	tagModelTiepoint              = 33922

	compressionLZW = 5
	photometricBlackIsZero = 1
	sampleFormatSignedInt  = 2
	planarConfigSeparate   = 2
)

type ifdEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	value []byte // always 4 bytes inline, or empty if stored out-of-line
	extra []byte // out-of-line payload when value doesn't fit in 4 bytes
}

// Encode writes a multi-band GeoTIFF to w: one LZW-compressed band per
// percentile in planes, each band row-major width*height int32 values.
func Encode(w io.Writer, b Bounds, planes [][]int32) error {
	nBands := len(planes)
	if nBands == 0 {
		return fmt.Errorf("geotiff: no bands to encode")
	}
	nTotal := b.Width * b.Height
	for i, p := range planes {
		if len(p) != nTotal {
			return fmt.Errorf("geotiff: band %d has %d values, want %d", i, len(p), nTotal)
		}
	}

	stripOffsets := make([]uint32, nBands)
	stripByteCounts := make([]uint32, nBands)
	var pixelData bytes.Buffer

	for i, plane := range planes {
		raw := make([]byte, nTotal*4)
		for j, v := range plane {
			binary.LittleEndian.PutUint32(raw[j*4:j*4+4], uint32(v))
		}

		var compressed bytes.Buffer
		lw := lzw.NewWriter(&compressed, lzw.LSB, 8)
		if _, err := lw.Write(raw); err != nil {
			return fmt.Errorf("geotiff: lzw compress band %d: %w", i, err)
		}
		if err := lw.Close(); err != nil {
			return fmt.Errorf("geotiff: lzw close band %d: %w", i, err)
		}

		stripByteCounts[i] = uint32(compressed.Len())
		pixelData.Write(compressed.Bytes())
	}

	const headerSize = 8 // "II" + magic(2) + ifd offset(4)

	entries := []ifdEntry{
		shortEntry(tagImageWidth, uint32(b.Width)),
		shortEntry(tagImageLength, uint32(b.Height)),
		shortArrayEntry(tagBitsPerSample, repeat16(32, nBands)),
		shortEntry(tagCompression, compressionLZW),
		shortEntry(tagPhotometricInterpretation, photometricBlackIsZero),
		longArrayEntry(tagStripOffsets, stripOffsets),
		shortEntry(tagSamplesPerPixel, uint32(nBands)),
		shortEntry(tagRowsPerStrip, uint32(b.Height)),
		longArrayEntry(tagStripByteCounts, stripByteCounts),
		shortEntry(tagPlanarConfiguration, planarConfigSeparate),
		shortArrayEntry(tagSampleFormat, repeat16(sampleFormatSignedInt, nBands)),
		doubleArrayEntry(tagModelPixelScale, []float64{1, 1, 0}),
		doubleArrayEntry(tagModelTiepoint, []float64{0, 0, 0, float64(b.West), float64(b.North), 0}),
	}

	// A dry layout pass gives the IFD's total size without depending on the
	// strip offsets it contains (LONG fields are a fixed 4 bytes regardless
	// of value), so pixel strip placement can be computed from it.
	_, _, ifdSize := layoutIFD(entries, headerSize)
	offset := uint32(headerSize + ifdSize)
	for i := range stripOffsets {
		stripOffsets[i] = offset
		offset += stripByteCounts[i]
	}
	entries[5] = longArrayEntry(tagStripOffsets, stripOffsets)
	ifdBytes, outOfLine, _ := layoutIFD(entries, headerSize)

	if _, err := w.Write([]byte{'I', 'I', 42, 0}); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(headerSize)); err != nil {
		return err
	}
	if _, err := w.Write(ifdBytes); err != nil {
		return err
	}
	if _, err := w.Write(outOfLine); err != nil {
		return err
	}
	if _, err := w.Write(pixelData.Bytes()); err != nil {
		return err
	}
	return nil
}

func repeat16(v uint32, n int) []uint32 {
	out := make([]uint32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func shortEntry(tag uint16, value uint32) ifdEntry {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint16(buf, uint16(value))
	return ifdEntry{tag: tag, typ: 3, count: 1, value: buf}
}

func shortArrayEntry(tag uint16, values []uint32) ifdEntry {
	if len(values) == 1 {
		return shortEntry(tag, values[0])
	}
	extra := make([]byte, len(values)*2)
	for i, v := range values {
		binary.LittleEndian.PutUint16(extra[i*2:i*2+2], uint16(v))
	}
	return ifdEntry{tag: tag, typ: 3, count: uint32(len(values)), extra: extra}
}

func longArrayEntry(tag uint16, values []uint32) ifdEntry {
	if len(values) == 1 {
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, values[0])
		return ifdEntry{tag: tag, typ: 4, count: 1, value: buf}
	}
	extra := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(extra[i*4:i*4+4], v)
	}
	return ifdEntry{tag: tag, typ: 4, count: uint32(len(values)), extra: extra}
}

func doubleArrayEntry(tag uint16, values []float64) ifdEntry {
	extra := make([]byte, len(values)*8)
	for i, v := range values {
		binary.LittleEndian.PutUint64(extra[i*8:i*8+8], math.Float64bits(v))
	}
	return ifdEntry{tag: tag, typ: 12, count: uint32(len(values)), extra: extra}
}

// layoutIFD packs entries into the IFD entry table plus a trailing
// out-of-line area for values that don't fit in 4 bytes, and returns the
// byte offsets of out-of-line data resolved relative to headerSize.
func layoutIFD(entries []ifdEntry, headerSize int) (ifdBytes []byte, outOfLine []byte, totalSize int) {
	count := len(entries)
	ifdTableSize := 2 + count*12 + 4
	outOfLineOffset := headerSize + ifdTableSize

	var table bytes.Buffer
	var trailer bytes.Buffer

	binary.Write(&table, binary.LittleEndian, uint16(count))
	for _, e := range entries {
		binary.Write(&table, binary.LittleEndian, e.tag)
		binary.Write(&table, binary.LittleEndian, e.typ)
		binary.Write(&table, binary.LittleEndian, e.count)
		if len(e.extra) > 0 {
			binary.Write(&table, binary.LittleEndian, uint32(outOfLineOffset+trailer.Len()))
			trailer.Write(e.extra)
		} else {
			v := e.value
			if len(v) < 4 {
				v = append(v, make([]byte, 4-len(v))...)
			}
			table.Write(v)
		}
	}
	binary.Write(&table, binary.LittleEndian, uint32(0)) // no next IFD

	return table.Bytes(), trailer.Bytes(), ifdTableSize + trailer.Len()
}
