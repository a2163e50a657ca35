// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package geotiff

import (
	"bytes"
	"compress/lzw"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_HeaderAndIFDStructure(t *testing.T) {
	bounds := Bounds{Zoom: 9, West: 100, North: 200, Width: 2, Height: 2}
	planes := [][]int32{
		{1, 2, 3, 4},
		{-1, -2, -3, -4},
	}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, bounds, planes))

	data := buf.Bytes()
	require.GreaterOrEqual(t, len(data), 16)
	assert.Equal(t, []byte{'I', 'I'}, data[0:2])
	assert.Equal(t, uint16(42), binary.LittleEndian.Uint16(data[2:4]))

	ifdOffset := binary.LittleEndian.Uint32(data[4:8])
	assert.Equal(t, uint32(8), ifdOffset)

	count := binary.LittleEndian.Uint16(data[ifdOffset : ifdOffset+2])
	assert.Equal(t, uint16(13), count)
}

func TestEncode_StripsDecompressToOriginalBands(t *testing.T) {
	bounds := Bounds{Width: 3, Height: 3}
	planes := [][]int32{
		{10, 20, 30, 40, 50, 60, 70, 80, 90},
	}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, bounds, planes))
	data := buf.Bytes()

	ifdOffset := binary.LittleEndian.Uint32(data[4:8])
	count := int(binary.LittleEndian.Uint16(data[ifdOffset : ifdOffset+2]))

	var stripOffset, stripByteCount uint32
	for i := 0; i < count; i++ {
		entryStart := int(ifdOffset) + 2 + i*12
		tag := binary.LittleEndian.Uint16(data[entryStart : entryStart+2])
		valueOffset := binary.LittleEndian.Uint32(data[entryStart+8 : entryStart+12])
		switch tag {
		case tagStripOffsets:
			stripOffset = valueOffset
		case tagStripByteCounts:
			stripByteCount = valueOffset
		}
	}
	require.NotZero(t, stripOffset)
	require.NotZero(t, stripByteCount)

	compressed := data[stripOffset : stripOffset+stripByteCount]
	r := lzw.NewReader(bytes.NewReader(compressed), lzw.LSB, 8)
	raw, err := io.ReadAll(r)
	require.NoError(t, err)

	values := make([]int32, 9)
	for i := range values {
		values[i] = int32(binary.LittleEndian.Uint32(raw[i*4 : i*4+4]))
	}
	assert.Equal(t, []int32{10, 20, 30, 40, 50, 60, 70, 80, 90}, values)
}

func TestEncode_RejectsMismatchedBandLength(t *testing.T) {
	var buf bytes.Buffer
	err := Encode(&buf, Bounds{Width: 2, Height: 2}, [][]int32{{1, 2, 3}})
	assert.Error(t, err)
}

func TestEncode_RejectsNoBands(t *testing.T) {
	var buf bytes.Buffer
	err := Encode(&buf, Bounds{Width: 2, Height: 2}, nil)
	assert.Error(t, err)
}
