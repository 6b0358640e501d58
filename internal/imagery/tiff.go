package imagery

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/mohans/geodiff/internal/engine"
)

// decodeFloatTIFF reads the narrow TIFF profile the Process API produces
// for sampleType FLOAT32: single band, uncompressed, 32-bit IEEE float
// samples, strip layout, either byte order. golang.org/x/image/tiff cannot
// represent float samples, so this profile is decoded directly.

const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagStripOffsets    = 273
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagSamplesPerPixel = 277
	tagSampleFormat    = 339

	compressionNone  = 1
	sampleFormatIEEE = 3
)

var errMalformedTIFF = errors.New("malformed tiff")

type tiffField struct {
	typ    uint16
	count  uint32
	values []uint32
}

func decodeFloatTIFF(data []byte) (*engine.Raster, error) {
	if len(data) < 8 {
		return nil, errMalformedTIFF
	}
	var order binary.ByteOrder
	switch {
	case data[0] == 'I' && data[1] == 'I':
		order = binary.LittleEndian
	case data[0] == 'M' && data[1] == 'M':
		order = binary.BigEndian
	default:
		return nil, errMalformedTIFF
	}
	if order.Uint16(data[2:4]) != 42 {
		return nil, errMalformedTIFF
	}

	fields, err := readIFD(data, order, order.Uint32(data[4:8]))
	if err != nil {
		return nil, err
	}

	width := int(firstValue(fields, tagImageWidth))
	height := int(firstValue(fields, tagImageLength))
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: image %dx%d", errMalformedTIFF, width, height)
	}
	if v := firstValue(fields, tagCompression); v != 0 && v != compressionNone {
		return nil, fmt.Errorf("unsupported tiff compression %d", v)
	}
	if v := firstValue(fields, tagSamplesPerPixel); v > 1 {
		return nil, fmt.Errorf("unsupported tiff with %d samples per pixel", v)
	}
	if v := firstValue(fields, tagBitsPerSample); v != 32 {
		return nil, fmt.Errorf("unsupported tiff with %d bits per sample", v)
	}
	if v := firstValue(fields, tagSampleFormat); v != sampleFormatIEEE {
		return nil, fmt.Errorf("unsupported tiff sample format %d", v)
	}

	offsets, ok := fields[tagStripOffsets]
	if !ok {
		return nil, fmt.Errorf("%w: no strip offsets", errMalformedTIFF)
	}
	counts, ok := fields[tagStripByteCounts]
	if !ok || len(counts.values) != len(offsets.values) {
		return nil, fmt.Errorf("%w: strip counts mismatch", errMalformedTIFF)
	}

	pixels := make([]float64, 0, width*height)
	for i, off := range offsets.values {
		n := counts.values[i]
		if uint64(off)+uint64(n) > uint64(len(data)) || n%4 != 0 {
			return nil, fmt.Errorf("%w: strip %d out of bounds", errMalformedTIFF, i)
		}
		strip := data[off : off+n]
		for p := 0; p+4 <= len(strip); p += 4 {
			pixels = append(pixels, float64(math.Float32frombits(order.Uint32(strip[p:p+4]))))
		}
	}
	if len(pixels) != width*height {
		return nil, fmt.Errorf("%w: %d samples for %dx%d image", errMalformedTIFF, len(pixels), width, height)
	}
	return &engine.Raster{Width: width, Height: height, Pixels: pixels}, nil
}

func readIFD(data []byte, order binary.ByteOrder, offset uint32) (map[uint16]tiffField, error) {
	if uint64(offset)+2 > uint64(len(data)) {
		return nil, errMalformedTIFF
	}
	n := int(order.Uint16(data[offset : offset+2]))
	fields := make(map[uint16]tiffField, n)
	for i := 0; i < n; i++ {
		base := uint64(offset) + 2 + uint64(i)*12
		if base+12 > uint64(len(data)) {
			return nil, errMalformedTIFF
		}
		entry := data[base : base+12]
		tag := order.Uint16(entry[0:2])
		typ := order.Uint16(entry[2:4])
		count := order.Uint32(entry[4:8])
		values, err := readValues(data, order, typ, count, entry[8:12])
		if err != nil {
			return nil, err
		}
		fields[tag] = tiffField{typ: typ, count: count, values: values}
	}
	return fields, nil
}

// readValues extracts SHORT or LONG values, following the offset
// indirection when they do not fit in the 4-byte value slot.
func readValues(data []byte, order binary.ByteOrder, typ uint16, count uint32, slot []byte) ([]uint32, error) {
	var size uint32
	switch typ {
	case 3: // SHORT
		size = 2
	case 4: // LONG
		size = 4
	default:
		// Types we never need (rationals, ascii); skip rather than fail.
		return nil, nil
	}
	total := uint64(size) * uint64(count)
	src := slot
	if total > 4 {
		off := order.Uint32(slot)
		if uint64(off)+total > uint64(len(data)) {
			return nil, errMalformedTIFF
		}
		src = data[off : uint64(off)+total]
	}
	values := make([]uint32, count)
	for i := uint32(0); i < count; i++ {
		if size == 2 {
			values[i] = uint32(order.Uint16(src[i*2 : i*2+2]))
		} else {
			values[i] = order.Uint32(src[i*4 : i*4+4])
		}
	}
	return values, nil
}

func firstValue(fields map[uint16]tiffField, tag uint16) uint32 {
	f, ok := fields[tag]
	if !ok || len(f.values) == 0 {
		return 0
	}
	return f.values[0]
}
