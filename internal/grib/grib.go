// Package grib implements a lightweight GRIB2 structural scanner: enough
// to walk a file's section framing, pull out each record's forecast hour,
// parameter identity and fixed-surface (pressure level), and decode its
// packed grid into float32s. It deliberately does not perform
// meteorological unit conversion, JPEG2000/complex packing, or any other
// content transformation beyond un-packing bits into the values the
// encoder packed.
package grib

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"os"

	"github.com/cockroachdb/errors"
)

var (
	gribMagic = []byte("GRIB")
	endMagic  = []byte("7777")
)

// Record is one decoded GRIB2 message.
type Record struct {
	ForecastHour int
	Category     uint8
	Number       uint8
	LevelType    uint8
	LevelValue   int32
	Grid         []float32
}

// ErrUnsupported marks a record this scanner cannot decode (an edition,
// template, or packing scheme outside the subset it implements). Callers
// should treat it as a Decode-class failure.
var ErrUnsupported = errors.New("grib: unsupported message layout")

// ScanReader walks every GRIB2 message in r and returns their decoded
// records in file order.
func ScanReader(r io.ReaderAt, size int64) ([]Record, error) {
	var records []Record
	var offset int64

	for offset < size {
		hdr := make([]byte, 16)
		if _, err := r.ReadAt(hdr, offset); err != nil {
			return nil, errors.Wrap(err, "grib: read section 0")
		}
		if !bytes.Equal(hdr[0:4], gribMagic) {
			return nil, errors.Mark(errors.Newf("grib: missing GRIB marker at offset %d", offset), ErrUnsupported)
		}
		edition := hdr[7]
		if edition != 2 {
			return nil, errors.Mark(errors.Newf("grib: edition %d unsupported", edition), ErrUnsupported)
		}
		totalLen := int64(binary.BigEndian.Uint64(hdr[8:16]))
		if totalLen <= 0 || offset+totalLen > size {
			return nil, errors.Mark(errors.New("grib: invalid message length"), ErrUnsupported)
		}

		msg := make([]byte, totalLen)
		if _, err := r.ReadAt(msg, offset); err != nil {
			return nil, errors.Wrap(err, "grib: read message")
		}
		if !bytes.Equal(msg[totalLen-4:], endMagic) {
			return nil, errors.Mark(errors.New("grib: missing 7777 end marker"), ErrUnsupported)
		}

		rec, err := decodeMessage(msg)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)

		offset += totalLen
	}
	return records, nil
}

// ScanFile opens path and scans it.
func ScanFile(path string) ([]Record, error) {
	f, err := os.Open(path) // #nosec G304 - path is a worker-managed temp file
	if err != nil {
		return nil, errors.Wrap(err, "grib: open")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "grib: stat")
	}
	return ScanReader(f, info.Size())
}

// decodeMessage walks the sections of one complete GRIB2 message (header
// through 7777 inclusive) and decodes its single record.
func decodeMessage(msg []byte) (Record, error) {
	var rec Record
	var gotProduct, gotData bool
	var drLen uint8
	var refValue float32
	var binScale, decScale int16
	var numPoints uint32

	offset := int64(16) // past section 0
	end := int64(len(msg)) - 4 // stop before "7777"

	for offset < end {
		if offset+5 > end {
			return rec, errors.Mark(errors.New("grib: truncated section header"), ErrUnsupported)
		}
		secLen := int64(binary.BigEndian.Uint32(msg[offset : offset+4]))
		secNum := msg[offset+4]
		if secLen <= 0 || offset+secLen > end+4 {
			return rec, errors.Mark(errors.New("grib: invalid section length"), ErrUnsupported)
		}
		sec := msg[offset : offset+secLen]

		switch secNum {
		case 4: // Product Definition Section, template 4.0 assumed
			if len(sec) < 29 {
				return rec, errors.Mark(errors.New("grib: section 4 too short"), ErrUnsupported)
			}
			templateNumber := binary.BigEndian.Uint16(sec[7:9])
			if templateNumber != 0 {
				return rec, errors.Mark(errors.Newf("grib: product template %d unsupported", templateNumber), ErrUnsupported)
			}
			rec.Category = sec[9]
			rec.Number = sec[10]
			timeUnit := sec[17]
			forecastTime := int32(binary.BigEndian.Uint32(sec[18:22]))
			if timeUnit != 1 { // 1 == hours
				return rec, errors.Mark(errors.Newf("grib: time unit %d unsupported", timeUnit), ErrUnsupported)
			}
			rec.ForecastHour = int(forecastTime)
			rec.LevelType = sec[22]
			rec.LevelValue = int32(binary.BigEndian.Uint32(sec[24:28]))
			gotProduct = true

		case 5: // Data Representation Section, template 5.0 (simple packing) assumed
			if len(sec) < 21 {
				return rec, errors.Mark(errors.New("grib: section 5 too short"), ErrUnsupported)
			}
			numPoints = binary.BigEndian.Uint32(sec[5:9])
			templateNumber := binary.BigEndian.Uint16(sec[9:11])
			if templateNumber != 0 {
				return rec, errors.Mark(errors.Newf("grib: data representation template %d unsupported", templateNumber), ErrUnsupported)
			}
			refValue = math.Float32frombits(binary.BigEndian.Uint32(sec[11:15]))
			binScale = int16(binary.BigEndian.Uint16(sec[15:17]))
			decScale = int16(binary.BigEndian.Uint16(sec[17:19]))
			drLen = sec[19]

		case 7: // Data Section
			data := sec[5:]
			grid, err := unpackSimple(data, int(numPoints), refValue, binScale, decScale, drLen)
			if err != nil {
				return rec, err
			}
			rec.Grid = grid
			gotData = true
		}

		offset += secLen
	}

	if !gotProduct || !gotData {
		return rec, errors.Mark(errors.New("grib: message missing product or data section"), ErrUnsupported)
	}
	return rec, nil
}

// unpackSimple decodes GRIB2 "Grid Point Data - Simple Packing" (Data
// Representation Template 5.0): each value is an unsigned integer of
// bitsPerValue width, MSB-first across the byte stream, scaled by
//
//	value = (refValue + packed * 2^binScale) / 10^decScale
func unpackSimple(data []byte, n int, refValue float32, binScale, decScale int16, bitsPerValue uint8) ([]float32, error) {
	if bitsPerValue == 0 {
		// constant field: every point equals refValue
		out := make([]float32, n)
		v := refValue / pow10f(decScale)
		for i := range out {
			out[i] = v
		}
		return out, nil
	}

	br := newBitReader(data)
	out := make([]float32, n)
	binFactor := pow2f(binScale)
	decFactor := pow10f(decScale)
	for i := 0; i < n; i++ {
		bits, err := br.read(int(bitsPerValue))
		if err != nil {
			return nil, errors.Mark(errors.Wrap(err, "grib: unpack data"), ErrUnsupported)
		}
		out[i] = (refValue + float32(bits)*binFactor) / decFactor
	}
	return out, nil
}

func pow2f(e int16) float32 {
	return float32(math.Pow(2, float64(e)))
}

func pow10f(e int16) float32 {
	return float32(math.Pow(10, float64(e)))
}

// bitReader reads big-endian, MSB-first bit runs out of a byte slice.
type bitReader struct {
	data []byte
	pos  int // bit offset
}

func newBitReader(data []byte) *bitReader { return &bitReader{data: data} }

func (b *bitReader) read(nbits int) (uint32, error) {
	if nbits <= 0 || nbits > 32 {
		return 0, errors.Newf("grib: unsupported bit width %d", nbits)
	}
	var v uint32
	for i := 0; i < nbits; i++ {
		byteIdx := b.pos / 8
		if byteIdx >= len(b.data) {
			return 0, errors.New("grib: bit reader ran past end of data")
		}
		bitIdx := 7 - (b.pos % 8)
		bit := (b.data[byteIdx] >> bitIdx) & 1
		v = (v << 1) | uint32(bit)
		b.pos++
	}
	return v, nil
}
