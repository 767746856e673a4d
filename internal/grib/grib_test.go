package grib

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
)

// buildMessage assembles a minimal, well-formed GRIB2 message using Product
// Definition Template 4.0 and Data Representation Template 5.0 (simple
// packing), mirroring exactly the subset decodeMessage understands.
func buildMessage(t *testing.T, forecastHour int, category, number, levelType uint8, levelValue int32, refValue float32, binScale, decScale int16, bitsPerValue uint8, packed []byte) []byte {
	t.Helper()

	sec4 := make([]byte, 29)
	binary.BigEndian.PutUint32(sec4[0:4], uint32(len(sec4)))
	sec4[4] = 4
	binary.BigEndian.PutUint16(sec4[7:9], 0) // template 4.0
	sec4[9] = category
	sec4[10] = number
	sec4[17] = 1 // time unit: hours
	binary.BigEndian.PutUint32(sec4[18:22], uint32(int32(forecastHour)))
	sec4[22] = levelType
	binary.BigEndian.PutUint32(sec4[24:28], uint32(levelValue))

	sec5 := make([]byte, 21)
	binary.BigEndian.PutUint32(sec5[0:4], uint32(len(sec5)))
	sec5[4] = 5
	binary.BigEndian.PutUint32(sec5[5:9], uint32(len(packed)*8/int(bitsPerValue)))
	binary.BigEndian.PutUint16(sec5[9:11], 0) // template 5.0
	binary.BigEndian.PutUint32(sec5[11:15], math.Float32bits(refValue))
	binary.BigEndian.PutUint16(sec5[15:17], uint16(binScale))
	binary.BigEndian.PutUint16(sec5[17:19], uint16(decScale))
	sec5[19] = bitsPerValue

	sec7 := make([]byte, 5+len(packed))
	binary.BigEndian.PutUint32(sec7[0:4], uint32(len(sec7)))
	sec7[4] = 7
	copy(sec7[5:], packed)

	body := append(append(sec4, sec5...), sec7...)
	totalLen := 16 + len(body) + 4

	msg := make([]byte, 0, totalLen)
	hdr := make([]byte, 16)
	copy(hdr[0:4], gribMagic)
	hdr[7] = 2 // edition
	binary.BigEndian.PutUint64(hdr[8:16], uint64(totalLen))
	msg = append(msg, hdr...)
	msg = append(msg, body...)
	msg = append(msg, endMagic...)
	return msg
}

func TestScanReaderDecodesSimplePacking(t *testing.T) {
	t.Parallel()

	packed := []byte{0, 1, 2, 3}
	msg := buildMessage(t, 6, 0, 0, 100, 50000, 10.0, 0, 0, 8, packed)

	records, err := ScanReader(bytes.NewReader(msg), int64(len(msg)))
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("len(records) = %d, want 1", len(records))
	}

	rec := records[0]
	if rec.ForecastHour != 6 {
		t.Errorf("ForecastHour = %d, want 6", rec.ForecastHour)
	}
	if rec.Category != 0 || rec.Number != 0 {
		t.Errorf("Category/Number = %d/%d, want 0/0", rec.Category, rec.Number)
	}
	if rec.LevelValue != 50000 {
		t.Errorf("LevelValue = %d, want 50000", rec.LevelValue)
	}
	want := []float32{10, 11, 12, 13}
	if len(rec.Grid) != len(want) {
		t.Fatalf("len(Grid) = %d, want %d", len(rec.Grid), len(want))
	}
	for i, v := range want {
		if rec.Grid[i] != v {
			t.Errorf("Grid[%d] = %v, want %v", i, rec.Grid[i], v)
		}
	}
}

func TestScanReaderRejectsBadMagic(t *testing.T) {
	t.Parallel()

	msg := buildMessage(t, 0, 0, 0, 100, 0, 0, 0, 0, 8, []byte{0})
	msg[0] = 'X'

	if _, err := ScanReader(bytes.NewReader(msg), int64(len(msg))); err == nil {
		t.Fatal("expected an error for a corrupted GRIB magic")
	}
}

func TestScanReaderRejectsUnsupportedProductTemplate(t *testing.T) {
	t.Parallel()

	msg := buildMessage(t, 0, 0, 0, 100, 0, 0, 0, 0, 8, []byte{0})
	// Section 4 starts right after the 16-byte section-0 header; its
	// template-number field sits at offset 7-9 within the section.
	binary.BigEndian.PutUint16(msg[16+7:16+9], 1)

	_, err := ScanReader(bytes.NewReader(msg), int64(len(msg)))
	if err == nil {
		t.Fatal("expected ErrUnsupported for a non-4.0 product template")
	}
}

func TestScanFileReadsFromDisk(t *testing.T) {
	t.Parallel()

	msg := buildMessage(t, 12, 2, 2, 100, 85000, 0, 0, 0, 8, []byte{5, 10})
	path := filepath.Join(t.TempDir(), "sample.grib2")
	if err := os.WriteFile(path, msg, 0644); err != nil {
		t.Fatal(err)
	}

	records, err := ScanFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].ForecastHour != 12 {
		t.Fatalf("records = %+v", records)
	}
}

func TestUnpackSimpleConstantField(t *testing.T) {
	t.Parallel()

	grid, err := unpackSimple(nil, 3, 7.5, 0, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range grid {
		if v != 7.5 {
			t.Errorf("grid[%d] = %v, want 7.5", i, v)
		}
	}
}
