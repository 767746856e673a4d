package grib

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
)

type fakeDataset struct {
	writes []fakeWrite
}

type fakeWrite struct {
	hour, level, variable int
	grid                  []float32
}

func (f *fakeDataset) WriteRecord(hour, level, variable int, grid []float32) error {
	f.writes = append(f.writes, fakeWrite{hour, level, variable, grid})
	return nil
}

type fakeChecklist struct {
	marked []fakeWrite
}

func (f *fakeChecklist) Set(hour, level, variable int) {
	f.marked = append(f.marked, fakeWrite{hour, level, variable, nil})
}

func writeMessageFile(t *testing.T, msg []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "msg.grib2")
	if err := os.WriteFile(path, msg, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestUnpackWritesKnownVariableAndMarksChecklist(t *testing.T) {
	t.Parallel()

	msg := buildMessage(t, 6, 0, 0, 100, 85000, 10, 0, 0, 8, []byte{0, 1})
	path := writeMessageFile(t, msg)

	dw := &fakeDataset{}
	cl := &fakeChecklist{}
	vars := VariableTable{{Category: 0, Number: 0}: 2}

	if err := Unpack(path, dw, cl, nil, 6, vars); err != nil {
		t.Fatal(err)
	}
	if len(dw.writes) != 1 {
		t.Fatalf("len(writes) = %d, want 1", len(dw.writes))
	}
	if dw.writes[0].variable != 2 || dw.writes[0].level != 85000 {
		t.Errorf("write = %+v, want variable=2 level=85000", dw.writes[0])
	}
	if len(cl.marked) != 1 {
		t.Fatalf("len(marked) = %d, want 1", len(cl.marked))
	}
}

func TestUnpackSkipsUnknownVariable(t *testing.T) {
	t.Parallel()

	msg := buildMessage(t, 6, 9, 9, 100, 85000, 10, 0, 0, 8, []byte{0, 1})
	path := writeMessageFile(t, msg)

	dw := &fakeDataset{}
	vars := VariableTable{{Category: 0, Number: 0}: 2}

	if err := Unpack(path, dw, nil, nil, 6, vars); err != nil {
		t.Fatal(err)
	}
	if len(dw.writes) != 0 {
		t.Errorf("len(writes) = %d, want 0 for an untracked parameter", len(dw.writes))
	}
}

func TestUnpackRejectsMismatchedForecastHour(t *testing.T) {
	t.Parallel()

	msg := buildMessage(t, 6, 0, 0, 100, 85000, 10, 0, 0, 8, []byte{0, 1})
	path := writeMessageFile(t, msg)

	dw := &fakeDataset{}
	vars := VariableTable{{Category: 0, Number: 0}: 0}

	err := Unpack(path, dw, nil, nil, 12, vars)
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("err = %v, want ErrUnsupported", err)
	}
}

func TestUnpackAppendsRawBytesToSink(t *testing.T) {
	t.Parallel()

	msg := buildMessage(t, 6, 0, 0, 100, 85000, 10, 0, 0, 8, []byte{0, 1})
	path := writeMessageFile(t, msg)

	var sink bytes.Buffer
	dw := &fakeDataset{}
	vars := VariableTable{{Category: 0, Number: 0}: 0}

	if err := Unpack(path, dw, nil, &sink, 6, vars); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(sink.Bytes(), msg) {
		t.Error("raw sink should contain the exact file bytes")
	}
}
