package grib

import (
	"io"
	"os"

	"github.com/cockroachdb/errors"
)

// DatasetWriter is the narrow contract the unpacker writes decoded grids
// into. *dataset.Dataset satisfies it.
type DatasetWriter interface {
	WriteRecord(hour, level, variable int, grid []float32) error
}

// Checklist is the narrow contract the unpacker marks covered cells in.
// *dataset.Checklist satisfies it; it is accepted here mainly so callers
// whose DatasetWriter doesn't self-track coverage still get cells marked.
type Checklist interface {
	Set(hour, level, variable int)
}

// VariableKey identifies a GRIB2 parameter by (category, number), the
// fields spec.md's unpacker contract uses to decide which Dataset slot a
// record belongs in.
type VariableKey struct {
	Category uint8
	Number   uint8
}

// VariableTable maps a parameter identity to the Dataset's variable axis
// index. Records whose parameter isn't present are skipped rather than
// erroring, since a GRIB file may legitimately carry extra fields the
// Dataset's axes don't track.
type VariableTable map[VariableKey]int

// Unpack parses the GRIB2 file at path and, for each record, writes its
// decoded grid into dw at the slot (expectedHour, record level, mapped
// variable) and marks cl. If rawSink is non-nil the file's raw bytes are
// appended to it. Every record's forecast hour must equal expectedHour.
func Unpack(path string, dw DatasetWriter, cl Checklist, rawSink io.Writer, expectedHour int, vars VariableTable) error {
	records, err := ScanFile(path)
	if err != nil {
		return err
	}

	for _, rec := range records {
		if rec.ForecastHour != expectedHour {
			return errors.Mark(errors.Newf("grib: record forecast hour %d does not match expected %d", rec.ForecastHour, expectedHour), ErrUnsupported)
		}
		variable, ok := vars[VariableKey{rec.Category, rec.Number}]
		if !ok {
			continue
		}
		if err := dw.WriteRecord(expectedHour, int(rec.LevelValue), variable, rec.Grid); err != nil {
			return errors.Wrap(err, "grib: write record")
		}
		if cl != nil {
			cl.Set(expectedHour, int(rec.LevelValue), variable)
		}
	}

	if rawSink != nil {
		raw, err := os.ReadFile(path) // #nosec G304 - path is a worker-managed temp file
		if err != nil {
			return errors.Wrap(err, "grib: read raw")
		}
		if _, err := rawSink.Write(raw); err != nil {
			return errors.Wrap(err, "grib: append raw")
		}
	}

	return nil
}
