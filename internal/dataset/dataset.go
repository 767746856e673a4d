// Package dataset provides a concrete reference implementation of the
// fixed-shape multi-dimensional array the download engine writes decoded
// GRIB records into. It is a reference collaborator, not the focus of
// this repository: the engine only depends on the narrow
// grib.DatasetWriter contract it satisfies.
package dataset

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/mmap"
)

const recordSize = 4 // bytes per float32 cell

// Axes describes a Dataset's fixed shape: forecast-hour, pressure-level
// and variable axes index the record grid, and Lat x Lon is the size of
// each record's 2D grid.
type Axes struct {
	Hours          []int
	PressureLevels []int
	Variables      []string
	Lat, Lon       int
}

func (a Axes) cellsPerRecord() int { return a.Lat * a.Lon }

func (a Axes) numSlots() int {
	return len(a.Hours) * len(a.PressureLevels) * len(a.Variables)
}

func (a Axes) size() int64 {
	return int64(a.numSlots()) * int64(a.cellsPerRecord()) * recordSize
}

func (a Axes) slotIndex(hour, level, variable int) (int, error) {
	hi := indexOf(a.Hours, hour)
	li := indexOf(a.PressureLevels, level)
	if hi < 0 || li < 0 || variable < 0 || variable >= len(a.Variables) {
		return 0, errors.Newf("dataset: slot (hour=%d level=%d variable=%d) is outside the declared axes", hour, level, variable)
	}
	return (hi*len(a.PressureLevels)+li)*len(a.Variables) + variable, nil
}

func indexOf(s []int, v int) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}

// Dataset is the write side: a file pre-sized to the full shape, written
// slot-by-slot as records arrive. Workers write into disjoint slots
// concurrently; WriteAt offsets never overlap across distinct (hour,
// level, variable) triples, so no record-level locking is required beyond
// serializing the underlying file descriptor's WriteAt calls.
type Dataset struct {
	axes Axes
	f    *os.File
	mu   sync.Mutex
	cl   *Checklist
}

// New creates a fresh, zero-filled backing file at path sized for axes.
func New(path string, axes Axes) (*Dataset, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644) // #nosec G304 - path is constructed by the caller from a trusted target directory
	if err != nil {
		return nil, errors.Wrap(err, "dataset: create")
	}
	if err := f.Truncate(axes.size()); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "dataset: truncate")
	}
	return &Dataset{
		axes: axes,
		f:    f,
		cl:   NewChecklist(axes.Hours, axes.PressureLevels, len(axes.Variables)),
	}, nil
}

// Checklist returns the coverage grid this Dataset marks as records
// arrive.
func (d *Dataset) Checklist() *Checklist { return d.cl }

// WriteRecord writes grid into the slot for (hour, level, variable) and
// marks the corresponding checklist cell. grid must have exactly
// Lat*Lon elements in row-major order.
func (d *Dataset) WriteRecord(hour, level, variable int, grid []float32) error {
	idx, err := d.axes.slotIndex(hour, level, variable)
	if err != nil {
		return err
	}
	want := d.axes.cellsPerRecord()
	if len(grid) != want {
		return errors.Newf("dataset: record has %d cells, want %d", len(grid), want)
	}

	buf := make([]byte, want*recordSize)
	for i, v := range grid {
		binary.LittleEndian.PutUint32(buf[i*recordSize:], math.Float32bits(v))
	}
	offset := int64(idx) * int64(want) * recordSize

	d.mu.Lock()
	_, err = d.f.WriteAt(buf, offset)
	d.mu.Unlock()
	if err != nil {
		return errors.Wrap(err, "dataset: write")
	}

	d.cl.Set(hour, level, variable)
	return nil
}

// Sync fsyncs the backing file's contents.
func (d *Dataset) Sync() error { return d.f.Sync() }

// Close closes the backing file without removing it.
func (d *Dataset) Close() error { return d.f.Close() }

// Reader is the read side, backed by a read-only mmap for fast random
// access to completed artifacts.
type Reader struct {
	axes Axes
	ra   *mmap.ReaderAt
}

// Open mmaps an existing Dataset file for reading.
func Open(path string, axes Axes) (*Reader, error) {
	ra, err := mmap.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "dataset: open")
	}
	return &Reader{axes: axes, ra: ra}, nil
}

// ReadRecord returns the grid stored for (hour, level, variable).
func (r *Reader) ReadRecord(hour, level, variable int) ([]float32, error) {
	idx, err := r.axes.slotIndex(hour, level, variable)
	if err != nil {
		return nil, err
	}
	n := r.axes.cellsPerRecord()
	buf := make([]byte, n*recordSize)
	offset := int64(idx) * int64(n) * recordSize
	if _, err := r.ra.ReadAt(buf, offset); err != nil {
		return nil, errors.Wrap(err, "dataset: read")
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*recordSize:]))
	}
	return out, nil
}

// Close unmaps the reader.
func (r *Reader) Close() error { return r.ra.Close() }

// Filename resolves the canonical on-disk path for a dataset-time's
// artifact. dsTime is the YYYYMMDDHH form; suffix is "" for the decoded
// Dataset itself or ".gribmirror" for the raw concatenated bytes.
func Filename(dir, dsTime, suffix string) string {
	return filepath.Join(dir, "gfs."+dsTime+suffix)
}

// ListDir enumerates dataset-times with at least one artifact present in
// dir, sorted descending (most recent first).
func ListDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "dataset: listdir")
	}

	seen := make(map[string]bool)
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "gfs.") {
			continue
		}
		rest := strings.TrimPrefix(name, "gfs.")
		rest = strings.TrimSuffix(rest, ".gribmirror")
		if len(rest) != 10 {
			continue
		}
		seen[rest] = true
	}

	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out, nil
}

// RemoveArtifact deletes both possible files for a dataset-time from dir,
// ignoring not-exist errors.
func RemoveArtifact(dir, dsTime string) error {
	for _, suffix := range []string{"", ".gribmirror"} {
		p := Filename(dir, dsTime, suffix)
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "dataset: remove %s", p)
		}
	}
	return nil
}
