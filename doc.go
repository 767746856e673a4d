/*
Package gfsdl downloads atmospheric forecast GRIB2 fields over a
mirror network and assembles them into single-file, mmap-readable
datasets.

gfsdl provides fault-tolerant, concurrent retrieval of forecast hours
with features including:
  - Pinned-IP HTTP clients, one per resolved mirror address, that dial
    that address directly instead of resolving the host again
  - Per-server exponential backoff with transient/session error
    classification
  - GRIB2 structural parsing and in-place unpacking into a dense grid
  - A perpetual daemon that tracks the publication cadence and retains
    a bounded number of recent datasets

The main packages are:

	github.com/gfsdl/gfsdl/internal/grib     - GRIB2 message scanning and unpacking
	github.com/gfsdl/gfsdl/internal/dataset  - Dataset file layout, checklist, mmap reader
	github.com/gfsdl/gfsdl/internal/wind     - Download session, scheduling daemon, config
	github.com/gfsdl/gfsdl/cmd/gfsdl         - Command-line interface
*/
package gfsdl
