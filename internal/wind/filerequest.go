package wind

import (
	"fmt"
	"time"
)

// DatasetTime is a UTC instant on the 6-hour forecast-run grid: hour is one
// of 0, 6, 12, 18, with zero minute/second/nanosecond.
type DatasetTime struct {
	t time.Time
}

// NewDatasetTime floors t to the nearest earlier 6-hour grid point.
func NewDatasetTime(t time.Time) DatasetTime {
	t = t.UTC().Truncate(time.Hour)
	hour := (t.Hour() / 6) * 6
	return DatasetTime{time.Date(t.Year(), t.Month(), t.Day(), hour, 0, 0, 0, time.UTC)}
}

// Time returns the underlying instant.
func (d DatasetTime) Time() time.Time { return d.t }

// Add returns the DatasetTime offset by dur, re-floored to the 6-hour grid.
func (d DatasetTime) Add(dur time.Duration) DatasetTime {
	return NewDatasetTime(d.t.Add(dur))
}

// Before reports whether d occurs strictly before o.
func (d DatasetTime) Before(o DatasetTime) bool { return d.t.Before(o.t) }

// Equal reports whether d and o name the same instant.
func (d DatasetTime) Equal(o DatasetTime) bool { return d.t.Equal(o.t) }

// String renders the YYYYMMDDHH remote path form.
func (d DatasetTime) String() string {
	return d.t.Format("2006010215")
}

// FilePrefix renders the t{HH}z filename-prefix form.
func (d DatasetTime) FilePrefix() string {
	return fmt.Sprintf("t%02dz", d.t.Hour())
}

// ParseDatasetTime parses a YYYYMMDDHH string, validating the hour lies on
// the 6-hour grid.
func ParseDatasetTime(s string) (DatasetTime, error) {
	t, err := time.Parse("2006010215", s)
	if err != nil {
		return DatasetTime{}, fmt.Errorf("invalid dataset time %q: %w", s, err)
	}
	if t.Hour()%6 != 0 {
		return DatasetTime{}, fmt.Errorf("invalid dataset time %q: hour must be a multiple of 6", s)
	}
	return DatasetTime{t.UTC()}, nil
}

// FileRequest is one file to fetch as part of a session: hour selects its
// priority bucket, notBefore is the earliest wall-clock instant a worker
// should attempt it, and filename is the remote basename.
type FileRequest struct {
	Hour      int
	NotBefore time.Time
	Filename  string
}

// less orders FileRequests by (Hour, NotBefore), matching the retry
// queue's required ordering.
func (r FileRequest) less(o FileRequest) bool {
	if r.Hour != o.Hour {
		return r.Hour < o.Hour
	}
	return r.NotBefore.Before(o.NotBefore)
}
