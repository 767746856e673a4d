package wind

import (
	"sync"

	"github.com/cockroachdb/errors"
)

// UsageStats accumulates thread-safe per-outcome counters for one session,
// surfaced at the end of a download invocation. The attended-mode progress
// display is driven by the session's own files-complete counter, not by
// these counters.
type UsageStats struct {
	mu sync.Mutex

	FilesAttempted int
	FilesComplete  int
	BytesReceived  uint64
	NotFoundCount  int
	BadStatusCount int
	TimeoutCount   int
	NetworkCount   int
}

func (s *UsageStats) addAttempt() {
	s.mu.Lock()
	s.FilesAttempted++
	s.mu.Unlock()
}

func (s *UsageStats) addSuccess(bytes uint64) {
	s.mu.Lock()
	s.FilesComplete++
	s.BytesReceived += bytes
	s.mu.Unlock()
}

func (s *UsageStats) addOutcome(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case err == nil:
		return
	case IsTransient(err):
		switch {
		case errIsNotFound(err):
			s.NotFoundCount++
		case errIsTimeout(err):
			s.TimeoutCount++
		case errIsBadStatus(err):
			s.BadStatusCount++
		default:
			s.NetworkCount++
		}
	}
}

// Snapshot returns a copy of the current counters.
func (s *UsageStats) Snapshot() UsageStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s
	cp.mu = sync.Mutex{}
	return cp
}

func errIsNotFound(err error) bool  { return errors.Is(err, ErrNotFound) }
func errIsTimeout(err error) bool   { return errors.Is(err, ErrFetchTimeout) }
func errIsBadStatus(err error) bool { return errors.Is(err, ErrBadStatus) }
