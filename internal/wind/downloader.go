package wind

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gfsdl/gfsdl/internal/dataset"
	"github.com/gfsdl/gfsdl/internal/grib"
	"golang.org/x/sync/errgroup"
)

// UnpackFunc matches grib.Unpack's signature; injected into Session so
// tests can stub decoding without needing real GRIB bytes.
type UnpackFunc func(path string, dw grib.DatasetWriter, cl grib.Checklist, rawSink io.Writer, expectedHour int, vars grib.VariableTable) error

// nopDatasetWriter discards records; used when the Dataset output is
// disabled but the checklist must still be marked.
type nopDatasetWriter struct{}

func (nopDatasetWriter) WriteRecord(hour, level, variable int, grid []float32) error { return nil }

// gribMirrorSink serializes appends to the shared grib-mirror file handle
// across concurrent workers, per spec's "appends must be atomic per
// record" requirement.
type gribMirrorSink struct {
	mu sync.Mutex
	f  *os.File
}

func (s *gribMirrorSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Write(p)
}

// Session is one attempt to acquire a complete dataset-time: the
// Downloader component. open/download/close form its lifecycle; close is
// idempotent.
type Session struct {
	cfg    *Config
	dsTime DatasetTime
	logger *slog.Logger

	directory string
	tmpDir    string

	ds         *dataset.Dataset
	gribMirror *os.File
	gribSink   *gribMirrorSink
	checklist  *dataset.Checklist

	queue *retryQueue
	stats *UsageStats

	filesCount    int32
	filesComplete int32
	haveFirstFile atomic.Bool

	completion   chan struct{}
	completeOnce sync.Once

	deadline time.Time
	unpack   UnpackFunc
	varTable grib.VariableTable

	progress *progressReporter
}

// DefaultDeadline implements spec.md's stated (and intentionally
// preserved) asymmetry: for a current dataset-time the deadline sits
// ~6h after the nominal run time; for a dataset-time already more than
// 4h stale, it collapses to a flat 2h from now.
func DefaultDeadline(now time.Time, dsTime DatasetTime) time.Time {
	a := now.Add(2 * time.Hour)
	b := dsTime.Time().Add(6 * time.Hour)
	if a.After(b) {
		return a
	}
	return b
}

// NewSession constructs a Session for dsTime. It does not touch the
// filesystem; call open to do that.
func NewSession(cfg *Config, dsTime DatasetTime, deadline time.Time, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		cfg:      cfg,
		dsTime:   dsTime,
		logger:   logger,
		deadline: deadline,
		queue:    newRetryQueue(),
		stats:    &UsageStats{},
		unpack:   grib.Unpack,
		varTable: cfg.variableTable(),
	}
}

func (s *Session) datasetWriter() grib.DatasetWriter {
	if s.ds != nil {
		return s.ds
	}
	return nopDatasetWriter{}
}

func (s *Session) remotePath(filename string) string {
	return fmt.Sprintf(s.cfg.DatasetPathTemplate, s.dsTime.String()) + "/" + filename
}

// open creates the session's scratch directory and output writers.
// Refuses if both outputs are disabled.
func (s *Session) open() error {
	if s.cfg.NoDataset && s.cfg.NoGribMirror {
		return ErrNoOutput
	}

	scratch, err := os.MkdirTemp(s.directory, "download.")
	if err != nil {
		return errors.Wrap(err, "session: create scratch directory")
	}
	if err := os.Chmod(scratch, 0775); err != nil {
		return errors.Wrap(err, "session: chmod scratch directory")
	}
	s.tmpDir = scratch

	axes := s.cfg.datasetAxes()

	if !s.cfg.NoDataset {
		dsPath := dataset.Filename(s.tmpDir, s.dsTime.String(), "")
		ds, err := dataset.New(dsPath, axes)
		if err != nil {
			return errors.Wrap(err, "session: open dataset")
		}
		s.ds = ds
		s.checklist = ds.Checklist()
	} else {
		s.checklist = dataset.NewChecklist(axes.Hours, axes.PressureLevels, len(axes.Variables))
	}

	if !s.cfg.NoGribMirror {
		mirrorPath := dataset.Filename(s.tmpDir, s.dsTime.String(), ".gribmirror")
		f, err := os.OpenFile(mirrorPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644) // #nosec G304 - mirrorPath is under the session's own scratch directory
		if err != nil {
			return errors.Wrap(err, "session: open grib mirror")
		}
		s.gribMirror = f
		s.gribSink = &gribMirrorSink{f: f}
	}

	s.completion = make(chan struct{})
	return nil
}

// seedQueue enqueues the base/b-suffix product files for every hour on
// the Dataset's hour axis.
func (s *Session) seedQueue() {
	now := time.Now()
	for _, hour := range s.cfg.Axes.Hours {
		for _, suffix := range []string{"f", "bf"} {
			filename := fmt.Sprintf("gfs.%s.pgrb2%s%02d", s.dsTime.FilePrefix(), suffix, hour)
			s.queue.Put(FileRequest{Hour: hour, NotBefore: now, Filename: filename})
			atomic.AddInt32(&s.filesCount, 1)
		}
	}
}

func (s *Session) onFileComplete() {
	n := atomic.AddInt32(&s.filesComplete, 1)
	s.haveFirstFile.Store(true)
	if s.progress != nil {
		s.progress.set(int(n), int(atomic.LoadInt32(&s.filesCount)))
	}
	if n >= atomic.LoadInt32(&s.filesCount) {
		s.completeOnce.Do(func() { close(s.completion) })
	}
}

// download resolves the mirror hostname, seeds the queue, spawns one
// worker per resolved address, and waits for completion or the session
// deadline, whichever comes first.
func (s *Session) download(ctx context.Context) error {
	if !time.Now().Before(s.deadline) {
		return ErrDeadlinePassed
	}

	resolver := &net.Resolver{}
	ips, err := resolver.LookupIP(ctx, "ip4", s.cfg.DatasetHost)
	if err != nil {
		return errors.Wrap(err, "session: resolve dataset host")
	}
	if len(ips) == 0 {
		return errors.New("session: dataset host resolved to zero addresses")
	}

	s.seedQueue()

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	var group errgroup.Group
	for _, ip := range ips {
		ip := ip
		group.Go(func() error { return newWorker(ip, "80", s.cfg.DatasetHost, s).run(workerCtx) })
	}

	timer := time.NewTimer(time.Until(s.deadline))
	defer timer.Stop()

	var outcome error
	select {
	case <-s.completion:
		// success path
	case <-timer.C:
		outcome = ErrSessionTimeout
	case <-ctx.Done():
		outcome = errors.Wrap(ctx.Err(), "session: cancelled")
	}

	// Kill and join every worker unconditionally, regardless of why the
	// wait above returned.
	cancelWorkers()
	_ = group.Wait() // workers swallow their own errors; only cancellation makes them return

	if outcome != nil {
		return outcome
	}
	if !s.checklist.All() {
		return ErrIncomplete
	}
	return nil
}

// close closes writers then, on success, renames the outputs into the
// parent directory; on failure it deletes them. It always removes the
// scratch directory and is idempotent.
func (s *Session) close(success bool) error {
	if s.tmpDir == "" {
		return nil
	}

	if s.ds != nil {
		if success {
			if err := s.ds.Sync(); err != nil {
				s.logger.Warn("failed to sync dataset", "error", err)
			}
		}
		if err := s.ds.Close(); err != nil {
			s.logger.Warn("failed to close dataset", "error", err)
		}
	}
	if s.gribMirror != nil {
		if success {
			if err := s.gribMirror.Sync(); err != nil {
				s.logger.Warn("failed to sync grib mirror", "error", err)
			}
		}
		if err := s.gribMirror.Close(); err != nil {
			s.logger.Warn("failed to close grib mirror", "error", err)
		}
	}

	for _, suffix := range []string{"", ".gribmirror"} {
		src := dataset.Filename(s.tmpDir, s.dsTime.String(), suffix)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if success {
			dst := dataset.Filename(s.directory, s.dsTime.String(), suffix)
			if err := os.Rename(src, dst); err != nil {
				s.logger.Warn("failed to publish artifact", "src", src, "dst", dst, "error", err)
				continue
			}
			if err := dirSync(s.directory); err != nil {
				s.logger.Warn("failed to fsync target directory", "error", err)
			}
		} else {
			if err := os.Remove(src); err != nil {
				s.logger.Warn("failed to delete failed-session artifact", "path", src, "error", err)
			}
		}
	}

	entries, err := os.ReadDir(s.tmpDir)
	if err == nil {
		for _, e := range entries {
			p := filepath.Join(s.tmpDir, e.Name())
			s.logger.Warn("removing stray file from scratch directory", "path", p)
			os.RemoveAll(p)
		}
	}
	if err := os.RemoveAll(s.tmpDir); err != nil {
		s.logger.Warn("failed to remove scratch directory", "path", s.tmpDir, "error", err)
	}
	s.tmpDir = ""
	return nil
}

// Run performs the full open/download/close lifecycle for one
// dataset-time against directory, returning the terminal error (if any).
func Run(ctx context.Context, cfg *Config, dsTime DatasetTime, directory string, deadline time.Time, logger *slog.Logger, attended bool) (*UsageStats, error) {
	s := NewSession(cfg, dsTime, deadline, logger)
	s.directory = directory

	if attended && cfg.Log.ShouldShowProgress() {
		s.progress = newProgressReporter()
		defer s.progress.finish()
	}

	if err := s.open(); err != nil {
		stats := s.stats.Snapshot()
		return &stats, err
	}

	err := s.download(ctx)
	closeErr := s.close(err == nil)
	if err == nil && closeErr != nil {
		err = closeErr
	}

	stats := s.stats.Snapshot()
	return &stats, err
}
