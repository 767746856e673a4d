package wind

import (
	"context"
	"log/slog"
	"time"

	"github.com/gfsdl/gfsdl/internal/dataset"
)

const publicationLag = 3*time.Hour + 30*time.Minute

// Daemon perpetually schedules Downloader sessions: it wakes at each
// dataset-time's expected publication window, runs a session, and
// retires old artifacts.
type Daemon struct {
	cfg       *Config
	directory string
	logger    *slog.Logger
	alerter   *Alerter

	sleep func(context.Context, time.Duration) error
}

// NewDaemon constructs a Daemon targeting directory.
func NewDaemon(cfg *Config, directory string, logger *slog.Logger, alerter *Alerter) *Daemon {
	if logger == nil {
		logger = slog.Default()
	}
	return &Daemon{
		cfg:       cfg,
		directory: directory,
		logger:    logger,
		alerter:   alerter,
		sleep:     ctxSleep,
	}
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// clean enumerates artifacts in directory, keeps the most recent
// numDatasets by dataset-time, deletes the rest, and returns the newest
// retained dataset-time (or ok=false if none remain).
func (d *Daemon) clean() (DatasetTime, bool, error) {
	names, err := dataset.ListDir(d.directory)
	if err != nil {
		return DatasetTime{}, false, err
	}
	if len(names) == 0 {
		return DatasetTime{}, false, nil
	}

	keep := d.cfg.NumDatasets
	if keep > len(names) {
		keep = len(names)
	}
	for _, stale := range names[keep:] {
		if err := dataset.RemoveArtifact(d.directory, stale); err != nil {
			d.logger.Warn("failed to remove stale artifact", "dataset_time", stale, "error", err)
		} else {
			d.logger.Info("pruned stale artifact", "dataset_time", stale)
		}
	}

	newest, err := ParseDatasetTime(names[0])
	if err != nil {
		return DatasetTime{}, false, err
	}
	return newest, true, nil
}

// LatestPublishable computes the newest dataset-time whose publication
// window has plausibly already opened.
func LatestPublishable(now time.Time) DatasetTime {
	return NewDatasetTime(now.Add(-publicationLag))
}

// nextTarget decides the dataset-time the daemon should pursue next.
func nextTarget(retained DatasetTime, haveRetained bool, now time.Time) DatasetTime {
	latest := LatestPublishable(now)
	if !haveRetained || retained.Before(latest) {
		return latest
	}
	return retained.Add(6 * time.Hour)
}

// Run executes the daemon's perpetual cycle until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	for {
		retained, haveRetained, err := d.clean()
		if err != nil {
			d.logger.Error("clean failed", "error", err)
		}

		target := nextTarget(retained, haveRetained, time.Now())
		wake := target.Time().Add(publicationLag)

		if delay := time.Until(wake); delay > 0 {
			d.logger.Info("sleeping until publication window", "dataset_time", target.String(), "wake_at", wake)
			if err := d.sleep(ctx, delay); err != nil {
				return err
			}
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		deadline := DefaultDeadline(time.Now(), target)
		d.logger.Info("running session", "dataset_time", target.String())
		_, err = Run(ctx, d.cfg, target, d.directory, deadline, d.logger, false)
		if err != nil {
			d.logger.Error("session failed", "dataset_time", target.String(), "error", err)
			d.alerter.ReportSessionFailure(target, err)
		} else {
			d.logger.Info("session succeeded", "dataset_time", target.String())
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
