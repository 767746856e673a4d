package wind

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
)

const lockFilename = ".lock"

func validateLockFilePath(lockFile, baseDir string) error {
	cleanLock := filepath.Clean(lockFile)
	cleanBase := filepath.Clean(baseDir)
	if strings.Contains(lockFile, "..") {
		return errors.New("unsafe lock file path (contains directory traversal): " + lockFile)
	}
	if !strings.HasPrefix(cleanLock, cleanBase) {
		return errors.New("lock file path outside of base directory: " + lockFile)
	}
	return nil
}

// acquireLock opens (creating if necessary) and flocks directory/.lock,
// returning an unlock-and-close func the caller must defer.
func acquireLock(directory string, logger *slog.Logger) (func(), error) {
	lockFile := filepath.Join(directory, lockFilename)
	if err := validateLockFilePath(lockFile, directory); err != nil {
		return nil, errors.Wrap(err, "control: validate lock path")
	}

	file, err := os.Open(lockFile) // #nosec G304 - lockFile path is validated above
	switch {
	case os.IsNotExist(err):
		file, err = os.OpenFile(lockFile, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644) // #nosec G304,G302 - lockFile path validated above
		if err != nil {
			return nil, errors.Wrap(err, "control: create lock file")
		}
	case err != nil:
		return nil, errors.Wrap(err, "control: open lock file")
	}

	fileLock := NewFlock(file)
	if err := fileLock.Lock(); err != nil {
		file.Close()
		return nil, errors.Wrap(err, "control: acquire lock (another gfsdl running?)")
	}

	release := func() {
		if err := fileLock.Unlock(); err != nil {
			logger.Warn("failed to unlock lock file", "error", err)
		}
		if err := file.Close(); err != nil {
			logger.Warn("failed to close lock file", "error", err)
		}
		if err := os.Remove(lockFile); err != nil {
			logger.Warn("failed to remove lock file", "error", err, "path", lockFile)
		}
	}
	return release, nil
}

// signalContext returns a context cancelled on SIGINT/SIGTERM, plus a
// cancel func the caller must also call on its own exit paths.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// RunOnce acquires directory's lock and runs a single session for dsTime,
// reporting to alerter on Session/Fatal failure.
func RunOnce(cfg *Config, dsTime DatasetTime, directory string, logger *slog.Logger, alerter *Alerter, attended bool) (*UsageStats, error) {
	if logger == nil {
		logger = slog.Default()
	}

	release, err := acquireLock(directory, logger)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, cancel := signalContext(context.Background())
	defer cancel()

	deadline := DefaultDeadline(time.Now(), dsTime)
	stats, err := Run(ctx, cfg, dsTime, directory, deadline, logger, attended)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("session cancelled by signal")
			return stats, err
		}
		alerter.ReportSessionFailure(dsTime, err)
	}
	return stats, err
}

// RunDaemon acquires directory's lock once and runs the perpetual
// scheduler until a termination signal arrives.
func RunDaemon(cfg *Config, directory string, logger *slog.Logger, alerter *Alerter) error {
	if logger == nil {
		logger = slog.Default()
	}

	release, err := acquireLock(directory, logger)
	if err != nil {
		return err
	}
	defer release()

	ctx, cancel := signalContext(context.Background())
	defer cancel()

	d := NewDaemon(cfg, directory, logger, alerter)
	err = d.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("daemon stopped")
		return nil
	}
	return err
}
