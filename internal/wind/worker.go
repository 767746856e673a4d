package wind

import (
	"context"
	"fmt"
	"io"
	"math"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
)

// worker is bound to one resolved mirror IP. It drains the session's
// retry queue, performs GETs against its bound address, streams bytes to
// a temp file, invokes the unpacker, and applies the server-backoff
// matrix on failure. It never exits voluntarily; only ctx cancellation
// (session kill) stops its loop.
type worker struct {
	ip      net.IP
	client  *ipClient
	session *Session
	backoff int
}

func newWorker(ip net.IP, port, host string, session *Session) *worker {
	return &worker{
		ip:      ip,
		client:  newIPClient(ip, port, host),
		session: session,
	}
}

func (w *worker) run(ctx context.Context) error {
	for {
		req, err := w.session.queue.Take(ctx)
		if err != nil {
			return nil // session kill/deadline: not a worker failure
		}

		if wait := time.Until(req.NotBefore); wait > 0 {
			w.client.closeIdle() // release the connection before a long sleep
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil
			}
		}

		err = w.attempt(ctx, req)
		w.session.stats.addOutcome(err)

		if err == nil {
			w.backoff = 0
			w.session.onFileComplete()
			continue
		}
		if ctx.Err() != nil {
			return nil
		}

		w.reenqueue(req, err)
		w.sleepServerBackoff(ctx, err)
	}
}

// attempt fetches req.Filename into the session's scratch directory and
// hands it to the unpacker. The per-file timeout bounds only this single
// attempt, distinct from the session's overall deadline.
func (w *worker) attempt(ctx context.Context, req FileRequest) error {
	w.session.stats.addAttempt()

	timeout := time.Duration(w.session.cfg.TimeoutSeconds) * time.Second
	fctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := w.client.get(fctx, w.session.remotePath(req.Filename))
	if err != nil {
		return err
	}
	defer body.Close()

	tmpPath := filepath.Join(w.session.tmpDir, req.Filename)
	f, err := os.Create(tmpPath) // #nosec G304 - tmpPath is derived from a session-owned scratch directory
	if err != nil {
		return errors.Mark(errors.Wrap(err, "create temp file"), ErrNetwork)
	}

	n, copyErr := io.Copy(f, body)
	closeErr := f.Close()

	if copyErr != nil {
		os.Remove(tmpPath)
		if fctx.Err() != nil {
			return errors.Mark(errors.Wrap(copyErr, "stream body"), ErrFetchTimeout)
		}
		return errors.Mark(errors.Wrap(copyErr, "stream body"), ErrNetwork)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return errors.Mark(errors.Wrap(closeErr, "close temp file"), ErrNetwork)
	}

	var rawSink io.Writer
	if w.session.gribMirror != nil {
		rawSink = w.session.gribSink
	}

	unpackErr := w.session.unpack(tmpPath, w.session.datasetWriter(), w.session.checklist, rawSink, req.Hour, w.session.varTable)
	os.Remove(tmpPath)
	if unpackErr != nil {
		return errors.Mark(unpackErr, ErrDecode)
	}

	w.session.stats.addSuccess(uint64(n))
	return nil
}

// reenqueue applies the file's not_before offset per the failure matrix
// and puts req back on the queue.
func (w *worker) reenqueue(req FileRequest, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		offset := time.Duration(w.session.cfg.TimeoutSeconds) * time.Second
		if !w.session.haveFirstFile.Load() {
			offset = time.Duration(w.session.cfg.FirstFileTimeoutSec) * time.Second
		}
		req.NotBefore = time.Now().Add(offset)
	default:
		// Timeout and other errors re-enqueue immediately; the delay is
		// applied as a server-wide sleep below, not a file-specific one.
		req.NotBefore = time.Time{}
	}
	w.session.queue.Put(req)
}

// sleepServerBackoff applies this worker's per-server sleep for the
// outcome just observed and advances w.backoff. The Timeout formula and
// the generic-error formula are each implemented once, per DESIGN.md's
// resolution of the spec's duplicated-arithmetic open question.
func (w *worker) sleepServerBackoff(ctx context.Context, err error) {
	var sleepSeconds float64

	switch {
	case errors.Is(err, ErrNotFound):
		return // yield immediately so another worker/IP tries
	case errors.Is(err, ErrFetchTimeout):
		timeoutSeconds := float64(w.session.cfg.TimeoutSeconds)
		k := int(math.Ceil(math.Log2(timeoutSeconds))) + 1
		if w.backoff > k {
			k = w.backoff
		}
		w.backoff = k
		sleepSeconds = math.Pow(2, float64(k))
	default:
		w.backoff++
		if w.backoff > defaultMaxBackoff {
			w.backoff = defaultMaxBackoff
		}
		sleepSeconds = math.Pow(2, float64(w.backoff))
	}

	if w.backoff >= 5 {
		w.session.logger.Warn("persistent failure, backing off", "ip", w.ip.String(), "backoff", w.backoff, "error", fmt.Sprintf("%+v", err))
	} else {
		w.session.logger.Info("backing off after failure", "ip", w.ip.String(), "backoff", w.backoff, "error", err)
	}

	timer := time.NewTimer(time.Duration(sleepSeconds * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
