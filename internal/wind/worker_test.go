package wind

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gfsdl/gfsdl/internal/dataset"
	"github.com/gfsdl/gfsdl/internal/grib"
)

func testAxesConfig() AxesConfig {
	return AxesConfig{
		Hours:          []int{0},
		PressureLevels: []int{100000},
		Variables:      []string{"TMP"},
		Lat:            2,
		Lon:            2,
	}
}

func newTestSession(t *testing.T, srv *httptest.Server) *Session {
	t.Helper()

	cfg := NewConfig()
	cfg.Directory = t.TempDir()
	cfg.Axes = testAxesConfig()
	cfg.TimeoutSeconds = 2
	cfg.FirstFileTimeoutSec = 2

	dsTime := NewDatasetTime(time.Now())
	session := NewSession(cfg, dsTime, time.Now().Add(10*time.Second), nil)
	session.directory = cfg.Directory
	session.unpack = func(path string, dw grib.DatasetWriter, cl grib.Checklist, rawSink io.Writer, expectedHour int, vars grib.VariableTable) error {
		err := dw.WriteRecord(expectedHour, 100000, 0, []float32{1, 2, 3, 4})
		if cl != nil {
			cl.Set(expectedHour, 100000, 0)
		}
		return err
	}

	if err := session.open(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { session.close(false) })
	return session
}

func runWorkersToCompletion(t *testing.T, session *Session, srv *httptest.Server, n int) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session.seedQueue()
	for i := 0; i < n; i++ {
		w := &worker{ip: net.IPv4(127, 0, 0, 1), client: newTestClient(srv), session: session}
		go w.run(ctx)
	}

	select {
	case <-session.completion:
	case <-time.After(5 * time.Second):
		t.Fatal("workers did not complete in time")
	}
}

func TestWorkerEndToEndSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("GRIB-stub-bytes"))
	}))
	defer srv.Close()

	session := newTestSession(t, srv)
	runWorkersToCompletion(t, session, srv, 1)

	if !session.checklist.All() {
		t.Error("checklist should be complete after all files succeed")
	}
	snap := session.stats.Snapshot()
	if snap.FilesComplete == 0 {
		t.Error("expected at least one completed file")
	}
}

func TestWorkerRetriesAfterNotFoundThenSucceeds(t *testing.T) {
	t.Parallel()

	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if strings.Contains(r.URL.Path, "bf00") && calls < 3 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("GRIB-stub-bytes"))
	}))
	defer srv.Close()

	session := newTestSession(t, srv)
	// Keep the not-found reenqueue delay out of the way of the test timeout.
	session.cfg.TimeoutSeconds = 1
	session.cfg.FirstFileTimeoutSec = 0

	runWorkersToCompletion(t, session, srv, 1)

	if !session.checklist.All() {
		t.Error("checklist should eventually complete despite transient 404s")
	}
}

func TestDatasetWriteRecordReachableThroughSession(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("GRIB-stub-bytes"))
	}))
	defer srv.Close()

	session := newTestSession(t, srv)
	runWorkersToCompletion(t, session, srv, 1)

	reader, err := dataset.Open(dataset.Filename(session.tmpDir, session.dsTime.String(), ""), session.cfg.datasetAxes())
	if err != nil {
		t.Fatal(err)
	}
	defer reader.Close()

	grid, err := reader.ReadRecord(0, 100000, 0)
	if err != nil {
		t.Fatal(err)
	}
	want := []float32{1, 2, 3, 4}
	for i, v := range want {
		if grid[i] != v {
			t.Errorf("grid[%d] = %v, want %v", i, grid[i], v)
		}
	}
}
