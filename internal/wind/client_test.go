package wind

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
)

// newTestClient builds an ipClient that dials srv regardless of the
// requested host, mirroring newIPClient's pinned-dial behavior without
// requiring a real resolvable IP.
func newTestClient(srv *httptest.Server) *ipClient {
	dialer := &net.Dialer{Timeout: 5 * time.Second}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DialContext = func(ctx context.Context, network, _ string) (net.Conn, error) {
		return dialer.DialContext(ctx, network, srv.Listener.Addr().String())
	}
	return &ipClient{host: "mirror.example.test", client: &http.Client{Transport: tr}}
}

func TestIPClientGetSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Host != "mirror.example.test" {
			t.Errorf("request Host = %q, want mirror.example.test", r.Host)
		}
		w.Write([]byte("grib-bytes"))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	body, err := c.get(context.Background(), "/pub/gfs.t00z.pgrb2f00")
	if err != nil {
		t.Fatal(err)
	}
	defer body.Close()

	got, err := io.ReadAll(body)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "grib-bytes" {
		t.Errorf("body = %q, want grib-bytes", got)
	}
}

func TestIPClientGetNotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(srv)
	_, err := c.get(context.Background(), "/missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestIPClientGetBadStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(srv)
	_, err := c.get(context.Background(), "/broken")
	if !errors.Is(err, ErrBadStatus) {
		t.Errorf("err = %v, want ErrBadStatus", err)
	}
}

func TestIPClientGetTimeout(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	defer close(block)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	c := newTestClient(srv)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.get(ctx, "/slow")
	if !errors.Is(err, ErrFetchTimeout) {
		t.Errorf("err = %v, want ErrFetchTimeout", err)
	}
}
