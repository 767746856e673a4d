package wind

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
)

// ipClient is a minimal keep-alive HTTP/1.1 client pinned to one resolved
// mirror address: every connection it opens dials that numeric address
// directly (bypassing the platform resolver a second time), while requests
// still carry the mirror's logical hostname in Host so virtual-hosted
// mirrors route correctly. Not safe for concurrent use; one instance per
// worker.
type ipClient struct {
	host   string // logical Host header value
	client *http.Client
}

// newIPClient builds a client that dials ip:port for every connection it
// opens, regardless of what host a request names.
func newIPClient(ip net.IP, port, logicalHost string) *ipClient {
	dialer := &net.Dialer{Timeout: 30 * time.Second}
	addr := net.JoinHostPort(ip.String(), port)

	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DialContext = func(ctx context.Context, network, _ string) (net.Conn, error) {
		return dialer.DialContext(ctx, network, addr)
	}
	tr.MaxIdleConns = 1
	tr.MaxIdleConnsPerHost = 1
	tr.IdleConnTimeout = 90 * time.Second
	tr.DisableCompression = true

	return &ipClient{
		host: logicalHost,
		client: &http.Client{
			Transport: tr,
			Timeout:   0, // bounded by the caller's context instead
		},
	}
}

// closeIdle drops the worker's persistent connection, used before a long
// not-before sleep so the mirror isn't held open idle.
func (c *ipClient) closeIdle() {
	c.client.CloseIdleConnections()
}

// get performs a GET of path (an absolute remote path) and returns the
// streamed body. The caller must Close the returned reader.
func (c *ipClient) get(ctx context.Context, path string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+c.host+path, nil)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "build request"), ErrNetwork)
	}
	req.Header.Set("Host", c.host)
	req.Host = c.host
	req.Header.Set("Connection", "Keep-Alive")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Mark(errors.Wrap(err, "fetch"), ErrFetchTimeout)
		}
		return nil, errors.Mark(errors.Wrap(err, "fetch"), ErrNetwork)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return &limitedBody{r: resp.Body, chunk: 1 << 20}, nil
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, errors.Mark(errors.Newf("%s: not found", path), ErrNotFound)
	default:
		resp.Body.Close()
		return nil, errors.Mark(errors.Newf("%s: unexpected status %d", path, resp.StatusCode), ErrBadStatus)
	}
}

// limitedBody wraps a response body so callers naturally stream in
// bounded chunks rather than buffering the whole response in memory; the
// chunk size only caps a single Read call, io.Copy still drains the full
// body over repeated calls.
type limitedBody struct {
	r     io.ReadCloser
	chunk int
}

func (b *limitedBody) Read(p []byte) (int, error) {
	if len(p) > b.chunk {
		p = p[:b.chunk]
	}
	return b.r.Read(p)
}

func (b *limitedBody) Close() error { return b.r.Close() }
