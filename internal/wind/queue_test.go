package wind

import (
	"context"
	"testing"
	"time"
)

func TestRetryQueueOrdersByHourThenNotBefore(t *testing.T) {
	t.Parallel()

	q := newRetryQueue()
	now := time.Now()

	q.Put(FileRequest{Hour: 12, NotBefore: now, Filename: "b"})
	q.Put(FileRequest{Hour: 0, NotBefore: now.Add(time.Second), Filename: "a2"})
	q.Put(FileRequest{Hour: 0, NotBefore: now, Filename: "a1"})

	ctx := context.Background()
	first, err := q.Take(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if first.Filename != "a1" {
		t.Errorf("first = %q, want a1", first.Filename)
	}

	second, err := q.Take(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if second.Filename != "a2" {
		t.Errorf("second = %q, want a2", second.Filename)
	}

	third, err := q.Take(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if third.Filename != "b" {
		t.Errorf("third = %q, want b", third.Filename)
	}
}

func TestRetryQueueTakeBlocksUntilPut(t *testing.T) {
	t.Parallel()

	q := newRetryQueue()
	ctx := context.Background()

	done := make(chan FileRequest, 1)
	go func() {
		req, err := q.Take(ctx)
		if err != nil {
			t.Error(err)
			return
		}
		done <- req
	}()

	select {
	case <-done:
		t.Fatal("Take returned before any request was put")
	case <-time.After(50 * time.Millisecond):
	}

	q.Put(FileRequest{Hour: 0, Filename: "only"})

	select {
	case req := <-done:
		if req.Filename != "only" {
			t.Errorf("req.Filename = %q, want only", req.Filename)
		}
	case <-time.After(time.Second):
		t.Fatal("Take did not unblock after Put")
	}
}

func TestRetryQueueTakeReturnsOnContextCancel(t *testing.T) {
	t.Parallel()

	q := newRetryQueue()
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := q.Take(ctx)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("Take returned nil error after context cancellation")
		}
	case <-time.After(time.Second):
		t.Fatal("Take did not return after context cancellation")
	}
}

func TestRetryQueueLen(t *testing.T) {
	t.Parallel()

	q := newRetryQueue()
	if q.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", q.Len())
	}
	q.Put(FileRequest{Hour: 0, Filename: "a"})
	q.Put(FileRequest{Hour: 0, Filename: "b"})
	if q.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", q.Len())
	}
	if _, err := q.Take(context.Background()); err != nil {
		t.Fatal(err)
	}
	if q.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", q.Len())
	}
}
