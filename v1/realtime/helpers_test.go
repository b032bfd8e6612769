package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	teamerrors "github.com/mirkobrombin/go-teamcal/v1/errors"
)

type fakeConn struct {
	in   chan string
	done chan struct{}

	mu      sync.Mutex
	written []string
	closed  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan string, 16), done: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (string, error) {
	select {
	case <-c.done:
		return "", teamerrors.ErrConnectionClosed
	default:
	}
	select {
	case m := <-c.in:
		return m, nil
	case <-c.done:
		return "", teamerrors.ErrConnectionClosed
	}
}

func (c *fakeConn) WriteMessage(data string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return teamerrors.ErrConnectionClosed
	}
	c.written = append(c.written, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}

func (c *fakeConn) writes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.written...)
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeDialer hands out queued connections; a nil entry or an empty queue
// fails the dial.
type fakeDialer struct {
	mu    sync.Mutex
	calls int
	next  []*fakeConn
}

func (d *fakeDialer) Dial(_ context.Context, _ string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if len(d.next) == 0 {
		return nil, errors.New("connection refused")
	}
	c := d.next[0]
	d.next = d.next[1:]
	if c == nil {
		return nil, errors.New("connection refused")
	}
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped atomic.Bool
}

func (t *fakeTimer) Stop() bool { return !t.stopped.Swap(true) }

type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// wait blocks until the n-th timer (1 based) has been armed.
func (s *fakeScheduler) wait(t *testing.T, n int) *fakeTimer {
	t.Helper()
	waitFor(t, func() bool { return s.count() >= n })
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timers[n-1]
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timeout waiting for condition")
}

func waitWrites(t *testing.T, c *fakeConn, n int) []string {
	t.Helper()
	waitFor(t, func() bool { return len(c.writes()) >= n })
	return c.writes()
}
