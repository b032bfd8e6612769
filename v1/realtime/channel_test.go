package realtime

import (
	"testing"
	"time"
)

const testURL = "ws://example.com/ws-native"

func collect() (func(Event), chan Event) {
	ch := make(chan Event, 16)
	return func(e Event) { ch <- e }, ch
}

func recv(t *testing.T, ch chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
	return nil
}

func TestChannelHandshakeAndDelivery(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{next: []*fakeConn{conn}}
	onUpdate, events := collect()
	c := NewChannel(testURL, 5, onUpdate, WithDialer(dialer), WithScheduler(&fakeScheduler{}))
	c.Start()
	defer c.Dispose()

	w := waitWrites(t, conn, 1)
	if w[0] != "CONNECT\naccept-version:1.2\nhost:example.com\n\n\x00" {
		t.Fatalf("unexpected connect frame %q", w[0])
	}
	if c.Connected() {
		t.Fatal("must not be connected before CONNECTED")
	}

	conn.in <- "CONNECTED\n\n\n\x00"
	w = waitWrites(t, conn, 2)
	if w[1] != "SUBSCRIBE\nid:team-5\ndestination:/topic/team/5\n\n\x00" {
		t.Fatalf("unexpected subscribe frame %q", w[1])
	}

	conn.in <- "MESSAGE\n\n{\"calendarId\":5,\"x\":1}\x00"
	e := recv(t, events)
	if e["calendarId"] != float64(5) || e["x"] != float64(1) {
		t.Fatalf("unexpected payload %v", e)
	}
	if !c.Connected() {
		t.Fatal("expected connected after handshake")
	}
}

func TestChannelSubscribesOnlyAfterConnected(t *testing.T) {
	conn := newFakeConn()
	c := NewChannel(testURL, 5, nil, WithDialer(&fakeDialer{next: []*fakeConn{conn}}), WithScheduler(&fakeScheduler{}))
	c.Start()
	defer c.Dispose()

	waitWrites(t, conn, 1)
	conn.in <- "MESSAGE\n\n{\"calendarId\":5}\x00"
	conn.in <- "RECEIPT\nreceipt-id:1\n\n\x00"
	time.Sleep(20 * time.Millisecond)
	if n := len(conn.writes()); n != 1 {
		t.Fatalf("expected only CONNECT before handshake, got %d writes", n)
	}
}

func TestChannelMultipleFramesInOneMessage(t *testing.T) {
	conn := newFakeConn()
	onUpdate, events := collect()
	c := NewChannel(testURL, 5, onUpdate, WithDialer(&fakeDialer{next: []*fakeConn{conn}}), WithScheduler(&fakeScheduler{}))
	c.Start()
	defer c.Dispose()

	waitWrites(t, conn, 1)
	conn.in <- "CONNECTED\n\n\n\x00MESSAGE\n\n{\"calendarId\":5,\"n\":1}\x00\x00MESSAGE\n\n{\"calendarId\":5,\"n\":2}\x00"
	if e := recv(t, events); e["n"] != float64(1) {
		t.Fatalf("expected first frame first, got %v", e)
	}
	if e := recv(t, events); e["n"] != float64(2) {
		t.Fatalf("expected second frame second, got %v", e)
	}
}

func TestChannelFiltersOtherCalendar(t *testing.T) {
	conn := newFakeConn()
	onUpdate, events := collect()
	c := NewChannel(testURL, 7, onUpdate, WithDialer(&fakeDialer{next: []*fakeConn{conn}}), WithScheduler(&fakeScheduler{}))
	c.Start()
	defer c.Dispose()

	waitWrites(t, conn, 1)
	conn.in <- "CONNECTED\n\n\n\x00"
	conn.in <- "MESSAGE\n\n{\"calendarId\":5,\"x\":1}\x00"
	conn.in <- "MESSAGE\n\n{\"calendarId\":7,\"marker\":true}\x00"

	e := recv(t, events)
	if e["marker"] != true {
		t.Fatalf("calendar 5 payload leaked into calendar 7: %v", e)
	}
	select {
	case e := <-events:
		t.Fatalf("unexpected extra event %v", e)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestChannelDropsMalformedPayload(t *testing.T) {
	conn := newFakeConn()
	onUpdate, events := collect()
	c := NewChannel(testURL, 5, onUpdate, WithDialer(&fakeDialer{next: []*fakeConn{conn}}), WithScheduler(&fakeScheduler{}))
	c.Start()
	defer c.Dispose()

	waitWrites(t, conn, 1)
	conn.in <- "CONNECTED\n\n\n\x00"
	conn.in <- "MESSAGE\n\nnot-json\x00"
	conn.in <- "MESSAGE\n\n{\"calendarId\":\"5\",\"after\":1}\x00"

	e := recv(t, events)
	if e["after"] != float64(1) {
		t.Fatalf("unexpected payload %v", e)
	}
	if !c.Connected() {
		t.Fatal("malformed payload must not break the channel")
	}
}

func TestChannelRecoversCallbackPanic(t *testing.T) {
	conn := newFakeConn()
	events := make(chan Event, 4)
	calls := 0
	onUpdate := func(e Event) {
		calls++
		if calls == 1 {
			panic("boom")
		}
		events <- e
	}
	c := NewChannel(testURL, 5, onUpdate, WithDialer(&fakeDialer{next: []*fakeConn{conn}}), WithScheduler(&fakeScheduler{}))
	c.Start()
	defer c.Dispose()

	waitWrites(t, conn, 1)
	conn.in <- "CONNECTED\n\n\n\x00MESSAGE\n\n{\"calendarId\":5}\x00MESSAGE\n\n{\"calendarId\":5,\"ok\":true}\x00"
	if e := recv(t, events); e["ok"] != true {
		t.Fatalf("unexpected payload %v", e)
	}
}

func TestChannelBackoffSequence(t *testing.T) {
	dialer := &fakeDialer{}
	sched := &fakeScheduler{}
	c := NewChannel(testURL, 5, nil, WithDialer(dialer), WithScheduler(sched))
	c.Start()
	defer c.Dispose()

	want := []time.Duration{1, 2, 4, 8, 10, 10, 10}
	for i, w := range want {
		tm := sched.wait(t, i+1)
		if tm.d != w*time.Second {
			t.Fatalf("attempt %d: expected delay %v, got %v", i, w*time.Second, tm.d)
		}
		if got := c.pendingDelay(); got != w*time.Second {
			t.Fatalf("attempt %d: pending delay %v", i, got)
		}
		tm.f()
	}
	waitFor(t, func() bool { return dialer.dialCount() == len(want)+1 })
}

func TestChannelRetryResetsOnConnected(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{next: []*fakeConn{nil, nil, conn}}
	sched := &fakeScheduler{}
	c := NewChannel(testURL, 5, nil, WithDialer(dialer), WithScheduler(sched))
	c.Start()
	defer c.Dispose()

	sched.wait(t, 1).f()
	if d := sched.wait(t, 2).d; d != 2*time.Second {
		t.Fatalf("expected 2s, got %v", d)
	}
	sched.wait(t, 2).f()

	waitWrites(t, conn, 1)
	conn.in <- "CONNECTED\n\n\n\x00"
	waitWrites(t, conn, 2)
	c.mu.Lock()
	retries := c.retryCount
	c.mu.Unlock()
	if retries != 0 {
		t.Fatalf("expected retry count reset, got %d", retries)
	}

	_ = conn.Close()
	if d := sched.wait(t, 3).d; d != time.Second {
		t.Fatalf("expected backoff restart at 1s, got %v", d)
	}
	if c.Connected() {
		t.Fatal("expected disconnected after close")
	}
}

func TestChannelSingleTimerAndCleanConnect(t *testing.T) {
	dialer := &fakeDialer{}
	sched := &fakeScheduler{}
	c := NewChannel(testURL, 5, nil, WithDialer(dialer), WithScheduler(sched))
	c.Start()
	defer c.Dispose()

	first := sched.wait(t, 1)
	first.f()
	sched.wait(t, 2)
	if !first.stopped.Load() {
		t.Fatal("expected previous timer cleared before new connect cycle")
	}
}

func TestChannelDisposeCancelsPendingReconnect(t *testing.T) {
	dialer := &fakeDialer{}
	sched := &fakeScheduler{}
	c := NewChannel(testURL, 5, nil, WithDialer(dialer), WithScheduler(sched))
	c.Start()

	tm := sched.wait(t, 1)
	c.Dispose()
	if !tm.stopped.Load() {
		t.Fatal("expected reconnect timer stopped")
	}

	// The original delay elapses anyway.
	tm.f()
	time.Sleep(20 * time.Millisecond)
	if n := dialer.dialCount(); n != 1 {
		t.Fatalf("expected no connect after dispose, got %d dials", n)
	}
	if n := sched.count(); n != 1 {
		t.Fatalf("expected no new timers, got %d", n)
	}
}

func TestChannelDisposeSendsDisconnect(t *testing.T) {
	conn := newFakeConn()
	sched := &fakeScheduler{}
	c := NewChannel(testURL, 5, nil, WithDialer(&fakeDialer{next: []*fakeConn{conn}}), WithScheduler(sched))
	c.Start()

	waitWrites(t, conn, 1)
	conn.in <- "CONNECTED\n\n\n\x00"
	waitWrites(t, conn, 2)

	c.Dispose()
	w := conn.writes()
	if w[len(w)-1] != "DISCONNECT\n\n\n\x00" {
		t.Fatalf("expected DISCONNECT last, got %q", w[len(w)-1])
	}
	if !conn.isClosed() {
		t.Fatal("expected transport closed")
	}
	time.Sleep(20 * time.Millisecond)
	if n := sched.count(); n != 0 {
		t.Fatalf("dispose must not schedule reconnects, got %d", n)
	}
}

func TestChannelDisposeBeforeHandshakeSkipsDisconnect(t *testing.T) {
	conn := newFakeConn()
	c := NewChannel(testURL, 5, nil, WithDialer(&fakeDialer{next: []*fakeConn{conn}}), WithScheduler(&fakeScheduler{}))
	c.Start()
	waitWrites(t, conn, 1)

	c.Dispose()
	if w := conn.writes(); len(w) != 1 {
		t.Fatalf("expected no DISCONNECT before handshake, got %q", w)
	}
	if !conn.isClosed() {
		t.Fatal("expected transport closed")
	}
}

func TestChannelZeroCalendarIsIdle(t *testing.T) {
	dialer := &fakeDialer{}
	c := NewChannel(testURL, 0, nil, WithDialer(dialer), WithScheduler(&fakeScheduler{}))
	c.Start()
	defer c.Dispose()
	time.Sleep(10 * time.Millisecond)
	if n := dialer.dialCount(); n != 0 {
		t.Fatalf("expected no dial, got %d", n)
	}
}

func TestChannelStartIsIdempotent(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{next: []*fakeConn{conn}}
	c := NewChannel(testURL, 5, nil, WithDialer(dialer), WithScheduler(&fakeScheduler{}))
	c.Start()
	c.Start()
	defer c.Dispose()
	waitWrites(t, conn, 1)
	time.Sleep(10 * time.Millisecond)
	if n := dialer.dialCount(); n != 1 {
		t.Fatalf("expected a single live connection, got %d dials", n)
	}
}

func TestSessionBindTearsDownPrevious(t *testing.T) {
	first, second := newFakeConn(), newFakeConn()
	dialer := &fakeDialer{next: []*fakeConn{first, second}}
	s := NewSession(testURL, WithDialer(dialer), WithScheduler(&fakeScheduler{}))
	defer s.Close()

	s.Bind(3, nil)
	waitWrites(t, first, 1)
	first.in <- "CONNECTED\n\n\n\x00"
	waitWrites(t, first, 2)

	ch := s.Bind(4, nil)
	if ch.CalendarID() != 4 || s.Channel() != ch {
		t.Fatal("expected session to expose the new channel")
	}
	if !first.isClosed() {
		t.Fatal("expected previous transport closed")
	}
	w := waitWrites(t, second, 1)
	if w[0] != "CONNECT\naccept-version:1.2\nhost:example.com\n\n\x00" {
		t.Fatalf("unexpected frame %q", w[0])
	}
	second.in <- "CONNECTED\n\n\n\x00"
	w = waitWrites(t, second, 2)
	if w[1] != "SUBSCRIBE\nid:team-4\ndestination:/topic/team/4\n\n\x00" {
		t.Fatalf("unexpected subscribe %q", w[1])
	}
}
