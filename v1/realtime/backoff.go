package realtime

import "time"

// Backoff computes reconnect delays as min(Base*2^retry, Max).
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff yields 1s, 2s, 4s, 8s, 10s, 10s, ...
var DefaultBackoff = Backoff{Base: time.Second, Max: 10 * time.Second}

// Delay returns the wait before reconnect attempt number retry (zero based).
func (b Backoff) Delay(retry int) time.Duration {
	d := b.Base
	for i := 0; i < retry && d < b.Max; i++ {
		d *= 2
	}
	if d > b.Max {
		d = b.Max
	}
	return d
}

// Timer is a pending scheduled call.
type Timer interface {
	Stop() bool
}

// Scheduler arms one-shot timers. It exists so reconnect timing can be driven
// by tests.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type clockScheduler struct{}

func (clockScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// retryState is the single pending reconnect of a channel.
type retryState struct {
	nextDelay time.Duration
	timer     Timer
}

func (r *retryState) clear() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.nextDelay = 0
}
