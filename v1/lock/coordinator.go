package lock

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	teamerrors "github.com/mirkobrombin/go-teamcal/v1/errors"
	"github.com/mirkobrombin/go-teamcal/v1/metrics"
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-teamcal/v1/lock")

// HeartbeatInterval is the fixed lease renewal cadence. It is independent of
// the ttl the server grants.
const HeartbeatInterval = 5 * time.Second

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithHeartbeatInterval overrides the renewal cadence.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithObserver registers a callback invoked after every status change.
func WithObserver(fn func(Status)) Option {
	return func(c *Coordinator) {
		c.observer = fn
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// WithDisabled turns every operation into a no-op, as for targets that are
// not lockable.
func WithDisabled() Option {
	return func(c *Coordinator) {
		c.disabled = true
	}
}

type heartbeat struct {
	ticker *time.Ticker
	stop   chan struct{}
}

// Coordinator owns the lease lifecycle of one target.
type Coordinator struct {
	client   Client
	target   Target
	interval time.Duration
	observer func(Status)
	logger   *slog.Logger
	disabled bool

	mu     sync.Mutex
	status Status
	epoch  uint64
	hb     *heartbeat
	closed bool
}

// NewCoordinator returns an idle coordinator for target.
func NewCoordinator(client Client, target Target, opts ...Option) *Coordinator {
	c := &Coordinator{
		client:   client,
		target:   target,
		interval: HeartbeatInterval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Target returns the locked resource.
func (c *Coordinator) Target() Target { return c.target }

// Status returns the current status.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Coordinator) usable() bool {
	if c.disabled || !c.target.Usable() {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// AcquireForEdit requests the lease. On success the coordinator is Acquired
// and the heartbeat runs. A 423 answer yields Blocked with the server's
// message and ttl; anything else yields Error.
func (c *Coordinator) AcquireForEdit(ctx context.Context) bool {
	if !c.usable() {
		return false
	}
	ctx, span := tracer.Start(ctx, "Coordinator.AcquireForEdit", trace.WithAttributes(targetAttrs(c.target)...))
	defer span.End()

	grant, err := c.client.Acquire(ctx, c.target)
	if err != nil {
		if StatusCode(err) == http.StatusLocked {
			msg, ttl := apiDetails(err)
			c.set(Status{State: StateBlocked, Message: orDefault(msg, MsgBlocked), TTLSeconds: ttl})
		} else {
			c.logger.Warn("lock: acquire failed", "key", c.target.Key(), "error", err)
			c.set(Status{State: StateError, Message: MsgAcquireFailed})
		}
		span.SetAttributes(attribute.String("teamcal.lock_state", c.Status().State.String()))
		return false
	}
	c.set(Status{
		State:      StateAcquired,
		Message:    orDefault(grant.Message, MsgAcquired),
		TTLSeconds: ttlOrDefault(grant.TTLSeconds),
	})
	c.logger.Info("lock: acquired", "key", c.target.Key(), "ttl", ttlOrDefault(grant.TTLSeconds))
	return true
}

// RefreshHeartbeat renews the lease. It only calls the service while
// Acquired. A failed renewal means the lease expired or was taken over: the
// coordinator becomes Lost and the heartbeat stops.
func (c *Coordinator) RefreshHeartbeat(ctx context.Context) bool {
	if !c.usable() {
		return false
	}
	c.mu.Lock()
	if c.status.State != StateAcquired {
		c.mu.Unlock()
		return false
	}
	epoch := c.epoch
	c.mu.Unlock()
	return c.refresh(ctx, epoch)
}

func (c *Coordinator) refresh(ctx context.Context, epoch uint64) bool {
	ctx, span := tracer.Start(ctx, "Coordinator.RefreshHeartbeat", trace.WithAttributes(targetAttrs(c.target)...))
	defer span.End()

	grant, err := c.client.Refresh(ctx, c.target)
	if err != nil {
		applied := c.setIf(epoch, Status{State: StateLost, Message: MsgLost})
		if applied {
			metrics.HeartbeatFailures.Inc()
			c.logger.Warn("lock: heartbeat failed, lease lost", "key", c.target.Key(), "error", err)
		}
		return false
	}

	// A late success must not resurrect a lease that was released or lost
	// in the meantime, so it only refreshes the current epoch.
	c.mu.Lock()
	if c.epoch != epoch || c.status.State != StateAcquired {
		c.mu.Unlock()
		return false
	}
	c.status.Message = orDefault(grant.Message, MsgRefreshed)
	c.status.TTLSeconds = ttlOrDefault(grant.TTLSeconds)
	st := c.status
	c.mu.Unlock()
	c.notify(st)
	return true
}

// AuthorizeWriteBeforeSave asks the service whether this session still owns
// the lease. Callers must abort the save when it returns false. A 409 answer
// means the lease is gone (Lost), 403 that someone else holds it (Blocked);
// any other failure yields Error.
func (c *Coordinator) AuthorizeWriteBeforeSave(ctx context.Context) bool {
	if !c.usable() {
		return false
	}
	ctx, span := tracer.Start(ctx, "Coordinator.AuthorizeWriteBeforeSave", trace.WithAttributes(targetAttrs(c.target)...))
	defer span.End()

	c.mu.Lock()
	epoch := c.epoch
	c.mu.Unlock()

	if _, err := c.client.AuthorizeWrite(ctx, c.target); err != nil {
		switch StatusCode(err) {
		case http.StatusConflict:
			c.setIf(epoch, Status{State: StateLost, Message: MsgMissing})
		case http.StatusForbidden:
			_, ttl := apiDetails(err)
			c.setIf(epoch, Status{State: StateBlocked, Message: MsgNotOwner, TTLSeconds: ttl})
		default:
			c.logger.Warn("lock: authorize write failed", "key", c.target.Key(), "error", err)
			c.setIf(epoch, Status{State: StateError, Message: MsgAuthorizeFailed})
		}
		return false
	}
	return true
}

// ReleaseLock gives the lease back. The call is best effort: whatever the
// service answers, the heartbeat stops and the coordinator returns to Idle.
func (c *Coordinator) ReleaseLock(ctx context.Context) {
	if !c.usable() {
		return
	}
	ctx, span := tracer.Start(ctx, "Coordinator.ReleaseLock", trace.WithAttributes(targetAttrs(c.target)...))
	defer span.End()

	if err := c.client.Release(ctx, c.target); err != nil {
		c.logger.Debug("lock: release failed", "key", c.target.Key(), "error", err)
	}
	c.set(Status{State: StateIdle})
}

// Inspect returns the read-only lease status of the target.
func (c *Coordinator) Inspect(ctx context.Context) (Info, error) {
	if !c.usable() {
		return Info{}, teamerrors.ErrNotUsable
	}
	return c.client.Status(ctx, c.target)
}

// Close stops the heartbeat synchronously and disables the coordinator. It
// does not release the lease.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.epoch++
	c.stopHeartbeatLocked()
}

func (c *Coordinator) set(st Status) {
	c.mu.Lock()
	c.applyLocked(st)
	c.mu.Unlock()
	c.notify(st)
}

// setIf applies st only when no other transition happened since epoch.
func (c *Coordinator) setIf(epoch uint64, st Status) bool {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return false
	}
	c.applyLocked(st)
	c.mu.Unlock()
	c.notify(st)
	return true
}

// applyLocked switches state. The heartbeat is stopped before any
// transition and restarted only on entering Acquired.
func (c *Coordinator) applyLocked(st Status) {
	c.stopHeartbeatLocked()
	c.epoch++
	c.status = st
	if st.State == StateAcquired && !c.closed {
		c.startHeartbeatLocked()
	}
	metrics.LockTransitions.WithLabelValues(st.State.String()).Inc()
}

func (c *Coordinator) notify(st Status) {
	if c.observer != nil {
		c.observer(st)
	}
}

func (c *Coordinator) startHeartbeatLocked() {
	hb := &heartbeat{ticker: time.NewTicker(c.interval), stop: make(chan struct{})}
	c.hb = hb
	epoch := c.epoch
	go func() {
		for {
			select {
			case <-hb.ticker.C:
				c.beat(hb, epoch)
			case <-hb.stop:
				return
			}
		}
	}()
}

func (c *Coordinator) stopHeartbeatLocked() {
	if c.hb == nil {
		return
	}
	c.hb.ticker.Stop()
	close(c.hb.stop)
	c.hb = nil
}

func (c *Coordinator) beat(hb *heartbeat, epoch uint64) {
	select {
	case <-hb.stop:
		return
	default:
	}
	c.mu.Lock()
	current := c.epoch == epoch && c.status.State == StateAcquired
	c.mu.Unlock()
	if !current {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.interval)
	defer cancel()
	c.refresh(ctx, epoch)
}

func orDefault(msg, def string) string {
	if msg == "" {
		return def
	}
	return msg
}

func ttlOrDefault(ttl int64) int64 {
	if ttl <= 0 {
		return DefaultTTLSeconds
	}
	return ttl
}
