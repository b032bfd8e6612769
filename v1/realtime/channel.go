package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	uuid "github.com/hashicorp/go-uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mirkobrombin/go-teamcal/v1/frame"
	"github.com/mirkobrombin/go-teamcal/v1/metrics"
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-teamcal/v1/realtime")

// AcceptVersion is the protocol version announced in CONNECT.
const AcceptVersion = "1.2"

// Topic returns the broadcast destination of a team calendar.
func Topic(calendarID int64) string {
	return "/topic/team/" + strconv.FormatInt(calendarID, 10)
}

// SubscriptionID returns the subscription id used for a team calendar.
func SubscriptionID(calendarID int64) string {
	return "team-" + strconv.FormatInt(calendarID, 10)
}

// Option configures a Channel.
type Option func(*Channel)

// WithDialer sets the transport dialer. The default dials WebSockets.
func WithDialer(d Dialer) Option {
	return func(c *Channel) {
		c.dialer = d
	}
}

// WithScheduler sets the timer source used for reconnects.
func WithScheduler(s Scheduler) Option {
	return func(c *Channel) {
		c.sched = s
	}
}

// WithBackoff overrides the reconnect delays. Max is raised to Base when lower.
func WithBackoff(b Backoff) Option {
	return func(c *Channel) {
		if b.Base <= 0 {
			b.Base = DefaultBackoff.Base
		}
		if b.Max < b.Base {
			b.Max = b.Base
		}
		c.backoff = b
	}
}

// WithHost sets the host header sent in CONNECT. It defaults to the host of
// the endpoint URL.
func WithHost(host string) Option {
	return func(c *Channel) {
		c.host = host
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Channel) {
		c.logger = l
	}
}

// Channel is one subscription of one calendar topic. It owns at most one live
// transport connection and at most one pending reconnect timer.
type Channel struct {
	url        string
	host       string
	calendarID int64
	onUpdate   func(Event)
	dialer     Dialer
	sched      Scheduler
	backoff    Backoff
	logger     *slog.Logger
	id         string

	mu         sync.Mutex
	conn       Conn
	gen        uint64
	handshaked bool
	retryCount int
	retry      retryState
	started    bool
	disposed   bool
}

// NewChannel creates a channel for calendarID on the broker at url. onUpdate
// receives matching payloads on the connection's read goroutine, in arrival
// order. The channel is idle until Start.
func NewChannel(url string, calendarID int64, onUpdate func(Event), opts ...Option) *Channel {
	c := &Channel{
		url:        url,
		calendarID: calendarID,
		onUpdate:   onUpdate,
		dialer:     WebSocketDialer{},
		sched:      clockScheduler{},
		backoff:    DefaultBackoff,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.host == "" {
		if _, host, err := EndpointURL(url); err == nil {
			c.host = host
		}
	}
	if id, err := uuid.GenerateUUID(); err == nil {
		c.id = id
	}
	return c
}

// CalendarID returns the subscribed calendar.
func (c *Channel) CalendarID() int64 { return c.calendarID }

// Start begins the first connect cycle. A zero calendar id has no topic and
// leaves the channel idle. Calling Start twice or after Dispose is a no-op.
func (c *Channel) Start() {
	c.mu.Lock()
	if c.started || c.disposed {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()
	if c.calendarID == 0 {
		c.logger.Debug("realtime: no calendar, channel idle", "channel", c.id)
		return
	}
	c.connect()
}

// Connected reports whether the handshake of the current connection completed.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handshaked
}

// Dispose cancels any pending reconnect, sends DISCONNECT when the handshake
// completed and closes the transport. Failures are swallowed. No connect
// attempt happens after Dispose returns.
func (c *Channel) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	c.gen++
	c.retry.clear()
	conn := c.conn
	handshaked := c.handshaked
	c.conn = nil
	c.handshaked = false
	if conn != nil && handshaked {
		if err := conn.WriteMessage(frame.New(frame.CommandDisconnect).Encode()); err != nil {
			c.logger.Debug("realtime: disconnect failed", "channel", c.id, "error", err)
		}
	}
	c.mu.Unlock()

	if handshaked {
		metrics.ConnectedChannels.Dec()
	}
	if conn != nil {
		_ = conn.Close()
	}
	c.logger.Debug("realtime: channel disposed", "channel", c.id, "calendar", c.calendarID)
}

// connect starts a new connect cycle, clearing any pending reconnect first.
func (c *Channel) connect() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.retry.clear()
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	metrics.ConnectAttempts.Inc()
	go c.run(gen)
}

func (c *Channel) run(gen uint64) {
	ctx, span := tracer.Start(context.Background(), "Channel.Connect", trace.WithAttributes(
		attribute.Int64("teamcal.calendar_id", c.calendarID),
		attribute.String("teamcal.topic", Topic(c.calendarID)),
	))
	conn, err := c.dialer.Dial(ctx, c.url)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dial failed")
		span.End()
		c.closed(gen, err)
		return
	}
	span.End()

	c.mu.Lock()
	if c.disposed || gen != c.gen {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	err = conn.WriteMessage(frame.New(frame.CommandConnect,
		"accept-version", AcceptVersion,
		"host", c.host,
	).Encode())
	c.mu.Unlock()
	if err != nil {
		c.closed(gen, err)
		return
	}

	for {
		msg, err := conn.ReadMessage()
		if err != nil {
			c.closed(gen, err)
			return
		}
		c.handle(gen, msg)
	}
}

// closed tears down the connection of generation gen and arms the next
// reconnect. Stale generations are ignored.
func (c *Channel) closed(gen uint64, cause error) {
	c.mu.Lock()
	if c.disposed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.conn = nil
	wasConnected := c.handshaked
	c.handshaked = false

	delay := c.backoff.Delay(c.retryCount)
	c.retryCount++
	c.retry.clear()
	c.retry.nextDelay = delay
	c.retry.timer = c.sched.AfterFunc(delay, c.connect)
	attempt := c.retryCount
	c.mu.Unlock()

	if wasConnected {
		metrics.ConnectedChannels.Dec()
	}
	if conn != nil {
		_ = conn.Close()
	}
	metrics.ReconnectsScheduled.Inc()
	c.logger.Debug("realtime: reconnect scheduled",
		"channel", c.id,
		"calendar", c.calendarID,
		"delay", delay,
		"attempt", attempt,
		"cause", cause,
	)
}

func (c *Channel) handle(gen uint64, raw string) {
	frames := frame.DecodeAll(raw, func(_ string, err error) {
		metrics.FramesDropped.WithLabelValues("frame").Inc()
		c.logger.Debug("realtime: frame dropped", "channel", c.id, "error", err)
	})
	for _, f := range frames {
		switch f.Command {
		case frame.CommandConnected:
			c.subscribe(gen)
		case frame.CommandMessage:
			c.deliver(f)
		}
	}
}

func (c *Channel) subscribe(gen uint64) {
	c.mu.Lock()
	if c.disposed || gen != c.gen || c.conn == nil {
		c.mu.Unlock()
		return
	}
	c.retryCount = 0
	first := !c.handshaked
	c.handshaked = true
	conn := c.conn
	err := conn.WriteMessage(frame.New(frame.CommandSubscribe,
		"id", SubscriptionID(c.calendarID),
		"destination", Topic(c.calendarID),
	).Encode())
	c.mu.Unlock()

	if first {
		metrics.ConnectedChannels.Inc()
	}
	if err != nil {
		// The read loop observes the close and reconnects.
		c.logger.Debug("realtime: subscribe failed", "channel", c.id, "error", err)
		_ = conn.Close()
		return
	}
	c.logger.Debug("realtime: subscribed", "channel", c.id, "topic", Topic(c.calendarID))
}

func (c *Channel) deliver(f frame.Frame) {
	var ev Event
	if err := json.Unmarshal([]byte(f.Body), &ev); err != nil {
		metrics.FramesDropped.WithLabelValues("json").Inc()
		c.logger.Debug("realtime: malformed payload", "channel", c.id, "error", err)
		return
	}
	if !ev.MatchesCalendar(c.calendarID) {
		metrics.EventsFiltered.Inc()
		return
	}
	c.mu.Lock()
	disposed := c.disposed
	c.mu.Unlock()
	if disposed || c.onUpdate == nil {
		return
	}
	metrics.EventsDelivered.Inc()
	c.invoke(ev)
}

func (c *Channel) invoke(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("realtime: update callback panicked", "channel", c.id, "panic", r)
		}
	}()
	c.onUpdate(ev)
}

// pendingDelay reports the delay of the armed reconnect, zero when none.
func (c *Channel) pendingDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.retry.timer == nil {
		return 0
	}
	return c.retry.nextDelay
}
