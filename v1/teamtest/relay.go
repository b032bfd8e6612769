package teamtest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	redis "github.com/redis/go-redis/v9"

	"github.com/mirkobrombin/go-teamcal/v1/realtime"
)

// UpdatesChannel is the Redis pub/sub channel carrying schedule change
// events from the backend.
const UpdatesChannel = "schedule:updates"

// Relay forwards events published on a Redis channel to the broker topic of
// the calendar each event names.
type Relay struct {
	client  *redis.Client
	broker  *Broker
	channel string
	logger  *slog.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

// NewRelay returns a relay from UpdatesChannel to broker.
func NewRelay(client *redis.Client, broker *Broker) *Relay {
	return &Relay{client: client, broker: broker, channel: UpdatesChannel, logger: broker.logger}
}

// Start subscribes and forwards messages until Close. It returns once the
// subscription is confirmed.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pubsub != nil {
		return nil
	}
	ps := r.client.Subscribe(ctx, r.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return err
	}
	r.pubsub = ps
	r.done = make(chan struct{})
	go r.dispatch(ps, r.done)
	return nil
}

func (r *Relay) dispatch(ps *redis.PubSub, done chan struct{}) {
	defer close(done)
	for msg := range ps.Channel() {
		var ev realtime.Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			r.logger.Debug("teamtest: relay dropped malformed event", "error", err)
			continue
		}
		cal, ok := ev.CalendarID()
		if !ok || cal == 0 {
			r.logger.Debug("teamtest: relay dropped event without calendar")
			continue
		}
		r.broker.Publish(realtime.Topic(cal), msg.Payload)
	}
}

// Close stops forwarding and waits for the dispatch loop to exit.
func (r *Relay) Close() error {
	r.mu.Lock()
	ps, done := r.pubsub, r.done
	r.pubsub = nil
	r.mu.Unlock()
	if ps == nil {
		return nil
	}
	err := ps.Close()
	<-done
	if errors.Is(err, redis.ErrClosed) {
		err = nil
	}
	return err
}

// PublishUpdate publishes ev on UpdatesChannel, as the backend does after a
// schedule mutation.
func PublishUpdate(ctx context.Context, client *redis.Client, ev realtime.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return client.Publish(ctx, UpdatesChannel, data).Err()
}
