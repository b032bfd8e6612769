package teamtest

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/mirkobrombin/go-teamcal/v1/frame"
	"github.com/mirkobrombin/go-teamcal/v1/realtime"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

type subscription struct {
	sess *brokerSession
	id   string
}

type brokerSession struct {
	conn *websocket.Conn
	wmu  sync.Mutex
	subs map[string]string // subscription id -> destination
}

func (s *brokerSession) send(f frame.Frame) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, []byte(f.Encode()))
}

// Broker is a minimal STOMP broker over WebSocket. Clients subscribe to
// destinations and receive every MESSAGE published to them.
type Broker struct {
	logger *slog.Logger
	nextID atomic.Uint64

	mu       sync.Mutex
	sessions map[*brokerSession]struct{}
	topics   map[string][]subscription
	received []frame.Frame
}

// NewBroker returns a broker with no sessions.
func NewBroker(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		logger:   logger,
		sessions: make(map[*brokerSession]struct{}),
		topics:   make(map[string][]subscription),
	}
}

// ServeHTTP upgrades the request and serves one STOMP session.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	sess := &brokerSession{conn: conn, subs: make(map[string]string)}
	b.mu.Lock()
	b.sessions[sess] = struct{}{}
	b.mu.Unlock()
	defer b.drop(sess)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		for _, f := range frame.DecodeAll(string(data), nil) {
			b.record(f)
			if !b.handle(sess, f) {
				return
			}
		}
	}
}

func (b *Broker) handle(sess *brokerSession, f frame.Frame) bool {
	switch f.Command {
	case frame.CommandConnect:
		if err := sess.send(frame.New(frame.CommandConnected, "version", realtime.AcceptVersion, "heart-beat", "0,0")); err != nil {
			return false
		}
	case frame.CommandSubscribe:
		id, _ := f.Header("id")
		dest, _ := f.Header("destination")
		if dest == "" {
			return true
		}
		b.mu.Lock()
		sess.subs[id] = dest
		b.topics[dest] = append(b.topics[dest], subscription{sess: sess, id: id})
		b.mu.Unlock()
		b.logger.Debug("teamtest: subscribed", "destination", dest, "id", id)
	case frame.CommandUnsubscribe:
		id, _ := f.Header("id")
		b.mu.Lock()
		b.unsubscribeLocked(sess, id)
		b.mu.Unlock()
	case frame.CommandDisconnect:
		if receipt, ok := f.Header("receipt"); ok {
			_ = sess.send(frame.New(frame.CommandReceipt, "receipt-id", receipt))
		}
		return false
	}
	return true
}

// Publish sends body to every subscriber of destination and returns the
// number of deliveries.
func (b *Broker) Publish(destination, body string) int {
	b.mu.Lock()
	subs := append([]subscription(nil), b.topics[destination]...)
	b.mu.Unlock()
	n := 0
	for _, sub := range subs {
		if b.deliver(sub, destination, body) {
			n++
		}
	}
	return n
}

// PublishEvent encodes payload as JSON and publishes it to the topic of
// calendarID.
func (b *Broker) PublishEvent(calendarID int64, payload any) (int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	return b.Publish(realtime.Topic(calendarID), string(data)), nil
}

// Broadcast sends body to every subscription on every destination.
func (b *Broker) Broadcast(body string) int {
	b.mu.Lock()
	var all []subscription
	var dests []string
	for dest, subs := range b.topics {
		for _, sub := range subs {
			all = append(all, sub)
			dests = append(dests, dest)
		}
	}
	b.mu.Unlock()
	n := 0
	for i, sub := range all {
		if b.deliver(sub, dests[i], body) {
			n++
		}
	}
	return n
}

func (b *Broker) deliver(sub subscription, destination, body string) bool {
	f := frame.New(frame.CommandMessage,
		"destination", destination,
		"subscription", sub.id,
		"message-id", strconv.FormatUint(b.nextID.Add(1), 10),
		"content-type", "application/json",
	)
	f.Body = body
	if err := sub.sess.send(f); err != nil {
		b.logger.Debug("teamtest: delivery failed", "destination", destination, "error", err)
		return false
	}
	return true
}

// Subscribers returns the number of subscriptions on destination.
func (b *Broker) Subscribers(destination string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[destination])
}

// Sessions returns the number of open connections.
func (b *Broker) Sessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

// Received returns the frames clients sent so far, in arrival order.
func (b *Broker) Received() []frame.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]frame.Frame(nil), b.received...)
}

// DropAll closes every client connection without a protocol goodbye.
func (b *Broker) DropAll() {
	b.mu.Lock()
	sessions := make([]*brokerSession, 0, len(b.sessions))
	for s := range b.sessions {
		sessions = append(sessions, s)
	}
	b.mu.Unlock()
	for _, s := range sessions {
		_ = s.conn.Close()
	}
}

func (b *Broker) record(f frame.Frame) {
	b.mu.Lock()
	b.received = append(b.received, f)
	b.mu.Unlock()
}

func (b *Broker) drop(sess *brokerSession) {
	b.mu.Lock()
	for id := range sess.subs {
		b.unsubscribeLocked(sess, id)
	}
	delete(b.sessions, sess)
	b.mu.Unlock()
	_ = sess.conn.Close()
}

func (b *Broker) unsubscribeLocked(sess *brokerSession, id string) {
	dest, ok := sess.subs[id]
	if !ok {
		return
	}
	delete(sess.subs, id)
	subs := b.topics[dest]
	for i, sub := range subs {
		if sub.sess == sess && sub.id == id {
			subs[i] = subs[len(subs)-1]
			subs = subs[:len(subs)-1]
			break
		}
	}
	if len(subs) == 0 {
		delete(b.topics, dest)
	} else {
		b.topics[dest] = subs
	}
}
