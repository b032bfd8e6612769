package realtime

import "sync"

// Session follows whichever calendar is currently shown. Every Bind tears the
// previous channel down completely and starts a fresh one; no subscription
// state carries over.
type Session struct {
	url  string
	opts []Option

	mu sync.Mutex
	ch *Channel
}

// NewSession returns a session that creates channels for url with opts.
func NewSession(url string, opts ...Option) *Session {
	return &Session{url: url, opts: opts}
}

// Bind disposes the current channel and subscribes to calendarID.
func (s *Session) Bind(calendarID int64, onUpdate func(Event)) *Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch != nil {
		s.ch.Dispose()
	}
	s.ch = NewChannel(s.url, calendarID, onUpdate, s.opts...)
	s.ch.Start()
	return s.ch
}

// Channel returns the active channel, nil before the first Bind.
func (s *Session) Channel() *Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch
}

// Close disposes the active channel.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch != nil {
		s.ch.Dispose()
		s.ch = nil
	}
}
