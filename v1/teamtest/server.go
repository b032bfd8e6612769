package teamtest

import (
	"net/http"
	"net/http/httptest"

	"github.com/mirkobrombin/go-teamcal/v1/realtime"
)

// APIPrefix is where the lock service is mounted on a Server.
const APIPrefix = "/api"

// Server runs a lock service and a broker behind one HTTP listener, the way
// the calendar backend exposes both.
type Server struct {
	*httptest.Server
	Locks  *LockService
	Broker *Broker
}

// NewServer starts a server over store. A nil store selects a MemoryStore.
func NewServer(store Store, opts ...LockServiceOption) *Server {
	if store == nil {
		store = NewMemoryStore()
	}
	locks := NewLockService(store, opts...)
	broker := NewBroker(locks.logger)
	return &Server{Server: httptest.NewServer(Handler(locks, broker)), Locks: locks, Broker: broker}
}

// APIURL returns the base URL for lock.NewHTTPClient.
func (s *Server) APIURL() string {
	return s.URL + APIPrefix
}

// Handler returns the combined handler, for mounting on a real listener.
func Handler(locks *LockService, broker *Broker) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(APIPrefix+"/", http.StripPrefix(APIPrefix, locks))
	mux.Handle(realtime.EndpointPath, broker)
	return mux
}

// WebSocketURL returns the broker endpoint for realtime.NewChannel.
func (s *Server) WebSocketURL() string {
	u, _, _ := realtime.EndpointURL(s.URL)
	return u
}
