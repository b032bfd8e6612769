package teamtest

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/mirkobrombin/go-teamcal/v1/lock"
)

// SessionCookie is the cookie that carries the caller's session id.
const SessionCookie = "SESSION"

// UserHeader carries the numeric id of the authenticated user.
const UserHeader = "X-User-Id"

// LockServiceOption configures a LockService.
type LockServiceOption func(*LockService)

// WithTTL sets the lease duration granted by acquire and refresh.
func WithTTL(ttl time.Duration) LockServiceOption {
	return func(s *LockService) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithServiceLogger sets the logger. The default is slog.Default().
func WithServiceLogger(l *slog.Logger) LockServiceOption {
	return func(s *LockService) {
		s.logger = l
	}
}

// LockService serves the lease endpoints under
// /team-calendars/{calendarId}/locks.
type LockService struct {
	store  Store
	ttl    time.Duration
	logger *slog.Logger
	mux    *http.ServeMux
}

// NewLockService returns a lock service over store.
func NewLockService(store Store, opts ...LockServiceOption) *LockService {
	s := &LockService{
		store:  store,
		ttl:    lock.DefaultTTLSeconds * time.Second,
		logger: slog.Default(),
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.mux.HandleFunc("POST /team-calendars/{calendarId}/locks/acquire", s.command(s.acquire))
	s.mux.HandleFunc("POST /team-calendars/{calendarId}/locks/refresh", s.command(s.refresh))
	s.mux.HandleFunc("POST /team-calendars/{calendarId}/locks/release", s.command(s.release))
	s.mux.HandleFunc("POST /team-calendars/{calendarId}/locks/authorize-write", s.command(s.authorize))
	s.mux.HandleFunc("GET /team-calendars/{calendarId}/locks", s.status)
	return s
}

func (s *LockService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type lockCall struct {
	key    string
	owner  Owner
	target lock.Target
}

type commandFunc func(ctx context.Context, c lockCall) (int, lock.CommandResponse, error)

func (s *LockService) command(fn commandFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cal, err := strconv.ParseInt(r.PathValue("calendarId"), 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, lock.CommandResponse{Message: "invalid calendar id"})
			return
		}
		var req lock.CommandRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, lock.CommandResponse{Message: "invalid request body"})
			return
		}
		target := lock.Target{CalendarID: lock.Calendar(cal), Type: req.TargetType, ID: req.TargetID}
		call := lockCall{key: target.Key(), owner: s.identify(w, r), target: target}
		code, resp, err := fn(r.Context(), call)
		if err != nil {
			s.logger.Warn("teamtest: lock store failed", "key", call.key, "error", err)
			writeJSON(w, http.StatusServiceUnavailable, lock.CommandResponse{LockKey: call.key, Message: "Lock service unavailable."})
			return
		}
		writeJSON(w, code, resp)
	}
}

func (s *LockService) acquire(ctx context.Context, c lockCall) (int, lock.CommandResponse, error) {
	lease, ok, err := s.store.Acquire(ctx, c.key, c.owner, s.ttl)
	if err != nil {
		return 0, lock.CommandResponse{}, err
	}
	resp := s.describe(c, lease)
	if !ok {
		resp.Message = lock.MsgBlocked
		return http.StatusLocked, resp, nil
	}
	resp.Success = true
	resp.Message = lock.MsgAcquired
	s.logger.Debug("teamtest: lease granted", "key", c.key, "session", c.owner.SessionID)
	return http.StatusOK, resp, nil
}

func (s *LockService) refresh(ctx context.Context, c lockCall) (int, lock.CommandResponse, error) {
	lease, ok, err := s.store.Refresh(ctx, c.key, c.owner, s.ttl)
	if err != nil {
		return 0, lock.CommandResponse{}, err
	}
	if !ok {
		return http.StatusConflict, lock.CommandResponse{LockKey: c.key, Message: lock.MsgLost}, nil
	}
	resp := s.describe(c, lease)
	resp.Success = true
	resp.Message = lock.MsgRefreshed
	return http.StatusOK, resp, nil
}

func (s *LockService) release(ctx context.Context, c lockCall) (int, lock.CommandResponse, error) {
	released, err := s.store.Release(ctx, c.key, c.owner)
	if err != nil {
		return 0, lock.CommandResponse{}, err
	}
	return http.StatusOK, lock.CommandResponse{Success: released, LockKey: c.key, Message: "Lock released."}, nil
}

func (s *LockService) authorize(ctx context.Context, c lockCall) (int, lock.CommandResponse, error) {
	lease, ok, err := s.store.Get(ctx, c.key)
	if err != nil {
		return 0, lock.CommandResponse{}, err
	}
	if !ok {
		return http.StatusConflict, lock.CommandResponse{LockKey: c.key, Message: lock.MsgMissing}, nil
	}
	resp := s.describe(c, lease)
	if lease.Owner != c.owner {
		resp.Message = lock.MsgNotOwner
		return http.StatusForbidden, resp, nil
	}
	resp.Success = true
	resp.Message = "Write authorized."
	return http.StatusOK, resp, nil
}

func (s *LockService) status(w http.ResponseWriter, r *http.Request) {
	cal, err := strconv.ParseInt(r.PathValue("calendarId"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, lock.CommandResponse{Message: "invalid calendar id"})
		return
	}
	q := r.URL.Query()
	target := lock.Target{CalendarID: lock.Calendar(cal), Type: lock.TargetType(q.Get("targetType")), ID: q.Get("targetId")}
	c := lockCall{key: target.Key(), owner: s.identify(w, r), target: target}
	lease, ok, err := s.store.Get(r.Context(), c.key)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, lock.CommandResponse{LockKey: c.key, Message: "Lock service unavailable."})
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, lock.CommandResponse{LockKey: c.key, Message: "Not locked."})
		return
	}
	resp := s.describe(c, lease)
	resp.Success = true
	writeJSON(w, http.StatusOK, resp)
}

func (s *LockService) describe(c lockCall, lease Lease) lock.CommandResponse {
	owner := lease.Owner.UserID
	return lock.CommandResponse{
		LockedByMe:     lease.Owner == c.owner,
		LockKey:        c.key,
		OwnerUserID:    &owner,
		OwnerSessionID: lease.Owner.SessionID,
		TTLSeconds:     lease.Remaining(time.Now()),
	}
}

// identify returns the caller's owner identity, issuing a fresh session
// cookie when the request carries none.
func (s *LockService) identify(w http.ResponseWriter, r *http.Request) Owner {
	var o Owner
	if v := r.Header.Get(UserHeader); v != "" {
		o.UserID, _ = strconv.ParseInt(v, 10, 64)
	}
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		o.SessionID = c.Value
		return o
	}
	o.SessionID = uuid.NewString()
	http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: o.SessionID, Path: "/", HttpOnly: true})
	return o
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("teamtest: write response failed", "error", err)
	}
}
