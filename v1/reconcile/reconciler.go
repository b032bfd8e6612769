// Package reconcile keeps an open edit form consistent with a calendar that
// other users change concurrently.
//
// A Reconciler tracks one edit session at a time. It remembers the version
// the edit started from, turns realtime notifications about the edited entry
// into banners instead of touching the form, and gates saves and deletes on
// the lease check. Merging is never attempted: a stale save surfaces a
// conflict banner and the user reloads.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	teamerrors "github.com/mirkobrombin/go-teamcal/v1/errors"
	"github.com/mirkobrombin/go-teamcal/v1/metrics"
	"github.com/mirkobrombin/go-teamcal/v1/realtime"
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-teamcal/v1/reconcile")

// Authorizer performs the pre-save lease check. *lock.Coordinator
// satisfies it.
type Authorizer interface {
	AuthorizeWriteBeforeSave(ctx context.Context) bool
}

// Refetcher reloads the visible month of a calendar from the backend.
type Refetcher func(ctx context.Context, calendarID int64) error

// CommitFunc performs the actual write with the base version the edit
// started from. It returns a *ConflictError (see ParseConflict) when the
// backend rejects the version.
type CommitFunc func(ctx context.Context, baseVersion int64) error

// Snapshot is the server state of an entry when editing starts.
type Snapshot struct {
	CalendarID int64
	ScheduleID string
	Version    int64
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithRefetcher sets the background refetch triggered by notifications.
func WithRefetcher(fn Refetcher) Option {
	return func(r *Reconciler) {
		r.refetch = fn
	}
}

// WithBannerObserver registers a callback invoked whenever the banner
// changes.
func WithBannerObserver(fn func(Banner)) Option {
	return func(r *Reconciler) {
		r.observer = fn
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = l
	}
}

type session struct {
	snapshot Snapshot
	creating bool
}

// Reconciler coordinates one edit form with the lease and the realtime feed.
type Reconciler struct {
	auth     Authorizer
	refetch  Refetcher
	observer func(Banner)
	logger   *slog.Logger

	group    singleflight.Group
	inflight sync.WaitGroup

	mu      sync.Mutex
	session *session
	remote  bool
	banner  Banner
}

// New returns a reconciler gating writes on auth.
func New(auth Authorizer, opts ...Option) *Reconciler {
	r := &Reconciler{auth: auth, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// BeginEdit opens an edit session for an existing entry and records its
// version as the base version.
func (r *Reconciler) BeginEdit(s Snapshot) {
	r.begin(&session{snapshot: s})
}

// BeginCreate opens a session for a new entry of calendarID. It has no base
// version and no remote entry to watch.
func (r *Reconciler) BeginCreate(calendarID int64) {
	r.begin(&session{snapshot: Snapshot{CalendarID: calendarID}, creating: true})
}

func (r *Reconciler) begin(s *session) {
	r.mu.Lock()
	r.session = s
	r.remote = false
	changed := r.banner.Kind != BannerNone
	r.banner = Banner{}
	r.mu.Unlock()
	if changed {
		r.notify(Banner{})
	}
}

// EndEdit closes the session, dropping banners and the base version.
func (r *Reconciler) EndEdit() {
	r.begin(nil)
}

// Editing reports whether a session is open.
func (r *Reconciler) Editing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session != nil
}

// BaseVersion returns the version the current edit started from.
func (r *Reconciler) BaseVersion() (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil || r.session.creating {
		return 0, false
	}
	return r.session.snapshot.Version, true
}

// RemoteUpdateAvailable reports whether the edited entry changed remotely
// since the session started.
func (r *Reconciler) RemoteUpdateAvailable() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remote
}

// Banner returns the notice to render.
func (r *Reconciler) Banner() Banner {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.banner
}

// HandleEvent reacts to a realtime notification. With no open session the
// event only schedules a refetch of its calendar. During a session, events
// of other calendars are ignored and an event about the entry being edited
// never touches the form: it flags the remote change and raises the remote
// update banner unless a conflict is already shown. Every event of
// the session's calendar also schedules a background refetch.
func (r *Reconciler) HandleEvent(ev realtime.Event) {
	r.mu.Lock()
	s := r.session
	if s == nil {
		r.mu.Unlock()
		if cal, ok := ev.CalendarID(); ok && cal != 0 {
			r.scheduleRefetch(cal)
		}
		return
	}
	if !ev.MatchesCalendar(s.snapshot.CalendarID) {
		r.mu.Unlock()
		return
	}
	var raised *Banner
	if !s.creating && ev.ScheduleID() == s.snapshot.ScheduleID {
		r.remote = true
		b := Banner{Kind: BannerRemoteUpdate, Message: MsgRemoteUpdate}
		if ev.Action() == realtime.ActionDeleted {
			b = Banner{Kind: BannerRemoteDelete, Message: MsgRemoteDelete}
		}
		// The conflict banner stays until the user reloads.
		if r.banner.Kind != BannerConflict && r.banner != b {
			r.banner = b
			raised = &b
		}
	}
	cal := s.snapshot.CalendarID
	r.mu.Unlock()

	if raised != nil {
		r.logger.Debug("reconcile: remote change on edited entry",
			"calendar", cal,
			"schedule", ev.ScheduleID(),
			"action", ev.Action(),
		)
		r.notify(*raised)
	}
	r.scheduleRefetch(cal)
}

// scheduleRefetch runs the refetcher in the background. Concurrent requests
// for the same calendar share one call.
func (r *Reconciler) scheduleRefetch(calendarID int64) {
	if r.refetch == nil {
		return
	}
	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		key := strconv.FormatInt(calendarID, 10)
		_, err, shared := r.group.Do(key, func() (any, error) {
			metrics.Refetches.Inc()
			return nil, r.refetch(context.Background(), calendarID)
		})
		if err != nil && !shared {
			r.logger.Warn("reconcile: refetch failed", "calendar", calendarID, "error", err)
		}
	}()
}

// Wait blocks until background refetches finish or ctx is done.
func (r *Reconciler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return teamerrors.ErrTimeout
		}
		return ctx.Err()
	}
}

// Save commits the edit. The lease is checked first; when the check fails
// commit is not called and ErrWriteNotAuthorized is returned. commit
// receives the base version (zero for new entries). A version conflict
// raises the conflict banner and is returned as *ConflictError. A
// successful save closes the session.
func (r *Reconciler) Save(ctx context.Context, commit CommitFunc) error {
	return r.write(ctx, "Reconciler.Save", commit)
}

// Delete removes the edited entry under the same rules as Save.
func (r *Reconciler) Delete(ctx context.Context, commit CommitFunc) error {
	return r.write(ctx, "Reconciler.Delete", commit)
}

func (r *Reconciler) write(ctx context.Context, op string, commit CommitFunc) error {
	r.mu.Lock()
	s := r.session
	r.mu.Unlock()
	if s == nil {
		return teamerrors.ErrNotUsable
	}
	base := s.snapshot.Version
	if s.creating {
		base = 0
	}

	ctx, span := tracer.Start(ctx, op, trace.WithAttributes(
		attribute.Int64("teamcal.calendar_id", s.snapshot.CalendarID),
		attribute.String("teamcal.schedule_id", s.snapshot.ScheduleID),
		attribute.Int64("teamcal.base_version", base),
	))
	defer span.End()

	if r.auth != nil && !r.auth.AuthorizeWriteBeforeSave(ctx) {
		span.SetStatus(codes.Error, "not authorized")
		r.raise(s, Banner{Kind: BannerNotAuthorized, Message: MsgNotAuthorized})
		return teamerrors.ErrWriteNotAuthorized
	}

	if err := commit(ctx, base); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			metrics.VersionConflicts.Inc()
			msg := conflict.Message
			if msg == "" {
				msg = MsgConflict
			}
			r.raise(s, Banner{Kind: BannerConflict, Message: msg})
			r.logger.Info("reconcile: version conflict",
				"schedule", s.snapshot.ScheduleID,
				"base", base,
				"latest", conflict.LatestVersion,
			)
		}
		return err
	}

	r.mu.Lock()
	current := r.session == s
	r.mu.Unlock()
	if current {
		r.EndEdit()
	}
	r.scheduleRefetch(s.snapshot.CalendarID)
	return nil
}

// raise sets b if s is still the open session.
func (r *Reconciler) raise(s *session, b Banner) {
	r.mu.Lock()
	if r.session != s {
		r.mu.Unlock()
		return
	}
	r.banner = b
	r.mu.Unlock()
	r.notify(b)
}

func (r *Reconciler) notify(b Banner) {
	if r.observer != nil {
		r.observer(b)
	}
}
