package lock

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPClientCommandPaths(t *testing.T) {
	var paths []string
	var bodies []CommandRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		if r.Method == http.MethodPost {
			var req CommandRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode: %v", err)
			}
			bodies = append(bodies, req)
		}
		if got := r.Header.Get("X-Trace"); got != "abc" {
			t.Errorf("missing custom header, got %q", got)
		}
		_ = json.NewEncoder(w).Encode(CommandResponse{Success: true, LockedByMe: true, TTLSeconds: 15, Message: "ok"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL+"/api/", WithHeader("X-Trace", "abc"))
	ctx := context.Background()
	target := ScheduleTarget(3, "42")

	g, err := c.Acquire(ctx, target)
	if err != nil || g.TTLSeconds != 15 || g.Message != "ok" {
		t.Fatalf("acquire: %+v %v", g, err)
	}
	if _, err := c.Refresh(ctx, target); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, err := c.AuthorizeWrite(ctx, target); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if err := c.Release(ctx, target); err != nil {
		t.Fatalf("release: %v", err)
	}

	want := []string{
		"POST /api/team-calendars/3/locks/acquire",
		"POST /api/team-calendars/3/locks/refresh",
		"POST /api/team-calendars/3/locks/authorize-write",
		"POST /api/team-calendars/3/locks/release",
	}
	if len(paths) != len(want) {
		t.Fatalf("unexpected requests %v", paths)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Fatalf("request %d = %q, want %q", i, paths[i], want[i])
		}
		if bodies[i].TargetType != TargetSchedule || bodies[i].TargetID != "42" {
			t.Fatalf("unexpected body %+v", bodies[i])
		}
	}
}

func TestHTTPClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusLocked)
		_ = json.NewEncoder(w).Encode(CommandResponse{TTLSeconds: 12, Message: "busy"})
	}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL).Acquire(context.Background(), ScheduleTarget(3, "42"))
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusLocked || apiErr.TTLSeconds != 12 || apiErr.Message != "busy" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
	if StatusCode(err) != http.StatusLocked {
		t.Fatalf("StatusCode = %d", StatusCode(err))
	}
}

func TestHTTPClientNonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL).Refresh(context.Background(), ScheduleTarget(3, "42"))
	if StatusCode(err) != http.StatusBadGateway {
		t.Fatalf("expected 502, got %v", err)
	}
}

func TestHTTPClientSuccessWithoutJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("OK"))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL)
	grant, err := client.Acquire(context.Background(), ScheduleTarget(3, "42"))
	if err != nil {
		t.Fatalf("2xx must succeed whatever the body, got %v", err)
	}
	if grant.TTLSeconds != 0 || grant.Message != "" {
		t.Fatalf("unexpected grant %+v", grant)
	}

	c := NewCoordinator(client, ScheduleTarget(3, "42"))
	defer c.Close()
	if !c.AcquireForEdit(context.Background()) {
		t.Fatal("expected acquire to succeed")
	}
	if st := c.Status(); st.State != StateAcquired || st.TTLSeconds != DefaultTTLSeconds || st.Message != MsgAcquired {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestHTTPClientNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPClient(url).Acquire(context.Background(), ScheduleTarget(3, "42"))
	if err == nil {
		t.Fatal("expected network error")
	}
	if StatusCode(err) != 0 {
		t.Fatalf("network error must carry no status, got %d", StatusCode(err))
	}
}

func TestHTTPClientStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/team-calendars/3/locks" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("targetType") != "CREATE" || q.Get("targetId") != "d1" {
			t.Errorf("unexpected query %v", q)
		}
		owner := int64(9)
		_ = json.NewEncoder(w).Encode(CommandResponse{
			Success:     true,
			LockKey:     "lock:team:3:create:d1",
			OwnerUserID: &owner,
			TTLSeconds:  7,
		})
	}))
	defer srv.Close()

	info, err := NewHTTPClient(srv.URL).Status(context.Background(), Target{CalendarID: Calendar(3), Type: TargetCreate, ID: "d1"})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !info.Locked || info.LockKey != "lock:team:3:create:d1" || info.OwnerUserID == nil || *info.OwnerUserID != 9 {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestHTTPClientKeepsSessionCookie(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("SESSION"); err == nil {
			seen = append(seen, c.Value)
		} else {
			http.SetCookie(w, &http.Cookie{Name: "SESSION", Value: "s-1", Path: "/"})
			seen = append(seen, "")
		}
		_ = json.NewEncoder(w).Encode(CommandResponse{Success: true, TTLSeconds: 15})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	ctx := context.Background()
	_, _ = c.Acquire(ctx, ScheduleTarget(3, "42"))
	_, _ = c.Refresh(ctx, ScheduleTarget(3, "42"))
	if len(seen) != 2 || seen[0] != "" || seen[1] != "s-1" {
		t.Fatalf("session cookie not carried: %v", seen)
	}
}
