package lock

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	teamerrors "github.com/mirkobrombin/go-teamcal/v1/errors"
)

const maxResponseBytes = 1 << 20

// CommandRequest is the JSON body of every lease command.
type CommandRequest struct {
	TargetType TargetType `json:"targetType"`
	TargetID   string     `json:"targetId"`
}

// CommandResponse is the JSON body the lock service answers with.
type CommandResponse struct {
	Success        bool   `json:"success"`
	LockedByMe     bool   `json:"lockedByMe"`
	LockKey        string `json:"lockKey,omitempty"`
	OwnerUserID    *int64 `json:"ownerUserId,omitempty"`
	OwnerSessionID string `json:"ownerSessionId,omitempty"`
	TTLSeconds     int64  `json:"ttlSeconds"`
	Message        string `json:"message,omitempty"`
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithHTTPClient replaces the underlying client. Its cookie jar carries the
// session that identifies the lease owner.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPClient) {
		h.http = c
	}
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) HTTPOption {
	return func(h *HTTPClient) {
		h.header.Add(key, value)
	}
}

// HTTPClient talks to the lock endpoints under
// {baseURL}/team-calendars/{calendarId}/locks.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	header  http.Header
}

// NewHTTPClient returns a client for the API rooted at baseURL, for example
// "https://cal.example.com/api". The default http.Client keeps cookies so
// all calls run in the same server session.
func NewHTTPClient(baseURL string, opts ...HTTPOption) *HTTPClient {
	jar, _ := cookiejar.New(nil)
	h := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Jar: jar, Timeout: 10 * time.Second},
		header:  make(http.Header),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Acquire implements Client.
func (h *HTTPClient) Acquire(ctx context.Context, t Target) (Grant, error) {
	resp, err := h.command(ctx, "acquire", t)
	return Grant{Message: resp.Message, TTLSeconds: resp.TTLSeconds}, err
}

// Refresh implements Client.
func (h *HTTPClient) Refresh(ctx context.Context, t Target) (Grant, error) {
	resp, err := h.command(ctx, "refresh", t)
	return Grant{Message: resp.Message, TTLSeconds: resp.TTLSeconds}, err
}

// Release implements Client.
func (h *HTTPClient) Release(ctx context.Context, t Target) error {
	_, err := h.command(ctx, "release", t)
	return err
}

// AuthorizeWrite implements Client.
func (h *HTTPClient) AuthorizeWrite(ctx context.Context, t Target) (Grant, error) {
	resp, err := h.command(ctx, "authorize-write", t)
	return Grant{Message: resp.Message, TTLSeconds: resp.TTLSeconds}, err
}

// Status implements Client.
func (h *HTTPClient) Status(ctx context.Context, t Target) (Info, error) {
	if t.CalendarID == nil {
		return Info{}, teamerrors.ErrNotUsable
	}
	ctx, span := tracer.Start(ctx, "HTTPClient.Status", trace.WithAttributes(targetAttrs(t)...))
	defer span.End()

	q := url.Values{}
	q.Set("targetType", string(t.Kind()))
	q.Set("targetId", t.ID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.locksURL(t)+"?"+q.Encode(), nil)
	if err != nil {
		return Info{}, err
	}
	resp, err := h.do(span, req)
	if err != nil {
		return Info{}, err
	}
	return Info{
		Locked:         resp.Success,
		LockedByMe:     resp.LockedByMe,
		LockKey:        resp.LockKey,
		OwnerUserID:    resp.OwnerUserID,
		OwnerSessionID: resp.OwnerSessionID,
		TTLSeconds:     resp.TTLSeconds,
		Message:        resp.Message,
	}, nil
}

func (h *HTTPClient) locksURL(t Target) string {
	return h.baseURL + "/team-calendars/" + strconv.FormatInt(*t.CalendarID, 10) + "/locks"
}

func (h *HTTPClient) command(ctx context.Context, op string, t Target) (CommandResponse, error) {
	if t.CalendarID == nil {
		return CommandResponse{}, teamerrors.ErrNotUsable
	}
	ctx, span := tracer.Start(ctx, "HTTPClient."+op, trace.WithAttributes(targetAttrs(t)...))
	defer span.End()

	body, err := json.Marshal(CommandRequest{TargetType: t.Kind(), TargetID: t.ID})
	if err != nil {
		return CommandResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.locksURL(t)+"/"+op, bytes.NewReader(body))
	if err != nil {
		return CommandResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	return h.do(span, req)
}

func (h *HTTPClient) do(span trace.Span, req *http.Request) (CommandResponse, error) {
	for k, vs := range h.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	res, err := h.http.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return CommandResponse{}, fmt.Errorf("lock: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer res.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", res.StatusCode))

	var out CommandResponse
	data, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return CommandResponse{}, fmt.Errorf("lock: read response: %w", err)
	}
	// The status code decides the outcome. An undecodable body only loses
	// the message and ttl, which callers default.
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &out); err != nil {
			span.AddEvent("undecodable response body")
			out = CommandResponse{}
		}
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		span.SetStatus(codes.Error, res.Status)
		return out, &APIError{StatusCode: res.StatusCode, Message: out.Message, TTLSeconds: out.TTLSeconds}
	}
	return out, nil
}

func targetAttrs(t Target) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("teamcal.target_type", string(t.Kind())),
		attribute.String("teamcal.target_id", t.ID),
	}
	if t.CalendarID != nil {
		attrs = append(attrs, attribute.Int64("teamcal.calendar_id", *t.CalendarID))
	}
	return attrs
}
