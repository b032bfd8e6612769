package lock

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Grant is the server answer to a successful lease command.
type Grant struct {
	Message    string
	TTLSeconds int64
}

// Info is the read-only lease status shown to viewers.
type Info struct {
	Locked         bool   `json:"locked"`
	LockedByMe     bool   `json:"lockedByMe"`
	LockKey        string `json:"lockKey"`
	OwnerUserID    *int64 `json:"ownerUserId,omitempty"`
	OwnerSessionID string `json:"ownerSessionId,omitempty"`
	TTLSeconds     int64  `json:"ttlSeconds"`
	Message        string `json:"message"`
}

// Client is the lock service consumed by the coordinator. Implementations
// return *APIError for any non-success answer of the service and plain
// errors for transport failures.
type Client interface {
	Acquire(ctx context.Context, t Target) (Grant, error)
	Refresh(ctx context.Context, t Target) (Grant, error)
	Release(ctx context.Context, t Target) error
	AuthorizeWrite(ctx context.Context, t Target) (Grant, error)
	Status(ctx context.Context, t Target) (Info, error)
}

// APIError is a non-success response of the lock service.
type APIError struct {
	StatusCode int
	Message    string
	TTLSeconds int64
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("lock: service returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("lock: service returned %d: %s", e.StatusCode, e.Message)
}

// StatusCode extracts the HTTP status of an *APIError in err's chain, zero
// when err carries none (network failures, cancellations).
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

func apiDetails(err error) (string, int64) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message, apiErr.TTLSeconds
	}
	return "", 0
}
