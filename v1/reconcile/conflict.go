package reconcile

import (
	"encoding/json"
	"fmt"
	"net/http"

	teamerrors "github.com/mirkobrombin/go-teamcal/v1/errors"
)

// ConflictCode is the error code the backend sends for a stale base version.
const ConflictCode = "VERSION_CONFLICT"

// ConflictError is a save rejected because the entry moved past the base
// version the edit started from.
type ConflictError struct {
	LatestVersion int64
	Message       string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("reconcile: version conflict, latest version %d", e.LatestVersion)
}

// Is lets errors.Is match ErrVersionConflict.
func (e *ConflictError) Is(target error) bool {
	return target == teamerrors.ErrVersionConflict
}

type conflictBody struct {
	Code          string `json:"code"`
	LatestVersion int64  `json:"latestVersion"`
	Message       string `json:"message"`
}

// ParseConflict inspects a backend response and returns a *ConflictError
// when it is a 409 carrying ConflictCode. Any other response yields nil.
func ParseConflict(status int, body []byte) error {
	if status != http.StatusConflict {
		return nil
	}
	var b conflictBody
	if err := json.Unmarshal(body, &b); err != nil || b.Code != ConflictCode {
		return nil
	}
	return &ConflictError{LatestVersion: b.LatestVersion, Message: b.Message}
}
