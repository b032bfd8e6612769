package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestSentinelsWrap(t *testing.T) {
	for _, target := range []error{ErrTimeout, ErrConnectionClosed, ErrMalformedFrame, ErrNotUsable, ErrWriteNotAuthorized, ErrVersionConflict} {
		wrapped := fmt.Errorf("op: %w", target)
		if !errors.Is(wrapped, target) {
			t.Fatalf("expected %v to match after wrapping", target)
		}
	}
	if errors.Is(ErrTimeout, ErrConnectionClosed) {
		t.Fatal("sentinels must be distinct")
	}
}
