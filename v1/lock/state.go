package lock

import (
	"fmt"
	"strings"
)

// State is the coordinator lifecycle position.
type State int

const (
	StateIdle State = iota
	StateAcquired
	StateBlocked
	StateLost
	StateError
)

var stateNames = [...]string{"idle", "acquired", "blocked", "lost", "error"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(b []byte) error {
	name := strings.ToLower(string(b))
	for i, n := range stateNames {
		if n == name {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("lock: unknown state %q", b)
}

// Status is what the UI renders: the state, a human message and the ttl the
// server reported.
type Status struct {
	State      State  `json:"status"`
	Message    string `json:"message"`
	TTLSeconds int64  `json:"ttlSeconds"`
}

// DefaultTTLSeconds is assumed when a successful response omits the ttl.
const DefaultTTLSeconds = 15

// User-facing messages used when the server does not provide one.
const (
	MsgAcquired        = "Lock acquired."
	MsgRefreshed       = "Lock refreshed."
	MsgBlocked         = "Another user is editing this schedule."
	MsgAcquireFailed   = "Failed to acquire lock."
	MsgLost            = "Lock expired or moved to another user."
	MsgMissing         = "Lock is missing. Re-open edit to continue."
	MsgNotOwner        = "Not lock owner."
	MsgAuthorizeFailed = "Failed to authorize write."
)
