package realtime

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Event actions published by the schedule service.
const (
	ActionCreated = "CREATED"
	ActionUpdated = "UPDATED"
	ActionDeleted = "DELETED"
)

// Event is a decoded notification payload. Only calendarId is required; the
// schedule service also sends action, scheduleId, actorUserId and timestamp.
type Event map[string]any

// CalendarID returns the numeric calendarId of the payload.
func (e Event) CalendarID() (int64, bool) {
	return e.int("calendarId")
}

// ActorUserID returns the user that caused the change.
func (e Event) ActorUserID() (int64, bool) {
	return e.int("actorUserId")
}

// Action returns the change kind, e.g. ActionUpdated.
func (e Event) Action() string {
	s, _ := e["action"].(string)
	return s
}

// Timestamp returns the server timestamp as sent.
func (e Event) Timestamp() string {
	s, _ := e["timestamp"].(string)
	return s
}

// ScheduleID returns the affected entry id in its string form, the same form
// lock targets use.
func (e Event) ScheduleID() string {
	switch v := e["scheduleId"].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint:
		return strconv.FormatUint(uint64(v), 10)
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	}
	return ""
}

// MatchesCalendar applies numeric coercion to calendarId and compares it
// with id. A missing or non-numeric calendarId never matches.
func (e Event) MatchesCalendar(id int64) bool {
	v, ok := e["calendarId"]
	if !ok {
		return false
	}
	n, ok := toNumber(v)
	return ok && n == float64(id)
}

func (e Event) int(key string) (int64, bool) {
	v, ok := e[key]
	if !ok {
		return 0, false
	}
	n, ok := toNumber(v)
	if !ok || n != math.Trunc(n) {
		return 0, false
	}
	return int64(n), true
}

// toNumber coerces JSON values the way a loose numeric comparison does:
// numeric strings parse, blank strings and null are zero, booleans are 0/1.
// Go numeric types are accepted for events built in code.
func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case nil:
		return 0, true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, true
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
