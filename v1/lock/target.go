package lock

import (
	"fmt"
	"strings"
)

// TargetType names the kind of resource under lock.
type TargetType string

const (
	// TargetSchedule locks an existing calendar entry.
	TargetSchedule TargetType = "SCHEDULE"
	// TargetCreate locks the creation of a new entry.
	TargetCreate TargetType = "CREATE"
)

// Target identifies the resource under mutual exclusion. A nil CalendarID
// denotes the personal calendar, which has no lock concept.
type Target struct {
	CalendarID *int64
	Type       TargetType
	ID         string
}

// Calendar returns a pointer suitable for Target.CalendarID.
func Calendar(id int64) *int64 {
	return &id
}

// ScheduleTarget builds a target for an existing entry of a team calendar.
func ScheduleTarget(calendarID int64, id string) Target {
	return Target{CalendarID: Calendar(calendarID), Type: TargetSchedule, ID: id}
}

// Usable reports whether lock operations apply to the target.
func (t Target) Usable() bool {
	return t.CalendarID != nil && t.ID != ""
}

// Kind returns the target type, SCHEDULE when unset.
func (t Target) Kind() TargetType {
	if t.Type == "" {
		return TargetSchedule
	}
	return t.Type
}

// Key returns the server-side lock key of the target. Blank ids normalize
// to "unknown".
func (t Target) Key() string {
	var cal int64
	if t.CalendarID != nil {
		cal = *t.CalendarID
	}
	id := strings.TrimSpace(t.ID)
	if id == "" {
		id = "unknown"
	}
	kind := "create"
	if t.Kind() == TargetSchedule {
		kind = "schedule"
	}
	return fmt.Sprintf("lock:team:%d:%s:%s", cal, kind, id)
}

func (t Target) String() string {
	if t.CalendarID == nil {
		return fmt.Sprintf("personal/%s/%s", t.Kind(), t.ID)
	}
	return fmt.Sprintf("%d/%s/%s", *t.CalendarID, t.Kind(), t.ID)
}
