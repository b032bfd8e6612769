package lock

import "testing"

func TestTargetKey(t *testing.T) {
	cases := []struct {
		target Target
		want   string
	}{
		{ScheduleTarget(3, "42"), "lock:team:3:schedule:42"},
		{Target{CalendarID: Calendar(3), ID: "42"}, "lock:team:3:schedule:42"},
		{Target{CalendarID: Calendar(3), Type: TargetCreate, ID: "draft-1"}, "lock:team:3:create:draft-1"},
		{Target{CalendarID: Calendar(3), Type: TargetCreate, ID: "  "}, "lock:team:3:create:unknown"},
	}
	for _, tc := range cases {
		if got := tc.target.Key(); got != tc.want {
			t.Fatalf("key of %v = %q, want %q", tc.target, got, tc.want)
		}
	}
}

func TestTargetUsable(t *testing.T) {
	if (Target{ID: "42"}).Usable() {
		t.Fatal("personal calendar target must not be usable")
	}
	if ScheduleTarget(3, "").Usable() {
		t.Fatal("empty id must not be usable")
	}
	if !ScheduleTarget(3, "42").Usable() {
		t.Fatal("expected usable target")
	}
}

func TestStateText(t *testing.T) {
	for _, s := range []State{StateIdle, StateAcquired, StateBlocked, StateLost, StateError} {
		b, err := s.MarshalText()
		if err != nil {
			t.Fatalf("marshal %v: %v", s, err)
		}
		var got State
		if err := got.UnmarshalText(b); err != nil || got != s {
			t.Fatalf("unmarshal %q: got %v err %v", b, got, err)
		}
	}
	var s State
	if err := s.UnmarshalText([]byte("stolen")); err == nil {
		t.Fatal("expected unknown state error")
	}
	if State(42).String() != "state(42)" {
		t.Fatalf("unexpected name %q", State(42).String())
	}
}
