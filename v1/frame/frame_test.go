package frame

import (
	"errors"
	"testing"

	teamerrors "github.com/mirkobrombin/go-teamcal/v1/errors"
)

func TestEncodeConnect(t *testing.T) {
	f := New(CommandConnect, "accept-version", "1.2", "host", "example.com")
	got := f.Encode()
	want := "CONNECT\naccept-version:1.2\nhost:example.com\n\n\x00"
	if got != want {
		t.Fatalf("unexpected encoding %q", got)
	}
}

func TestEncodeWithoutHeaders(t *testing.T) {
	got := New(CommandDisconnect).Encode()
	if got != "DISCONNECT\n\n\n\x00" {
		t.Fatalf("unexpected encoding %q", got)
	}
}

func TestSplitDropsEmptyFragments(t *testing.T) {
	parts := Split("CONNECTED\n\n\n\x00\x00MESSAGE\n\n{}\x00")
	if len(parts) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(parts))
	}
	if parts[0] != "CONNECTED\n\n\n" || parts[1] != "MESSAGE\n\n{}" {
		t.Fatalf("unexpected parts %q", parts)
	}
}

func TestDecodeMessage(t *testing.T) {
	f, err := Decode("MESSAGE\ndestination:/topic/team/5\nsubscription:team-5\n\n{\"calendarId\":5}")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.Command != CommandMessage {
		t.Fatalf("unexpected command %s", f.Command)
	}
	if v, ok := f.Header("destination"); !ok || v != "/topic/team/5" {
		t.Fatalf("unexpected destination %q", v)
	}
	if f.Body != "{\"calendarId\":5}" {
		t.Fatalf("unexpected body %q", f.Body)
	}
}

func TestDecodeHeaderValueWithColon(t *testing.T) {
	f, err := Decode("MESSAGE\nmessage-id:a:b\n\nx")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v, _ := f.Header("message-id"); v != "a:b" {
		t.Fatalf("unexpected header %q", v)
	}
}

func TestDecodeSkipsHeartbeatEOL(t *testing.T) {
	f, err := Decode("\n\nCONNECTED\nversion:1.2\n\n")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.Command != CommandConnected {
		t.Fatalf("unexpected command %q", f.Command)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"", "\n\n", "\r\n\r\n"} {
		if _, err := Decode(raw); !errors.Is(err, teamerrors.ErrMalformedFrame) {
			t.Fatalf("expected ErrMalformedFrame for %q, got %v", raw, err)
		}
	}
}

func TestDecodeIgnoresHeaderWithoutColon(t *testing.T) {
	f, err := Decode("MESSAGE\nbroken-header\ndestination:/topic/team/3\n\n{\"calendarId\":3}")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.Command != CommandMessage || f.Body != `{"calendarId":3}` {
		t.Fatalf("unexpected frame %+v", f)
	}
	if dest, ok := f.Header("destination"); !ok || dest != "/topic/team/3" || len(f.Headers) != 1 {
		t.Fatalf("unexpected headers %v", f.Headers)
	}
}

func TestRoundTrip(t *testing.T) {
	in := New(CommandSubscribe, "id", "team-3", "destination", "/topic/team/3")
	parts := Split(in.Encode())
	if len(parts) != 1 {
		t.Fatalf("expected single frame, got %d", len(parts))
	}
	out, err := Decode(parts[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Command != in.Command || len(out.Headers) != 2 || out.Headers[0] != in.Headers[0] || out.Headers[1] != in.Headers[1] {
		t.Fatalf("round trip mismatch: %v vs %v", out, in)
	}
}

func TestDecodeAllReportsSkipped(t *testing.T) {
	var skipped int
	frames := DecodeAll("\n\n\x00CONNECTED\n\n\n\x00", func(string, error) { skipped++ })
	if len(frames) != 1 || frames[0].Command != CommandConnected {
		t.Fatalf("unexpected frames %v", frames)
	}
	if skipped != 1 {
		t.Fatalf("expected one skipped frame, got %d", skipped)
	}
}
