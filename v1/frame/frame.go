// Package frame implements the minimal STOMP-style text framing used by the
// team calendar notification channel.
//
// A frame is encoded as
//
//	COMMAND\nheader:value\n...\n\nBODY\x00
//
// and a single transport message may carry several concatenated frames.
package frame

import (
	"fmt"
	"strings"

	teamerrors "github.com/mirkobrombin/go-teamcal/v1/errors"
)

// Commands exchanged on the channel.
const (
	CommandConnect     = "CONNECT"
	CommandConnected   = "CONNECTED"
	CommandSubscribe   = "SUBSCRIBE"
	CommandUnsubscribe = "UNSUBSCRIBE"
	CommandMessage     = "MESSAGE"
	CommandReceipt     = "RECEIPT"
	CommandDisconnect  = "DISCONNECT"
)

// Terminator ends every frame on the wire.
const Terminator = "\x00"

// Header is a single key/value pair. Headers are kept as a slice because
// their order is significant on the wire.
type Header struct {
	Key   string
	Value string
}

// Frame is one protocol unit.
type Frame struct {
	Command string
	Headers []Header
	Body    string
}

// New builds a frame from a command and alternating key/value strings.
// A trailing key without value is ignored.
func New(command string, kv ...string) Frame {
	f := Frame{Command: command}
	for i := 0; i+1 < len(kv); i += 2 {
		f.Headers = append(f.Headers, Header{Key: kv[i], Value: kv[i+1]})
	}
	return f
}

// Header returns the first value stored under key.
func (f Frame) Header(key string) (string, bool) {
	for _, h := range f.Headers {
		if h.Key == key {
			return h.Value, true
		}
	}
	return "", false
}

// Encode renders the frame including its NUL terminator.
func (f Frame) Encode() string {
	var b strings.Builder
	b.WriteString(f.Command)
	b.WriteByte('\n')
	for i, h := range f.Headers {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(h.Key)
		b.WriteByte(':')
		b.WriteString(h.Value)
	}
	b.WriteString("\n\n")
	b.WriteString(f.Body)
	b.WriteString(Terminator)
	return b.String()
}

func (f Frame) String() string {
	return fmt.Sprintf("%s %v (%d bytes)", f.Command, f.Headers, len(f.Body))
}

// Split breaks a transport message into raw frames, dropping empty fragments.
// Order is preserved.
func Split(raw string) []string {
	parts := strings.Split(raw, Terminator)
	out := parts[:0]
	for _, p := range parts {
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Decode parses a single raw frame without its terminator. Leading EOLs,
// which brokers send as heart-beats, are skipped. The body is everything
// after the first blank line; a frame without one has an empty body. Header
// lines without a colon are ignored.
func Decode(raw string) (Frame, error) {
	raw = strings.TrimLeft(raw, "\r\n")
	raw = strings.TrimSuffix(raw, Terminator)
	if raw == "" {
		return Frame{}, fmt.Errorf("%w: empty frame", teamerrors.ErrMalformedFrame)
	}

	head, body, _ := strings.Cut(raw, "\n\n")
	lines := strings.Split(head, "\n")
	command := strings.TrimSuffix(lines[0], "\r")
	if command == "" {
		return Frame{}, fmt.Errorf("%w: missing command", teamerrors.ErrMalformedFrame)
	}

	f := Frame{Command: command, Body: body}
	for _, line := range lines[1:] {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			// A bad header line loses that header, not the frame.
			continue
		}
		f.Headers = append(f.Headers, Header{Key: key, Value: value})
	}
	return f, nil
}

// DecodeAll splits and decodes every frame of a transport message. Frames
// that fail to decode are reported through skip (when non-nil) and omitted.
func DecodeAll(raw string, skip func(raw string, err error)) []Frame {
	parts := Split(raw)
	frames := make([]Frame, 0, len(parts))
	for _, p := range parts {
		f, err := Decode(p)
		if err != nil {
			if skip != nil {
				skip(p, err)
			}
			continue
		}
		frames = append(frames, f)
	}
	return frames
}
