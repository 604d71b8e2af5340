package stream

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
	"time"
)

// MaxMessageSize bounds a single stream message. A completed result
// carries the whole report, so this is generous.
const MaxMessageSize = 4 * 1024 * 1024

// Message is one dispatched stream payload.
type Message struct {
	// ID is the last event ID seen on the stream, if any.
	ID string
	// Data is the payload with multi-line data fields joined by '\n'.
	Data []byte
}

// Scanner splits a server-push body into messages.
//
// It accepts text/event-stream framing (data: fields terminated by a blank
// line) and bare newline-delimited JSON, where each non-empty line that is
// not an SSE field is one message.
type Scanner struct {
	sc   *bufio.Scanner
	data bytes.Buffer
	has  bool
	// pending is a bare line that arrived while data was unterminated.
	pending []byte
	id      string
	retry   time.Duration
	msg     Message
}

// NewScanner creates a scanner over r.
func NewScanner(r io.Reader) *Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), MaxMessageSize)
	return &Scanner{sc: sc}
}

// Next advances to the next message. It returns false at end of stream or
// on error; Err reports which.
func (s *Scanner) Next() bool {
	if s.pending != nil {
		s.msg = Message{ID: s.id, Data: s.pending}
		s.pending = nil
		return true
	}
	for s.sc.Scan() {
		line := bytes.TrimSuffix(s.sc.Bytes(), []byte{'\r'})

		if len(line) == 0 {
			if s.dispatch() {
				return true
			}
			continue
		}

		switch {
		case line[0] == ':':
			// comment
		case bytes.HasPrefix(line, []byte("data:")):
			if s.has {
				s.data.WriteByte('\n')
			}
			s.data.Write(fieldValue(line, len("data:")))
			s.has = true
		case bytes.HasPrefix(line, []byte("id:")):
			s.id = string(fieldValue(line, len("id:")))
		case bytes.HasPrefix(line, []byte("retry:")):
			if ms, err := strconv.Atoi(string(fieldValue(line, len("retry:")))); err == nil && ms >= 0 {
				s.retry = time.Duration(ms) * time.Millisecond
			}
		case bytes.HasPrefix(line, []byte("event:")):
			// The discriminator travels inside the payload.
		default:
			// Bare NDJSON line. Unterminated data ends here and goes first.
			if s.dispatch() {
				s.pending = bytes.Clone(line)
				return true
			}
			s.msg = Message{ID: s.id, Data: bytes.Clone(line)}
			return true
		}
	}

	// A trailing message without its blank line is incomplete; drop it.
	return false
}

func (s *Scanner) dispatch() bool {
	if !s.has {
		return false
	}
	s.msg = Message{ID: s.id, Data: bytes.Clone(s.data.Bytes())}
	s.data.Reset()
	s.has = false
	return true
}

// Message returns the message produced by the last successful Next.
func (s *Scanner) Message() Message {
	return s.msg
}

// Retry returns the reconnect delay requested by the server, or zero.
func (s *Scanner) Retry() time.Duration {
	return s.retry
}

// LastEventID returns the most recent id field seen.
func (s *Scanner) LastEventID() string {
	return s.id
}

// Err returns the first non-EOF error encountered.
func (s *Scanner) Err() error {
	return s.sc.Err()
}

func fieldValue(line []byte, prefix int) []byte {
	v := line[prefix:]
	if len(v) > 0 && v[0] == ' ' {
		v = v[1:]
	}
	return v
}
