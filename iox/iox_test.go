package iox

import (
	"errors"
	"io"
	"strings"
	"testing"
)

type spyCloser struct{ closed bool }

func (s *spyCloser) Close() error { s.closed = true; return errors.New("ignored") }

type spyBody struct {
	io.Reader
	spyCloser
}

func TestDiscardClose(t *testing.T) {
	s := &spyCloser{}
	DiscardClose(s)
	if !s.closed {
		t.Fatal("Close was not called")
	}
}

func TestDrainClose(t *testing.T) {
	r := strings.NewReader(strings.Repeat("x", 1024))
	b := &spyBody{Reader: r}

	DrainClose(b)

	if !b.closed {
		t.Fatal("Close was not called")
	}
	if r.Len() != 0 {
		t.Errorf("body not drained, %d bytes left", r.Len())
	}
}

func TestCloseFunc(t *testing.T) {
	s := &spyCloser{}
	fn := CloseFunc(s)
	if s.closed {
		t.Fatal("Close called before invoking returned func")
	}
	fn()
	if !s.closed {
		t.Fatal("Close was not called")
	}
}
