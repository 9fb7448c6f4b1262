package ws

import (
	"bytes"
	"io"
	"log/slog"
	"testing"
)

func TestSSEClientFrames(t *testing.T) {
	var out bytes.Buffer
	flushes := 0
	c := NewSSEClient(&out, func() error { flushes++; return nil }, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if err := c.Send([]byte(`{"a":1}`)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := c.Heartbeat(); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if err := c.Send([]byte("x\ny")); err != nil {
		t.Fatalf("send: %v", err)
	}

	want := "id: 1\nevent: node\ndata: {\"a\":1}\n\n: ping\n\nid: 2\nevent: node\ndata: x\ndata: y\n\n"
	if out.String() != want {
		t.Fatalf("unexpected frames:\n%q\nwant\n%q", out.String(), want)
	}
	if flushes != 3 {
		t.Fatalf("expected a flush per frame, got %d", flushes)
	}

	c.Close()
	if err := c.Send([]byte("late")); err != io.EOF {
		t.Fatalf("expected EOF after close, got %v", err)
	}
}
