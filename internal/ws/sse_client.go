package ws

import (
	"bytes"
	"io"
	"log/slog"
	"strconv"
	"sync"
)

// SSEClient streams hub messages as server-sent events. Each message carries
// an increasing id so a reader can spot gaps.
type SSEClient struct {
	mu     sync.Mutex
	out    io.Writer
	flush  func() error
	log    *slog.Logger
	closed bool
	seq    uint64
	buf    bytes.Buffer
}

// NewSSEClient writes frames to out, calling flush after each one.
func NewSSEClient(out io.Writer, flush func() error, logger *slog.Logger) *SSEClient {
	return &SSEClient{out: out, flush: flush, log: logger}
}

// Send emits one node event frame.
func (c *SSEClient) Send(payload []byte) error {
	return c.emit(func(b *bytes.Buffer, seq uint64) {
		b.WriteString("id: ")
		b.WriteString(strconv.FormatUint(seq, 10))
		b.WriteString("\nevent: node\n")
		for _, line := range bytes.Split(payload, []byte("\n")) {
			b.WriteString("data: ")
			b.Write(line)
			b.WriteByte('\n')
		}
	}, true)
}

// Heartbeat emits a comment frame so idle proxies keep the stream open.
func (c *SSEClient) Heartbeat() error {
	return c.emit(func(b *bytes.Buffer, _ uint64) { b.WriteString(": ping\n") }, false)
}

func (c *SSEClient) emit(frame func(*bytes.Buffer, uint64), numbered bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.EOF
	}
	if numbered {
		c.seq++
	}
	c.buf.Reset()
	frame(&c.buf, c.seq)
	c.buf.WriteByte('\n')
	if _, err := c.out.Write(c.buf.Bytes()); err != nil {
		c.closed = true
		c.log.Warn("sse write failed", "error", err)
		return err
	}
	if err := c.flush(); err != nil {
		c.closed = true
		return err
	}
	return nil
}

// Close stops further writes.
func (c *SSEClient) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}
