// Package testutils provides test doubles for the mqi packages.
package testutils

import (
	"bytes"
	"io"
	"sync"
	"time"

	"github.com/gomqi/mqi/wire"
)

// ChannelMock is a scripted wire.Channel: reads serve a pre-built byte
// stream, writes are captured for inspection.
type ChannelMock struct {
	mu           sync.Mutex
	readBuf      *bytes.Buffer
	writeBuf     *bytes.Buffer
	writeClosed  bool
	closed       bool
	readDeadline time.Time
}

// NewChannelMock builds a mock whose read side serves the given payloads,
// each encoded as a proper length-prefixed frame.
func NewChannelMock(frames ...string) *ChannelMock {
	var buf bytes.Buffer
	codec := wire.NewCodec(readWriter{w: &buf})
	for _, frame := range frames {
		if err := codec.WriteMessage(frame); err != nil {
			panic(err)
		}
	}
	return NewChannelMockRaw(buf.String())
}

// NewChannelMockRaw builds a mock serving stream verbatim, for scripting
// heartbeats, broken headers and other byte-level shapes.
func NewChannelMockRaw(stream string) *ChannelMock {
	return &ChannelMock{
		readBuf:  bytes.NewBufferString(stream),
		writeBuf: &bytes.Buffer{},
	}
}

func (m *ChannelMock) Read(b []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, io.EOF
	}
	return m.readBuf.Read(b)
}

func (m *ChannelMock) Write(b []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.writeClosed {
		return 0, io.ErrClosedPipe
	}
	return m.writeBuf.Write(b)
}

func (m *ChannelMock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *ChannelMock) CloseWrite() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeClosed = true
	return nil
}

func (m *ChannelMock) SetReadDeadline(t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readDeadline = t
	return nil
}

// ReadDeadline returns the most recently set read deadline.
func (m *ChannelMock) ReadDeadline() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readDeadline
}

// Closed reports whether Close was called.
func (m *ChannelMock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// WriteClosed reports whether CloseWrite was called.
func (m *ChannelMock) WriteClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeClosed
}

// SentMessages decodes every frame written to the mock so far and returns
// their payloads.
func (m *ChannelMock) SentMessages() []string {
	m.mu.Lock()
	raw := m.writeBuf.String()
	m.mu.Unlock()

	codec := wire.NewCodec(readWriter{r: bytes.NewBufferString(raw)})
	var messages []string
	for {
		msg, err := codec.ReadMessage()
		if err != nil {
			return messages
		}
		messages = append(messages, msg)
	}
}

var _ wire.Channel = (*ChannelMock)(nil)

// readWriter glues separate reader/writer halves into an io.ReadWriter for
// wire.NewCodec.
type readWriter struct {
	r io.Reader
	w io.Writer
}

func (rw readWriter) Read(b []byte) (int, error) {
	if rw.r == nil {
		return 0, io.EOF
	}
	return rw.r.Read(b)
}

func (rw readWriter) Write(b []byte) (int, error) {
	if rw.w == nil {
		return 0, io.ErrClosedPipe
	}
	return rw.w.Write(b)
}
