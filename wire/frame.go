package wire

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync/atomic"
	"unicode/utf8"
)

// maxHeaderDigits bounds the length header. 18 decimal digits always fit in
// an int64 and are far beyond any frame the engine can produce.
const maxHeaderDigits = 18

// messageTerminator ends every normalized payload.
const messageTerminator = ".\n"

// FrameError is a decode failure. The framing state of the stream is
// undefined after one, so the connection should be closed.
type FrameError struct {
	Message string
	Err     error // underlying error, if any
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return "wire: " + e.Message + ": " + e.Err.Error()
	}
	return "wire: " + e.Message
}

// Unwrap returns the underlying error for error chain inspection.
func (e *FrameError) Unwrap() error {
	return e.Err
}

// Codec reads and writes MQI frames over a duplex stream. It owns the
// buffering of both directions; callers must not read or write the
// underlying stream directly while a Codec is attached.
//
// A Codec has no internal locking. The session layer serializes access.
type Codec struct {
	br         *bufio.Reader
	bw         *bufio.Writer
	heartbeats atomic.Int64
}

// NewCodec attaches a frame codec to rw.
func NewCodec(rw io.ReadWriter) *Codec {
	return &Codec{
		br: bufio.NewReader(rw),
		bw: bufio.NewWriter(rw),
	}
}

// Heartbeats returns the number of heartbeat bytes discarded so far.
func (c *Codec) Heartbeats() int64 {
	return c.heartbeats.Load()
}

// WriteMessage encodes msg as one frame and flushes it.
//
// The payload is normalized to end in ".\n" first: a message already
// carrying the terminator is sent as-is, otherwise at most one trailing '.'
// is stripped and ".\n" appended. The length header counts the normalized
// payload's bytes, so multi-byte UTF-8 content is measured after encoding.
func (c *Codec) WriteMessage(msg string) error {
	if !strings.HasSuffix(msg, messageTerminator) {
		msg = strings.TrimSuffix(msg, ".") + messageTerminator
	}

	var header [24]byte
	h := strconv.AppendInt(header[:0], int64(len(msg)), 10)
	h = append(h, '.', '\n')

	if _, err := c.bw.Write(h); err != nil {
		return err
	}
	if _, err := c.bw.WriteString(msg); err != nil {
		return err
	}
	return c.bw.Flush()
}

// ReadMessage decodes the next frame and returns its payload text with at
// most one trailing ".\n" stripped.
//
// Anything on the stream before the first digit of a length header is
// treated as heartbeat noise and discarded. Once digits have started, only
// more digits or the '.' header terminator are legal.
func (c *Codec) ReadMessage() (string, error) {
	n, err := c.readHeader()
	if err != nil {
		return "", err
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(c.br, payload); err != nil {
		return "", &FrameError{Message: "short frame payload", Err: err}
	}
	if !utf8.Valid(payload) {
		return "", &FrameError{Message: "frame payload is not valid UTF-8"}
	}

	msg := string(payload)
	return strings.TrimSuffix(msg, messageTerminator), nil
}

// readHeader scans for "<digits>." and consumes the following line
// terminator, returning the parsed byte count.
func (c *Codec) readHeader() (int, error) {
	var digits []byte

	for {
		b, err := c.br.ReadByte()
		if err != nil {
			return 0, err
		}

		switch {
		case b >= '0' && b <= '9':
			if len(digits) >= maxHeaderDigits {
				return 0, &FrameError{Message: "frame length header too long"}
			}
			digits = append(digits, b)
			continue

		case b == '.':
			if len(digits) == 0 {
				// Bare '.' before any digits is a heartbeat.
				c.heartbeats.Add(1)
				continue
			}
			// Header complete.

		default:
			if len(digits) == 0 {
				// Noise ahead of the header, including stray CR/LF.
				continue
			}
			return 0, &FrameError{Message: fmt.Sprintf("unexpected byte %q in frame length header", b)}
		}

		break
	}

	// Exactly one line terminator follows the header: "\n" or "\r\n".
	b, err := c.br.ReadByte()
	if err != nil {
		return 0, err
	}
	if b == '\r' {
		if b, err = c.br.ReadByte(); err != nil {
			return 0, err
		}
	}
	if b != '\n' {
		return 0, &FrameError{Message: fmt.Sprintf("unexpected byte %q after frame length header", b)}
	}

	n, err := strconv.ParseInt(string(digits), 10, 64)
	if err != nil {
		return 0, &FrameError{Message: "invalid frame length header", Err: err}
	}
	if n > int64(int(^uint(0)>>1)) {
		return 0, &FrameError{Message: "frame length exceeds platform limits"}
	}
	return int(n), nil
}
