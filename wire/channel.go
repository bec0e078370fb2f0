package wire

import (
	"io"
	"net"
	"time"
)

// Channel is a connected duplex byte stream. The MQI shutdown sequence needs
// to close the write direction independently of the read direction, so plain
// net.Conn is not enough. Both *net.TCPConn and *net.UnixConn satisfy it.
type Channel interface {
	io.ReadWriteCloser

	// CloseWrite shuts down the write direction, signalling EOF to the
	// remote side while leaving the read direction open.
	CloseWrite() error

	// SetReadDeadline sets the deadline for future Read calls.
	// A zero value means reads never time out.
	SetReadDeadline(t time.Time) error
}

var (
	_ Channel = (*net.TCPConn)(nil)
	_ Channel = (*net.UnixConn)(nil)
)

// DialTCP opens a TCP channel to addr ("host:port") with a dial timeout.
func DialTCP(addr string, timeout time.Duration) (Channel, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return conn.(*net.TCPConn), nil
}

// DialUnix opens a Unix domain socket channel to the socket file at path.
func DialUnix(path string, timeout time.Duration) (Channel, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.Dial("unix", path)
	if err != nil {
		return nil, err
	}
	return conn.(*net.UnixConn), nil
}
