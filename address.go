package mqi

import (
	"net"
	"strconv"
	"time"

	"github.com/gomqi/mqi/wire"
)

// ConnectionAddr identifies a listening MQI server. The two implementations
// are TCPAddress and UnixAddress; the set is closed.
type ConnectionAddr interface {
	String() string

	dial(timeout time.Duration) (wire.Channel, error)
}

// TCPAddress is a TCP endpoint. An empty Host means loopback.
type TCPAddress struct {
	Host string
	Port int
}

func (a TCPAddress) String() string {
	return "tcp://" + a.hostPort()
}

func (a TCPAddress) hostPort() string {
	host := a.Host
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(a.Port))
}

func (a TCPAddress) dial(timeout time.Duration) (wire.Channel, error) {
	return wire.DialTCP(a.hostPort(), timeout)
}

// UnixAddress is a Unix domain socket file.
type UnixAddress struct {
	Path string
}

func (a UnixAddress) String() string {
	return "unix://" + a.Path
}

func (a UnixAddress) dial(timeout time.Duration) (wire.Channel, error) {
	return wire.DialUnix(a.Path, timeout)
}
