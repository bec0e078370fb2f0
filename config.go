package mqi

import (
	"fmt"
	"runtime"

	"github.com/BurntSushi/toml"
)

// ServerConfig controls how a Server launches and reaches the swipl MQI
// process. The zero value launches `swipl` from PATH on a loopback TCP port
// chosen by the server, with a generated password.
type ServerConfig struct {
	// Standalone attaches to an MQI server that is already running instead
	// of launching one. Port or UnixDomainSocket and Password become
	// mandatory, since there is no process to read them from.
	Standalone bool `toml:"standalone"`

	// Port is the TCP port the server should listen on. Zero lets the
	// server pick one.
	Port int `toml:"port"`

	// UnixDomainSocket is an existing socket file path to use instead of
	// TCP. Mutually exclusive with Port.
	UnixDomainSocket string `toml:"unix_domain_socket"`

	// CreateUnixDomainSocket makes the Server generate a socket file in a
	// fresh temporary directory and clean it up on Stop. Mutually
	// exclusive with Port and UnixDomainSocket; launch mode only.
	CreateUnixDomainSocket bool `toml:"create_unix_domain_socket"`

	// Password authenticates sessions. Empty means generate one at launch.
	Password string `toml:"password"`

	// QueryTimeoutSeconds is the default per-goal time limit forwarded to
	// the server. Zero means no default limit.
	QueryTimeoutSeconds float64 `toml:"query_timeout_seconds"`

	// PendingConnections is the server's listen backlog. Zero keeps the
	// server default.
	PendingConnections int `toml:"pending_connections"`

	// OutputFile redirects the server's own output to a file, for
	// debugging the engine side. Launch mode only.
	OutputFile string `toml:"output_file"`

	// MQITraces enables engine-side protocol tracing when non-empty.
	MQITraces string `toml:"mqi_traces"`

	// PrologPath is the swipl binary. Empty means "swipl" from PATH.
	PrologPath string `toml:"prolog_path"`

	// PrologArgs are extra arguments placed before the mqi_start goal,
	// e.g. resource limits.
	PrologArgs []string `toml:"prolog_args"`
}

// LoadServerConfig reads a ServerConfig from a TOML file.
func LoadServerConfig(path string) (ServerConfig, error) {
	var config ServerConfig
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return ServerConfig{}, fmt.Errorf("mqi: loading config %s: %w", path, err)
	}
	if err := config.validate(); err != nil {
		return ServerConfig{}, err
	}
	return config, nil
}

func (c ServerConfig) validate() error {
	socketConfigured := c.UnixDomainSocket != "" || c.CreateUnixDomainSocket
	if socketConfigured && c.Port != 0 {
		return fmt.Errorf("mqi: cannot configure both a port and a unix domain socket")
	}
	if c.UnixDomainSocket != "" && c.CreateUnixDomainSocket {
		return fmt.Errorf("mqi: cannot both provide and auto-create a unix domain socket")
	}
	if c.CreateUnixDomainSocket && runtime.GOOS == "windows" {
		return fmt.Errorf("mqi: auto-created unix domain sockets: %w", ErrUnsupportedFeature)
	}

	if c.Standalone {
		if c.Port == 0 && c.UnixDomainSocket == "" {
			return fmt.Errorf("mqi: standalone mode requires a port or a unix domain socket")
		}
		if c.Password == "" {
			return fmt.Errorf("mqi: standalone mode requires a password")
		}
		if c.OutputFile != "" {
			return fmt.Errorf("mqi: output_file only works when launching the server")
		}
		if c.CreateUnixDomainSocket {
			return fmt.Errorf("mqi: create_unix_domain_socket only works when launching the server")
		}
	}
	return nil
}

func (c ServerConfig) prologPath() string {
	if c.PrologPath == "" {
		return "swipl"
	}
	return c.PrologPath
}
