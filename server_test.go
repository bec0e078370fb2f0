package mqi

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  ServerConfig
		wantErr bool
	}{
		{
			name:   "zero config launches on a picked port",
			config: ServerConfig{},
		},
		{
			name:   "fixed port",
			config: ServerConfig{Port: 4242},
		},
		{
			name:   "unix socket",
			config: ServerConfig{UnixDomainSocket: "/tmp/mqi.socket"},
		},
		{
			name:   "auto-created unix socket",
			config: ServerConfig{CreateUnixDomainSocket: true},
		},
		{
			name:    "port and socket conflict",
			config:  ServerConfig{Port: 4242, UnixDomainSocket: "/tmp/mqi.socket"},
			wantErr: true,
		},
		{
			name:    "provided and auto-created socket conflict",
			config:  ServerConfig{UnixDomainSocket: "/tmp/mqi.socket", CreateUnixDomainSocket: true},
			wantErr: true,
		},
		{
			name:   "standalone with port and password",
			config: ServerConfig{Standalone: true, Port: 4242, Password: "pw"},
		},
		{
			name:    "standalone without address",
			config:  ServerConfig{Standalone: true, Password: "pw"},
			wantErr: true,
		},
		{
			name:    "standalone without password",
			config:  ServerConfig{Standalone: true, Port: 4242},
			wantErr: true,
		},
		{
			name:    "standalone with output file",
			config:  ServerConfig{Standalone: true, Port: 4242, Password: "pw", OutputFile: "/tmp/out"},
			wantErr: true,
		},
		{
			name:    "standalone with auto-created socket",
			config:  ServerConfig{Standalone: true, Password: "pw", CreateUnixDomainSocket: true},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadServerConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mqi.toml")
	content := `
standalone = true
port = 4242
password = "hunter2"
query_timeout_seconds = 2.5
pending_connections = 10
prolog_path = "/opt/swipl/bin/swipl"
prolog_args = ["--stack-limit=2g"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	config, err := LoadServerConfig(path)
	require.NoError(t, err)
	assert.True(t, config.Standalone)
	assert.Equal(t, 4242, config.Port)
	assert.Equal(t, "hunter2", config.Password)
	assert.Equal(t, 2.5, config.QueryTimeoutSeconds)
	assert.Equal(t, 10, config.PendingConnections)
	assert.Equal(t, "/opt/swipl/bin/swipl", config.PrologPath)
	assert.Equal(t, []string{"--stack-limit=2g"}, config.PrologArgs)
}

func TestLoadServerConfigInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mqi.toml")
	require.NoError(t, os.WriteFile(path, []byte("standalone = true\n"), 0o600))

	_, err := LoadServerConfig(path)
	assert.Error(t, err)
}

func TestLoadServerConfigMissingFile(t *testing.T) {
	_, err := LoadServerConfig(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestNewServerAddress(t *testing.T) {
	server, err := NewServer(ServerConfig{Standalone: true, Port: 4242, Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, TCPAddress{Port: 4242}, server.Address())
	assert.NotNil(t, server.ConnectionFlag())

	server, err = NewServer(ServerConfig{Standalone: true, UnixDomainSocket: "/tmp/mqi.socket", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, UnixAddress{Path: "/tmp/mqi.socket"}, server.Address())
}

func TestNewServerRejectsInvalidConfig(t *testing.T) {
	_, err := NewServer(ServerConfig{Port: 1, UnixDomainSocket: "/tmp/x"})
	assert.Error(t, err)
}

func TestServerStopWithoutProcess(t *testing.T) {
	server, err := NewServer(ServerConfig{Standalone: true, Port: 4242, Password: "pw"})
	require.NoError(t, err)
	assert.NoError(t, server.Stop(true))
}

func TestStandaloneStartIsNoOp(t *testing.T) {
	server, err := NewServer(ServerConfig{Standalone: true, Port: 4242, Password: "pw"})
	require.NoError(t, err)
	assert.NoError(t, server.Start())
}
