package mqi

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// Server supervises one swipl MQI process: it launches the process, reads
// the connection values it prints at startup, hands out Sessions against it
// and tears it down. In standalone mode it skips the process management and
// only carries the connection details.
//
// Server is the longest-lived holder of the ConnectionFlag shared with its
// Sessions; it reads the flag in Stop to decide whether a graceful remote
// shutdown is still worth attempting.
type Server struct {
	mu     sync.Mutex
	config ServerConfig
	flag   *ConnectionFlag

	process *exec.Cmd

	// Effective connection values, from config or the process's startup
	// lines.
	port       int
	socketPath string
	password   string

	// Set when we generated the socket directory and must remove it.
	tempSocketDir string
}

// NewServer validates config and returns an unstarted Server.
func NewServer(config ServerConfig) (*Server, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &Server{
		config:     config,
		flag:       NewConnectionFlag(),
		port:       config.Port,
		socketPath: config.UnixDomainSocket,
		password:   config.Password,
	}, nil
}

// ConnectionFlag returns the failure flag shared with this server's
// sessions.
func (s *Server) ConnectionFlag() *ConnectionFlag {
	return s.flag
}

// Address returns the address sessions should connect to. Only meaningful
// once the server is started (or immediately, in standalone mode).
func (s *Server) Address() ConnectionAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.address()
}

func (s *Server) address() ConnectionAddr {
	if s.socketPath != "" {
		return UnixAddress{Path: s.socketPath}
	}
	return TCPAddress{Port: s.port}
}

// Start launches the swipl process and reads its connection values. It does
// nothing in standalone mode or when the process is already running.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config.Standalone {
		log.Debug().Msg("mqi standalone mode, not launching swipl")
		return nil
	}
	if s.process != nil {
		return nil
	}
	return s.launch()
}

// launch spawns swipl and consumes the two startup lines: the chosen port
// or socket path, then the password. Caller holds s.mu.
func (s *Server) launch() error {
	if s.password == "" {
		password, err := generatePassword()
		if err != nil {
			return &LaunchError{Message: "generating password", Err: err}
		}
		s.password = password
	}

	if s.config.CreateUnixDomainSocket && s.socketPath == "" {
		dir, err := os.MkdirTemp("", "mqi")
		if err != nil {
			return &LaunchError{Message: "creating socket directory", Err: err}
		}
		s.tempSocketDir = dir
		s.socketPath = filepath.Join(dir, "mqi.socket")
	}

	args := append([]string{}, s.config.PrologArgs...)
	args = append(args, "mqi_start", "--write_connection_values=true")
	args = append(args, "--password="+s.password)
	if s.config.PendingConnections > 0 {
		args = append(args, "--pending_connections="+strconv.Itoa(s.config.PendingConnections))
	}
	if s.config.QueryTimeoutSeconds > 0 {
		args = append(args, "--query_timeout_seconds="+strconv.FormatFloat(s.config.QueryTimeoutSeconds, 'f', -1, 64))
	}
	if s.config.OutputFile != "" {
		args = append(args, "--write_output_to_file="+s.config.OutputFile)
	}
	if s.socketPath != "" {
		args = append(args, "--unix_domain_socket="+s.socketPath)
	} else if s.port != 0 {
		args = append(args, "--port="+strconv.Itoa(s.port))
	}
	if s.config.MQITraces != "" {
		args = append(args, "--debug=true")
	}

	cmd := exec.Command(s.config.prologPath(), args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &LaunchError{Message: "opening stdout pipe", Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &LaunchError{Message: "opening stderr pipe", Err: err}
	}

	log.Info().Str("path", s.config.prologPath()).Strs("args", args).Msg("launching swipl mqi")
	if err := cmd.Start(); err != nil {
		return &LaunchError{Message: "starting swipl", Err: err}
	}

	// The server prints exactly two lines before serving: the port or
	// socket path, then the password it expects.
	reader := bufio.NewReader(stdout)
	connectionLine, err := readStartupLine(reader)
	if err != nil {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
		return &LaunchError{Message: "reading connection value", Err: err}
	}
	passwordLine, err := readStartupLine(reader)
	if err != nil {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
		return &LaunchError{Message: "reading password value", Err: err}
	}

	if s.socketPath == "" {
		port, err := strconv.Atoi(connectionLine)
		if err != nil {
			_ = cmd.Process.Kill()
			_, _ = cmd.Process.Wait()
			return &LaunchError{Message: fmt.Sprintf("unexpected connection value %q", connectionLine), Err: err}
		}
		s.port = port
	} else if connectionLine != s.socketPath {
		log.Debug().Str("reported", connectionLine).Msg("server reported a different socket path, using it")
		s.socketPath = connectionLine
	}
	s.password = passwordLine
	s.process = cmd

	go drainOutput("stdout", reader)
	go drainOutput("stderr", bufio.NewReader(stderr))

	log.Info().Int("pid", cmd.Process.Pid).Str("address", s.address().String()).Msg("swipl mqi started")
	return nil
}

// Connect opens a new authenticated Session against the supervised server,
// starting the process first if needed.
func (s *Server) Connect() (*Session, error) {
	if err := s.Start(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	addr := s.address()
	password := s.password
	s.mu.Unlock()

	if password == "" {
		return nil, fmt.Errorf("mqi: no password available for connection")
	}
	return Connect(addr, password, s.flag)
}

// Dial adapts Connect to the SessionPool constructor signature. The
// context only covers pool bookkeeping; the dial itself is bounded by
// DefaultDialTimeout.
func (s *Server) Dial(_ context.Context) (*Session, error) {
	return s.Connect()
}

// Stop shuts the server process down. Unless kill is set or the shared flag
// already marks the connection as failed, it first attempts a graceful
// shutdown by sending quit. over a fresh session; then it kills and waits on
// the process and removes any socket directory it created. Safe to call when
// nothing is running.
func (s *Server) Stop(kill bool) error {
	s.mu.Lock()
	process := s.process
	s.process = nil
	s.mu.Unlock()

	if process == nil {
		log.Debug().Msg("mqi stop: no supervised process")
		return nil
	}

	if !kill && !s.flag.Failed() {
		if err := s.haltGracefully(); err != nil {
			log.Warn().Err(err).Msg("graceful mqi shutdown failed, killing process")
		}
	}

	if err := process.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		log.Debug().Err(err).Msg("mqi process kill")
	}
	if err := process.Wait(); err != nil {
		log.Debug().Err(err).Msg("mqi process exited with error")
	} else {
		log.Info().Msg("mqi process exited")
	}

	s.mu.Lock()
	dir := s.tempSocketDir
	s.tempSocketDir = ""
	s.mu.Unlock()
	if dir != "" {
		if err := os.RemoveAll(dir); err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("removing mqi socket directory failed")
		}
	}
	return nil
}

// haltGracefully opens a short-lived session just to deliver quit., which
// also sets the shared flag.
func (s *Server) haltGracefully() error {
	s.mu.Lock()
	addr := s.address()
	password := s.password
	s.mu.Unlock()

	session, err := Connect(addr, password, s.flag)
	if err != nil {
		return err
	}
	if err := session.haltRemote(); err != nil {
		session.Close()
		return err
	}
	// The flag is set now; Close would race the exiting server, so only
	// drop the channel.
	return session.channel.Close()
}

func readStartupLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func drainOutput(name string, r *bufio.Reader) {
	for {
		line, err := r.ReadString('\n')
		if len(line) > 0 {
			log.Trace().Str("stream", name).Str("line", strings.TrimRight(line, "\r\n")).Msg("swipl output")
		}
		if err != nil {
			if err != io.EOF {
				log.Debug().Err(err).Str("stream", name).Msg("swipl output stream ended")
			}
			return
		}
	}
}

func generatePassword() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}
