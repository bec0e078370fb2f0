package mqi

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gomqi/mqi/wire"
)

// The protocol major version this client requires. Version 0.0 servers are
// tolerated with a warning; see checkProtocolVersion.
const (
	requiredProtocolMajor = 1
	requiredProtocolMinor = 0
)

// DefaultDialTimeout bounds Connect's dial.
const DefaultDialTimeout = 30 * time.Second

// NoTimeout lets the engine run a goal without a time limit.
const NoTimeout time.Duration = 0

// WaitIndefinitely blocks an AsyncResult call until a result exists.
const WaitIndefinitely time.Duration = -1

// closeAckTimeout bounds the best-effort acknowledgment read during Close,
// so a live but silent server cannot stall teardown.
const closeAckTimeout = 5 * time.Second

// ConnectionFlag is the failure signal shared between a Session and the
// Server supervising its remote process. Either side may set it; once set it
// stays set. The supervisor reads it to decide whether a graceful remote
// shutdown is still worth attempting, and session teardown paths read it to
// avoid racing one.
type ConnectionFlag struct {
	failed atomic.Bool
}

// NewConnectionFlag returns an unset flag.
func NewConnectionFlag() *ConnectionFlag {
	return &ConnectionFlag{}
}

// Set marks the connection as failed or intentionally going down.
func (f *ConnectionFlag) Set() {
	f.failed.Store(true)
}

// Failed reports whether the flag has been set.
func (f *ConnectionFlag) Failed() bool {
	return f.failed.Load()
}

// Session is one authenticated connection to an MQI server, executing
// queries as blocking send-then-receive round trips.
//
// A Session owns its channel exclusively and has no internal concurrency.
// Methods are serialized by an internal mutex, so concurrent callers block
// rather than corrupt frame boundaries; for parallel query throughput use
// one Session per worker or a SessionPool.
type Session struct {
	mu      sync.Mutex
	channel wire.Channel
	codec   *wire.Codec
	flag    *ConnectionFlag

	commThreadID  string
	goalThreadID  string
	protocolMajor int
	protocolMinor int

	readTimeout  time.Duration
	closed       bool
	asyncPending bool
}

// Connect opens a channel to addr, authenticates with password and
// negotiates the protocol version. The flag may be shared with a Server;
// pass nil to get a private one.
func Connect(addr ConnectionAddr, password string, flag *ConnectionFlag) (*Session, error) {
	ch, err := addr.dial(DefaultDialTimeout)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("address", addr.String()).Msg("mqi channel opened")
	return connectChannel(ch, password, flag)
}

// connectChannel runs the handshake over an already open channel. Split out
// so tests can drive a session over a scripted channel.
func connectChannel(ch wire.Channel, password string, flag *ConnectionFlag) (*Session, error) {
	if flag == nil {
		flag = NewConnectionFlag()
	}
	s := &Session{
		channel: ch,
		codec:   wire.NewCodec(ch),
		flag:    flag,
	}

	if err := s.codec.WriteMessage(password); err != nil {
		ch.Close()
		return nil, err
	}
	msg, err := s.codec.ReadMessage()
	if err != nil {
		ch.Close()
		return nil, err
	}

	v, err := decodeValue(msg)
	if err != nil {
		ch.Close()
		return nil, &ProtocolError{Message: "handshake response is not valid JSON", Err: err}
	}

	functor, args, ok := responseParts(v)
	if !ok || functor != "true" {
		// The server answers a bad password with exception(password_mismatch),
		// but any non-true reply here means we are not authenticated.
		ch.Close()
		return nil, ErrAuthenticationFailed
	}

	if err := s.parseHandshake(args); err != nil {
		ch.Close()
		return nil, err
	}
	if err := s.checkProtocolVersion(); err != nil {
		ch.Close()
		return nil, err
	}

	log.Info().
		Int("major", s.protocolMajor).
		Int("minor", s.protocolMinor).
		Msg("mqi session connected")
	return s, nil
}

// parseHandshake extracts thread ids and the protocol version from the
// arguments of true([[threads(Comm, Goal), version(Major, Minor)]]).
// Two legacy shapes are tolerated: true([[]]) (no info at all) and a
// thread-info-only inner list (no version/2, meaning protocol 0.0).
func (s *Session) parseHandshake(args []any) error {
	if len(args) != 1 {
		return protocolErrorf("unexpected handshake arguments")
	}
	outer, ok := args[0].([]any)
	if !ok {
		return protocolErrorf("unexpected handshake structure")
	}
	if len(outer) == 0 {
		return nil // pre-version server
	}

	inner, ok := outer[0].([]any)
	if !ok || len(inner) == 0 {
		return protocolErrorf("unexpected handshake structure")
	}

	first, ok := inner[0].(map[string]any)
	if !ok {
		return protocolErrorf("unexpected handshake structure")
	}
	functor, threadArgs, ok := compoundParts(first)
	if !ok || functor != "threads" || len(threadArgs) != 2 {
		return protocolErrorf("unexpected handshake structure")
	}
	s.commThreadID, _ = threadArgs[0].(string)
	s.goalThreadID, _ = threadArgs[1].(string)

	if len(inner) < 2 {
		return nil // thread info without version/2
	}
	second, ok := inner[1].(map[string]any)
	if !ok {
		return protocolErrorf("unexpected handshake structure")
	}
	functor, versionArgs, ok := compoundParts(second)
	if !ok || functor != "version" || len(versionArgs) != 2 {
		return protocolErrorf("unexpected handshake structure")
	}

	major, err := handshakeInt(versionArgs[0])
	if err != nil {
		return err
	}
	minor, err := handshakeInt(versionArgs[1])
	if err != nil {
		return err
	}
	s.protocolMajor, s.protocolMinor = major, minor
	return nil
}

func handshakeInt(v any) (int, error) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, protocolErrorf("protocol version is not a number")
	}
	i, err := strconv.Atoi(string(n))
	if err != nil {
		return 0, protocolErrorf("protocol version is not an integer")
	}
	return i, nil
}

func (s *Session) checkProtocolVersion() error {
	if s.protocolMajor == 0 && s.protocolMinor == 0 {
		// Historical exception: 0.0 servers had a protocol quirk but are
		// accepted for compatibility.
		log.Warn().Msg("mqi server speaks protocol 0.0, compatibility not guaranteed")
		return nil
	}
	if s.protocolMajor == requiredProtocolMajor && s.protocolMinor >= requiredProtocolMinor {
		return nil
	}
	return &VersionMismatchError{
		Client: versionString(requiredProtocolMajor, requiredProtocolMinor),
		Server: versionString(s.protocolMajor, s.protocolMinor),
	}
}

func versionString(major, minor int) string {
	return strconv.Itoa(major) + "." + strconv.Itoa(minor)
}

// ProtocolVersion returns the server's negotiated protocol version.
func (s *Session) ProtocolVersion() (major, minor int) {
	return s.protocolMajor, s.protocolMinor
}

// ThreadIDs returns the server's communication and goal thread ids from the
// handshake. Informational only; empty on pre-version servers.
func (s *Session) ThreadIDs() (comm, goal string) {
	return s.commThreadID, s.goalThreadID
}

// Heartbeats returns how many keep-alive bytes the server has sent.
func (s *Session) Heartbeats() int64 {
	return s.codec.Heartbeats()
}

// SetReadTimeout bounds every future blocking read on the channel. Zero
// removes the bound. This is the transport-level guard against a stuck
// server; protocol-level query timeouts are enforced by the engine itself.
func (s *Session) SetReadTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readTimeout = d
}

// Query runs a goal to completion and returns all of its solutions, like
// findall/3. A timeout of NoTimeout sends an unbound limit; otherwise the
// engine aborts the goal after roughly that many seconds.
func (s *Session) Query(goal string, timeout time.Duration) (*QueryResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}

	// A new run supersedes any pending async query on the server side.
	s.asyncPending = false

	cmd := "run((" + normalizeGoal(goal) + "), " + timeoutLiteral(timeout) + ")."
	return s.roundTrip(cmd)
}

// QueryAsync starts a goal without waiting for it. Results are fetched one
// call at a time with AsyncResult. With findAll set the engine runs the
// goal to completion first and queues everything; otherwise each AsyncResult
// triggers the next backtrack.
func (s *Session) QueryAsync(goal string, findAll bool, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}

	s.asyncPending = false

	cmd := "run_async((" + normalizeGoal(goal) + "), " + timeoutLiteral(timeout) + ", " + strconv.FormatBool(findAll) + ")."
	result, err := s.roundTrip(cmd)
	if err != nil {
		return err
	}
	if !isAck(result) {
		return protocolErrorf("unexpected response to run_async")
	}
	s.asyncPending = true
	return nil
}

// AsyncResult retrieves the next result of the pending async query. A nil
// result with a nil error means the sequence is exhausted. A negative wait
// (WaitIndefinitely) blocks until a result exists; otherwise the engine
// answers ErrResultNotAvailable when nothing is ready in time.
func (s *Session) AsyncResult(wait time.Duration) (*QueryResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}

	cmd := "async_result(" + waitLiteral(wait) + ")."
	result, err := s.roundTrip(cmd)
	if err != nil {
		if errors.Is(err, errNoMoreResults) {
			s.asyncPending = false
			return nil, nil
		}
		// Any terminal condition ends the pending query; a not-yet-ready
		// poll does not.
		if !errors.Is(err, ErrResultNotAvailable) {
			s.asyncPending = false
		}
		return nil, err
	}
	return result, nil
}

// CancelAsync asks the engine to abort the pending async query. The engine
// answers ErrNoQuery when nothing is pending.
func (s *Session) CancelAsync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}

	result, err := s.roundTrip("cancel_async.")
	if err != nil {
		return err
	}
	if !isAck(result) {
		return protocolErrorf("unexpected response to cancel_async")
	}
	s.asyncPending = false
	return nil
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// AsyncPending reports whether an async query is awaiting results.
func (s *Session) AsyncPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.asyncPending
}

// Close ends the session: it tells the server, half-closes the write side
// and closes the channel. Best effort by design, since it runs on teardown
// paths where the channel may already be dead; internal errors are logged
// and swallowed, and the returned error is always nil. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.asyncPending = false

	if err := s.codec.WriteMessage("close."); err != nil {
		log.Warn().Err(err).Msg("mqi close command failed, channel may already be down")
	} else {
		_ = s.channel.SetReadDeadline(time.Now().Add(closeAckTimeout))
		if msg, err := s.codec.ReadMessage(); err != nil {
			log.Warn().Err(err).Msg("mqi close acknowledgment not received")
		} else {
			log.Debug().Str("response", msg).Msg("mqi close acknowledged")
		}
	}

	if err := s.channel.CloseWrite(); err != nil {
		log.Warn().Err(err).Msg("mqi channel write shutdown failed")
	}
	if err := s.channel.Close(); err != nil {
		log.Warn().Err(err).Msg("mqi channel close failed")
	}
	log.Debug().Msg("mqi session closed")
	return nil
}

// haltRemote sends quit., telling the server process to exit. On success
// the shared flag is set so no one attempts further graceful traffic on
// this connection. Reserved for the supervising Server.
func (s *Session) haltRemote() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}

	result, err := s.roundTrip("quit.")
	if err != nil {
		return err
	}
	if !isAck(result) {
		return protocolErrorf("unexpected response to quit")
	}
	s.flag.Set()
	return nil
}

// roundTrip sends one command frame and parses the response frame. The
// caller holds s.mu. A connection_failed exception sets the shared flag on
// its way out.
func (s *Session) roundTrip(cmd string) (*QueryResult, error) {
	log.Trace().Str("command", cmd).Msg("mqi send")
	if err := s.codec.WriteMessage(cmd); err != nil {
		return nil, err
	}

	msg, err := s.readMessage()
	if err != nil {
		return nil, err
	}
	log.Trace().Str("response", msg).Msg("mqi receive")

	result, err := parseResponse(msg)
	if err != nil {
		if errors.Is(err, ErrConnectionFailed) {
			s.flag.Set()
		}
		return nil, err
	}
	return result, nil
}

func (s *Session) readMessage() (string, error) {
	if s.readTimeout > 0 {
		_ = s.channel.SetReadDeadline(time.Now().Add(s.readTimeout))
	} else {
		_ = s.channel.SetReadDeadline(time.Time{})
	}
	return s.codec.ReadMessage()
}

// isAck reports whether a result is a plain acknowledgment: deterministic
// success, or a single empty solution entry.
func isAck(r *QueryResult) bool {
	if r.Deterministic {
		return r.Success
	}
	return len(r.Solutions) == 1 && len(r.Solutions[0]) == 0
}

func normalizeGoal(goal string) string {
	return strings.TrimSuffix(strings.TrimSpace(goal), ".")
}

// timeoutLiteral renders a query time limit: "_" (unbound) when none is set.
func timeoutLiteral(d time.Duration) string {
	if d <= 0 {
		return "_"
	}
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

// waitLiteral renders an async_result wait: -1 blocks indefinitely.
func waitLiteral(d time.Duration) string {
	if d < 0 {
		return "-1"
	}
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
