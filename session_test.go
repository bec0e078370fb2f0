package mqi

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomqi/mqi/internal/testutils"
)

const (
	handshakeFrame = `{"functor":"true","args":[[[` +
		`{"functor":"threads","args":["comm-1","goal-1"]},` +
		`{"functor":"version","args":[1,0]}]]]}`

	ackFrame   = `{"functor":"true","args":[[]]}`
	falseFrame = `{"functor":"false","args":[]}`
)

func connectedSession(t *testing.T, frames ...string) (*Session, *testutils.ChannelMock) {
	t.Helper()
	mock := testutils.NewChannelMock(append([]string{handshakeFrame}, frames...)...)
	session, err := connectChannel(mock, "secret", nil)
	require.NoError(t, err)
	return session, mock
}

func TestConnectHandshake(t *testing.T) {
	session, mock := connectedSession(t)

	major, minor := session.ProtocolVersion()
	assert.Equal(t, 1, major)
	assert.Equal(t, 0, minor)

	comm, goal := session.ThreadIDs()
	assert.Equal(t, "comm-1", comm)
	assert.Equal(t, "goal-1", goal)

	sent := mock.SentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "secret", sent[0])
}

func TestConnectLegacyHandshakes(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"no connection info", `{"functor":"true","args":[[]]}`},
		{"threads without version", `{"functor":"true","args":[[[{"functor":"threads","args":["c","g"]}]]]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutils.NewChannelMock(tt.frame)
			session, err := connectChannel(mock, "secret", nil)
			require.NoError(t, err)

			// Pre-version servers negotiate 0.0, accepted for
			// compatibility.
			major, minor := session.ProtocolVersion()
			assert.Equal(t, 0, major)
			assert.Equal(t, 0, minor)
		})
	}
}

func TestConnectAuthenticationFailed(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"password mismatch exception", `{"functor":"exception","args":["password_mismatch"]}`},
		{"any non-true response", falseFrame},
		{"plain string response", `"go away"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutils.NewChannelMock(tt.frame)
			_, err := connectChannel(mock, "wrong", nil)
			assert.ErrorIs(t, err, ErrAuthenticationFailed)
			assert.True(t, mock.Closed())
		})
	}
}

func TestConnectVersionMismatch(t *testing.T) {
	frame := `{"functor":"true","args":[[[` +
		`{"functor":"threads","args":["c","g"]},` +
		`{"functor":"version","args":[2,0]}]]]}`
	mock := testutils.NewChannelMock(frame)

	_, err := connectChannel(mock, "secret", nil)
	var mismatch *VersionMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "1.0", mismatch.Client)
	assert.Equal(t, "2.0", mismatch.Server)
	assert.True(t, mock.Closed())
}

func TestConnectMalformedHandshake(t *testing.T) {
	frame := `{"functor":"true","args":[[[{"functor":"mystery","args":[]}]]]}`
	mock := testutils.NewChannelMock(frame)

	_, err := connectChannel(mock, "secret", nil)
	var perr *ProtocolError
	assert.ErrorAs(t, err, &perr)
}

func TestQueryDeterministic(t *testing.T) {
	session, mock := connectedSession(t, ackFrame, falseFrame)

	result, err := session.Query("atom(a)", NoTimeout)
	require.NoError(t, err)
	assert.Equal(t, &QueryResult{Deterministic: true, Success: true}, result)

	result, err = session.Query("atom(1)", NoTimeout)
	require.NoError(t, err)
	assert.Equal(t, &QueryResult{Deterministic: true, Success: false}, result)

	sent := mock.SentMessages()
	require.Len(t, sent, 3)
	assert.Equal(t, "run((atom(a)), _)", sent[1])
	assert.Equal(t, "run((atom(1)), _)", sent[2])
}

func TestQueryGoalNormalization(t *testing.T) {
	session, mock := connectedSession(t, ackFrame)

	_, err := session.Query("  member(X, [1]).  ", 5*time.Second)
	require.NoError(t, err)

	sent := mock.SentMessages()
	assert.Equal(t, "run((member(X, [1])), 5)", sent[1])
}

func TestQuerySolutions(t *testing.T) {
	frame := `{"functor":"true","args":[[
		[{"functor":"=","args":["X",1]}],
		[{"functor":"=","args":["X",2]}]
	]]}`
	session, _ := connectedSession(t, frame)

	result, err := session.Query("member(X, [1,2])", NoTimeout)
	require.NoError(t, err)
	require.Len(t, result.Solutions, 2)
	assert.Equal(t, Solution{"X": Integer(1)}, result.Solutions[0])
	assert.Equal(t, Solution{"X": Integer(2)}, result.Solutions[1])
}

func TestQueryException(t *testing.T) {
	session, _ := connectedSession(t, `{"functor":"exception","args":["time_limit_exceeded"]}`)

	_, err := session.Query("long_goal", time.Second)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestQueryConnectionFailedSetsFlag(t *testing.T) {
	flag := NewConnectionFlag()
	mock := testutils.NewChannelMock(handshakeFrame, `{"functor":"exception","args":["connection_failed"]}`)
	session, err := connectChannel(mock, "secret", flag)
	require.NoError(t, err)

	_, err = session.Query("anything", NoTimeout)
	assert.ErrorIs(t, err, ErrConnectionFailed)
	assert.True(t, flag.Failed())
}

func TestQueryAsyncLifecycle(t *testing.T) {
	solution := func(n string) string {
		return `{"functor":"true","args":[[[{"functor":"=","args":["X",` + n + `]}]]]}`
	}
	session, mock := connectedSession(t,
		ackFrame,
		solution("1"), solution("2"), solution("3"),
		`{"functor":"exception","args":["no_more_results"]}`,
	)

	require.NoError(t, session.QueryAsync("member(X, [1,2,3])", true, NoTimeout))
	assert.True(t, session.AsyncPending())

	for i := 1; i <= 3; i++ {
		result, err := session.AsyncResult(WaitIndefinitely)
		require.NoError(t, err)
		require.NotNil(t, result)
		require.Len(t, result.Solutions, 1)
		assert.Equal(t, Solution{"X": Integer(int64(i))}, result.Solutions[0])
	}

	// Exhaustion is a clean end, not an error.
	result, err := session.AsyncResult(WaitIndefinitely)
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.False(t, session.AsyncPending())

	sent := mock.SentMessages()
	assert.Equal(t, "run_async((member(X, [1,2,3])), _, true)", sent[1])
	assert.Equal(t, "async_result(-1)", sent[2])
}

func TestQueryAsyncResultWait(t *testing.T) {
	session, mock := connectedSession(t, ackFrame, `{"functor":"exception","args":["result_not_available"]}`)

	require.NoError(t, session.QueryAsync("slow_goal", false, NoTimeout))

	_, err := session.AsyncResult(100 * time.Millisecond)
	assert.ErrorIs(t, err, ErrResultNotAvailable)
	// Not ready is not terminal.
	assert.True(t, session.AsyncPending())

	sent := mock.SentMessages()
	assert.Equal(t, "async_result(0.1)", sent[2])
}

func TestQueryAsyncBadAck(t *testing.T) {
	session, _ := connectedSession(t, `{"functor":"true","args":[[[{"functor":"=","args":["X",1]}]]]}`)

	err := session.QueryAsync("goal", false, NoTimeout)
	var perr *ProtocolError
	assert.ErrorAs(t, err, &perr)
	assert.False(t, session.AsyncPending())
}

func TestQuerySupersedesAsync(t *testing.T) {
	session, _ := connectedSession(t, ackFrame, ackFrame)

	require.NoError(t, session.QueryAsync("goal", false, NoTimeout))
	require.True(t, session.AsyncPending())

	_, err := session.Query("other_goal", NoTimeout)
	require.NoError(t, err)
	assert.False(t, session.AsyncPending())
}

func TestCancelAsync(t *testing.T) {
	session, mock := connectedSession(t, ackFrame, ackFrame)

	require.NoError(t, session.QueryAsync("goal", false, NoTimeout))
	require.NoError(t, session.CancelAsync())
	assert.False(t, session.AsyncPending())

	sent := mock.SentMessages()
	assert.Equal(t, "cancel_async", sent[2])
}

func TestCancelAsyncNoQuery(t *testing.T) {
	session, _ := connectedSession(t, `{"functor":"exception","args":["no_query"]}`)

	err := session.CancelAsync()
	assert.ErrorIs(t, err, ErrNoQuery)
}

func TestCancelledQuerySurfaces(t *testing.T) {
	session, _ := connectedSession(t, ackFrame, `{"functor":"exception","args":["cancel_goal"]}`)

	require.NoError(t, session.QueryAsync("goal", false, NoTimeout))
	_, err := session.AsyncResult(WaitIndefinitely)
	assert.ErrorIs(t, err, ErrQueryCancelled)
	assert.False(t, session.AsyncPending())
}

func TestClose(t *testing.T) {
	session, mock := connectedSession(t, ackFrame)

	require.NoError(t, session.Close())
	assert.True(t, mock.WriteClosed())
	assert.True(t, mock.Closed())

	sent := mock.SentMessages()
	assert.Equal(t, "close", sent[1])

	// Idempotent, and operations after close fail cleanly.
	require.NoError(t, session.Close())
	_, err := session.Query("goal", NoTimeout)
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.ErrorIs(t, session.CancelAsync(), ErrSessionClosed)
}

func TestCloseBoundsAckRead(t *testing.T) {
	// The ack read must not inherit the unbounded default deadline, or a
	// silent server would stall teardown forever.
	session, mock := connectedSession(t, ackFrame)

	require.NoError(t, session.Close())

	deadline := mock.ReadDeadline()
	require.False(t, deadline.IsZero())
	assert.WithinDuration(t, time.Now().Add(closeAckTimeout), deadline, time.Minute)
}

func TestCloseSwallowsChannelErrors(t *testing.T) {
	// No ack frame scripted: the read fails, Close still succeeds.
	session, mock := connectedSession(t)

	require.NoError(t, session.Close())
	assert.True(t, mock.Closed())
}

func TestHaltRemote(t *testing.T) {
	flag := NewConnectionFlag()
	mock := testutils.NewChannelMock(handshakeFrame, ackFrame)
	session, err := connectChannel(mock, "secret", flag)
	require.NoError(t, err)

	require.NoError(t, session.haltRemote())
	assert.True(t, flag.Failed())

	sent := mock.SentMessages()
	assert.Equal(t, "quit", sent[1])
}

func TestHeartbeatsCounted(t *testing.T) {
	// Hand-build the stream: handshake frame, then heartbeats ahead of a
	// deterministic ack.
	payload := ackFrame + ".\n"
	raw := frameFor(handshakeFrame) + "..." + frameHeader(payload) + payload
	mock := testutils.NewChannelMockRaw(raw)

	session, err := connectChannel(mock, "secret", nil)
	require.NoError(t, err)

	_, err = session.Query("slow_goal", NoTimeout)
	require.NoError(t, err)
	assert.Equal(t, int64(3), session.Heartbeats())
}

func frameFor(payload string) string {
	payload += ".\n"
	return frameHeader(payload) + payload
}

func frameHeader(payload string) string {
	return strconv.Itoa(len(payload)) + ".\n"
}
