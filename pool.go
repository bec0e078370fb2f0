package mqi

import (
	"context"
	"sync/atomic"

	"github.com/jackc/puddle/v2"
)

// SessionPool maintains up to maxSize independent Sessions for concurrent
// workers. Each session owns its channel, so pooled sessions run fully in
// parallel; the pool only guards construction and reuse.
//
// The destructor honors the shared connection flag: a session whose flag is
// set is dropped without the close handshake, so pool teardown never races
// a supervisor-initiated shutdown.
type SessionPool struct {
	pool *puddle.Pool[*Session]

	createdSessions   atomic.Int64
	destroyedSessions atomic.Int64
}

// NewSessionPool creates a pool that dials sessions with connect.
// For a supervised server: NewSessionPool(server.Dial, 8).
func NewSessionPool(connect func(ctx context.Context) (*Session, error), maxSize int32) (*SessionPool, error) {
	p := &SessionPool{}

	pool, err := puddle.NewPool(&puddle.Config[*Session]{
		Constructor: func(ctx context.Context) (*Session, error) {
			session, err := connect(ctx)
			if err == nil {
				p.createdSessions.Add(1)
			}
			return session, err
		},
		Destructor: func(s *Session) {
			p.destroyedSessions.Add(1)
			if !s.flag.Failed() {
				_ = s.Close()
			}
		},
		MaxSize: maxSize,
	})
	if err != nil {
		return nil, err
	}
	p.pool = pool
	return p, nil
}

// Acquire returns a lease on a usable session, dialing a new one when the
// pool has capacity. Stale sessions (closed, or flagged failed) found in
// the pool are destroyed and replaced transparently.
func (p *SessionPool) Acquire(ctx context.Context) (*SessionLease, error) {
	for {
		res, err := p.pool.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		s := res.Value()
		if s.flag.Failed() || s.isClosed() {
			res.Destroy()
			continue
		}
		return &SessionLease{res: res}, nil
	}
}

// Close destroys all idle sessions and marks the pool closed. Blocks until
// outstanding leases are released or destroyed.
func (p *SessionPool) Close() {
	p.pool.Close()
}

// Stats returns a snapshot of pool activity.
func (p *SessionPool) Stats() PoolStats {
	s := p.pool.Stat()
	return PoolStats{
		TotalSessions:     s.TotalResources(),
		IdleSessions:      s.IdleResources(),
		ActiveSessions:    s.AcquiredResources(),
		AcquireCount:      uint64(s.AcquireCount()),
		AcquireWaitCount:  uint64(s.EmptyAcquireCount()),
		CreatedSessions:   uint64(p.createdSessions.Load()),
		DestroyedSessions: uint64(p.destroyedSessions.Load()),
	}
}

// PoolStats is a point-in-time snapshot of SessionPool activity.
type PoolStats struct {
	TotalSessions     int32
	IdleSessions      int32
	ActiveSessions    int32
	AcquireCount      uint64
	AcquireWaitCount  uint64
	CreatedSessions   uint64
	DestroyedSessions uint64
}

// SessionLease is an acquired session. Release returns it for reuse;
// Destroy closes it and frees the slot. Exactly one of the two must be
// called.
type SessionLease struct {
	res *puddle.Resource[*Session]
}

// Session returns the leased session.
func (l *SessionLease) Session() *Session {
	return l.res.Value()
}

// Release returns the session to the pool for reuse.
func (l *SessionLease) Release() {
	l.res.Release()
}

// Destroy closes the session and removes it from the pool. Use after an
// error that leaves the protocol state uncertain.
func (l *SessionLease) Destroy() {
	l.res.Destroy()
}
