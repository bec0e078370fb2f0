package mqi

import (
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
)

// NewQueryBreaker returns a circuit breaker sized for query round trips.
// It trips on transport and protocol failures only: a goal that raises a
// Prolog exception or hits its time limit still proves the channel works,
// so those count as successful round trips.
func NewQueryBreaker(name string, maxRequests uint32, interval, timeout time.Duration) *gobreaker.CircuitBreaker[*QueryResult] {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: maxRequests,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		IsSuccessful: isHealthyRoundTrip,
	}
	return gobreaker.NewCircuitBreaker[*QueryResult](settings)
}

// isHealthyRoundTrip classifies errors by whether the connection itself is
// still trustworthy.
func isHealthyRoundTrip(err error) bool {
	if err == nil {
		return true
	}

	var exc *ExceptionError
	if errors.As(err, &exc) {
		return true
	}
	switch {
	case errors.Is(err, ErrTimeout),
		errors.Is(err, ErrNoQuery),
		errors.Is(err, ErrQueryCancelled),
		errors.Is(err, ErrResultNotAvailable):
		return true
	}
	// I/O failures, protocol violations, connection_failed, closed session.
	return false
}

// BreakerQuerier wraps a Session so queries fail fast once the engine has
// proven unhealthy, instead of spending a blocking round trip per call.
// It never re-issues a query.
type BreakerQuerier struct {
	session *Session
	breaker *gobreaker.CircuitBreaker[*QueryResult]
}

// NewBreakerQuerier wraps session with breaker. A nil breaker gets a
// default one (no rolling window, 30s open interval).
func NewBreakerQuerier(session *Session, breaker *gobreaker.CircuitBreaker[*QueryResult]) *BreakerQuerier {
	if breaker == nil {
		breaker = NewQueryBreaker("mqi", 1, 0, 30*time.Second)
	}
	return &BreakerQuerier{session: session, breaker: breaker}
}

// Query runs Session.Query through the breaker. While the breaker is open
// it returns gobreaker.ErrOpenState without touching the channel.
func (b *BreakerQuerier) Query(goal string, timeout time.Duration) (*QueryResult, error) {
	return b.breaker.Execute(func() (*QueryResult, error) {
		return b.session.Query(goal, timeout)
	})
}

// Session returns the wrapped session, for operations that should bypass
// the breaker (Close, async polling).
func (b *BreakerQuerier) Session() *Session {
	return b.session
}
