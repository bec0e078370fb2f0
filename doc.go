// Package mqi is a client for the SWI-Prolog Machine Query Interface: it
// launches (or attaches to) a swipl MQI server process and executes Prolog
// queries over its length-prefixed socket protocol.
//
// A Server supervises the swipl process and hands out Sessions; a Session
// is one authenticated connection executing queries as blocking round
// trips. Results decode into the closed Term type set (Atom, Variable,
// Integer, Float, Bool, List, Compound, Opaque).
//
//	server, err := mqi.NewServer(mqi.ServerConfig{})
//	if err != nil { ... }
//	defer server.Stop(false)
//
//	session, err := server.Connect()
//	if err != nil { ... }
//	defer session.Close()
//
//	result, err := session.Query("member(X, [1,2,3])", mqi.NoTimeout)
//
// Sessions are not safe for interleaved use from multiple goroutines; use
// one Session per worker or a SessionPool. The byte-level protocol lives in
// the wire subpackage.
package mqi
