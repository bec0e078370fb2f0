// Package wire implements the byte-level framing of the SWI-Prolog Machine
// Query Interface (MQI) protocol.
//
// Every protocol message travels as one frame:
//
//	<decimal-length>.<newline><payload>
//
// where the length counts the payload's encoded bytes (not characters) and
// the newline is "\n" or "\r\n". The server may interleave bare heartbeat
// bytes ('.') ahead of a frame header while a long-running goal executes;
// the decoder discards them and keeps count.
//
// This package serves as the foundation for the higher-level mqi package.
// It focuses on framing correctness only and imposes no session semantics.
//
// # Core Types
//
//   - Channel: a connected duplex byte stream with independent half-close
//   - Codec: buffered frame reader/writer over a Channel
//
// # Usage
//
//	ch, err := wire.DialTCP("127.0.0.1:4242", 5*time.Second)
//	if err != nil {
//	    return err
//	}
//	c := wire.NewCodec(ch)
//	if err := c.WriteMessage("run((true), _)."); err != nil {
//	    return err
//	}
//	reply, err := c.ReadMessage()
package wire
