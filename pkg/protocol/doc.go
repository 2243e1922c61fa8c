// ABOUTME: Access point wire protocol package
// ABOUTME: Defines frame layout, control messages and chunk payloads
// Package protocol implements the access point wire protocol.
//
// Every unit on the wire is a frame:
//
//	version u8 | type u8 | length u32 (big endian) | payload
//
// Control frames carry a JSON envelope {"type": ..., "payload": ...}.
// Chunk frames carry file data for an outstanding fetch:
//
//	req_id u32 | offset u32 | data
//
// Example:
//
//	buf, err := protocol.AppendControl(nil, protocol.TypeClientHello, hello)
//	dec := protocol.NewDecoder(protocol.MaxPayload)
//	dec.Feed(received)
//	frame, ok, err := dec.Next()
package protocol
