// Package ws serves session event streams over WebSocket.
//
// The package implements:
//   - Client: one WebSocket connection with a buffered outbound queue
//   - Hub: tracks the open connections of every session
//   - Handler: upgrades requests, runs the session's event stream on the
//     connection and applies pong frames sent by the client
//
// Each connection runs its own stream generator, exactly like an SSE
// stream. A client acknowledges a pending ping by sending {"type":"pong"}.
package ws
