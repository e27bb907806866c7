// Package server exposes a decoder over the network.
//
// Two transports carry the same request and response bodies:
//   - Server: TCP with 4-byte big-endian length-prefixed frames and an
//     optional token handshake
//   - ZmqServer: a ZeroMQ REP socket, one request per message
//
// A request body is one op byte, a 4-byte big-endian chunk index and the
// Arrow IPC payload. The response is a JSON summary of the decoded data.
package server
