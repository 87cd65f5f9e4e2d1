// Package transport carries serialized WAMP messages between peers.
//
// Ownership boundary:
// - the Channel/Handler contract the router binds to
// - ordered queued delivery over any FrameConn (conduit)
// - websocket, rawsocket (TCP/TLS), QUIC and in-memory frame adapters
// - dial retry backoff and TLS/security validation
package transport
