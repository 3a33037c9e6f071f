package mcplite

import (
	"context"
	"iter"
)

// Transport provides the duplex channel a client drives: an inbound
// subscription for server-to-client push and an outbound send primitive for
// client-to-server delivery. Implementations are assumed to deliver reliably
// point-to-point once connected; the engine does not retry.
type Transport interface {
	// StartSession opens the inbound subscription and returns an iterator that
	// yields raw stream payloads, each one JSON-encoded envelope or batch.
	// Decoding belongs to the consumer, not the transport.
	//
	// The transport signals readiness to carry outbound traffic through ready:
	// closing it on success or sending exactly one error. The caller provides a
	// buffered channel so the transport never blocks on it. The iterator ends
	// when the context is cancelled or the stream closes.
	StartSession(ctx context.Context, ready chan<- error) (iter.Seq[[]byte], error)

	// Send delivers one serialized envelope to the server.
	Send(ctx context.Context, payload []byte) error
}
