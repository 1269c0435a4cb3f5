package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// BidiStream wraps a raw grpc.Stream (satisfied by both
// grpc.ServerStream and grpc.ClientStream) with typed Send/Recv, the
// hand-authored equivalent of what protoc-gen-go-grpc emits for a
// bidirectional-streaming method. In is the message type this side
// receives; Out is the message type this side sends.
type BidiStream[In any, Out any] struct {
	raw grpc.Stream
}

// NewBidiStream wraps raw for typed use.
func NewBidiStream[In any, Out any](raw grpc.Stream) *BidiStream[In, Out] {
	return &BidiStream[In, Out]{raw: raw}
}

// Send writes msg onto the stream.
func (b *BidiStream[In, Out]) Send(msg *Out) error {
	return b.raw.SendMsg(msg)
}

// Recv reads the next message from the stream.
func (b *BidiStream[In, Out]) Recv() (*In, error) {
	msg := new(In)
	if err := b.raw.RecvMsg(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Context returns the stream's context, carrying peer/TLS info the
// server side uses for per-call authorization.
func (b *BidiStream[In, Out]) Context() context.Context {
	if ss, ok := b.raw.(grpc.ServerStream); ok {
		return ss.Context()
	}
	return context.Background()
}
