package rpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
)

// Client is a thin wrapper fleetctl uses to open one Call stream per
// invocation and exchange Request/Reply messages on it.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient wraps an established connection (typically dialed with
// grpc.WithContextDialer against a unix:// or tcp:// address, per
// spec.md §6's CLI surface).
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Call opens a new bidi stream for one RPC invocation, sends req as the
// first message, and returns the stream for the caller to Recv() replies
// from (and Send() confirmation answers to) until a terminal Status
// arrives.
func (c *Client) Call(ctx context.Context, req *Request) (*BidiStream[Reply, Request], error) {
	desc := &grpc.StreamDesc{
		StreamName:    CallStreamName,
		ServerStreams: true,
		ClientStreams: true,
	}
	fullMethod := fmt.Sprintf("/%s/%s", ServiceName, CallStreamName)

	raw, err := c.conn.NewStream(ctx, desc, fullMethod, grpc.CallContentSubtype(CodecName))
	if err != nil {
		return nil, fmt.Errorf("rpc: opening %s stream: %w", req.Method, err)
	}

	stream := NewBidiStream[Reply, Request](raw)
	if err := stream.Send(req); err != nil {
		return nil, fmt.Errorf("rpc: sending %s request: %w", req.Method, err)
	}
	return stream, nil
}

// Drain reads replies from stream until a terminal Status arrives,
// invoking onReply for every non-terminal message and returning the
// terminal Status.
func Drain(stream *BidiStream[Reply, Request], onReply func(*Reply)) (*Status, error) {
	for {
		reply, err := stream.Recv()
		if err != nil {
			return nil, err
		}
		if reply.Status != nil {
			return reply.Status, nil
		}
		if onReply != nil {
			onReply(reply)
		}
	}
}
