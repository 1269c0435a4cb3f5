package rpc

import "google.golang.org/grpc"

// ServiceName is the gRPC service name registered with the server.
const ServiceName = "fleetd.rpc.Fleet"

// CallStreamName is the single bidi-streaming method every RPC in
// spec.md §6 multiplexes through: the Method field on Request
// distinguishes which one a given stream is performing.
const CallStreamName = "Call"

// Handler is implemented by the daemon to service one Call stream.
type Handler interface {
	HandleCall(stream *BidiStream[Request, Reply]) error
}

func callStreamHandler(srv interface{}, stream grpc.ServerStream) error {
	h := srv.(Handler)
	return h.HandleCall(NewBidiStream[Request, Reply](stream))
}

// ServiceDesc is authored directly in the spirit of what
// protoc-gen-go-grpc would emit for a service with one bidi-streaming
// RPC, since no .proto-compiled stubs are vendored in the examples pack.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Handler)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    CallStreamName,
			Handler:       callStreamHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
}

// RegisterHandler registers h as the Call stream implementation on s.
func RegisterHandler(s grpc.ServiceRegistrar, h Handler) {
	s.RegisterService(&ServiceDesc, h)
}
