package rpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// CodecName is registered with grpc's content-subtype negotiation
// ("application/grpc+json").
const CodecName = "json"

// jsonCodec implements google.golang.org/grpc/encoding.Codec by carrying
// plain Go structs as JSON instead of protobuf, since no .proto-compiled
// stubs are available for this service. This is the documented extension
// point grpc-go exposes for exactly this case.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
