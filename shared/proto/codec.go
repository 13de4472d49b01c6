package proto

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName identifies the wire codec registered below. No .proto/.pb.go
// sources ship with this module (see DESIGN.md "Peer transport"), so the
// peer service messages in this package are plain Go structs marshaled with
// encoding/json instead of the protobuf wire format. The transport itself —
// framing, HTTP/2 streaming, metadata, interceptors, deadlines — is real
// google.golang.org/grpc; only the codec differs from a protoc-generated
// service. Servers and clients must force this codec (grpc.ForceServerCodec /
// grpc.ForceCodec) since it is not gRPC's default.
const codecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec implements encoding.Codec.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return codecName }

// Codec returns the encoding.Codec that Controller and Agent must both force
// via grpc.ForceServerCodec / grpc.ForceCodec when constructing their gRPC
// server and client connections.
func Codec() encoding.Codec { return jsonCodec{} }
