package grpcserver

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// jsonCodec serializes gRPC messages as JSON so the transport shares one
// wire schema with the REST API. Clients select it with
// grpc.CallContentSubtype(JSONCodecName).
type jsonCodec struct{}

// JSONCodecName is the content-subtype the codec registers under.
const JSONCodecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("grpcserver: marshal %T: %w", v, err)
	}
	return b, nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("grpcserver: unmarshal %T: %w", v, err)
	}
	return nil
}

func (jsonCodec) Name() string { return JSONCodecName }
