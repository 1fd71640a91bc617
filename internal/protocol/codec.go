package protocol

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Encode converts any JSON-marshalable value with an object encoding to a Struct.
func Encode(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %T: %w", v, err)
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("protocol: encode %T: %w", v, err)
	}
	return s, nil
}

// Decode fills v from a Struct through its JSON encoding.
func Decode(s *structpb.Struct, v any) error {
	data, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("protocol: decode: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("protocol: decode into %T: %w", v, err)
	}
	return nil
}

// IDRequest names a popup for operator calls.
type IDRequest struct {
	ID string `json:"id"`
}

// PageRequest names a page for Subscribe and UseShadow.
type PageRequest struct {
	Page string `json:"page"`
}

// AckRequest confirms that page handled cmd.
type AckRequest struct {
	Page string `json:"page"`
	Cmd  string `json:"cmd"`
}
