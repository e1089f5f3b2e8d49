// Package connectjson lets Connect handlers exchange the plain Go message structs of
// package rpc as JSON, without protobuf code generation.
package connectjson

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/bufbuild/connect-go"
)

// Codec encodes messages as JSON and rejects unknown fields on decode so a client built
// against another message version fails loudly.
type Codec struct{}

func (Codec) Name() string {
	return "json"
}

func (Codec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (Codec) Unmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}

var _ connect.Codec = (*Codec)(nil)
