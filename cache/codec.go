package cache

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec turns plain data trees into store bytes and back.
type Codec interface {
	Name() string
	Marshal(tree any) ([]byte, error)
	Unmarshal(data []byte) (any, error)
}

// NewCodec returns the codec registered under name. An empty name selects JSON.
func NewCodec(name string) (Codec, error) {
	switch name {
	case "", CodecJSON:
		return JSONCodec{}, nil
	case CodecMsgpack:
		return MsgpackCodec{}, nil
	}
	return nil, configError("codec", ErrInvalidConfig, "unknown codec %q", name)
}

// JSONCodec is the default codec. Integral numbers decode as int64 (uint64
// above math.MaxInt64) and the rest as float64, so large integers survive.
type JSONCodec struct{}

// Name implements Codec.
func (JSONCodec) Name() string { return CodecJSON }

// Marshal implements Codec.
func (JSONCodec) Marshal(tree any) ([]byte, error) {
	return json.Marshal(tree)
}

// Unmarshal implements Codec.
func (JSONCodec) Unmarshal(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("cache: trailing data after JSON value")
	}
	return normalizeNumbers(tree), nil
}

// normalizeNumbers replaces json.Number nodes with int64, uint64 or float64.
func normalizeNumbers(tree any) any {
	switch x := tree.(type) {
	case json.Number:
		return numberValue(x)
	case map[string]any:
		for k, v := range x {
			x[k] = normalizeNumbers(v)
		}
	case []any:
		for i, v := range x {
			x[i] = normalizeNumbers(v)
		}
	}
	return tree
}

func numberValue(n json.Number) any {
	if i, err := n.Int64(); err == nil {
		return i
	}
	if u, err := strconv.ParseUint(n.String(), 10, 64); err == nil {
		return u
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

// MsgpackCodec stores values as MessagePack. Structs passing through the
// tree are encoded with their json tags so both codecs agree on field names.
type MsgpackCodec struct{}

// Name implements Codec.
func (MsgpackCodec) Name() string { return CodecMsgpack }

// Marshal implements Codec.
func (MsgpackCodec) Marshal(tree any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(tree); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal implements Codec.
func (MsgpackCodec) Unmarshal(data []byte) (any, error) {
	var tree any
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	if err := dec.Decode(&tree); err != nil {
		return nil, err
	}
	return tree, nil
}
