package checkpoint

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"encoding/json"
)

// Serializer converts a Value payload to/from a canonical byte form
// and computes a deterministic content fingerprint. Two semantically
// equal payloads must always carry equal fingerprints, so the hash is
// always computed over the canonical textual form regardless of
// which byte-form flavor is selected.
type Serializer interface {
	// Encode produces the durable byte representation of state,
	// metadata, and logicStep together.
	Encode(state, metadata Value, logicStep string) ([]byte, error)

	// Decode is the inverse of Encode.
	Decode(data []byte) (state, metadata Value, logicStep string, err error)

	// Fingerprint computes the deterministic content hash over
	// (state, metadata, logicStep), independent of the byte-form
	// flavor and of map key insertion order.
	Fingerprint(state, metadata Value, logicStep string) string
}

// Flavor selects one of the three serialization strategies a Session
// may be constructed with.
type Flavor int

const (
	// FlavorText is human-readable canonical JSON, preferred for the
	// file-tree backend since it doubles as the on-disk format.
	FlavorText Flavor = iota
	// FlavorBinary is opaque gob encoding, fastest to encode/decode.
	FlavorBinary
	// FlavorCompressed is gob encoding passed through gzip, smallest
	// on disk at the cost of CPU.
	FlavorCompressed
)

// NewSerializer constructs the Serializer for the requested flavor.
func NewSerializer(flavor Flavor) Serializer {
	switch flavor {
	case FlavorBinary:
		return &binarySerializer{}
	case FlavorCompressed:
		return &compressedSerializer{binarySerializer{}}
	default:
		return &textSerializer{}
	}
}

// payload is the flavor-agnostic envelope encoded by the binary and
// text serializers alike.
type payload struct {
	State     any    `json:"state"`
	Metadata  any    `json:"metadata"`
	LogicStep string `json:"logic_step"`
}

func fingerprintOf(state, metadata Value, logicStep string) string {
	h := sha256.New()
	h.Write([]byte(state.canonical()))
	h.Write([]byte{0})
	h.Write([]byte(metadata.canonical()))
	h.Write([]byte{0})
	h.Write([]byte(logicStep))
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}

// textSerializer encodes state/metadata as canonical JSON with sorted
// map keys, the flavor preferred for the file-tree backend since it
// is also that backend's on-disk format.
type textSerializer struct{}

func (s *textSerializer) Encode(state, metadata Value, logicStep string) ([]byte, error) {
	if !admissible(state) || !admissible(metadata) {
		return nil, &SerializationError{Reason: "payload contains an unrepresentable value"}
	}
	data, err := json.Marshal(payload{State: state.ToAny(), Metadata: metadata.ToAny(), LogicStep: logicStep})
	if err != nil {
		return nil, &SerializationError{Reason: err.Error()}
	}
	return data, nil
}

func (s *textSerializer) Decode(data []byte) (Value, Value, string, error) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Value{}, Value{}, "", &SerializationError{Reason: err.Error()}
	}
	state, ok := ValueFromAny(p.State)
	if !ok {
		return Value{}, Value{}, "", &SerializationError{Reason: "decoded state outside admissible subset"}
	}
	meta, ok := ValueFromAny(p.Metadata)
	if !ok {
		return Value{}, Value{}, "", &SerializationError{Reason: "decoded metadata outside admissible subset"}
	}
	return state, meta, p.LogicStep, nil
}

func (s *textSerializer) Fingerprint(state, metadata Value, logicStep string) string {
	return fingerprintOf(state, metadata, logicStep)
}

// binarySerializer encodes via encoding/gob, the fastest flavor since
// it skips textual formatting entirely.
type binarySerializer struct{}

func init() {
	gob.Register(map[string]any{})
	gob.Register([]any{})
}

func (s *binarySerializer) Encode(state, metadata Value, logicStep string) ([]byte, error) {
	if !admissible(state) || !admissible(metadata) {
		return nil, &SerializationError{Reason: "payload contains an unrepresentable value"}
	}
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(payload{State: state.ToAny(), Metadata: metadata.ToAny(), LogicStep: logicStep}); err != nil {
		return nil, &SerializationError{Reason: err.Error()}
	}
	return buf.Bytes(), nil
}

func (s *binarySerializer) Decode(data []byte) (Value, Value, string, error) {
	var p payload
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&p); err != nil {
		return Value{}, Value{}, "", &SerializationError{Reason: err.Error()}
	}
	state, ok := ValueFromAny(p.State)
	if !ok {
		return Value{}, Value{}, "", &SerializationError{Reason: "decoded state outside admissible subset"}
	}
	meta, ok := ValueFromAny(p.Metadata)
	if !ok {
		return Value{}, Value{}, "", &SerializationError{Reason: "decoded metadata outside admissible subset"}
	}
	return state, meta, p.LogicStep, nil
}

func (s *binarySerializer) Fingerprint(state, metadata Value, logicStep string) string {
	return fingerprintOf(state, metadata, logicStep)
}

// compressedSerializer wraps binarySerializer's gob output in gzip,
// trading CPU for the smallest on-disk footprint of the three
// flavors.
type compressedSerializer struct {
	binarySerializer
}

func (s *compressedSerializer) Encode(state, metadata Value, logicStep string) ([]byte, error) {
	raw, err := s.binarySerializer.Encode(state, metadata, logicStep)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(raw); err != nil {
		return nil, &SerializationError{Reason: err.Error()}
	}
	if err := gw.Close(); err != nil {
		return nil, &SerializationError{Reason: err.Error()}
	}
	return buf.Bytes(), nil
}

func (s *compressedSerializer) Decode(data []byte) (Value, Value, string, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return Value{}, Value{}, "", &SerializationError{Reason: err.Error()}
	}
	defer func() { _ = gr.Close() }()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(gr); err != nil {
		return Value{}, Value{}, "", &SerializationError{Reason: err.Error()}
	}
	return s.binarySerializer.Decode(buf.Bytes())
}

// EncodeValue produces a standalone durable byte representation of a
// single Value, reusing the configured Serializer's envelope. Used by
// the DAG engine to produce the separate state_blob/metadata_blob
// columns a relational Backend stores.
func EncodeValue(s Serializer, v Value) ([]byte, error) {
	return s.Encode(v, Null(), "")
}

// DecodeValue is the inverse of EncodeValue.
func DecodeValue(s Serializer, data []byte) (Value, error) {
	v, _, _, err := s.Decode(data)
	return v, err
}

// admissible reports whether v is entirely within the JSON-representable
// subset (Null | Bool | Number | String | List | Map). Since Value can
// only be constructed through ValueFromAny or the typed constructors,
// this is mostly a defense against zero-value Values with an
// inconsistent Kind, but it also recurses to catch that case in
// nested positions.
func admissible(v Value) bool {
	switch v.Kind {
	case KindNull, KindBool, KindNumber, KindString:
		return true
	case KindList:
		for _, item := range v.List {
			if !admissible(item) {
				return false
			}
		}
		return true
	case KindMap:
		for _, item := range v.Map {
			if !admissible(item) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
