package link

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/family-mruby/fmrbcore/internal/coreerr"
)

// Envelope is the msgpack array wrapping every frame payload, permitting
// out-of-band tooling to decode frames without the COBS/CRC framing
// (spec.md §3 "Link Frame (wire order)").
type Envelope struct {
	Type    uint8
	Seq     uint8
	SubCmd  uint8
	Payload []byte
}

// EncodeEnvelope msgpack-encodes the envelope as a 4-element array.
func EncodeEnvelope(e Envelope) ([]byte, error) {
	buf, err := msgpack.Marshal([]interface{}{e.Type, e.Seq, e.SubCmd, e.Payload})
	if err != nil {
		return nil, coreerr.Wrap("encode_envelope", err)
	}
	return buf, nil
}

// DecodeEnvelope reverses EncodeEnvelope.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var raw [4]interface{}
	if err := msgpack.Unmarshal(data, &raw); err != nil {
		return Envelope{}, coreerr.New("decode_envelope", coreerr.CodeChecksum, "malformed msgpack envelope")
	}

	typ, ok1 := toUint8(raw[0])
	seq, ok2 := toUint8(raw[1])
	sub, ok3 := toUint8(raw[2])
	payload, ok4 := raw[3].([]byte)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return Envelope{}, coreerr.New("decode_envelope", coreerr.CodeChecksum, "envelope field type mismatch")
	}

	return Envelope{Type: typ, Seq: seq, SubCmd: sub, Payload: payload}, nil
}

func toUint8(v interface{}) (uint8, bool) {
	switch n := v.(type) {
	case uint8:
		return n, true
	case int8:
		return uint8(n), true
	case int:
		return uint8(n), true
	case int64:
		return uint8(n), true
	case uint64:
		return uint8(n), true
	default:
		return 0, false
	}
}
