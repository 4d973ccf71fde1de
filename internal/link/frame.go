// Package link implements the framed, sequenced, retransmitting transport
// to the out-of-core graphics renderer (spec.md §4.5, §4.6): COBS byte
// stuffing, CRC32 integrity, msgpack payload wrapping, and a sync-request
// waiter table for synchronous round trips.
package link

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/family-mruby/fmrbcore/internal/coreerr"
)

// Frame types (spec.md §6 wire protocol). Flags may be OR'd onto a type
// byte; ack/nack frames use their own reserved type values instead, per the
// original transport's fmrb_link_protocol.h (FMRB_LINK_MSG_ACK/NACK =
// 0xF0/0xF1 written straight into the header's type field), which this
// core follows since spec.md §6 documents "ACK frame: sub_cmd is
// irrelevant" but leaves the ACK frame's own type value unspecified.
const (
	TypeControl  uint8 = 1
	TypeGraphics uint8 = 2
	TypeAudio    uint8 = 4
	TypeInput    uint8 = 128

	FlagACKRequired uint8 = 32
	FlagChunked     uint8 = 64

	TypeAck  uint8 = 0xF0
	TypeNack uint8 = 0xF1
)

// IsChunked reports whether typ carries the reserved chunked-payload flag
// (spec.md §6 "64 = chunked"). Chunked reassembly itself is out of scope
// for this core (spec.md §1 "chunked delivery is OPTIONAL"); inbound
// frames with the bit set are recognized and dropped rather than
// misinterpreted as a normal single-piece payload.
func IsChunked(typ uint8) bool {
	return typ&FlagChunked != 0
}

// Graphics sub_cmd codes (spec.md §6 minimal set).
const (
	CmdDrawPixel    uint8 = 0x10
	CmdDrawLine     uint8 = 0x11
	CmdDrawRect     uint8 = 0x14
	CmdFillRect     uint8 = 0x15
	CmdDrawCircle   uint8 = 0x18
	CmdFillCircle   uint8 = 0x19
	CmdDrawString   uint8 = 0x20
	CmdClear        uint8 = 0x30
	CmdFillScreen   uint8 = 0x31
	CmdCreateCanvas uint8 = 0x50
	CmdDeleteCanvas uint8 = 0x51
	CmdSetTarget    uint8 = 0x52
	CmdPushCanvas   uint8 = 0x53

	// CmdInitDisplay is the control (not graphics) sub_cmd sent once
	// before any graphics frame (spec.md §6).
	CmdInitDisplay uint8 = 0x01
)

// NoTransparency is the RGB332 sentinel meaning "no transparency" in
// push_canvas's transparent_color field (spec.md §6).
const NoTransparency uint8 = 0xFF

// MaxFrameBytes bounds the pre-COBS frame body the encoder will accept
// (spec.md §4.5 "must refuse payloads that would exceed MAX_FRAME_BYTES").
const MaxFrameBytes = 512

const headerSize = 4 // type:u8 seq:u8 len:u16(LE)
const crcSize = 4

// Header is the fixed prefix of a frame body, before the payload
// (spec.md §6 "Frame body (pre-COBS)").
type Header struct {
	Type uint8
	Seq  uint8
	Len  uint16
}

// marshalHeader writes the 4-byte little-endian header, following the
// teacher's hand-rolled binary.LittleEndian.PutUint* style for externally
// fixed wire layouts instead of reflection-based struct marshal.
func marshalHeader(h Header) []byte {
	buf := make([]byte, headerSize)
	buf[0] = h.Type
	buf[1] = h.Seq
	binary.LittleEndian.PutUint16(buf[2:4], h.Len)
	return buf
}

func unmarshalHeader(data []byte) (Header, error) {
	if len(data) < headerSize {
		return Header{}, coreerr.New("unmarshal_header", coreerr.CodeInvalidParam, "short header")
	}
	return Header{
		Type: data[0],
		Seq:  data[1],
		Len:  binary.LittleEndian.Uint16(data[2:4]),
	}, nil
}

// EncodeFrame builds the full wire frame for (type, seq, payload): header ||
// payload || crc32, COBS-encoded, terminated with a single 0x00
// (spec.md §4.5 encode pipeline).
func EncodeFrame(typ, seq uint8, payload []byte) ([]byte, error) {
	body := make([]byte, 0, headerSize+len(payload)+crcSize)
	body = append(body, marshalHeader(Header{Type: typ, Seq: seq, Len: uint16(len(payload))})...)
	body = append(body, payload...)

	if len(body) > MaxFrameBytes-crcSize {
		return nil, coreerr.New("encode_frame", coreerr.CodeInvalidParam, "payload exceeds MAX_FRAME_BYTES")
	}

	sum := crc32.ChecksumIEEE(body)
	crcBuf := make([]byte, crcSize)
	binary.LittleEndian.PutUint32(crcBuf, sum)
	body = append(body, crcBuf...)

	encoded := Encode(body)
	return append(encoded, 0x00), nil
}

// DecodedFrame is one successfully verified incoming frame.
type DecodedFrame struct {
	Type    uint8
	Seq     uint8
	Payload []byte
}

// DecodeFrame reverses EncodeFrame on one COBS-encoded, pre-terminator
// chunk (the 0x00 terminator must already be stripped by the caller's
// byte-stream reader). Returns coreerr.CodeChecksum on CRC mismatch.
func DecodeFrame(encoded []byte) (DecodedFrame, error) {
	body := Decode(encoded)
	if body == nil || len(body) < headerSize+crcSize {
		return DecodedFrame{}, coreerr.New("decode_frame", coreerr.CodeChecksum, "malformed COBS frame")
	}

	payloadAndHeader := body[:len(body)-crcSize]
	gotCRC := binary.LittleEndian.Uint32(body[len(body)-crcSize:])
	wantCRC := crc32.ChecksumIEEE(payloadAndHeader)
	if gotCRC != wantCRC {
		return DecodedFrame{}, coreerr.New("decode_frame", coreerr.CodeChecksum, "crc32 mismatch")
	}

	hdr, err := unmarshalHeader(payloadAndHeader)
	if err != nil {
		return DecodedFrame{}, coreerr.Wrap("decode_frame", err)
	}
	if int(hdr.Len) > len(payloadAndHeader)-headerSize {
		return DecodedFrame{}, coreerr.New("decode_frame", coreerr.CodeChecksum, "length field exceeds body")
	}

	payload := payloadAndHeader[headerSize : headerSize+int(hdr.Len)]
	return DecodedFrame{Type: hdr.Type, Seq: hdr.Seq, Payload: payload}, nil
}
