package link

import "encoding/binary"

// ChunkHeader is the reserved pre-header for the 64=chunked flag
// (spec.md §6). Chunked reassembly itself is out of scope for this core
// (spec.md §1 "chunked delivery is OPTIONAL"); only the wire layout is
// modeled so a future renderer host can interoperate.
type ChunkHeader struct {
	Flags    uint8
	ChunkID  uint16
	ChunkLen uint16
	Offset   uint32
	TotalLen uint32
}

const chunkHeaderSize = 1 + 2 + 2 + 4 + 4

// EncodeChunkHeader writes the fixed little-endian chunk pre-header.
func EncodeChunkHeader(h ChunkHeader) []byte {
	buf := make([]byte, chunkHeaderSize)
	buf[0] = h.Flags
	binary.LittleEndian.PutUint16(buf[1:3], h.ChunkID)
	binary.LittleEndian.PutUint16(buf[3:5], h.ChunkLen)
	binary.LittleEndian.PutUint32(buf[5:9], h.Offset)
	binary.LittleEndian.PutUint32(buf[9:13], h.TotalLen)
	return buf
}

// DecodeChunkHeader reverses EncodeChunkHeader.
func DecodeChunkHeader(data []byte) (ChunkHeader, bool) {
	if len(data) < chunkHeaderSize {
		return ChunkHeader{}, false
	}
	return ChunkHeader{
		Flags:    data[0],
		ChunkID:  binary.LittleEndian.Uint16(data[1:3]),
		ChunkLen: binary.LittleEndian.Uint16(data[3:5]),
		Offset:   binary.LittleEndian.Uint32(data[5:9]),
		TotalLen: binary.LittleEndian.Uint32(data[9:13]),
	}, true
}

// subCmdExpectsResponse decides whether the far end is expected to append
// response bytes to an ACK for this sub_cmd. Open question resolved per
// DESIGN.md: a fixed predicate rather than a generic wire flag, since
// spec.md leaves "when does the far end append response bytes" to the
// renderer protocol, not the core.
func subCmdExpectsResponse(subCmd uint8) bool {
	return subCmd == CmdCreateCanvas
}
