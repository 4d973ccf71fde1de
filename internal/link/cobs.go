package link

// Package-level COBS (consistent-overhead byte stuffing) implementation.
// No pack example in the corpus implements COBS, so this is hand-rolled
// against the stdlib only (spec.md §4.5 algorithm description; see
// DESIGN.md for the stdlib-justification entry).

// Encode returns the COBS encoding of data: the output contains no 0x00
// bytes. Overhead is bounded by ceil(n/254)+1 (spec.md §4.5 property).
func Encode(data []byte) []byte {
	out := make([]byte, 0, len(data)+len(data)/254+2)
	// codeIdx points at the not-yet-written length byte for the current run.
	codeIdx := 0
	out = append(out, 0) // placeholder
	code := byte(1)

	flush := func() {
		out[codeIdx] = code
		code = 1
	}

	for _, b := range data {
		if b == 0 {
			flush()
			codeIdx = len(out)
			out = append(out, 0)
			continue
		}
		out = append(out, b)
		code++
		if code == 0xFF {
			flush()
			codeIdx = len(out)
			out = append(out, 0)
		}
	}
	flush()
	return out
}

// Decode reverses Encode. Returns nil if data is malformed (unexpected
// zero byte inside a run, or a run pointing past the buffer end).
func Decode(data []byte) []byte {
	out := make([]byte, 0, len(data))
	i := 0
	for i < len(data) {
		code := int(data[i])
		if code == 0 {
			return nil
		}
		i++
		end := i + code - 1
		if end > len(data) {
			return nil
		}
		out = append(out, data[i:end]...)
		i = end
		if code != 0xFF && i < len(data) {
			out = append(out, 0)
		}
	}
	return out
}
