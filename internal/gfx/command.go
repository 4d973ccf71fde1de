// Package gfx implements the graphics serializer that sits in front of
// the link transport (spec.md §4.7): typed draw-command builders, canvas
// lifecycle, clipping, and the per-process state that the original kept
// as a module-level singleton but is modeled here as an explicit object.
package gfx

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/family-mruby/fmrbcore/internal/coreerr"
)

// Kind tags the variant of a serialized graphics command (spec.md's
// gfx_cmd union).
type Kind uint8

const (
	KindClear Kind = iota
	KindFillScreen
	KindDrawPixel
	KindDrawLine
	KindDrawRect
	KindFillRect
	KindDrawCircle
	KindFillCircle
	KindDrawString
	KindCreateCanvas
	KindDeleteCanvas
	KindSetTarget
	KindPushCanvas
	KindPresent
)

// ScreenCanvasID is the renderer's built-in screen canvas (spec.md §4.7
// "resets ... to the screen canvas").
const ScreenCanvasID uint16 = 0

// Command is one entry in the gfx_cmd union, flat rather than tagged by
// Go interface so it copies cheaply into a fixed-size bus message.
type Command struct {
	Kind Kind

	CanvasID int32
	DestID   int32
	X, Y     int32
	X2, Y2   int32
	W, H     int32
	CX, CY   int32
	R        int32
	Color    uint8

	Text string

	// Transparent is not set by the serializer nor read by the renderer
	// proxy: push_canvas carries its transparent color in Color, and the
	// proxy writes link.NoTransparency instead when UseTransparency is false.
	Transparent     uint8
	UseTransparency bool
}

// Encode msgpack-encodes a command for transit as a bus message payload.
func Encode(c Command) ([]byte, error) {
	buf, err := msgpack.Marshal(c)
	if err != nil {
		return nil, coreerr.Wrap("encode_gfx_command", err)
	}
	return buf, nil
}

// Decode reverses Encode.
func Decode(data []byte) (Command, error) {
	var c Command
	if err := msgpack.Unmarshal(data, &c); err != nil {
		return Command{}, coreerr.New("decode_gfx_command", coreerr.CodeInvalidParam, "malformed gfx command payload")
	}
	return c, nil
}
