package renderer

import (
	"encoding/binary"

	"github.com/family-mruby/fmrbcore/internal/gfx"
	"github.com/family-mruby/fmrbcore/internal/link"
)

func putU16(buf []byte, off int, v int32) {
	binary.LittleEndian.PutUint16(buf[off:off+2], uint16(v))
}

// encodeFrame packs a gfx.Command into its wire sub_cmd and payload bytes
// per spec.md §6's minimal graphics sub_cmd set.
func encodeFrame(cmd gfx.Command) (uint8, []byte) {
	switch cmd.Kind {
	case gfx.KindClear:
		buf := make([]byte, 2)
		putU16(buf, 0, cmd.CanvasID)
		return link.CmdClear, buf

	case gfx.KindFillScreen:
		return link.CmdFillScreen, []byte{cmd.Color}

	case gfx.KindDrawPixel:
		buf := make([]byte, 7)
		putU16(buf, 0, cmd.CanvasID)
		putU16(buf, 2, cmd.X)
		putU16(buf, 4, cmd.Y)
		buf[6] = cmd.Color
		return link.CmdDrawPixel, buf

	case gfx.KindDrawLine:
		buf := make([]byte, 11)
		putU16(buf, 0, cmd.CanvasID)
		putU16(buf, 2, cmd.X)
		putU16(buf, 4, cmd.Y)
		putU16(buf, 6, cmd.X2)
		putU16(buf, 8, cmd.Y2)
		buf[10] = cmd.Color
		return link.CmdDrawLine, buf

	case gfx.KindDrawRect:
		return link.CmdDrawRect, encodeRectLike(cmd)

	case gfx.KindFillRect:
		return link.CmdFillRect, encodeRectLike(cmd)

	case gfx.KindDrawCircle:
		return link.CmdDrawCircle, encodeCircleLike(cmd)

	case gfx.KindFillCircle:
		return link.CmdFillCircle, encodeCircleLike(cmd)

	case gfx.KindDrawString:
		text := []byte(cmd.Text)
		buf := make([]byte, 9+len(text))
		putU16(buf, 0, cmd.CanvasID)
		putU16(buf, 2, cmd.X)
		putU16(buf, 4, cmd.Y)
		buf[6] = cmd.Color
		binary.LittleEndian.PutUint16(buf[7:9], uint16(len(text)))
		copy(buf[9:], text)
		return link.CmdDrawString, buf

	case gfx.KindDeleteCanvas:
		buf := make([]byte, 2)
		putU16(buf, 0, cmd.CanvasID)
		return link.CmdDeleteCanvas, buf

	case gfx.KindSetTarget:
		buf := make([]byte, 2)
		putU16(buf, 0, cmd.CanvasID)
		return link.CmdSetTarget, buf

	case gfx.KindPushCanvas:
		buf := make([]byte, 9)
		putU16(buf, 0, cmd.CanvasID)
		putU16(buf, 2, cmd.DestID)
		putU16(buf, 4, cmd.X)
		putU16(buf, 6, cmd.Y)
		buf[8] = cmd.Color
		if !cmd.UseTransparency {
			buf[8] = link.NoTransparency
		}
		return link.CmdPushCanvas, buf

	default:
		return 0, nil
	}
}

func encodeRectLike(cmd gfx.Command) []byte {
	buf := make([]byte, 11)
	putU16(buf, 0, cmd.CanvasID)
	putU16(buf, 2, cmd.X)
	putU16(buf, 4, cmd.Y)
	putU16(buf, 6, cmd.W)
	putU16(buf, 8, cmd.H)
	buf[10] = cmd.Color
	return buf
}

func encodeCircleLike(cmd gfx.Command) []byte {
	buf := make([]byte, 9)
	putU16(buf, 0, cmd.CanvasID)
	putU16(buf, 2, cmd.CX)
	putU16(buf, 4, cmd.CY)
	putU16(buf, 6, cmd.R)
	buf[8] = cmd.Color
	return buf
}
