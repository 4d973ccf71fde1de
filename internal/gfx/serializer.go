package gfx

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/family-mruby/fmrbcore/internal/bus"
	"github.com/family-mruby/fmrbcore/internal/coreerr"
	"github.com/family-mruby/fmrbcore/internal/link"
	"github.com/family-mruby/fmrbcore/internal/logging"
)

// MaxTextBytes is the default truncation point for draw_string payloads
// (spec.md §4.7 "commonly 255 bytes").
const MaxTextBytes = 255

// Rect is a half-open clip rectangle in target-canvas coordinates: it
// covers [X, X+W) x [Y, Y+H).
type Rect struct {
	X, Y, W, H int32
}

func (r Rect) contains(x, y int32) bool {
	return x >= r.X && x < r.X+r.W && y >= r.Y && y < r.Y+r.H
}

// Serializer is the per-process graphics front-end (spec.md §4.7): it
// never talks to the link transport except for the synchronous
// create_canvas call; every other operation posts a Command through the
// bus to the renderer proxy, which is the link's single async writer.
type Serializer struct {
	mu sync.Mutex

	selfPID     uint8
	rendererPID uint8
	bus         *bus.Bus
	transport   *link.Transport
	log         *logging.Logger

	currentTarget     uint16
	clip              *Rect
	nextLocalCanvasID uint16
	initialized       bool
	maxTextBytes      int
	headless          bool
}

// New builds a Serializer bound to selfPID, posting async commands to
// rendererPID's bus queue and issuing the one synchronous call
// (create_canvas) directly over transport. headless marks a process
// configured without a canvas; every graphics call on it then fails
// (spec.md §4.8 glossary "graphics calls on such a process are errors").
func New(selfPID, rendererPID uint8, b *bus.Bus, transport *link.Transport, log *logging.Logger, headless bool) *Serializer {
	return &Serializer{
		selfPID:           selfPID,
		rendererPID:       rendererPID,
		bus:               b,
		transport:         transport,
		log:               log,
		currentTarget:     ScreenCanvasID,
		nextLocalCanvasID: 1,
		maxTextBytes:      MaxTextBytes,
		headless:          headless,
	}
}

// SetClip installs (or, if r is nil, clears) the clip rectangle used by
// set_pixel's silent-drop rule.
func (s *Serializer) SetClip(r *Rect) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clip = r
}

// CurrentTarget returns the serializer's locally tracked render target.
func (s *Serializer) CurrentTarget() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentTarget
}

func (s *Serializer) post(c Command) error {
	if s.headless {
		return coreerr.New("gfx_post", coreerr.CodeInvalidParam, "graphics call on a headless process")
	}
	payload, err := Encode(c)
	if err != nil {
		return err
	}
	msg := bus.NewMessage(bus.MsgAppGraphics, s.selfPID, payload)
	return s.bus.Send(s.rendererPID, msg, 0)
}

// CreateCanvas issues a synchronous link request (spec.md §4.7) and
// returns the renderer-assigned canvas_id.
func (s *Serializer) CreateCanvas(w, h uint16) (uint16, error) {
	if s.headless {
		return 0, coreerr.New("create_canvas", coreerr.CodeInvalidParam, "graphics call on a headless process")
	}
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint16(payload[0:2], w)
	binary.LittleEndian.PutUint16(payload[2:4], h)

	resp := make([]byte, 2)
	status, n, err := s.transport.SendSync(link.TypeGraphics, link.CmdCreateCanvas, payload, resp, time.Second)
	if err != nil || status != coreerr.Code("") || n < 2 {
		return 0, coreerr.New("create_canvas", coreerr.CodeFailed, "renderer did not confirm canvas creation")
	}

	canvasID := binary.LittleEndian.Uint16(resp[:2])
	s.mu.Lock()
	s.nextLocalCanvasID = canvasID + 1
	s.initialized = true
	s.mu.Unlock()
	return canvasID, nil
}

// DeleteCanvas is asynchronous; if id is the current target, the local
// target resets to the screen canvas before the command is sent.
func (s *Serializer) DeleteCanvas(id uint16) error {
	s.mu.Lock()
	if s.currentTarget == id {
		s.currentTarget = ScreenCanvasID
	}
	s.mu.Unlock()
	return s.post(Command{Kind: KindDeleteCanvas, CanvasID: int32(id)})
}

// SetTarget is asynchronous.
func (s *Serializer) SetTarget(id uint16) error {
	if err := s.post(Command{Kind: KindSetTarget, CanvasID: int32(id)}); err != nil {
		return err
	}
	s.mu.Lock()
	s.currentTarget = id
	s.mu.Unlock()
	return nil
}

// PushCanvas composites src onto dest at (x, y), optionally keying out
// transparent. Pass useTransparency=false to disable keying (renderer
// sees link.NoTransparency).
func (s *Serializer) PushCanvas(src, dest uint16, x, y int32, transparent uint8, useTransparency bool) error {
	return s.post(Command{
		Kind: KindPushCanvas, CanvasID: int32(src), DestID: int32(dest),
		X: x, Y: y, Color: transparent, UseTransparency: useTransparency,
	})
}

// Clear asks the renderer to clear the current target.
func (s *Serializer) Clear() error {
	return s.post(Command{Kind: KindClear, CanvasID: int32(s.CurrentTarget())})
}

// FillScreen clears the screen canvas regardless of current target.
func (s *Serializer) FillScreen(color uint8) error {
	return s.post(Command{Kind: KindFillScreen, CanvasID: int32(ScreenCanvasID), Color: color})
}

// DrawPixel is silently dropped when a clip rectangle is set and (x, y)
// falls outside it (spec.md §4.7 clipping rule).
func (s *Serializer) DrawPixel(x, y int32, color uint8) error {
	s.mu.Lock()
	clip := s.clip
	target := s.currentTarget
	s.mu.Unlock()
	if clip != nil && !clip.contains(x, y) {
		return nil
	}
	return s.post(Command{Kind: KindDrawPixel, CanvasID: int32(target), X: x, Y: y, Color: color})
}

// DrawLine is forwarded verbatim; clipping happens on the far side for
// non-pixel primitives.
func (s *Serializer) DrawLine(x1, y1, x2, y2 int32, color uint8) error {
	return s.post(Command{Kind: KindDrawLine, CanvasID: int32(s.CurrentTarget()), X: x1, Y: y1, X2: x2, Y2: y2, Color: color})
}

func (s *Serializer) DrawRect(x, y, w, h int32, color uint8) error {
	return s.post(Command{Kind: KindDrawRect, CanvasID: int32(s.CurrentTarget()), X: x, Y: y, W: w, H: h, Color: color})
}

func (s *Serializer) FillRect(x, y, w, h int32, color uint8) error {
	return s.post(Command{Kind: KindFillRect, CanvasID: int32(s.CurrentTarget()), X: x, Y: y, W: w, H: h, Color: color})
}

func (s *Serializer) DrawCircle(cx, cy, r int32, color uint8) error {
	return s.post(Command{Kind: KindDrawCircle, CanvasID: int32(s.CurrentTarget()), CX: cx, CY: cy, R: r, Color: color})
}

func (s *Serializer) FillCircle(cx, cy, r int32, color uint8) error {
	return s.post(Command{Kind: KindFillCircle, CanvasID: int32(s.CurrentTarget()), CX: cx, CY: cy, R: r, Color: color})
}

// DrawString truncates text at maxTextBytes and warns when truncation
// occurred (spec.md §4.7 "truncates ... and warns").
func (s *Serializer) DrawString(x, y int32, color uint8, text string) error {
	s.mu.Lock()
	limit := s.maxTextBytes
	s.mu.Unlock()

	truncated := text
	if len(truncated) > limit {
		truncated = truncated[:limit]
		if s.log != nil {
			s.log.Warnf("gfx: draw_string text truncated from %d to %d bytes", len(text), limit)
		}
	}
	return s.post(Command{Kind: KindDrawString, CanvasID: int32(s.CurrentTarget()), X: x, Y: y, Color: color, Text: truncated})
}

// Present posts the marker that tells the renderer proxy to flush its
// batched command buffer.
func (s *Serializer) Present() error {
	return s.post(Command{Kind: KindPresent, CanvasID: int32(s.CurrentTarget())})
}
