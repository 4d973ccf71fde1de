// Package renderer implements the renderer-proxy "host process" (spec.md
// §4.10): the single process that drains graphics messages off the bus,
// batches draw primitives into a command buffer, and is the only writer of
// asynchronous frames to the link transport (the graphics serializer's
// synchronous create_canvas call goes to the transport directly).
package renderer

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/family-mruby/fmrbcore/internal/bus"
	"github.com/family-mruby/fmrbcore/internal/constants"
	"github.com/family-mruby/fmrbcore/internal/gfx"
	"github.com/family-mruby/fmrbcore/internal/link"
	"github.com/family-mruby/fmrbcore/internal/logging"
)

// CommandBufferCapacity bounds the batched-command ring (spec.md §4.10
// "~128 serialized graphics commands").
const CommandBufferCapacity = constants.DefaultGraphicsWindow

// UpdateNotifier receives the periodic "update" tick (spec.md §4.10 step 4).
type UpdateNotifier func()

// Proxy is the renderer-proxy process (spec.md §4.10).
type Proxy struct {
	pid       uint8
	bus       *bus.Bus
	transport *link.Transport
	log       *logging.Logger

	// active accumulates batched draw commands until a present flushes them
	// (spec.md §4.10 step 2). Run is single-goroutine: handleMessage always
	// runs to completion before the next bus receive, so a present's flush
	// is atomic with respect to command processing and never overlaps an
	// enqueue (DESIGN.md).
	active []gfx.Command

	screenWidth, screenHeight uint16
	colorDepth                uint8
	displayInitialized        bool

	onUpdate UpdateNotifier
}

// New builds a Proxy listening on constants.PIDRendererProxy's bus queue.
func New(b *bus.Bus, transport *link.Transport, log *logging.Logger, screenW, screenH uint16, colorDepth uint8) *Proxy {
	return &Proxy{
		pid:          constants.PIDRendererProxy,
		bus:          b,
		transport:    transport,
		log:          log,
		active:       make([]gfx.Command, 0, CommandBufferCapacity),
		screenWidth:  screenW,
		screenHeight: screenH,
		colorDepth:   colorDepth,
	}
}

// SetUpdateNotifier installs the callback invoked on each periodic tick.
func (p *Proxy) SetUpdateNotifier(fn UpdateNotifier) {
	p.onUpdate = fn
}

// ensureDisplayInitialized sends the one-time init-display control frame
// (spec.md §6 "MUST be sent by the core before any graphics frame").
func (p *Proxy) ensureDisplayInitialized() error {
	if p.displayInitialized {
		return nil
	}
	payload := make([]byte, 5)
	binary.LittleEndian.PutUint16(payload[0:2], p.screenWidth)
	binary.LittleEndian.PutUint16(payload[2:4], p.screenHeight)
	payload[4] = p.colorDepth
	if err := p.transport.Send(link.TypeControl, link.CmdInitDisplay, payload); err != nil {
		return err
	}
	p.displayInitialized = true
	return nil
}

// Run drives the proxy's tight loop until ctx is canceled (spec.md §4.10
// steps 1-4).
func (p *Proxy) Run(ctx context.Context) {
	if err := p.ensureDisplayInitialized(); err != nil && p.log != nil {
		p.log.Warnf("renderer: init display failed: %v", err)
	}

	ticker := time.NewTicker(constants.RendererUpdateTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if p.onUpdate != nil {
				p.onUpdate()
			}
		default:
		}

		msg, err := p.bus.Receive(p.pid, constants.RendererReceiveTimeout)
		if err == nil {
			p.handleMessage(msg)
		}

		p.transport.Process()
	}
}

func (p *Proxy) handleMessage(msg bus.Message) {
	if msg.Type != bus.MsgAppGraphics {
		return
	}
	cmd, err := gfx.Decode(msg.Bytes())
	if err != nil {
		if p.log != nil {
			p.log.Warnf("renderer: dropping malformed gfx command from pid %d: %v", msg.SrcPID, err)
		}
		return
	}

	switch cmd.Kind {
	case gfx.KindPresent:
		p.present(cmd)
	case gfx.KindDeleteCanvas, gfx.KindSetTarget, gfx.KindPushCanvas:
		p.forward(cmd)
	default:
		p.enqueue(cmd)
	}
}

func (p *Proxy) enqueue(cmd gfx.Command) {
	if len(p.active) < CommandBufferCapacity {
		p.active = append(p.active, cmd)
	} else if p.log != nil {
		p.log.Warnf("renderer: command buffer full, dropping command kind %d", cmd.Kind)
	}
}

// present flushes the active buffer ("execute"), composites via
// push_canvas, and clears the buffer (spec.md §4.10 step 2). Run's single
// goroutine guarantees no enqueue can interleave with this flush.
func (p *Proxy) present(cmd gfx.Command) {
	p.execute(p.active)
	p.active = p.active[:0]

	target := uint16(cmd.CanvasID)
	if target != gfx.ScreenCanvasID {
		p.sendPushCanvas(target, gfx.ScreenCanvasID, 0, 0, link.NoTransparency, false)
	}
}

func (p *Proxy) execute(cmds []gfx.Command) {
	for _, c := range cmds {
		p.forward(c)
	}
}

func (p *Proxy) forward(cmd gfx.Command) {
	subCmd, payload := encodeFrame(cmd)
	if err := p.transport.Send(link.TypeGraphics, subCmd, payload); err != nil && p.log != nil {
		p.log.Warnf("renderer: send failed for sub_cmd 0x%02x: %v", subCmd, err)
	}
}

func (p *Proxy) sendPushCanvas(src, dest uint16, x, y int32, transparent uint8, useTransparency bool) {
	cmd := gfx.Command{
		Kind: gfx.KindPushCanvas, CanvasID: int32(src), DestID: int32(dest),
		X: x, Y: y, Color: transparent, UseTransparency: useTransparency,
	}
	p.forward(cmd)
}
