// Command fmrbcore-sim boots a Runtime and drives it from the command
// line: spawn one built-in app (--spawn), list the process table, and push
// a message over the bus. The link transport talks to an external
// renderer process over its own stdin/stdout, framed the same way a real
// UART link would be (spec.md §1 OVERVIEW).
package main

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/family-mruby/fmrbcore"
	"github.com/family-mruby/fmrbcore/internal/bus"
	"github.com/family-mruby/fmrbcore/internal/link"
	"github.com/family-mruby/fmrbcore/internal/logging"
)

type rootFlags struct {
	screenWidth  uint16
	screenHeight uint16
	colorDepth   uint8
	numSlots     int
	spawnApp     string
	rendererCmd  string
	verbose      bool
}

func main() {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   "fmrbcore-sim",
		Short: "Boot a fmrbcore runtime and exercise its process table and bus",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(flags)
		},
	}

	pf := cmd.Flags()
	pf.Uint16Var(&flags.screenWidth, "screen-width", 320, "attached display width in pixels")
	pf.Uint16Var(&flags.screenHeight, "screen-height", 240, "attached display height in pixels")
	pf.Uint8Var(&flags.colorDepth, "color-depth", 1, "attached display color depth (RGB332 = 1)")
	pf.IntVar(&flags.numSlots, "num-slots", 0, "process table size (0 = default)")
	pf.StringVar(&flags.spawnApp, "spawn", "system/gui_app", "built-in app name to spawn")
	pf.StringVar(&flags.rendererCmd, "renderer-cmd", "", "external renderer process to pipe the link to (stdin/stdout); empty runs headless")
	pf.BoolVar(&flags.verbose, "verbose", false, "enable debug logging")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loopbackDriver is the headless fallback when --renderer-cmd is empty: it
// answers every frame with nothing, so the runtime still boots but
// CreateCanvas calls will time out, as they would against a disconnected
// renderer.
type loopbackDriver struct{}

func (loopbackDriver) Write([]byte) error  { return nil }
func (loopbackDriver) Recv() ([]byte, bool) { return nil, false }

func buildDriver(flags *rootFlags, log *logging.Logger) (link.Driver, func(), error) {
	if flags.rendererCmd == "" {
		log.Info("no --renderer-cmd given; running headless (loopback driver)")
		return loopbackDriver{}, func() {}, nil
	}

	c := exec.Command("sh", "-c", flags.rendererCmd)
	stdin, err := c.StdinPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("renderer stdin pipe: %w", err)
	}
	stdout, err := c.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("renderer stdout pipe: %w", err)
	}
	c.Stderr = os.Stderr
	if err := c.Start(); err != nil {
		return nil, nil, fmt.Errorf("start renderer: %w", err)
	}

	rw := struct {
		io.Reader
		io.Writer
	}{stdout, stdin}

	driver := link.NewStreamDriver(rw)
	cleanup := func() {
		driver.Close()
		_ = c.Process.Kill()
		_ = c.Wait()
	}
	return driver, cleanup, nil
}

func run(flags *rootFlags) error {
	log := logging.Default()
	if flags.verbose {
		log = logging.NewLogger(&logging.Config{Level: logging.LevelDebug, Output: os.Stderr})
	}

	driver, cleanup, err := buildDriver(flags, log)
	if err != nil {
		return err
	}
	defer cleanup()

	rt, err := fmrbcore.New(fmrbcore.Options{
		Logger:       log,
		Driver:       driver,
		NumSlots:     flags.numSlots,
		ScreenWidth:  flags.screenWidth,
		ScreenHeight: flags.screenHeight,
		ColorDepth:   flags.colorDepth,
	})
	if err != nil {
		return fmt.Errorf("runtime init: %w", err)
	}
	defer rt.Shutdown()

	id, err := rt.Spawner.SpawnApp(flags.spawnApp)
	if err != nil {
		return fmt.Errorf("spawn %s: %w", flags.spawnApp, err)
	}
	log.Infof("spawned %s as slot %d generation %d", flags.spawnApp, id.SlotIndex, id.Generation)

	if err := rt.Bus.Send(uint8(id.SlotIndex), bus.NewMessage(bus.MsgAppControl, 0, []byte("ping")), 200*time.Millisecond); err != nil {
		log.Warnf("ping send failed: %v", err)
	}

	for _, info := range rt.Proc.Ps() {
		fmt.Printf("slot=%d name=%s state=%s mem_used=%d mem_free=%d\n",
			info.SlotIndex, info.Name, info.State, info.MemUsed, info.MemFree)
	}

	return nil
}
