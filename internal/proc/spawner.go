package proc

import (
	"path/filepath"
	"strings"

	"github.com/family-mruby/fmrbcore/internal/coreerr"
)

// builtinApp is a static name -> spawn-attribute template entry
// (spec.md §4.9 "static table mapping name -> pre-linked bytecode
// symbol").
type builtinApp struct {
	kind   Kind
	vmKind VMKind
	blob   []byte
}

// Spawner resolves a human-friendly app name or filesystem path into a
// spawn Attr and hands it to a Table (spec.md §4.9).
type Spawner struct {
	table   *Table
	builtin map[string]builtinApp
}

// NewSpawner builds a Spawner over table, seeded with the built-in app
// table (spec.md §4.9's "system/gui_app", "default/shell" examples).
func NewSpawner(table *Table) *Spawner {
	return &Spawner{
		table: table,
		builtin: map[string]builtinApp{
			"system/gui_app": {kind: KindSystemApp, vmKind: VMKindNative},
			"default/shell":  {kind: KindUserApp, vmKind: VMKindNative},
		},
	}
}

// RegisterBuiltin adds or overrides a built-in app's bytecode blob.
func (s *Spawner) RegisterBuiltin(name string, kind Kind, vmKind VMKind, blob []byte) {
	s.builtin[name] = builtinApp{kind: kind, vmKind: vmKind, blob: blob}
}

func vmKindForExt(ext string) VMKind {
	switch strings.ToLower(ext) {
	case ".rb", ".mrb":
		return VMKindMRuby
	case ".lua":
		return VMKindLua
	default:
		return VMKindNative
	}
}

// SpawnApp resolves name (a built-in symbol or a filesystem path) into a
// spawn Attr and spawns it into any free user-app slot.
func (s *Spawner) SpawnApp(name string) (ID, error) {
	if app, ok := s.builtin[name]; ok {
		return s.table.Spawn(Attr{
			SlotID: -1,
			Kind:   app.kind,
			Name:   name,
			VMKind: app.vmKind,
			Source: Source{Mode: LoadModeBytecode, Bytecode: app.blob},
			Stack:  8192,
			Window: Window{Headless: true},
		})
	}

	if len(name) > 256 {
		return ID{}, coreerr.New("spawn_app", coreerr.CodeInvalidParam, "source path exceeds MAX_SOURCE_PATH_LEN")
	}

	return s.table.Spawn(Attr{
		SlotID: -1,
		Kind:   KindUserApp,
		Name:   filepath.Base(name),
		VMKind: vmKindForExt(filepath.Ext(name)),
		Source: Source{Mode: LoadModeFile, Path: name},
		Stack:  8192,
		Window: Window{Headless: true},
	})
}
