package workflow

import (
	"embed"
	"os"
	"path/filepath"

	"github.com/thin-edge/tedge-core/internal/domain"
)

//go:embed builtin_workflows/*.toml
var builtinFS embed.FS

// builtinDefinitions is populated at init time from the embedded assets so
// Catalogue.Remove can fall back to a built-in without touching disk.
var builtinDefinitions, builtinRawContent = mustParseBuiltins()

func mustParseBuiltins() (map[string]domain.WorkflowDefinition, map[string][]byte) {
	entries, err := builtinFS.ReadDir("builtin_workflows")
	if err != nil {
		panic("workflow: embedded built-ins unreadable: " + err.Error())
	}
	out := make(map[string]domain.WorkflowDefinition, len(entries))
	raws := make(map[string][]byte, len(entries))
	for _, e := range entries {
		raw, err := builtinFS.ReadFile(filepath.Join("builtin_workflows", e.Name()))
		if err != nil {
			panic("workflow: embedded built-in unreadable: " + err.Error())
		}
		def, err := parseDefinition(raw, "embedded:"+e.Name())
		if err != nil {
			panic("workflow: embedded built-in malformed: " + err.Error())
		}
		out[def.Operation] = def
		raws[def.Operation] = raw
	}
	return out, raws
}

// materializeBuiltins writes every embedded default workflow to dir unless
// a file of the same name already exists, the way the teacher ships a
// default config and only writes it once (daemon.SaveConfig is called
// exactly when no file is present). A later fsnotify-observed user edit
// then overrides it, per spec §4.F.
func materializeBuiltins(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	entries, err := builtinFS.ReadDir("builtin_workflows")
	if err != nil {
		return err
	}
	for _, e := range entries {
		dst := filepath.Join(dir, e.Name())
		if _, err := os.Stat(dst); err == nil {
			continue // user file already present, never overwrite
		}
		raw, err := builtinFS.ReadFile(filepath.Join("builtin_workflows", e.Name()))
		if err != nil {
			return err
		}
		if err := os.WriteFile(dst, raw, 0o644); err != nil {
			return err
		}
	}
	return nil
}
