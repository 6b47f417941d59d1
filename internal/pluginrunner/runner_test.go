package pluginrunner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/thin-edge/tedge-core/internal/config"
	"github.com/thin-edge/tedge-core/internal/domain"
)

func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
}

func newTestRunner(dir string) *Runner {
	return New(config.PluginConfig{SoftwareDir: dir}, zerolog.Nop())
}

func TestInvoke_CapturesStructuredOutput(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "mock-plugin", `echo "before"
echo ":::begin-tedge:::"
echo '{"installed":["vim"]}'
echo ":::end-tedge:::"
echo "after"
exit 0
`)
	r := newTestRunner(dir)
	res, err := r.Invoke(context.Background(), domain.PluginInvocation{Plugin: "mock-plugin", Args: []string{"list"}})
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode)
	require.Equal(t, []any{"vim"}, res.Structured["installed"])
}

func TestInvoke_NonZeroExit(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "failer", "exit 2\n")
	r := newTestRunner(dir)
	res, err := r.Invoke(context.Background(), domain.PluginInvocation{Plugin: "failer"})
	require.NoError(t, err)
	require.Equal(t, 2, res.ExitCode)
}

func TestInvoke_UnknownPlugin(t *testing.T) {
	dir := t.TempDir()
	r := newTestRunner(dir)
	_, err := r.Invoke(context.Background(), domain.PluginInvocation{Plugin: "nope"})
	require.Error(t, err)
	var pluginErr *domain.PluginError
	require.ErrorAs(t, err, &pluginErr)
	require.Equal(t, domain.PluginKindNotFound, pluginErr.Kind)
}

func TestInvoke_NotExecutable(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readonly"), []byte("not a script"), 0o644))
	r := newTestRunner(dir)
	_, err := r.Invoke(context.Background(), domain.PluginInvocation{Plugin: "readonly"})
	require.Error(t, err)
	var pluginErr *domain.PluginError
	require.ErrorAs(t, err, &pluginErr)
	require.Equal(t, domain.PluginKindNotExecutable, pluginErr.Kind)
}

func TestList_SkipsIgnoredAndNonExecutable(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "apt", "exit 0\n")
	writeScript(t, dir, "zzz", "exit 0\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "apt.ignore"), []byte(""), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte(""), 0o644))

	names, err := List(dir)
	require.NoError(t, err)
	require.Equal(t, []string{"apt", "zzz"}, names)
}
