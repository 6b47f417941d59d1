package workflow

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeTestScript(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "script.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestRunScriptParsesStructuredBlock(t *testing.T) {
	path := writeTestScript(t, `echo "hello"
echo ":::begin-tedge:::"
echo '{"progress": 50}'
echo ":::end-tedge:::"
exit 0
`)
	res, err := runScript(context.Background(), path, []byte(`{}`), time.Second)
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode)
	require.Equal(t, float64(50), res.Structured["progress"])
	require.Contains(t, res.Freeform, "hello")
}

func TestRunScriptReportsNonZeroExitCode(t *testing.T) {
	path := writeTestScript(t, "exit 7\n")
	res, err := runScript(context.Background(), path, []byte(`{}`), time.Second)
	require.NoError(t, err)
	require.Equal(t, 7, res.ExitCode)
}

func TestRunScriptKeepsFreeformWhenBlockMalformed(t *testing.T) {
	path := writeTestScript(t, `echo ":::begin-tedge:::"
echo 'not json'
echo ":::end-tedge:::"
exit 0
`)
	res, err := runScript(context.Background(), path, []byte(`{}`), time.Second)
	require.NoError(t, err)
	require.Nil(t, res.Structured)
}

func TestRunScriptTerminatesOnContextCancel(t *testing.T) {
	path := writeTestScript(t, "sleep 5\n")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := runScript(ctx, path, []byte(`{}`), 200*time.Millisecond)
	require.Error(t, err)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestExtractDelimitedFindsBlock(t *testing.T) {
	freeform, block, found := extractDelimited("before\n:::begin-tedge:::\n{\"a\":1}\n:::end-tedge:::\nafter\n")
	require.True(t, found)
	require.Equal(t, `{"a":1}`, block)
	require.Contains(t, freeform, "before")
	require.Contains(t, freeform, "after")
}

func TestExtractDelimitedNotFound(t *testing.T) {
	_, _, found := extractDelimited("plain output, no markers")
	require.False(t, found)
}
