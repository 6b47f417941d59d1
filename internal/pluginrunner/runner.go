// Package pluginrunner implements the operation plugin runner (component G):
// discovery and invocation of the external executables that do the actual
// work of a software/config/log/firmware/diagnostic operation. The
// process-management idiom (start, capture output in buffers, race cmd.Wait
// against a deadline, SIGTERM then SIGKILL) is adapted from the teacher's
// SubprocessHandle in internal/infra/engine/subprocess.go, which manages a
// single long-lived llama-server child; here every invocation is a short
// one-shot exec instead of a proxied HTTP server.
package pluginrunner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/thin-edge/tedge-core/internal/config"
	"github.com/thin-edge/tedge-core/internal/domain"
)

const (
	beginDelimiter = ":::begin-tedge:::"
	endDelimiter   = ":::end-tedge:::"
)

// Runner implements domain.PluginRunner. It is stateless beyond its
// configured directories; every Invoke call resolves the plugin fresh so a
// plugin installed or removed between calls is picked up immediately.
type Runner struct {
	cfg config.PluginConfig
	log zerolog.Logger
}

// New wires a Runner from the [plugin] config section.
func New(cfg config.PluginConfig, log zerolog.Logger) *Runner {
	return &Runner{cfg: cfg, log: log.With().Str("component", "plugin-runner").Logger()}
}

// Invoke resolves req.Plugin under the software plugin directory and runs
// it with req.Args, piping req.Stdin and capturing stdout/stderr. Other
// plugin families (config, log, diagnostic) share the same invocation path;
// callers select the directory by constructing distinct Runners or, as here,
// a caller that always wants the software directory uses this method while
// InvokeIn below targets an arbitrary directory.
func (r *Runner) Invoke(ctx context.Context, req domain.PluginInvocation) (domain.PluginResult, error) {
	return r.InvokeIn(ctx, r.cfg.SoftwareDir, req)
}

// InvokeIn runs req.Plugin resolved within dir, the directory-qualified form
// used by the config/log/firmware/diagnostic plugin families, each of which
// has its own configured directory (spec §4.G).
func (r *Runner) InvokeIn(ctx context.Context, dir string, req domain.PluginInvocation) (domain.PluginResult, error) {
	path, err := resolve(dir, req.Plugin)
	if err != nil {
		return domain.PluginResult{}, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, path, req.Args...)
	cmd.Dir = req.Dir
	if len(req.Stdin) > 0 {
		cmd.Stdin = bytes.NewReader(req.Stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return domain.PluginResult{}, domain.NewPluginError(domain.PluginKindNotExecutable, req.Plugin, -1, err)
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	select {
	case err := <-waitErr:
		return buildResult(req.Plugin, cmd, err, stdout.Bytes(), stderr.Bytes())
	case <-runCtx.Done():
		terminate(cmd, waitErr)
		return domain.PluginResult{}, domain.NewPluginError(domain.PluginKindTimeout, req.Plugin, -1, runCtx.Err())
	}
}

func terminate(cmd *exec.Cmd, waitErr <-chan error) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-waitErr:
		return
	case <-time.After(5 * time.Second):
	}
	_ = cmd.Process.Kill()
	<-waitErr
}

func buildResult(plugin string, cmd *exec.Cmd, runErr error, stdout, stderr []byte) (domain.PluginResult, error) {
	exitCode := 0
	if runErr != nil {
		exitErr, ok := runErr.(*exec.ExitError)
		if !ok {
			return domain.PluginResult{}, domain.NewPluginError(domain.PluginKindExitCode, plugin, -1, runErr)
		}
		exitCode = exitErr.ExitCode()
	}

	res := domain.PluginResult{ExitCode: exitCode, Stdout: stdout, Stderr: stderr}
	block, ok := extractDelimited(string(stdout))
	if !ok {
		return res, nil
	}
	var structured map[string]any
	if err := json.Unmarshal([]byte(block), &structured); err != nil {
		return res, domain.NewPluginError(domain.PluginKindUnstructuredOutput, plugin, exitCode, err)
	}
	res.Structured = structured
	return res, nil
}

// extractDelimited pulls the JSON block bounded by beginDelimiter/
// endDelimiter out of stdout (spec §4.F/§4.G structured output scanning).
func extractDelimited(stdout string) (string, bool) {
	start := strings.Index(stdout, beginDelimiter)
	if start == -1 {
		return "", false
	}
	end := strings.Index(stdout, endDelimiter)
	if end == -1 || end < start {
		return "", false
	}
	return strings.TrimSpace(stdout[start+len(beginDelimiter) : end]), true
}

// resolve looks name up directly as dir/name; it does not scan the
// directory. A missing file or a name ending in .ignore yields a NotFound
// PluginError and a non-executable file a NotExecutable PluginError; no
// warning is logged for either.
func resolve(dir, name string) (string, error) {
	path := filepath.Join(dir, name)
	info, err := os.Stat(path)
	if err != nil {
		return "", domain.NewPluginError(domain.PluginKindNotFound, name, -1, err)
	}
	if strings.HasSuffix(path, ".ignore") {
		return "", domain.NewPluginError(domain.PluginKindNotFound, name, -1, domain.ErrPluginNotFound)
	}
	if info.Mode()&0o111 == 0 {
		return "", domain.NewPluginError(domain.PluginKindNotExecutable, name, -1, domain.ErrPluginNotExecutable)
	}
	return path, nil
}

// List returns the executable, non-.ignore plugin names in dir, in the
// deterministic lexicographic order the runner uses to resolve them.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".ignore") {
			continue
		}
		info, err := e.Info()
		if err != nil || info.Mode()&0o111 == 0 {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Elevate performs a privileged write via the configured tedge-write helper:
// argv is the target path and mode, stdin is the file content (spec §4.G
// "Privilege elevation").
func (r *Runner) Elevate(ctx context.Context, targetPath string, mode os.FileMode, content []byte) error {
	helper := r.cfg.TedgeWriteBin
	if helper == "" {
		return fmt.Errorf("tedge-write helper not configured")
	}
	args := []string{targetPath, fmt.Sprintf("%04o", mode.Perm())}
	if r.cfg.SudoCommand != "" {
		args = append([]string{helper}, args...)
		helper = r.cfg.SudoCommand
	}
	cmd := exec.CommandContext(ctx, helper, args...)
	cmd.Stdin = bytes.NewReader(content)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("tedge-write %s: %w: %s", targetPath, err, stderr.String())
	}
	return nil
}
