package media

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"lumeroo/internal/observability/metrics"
)

// Toolchain holds the resolved executable paths for the external tools the
// pipeline shells out to.
type Toolchain struct {
	FFmpeg  string
	FFprobe string
	YTDLP   string
}

// ToolchainConfig carries per-tool overrides plus an optional directory of
// bundled binaries checked before the system locations.
type ToolchainConfig struct {
	FFmpegPath  string
	FFprobePath string
	YTDLPPath   string
	BundleDir   string
}

// ResolveToolchain locates each tool using the same lookup order for all of
// them: explicit override, bundled copy, /usr/bin, /usr/local/bin, and finally
// the bare name left to PATH resolution.
func ResolveToolchain(cfg ToolchainConfig) Toolchain {
	return Toolchain{
		FFmpeg:  resolveTool(cfg.FFmpegPath, cfg.BundleDir, "ffmpeg"),
		FFprobe: resolveTool(cfg.FFprobePath, cfg.BundleDir, "ffprobe"),
		YTDLP:   resolveTool(cfg.YTDLPPath, cfg.BundleDir, "yt-dlp"),
	}
}

func resolveTool(override, bundleDir, name string) string {
	if trimmed := strings.TrimSpace(override); trimmed != "" {
		return trimmed
	}
	candidates := make([]string, 0, 3)
	if bundleDir != "" {
		candidates = append(candidates, filepath.Join(bundleDir, name))
	}
	candidates = append(candidates,
		filepath.Join("/usr/bin", name),
		filepath.Join("/usr/local/bin", name),
	)
	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return name
}

// CommandRunner executes external media tools to completion.
type CommandRunner interface {
	Run(ctx context.Context, tool string, args ...string) error
	Output(ctx context.Context, tool string, args ...string) (string, error)
}

// InvokerConfig configures the process-spawning runner.
type InvokerConfig struct {
	// Timeout bounds a single tool invocation. Zero disables the bound.
	Timeout time.Duration
	Logger  *slog.Logger
	Metrics *metrics.Recorder
}

// Invoker runs external tools via exec.CommandContext, capturing stderr for
// error reporting.
type Invoker struct {
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Recorder
}

func NewInvoker(cfg InvokerConfig) *Invoker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	return &Invoker{timeout: cfg.Timeout, logger: logger, metrics: recorder}
}

// Run executes the tool and waits for it to finish.
func (inv *Invoker) Run(ctx context.Context, tool string, args ...string) error {
	_, err := inv.execute(ctx, tool, args, io.Discard)
	return err
}

// Output executes the tool and returns its captured stdout.
func (inv *Invoker) Output(ctx context.Context, tool string, args ...string) (string, error) {
	var stdout bytes.Buffer
	_, err := inv.execute(ctx, tool, args, &stdout)
	return stdout.String(), err
}

func (inv *Invoker) execute(ctx context.Context, tool string, args []string, stdout io.Writer) (time.Duration, error) {
	if inv.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, inv.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, tool, args...)
	stderr := newTailBuffer(4096)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	inv.metrics.TranscodeStarted()
	defer inv.metrics.TranscodeFinished()

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)
	if err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		execErr := &ExecError{
			Tool:     filepath.Base(tool),
			Args:     append([]string(nil), args...),
			ExitCode: exitCode,
			Stderr:   stderr.String(),
			Err:      err,
		}
		inv.logger.Error("tool invocation failed",
			"tool", execErr.Tool,
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr", execErr.Stderr)
		return elapsed, execErr
	}

	inv.logger.Debug("tool invocation completed",
		"tool", filepath.Base(tool),
		"duration_ms", elapsed.Milliseconds())
	return elapsed, nil
}

// tailBuffer keeps the last max bytes written so diagnostics stay bounded for
// chatty tools.
type tailBuffer struct {
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return strings.TrimSpace(string(t.buf))
}
