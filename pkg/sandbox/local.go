package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultLocalTimeout bounds a single local interpreter run.
const DefaultLocalTimeout = 5 * time.Second

var inputCallPattern = regexp.MustCompile(`\binput\s*\(`)

// LocalConfig configures the local interpreter runner.
type LocalConfig struct {
	Interpreter string
	Timeout     time.Duration
	WorkDir     string
	Logger      zerolog.Logger
}

// LocalRunner executes python sources with a local interpreter. It is meant for development
// and offline use; it offers no isolation.
type LocalRunner struct {
	cfg    LocalConfig
	logger zerolog.Logger
}

// NewLocalRunner constructs a local runner with defaults applied.
func NewLocalRunner(cfg LocalConfig) *LocalRunner {
	if cfg.Interpreter == "" {
		cfg.Interpreter = "python3"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultLocalTimeout
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	return &LocalRunner{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "sandbox_local").Logger(),
	}
}

// Execute implements Client.
func (r *LocalRunner) Execute(parent context.Context, req Request) Result {
	language := NormalizeLanguage(req.Language)
	if language != "python" {
		execFailures.WithLabelValues("local", language).Inc()
		return Result{Stderr: fmt.Sprintf("local runner does not support language %q", req.Language)}
	}

	source := unescapeNewlines(req.Source)
	stdin := padStdin(source, unescapeNewlines(req.Stdin))

	start := time.Now()
	result := r.run(parent, source, stdin)
	result.Duration = time.Since(start)
	observe("local", language, result)
	return result
}

func (r *LocalRunner) run(parent context.Context, source, stdin string) Result {
	file, err := os.CreateTemp(r.cfg.WorkDir, "submission-*.py")
	if err != nil {
		execFailures.WithLabelValues("local", "python").Inc()
		return Result{Stderr: fmt.Sprintf("create scratch file: %v", err)}
	}
	path := file.Name()
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.logger.Warn().Err(err).Str("path", path).Msg("failed to remove scratch file")
		}
	}()

	if _, err := file.WriteString(source); err != nil {
		_ = file.Close()
		execFailures.WithLabelValues("local", "python").Inc()
		return Result{Stderr: fmt.Sprintf("write scratch file: %v", err)}
	}
	if err := file.Close(); err != nil {
		execFailures.WithLabelValues("local", "python").Inc()
		return Result{Stderr: fmt.Sprintf("close scratch file: %v", err)}
	}

	ctx, cancel := context.WithTimeout(parent, r.cfg.Timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.cfg.Interpreter, path)
	cmd.Dir = r.cfg.WorkDir
	cmd.Stdin = strings.NewReader(stdin)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	result := Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		result.TimedOut = true
		result.ExitCode = -1
		result.Stderr = strings.TrimSpace(result.Stderr + "\n" + fmt.Sprintf("execution timed out after %s", r.cfg.Timeout))
		return result
	}

	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
	case errors.As(runErr, &exitErr):
		result.ExitCode = exitErr.ExitCode()
		if strings.TrimSpace(result.Stderr) == "" {
			result.Stderr = fmt.Sprintf("process exited with code %d", result.ExitCode)
		}
	default:
		execFailures.WithLabelValues("local", "python").Inc()
		result.Stderr = fmt.Sprintf("start interpreter: %v", runErr)
	}
	return result
}

// unescapeNewlines turns literal \n sequences into newlines when the payload arrived as a
// single escaped line. Payloads that already contain real newlines are left alone so string
// literals inside multi-line programs keep their escapes.
func unescapeNewlines(value string) string {
	if strings.Contains(value, "\n") || !strings.Contains(value, `\n`) {
		return value
	}
	value = strings.ReplaceAll(value, `\r\n`, "\n")
	return strings.ReplaceAll(value, `\n`, "\n")
}

// padStdin appends blank lines when the program calls input() more often than stdin has lines,
// so interactive programs see empty input instead of EOF.
func padStdin(source, stdin string) string {
	calls := len(inputCallPattern.FindAllStringIndex(source, -1))
	lines := 0
	if stdin != "" {
		lines = len(strings.Split(strings.TrimSuffix(stdin, "\n"), "\n"))
	}
	if calls <= lines {
		return stdin
	}
	if stdin != "" && !strings.HasSuffix(stdin, "\n") {
		stdin += "\n"
	}
	return stdin + strings.Repeat("\n", calls-lines)
}
