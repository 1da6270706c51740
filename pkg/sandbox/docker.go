package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const stdinFileName = "stdin.txt"

// DockerConfig groups container runner configuration values.
type DockerConfig struct {
	Host          string
	Timeout       time.Duration
	MemoryLimitMB int64
	CPUShares     int64
	WorkingDir    string
	WorkspaceRoot string
	Logger        zerolog.Logger
}

// DockerRunner runs each execution inside a throwaway, network-less container.
type DockerRunner struct {
	client *client.Client
	cfg    DockerConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewDockerRunner constructs a Docker backed runner.
func NewDockerRunner(cfg DockerConfig) (*DockerRunner, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	if cfg.WorkingDir == "" {
		cfg.WorkingDir = "/workspace"
	}
	if cfg.WorkspaceRoot == "" {
		cfg.WorkspaceRoot = os.TempDir()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultHTTPTimeout
	}

	return &DockerRunner{
		client: cli,
		cfg:    cfg,
		tracer: otel.Tracer("github.com/noah-isme/gema-grader/pkg/sandbox/docker"),
		logger: cfg.Logger.With().Str("component", "sandbox_docker").Logger(),
	}, nil
}

// Execute implements Client.
func (d *DockerRunner) Execute(parent context.Context, req Request) Result {
	languageKey := NormalizeLanguage(req.Language)
	lang, ok := Languages[languageKey]
	if !ok {
		execFailures.WithLabelValues("docker", languageKey).Inc()
		return Result{Stderr: fmt.Sprintf("unsupported language %q", req.Language)}
	}

	workspace, err := os.MkdirTemp(d.cfg.WorkspaceRoot, "submission-")
	if err != nil {
		execFailures.WithLabelValues("docker", languageKey).Inc()
		return Result{Stderr: fmt.Sprintf("create workspace: %v", err)}
	}
	defer os.RemoveAll(workspace)

	if err := os.WriteFile(filepath.Join(workspace, lang.FileName), []byte(req.Source), 0o644); err != nil {
		execFailures.WithLabelValues("docker", languageKey).Inc()
		return Result{Stderr: fmt.Sprintf("write source: %v", err)}
	}
	if err := os.WriteFile(filepath.Join(workspace, stdinFileName), []byte(req.Stdin), 0o644); err != nil {
		execFailures.WithLabelValues("docker", languageKey).Inc()
		return Result{Stderr: fmt.Sprintf("write stdin: %v", err)}
	}

	result, err := d.run(parent, lang, workspace)
	observe("docker", languageKey, result)
	if err != nil {
		execFailures.WithLabelValues("docker", languageKey).Inc()
		if result.Stderr == "" {
			result.Stderr = err.Error()
		} else {
			result.Stderr = result.Stderr + "\n" + err.Error()
		}
	}
	return result
}

func (d *DockerRunner) run(parent context.Context, lang Language, workspace string) (Result, error) {
	ctx, span := d.tracer.Start(parent, "sandbox.docker.run", trace.WithAttributes(
		attribute.String("docker.image", lang.Image),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	hostCfg := &container.HostConfig{
		Resources: container.Resources{
			Memory:    d.cfg.MemoryLimitMB * 1024 * 1024,
			CPUShares: d.cfg.CPUShares,
		},
		NetworkMode: "none",
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: workspace,
			Target: d.cfg.WorkingDir,
		}},
	}

	config := &container.Config{
		Image:        lang.Image,
		Cmd:          []string{"sh", "-c", fmt.Sprintf("%s < %s", lang.Command, stdinFileName)},
		WorkingDir:   d.cfg.WorkingDir,
		AttachStdout: true,
		AttachStderr: true,
	}

	start := time.Now()
	result := Result{}

	resp, err := d.client.ContainerCreate(ctx, config, hostCfg, &network.NetworkingConfig{}, nil, "")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, fmt.Errorf("container create: %w", err)
	}

	containerID := resp.ID
	defer func() {
		removeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.client.ContainerRemove(removeCtx, containerID, container.RemoveOptions{Force: true}); err != nil {
			d.logger.Error().Err(err).Str("container_id", containerID).Msg("failed to remove container")
		}
	}()

	if err := d.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, fmt.Errorf("container start: %w", err)
	}

	statusCh, errCh := d.client.ContainerWait(ctx, containerID, container.WaitConditionNextExit)

	var waitErr error
	select {
	case err := <-errCh:
		waitErr = err
	case status := <-statusCh:
		result.ExitCode = int(status.StatusCode)
	case <-ctx.Done():
		waitErr = ctx.Err()
	}
	result.Duration = time.Since(start)

	if waitErr != nil {
		if errors.Is(waitErr, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			result.TimedOut = true
			killCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := d.client.ContainerKill(killCtx, containerID, "KILL"); err != nil {
				d.logger.Error().Err(err).Str("container_id", containerID).Msg("failed to kill timed out container")
			}
			span.SetStatus(codes.Error, "execution timed out")
		} else {
			span.RecordError(waitErr)
			span.SetStatus(codes.Error, waitErr.Error())
			return result, fmt.Errorf("container wait: %w", waitErr)
		}
	}

	logCtx, cancelLogs := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelLogs()
	logReader, err := d.client.ContainerLogs(logCtx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		d.logger.Error().Err(err).Str("container_id", containerID).Msg("failed to fetch container logs")
	} else {
		defer logReader.Close()
		stdout, stderr, err := splitDockerLogs(logReader)
		if err != nil {
			d.logger.Error().Err(err).Str("container_id", containerID).Msg("failed to read container logs")
		} else {
			result.Stdout = stdout
			result.Stderr = stderr
		}
	}

	if result.TimedOut {
		return result, fmt.Errorf("execution timed out after %s", d.cfg.Timeout)
	}
	return result, nil
}

func splitDockerLogs(reader io.Reader) (string, string, error) {
	var stdoutBuf, stderrBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdoutBuf, &stderrBuf, reader); err != nil {
		return "", "", err
	}
	return stdoutBuf.String(), stderrBuf.String(), nil
}

// Close shuts down the runner's underlying client.
func (d *DockerRunner) Close() error {
	if d.client == nil {
		return nil
	}
	return d.client.Close()
}
