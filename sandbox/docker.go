package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"

	"github.com/BaSui01/agentlens/types"
)

// DockerRunner executes scoring code in a short-lived container: no
// network, read-only rootfs, input on stdin, verdict on stdout. One runner
// wraps one daemon client and is safe for concurrent use.
type DockerRunner struct {
	cli    *client.Client
	config Config
	logger *zap.Logger
}

// NewDockerRunner connects to the Docker daemon from the environment.
func NewDockerRunner(config Config, logger *zap.Logger) (*DockerRunner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Image == "" {
		config.Image = DefaultConfig().Image
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &DockerRunner{
		cli:    cli,
		config: config,
		logger: logger.With(zap.String("component", "sandbox")),
	}, nil
}

// Run implements Runner. The container is bounded by the configured
// timeout; exceeding it is reported as a sandbox timeout error, which the
// evaluator records as a failed evaluation rather than a hang.
func (r *DockerRunner) Run(ctx context.Context, code string, input Input) (*Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	payload, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshal sandbox input: %w", err)
	}

	cfg := &container.Config{
		Image:        r.config.Image,
		Cmd:          []string{"python", "-c", buildHarness(code)},
		OpenStdin:    true,
		StdinOnce:    true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Labels:       map[string]string{"agentlens.sandbox": "true"},
	}
	hostCfg := &container.HostConfig{
		NetworkMode:    "none",
		ReadonlyRootfs: true,
		AutoRemove:     false,
		Resources:      container.Resources{Memory: r.config.MemoryBytes},
	}

	created, err := r.cli.ContainerCreate(ctx, cfg, hostCfg, &network.NetworkingConfig{}, nil, "")
	if err != nil {
		return nil, fmt.Errorf("create sandbox container: %w", err)
	}
	defer func() {
		// Removal runs on a fresh context so a timed-out run still cleans up.
		rmCtx, rmCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer rmCancel()
		if err := r.cli.ContainerRemove(rmCtx, created.ID, container.RemoveOptions{Force: true}); err != nil {
			r.logger.Warn("failed to remove sandbox container",
				zap.String("container_id", created.ID), zap.Error(err))
		}
	}()

	attach, err := r.cli.ContainerAttach(ctx, created.ID, container.AttachOptions{
		Stream: true, Stdin: true, Stdout: true, Stderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("attach sandbox container: %w", err)
	}
	defer attach.Close()

	if err := r.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("start sandbox container: %w", err)
	}

	if _, err := attach.Conn.Write(payload); err != nil {
		return nil, fmt.Errorf("write sandbox input: %w", err)
	}
	if err := attach.CloseWrite(); err != nil {
		return nil, fmt.Errorf("close sandbox stdin: %w", err)
	}

	var stdout, stderr bytes.Buffer
	copyDone := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader)
		copyDone <- err
	}()

	waitCh, waitErrCh := r.cli.ContainerWait(ctx, created.ID, container.WaitConditionNotRunning)
	select {
	case err := <-waitErrCh:
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, types.NewError(types.ErrSandboxTimeout,
				fmt.Sprintf("scoring code exceeded %s", r.config.Timeout))
		}
		return nil, fmt.Errorf("wait for sandbox container: %w", err)
	case <-waitCh:
	case <-ctx.Done():
		return nil, types.NewError(types.ErrSandboxTimeout,
			fmt.Sprintf("scoring code exceeded %s", r.config.Timeout))
	}

	select {
	case <-copyDone:
	case <-ctx.Done():
	}

	verdict, err := parseVerdict(stdout.String())
	if err != nil {
		// The container ran but printed no usable verdict, which means the
		// scoring code itself is broken (syntax error, top-level crash).
		// That is the metric author's problem, not an infrastructure one,
		// so it comes back as a verdict rather than an error.
		msg := err.Error()
		if stderr.Len() > 0 {
			msg += " (stderr: " + truncateStderr(stderr.String()) + ")"
		}
		return &Verdict{Passed: false, Error: msg}, nil
	}
	return verdict, nil
}

func truncateStderr(s string) string {
	const max = 1024
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

// Close releases the daemon client.
func (r *DockerRunner) Close() error {
	return r.cli.Close()
}
