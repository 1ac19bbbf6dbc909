package services

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cenkalti/backoff/v4"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"
)

// anonymousAuth is the encoded empty auth config sent with registry
// operations; registry authentication is out of scope.
var anonymousAuth = base64.URLEncoding.EncodeToString([]byte("{}"))

// DockerEngine wraps the container image lifecycle primitives the pipeline
// delegates to: pull, build, push, and ephemeral container runs. Every
// invocation writes its full tool output to a dedicated log file for
// postmortem inspection.
type DockerEngine struct {
	client *client.Client
	logger *zap.Logger
}

// NewDockerEngine creates a Docker engine client.
func NewDockerEngine(dockerHost string, logger *zap.Logger) (*DockerEngine, error) {
	cli, err := client.NewClientWithOpts(
		client.WithHost(dockerHost),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	return &DockerEngine{client: cli, logger: logger}, nil
}

// Close closes the underlying Docker client.
func (e *DockerEngine) Close() error {
	return e.client.Close()
}

// Client exposes the raw Docker client for collaborators that share the
// connection, such as the image probe.
func (e *DockerEngine) Client() *client.Client {
	return e.client
}

// PullImage pulls the image, retrying transient failures with exponential
// backoff, and records the pull output at logPath.
func (e *DockerEngine) PullImage(ctx context.Context, tag, logPath string) error {
	logFile, err := openLog(logPath)
	if err != nil {
		return err
	}
	defer logFile.Close()

	e.logger.Info("Pulling image", zap.String("tag", tag), zap.String("log", logPath))

	pull := func() error {
		body, err := e.client.ImagePull(ctx, tag, image.PullOptions{})
		if err != nil {
			return err
		}
		defer body.Close()
		return drainStream(body, logFile)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(pull, policy); err != nil {
		return fmt.Errorf("failed to pull %s (log at %s): %w", tag, logPath, err)
	}
	return nil
}

// BuildImage builds contextDir into an image named tag, recording the build
// output at logPath. The context directory must contain the Dockerfile.
func (e *DockerEngine) BuildImage(ctx context.Context, contextDir, tag, logPath string) error {
	logFile, err := openLog(logPath)
	if err != nil {
		return err
	}
	defer logFile.Close()

	buildContext, err := tarDirectory(contextDir)
	if err != nil {
		return fmt.Errorf("failed to archive build context: %w", err)
	}

	e.logger.Info("Building image",
		zap.String("tag", tag),
		zap.String("context", contextDir),
		zap.String("log", logPath),
	)

	resp, err := e.client.ImageBuild(ctx, buildContext, types.ImageBuildOptions{
		Dockerfile: "Dockerfile",
		Tags:       []string{tag},
		Remove:     true,
	})
	if err != nil {
		return fmt.Errorf("failed to start image build for %s: %w", tag, err)
	}
	defer resp.Body.Close()

	if err := drainStream(resp.Body, logFile); err != nil {
		return fmt.Errorf("image build of %s failed (log at %s): %w", tag, logPath, err)
	}
	return nil
}

// PushImage pushes the tag to its registry, recording output at logPath.
func (e *DockerEngine) PushImage(ctx context.Context, tag, logPath string) error {
	logFile, err := openLog(logPath)
	if err != nil {
		return err
	}
	defer logFile.Close()

	e.logger.Info("Pushing image", zap.String("tag", tag), zap.String("log", logPath))

	body, err := e.client.ImagePush(ctx, tag, image.PushOptions{RegistryAuth: anonymousAuth})
	if err != nil {
		return fmt.Errorf("failed to start push of %s: %w", tag, err)
	}
	defer body.Close()

	if err := drainStream(body, logFile); err != nil {
		return fmt.Errorf("push of %s failed (log at %s): %w", tag, logPath, err)
	}
	return nil
}

// RunOptions describes one ephemeral container invocation.
type RunOptions struct {
	Image   string
	Cmd     []string
	Env     []string
	Binds   []string // host:container volume bindings
	LogPath string
}

// RunContainer runs a command inside an ephemeral container with the given
// host directory bindings. A non-zero exit is a failure; the container's
// combined output is written to opts.LogPath either way.
func (e *DockerEngine) RunContainer(ctx context.Context, opts RunOptions) error {
	logFile, err := openLog(opts.LogPath)
	if err != nil {
		return err
	}
	defer logFile.Close()

	e.logger.Info("Running container",
		zap.String("image", opts.Image),
		zap.Strings("cmd", opts.Cmd),
		zap.String("log", opts.LogPath),
	)

	created, err := e.client.ContainerCreate(ctx,
		&container.Config{
			Image: opts.Image,
			Cmd:   opts.Cmd,
			Env:   opts.Env,
		},
		&container.HostConfig{
			Binds: opts.Binds,
		},
		nil, nil, "")
	if err != nil {
		return fmt.Errorf("failed to create container from %s: %w", opts.Image, err)
	}
	id := created.ID
	defer func() {
		_ = e.client.ContainerRemove(context.Background(), id, container.RemoveOptions{Force: true})
	}()

	if err := e.client.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %s: %w", id, err)
	}

	statusCh, errCh := e.client.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	var exitCode int64
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed waiting for container %s: %w", id, err)
		}
	case status := <-statusCh:
		exitCode = status.StatusCode
	}

	logs, err := e.client.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return fmt.Errorf("failed to fetch container logs for %s: %w", id, err)
	}
	defer logs.Close()
	if _, err := stdcopy.StdCopy(logFile, logFile, logs); err != nil {
		return fmt.Errorf("failed to write container log %s: %w", opts.LogPath, err)
	}

	if exitCode != 0 {
		return fmt.Errorf("container exited with status %d (log at %s)", exitCode, opts.LogPath)
	}
	return nil
}

// openLog creates the log file for one delegated invocation, truncating any
// previous attempt's output.
func openLog(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file %s: %w", path, err)
	}
	return f, nil
}

// drainStream copies a Docker JSON message stream to the log writer and
// surfaces any embedded error message as a failure.
func drainStream(r io.Reader, w io.Writer) error {
	dec := json.NewDecoder(r)
	for {
		var msg struct {
			Stream string `json:"stream"`
			Status string `json:"status"`
			Error  string `json:"error"`
		}
		if err := dec.Decode(&msg); err == io.EOF {
			return nil
		} else if err != nil {
			return fmt.Errorf("failed to decode tool output: %w", err)
		}
		if msg.Stream != "" {
			io.WriteString(w, msg.Stream)
		}
		if msg.Status != "" {
			io.WriteString(w, msg.Status+"\n")
		}
		if msg.Error != "" {
			io.WriteString(w, "ERROR: "+msg.Error+"\n")
			return fmt.Errorf("%s", msg.Error)
		}
	}
}

// tarDirectory archives a build context, skipping VCS metadata.
func tarDirectory(dir string) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	err := filepath.Walk(dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() && fi.Name() == ".git" {
			return filepath.SkipDir
		}

		relPath, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if relPath == "." {
			return nil
		}

		header, err := tar.FileInfoHeader(fi, fi.Name())
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(relPath)

		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if fi.IsDir() || !fi.Mode().IsRegular() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}
