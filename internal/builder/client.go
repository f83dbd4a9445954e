package builder

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os/exec"
	"strings"

	"github.com/msg555/tplbuild/internal/output"
	"github.com/msg555/tplbuild/internal/tplerr"
)

// Client drives the configured Config's commands as subprocesses,
// translating executor.py's client_build/tag_image/untag_image/
// pull_image/push_image/platform methods (their semaphore acquisition
// and retry loop live one layer up, in the executor).
type Client struct {
	Config Config
}

// New constructs a Client.
func New(cfg Config) *Client {
	return &Client{Config: cfg}
}

// run renders cmd against params and runs it, copying its stdout/
// stderr line-by-line to stream (if non-nil) and writing input to its
// stdin (if non-nil). It returns captured stdout for callers that need
// the output value (platform detection).
func run(ctx context.Context, cmd Command, params map[string]string, input io.Reader, stream *output.Stream) ([]byte, error) {
	args, env, err := cmd.Render(params)
	if err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return nil, tplerr.New(tplerr.KindConfiguration, "empty command")
	}

	proc := exec.CommandContext(ctx, args[0], args[1:]...)
	if len(env) > 0 {
		proc.Env = append(proc.Environ(), env...)
	}
	if input != nil {
		proc.Stdin = input
	}

	var captured bytes.Buffer
	stdout, err := proc.StdoutPipe()
	if err != nil {
		return nil, tplerr.Wrap(tplerr.KindClient, err, "open stdout pipe")
	}
	stderr, err := proc.StderrPipe()
	if err != nil {
		return nil, tplerr.Wrap(tplerr.KindClient, err, "open stderr pipe")
	}

	if err := proc.Start(); err != nil {
		return nil, tplerr.Wrap(tplerr.KindClient, err, "start "+args[0])
	}

	done := make(chan struct{}, 2)
	copyLines := func(r io.Reader, isErr bool) {
		defer func() { done <- struct{}{} }()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if !isErr {
				captured.Write(line)
				captured.WriteByte('\n')
			}
			if stream != nil {
				stream.Write(line)
			}
		}
	}
	go copyLines(stdout, false)
	go copyLines(stderr, true)
	<-done
	<-done

	if err := proc.Wait(); err != nil {
		return captured.Bytes(), tplerr.Wrap(tplerr.KindClient, err, strings.Join(args, " "))
	}
	return captured.Bytes(), nil
}

// Build runs the configured build command (or BuildPlatform, if set
// and platform is non-empty) with input piped to its stdin.
func (c *Client) Build(ctx context.Context, image, platform string, input io.Reader, stream *output.Stream) error {
	cmd := c.Config.Build
	params := map[string]string{"image": image}
	if platform != "" && c.Config.BuildPlatform != nil {
		cmd = *c.Config.BuildPlatform
		params["platform"] = platform
	}
	_, err := run(ctx, cmd, params, input, stream)
	return err
}

// Tag runs the configured tag command.
func (c *Client) Tag(ctx context.Context, sourceImage, targetImage string) error {
	_, err := run(ctx, c.Config.Tag, map[string]string{
		"source_image": sourceImage,
		"target_image": targetImage,
	}, nil, nil)
	return err
}

// Untag runs the configured untag command.
func (c *Client) Untag(ctx context.Context, image string) error {
	_, err := run(ctx, c.Config.Untag, map[string]string{"image": image}, nil, nil)
	return err
}

// Pull runs the configured pull command. Callers must check
// c.Config.Pull != nil first; pulling is otherwise left to the
// builder itself.
func (c *Client) Pull(ctx context.Context, image string, stream *output.Stream) error {
	if c.Config.Pull == nil {
		return tplerr.New(tplerr.KindInternal, "pull command not configured")
	}
	_, err := run(ctx, *c.Config.Pull, map[string]string{"image": image}, nil, stream)
	return err
}

// Push runs the configured push command.
func (c *Client) Push(ctx context.Context, image string, stream *output.Stream) error {
	_, err := run(ctx, c.Config.Push, map[string]string{"image": image}, nil, stream)
	return err
}

// Platform runs the configured platform command and returns its
// trimmed stdout, or "" if no platform command is configured.
func (c *Client) Platform(ctx context.Context) (string, error) {
	if c.Config.Platform == nil {
		return "", nil
	}
	out, err := run(ctx, *c.Config.Platform, nil, nil, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
