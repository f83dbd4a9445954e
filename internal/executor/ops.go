package executor

import (
	"bytes"
	"context"
	"io"

	"github.com/nozzle/throttler"

	"github.com/msg555/tplbuild/internal/fsctx"
	"github.com/msg555/tplbuild/internal/output"
	"github.com/msg555/tplbuild/internal/pipe"
	"github.com/msg555/tplbuild/internal/tplerr"
)

// buildContextPipeCapacity bounds how much of a streamed build context
// tar archive is held in memory at once; the archive writer goroutine
// blocks once the builder subprocess falls this far behind.
const buildContextPipeCapacity = 1 << 20

// acquire blocks on t (if non-nil) until a job slot is free. Throttle
// both claims the slot and registers a listener for the matching
// Done call, so the returned release func must always run exactly
// once, with the operation's outcome, even when t is nil.
func acquire(t *throttler.Throttler) func(err error) {
	if t == nil {
		return func(error) {}
	}
	t.Throttle()
	return t.Done
}

// retry runs fn up to 1+attempts times, returning the last attempt's
// error. Only the final attempt's failure is surfaced, matching
// executor.py's retry_count handling.
func retry(attempts int, fn func() error) error {
	var err error
	for i := 0; i <= attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
	}
	return err
}

// clientBuild runs the configured builder on dockerfile, piped to its
// stdin as-is or, when buildCtx is non-nil, streamed as a tar of that
// context with dockerfile added at path "Dockerfile" (mode 0444),
// retrying on failure up to BuildRetry additional attempts.
func (e *Executor) clientBuild(
	ctx context.Context,
	image string,
	_ string,
	dockerfile []byte,
	buildCtx *fsctx.BuildContext,
	platform string,
	title string,
	pool *throttler.Throttler,
) (err error) {
	release := acquire(pool)
	defer func() { release(err) }()

	var stream *output.Stream
	if e.Streamer != nil {
		stream = e.Streamer.Start(title)
	}

	err = retry(e.BuildRetry, func() error {
		var input io.Reader
		var archiveErr chan error
		if buildCtx != nil {
			archiveCtx := *buildCtx
			archiveCtx.ExtraFiles = make(map[string]fsctx.ExtraFile, len(buildCtx.ExtraFiles)+1)
			for name, xf := range buildCtx.ExtraFiles {
				archiveCtx.ExtraFiles[name] = xf
			}
			archiveCtx.ExtraFiles["Dockerfile"] = fsctx.ExtraFile{Mode: 0o444, Data: dockerfile}
			p := pipe.New(buildContextPipeCapacity)
			archiveErr = make(chan error, 1)
			go func() {
				err := archiveCtx.WriteArchive(p, false)
				p.Close()
				archiveErr <- err
			}()
			input = p.NewReader()
		} else {
			input = bytes.NewReader(dockerfile)
		}

		buildErr := e.Client.Build(ctx, image, platform, input, stream)
		if archiveErr != nil {
			if archErr := <-archiveErr; archErr != nil && buildErr == nil {
				return tplerr.Wrap(tplerr.KindContext, archErr, "build archive for "+title)
			}
		}
		return buildErr
	})
	return err
}

func (e *Executor) tagImage(ctx context.Context, source, target string, pool *throttler.Throttler) (err error) {
	release := acquire(pool)
	defer func() { release(err) }()
	err = e.Client.Tag(ctx, source, target)
	return err
}

func (e *Executor) pushImage(ctx context.Context, image, title string, pool *throttler.Throttler) (err error) {
	release := acquire(pool)
	defer func() { release(err) }()

	var stream *output.Stream
	if e.Streamer != nil {
		stream = e.Streamer.Start(title)
	}
	err = retry(e.PushRetry, func() error {
		return e.Client.Push(ctx, image, stream)
	})
	return err
}

func (e *Executor) pullImage(ctx context.Context, image, title string) error {
	var stream *output.Stream
	if e.Streamer != nil {
		stream = e.Streamer.Start(title)
	}
	return retry(e.PushRetry, func() error {
		return e.Client.Pull(ctx, image, stream)
	})
}
