// Package executor drives the external container builder (C7):
// per-operation build/tag/push dispatch, multi-platform manifest-list
// assembly, and transient-tag lifecycle. Translates
// original_source/tplbuild/executor.py's BuildExecutor.
package executor

import (
	"bytes"
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/nozzle/throttler"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/msg555/tplbuild/internal/builder"
	"github.com/msg555/tplbuild/internal/fsctx"
	"github.com/msg555/tplbuild/internal/graph"
	"github.com/msg555/tplbuild/internal/output"
	"github.com/msg555/tplbuild/internal/planner"
	"github.com/msg555/tplbuild/internal/registry"
	"github.com/msg555/tplbuild/internal/resolver"
	"github.com/msg555/tplbuild/internal/scope"
	"github.com/msg555/tplbuild/internal/tplerr"
)

// CompleteCallback is invoked once per build operation, after its
// image (and any tags/pushes) are settled.
type CompleteCallback func(ctx context.Context, op *planner.BuildOperation, primaryTag string) error

// Executor carries a list of build operations through pre-pull, build,
// tag, push, and per-op completion, matching BuildExecutor's
// responsibilities.
type Executor struct {
	Client   *builder.Client
	Registry registry.Client
	Streamer *output.Streamer
	Log      *logrus.Entry

	// BaseRepo expands the configured base-image repository template
	// against a base node's (profile, stage, platform).
	BaseRepo func(profile, stage, platform string) (string, error)
	// DockerfileSyntax, if set, is prepended as a "# syntax=" directive
	// to every rendered non-empty Dockerfile document.
	DockerfileSyntax string

	// BuildJobs/PushJobs/TagJobs bound build, push/pull, and tag
	// concurrency respectively; see §5 "three counting semaphores".
	BuildJobs int
	PushJobs  int
	TagJobs   int
	// BuildRetry/PushRetry are additional attempts beyond the first.
	BuildRetry int
	PushRetry  int

	transientPrefix string

	// subImageTags is populated once, before any operation starts
	// running, with every node's assigned primary tag (the same map
	// renderBuildOps threads through COPY --from / FROM rendering). It
	// is read-only for the remainder of Build, so concurrent reads
	// during execution need no locking.
	subImageTags map[graph.Node]string

	pullGroup singleflight.Group
}

func (e *Executor) prefix() string {
	if e.transientPrefix != "" {
		return e.transientPrefix
	}
	return "tplbuild"
}

// transientTag allocates a fresh transient tag name of the form
// "<prefix>-<uuid>" for a build operation with no configured tags.
func (e *Executor) transientTag() string {
	return e.prefix() + "-" + uuid.NewString()
}

// Build carries every operation in ops (topologically sorted: every
// operation appears after its dependencies) through to completion.
// complete, if non-nil, is invoked once per operation with its
// assigned primary tag.
func (e *Executor) Build(ctx context.Context, ops []*planner.BuildOperation, complete CompleteCallback) error {
	rendered, imageTagMap, err := e.renderBuildOps(ops)
	if err != nil {
		return err
	}
	e.subImageTags = imageTagMap

	sc := scope.New(ctx, e.Log)

	var transientMu sync.Mutex
	var transient []string

	buildThrottle := throttler.New(maxConcurrency(e.BuildJobs), len(ops))
	pushThrottle := throttler.New(maxConcurrency(e.PushJobs), len(ops))
	tagThrottle := throttler.New(maxConcurrency(e.TagJobs), len(ops))

	done := make(map[*planner.BuildOperation]chan struct{}, len(ops))
	for _, op := range ops {
		done[op] = make(chan struct{})
	}

	for i, op := range ops {
		op, rop := op, rendered[i]
		sc.Go(func(taskCtx context.Context) error {
			opDone := done[op]
			markedDone := false
			markDone := func() {
				if !markedDone {
					markedDone = true
					close(opDone)
				}
			}
			defer markDone()

			for _, dep := range op.Dependencies {
				select {
				case <-done[dep]:
				case <-taskCtx.Done():
					return taskCtx.Err()
				}
			}

			if err := e.buildSingle(taskCtx, op, rop, buildThrottle, pushThrottle, tagThrottle, &transientMu, &transient, markDone); err != nil {
				return err
			}

			if complete != nil {
				return complete(taskCtx, op, rop.PrimaryTag)
			}
			return nil
		}, scope.SpawnOptions{PropagateError: true})
	}

	buildErr := sc.Close()

	transientMu.Lock()
	toRemove := append([]string(nil), transient...)
	transientMu.Unlock()

	var cleanupErr error
	for _, img := range toRemove {
		if err := e.Client.Untag(ctx, img); err != nil && cleanupErr == nil {
			cleanupErr = err
		}
	}
	if buildErr != nil {
		return buildErr
	}
	return cleanupErr
}

func maxConcurrency(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

// buildSingle dispatches one build operation by image kind and then
// applies its tag plan.
func (e *Executor) buildSingle(
	ctx context.Context,
	op *planner.BuildOperation,
	rop *RenderedOp,
	buildThrottle, pushThrottle, tagThrottle *throttler.Throttler,
	transientMu *sync.Mutex,
	transient *[]string,
	markDone func(),
) error {
	switch img := op.Image.(type) {
	case *graph.MultiPlatformNode:
		if err := e.buildMultiPlatform(ctx, img, rop, pushThrottle); err != nil {
			return err
		}
		markDone()
		return nil
	case *graph.ContextNode:
		if err := e.clientBuild(ctx, rop.PrimaryTag, "", []byte("FROM scratch\nCOPY . /\n"), img.Context, img.Platform, rop.BuildTitle, buildThrottle); err != nil {
			return err
		}
	default:
		if err := e.prePullRemoteDeps(ctx, op); err != nil {
			return err
		}
		var inlineCtx *fsctx.BuildContext
		if op.InlineContext != nil {
			inlineCtx = op.InlineContext.Context
		}
		platform, err := rootPlatform(op.Root)
		if err != nil {
			return err
		}
		if rop.BuildEmpty && e.Log != nil {
			// No new layers: e.g. a base image stage resolved straight to
			// its source/pull image with no build steps of its own. Still
			// built and tagged under its own name, just not usable as a
			// dependency-naming shortcut (renderBuildOps left it out of
			// imageTagMap).
			e.Log.WithField("title", rop.BuildTitle).Debug("build operation produces no new layers")
		}
		if err := e.clientBuild(ctx, rop.PrimaryTag, "", []byte(rop.Dockerfile), inlineCtx, platform, rop.BuildTitle, buildThrottle); err != nil {
			return err
		}
	}

	if len(rop.Tags) == 0 {
		transientMu.Lock()
		*transient = append(*transient, rop.PrimaryTag)
		transientMu.Unlock()
	}

	var pushTags []string
	for _, t := range rop.Tags {
		if t.Tag != rop.PrimaryTag {
			if err := e.tagImage(ctx, rop.PrimaryTag, t.Tag, tagThrottle); err != nil {
				return err
			}
		}
		if t.Push {
			pushTags = append(pushTags, t.Tag)
		}
	}

	// Tags are registered; dependents that reference this image by name
	// can now proceed. Pushes still need to finish before this
	// operation itself is considered complete, but they don't block
	// anything downstream in the build graph.
	markDone()

	for _, tag := range pushTags {
		if err := e.pushImage(ctx, tag, rop.BuildTitle, pushThrottle); err != nil {
			return err
		}
	}
	return nil
}

// rootPlatform derives the build platform string from a chain's root
// node (Scratch/Source/Base/Context all carry one).
func rootPlatform(root graph.Node) (string, error) {
	switch n := root.(type) {
	case *graph.ScratchNode:
		return n.Platform, nil
	case *graph.SourceNode:
		return n.Platform, nil
	case *graph.BaseNode:
		return n.Platform, nil
	case *graph.ContextNode:
		return n.Platform, nil
	}
	return "", tplerr.New(tplerr.KindInternal, "build chain root has no platform")
}

// prePullRemoteDeps pulls every remote (Source/Base) predecessor named
// in op's chain, including the chain root when it is remote. Pulls are
// deduplicated across
// concurrently-running build operations by a singleflight group keyed
// on image reference, matching the shared "remote_pull_coros" map.
func (e *Executor) prePullRemoteDeps(ctx context.Context, op *planner.BuildOperation) error {
	if e.Client.Config.Pull == nil {
		return nil
	}

	img := op.Image
	for img != op.Root {
		switch n := img.(type) {
		case *graph.CommandNode:
			img = n.Parent
		case *graph.CopyCommandNode:
			isInline := op.InlineContext != nil
			if ctxNode, ok := n.Context.(*graph.ContextNode); !(isInline && ok && ctxNode == op.InlineContext) {
				if err := e.pullIfRemote(ctx, n.Context); err != nil {
					return err
				}
			}
			img = n.Parent
		case *graph.BaseNode:
			if n.Inner == nil {
				return tplerr.New(tplerr.KindInternal, "unexpected node walking build chain")
			}
			img = n.Inner
		default:
			return tplerr.New(tplerr.KindInternal, "unexpected node walking build chain")
		}
	}
	return e.pullIfRemote(ctx, img)
}

func (e *Executor) pullIfRemote(ctx context.Context, n graph.Node) error {
	switch n.(type) {
	case *graph.SourceNode, *graph.BaseNode:
	default:
		// Context/Command/Copy/Scratch/MultiPlatform chain outputs are
		// either local build products already tagged by an earlier
		// operation, or pulled implicitly as the builder's own FROM.
		return nil
	}

	name, err := e.nameImage(n, e.subImageTags)
	if err != nil {
		return err
	}
	_, err, _ = e.pullGroup.Do(name, func() (interface{}, error) {
		return nil, e.pullImage(ctx, name, name)
	})
	return err
}

func (e *Executor) buildMultiPlatform(ctx context.Context, img *graph.MultiPlatformNode, rop *RenderedOp, pushThrottle *throttler.Throttler) error {
	for _, t := range rop.Tags {
		if !t.Push {
			return tplerr.New(tplerr.KindClient, "multi platform images only support push tags")
		}
	}

	for _, t := range rop.Tags {
		entries := make([]registry.ManifestListEntry, 0, len(img.Images))
		for pi, platform := range img.Platforms {
			subImage := img.Images[pi]
			subTag, ok := e.subImageTags[subImage]
			if !ok {
				return tplerr.New(tplerr.KindInternal, "multi platform sub-image has no assigned tag")
			}
			subRef := t.Tag + "-" + dashedPlatform(platform)
			if err := e.tagImage(ctx, subTag, subRef, nil); err != nil {
				return err
			}
			if err := e.pushImage(ctx, subRef, rop.BuildTitle+":"+platform, pushThrottle); err != nil {
				return err
			}
			osName, arch, variant, err := resolver.SplitPlatform(platform)
			if err != nil {
				return err
			}
			pushedImage, err := e.Registry.Image(ctx, subRef, "")
			if err != nil {
				return err
			}
			entries = append(entries, registry.ManifestListEntry{
				Image:   pushedImage,
				OS:      osName,
				Arch:    arch,
				Variant: variant,
			})
		}
		if err := e.Registry.WriteManifestList(ctx, t.Tag, entries); err != nil {
			return err
		}
	}
	return nil
}

func dashedPlatform(platform string) string {
	var b bytes.Buffer
	for _, r := range platform {
		if r == '/' {
			b.WriteByte('-')
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
