package coordinator

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/msg555/tplbuild/internal/builddata"
	"github.com/msg555/tplbuild/internal/builder"
	"github.com/msg555/tplbuild/internal/config"
	"github.com/msg555/tplbuild/internal/executor"
	"github.com/msg555/tplbuild/internal/graph"
	"github.com/msg555/tplbuild/internal/output"
	"github.com/msg555/tplbuild/internal/planner"
	"github.com/msg555/tplbuild/internal/registry"
	"github.com/msg555/tplbuild/internal/resolver"
)

type staticRenderer struct {
	stages map[string]*RenderedStage
}

func (r *staticRenderer) Render(ctx context.Context, profile, platform string) (map[string]*RenderedStage, error) {
	return r.stages, nil
}

func newStore(t *testing.T) *builddata.Store {
	t.Helper()
	s, err := builddata.Load(filepath.Join(t.TempDir(), "build-data.json"))
	require.NoError(t, err)
	return s
}

func TestRenderResolvesStageReferenceToSharedNode(t *testing.T) {
	base := &graph.ContextNode{Platform: "linux/amd64"}
	app := &graph.CommandNode{
		Parent: &graph.RefNode{Stage: "base", Platform: "linux/amd64"},
		Verb:   "RUN", Arg: "make",
	}

	c := &Coordinator{
		Renderer: &staticRenderer{stages: map[string]*RenderedStage{
			"base": {Image: base},
			"app":  {Image: app},
		}},
	}

	stages, err := c.Render(context.Background(), "default", "linux/amd64")
	require.NoError(t, err)
	require.Same(t, stages["base"].Image, stages["app"].Image.(*graph.CommandNode).Parent)
}

func TestRenderResolvesScratchAndSourceRefs(t *testing.T) {
	scratchUser := &graph.CommandNode{Parent: &graph.RefNode{Scratch: true, Platform: "linux/amd64"}, Verb: "RUN", Arg: "x"}
	sourceUser := &graph.CommandNode{Parent: &graph.RefNode{Source: "docker.io/library/alpine", Tag: "3.19", Platform: "linux/amd64"}, Verb: "RUN", Arg: "y"}

	c := &Coordinator{
		Renderer: &staticRenderer{stages: map[string]*RenderedStage{
			"a": {Image: scratchUser},
			"b": {Image: sourceUser},
		}},
	}

	stages, err := c.Render(context.Background(), "default", "linux/amd64")
	require.NoError(t, err)

	_, ok := stages["a"].Image.(*graph.CommandNode).Parent.(*graph.ScratchNode)
	require.True(t, ok)

	src, ok := stages["b"].Image.(*graph.CommandNode).Parent.(*graph.SourceNode)
	require.True(t, ok)
	require.Equal(t, "docker.io/library/alpine", src.Repo)
	require.Equal(t, "3.19", src.Tag)
}

func TestRenderDetectsUnknownStageReference(t *testing.T) {
	app := &graph.CommandNode{Parent: &graph.RefNode{Stage: "missing"}, Verb: "RUN", Arg: "x"}
	c := &Coordinator{
		Renderer: &staticRenderer{stages: map[string]*RenderedStage{"app": {Image: app}}},
	}
	_, err := c.Render(context.Background(), "default", "linux/amd64")
	require.Error(t, err)
}

type perPlatformRenderer struct {
	stages map[string]map[string]*RenderedStage
}

func (r *perPlatformRenderer) Render(ctx context.Context, profile, platform string) (map[string]*RenderedStage, error) {
	return r.stages[platform], nil
}

func TestRenderMultiPlatformWrapsEachStagePerPlatform(t *testing.T) {
	amd64Root := &graph.ScratchNode{Platform: "linux/amd64"}
	arm64Root := &graph.ScratchNode{Platform: "linux/arm64"}
	single := &graph.ScratchNode{Platform: "linux/amd64"}

	c := &Coordinator{
		Renderer: &perPlatformRenderer{stages: map[string]map[string]*RenderedStage{
			"linux/amd64": {
				"app":    {Image: amd64Root, PushNames: []string{"registry.example/app:latest"}},
				"helper": {Image: single},
			},
			"linux/arm64": {
				"app": {Image: arm64Root, PushNames: []string{"registry.example/app:latest"}},
			},
		}},
	}

	stages, err := c.RenderMultiPlatform(context.Background(), "default", []string{"linux/amd64", "linux/arm64"}, ResolveOptions{})
	require.NoError(t, err)

	app, ok := stages["app"].Image.(*graph.MultiPlatformNode)
	require.True(t, ok)
	require.Equal(t, []string{"linux/amd64", "linux/arm64"}, app.Platforms)
	require.Equal(t, []graph.Node{amd64Root, arm64Root}, app.Images)
	require.Equal(t, []string{"registry.example/app:latest"}, stages["app"].PushNames)
	require.Empty(t, stages["app"].ImageNames)

	// helper only appears under one platform: it collapses back to the
	// bare image instead of staying wrapped in a one-element aggregator.
	require.Same(t, single, stages["helper"].Image)
}

func TestRenderMultiPlatformRejectsMismatchedPushNames(t *testing.T) {
	c := &Coordinator{
		Renderer: &perPlatformRenderer{stages: map[string]map[string]*RenderedStage{
			"linux/amd64": {"app": {Image: &graph.ScratchNode{Platform: "linux/amd64"}, PushNames: []string{"a:latest"}}},
			"linux/arm64": {"app": {Image: &graph.ScratchNode{Platform: "linux/arm64"}, PushNames: []string{"b:latest"}}},
		}},
	}
	_, err := c.RenderMultiPlatform(context.Background(), "default", []string{"linux/amd64", "linux/arm64"}, ResolveOptions{})
	require.Error(t, err)
}

type missingRegistry struct{}

func (missingRegistry) LookupDescriptor(ctx context.Context, ref string) (*remote.Descriptor, bool, error) {
	return nil, false, nil
}
func (missingRegistry) Image(ctx context.Context, ref string, platform string) (v1.Image, error) {
	panic("not used")
}
func (missingRegistry) WriteManifestList(ctx context.Context, ref string, entries []registry.ManifestListEntry) error {
	panic("not used")
}
func (missingRegistry) DeleteRef(ctx context.Context, ref string) error { return nil }

func TestResolveFillsSourceDigestFromCache(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.SetSource("docker.io/library/alpine", "3.19", "linux/amd64", "sha256:abc"))

	src := &graph.SourceNode{Repo: "docker.io/library/alpine", Tag: "3.19", Platform: "linux/amd64"}
	stages := map[string]*RenderedStage{"app": {Image: src}}

	cfg := config.DefaultTplConfig()
	c := &Coordinator{
		Resolver:  &resolver.Resolver{Store: store, Registry: missingRegistry{}, Log: logrus.NewEntry(logrus.New())},
		TplConfig: &cfg,
	}

	err := c.Resolve(context.Background(), stages, ResolveOptions{})
	require.NoError(t, err)
	require.Equal(t, "sha256:abc", src.Digest)
}

func TestResolveAppendsPushNameWhenBaseRebuilds(t *testing.T) {
	store := newStore(t)

	inner := &graph.ScratchNode{Platform: "linux/amd64"}
	base := &graph.BaseNode{Profile: "default", Stage: "builder", Platform: "linux/amd64", Inner: inner}
	stages := map[string]*RenderedStage{
		"builder": {Image: base, Base: base},
	}

	cfg := config.DefaultTplConfig()
	baseImageName := "registry.example/{stage_name}"
	cfg.BaseImageName = &baseImageName
	c := &Coordinator{
		Resolver:  &resolver.Resolver{Store: store, Registry: missingRegistry{}, Log: logrus.NewEntry(logrus.New())},
		TplConfig: &cfg,
	}

	err := c.Resolve(context.Background(), stages, ResolveOptions{})
	require.NoError(t, err)

	require.NotEmpty(t, base.ContentHash)
	require.Len(t, stages["builder"].PushNames, 1)
	require.Equal(t, "registry.example/builder:"+base.ContentHash, stages["builder"].PushNames[0])
}

func TestPlanConvertsRenderedStagesToOperations(t *testing.T) {
	root := &graph.ScratchNode{Platform: "linux/amd64"}
	stages := map[string]*RenderedStage{
		"app": {Image: root, ImageNames: []string{"local/app:latest"}},
	}

	c := &Coordinator{Planner: &planner.Planner{}}
	ops, err := c.Plan(stages)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	require.Equal(t, "local/app:latest", ops[0].Stages[0].ImageNames[0])
}

type descRegistry struct {
	digest string
}

func (d *descRegistry) LookupDescriptor(ctx context.Context, ref string) (*remote.Descriptor, bool, error) {
	return &remote.Descriptor{Descriptor: v1.Descriptor{Digest: v1.Hash{Algorithm: "sha256", Hex: d.digest}}}, true, nil
}
func (d *descRegistry) Image(ctx context.Context, ref string, platform string) (v1.Image, error) {
	return nil, nil
}
func (d *descRegistry) WriteManifestList(ctx context.Context, ref string, entries []registry.ManifestListEntry) error {
	return nil
}
func (d *descRegistry) DeleteRef(ctx context.Context, ref string) error { return nil }

func TestBuildRecordsBaseImageCompletion(t *testing.T) {
	store := newStore(t)
	reg := &descRegistry{digest: "deadbeef"}

	exec := &executor.Executor{
		Client: builder.New(builder.Config{
			Build: builder.Command{Args: []string{"true"}},
			Tag:   builder.Command{Args: []string{"true"}},
			Push:  builder.Command{Args: []string{"true"}},
			Untag: builder.Command{Args: []string{"true"}},
		}),
		Streamer: output.New(&bytes.Buffer{}, false),
		Registry: reg,
		BaseRepo: func(profile, stage, platform string) (string, error) {
			return "registry.example/" + stage, nil
		},
	}

	c := &Coordinator{Store: store, Registry: reg, Executor: exec}

	root := &graph.ScratchNode{Platform: "linux/amd64"}
	base := &graph.BaseNode{Profile: "default", Stage: "builder", Platform: "linux/amd64", ContentHash: "hash123"}
	op := &planner.BuildOperation{
		Image: root,
		Root:  root,
		Stages: []planner.StageData{
			{Name: "builder", ImageNames: []string{"registry.example/builder:hash123"}, Base: base},
		},
	}

	err := c.Build(context.Background(), []*planner.BuildOperation{op})
	require.NoError(t, err)

	rec, ok := store.LookupBase("default", "builder", "linux/amd64")
	require.True(t, ok)
	require.Equal(t, "hash123", rec.BuildHash)
	require.Equal(t, "sha256:deadbeef", rec.ImageDigest)
}
