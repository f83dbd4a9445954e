// Package coordinator implements the top-level composition root (§4.11):
// render -> late-reference resolution -> resolve -> plan -> build,
// owning the build-data store, resolver, planner, executor, and
// registry client for one project.
//
// It translates original_source/tplbuild/tplbuild.py's TplBuild, the
// way the teacher's own pkg/promoter/promoter.go composes a
// Promoter/promoterImplementation out of its constituent subsystems
// behind a single struct with ordered lifecycle methods.
package coordinator

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/msg555/tplbuild/internal/builddata"
	"github.com/msg555/tplbuild/internal/config"
	"github.com/msg555/tplbuild/internal/executor"
	"github.com/msg555/tplbuild/internal/graph"
	"github.com/msg555/tplbuild/internal/planner"
	"github.com/msg555/tplbuild/internal/registry"
	"github.com/msg555/tplbuild/internal/resolver"
	"github.com/msg555/tplbuild/internal/tplerr"
)

// RenderedStage is one named result of a render pass: the final image
// graph.Node (possibly still containing graph.RefNode placeholders),
// the tag names the project configuration assigns it, and, for stages
// declared as base images, the graph.BaseNode tracking its cache state.
type RenderedStage struct {
	Image      graph.Node
	ImageNames []string
	PushNames  []string
	Base       *graph.BaseNode
}

// Renderer is the external collaborator that expands the user's
// template into a stage map for one (profile, platform) pair. Template
// expansion itself is out of scope (§1's explicit non-goal); the
// coordinator only consumes whatever graph this produces. A Renderer
// may leave graph.RefNode placeholders in place of predecessors it
// cannot resolve until every stage has rendered (another stage's
// result, an external source, or scratch); Render substitutes them.
type Renderer interface {
	Render(ctx context.Context, profile, platform string) (map[string]*RenderedStage, error)
}

// Coordinator is the single struct holding every subsystem handle for
// one project: build-data store, resolver, planner, executor, registry
// client, and parsed configuration.
type Coordinator struct {
	UserConfig *config.UserConfig
	TplConfig  *config.TplConfig
	Store      *builddata.Store
	Resolver   *resolver.Resolver
	Planner    *planner.Planner
	Executor   *executor.Executor
	Registry   registry.Client
	Renderer   Renderer
	Log        *logrus.Entry
}

// Render runs the configured Renderer for (profile, platform) and
// resolves every graph.RefNode reachable from the result: "scratch"
// becomes a graph.ScratchNode, a named external source becomes a
// graph.SourceNode, and a reference to another stage is replaced by
// that stage's own (already-resolved) Image, so the same node is
// shared across every stage that names it — the mechanism by which
// independently-rendered stages become one connected DAG.
func (c *Coordinator) Render(ctx context.Context, profile, platform string) (map[string]*RenderedStage, error) {
	stages, err := c.Renderer.Render(ctx, profile, platform)
	if err != nil {
		return nil, err
	}

	resolved := map[string]graph.Node{}
	var resolveStage func(name string, seen map[string]bool) (graph.Node, error)
	resolveStage = func(name string, seen map[string]bool) (graph.Node, error) {
		if img, ok := resolved[name]; ok {
			return img, nil
		}
		stage, ok := stages[name]
		if !ok {
			return nil, tplerr.New(tplerr.KindGraph, "reference to unknown stage "+name)
		}
		if seen[name] {
			return nil, tplerr.New(tplerr.KindGraph, "cycle resolving stage reference "+name)
		}
		seen[name] = true

		v := graph.Visitor{
			Pre: func(n graph.Node) (graph.PreVisitResult, error) {
				ref, ok := n.(*graph.RefNode)
				if !ok {
					return graph.PreVisitResult{}, nil
				}
				switch {
				case ref.Stage != "":
					sub, err := resolveStage(ref.Stage, seen)
					if err != nil {
						return graph.PreVisitResult{}, err
					}
					return graph.PreVisitResult{Substitute: sub, Skip: true}, nil
				case ref.Source != "":
					return graph.PreVisitResult{
						Substitute: &graph.SourceNode{Repo: ref.Source, Tag: ref.Tag, Platform: ref.Platform},
						Skip:       true,
					}, nil
				default:
					return graph.PreVisitResult{Substitute: &graph.ScratchNode{Platform: ref.Platform}, Skip: true}, nil
				}
			},
		}
		roots, _, err := graph.Visit([]graph.Node{stage.Image}, v)
		if err != nil {
			return nil, err
		}
		resolved[name] = roots[0]
		stage.Image = roots[0]
		delete(seen, name)
		return roots[0], nil
	}

	for name := range stages {
		if _, err := resolveStage(name, map[string]bool{}); err != nil {
			return nil, err
		}
	}
	return stages, nil
}

// ResolveOptions controls the resolve phase.
type ResolveOptions struct {
	ForceUpdateSources bool
	CheckOnly          bool
}

// Resolve walks every stage's image graph, resolving SourceNode digests
// and BaseNode content hashes/digests in place (§4.5), via a post-order
// graph.Visit so a base's inner dependencies resolve before the base
// node that references them.
func (c *Coordinator) Resolve(ctx context.Context, stages map[string]*RenderedStage, opts ResolveOptions) error {
	roots := make([]graph.Node, 0, len(stages))
	for _, s := range stages {
		roots = append(roots, s.Image)
	}

	baseRepoCache := map[[3]string]string{}
	baseRepo := func(profile, stage, platform string) (string, error) {
		key := [3]string{profile, stage, platform}
		if repo, ok := baseRepoCache[key]; ok {
			return repo, nil
		}
		repo, ok, err := c.TplConfig.RenderBaseRepo(stage, profile, platform)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", tplerr.New(tplerr.KindConfiguration, "base image "+stage+" requires base_image_name to be configured")
		}
		baseRepoCache[key] = repo
		return repo, nil
	}

	rebuilt := map[*graph.BaseNode]string{}

	v := graph.Visitor{
		Post: func(n graph.Node) error {
			switch node := n.(type) {
			case *graph.SourceNode:
				return c.Resolver.ResolveSource(ctx, node, resolver.SourceOptions{
					ForceUpdate: opts.ForceUpdateSources,
					CheckOnly:   opts.CheckOnly,
				})
			case *graph.BaseNode:
				repo, err := baseRepo(node.Profile, node.Stage, node.Platform)
				if err != nil {
					return err
				}
				rebuilds, err := c.Resolver.ResolveBase(ctx, node, repo, resolver.BaseOptions{
					Dereference: node.Inner != nil,
				})
				if err != nil {
					return err
				}
				if rebuilds {
					// §4.5 step 4: the rebuilt base's content-hash tag is its
					// own push target, so the planner keeps its build
					// operation instead of pruning a nameless base stage
					// (plan.go's stage filter/pruning) and the executor
					// actually uploads it.
					rebuilt[node] = repo + ":" + node.ContentHash
				}
				return nil
			}
			return nil
		},
	}
	if _, _, err := graph.Visit(roots, v); err != nil {
		return err
	}

	for _, s := range stages {
		if s.Base == nil {
			continue
		}
		if name, ok := rebuilt[s.Base]; ok {
			s.PushNames = append(s.PushNames, name)
		}
	}
	return nil
}

// RenderMultiPlatform renders and resolves profile once per platform
// and wraps every stage's per-platform image in a graph.MultiPlatformNode,
// matching cmd/publish.py's multi_stage_mapping assembly: each stage's
// local image-names are dropped (a manifest list only carries push
// names; executor.buildMultiPlatform rejects anything else), and a
// stage present under only one platform collapses back to that bare
// image instead of staying wrapped. Every platform must agree on a
// stage's push names.
func (c *Coordinator) RenderMultiPlatform(ctx context.Context, profile string, platforms []string, opts ResolveOptions) (map[string]*RenderedStage, error) {
	if len(platforms) == 0 {
		return nil, tplerr.New(tplerr.KindConfiguration, "no platforms configured to publish")
	}

	multi := map[string]*RenderedStage{}
	nodes := map[string]*graph.MultiPlatformNode{}

	for _, platform := range platforms {
		stages, err := c.Render(ctx, profile, platform)
		if err != nil {
			return nil, err
		}
		if err := c.Resolve(ctx, stages, opts); err != nil {
			return nil, err
		}

		for name, s := range stages {
			existing, ok := multi[name]
			if !ok {
				mp := &graph.MultiPlatformNode{
					Platforms: []string{platform},
					Images:    []graph.Node{s.Image},
					Stages:    graph.NewStageSet(graph.StageKey{Stage: name, Profile: profile, Platform: "*"}),
				}
				nodes[name] = mp
				multi[name] = &RenderedStage{
					Image:     mp,
					PushNames: s.PushNames,
					Base:      s.Base,
				}
				continue
			}
			if !equalNames(existing.PushNames, s.PushNames) {
				return nil, tplerr.New(tplerr.KindConfiguration, "push names must match for all platforms for stage "+name)
			}
			mp := nodes[name]
			mp.Platforms = append(mp.Platforms, platform)
			mp.Images = append(mp.Images, s.Image)
		}
	}

	for name, mp := range nodes {
		if len(mp.Images) == 1 {
			multi[name].Image = mp.Images[0]
		}
	}
	return multi, nil
}

func equalNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Plan converts the rendered/resolved stage map into a topologically
// ordered list of build operations (§4.6), translating the stage
// results' image-names/push-names into planner.StageData.
func (c *Coordinator) Plan(stages map[string]*RenderedStage) ([]*planner.BuildOperation, error) {
	stageData := make([]planner.StageData, 0, len(stages))
	for name, s := range stages {
		stageData = append(stageData, planner.StageData{
			Name:       name,
			Image:      s.Image,
			ImageNames: s.ImageNames,
			PushNames:  s.PushNames,
			Base:       s.Base,
		})
	}
	return c.Planner.Plan(stageData)
}

// Build drives the executor over ops, and on every completed operation
// that produced a base image, looks up its pushed descriptor on the
// registry and records (build_hash, image_digest) in the build-data
// store, matching §4.11 step 4.
func (c *Coordinator) Build(ctx context.Context, ops []*planner.BuildOperation) error {
	return c.Executor.Build(ctx, ops, func(ctx context.Context, op *planner.BuildOperation, primaryTag string) error {
		for _, stage := range op.Stages {
			if stage.Base == nil {
				continue
			}
			base := stage.Base
			desc, ok, err := c.Registry.LookupDescriptor(ctx, primaryTag)
			if err != nil {
				return err
			}
			if !ok {
				return tplerr.New(tplerr.KindRegistry, fmt.Sprintf("base image %s pushed as %s but registry lookup found nothing", base.Stage, primaryTag))
			}
			if err := c.Store.SetBase(base.Profile, base.Stage, base.Platform, builddata.BaseRecord{
				BuildHash:   base.ContentHash,
				ImageDigest: desc.Digest.String(),
			}); err != nil {
				return err
			}
			if c.Log != nil {
				c.Log.WithFields(logrus.Fields{
					"stage":   base.Stage,
					"profile": base.Profile,
					"digest":  desc.Digest.String(),
				}).Info("recorded base image build record")
			}
		}
		return nil
	})
}
