package executor

import (
	"slices"
	"strings"

	"github.com/msg555/tplbuild/internal/graph"
	"github.com/msg555/tplbuild/internal/planner"
	"github.com/msg555/tplbuild/internal/tplerr"
)

// TagEntry is one entry of a build operation's ordered tag plan: a tag
// name and whether it must be pushed.
type TagEntry struct {
	Tag  string
	Push bool
}

// RenderedOp is the executor's resolved view of one build operation:
// the Dockerfile-style document (or a sentinel for Context/MultiPlatform
// kinds that skip the builder), its tag plan, and display metadata.
// Translates executor.py's RenderedBuildOperation.
type RenderedOp struct {
	Op         *planner.BuildOperation
	Dockerfile string
	Tags       []TagEntry
	PrimaryTag string
	BuildTitle string
	BuildEmpty bool
}

// tagPlan builds the ordered tag→needs-push map for op: every stage's
// image-names first (push=false), then push-names (push=true,
// overwriting an existing false entry so a name listed both ways ends
// up true).
func tagPlan(op *planner.BuildOperation) []TagEntry {
	order := make([]string, 0)
	push := map[string]bool{}
	seen := map[string]bool{}
	for _, stage := range op.Stages {
		for _, name := range stage.ImageNames {
			if !seen[name] {
				seen[name] = true
				order = append(order, name)
				push[name] = false
			}
		}
	}
	for _, stage := range op.Stages {
		for _, name := range stage.PushNames {
			if !seen[name] {
				seen[name] = true
				order = append(order, name)
			}
			push[name] = true
		}
	}
	entries := make([]TagEntry, len(order))
	for i, name := range order {
		entries[i] = TagEntry{Tag: name, Push: push[name]}
	}
	return entries
}

// nameImage renders img's external name: its assigned primary tag if
// it's the output of a previously-rendered operation, otherwise the
// external form appropriate to its kind. Translates _name_image.
func (e *Executor) nameImage(img graph.Node, imageTagMap map[graph.Node]string) (string, error) {
	if tag, ok := imageTagMap[img]; ok {
		return tag, nil
	}
	switch n := img.(type) {
	case *graph.SourceNode:
		if n.Digest == "" {
			return "", tplerr.New(tplerr.KindInternal, "unresolved source image "+n.Repo)
		}
		return n.Repo + "@" + n.Digest, nil
	case *graph.BaseNode:
		return e.baseImageName(n)
	case *graph.ScratchNode:
		return "scratch", nil
	}
	return "", tplerr.New(tplerr.KindInternal, "unexpected image kind in nameImage")
}

// baseImageName renders a base node's external name: the configured
// repo expanded against (profile, stage, platform), suffixed with
// either its known digest or its content hash.
func (e *Executor) baseImageName(n *graph.BaseNode) (string, error) {
	repo, err := e.BaseRepo(n.Profile, n.Stage, n.Platform)
	if err != nil {
		return "", err
	}
	if n.Digest != "" {
		return repo + "@" + n.Digest, nil
	}
	if n.ContentHash == "" {
		return "", tplerr.New(tplerr.KindInternal, "base image "+n.Stage+" has neither digest nor content hash")
	}
	return repo + ":" + n.ContentHash, nil
}

// renderBuildOps computes the rendered document and tag plan for each
// operation in order, so later operations can reference earlier ones'
// assigned primary tags via imageTagMap. Translates render_build_ops.
func (e *Executor) renderBuildOps(ops []*planner.BuildOperation) ([]*RenderedOp, map[graph.Node]string, error) {
	titles, err := computeTitles(ops)
	if err != nil {
		return nil, nil, err
	}

	imageTagMap := map[graph.Node]string{}
	result := make([]*RenderedOp, len(ops))

	for i, op := range ops {
		tags := tagPlan(op)

		if _, ok := op.Image.(*graph.MultiPlatformNode); ok {
			result[i] = &RenderedOp{
				Op:         op,
				Dockerfile: "# Multi-arch image",
				Tags:       tags,
				PrimaryTag: "",
				BuildTitle: titles[i],
				BuildEmpty: true,
			}
			continue
		}

		primaryTag := ""
		if len(tags) > 0 {
			primaryTag = tags[0].Tag
		} else {
			primaryTag = e.transientTag()
		}

		if _, ok := op.Image.(*graph.ContextNode); ok {
			result[i] = &RenderedOp{
				Op:         op,
				Dockerfile: "# Shared context image",
				Tags:       tags,
				PrimaryTag: primaryTag,
				BuildTitle: titles[i],
				BuildEmpty: false,
			}
			imageTagMap[op.Image] = primaryTag
			continue
		}

		var lines []string
		img := op.Image
		for img != op.Root {
			switch n := img.(type) {
			case *graph.CommandNode:
				lines = append(lines, n.Verb+" "+n.Arg)
				img = n.Parent
			case *graph.CopyCommandNode:
				if ctxNode, ok := n.Context.(*graph.ContextNode); ok && op.InlineContext != nil && ctxNode == op.InlineContext {
					lines = append(lines, "COPY "+n.Arg)
				} else {
					name, err := e.nameImage(n.Context, imageTagMap)
					if err != nil {
						return nil, nil, err
					}
					lines = append(lines, "COPY --from="+name+" "+n.Arg)
				}
				img = n.Parent
			case *graph.BaseNode:
				// A rebuilding base (Inner != nil) contributes no Dockerfile
				// instruction of its own: it's the same build as its inner
				// chain, just retagged under the base's content-hash push
				// name by tagPlan. Unwrap transparently and keep walking.
				if n.Inner == nil {
					return nil, nil, tplerr.New(tplerr.KindInternal, "unexpected image type in build operation chain")
				}
				img = n.Inner
			default:
				return nil, nil, tplerr.New(tplerr.KindInternal, "unexpected image type in build operation chain")
			}
		}

		buildEmpty := len(lines) == 0
		rootName, err := e.nameImage(img, imageTagMap)
		if err != nil {
			return nil, nil, err
		}
		lines = append(lines, "FROM "+rootName)
		if e.DockerfileSyntax != "" {
			lines = append(lines, "# syntax="+e.DockerfileSyntax)
		}
		slices.Reverse(lines)

		result[i] = &RenderedOp{
			Op:         op,
			Dockerfile: strings.Join(lines, "\n"),
			Tags:       tags,
			PrimaryTag: primaryTag,
			BuildTitle: titles[i],
			BuildEmpty: buildEmpty,
		}
		if !buildEmpty {
			imageTagMap[op.Image] = primaryTag
		}
	}

	return result, imageTagMap, nil
}
