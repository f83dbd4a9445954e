// Package planner implements canonicalization and build-operation
// grouping (§4.6): it folds a rendered image graph into the smallest
// set of builder invocations that reproduce it, merging duplicate
// subgraphs and inlining single-use build contexts.
package planner

import (
	"github.com/msg555/tplbuild/internal/graph"
	"github.com/msg555/tplbuild/internal/tplerr"
)

// StageData is one named result of rendering: the final image for a
// (stage, profile, platform), plus the local/push tag names the user
// configured for it and, if the stage declares itself a base, the
// Base node tracking its cache state.
type StageData struct {
	Name       string
	Image      graph.Node
	ImageNames []string
	PushNames  []string
	Base       *graph.BaseNode
}

// BuildOperation is one build-operation work unit: the chain of nodes
// from Image back to (but not including) Root belongs to this unit.
type BuildOperation struct {
	Image         graph.Node
	Root          graph.Node
	InlineContext *graph.ContextNode
	Stages        []StageData
	Dependencies  []*BuildOperation
}

type depEdge struct {
	idx   int
	image graph.Node
}

// orderedOps is an insertion-ordered set of *BuildOperation.
type orderedOps struct {
	order []*BuildOperation
	seen  map[*BuildOperation]struct{}
}

func (s *orderedOps) add(op *BuildOperation) {
	if s.seen == nil {
		s.seen = map[*BuildOperation]struct{}{}
	}
	if _, ok := s.seen[op]; ok {
		return
	}
	s.seen[op] = struct{}{}
	s.order = append(s.order, op)
}

func (s *orderedOps) len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// depEdgeSet is an insertion-ordered, deduplicated set of reverse
// dependency edges. Deduplication matters: canonicalization can visit
// the same merged node's dependants more than once (see graph.Visit's
// re-Post on substitution) and the edge set must stay idempotent under
// that, exactly as it must in the node-hash memoization it's built on.
type depEdgeSet struct {
	order []depEdge
	seen  map[depEdge]struct{}
}

func (s *depEdgeSet) add(e depEdge) {
	if s.seen == nil {
		s.seen = map[depEdge]struct{}{}
	}
	if _, ok := s.seen[e]; ok {
		return
	}
	s.seen[e] = struct{}{}
	s.order = append(s.order, e)
}

// Planner groups a rendered image graph into build operations.
type Planner struct{}

// Plan converts the given stage results into a topologically-ordered
// list of build operations (each operation appears after everything it
// depends on). stages may be a subset of everything rendered; any
// required dependency stage is still built, just without its own tags.
func (p *Planner) Plan(stages []StageData) ([]*BuildOperation, error) {
	var stageData []StageData
	for _, s := range stages {
		if len(s.ImageNames) > 0 || len(s.PushNames) > 0 {
			stageData = append(stageData, s)
		}
	}

	stageImages := make([]graph.Node, len(stageData))
	for i, s := range stageData {
		stageImages[i] = s.Image
	}

	hashMapping, err := graph.HashGraph(stageImages, "", true)
	if err != nil {
		return nil, err
	}

	canonicalImage := map[string]graph.Node{}
	reverseDeps := map[graph.Node]*depEdgeSet{}

	markDeps := func(image graph.Node) error {
		for idx, dep := range image.Dependencies() {
			s := reverseDeps[dep]
			if s == nil {
				s = &depEdgeSet{}
				reverseDeps[dep] = s
			}
			s.add(depEdge{idx: idx, image: image})
		}
		return nil
	}

	canonicalRoots, _, err := graph.Visit(stageImages, graph.Visitor{
		Pre: func(n graph.Node) (graph.PreVisitResult, error) {
			h, ok := hashMapping[n]
			if !ok {
				return graph.PreVisitResult{}, tplerr.New(tplerr.KindInternal, "node missing symbolic hash during canonicalization")
			}
			canon, ok := canonicalImage[h]
			if !ok {
				canonicalImage[h] = n
				return graph.PreVisitResult{}, nil
			}
			if canon == n {
				return graph.PreVisitResult{}, nil
			}
			if err := canon.MergeInto(n); err != nil {
				return graph.PreVisitResult{}, err
			}
			return graph.PreVisitResult{Substitute: canon}, nil
		},
		Post: func(n graph.Node) error {
			return markDeps(n)
		},
	})
	if err != nil {
		return nil, err
	}

	stagesByImage := map[graph.Node][]StageData{}
	for i, s := range stageData {
		img := canonicalRoots[i]
		stagesByImage[img] = append(stagesByImage[img], s)
	}

	buildOps := map[graph.Node]*BuildOperation{}
	var postOrder []graph.Node
	ctxDependants := map[*BuildOperation]*orderedOps{}
	otherDependants := map[*BuildOperation]*orderedOps{}

	createOp := func(image graph.Node) error {
		deps := reverseDeps[image]
		stagesForImage := stagesByImage[image]
		_, isMultiPlatform := image.(*graph.MultiPlatformNode)

		foldCandidate := len(stagesForImage) == 0 && !isMultiPlatform &&
			deps != nil && len(deps.order) == 1 && deps.order[0].idx == 0
		if foldCandidate {
			_, parentIsMultiPlatform := deps.order[0].image.(*graph.MultiPlatformNode)
			foldCandidate = !parentIsMultiPlatform
		}
		if foldCandidate {
			// Mid-chain image with a single primary dependant: folds into
			// that dependant's build operation instead of getting its own.
			// MultiPlatform aggregators never fold (they are a publish-time
			// seam, not a regular chain link) and never let a per-platform
			// sub-image fold into them either: buildMultiPlatform expects
			// every platform's image to already have its own finished,
			// tagged build operation to read a subImageTags entry from.
			return nil
		}

		root := image
		ctxDeps := &orderedOps{}
		otherDeps := &orderedOps{}
		for {
			if op, ok := buildOps[root]; ok {
				otherDeps.add(op)
				break
			}
			if cc, ok := root.(*graph.CopyCommandNode); ok {
				ctxOp, ok := buildOps[cc.Context]
				if !ok {
					return tplerr.New(tplerr.KindInternal, "copy-command context has no build operation")
				}
				ctxDeps.add(ctxOp)
				root = cc.Parent
				continue
			}
			rootDeps := root.Dependencies()
			if len(rootDeps) == 0 {
				break
			}
			for _, dep := range rootDeps[1:] {
				depOp, ok := buildOps[dep]
				if !ok {
					return tplerr.New(tplerr.KindInternal, "non-primary dependency has no build operation")
				}
				otherDeps.add(depOp)
			}
			root = rootDeps[0]
		}

		op := &BuildOperation{
			Image:  image,
			Root:   root,
			Stages: stagesForImage,
		}
		for _, d := range ctxDeps.order {
			op.Dependencies = append(op.Dependencies, d)
		}
		for _, d := range otherDeps.order {
			if !opIn(op.Dependencies, d) {
				op.Dependencies = append(op.Dependencies, d)
			}
		}

		for _, d := range ctxDeps.order {
			s := ctxDependants[d]
			if s == nil {
				s = &orderedOps{}
				ctxDependants[d] = s
			}
			s.add(op)
		}
		for _, d := range otherDeps.order {
			s := otherDependants[d]
			if s == nil {
				s = &orderedOps{}
				otherDependants[d] = s
			}
			s.add(op)
		}

		buildOps[image] = op
		postOrder = append(postOrder, image)
		return nil
	}

	if _, _, err := graph.Visit(canonicalRoots, graph.Visitor{
		Post: createOp,
	}); err != nil {
		return nil, err
	}

	removed := &orderedOps{}
	for _, image := range postOrder {
		op := buildOps[image]
		switch image.(type) {
		case *graph.BaseNode, *graph.SourceNode:
			if len(op.Stages) == 0 {
				removed.add(op)
				continue
			}
		}
		if ctxNode, ok := image.(*graph.ContextNode); ok {
			if otherDependants[op].len() == 0 && ctxDependants[op].len() == 1 {
				dependant := ctxDependants[op].order[0]
				if dependant.InlineContext == nil {
					dependant.InlineContext = ctxNode
					removed.add(op)
				}
			}
		}
	}

	result := make([]*BuildOperation, 0, len(postOrder))
	for _, image := range postOrder {
		op := buildOps[image]
		if _, ok := removed.seen[op]; ok {
			continue
		}
		filtered := op.Dependencies[:0:0]
		for _, dep := range op.Dependencies {
			if _, ok := removed.seen[dep]; ok {
				continue
			}
			filtered = append(filtered, dep)
		}
		op.Dependencies = filtered
		result = append(result, op)
	}
	return result, nil
}

func opIn(ops []*BuildOperation, op *BuildOperation) bool {
	for _, o := range ops {
		if o == op {
			return true
		}
	}
	return false
}
