package planner

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/msg555/tplbuild/internal/fsctx"
	"github.com/msg555/tplbuild/internal/graph"
)

func TestPlanFoldsSingleChainIntoOneOperation(t *testing.T) {
	scratch := &graph.ScratchNode{Platform: "linux/amd64"}
	cmd1 := &graph.CommandNode{Parent: scratch, Verb: "RUN", Arg: "echo a"}
	cmd2 := &graph.CommandNode{Parent: cmd1, Verb: "RUN", Arg: "echo b"}

	p := &Planner{}
	ops, err := p.Plan([]StageData{
		{Name: "final", Image: cmd2, ImageNames: []string{"myimage:latest"}},
	})
	require.NoError(t, err)
	require.Len(t, ops, 1)
	require.Same(t, scratch, ops[0].Root)
	require.Same(t, cmd2, ops[0].Image)
	require.Empty(t, ops[0].Dependencies)
	require.Len(t, ops[0].Stages, 1)
	require.Equal(t, "final", ops[0].Stages[0].Name)
}

func TestPlanSplitsOnMultipleDependants(t *testing.T) {
	scratch := &graph.ScratchNode{Platform: "linux/amd64"}
	base := &graph.CommandNode{Parent: scratch, Verb: "RUN", Arg: "echo base"}
	branchA := &graph.CommandNode{Parent: base, Verb: "RUN", Arg: "echo a"}
	branchB := &graph.CommandNode{Parent: base, Verb: "RUN", Arg: "echo b"}

	p := &Planner{}
	ops, err := p.Plan([]StageData{
		{Name: "a", Image: branchA, ImageNames: []string{"a:latest"}},
		{Name: "b", Image: branchB, ImageNames: []string{"b:latest"}},
	})
	require.NoError(t, err)

	// base is shared by two dependants so it cannot fold; it gets its own
	// operation that both branch operations depend on.
	require.Len(t, ops, 3)

	var baseOp, aOp, bOp *BuildOperation
	for _, op := range ops {
		switch op.Image {
		case base:
			baseOp = op
		case branchA:
			aOp = op
		case branchB:
			bOp = op
		}
	}
	require.NotNil(t, baseOp)
	require.NotNil(t, aOp)
	require.NotNil(t, bOp)
	require.Same(t, scratch, baseOp.Root)
	require.Len(t, aOp.Dependencies, 1)
	require.Same(t, baseOp, aOp.Dependencies[0])
	require.Len(t, bOp.Dependencies, 1)
	require.Same(t, baseOp, bOp.Dependencies[0])

	// baseOp must precede its dependants in the returned order.
	baseIdx, aIdx, bIdx := -1, -1, -1
	for i, op := range ops {
		switch op {
		case baseOp:
			baseIdx = i
		case aOp:
			aIdx = i
		case bOp:
			bIdx = i
		}
	}
	require.True(t, baseIdx < aIdx)
	require.True(t, baseIdx < bIdx)
}

func TestPlanNeverFoldsMultiPlatformChild(t *testing.T) {
	amd64Root := &graph.ScratchNode{Platform: "linux/amd64"}
	amd64Cmd := &graph.CommandNode{Parent: amd64Root, Verb: "RUN", Arg: "echo amd64"}
	arm64Root := &graph.ScratchNode{Platform: "linux/arm64"}
	arm64Cmd := &graph.CommandNode{Parent: arm64Root, Verb: "RUN", Arg: "echo arm64"}

	multi := &graph.MultiPlatformNode{
		Platforms: []string{"linux/amd64", "linux/arm64"},
		Images:    []graph.Node{amd64Cmd, arm64Cmd},
	}

	p := &Planner{}
	ops, err := p.Plan([]StageData{
		{Name: "app", Image: multi, PushNames: []string{"registry.example/app:latest"}},
	})
	require.NoError(t, err)

	// Both per-platform images must keep their own build operation (the
	// first/primary dependency used to be eligible to fold into the
	// aggregator, which would have silently dropped its build).
	var sawAmd64, sawArm64, sawMulti bool
	for _, op := range ops {
		switch op.Image {
		case amd64Cmd:
			sawAmd64 = true
		case arm64Cmd:
			sawArm64 = true
		case multi:
			sawMulti = true
		}
	}
	require.True(t, sawAmd64, "amd64 sub-image must have its own build operation")
	require.True(t, sawArm64, "arm64 sub-image must have its own build operation")
	require.True(t, sawMulti, "aggregator must have its own build operation")
}

func TestPlanInlinesSingleUseContext(t *testing.T) {
	bc, err := fsctx.NewBuildContext("", false, nil, nil)
	require.NoError(t, err)
	ctxNode := &graph.ContextNode{Context: bc, Platform: "linux/amd64"}
	scratch := &graph.ScratchNode{Platform: "linux/amd64"}
	copyCmd := &graph.CopyCommandNode{
		Parent:   scratch,
		Context:  ctxNode,
		Arg:      "COPY . .",
		Patterns: []string{"**"},
	}

	p := &Planner{}
	ops, err := p.Plan([]StageData{
		{Name: "app", Image: copyCmd, ImageNames: []string{"app:latest"}},
	})
	require.NoError(t, err)
	require.Len(t, ops, 1)
	require.Same(t, copyCmd, ops[0].Image)
	require.NotNil(t, ops[0].InlineContext)
	require.Same(t, ctxNode, ops[0].InlineContext)
	require.Empty(t, ops[0].Dependencies)
}

func TestPlanKeepsContextSeparateWhenSharedAcrossStages(t *testing.T) {
	bc, err := fsctx.NewBuildContext("", false, nil, nil)
	require.NoError(t, err)
	ctxNode := &graph.ContextNode{Context: bc, Platform: "linux/amd64"}
	scratch := &graph.ScratchNode{Platform: "linux/amd64"}
	copyA := &graph.CopyCommandNode{Parent: scratch, Context: ctxNode, Arg: "COPY a a", Patterns: []string{"a"}}
	copyB := &graph.CopyCommandNode{Parent: scratch, Context: ctxNode, Arg: "COPY b b", Patterns: []string{"b"}}

	p := &Planner{}
	ops, err := p.Plan([]StageData{
		{Name: "a", Image: copyA, ImageNames: []string{"a:latest"}},
		{Name: "b", Image: copyB, ImageNames: []string{"b:latest"}},
	})
	require.NoError(t, err)

	var ctxOp *BuildOperation
	for _, op := range ops {
		if op.Image == ctxNode {
			ctxOp = op
		}
	}
	require.NotNil(t, ctxOp, "context used by two stages must keep its own operation")
	for _, op := range ops {
		require.Nil(t, op.InlineContext)
	}
}
