package executor

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/msg555/tplbuild/internal/graph"
	"github.com/msg555/tplbuild/internal/planner"
)

func opWithStages(stages graph.StageSet) *planner.BuildOperation {
	return &planner.BuildOperation{
		Image: &graph.CommandNode{Stages: stages},
	}
}

func TestComputeTitlesSingleStageNoBraces(t *testing.T) {
	ops := []*planner.BuildOperation{
		opWithStages(graph.NewStageSet(graph.StageKey{Stage: "app", Profile: "default", Platform: "linux/amd64"})),
	}
	titles, err := computeTitles(ops)
	require.NoError(t, err)
	require.Equal(t, []string{"app"}, titles)
}

func TestComputeTitlesGroupsSharedSuffixIntoBraces(t *testing.T) {
	ops := []*planner.BuildOperation{
		opWithStages(graph.NewStageSet(
			graph.StageKey{Stage: "app", Profile: "p1", Platform: "linux/amd64"},
			graph.StageKey{Stage: "app", Profile: "p2", Platform: "linux/amd64"},
		)),
		opWithStages(graph.NewStageSet(
			graph.StageKey{Stage: "app", Profile: "p2", Platform: "linux/amd64"},
			graph.StageKey{Stage: "app", Profile: "p1", Platform: "linux/amd64"},
		)),
	}
	titles, err := computeTitles(ops)
	require.NoError(t, err)
	require.Equal(t, "app:{p1,p2}", titles[0])
	require.Equal(t, titles[0], titles[1])
}

func TestComputeTitlesIncludesPlatformWhenMultiple(t *testing.T) {
	ops := []*planner.BuildOperation{
		opWithStages(graph.NewStageSet(
			graph.StageKey{Stage: "app", Profile: "default", Platform: "linux/amd64"},
		)),
		opWithStages(graph.NewStageSet(
			graph.StageKey{Stage: "app", Profile: "default", Platform: "linux/arm64"},
		)),
	}
	titles, err := computeTitles(ops)
	require.NoError(t, err)
	require.Contains(t, titles[0], "linux")
}

func TestComputeTitlesIntermediateNodeHasNoStages(t *testing.T) {
	ops := []*planner.BuildOperation{
		opWithStages(nil),
	}
	titles, err := computeTitles(ops)
	require.NoError(t, err)
	require.Equal(t, []string{"intermediate"}, titles)
}
