// Package jsonrender implements coordinator.Renderer by reading a
// pre-rendered stage graph from a JSON document on disk.
//
// Template expansion itself (variable substitution, control flow over
// a templated build specification) is out of this repository's scope,
// the way the engineering kernel treats it as an external collaborator
// (SPEC_FULL.md's ambient-stack introduction). This package is the
// hand-off point: whatever produced the expanded per-(profile,
// platform) stage graph — a template engine, or a human hand-writing
// one for a simple project — serializes it to this JSON shape, and the
// coordinator takes it from there.
package jsonrender

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/msg555/tplbuild/internal/config"
	"github.com/msg555/tplbuild/internal/coordinator"
	"github.com/msg555/tplbuild/internal/graph"
	"github.com/msg555/tplbuild/internal/linescan"
	"github.com/msg555/tplbuild/internal/tplerr"
)

// FromSpec names one stage's predecessor image.
type FromSpec struct {
	Stage   string `json:"stage,omitempty"`
	Source  string `json:"source,omitempty"`
	Tag     string `json:"tag,omitempty"`
	Context string `json:"context,omitempty"`
	Scratch bool   `json:"scratch,omitempty"`
}

// StepSpec is one build instruction. From names the stage this step
// copies out of, for a COPY step that reaches across stages
// ("COPY --from=<stage>"); empty for every other verb, and for a COPY
// that copies from the stage's own build context.
type StepSpec struct {
	Verb string `json:"verb"`
	Arg  string `json:"arg"`
	From string `json:"from,omitempty"`
}

// StageSpec is one stage's literal (already-expanded) definition.
type StageSpec struct {
	From       FromSpec   `json:"from"`
	Steps      []StepSpec `json:"steps"`
	Base       bool       `json:"base,omitempty"`
	ImageNames []string   `json:"image_names,omitempty"`
	PushNames  []string   `json:"push_names,omitempty"`
}

// Document is the on-disk shape: every stage of one (profile, platform)
// render, keyed by stage name.
type Document struct {
	Profile  string               `json:"profile"`
	Platform string               `json:"platform"`
	Stages   map[string]StageSpec `json:"stages"`
}

// Renderer loads Document from Path and builds its graph.
type Renderer struct {
	Path      string
	TplConfig *config.TplConfig
}

func (r *Renderer) Render(ctx context.Context, profile, platform string) (map[string]*coordinator.RenderedStage, error) {
	data, err := os.ReadFile(r.Path)
	if err != nil {
		return nil, tplerr.Wrap(tplerr.KindConfiguration, err, "read rendered stage document "+r.Path)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, tplerr.Wrap(tplerr.KindTemplate, err, "parse rendered stage document "+r.Path)
	}
	if doc.Profile != "" && doc.Profile != profile {
		return nil, tplerr.New(tplerr.KindTemplate, "rendered document is for profile "+doc.Profile+", not "+profile)
	}
	if doc.Platform != "" && doc.Platform != platform {
		return nil, tplerr.New(tplerr.KindTemplate, "rendered document is for platform "+doc.Platform+", not "+platform)
	}

	stages := make(map[string]*coordinator.RenderedStage, len(doc.Stages))
	for name, spec := range doc.Stages {
		img, err := r.buildFrom(spec.From, platform)
		if err != nil {
			return nil, err
		}

		stageKeys := graph.NewStageSet(graph.StageKey{Stage: name, Profile: profile, Platform: platform})
		for _, step := range spec.Steps {
			if strings.EqualFold(step.Verb, "COPY") && step.From != "" {
				img = &graph.CopyCommandNode{
					Parent:   img,
					Context:  &graph.RefNode{Stage: step.From, Platform: platform},
					Arg:      step.Arg,
					Patterns: copySourcePatterns(step.Arg),
					Stages:   stageKeys,
				}
				continue
			}
			img = &graph.CommandNode{Parent: img, Verb: step.Verb, Arg: step.Arg, Stages: stageKeys}
		}

		var base *graph.BaseNode
		if spec.Base {
			base = &graph.BaseNode{Profile: profile, Stage: name, Platform: platform, Inner: img}
			img = base
		}

		imageNames, pushNames, err := r.stageNames(name, profile, platform, spec)
		if err != nil {
			return nil, err
		}

		stages[name] = &coordinator.RenderedStage{
			Image:      img,
			ImageNames: imageNames,
			PushNames:  pushNames,
			Base:       base,
		}
	}
	return stages, nil
}

// copySourcePatterns extracts the source glob patterns from a COPY
// step's argument string: every flag (--chown=, --chmod=, ...) is
// stripped via linescan's flag extractor, leaving source paths and the
// destination; every token but the last is a source pattern.
func copySourcePatterns(arg string) []string {
	rest, _ := linescan.ExtractFlags(arg)
	fields := strings.Fields(rest)
	if len(fields) <= 1 {
		return nil
	}
	return append([]string(nil), fields[:len(fields)-1]...)
}

func (r *Renderer) buildFrom(f FromSpec, platform string) (graph.Node, error) {
	switch {
	case f.Stage != "":
		return &graph.RefNode{Stage: f.Stage, Platform: platform}, nil
	case f.Source != "":
		return &graph.RefNode{Source: f.Source, Tag: f.Tag, Platform: platform}, nil
	case f.Context != "":
		cc, ok := r.TplConfig.Contexts[f.Context]
		if !ok {
			return nil, tplerr.New(tplerr.KindConfiguration, "unknown context "+f.Context)
		}
		bc, err := cc.NewBuildContext()
		if err != nil {
			return nil, err
		}
		return &graph.ContextNode{Context: bc, Platform: platform}, nil
	default:
		return &graph.RefNode{Scratch: true, Platform: platform}, nil
	}
}

// stageNames resolves a stage's final image/push tag names: an explicit
// per-stage override from StageConfig wins, then the names the stage
// document itself lists, otherwise the project's
// stage_image_name/stage_push_name templates apply. A base-image stage
// gets neither; the coordinator assigns its name from base_image_name
// once resolved.
func (r *Renderer) stageNames(name, profile, platform string, spec StageSpec) ([]string, []string, error) {
	if spec.Base {
		return nil, nil, nil
	}
	if stageCfg, ok := r.TplConfig.Stages[name]; ok && (len(stageCfg.ImageNames) > 0 || len(stageCfg.PushNames) > 0) {
		return stageCfg.ImageNames, stageCfg.PushNames, nil
	}
	if len(spec.ImageNames) > 0 || len(spec.PushNames) > 0 {
		return spec.ImageNames, spec.PushNames, nil
	}
	image, push, err := r.TplConfig.RenderStageNames(name, profile, platform)
	if err != nil {
		return nil, nil, err
	}
	return []string{image}, []string{push}, nil
}
