// Package graph implements the image build graph's node taxonomy, its
// traversal/hashing primitives, and the canonicalization contract shared
// by the planner.
package graph

import (
	"github.com/msg555/tplbuild/internal/fsctx"
	"github.com/msg555/tplbuild/internal/tplerr"
)

// StageKey identifies a (stage, profile, platform) provenance triple.
type StageKey struct {
	Stage    string
	Profile  string
	Platform string
}

// StageSet is the set of stage descriptors a node is known to produce.
// It is carried by Command, CopyCommand, Context and MultiPlatform nodes
// so provenance survives canonicalization merges.
type StageSet map[StageKey]struct{}

func NewStageSet(keys ...StageKey) StageSet {
	s := make(StageSet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

// Union merges other into s in place.
func (s StageSet) Union(other StageSet) {
	for k := range other {
		s[k] = struct{}{}
	}
}

// Node is the tagged-union image node contract. Every non-leaf variant
// exposes an ordered dependency list (first entry is the "primary"
// parent) and a local-hash payload.
type Node interface {
	// Dependencies returns this node's ordered dependency list.
	Dependencies() []Node
	// SetDependencies rewrites the ordered dependency list; used by
	// traversal when a dependency is substituted.
	SetDependencies([]Node)
	// LocalHashData returns a JSON-shaped payload identifying this node
	// modulo its dependencies' hashes.
	LocalHashData(symbolic bool) (interface{}, error)
	// StageDescriptors returns this node's stage-descriptor set, or nil
	// for variants that don't carry one (Source, Base, Scratch).
	StageDescriptors() StageSet
	// MergeInto unions other's provenance into this node; called during
	// planner canonicalization when two nodes share a hash.
	MergeInto(other Node) error

	nodeTag() string
}

// CommandNode represents a single non-copy build instruction.
type CommandNode struct {
	Parent Node
	Verb   string
	Arg    string
	Stages StageSet
}

func (n *CommandNode) Dependencies() []Node     { return []Node{n.Parent} }
func (n *CommandNode) SetDependencies(d []Node) { n.Parent = d[0] }
func (n *CommandNode) StageDescriptors() StageSet { return n.Stages }
func (n *CommandNode) nodeTag() string          { return "Command" }

func (n *CommandNode) LocalHashData(symbolic bool) (interface{}, error) {
	return []interface{}{n.Verb, n.Arg}, nil
}

func (n *CommandNode) MergeInto(other Node) error {
	o, ok := other.(*CommandNode)
	if !ok {
		return tplerr.New(tplerr.KindInternal, "MergeInto: kind mismatch for Command")
	}
	if n.Stages == nil {
		n.Stages = NewStageSet()
	}
	n.Stages.Union(o.Stages)
	return nil
}

// CopyCommandNode represents a layer copying files from another context
// (either a file-context image or another build result).
type CopyCommandNode struct {
	Parent  Node
	Context Node
	Arg     string
	// Patterns are the source-path glob patterns named in Arg, used to
	// restrict the partial hash of a Context-backed source.
	Patterns []string
	Stages   StageSet
}

func (n *CopyCommandNode) Dependencies() []Node { return []Node{n.Parent, n.Context} }
func (n *CopyCommandNode) SetDependencies(d []Node) {
	n.Parent = d[0]
	n.Context = d[1]
}
func (n *CopyCommandNode) StageDescriptors() StageSet { return n.Stages }
func (n *CopyCommandNode) nodeTag() string            { return "CopyCommand" }

func (n *CopyCommandNode) LocalHashData(symbolic bool) (interface{}, error) {
	payload := []interface{}{n.Arg}
	if !symbolic {
		if ctxNode, ok := n.Context.(*ContextNode); ok {
			h, err := ctxNode.Context.PartialHash(n.Patterns)
			if err != nil {
				return nil, err
			}
			payload = append(payload, h)
		}
	}
	return payload, nil
}

func (n *CopyCommandNode) MergeInto(other Node) error {
	o, ok := other.(*CopyCommandNode)
	if !ok {
		return tplerr.New(tplerr.KindInternal, "MergeInto: kind mismatch for CopyCommand")
	}
	if n.Stages == nil {
		n.Stages = NewStageSet()
	}
	n.Stages.Union(o.Stages)
	return nil
}

// ContextNode wraps a build-context descriptor and a platform tag,
// representing a root image composed purely of files from disk.
type ContextNode struct {
	Context  *fsctx.BuildContext
	Platform string
	Stages   StageSet
}

func (n *ContextNode) Dependencies() []Node       { return nil }
func (n *ContextNode) SetDependencies(d []Node)   {}
func (n *ContextNode) StageDescriptors() StageSet { return n.Stages }
func (n *ContextNode) nodeTag() string            { return "Context" }

func (n *ContextNode) LocalHashData(symbolic bool) (interface{}, error) {
	var h string
	var err error
	if symbolic {
		h, err = n.Context.SymbolicHash()
	} else {
		h, err = n.Context.FullHash()
	}
	if err != nil {
		return nil, err
	}
	return []interface{}{h, n.Platform}, nil
}

func (n *ContextNode) MergeInto(other Node) error {
	o, ok := other.(*ContextNode)
	if !ok {
		return tplerr.New(tplerr.KindInternal, "MergeInto: kind mismatch for Context")
	}
	if n.Stages == nil {
		n.Stages = NewStageSet()
	}
	n.Stages.Union(o.Stages)
	return nil
}

// SourceNode is an externally published image referenced by repo:tag,
// pinned by digest once resolved.
type SourceNode struct {
	Repo     string
	Tag      string
	Platform string
	Digest   string // "" until resolved
}

func (n *SourceNode) Dependencies() []Node       { return nil }
func (n *SourceNode) SetDependencies(d []Node)   {}
func (n *SourceNode) StageDescriptors() StageSet { return nil }
func (n *SourceNode) nodeTag() string            { return "Source" }

func (n *SourceNode) LocalHashData(symbolic bool) (interface{}, error) {
	if symbolic {
		return []interface{}{n.Repo, n.Tag, n.Platform}, nil
	}
	if n.Digest == "" {
		return nil, tplerr.New(tplerr.KindInternal, "full hash of unresolved Source node "+n.Repo+":"+n.Tag)
	}
	return n.Digest, nil
}

func (n *SourceNode) MergeInto(other Node) error {
	_, ok := other.(*SourceNode)
	if !ok {
		return tplerr.New(tplerr.KindInternal, "MergeInto: kind mismatch for Source")
	}
	return nil
}

// BaseNode is a (profile, stage, platform) cached, content-addressed
// base image, optionally still carrying its inner image graph pending
// dereference.
type BaseNode struct {
	Profile     string
	Stage       string
	Platform    string
	Inner       Node   // non-nil until dereferenced/pruned away
	ContentHash string // "" until computed
	Digest      string // "" until known
}

func (n *BaseNode) Dependencies() []Node {
	if n.Inner == nil {
		return nil
	}
	return []Node{n.Inner}
}
func (n *BaseNode) SetDependencies(d []Node) {
	if len(d) == 0 {
		n.Inner = nil
		return
	}
	n.Inner = d[0]
}
func (n *BaseNode) StageDescriptors() StageSet { return nil }
func (n *BaseNode) nodeTag() string            { return "Base" }

func (n *BaseNode) LocalHashData(symbolic bool) (interface{}, error) {
	if symbolic {
		return []interface{}{n.Profile, n.Stage, n.Platform}, nil
	}
	if n.ContentHash == "" {
		return nil, tplerr.New(tplerr.KindInternal, "full hash of unresolved Base node "+n.Stage)
	}
	return n.ContentHash, nil
}

func (n *BaseNode) MergeInto(other Node) error {
	_, ok := other.(*BaseNode)
	if !ok {
		return tplerr.New(tplerr.KindInternal, "MergeInto: kind mismatch for Base")
	}
	return nil
}

// MultiPlatformNode maps platform to image; used only as a publish-time
// aggregator. Its children are ordered by platform for stable hashing.
type MultiPlatformNode struct {
	Platforms []string
	Images    []Node
	Stages    StageSet
}

func (n *MultiPlatformNode) Dependencies() []Node { return n.Images }
func (n *MultiPlatformNode) SetDependencies(d []Node) {
	n.Images = d
}
func (n *MultiPlatformNode) StageDescriptors() StageSet { return n.Stages }
func (n *MultiPlatformNode) nodeTag() string            { return "MultiPlatform" }

func (n *MultiPlatformNode) LocalHashData(symbolic bool) (interface{}, error) {
	return append([]string(nil), n.Platforms...), nil
}

func (n *MultiPlatformNode) MergeInto(other Node) error {
	o, ok := other.(*MultiPlatformNode)
	if !ok {
		return tplerr.New(tplerr.KindInternal, "MergeInto: kind mismatch for MultiPlatform")
	}
	if n.Stages == nil {
		n.Stages = NewStageSet()
	}
	n.Stages.Union(o.Stages)
	return nil
}

// ScratchNode represents the empty base image for a given platform.
type ScratchNode struct {
	Platform string
}

func (n *ScratchNode) Dependencies() []Node       { return nil }
func (n *ScratchNode) SetDependencies(d []Node)   {}
func (n *ScratchNode) StageDescriptors() StageSet { return nil }
func (n *ScratchNode) nodeTag() string            { return "Scratch" }

func (n *ScratchNode) LocalHashData(symbolic bool) (interface{}, error) {
	return n.Platform, nil
}

func (n *ScratchNode) MergeInto(other Node) error {
	_, ok := other.(*ScratchNode)
	if !ok {
		return tplerr.New(tplerr.KindInternal, "MergeInto: kind mismatch for Scratch")
	}
	return nil
}

// RefNode is a placeholder a renderer may use in place of a concrete
// predecessor image when the referenced image can't be known until
// every stage in a render pass has been produced: another stage's
// result by name, an external source image, or the scratch image. The
// coordinator's late-reference pass (§4.11) substitutes every RefNode
// reachable from a rendered stage's image, via Visit's Substitute, before
// any hashing or resolution begins. A RefNode that survives to hashing
// or merging means the substitution pass missed it or the name it named
// doesn't exist; both are bugs, not user errors.
type RefNode struct {
	// Stage names another rendered stage; the substituted node is that
	// stage's resolved Image.
	Stage string
	// Source, used when Stage == "", resolves to a SourceNode for this
	// repo:tag at Platform.
	Source string
	Tag    string
	// Scratch, used when Stage == "" and Source == "", resolves to a
	// ScratchNode for Platform.
	Scratch  bool
	Platform string
}

func (n *RefNode) Dependencies() []Node       { return nil }
func (n *RefNode) SetDependencies(d []Node)   {}
func (n *RefNode) StageDescriptors() StageSet { return nil }
func (n *RefNode) nodeTag() string            { return "Ref" }

func (n *RefNode) LocalHashData(symbolic bool) (interface{}, error) {
	return nil, tplerr.New(tplerr.KindInternal, "unresolved reference node "+n.describe()+" reached hashing")
}

func (n *RefNode) MergeInto(other Node) error {
	return tplerr.New(tplerr.KindInternal, "unresolved reference node "+n.describe()+" reached merge")
}

func (n *RefNode) describe() string {
	if n.Stage != "" {
		return "stage " + n.Stage
	}
	if n.Source != "" {
		return "source " + n.Source + ":" + n.Tag
	}
	return "scratch"
}
