package executor

import (
	"sort"
	"strings"

	"github.com/msg555/tplbuild/internal/graph"
	"github.com/msg555/tplbuild/internal/planner"
	"github.com/msg555/tplbuild/internal/resolver"
)

// trieNode is a small ordered trie used to fold a build operation's
// stage names/profiles/platforms into a single human-readable title,
// collapsing runs that share every remaining path component into a
// "{a,b}" brace group. Translates executor.py's _construct_title /
// _compute_titles.
type trieNode map[string]trieNode

func (n trieNode) insert(parts []string) {
	cur := n
	for _, p := range parts {
		next, ok := cur[p]
		if !ok {
			next = trieNode{}
			cur[p] = next
		}
		cur = next
	}
}

// construct renders the trie at the given separator depth. seps[i] is
// the separator used between a node at depth i and its children;
// depths beyond len(seps) repeat the last separator.
func construct(n trieNode, seps string, depth int) string {
	if len(n) == 0 {
		return ""
	}

	type child struct {
		key   string
		value string
	}
	children := make([]child, 0, len(n))
	for k, v := range n {
		children = append(children, child{k, construct(v, seps, depth+1)})
	}
	sort.Slice(children, func(i, j int) bool {
		if children[i].key != children[j].key {
			return children[i].key < children[j].key
		}
		return children[i].value < children[j].value
	})

	sep := string(seps[len(seps)-1])
	if depth < len(seps) {
		sep = string(seps[depth])
	}

	if len(children) == 1 {
		return children[0].key + sep + children[0].value
	}

	allSame := true
	for _, c := range children[1:] {
		if c.value != children[0].value {
			allSame = false
			break
		}
	}
	if allSame {
		keys := make([]string, len(children))
		for i, c := range children {
			keys[i] = c.key
		}
		return "{" + strings.Join(keys, ",") + "}" + sep + children[0].value
	}

	parts := make([]string, len(children))
	for i, c := range children {
		part := c.key
		if c.value != "" {
			part += sep + c.value[:len(c.value)-1]
		}
		parts[i] = "{" + part + "}"
	}
	return strings.Join(parts, ",") + sep
}

// computeTitles assigns a title to each build operation, grounded on
// the union of every operation's stage descriptors: names always
// appear, profile is added only if more than one profile is present
// across all operations, and os/arch (with variant) are added only if
// more than one platform is present and the operation isn't itself a
// MultiPlatform aggregator (which already spans every platform).
func computeTitles(ops []*planner.BuildOperation) ([]string, error) {
	allProfiles := map[string]struct{}{}
	allPlatforms := map[string]struct{}{}
	for _, op := range ops {
		for key := range op.Image.StageDescriptors() {
			allProfiles[key.Profile] = struct{}{}
			allPlatforms[key.Platform] = struct{}{}
		}
	}

	seps := ":/"
	if len(allProfiles) > 1 {
		seps = "::/"
	}

	titles := make([]string, len(ops))
	for i, op := range ops {
		descs := op.Image.StageDescriptors()
		_, isMultiPlatform := op.Image.(*graph.MultiPlatformNode)

		root := trieNode{}
		for key := range descs {
			parts := []string{key.Stage}
			if len(allProfiles) > 1 {
				parts = append(parts, key.Profile)
			}
			if len(allPlatforms) > 1 && !isMultiPlatform {
				osName, arch, variant, err := resolver.SplitPlatform(key.Platform)
				if err != nil {
					return nil, err
				}
				if variant != "" {
					arch = arch + "/" + variant
				}
				parts = append(parts, osName, arch)
			}
			root.insert(parts)
		}

		if len(root) == 0 {
			titles[i] = "intermediate"
			continue
		}
		// construct always ends in one trailing separator byte (the
		// deepest node's children are empty, contributing ""); drop it,
		// mirroring _compute_titles's unconditional [:-1].
		rendered := construct(root, seps, 0)
		if rendered != "" {
			rendered = rendered[:len(rendered)-1]
		}
		titles[i] = rendered
	}
	return titles, nil
}
