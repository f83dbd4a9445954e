package graph

import (
	"github.com/msg555/tplbuild/internal/hashing"
	"github.com/msg555/tplbuild/internal/tplerr"
)

// PreVisitResult is returned by a PreVisit callback to control traversal.
type PreVisitResult struct {
	// Substitute, if non-nil, replaces node for the remainder of the
	// traversal; any edge into node discovered afterward is rewritten to
	// point at Substitute instead.
	Substitute Node
	// Skip, if true, prevents recursion into node's dependencies.
	Skip bool
}

// Visitor holds the pre/post callbacks driving Visit.
type Visitor struct {
	// Pre is called once per node before its dependencies are visited. It
	// may return a substitute node or request the subtree be skipped.
	Pre func(n Node) (PreVisitResult, error)
	// Post is called once per node (after substitution/skip resolution)
	// once all of its dependencies have been visited, in post-order.
	Post func(n Node) error
}

type visitState int

const (
	stateUnvisited visitState = iota
	stateOnStack
	stateDone
)

// Visit performs a recursive depth-first visitation over roots, with an
// on-stack state map for cycle detection. It recurses on the Go call
// stack; it does not keep an explicit frontier stack, so graph depth is
// bounded by goroutine stack size. It returns the (possibly
// substituted) roots and a substitution map recording every node
// replaced during the walk.
func Visit(roots []Node, v Visitor) ([]Node, map[Node]Node, error) {
	remapped := make(map[Node]Node)
	state := make(map[Node]visitState)

	var resolve func(n Node) Node
	resolve = func(n Node) Node {
		for {
			r, ok := remapped[n]
			if !ok {
				return n
			}
			n = r
		}
	}

	var visit func(n Node) (Node, error)
	visit = func(n Node) (Node, error) {
		n = resolve(n)

		switch state[n] {
		case stateDone:
			return n, nil
		case stateOnStack:
			return nil, tplerr.New(tplerr.KindGraph, "Cycle detected in graph")
		}

		state[n] = stateOnStack

		cur := n
		if v.Pre != nil {
			res, err := v.Pre(cur)
			if err != nil {
				return nil, err
			}
			if res.Substitute != nil && res.Substitute != cur {
				remapped[cur] = res.Substitute
				state[res.Substitute] = stateOnStack
				cur = res.Substitute
			}
			if res.Skip {
				state[cur] = stateDone
				if cur != n {
					state[n] = stateDone
				}
				if v.Post != nil {
					if err := v.Post(cur); err != nil {
						return nil, err
					}
				}
				return cur, nil
			}
		}

		deps := cur.Dependencies()
		newDeps := make([]Node, len(deps))
		changed := false
		for i, dep := range deps {
			resolvedDep, err := visit(dep)
			if err != nil {
				return nil, err
			}
			newDeps[i] = resolvedDep
			if resolvedDep != dep {
				changed = true
			}
		}
		if changed {
			cur.SetDependencies(newDeps)
		}

		state[cur] = stateDone
		if cur != n {
			state[n] = stateDone
		}

		if v.Post != nil {
			if err := v.Post(cur); err != nil {
				return nil, err
			}
		}
		return cur, nil
	}

	out := make([]Node, len(roots))
	for i, r := range roots {
		res, err := visit(r)
		if err != nil {
			return nil, nil, err
		}
		out[i] = res
	}
	return out, remapped, nil
}

// HashGraph computes, for every node reachable from roots, the recursive
// hash: hash(node) = HashValue([salt, tag, LocalHashData(symbolic),
// hash(dep1), ...]), memoized in the returned map. When symbolic is
// false this is the salted "full"/content hash.
func HashGraph(roots []Node, salt string, symbolic bool) (map[Node]string, error) {
	hashes := make(map[Node]string)

	v := Visitor{
		Post: func(n Node) error {
			if _, ok := hashes[n]; ok {
				return nil
			}
			payload, err := n.LocalHashData(symbolic)
			if err != nil {
				return err
			}
			parts := []interface{}{salt, nodeTagOf(n), payload}
			for _, dep := range n.Dependencies() {
				depHash, ok := hashes[dep]
				if !ok {
					return tplerr.New(tplerr.KindInternal, "dependency hashed after dependant")
				}
				parts = append(parts, depHash)
			}
			h, err := hashing.HashValue(parts)
			if err != nil {
				return err
			}
			hashes[n] = h
			return nil
		},
	}

	if _, _, err := Visit(roots, v); err != nil {
		return nil, err
	}
	return hashes, nil
}

// nodeTagOf exposes a Node's variant tag for hash payloads without
// making the interface's internal marker method public.
func nodeTagOf(n Node) string {
	return n.nodeTag()
}
