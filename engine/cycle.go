package engine

import (
	"github.com/ledgerwatch/ledgerstore/item"
)

// parentEdge records how a node was first reached during cycle
// detection, so a found cycle can be reconstructed by walking backward.
type parentEdge struct {
	from    item.Key
	refType item.RefType
}

// detectCycle runs a DFS from start over view's reference graph looking
// for a path back to an ancestor still on the DFS stack, the same
// visiting/visited/parent-map algorithm as original_source/ledgerstore's
// find_cycle: nodes are marked "visiting" on entry and "visited" on
// exit; a reference to a node still marked visiting closes a cycle,
// which is then reconstructed by walking the parent map backward from
// the closing node until the walk returns to it (not necessarily start:
// the cycle found may sit entirely among start's dependents) and
// reversing the result.
func detectCycle(view item.ReadView, start item.Key) ([]item.PathStep, error) {
	visiting := map[item.Key]bool{}
	visited := map[item.Key]bool{}
	parent := map[item.Key]parentEdge{}

	var cyclePoint item.Key
	var found bool

	var dfs func(cur item.Key) error
	dfs = func(cur item.Key) error {
		visiting[cur] = true
		it, ok, err := view.Load(cur)
		if err != nil {
			return err
		}
		if ok {
			for _, ref := range it.RefCache() {
				next := ref.Target
				if found {
					return nil
				}
				if visiting[next] {
					parent[next] = parentEdge{from: cur, refType: ref.RefType}
					cyclePoint = next
					found = true
					return nil
				}
				if visited[next] {
					continue
				}
				parent[next] = parentEdge{from: cur, refType: ref.RefType}
				if err := dfs(next); err != nil {
					return err
				}
				if found {
					return nil
				}
			}
		}
		visiting[cur] = false
		visited[cur] = true
		return nil
	}

	if err := dfs(start); err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	// Walk parent pointers backward from cyclePoint, collecting at each
	// step the node the edge departed FROM and the ref_type it left on
	// (so the result reads as "k2 via Dep, then k1 via Dep" — the order
	// a forward walk of the cycle would produce), until the walk loops
	// back to cyclePoint itself — the closing edge of the cycle — or
	// runs off the DFS tree (parent missing, meaning we reached a root
	// with nothing left to reconstruct). A bound on iterations guards
	// against an unexpected parent-map shape instead of looping forever.
	steps := []item.PathStep{}
	cur := cyclePoint
	seen := map[item.Key]bool{cyclePoint: true}
	for i := 0; i < len(parent)+1; i++ {
		edge, ok := parent[cur]
		if !ok {
			break
		}
		steps = append(steps, item.PathStep{Key: edge.from, RefType: edge.refType})
		cur = edge.from
		if cur == cyclePoint {
			break
		}
		if seen[cur] {
			break
		}
		seen[cur] = true
	}
	for i, j := 0, len(steps)-1; i < j; i, j = i+1, j-1 {
		steps[i], steps[j] = steps[j], steps[i]
	}
	return steps, nil
}
