package defect

import (
	mapset "github.com/deckarep/golang-set/v2"
)

// cycleChecked reports whether a link type participates in cycle prevention.
// duplicate_of and caused_by chains are followed transitively (to find the
// canonical defect or the root cause), so a cycle in either subgraph would
// make those walks spin. related_to and blocks are advisory edges and are
// exempt.
func cycleChecked(t LinkType) bool {
	return t == LinkDuplicateOf || t == LinkCausedBy
}

// wouldCreateCycle reports whether adding source -> target closes a cycle in
// the subgraph described by adjacency: true when target already reaches
// source, or when the link is a self-loop.
func wouldCreateCycle(adjacency map[string][]string, source, target string) bool {
	if source == target {
		return true
	}
	visited := mapset.NewSet[string]()
	stack := []string{target}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if node == source {
			return true
		}
		if !visited.Add(node) {
			continue
		}
		stack = append(stack, adjacency[node]...)
	}
	return false
}
