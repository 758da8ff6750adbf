package ruleset

import "sort"

const (
	white = iota // not visited
	grey         // on the DFS stack
	black        // finished
)

// findCycles returns one path per back edge of the reference graph, as node
// lists that start and end with the same node. Nodes are visited in index
// order so results are deterministic.
func findCycles(edges [][]int) [][]int {
	color := make([]int, len(edges))
	var stack []int
	var cycles [][]int

	var visit func(n int)
	visit = func(n int) {
		color[n] = grey
		stack = append(stack, n)
		for _, m := range edges[n] {
			switch color[m] {
			case white:
				visit(m)
			case grey:
				start := len(stack) - 1
				for stack[start] != m {
					start--
				}
				cycle := append([]int(nil), stack[start:]...)
				cycles = append(cycles, append(cycle, m))
			}
		}
		stack = stack[:len(stack)-1]
		color[n] = black
	}

	for n := range edges {
		if color[n] == white {
			visit(n)
		}
	}
	return cycles
}

// closure returns roots plus every node reachable from them, sorted.
func closure(deps [][]int, roots []int) []int {
	seen := make([]bool, len(deps))
	var out []int
	var visit func(n int)
	visit = func(n int) {
		if seen[n] {
			return
		}
		seen[n] = true
		out = append(out, n)
		for _, m := range deps[n] {
			visit(m)
		}
	}
	for _, r := range roots {
		visit(r)
	}
	sort.Ints(out)
	return out
}

func sortedCopy(in []int) []int {
	out := append([]int(nil), in...)
	sort.Ints(out)
	return out
}
