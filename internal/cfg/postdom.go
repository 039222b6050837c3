// Post-dominator tree computation, adapted from
// overkam-code-property-graph/cdg.go's Cooper-Harvey-Kennedy iterative
// algorithm. The teacher runs this over go/ssa basic blocks; here it runs
// directly over this package's own CFG node successor/predecessor lists,
// since the algorithm itself is generic graph theory untied to go/ssa
// internals (SPEC_FULL.md §9 supplemental feature, not named in spec.md).
package cfg

// PostDominators computes, for every node, its immediate post-dominator:
// the nearest node through which every path from it to an exit must pass.
// Each exit node is recorded as its own post-dominator.
func PostDominators(c *CFG) map[string]string {
	order := reversePostorderFromExits(c)
	idx := make(map[string]int, len(order))
	for i, id := range order {
		idx[id] = i
	}

	ipdom := make(map[string]int, len(order))
	for _, id := range order {
		ipdom[id] = -1
	}
	for _, exit := range c.Exits {
		if i, ok := idx[exit]; ok {
			ipdom[exit] = i
		}
	}

	changed := true
	for changed {
		changed = false
		for i := len(order) - 1; i >= 0; i-- {
			id := order[i]
			isExit := false
			for _, e := range c.Exits {
				if e == id {
					isExit = true
				}
			}
			if isExit {
				continue
			}
			node := c.Nodes[id]
			newIdom := -1
			for _, succID := range node.Successors {
				si, ok := idx[succID]
				if !ok || ipdom[succID] == -1 {
					continue
				}
				if newIdom == -1 {
					newIdom = si
					continue
				}
				newIdom = intersect(order, ipdom, newIdom, si)
			}
			if newIdom != -1 && ipdom[id] != newIdom {
				ipdom[id] = newIdom
				changed = true
			}
		}
	}

	result := make(map[string]string, len(order))
	for _, id := range order {
		if p := ipdom[id]; p >= 0 {
			result[id] = order[p]
		}
	}
	return result
}

// intersect walks two candidate post-dominator indices up their chains
// until they meet (Cooper-Harvey-Kennedy's "intersect").
func intersect(order []string, ipdom map[string]int, a, b int) int {
	for a != b {
		for a > b {
			a = ipdom[order[a]]
		}
		for b > a {
			b = ipdom[order[b]]
		}
	}
	return a
}

// reversePostorderFromExits walks backward from the exit set (i.e. forward
// reverse-postorder over the reversed CFG), which is what post-dominance
// computation needs.
func reversePostorderFromExits(c *CFG) []string {
	visited := map[string]bool{}
	var postorder []string
	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		if n, ok := c.Nodes[id]; ok {
			for _, pred := range n.Predecessors {
				visit(pred)
			}
		}
		postorder = append(postorder, id)
	}
	for _, exit := range c.Exits {
		visit(exit)
	}
	// reverse postorder = postorder reversed
	for i, j := 0, len(postorder)-1; i < j; i, j = i+1, j-1 {
		postorder[i], postorder[j] = postorder[j], postorder[i]
	}
	return postorder
}
