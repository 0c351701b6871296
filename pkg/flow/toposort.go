package flow

// TopologicalOrder sorts node ids with Kahn's algorithm. Ties break by node
// declaration order, which makes plan ordering deterministic. Returns
// (nil, false) on a cycle.
func TopologicalOrder(nodes []FlowNode, edges []FlowEdge) ([]string, bool) {
	indegree := make(map[string]int, len(nodes))
	index := make(map[string]int, len(nodes))
	for i, n := range nodes {
		indegree[n.ID] = 0
		index[n.ID] = i
	}
	out := make(map[string][]string, len(nodes))
	for _, e := range edges {
		if _, ok := index[e.Source]; !ok {
			continue
		}
		if _, ok := index[e.Target]; !ok {
			continue
		}
		out[e.Source] = append(out[e.Source], e.Target)
		indegree[e.Target]++
	}

	order := make([]string, 0, len(nodes))
	done := make(map[string]bool, len(nodes))
	for len(order) < len(nodes) {
		picked := ""
		for _, n := range nodes {
			if !done[n.ID] && indegree[n.ID] == 0 {
				picked = n.ID
				break
			}
		}
		if picked == "" {
			return nil, false
		}
		done[picked] = true
		order = append(order, picked)
		for _, target := range out[picked] {
			indegree[target]--
		}
	}
	return order, true
}
