package validation

import (
	"fmt"
	"sort"

	"github.com/Dalaqa25/automation-runner/pkg/schema"
)

// validateDAG performs graph analysis on the connection graph: cycle
// detection (Kahn's algorithm) and dead-node reachability (BFS from
// entry candidates). Assumes validateSemantic already ran and found no
// unresolved edges — callers should skip this stage otherwise, since a
// dangling edge makes the adjacency below meaningless.
func validateDAG(wf *schema.Workflow) *Result {
	result := &Result{}
	idx := buildNodeIndex(wf)

	nodeKeys := make(map[string]bool, len(wf.Nodes))
	for _, n := range wf.Nodes {
		if n.Name != "" {
			nodeKeys[n.Name] = true
		}
	}

	// forward[src] = targets src feeds, on any channel.
	forward := make(map[string][]string)
	backward := make(map[string][]string)

	for sourceName, channels := range wf.Connections {
		if _, ok := nodeKeys[sourceName]; !ok {
			continue
		}
		for _, slots := range channels {
			for _, slot := range slots {
				for _, rec := range slot {
					target, ok := idx.resolve(rec.Node)
					if !ok {
						continue
					}
					forward[sourceName] = append(forward[sourceName], target.Name)
					backward[target.Name] = append(backward[target.Name], sourceName)
				}
			}
		}
	}

	inDegree := make(map[string]int, len(nodeKeys))
	for key := range nodeKeys {
		inDegree[key] = len(backward[key])
	}

	queue := make([]string, 0, len(nodeKeys))
	for key, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, key)
		}
	}
	sort.Strings(queue)

	visited := 0
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range forward[node] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if visited != len(nodeKeys) {
		result.AddError("connections", schema.ErrCodeCycleDetected, "workflow contains a dependency cycle")
		return result
	}

	roots := make([]string, 0)
	for key := range nodeKeys {
		if len(backward[key]) == 0 {
			roots = append(roots, key)
		}
	}

	reachable := make(map[string]bool, len(nodeKeys))
	bfsQueue := make([]string, len(roots))
	copy(bfsQueue, roots)
	for _, r := range roots {
		reachable[r] = true
	}

	for len(bfsQueue) > 0 {
		node := bfsQueue[0]
		bfsQueue = bfsQueue[1:]
		for _, next := range forward[node] {
			if !reachable[next] {
				reachable[next] = true
				bfsQueue = append(bfsQueue, next)
			}
		}
	}

	for key := range nodeKeys {
		if !reachable[key] {
			result.AddWarning(fmt.Sprintf("nodes[%s]", key), schema.ErrCodeWorkflowValidation,
				fmt.Sprintf("node %q is unreachable from any entry node", key))
		}
	}

	return result
}
