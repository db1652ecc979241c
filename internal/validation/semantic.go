package validation

import (
	"fmt"

	"github.com/Dalaqa25/automation-runner/pkg/schema"
)

// NodeTypeLookup reports whether a node type has a registered executor.
// Satisfied by *internal/executors.Registry; a nil lookup skips the check.
type NodeTypeLookup interface {
	Has(nodeType string) bool
}

// nodeIndex resolves a connection endpoint (name or id) to the node it
// refers to, and flags duplicate names up front.
type nodeIndex struct {
	byKey      map[string]*schema.Node
	duplicates []string
}

func buildNodeIndex(wf *schema.Workflow) *nodeIndex {
	idx := &nodeIndex{byKey: make(map[string]*schema.Node, len(wf.Nodes))}
	seenNames := make(map[string]bool, len(wf.Nodes))

	for i := range wf.Nodes {
		n := &wf.Nodes[i]
		if n.Name != "" {
			if seenNames[n.Name] {
				idx.duplicates = append(idx.duplicates, n.Name)
			} else {
				seenNames[n.Name] = true
				idx.byKey[n.Name] = n
			}
		}
		if n.ID != "" {
			if _, exists := idx.byKey[n.ID]; !exists {
				idx.byKey[n.ID] = n
			}
		}
	}
	return idx
}

func (idx *nodeIndex) resolve(ref string) (*schema.Node, bool) {
	n, ok := idx.byKey[ref]
	return n, ok
}

// validateSemantic checks structural properties the graph builder would
// otherwise only discover at run time: duplicate node names, unresolved
// edge endpoints, self-loops, and node types with no registered executor.
func validateSemantic(wf *schema.Workflow, types NodeTypeLookup) *Result {
	result := &Result{}
	idx := buildNodeIndex(wf)

	for _, dup := range idx.duplicates {
		result.AddError("nodes", schema.ErrCodeWorkflowValidation,
			fmt.Sprintf("duplicate node name %q", dup))
	}

	for i, n := range wf.Nodes {
		path := fmt.Sprintf("nodes[%d]", i)
		if n.Name == "" {
			result.AddError(path+".name", schema.ErrCodeWorkflowValidation, "node missing required name")
			continue
		}
		if types != nil && !schema.IsUIOnly(n.Type) && !types.Has(n.Type) {
			result.AddError(path+".type", schema.ErrCodeWorkflowValidation,
				fmt.Sprintf("node %q has unregistered type %q", n.Name, n.Type))
		}
	}

	for sourceName, channels := range wf.Connections {
		source, ok := idx.resolve(sourceName)
		if !ok {
			result.AddError(fmt.Sprintf("connections[%s]", sourceName), schema.ErrCodeWorkflowValidation,
				fmt.Sprintf("connections reference unknown source node %q", sourceName))
			continue
		}

		for channel, slots := range channels {
			for si, slot := range slots {
				for ri, rec := range slot {
					path := fmt.Sprintf("connections[%s].%s[%d][%d]", sourceName, channel, si, ri)
					target, ok := idx.resolve(rec.Node)
					if !ok {
						result.AddError(path, schema.ErrCodeWorkflowValidation,
							fmt.Sprintf("edge from %q targets unknown node %q", sourceName, rec.Node))
						continue
					}
					if target == source {
						result.AddError(path, schema.ErrCodeWorkflowValidation,
							fmt.Sprintf("node %q has a self-loop on channel %q", sourceName, channel))
					}
				}
			}
		}
	}

	return result
}
