package engine

import (
	"sort"

	"github.com/Dalaqa25/automation-runner/pkg/schema"
)

// Graph is the validated, indexed view of a workflow used by the engine.
type Graph struct {
	Workflow *schema.Workflow

	// nodesByKey resolves both name and id to the same *schema.Node.
	nodesByKey map[string]*schema.Node

	// incoming[targetKey] lists every (source, channel) edge feeding it,
	// across all channels — used for readiness.
	incoming map[string][]edge

	// sortedKeys is a deterministic iteration order over node keys (name
	// preferred), used so each pass of the main loop visits nodes in a
	// stable order.
	sortedKeys []string

	// toolProviders is the set of node names that are the source of any
	// ai_tool edge — excluded from entry selection.
	toolProviders map[string]bool
}

type edge struct {
	sourceKey string
	channel   string
}

// BuildGraph validates a workflow's connections and returns an indexed
// Graph, or a WorkflowValidation EngineError.
func BuildGraph(wf *schema.Workflow) (*Graph, error) {
	g := &Graph{
		Workflow:      wf,
		nodesByKey:    make(map[string]*schema.Node),
		incoming:      make(map[string][]edge),
		toolProviders: make(map[string]bool),
	}

	seenNames := make(map[string]bool)
	for i := range wf.Nodes {
		n := &wf.Nodes[i]
		if n.Name == "" {
			return nil, schema.NewError(schema.ErrCodeWorkflowValidation, "node missing required name")
		}
		// First match wins on duplicate names.
		if !seenNames[n.Name] {
			g.nodesByKey[n.Name] = n
			seenNames[n.Name] = true
		}
		if n.ID != "" {
			if _, exists := g.nodesByKey[n.ID]; !exists {
				g.nodesByKey[n.ID] = n
			}
		}
	}

	for sourceName, channels := range wf.Connections {
		if _, ok := g.resolve(sourceName); !ok {
			return nil, schema.NewErrorf(schema.ErrCodeWorkflowValidation,
				"connections reference unknown source node %q", sourceName)
		}
		for channel, slots := range channels {
			for _, slot := range slots {
				for _, rec := range slot {
					target, ok := g.resolve(rec.Node)
					if !ok {
						return nil, schema.NewErrorf(schema.ErrCodeWorkflowValidation,
							"edge from %q targets unknown node %q", sourceName, rec.Node)
					}
					for _, tk := range dedupKeys(target) {
						g.incoming[tk] = append(g.incoming[tk], edge{sourceKey: sourceName, channel: channel})
					}
					if channel == schema.ChannelAITool {
						g.toolProviders[sourceName] = true
					}
				}
			}
		}
	}

	for key := range g.nodesByKey {
		g.sortedKeys = append(g.sortedKeys, key)
	}
	sort.Strings(g.sortedKeys)

	return g, nil
}

func dedupKeys(n *schema.Node) []string {
	if n.ID == "" || n.ID == n.Name {
		return []string{n.Name}
	}
	return []string{n.Name, n.ID}
}

func (g *Graph) resolve(ref string) (*schema.Node, bool) {
	n, ok := g.nodesByKey[ref]
	return n, ok
}

// EntryNodes returns the nodes with no incoming edge on any channel,
// excluding UI-only nodes and ai_tool providers.
func (g *Graph) EntryNodes() []*schema.Node {
	var entries []*schema.Node
	for _, key := range g.sortedKeys {
		n := g.nodesByKey[key]
		if n.Name != key {
			continue // visit each node once, keyed by its name entry
		}
		if schema.IsUIOnly(n.Type) {
			continue
		}
		if g.toolProviders[n.Name] {
			continue
		}
		if len(g.incoming[n.Name]) == 0 && len(g.incoming[n.ID]) == 0 {
			entries = append(entries, n)
		}
	}
	return entries
}

// Ready reports whether every source feeding n (on any channel) has
// already executed.
func (g *Graph) Ready(ec *schema.ExecutionContext, n *schema.Node) bool {
	edges := g.incoming[n.Name]
	if n.ID != "" {
		edges = append(edges, g.incoming[n.ID]...)
	}
	for _, e := range edges {
		src, ok := g.resolve(e.sourceKey)
		if !ok || !ec.Executed(src) {
			return false
		}
	}
	return true
}

// MainInputs gathers the main-channel input for n: the concatenation, in
// connections-iteration order, of outputs[s] for every main-channel source
// s connected to n, skipping sources whose stored output is empty. Only
// slot 0 of a source's main connections ever carries its stored output —
// per the single-stored-output-per-source convention, every other slot
// (e.g. an If/Switch node's non-taken branch) is implicitly empty, so a
// node wired there must never see the source's output.
func (g *Graph) MainInputs(ec *schema.ExecutionContext, n *schema.Node) schema.Items {
	var inputs schema.Items
	for _, sourceName := range g.sortedSourceNames() {
		channels, ok := g.Workflow.Connections[sourceName]
		if !ok {
			continue
		}
		slots, ok := channels[schema.ChannelMain]
		if !ok || len(slots) == 0 {
			continue
		}
		src, ok := g.resolve(sourceName)
		if !ok {
			continue
		}
		out, produced := ec.Outputs[src.Name]
		if !produced || len(out) == 0 {
			continue
		}
		for _, rec := range slots[0] {
			if rec.Node == n.Name || rec.Node == n.ID {
				inputs = append(inputs, out...)
			}
		}
	}
	return inputs
}

func (g *Graph) sortedSourceNames() []string {
	names := make([]string, 0, len(g.Workflow.Connections))
	for name := range g.Workflow.Connections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AllNodes returns every distinct node (by name) in deterministic order.
func (g *Graph) AllNodes() []*schema.Node {
	var nodes []*schema.Node
	for _, key := range g.sortedKeys {
		n := g.nodesByKey[key]
		if n.Name == key {
			nodes = append(nodes, n)
		}
	}
	return nodes
}
