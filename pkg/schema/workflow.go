package schema

import (
	"encoding/json"
	"strings"
)

// Auxiliary channel names. main carries data; the rest carry
// capabilities and participate only in scheduling readiness.
const (
	ChannelMain           = "main"
	ChannelAILanguageModel = "ai_languageModel"
	ChannelAIMemory        = "ai_memory"
	ChannelAITool          = "ai_tool"
	ChannelAIEmbedding     = "ai_embedding"
	ChannelAITextSplitter  = "ai_textSplitter"
	ChannelAIVectorStore   = "ai_vectorStore"
	ChannelAIDocument      = "ai_document"
)

// OnErrorMode controls a node's failure policy.
type OnErrorMode string

const (
	OnErrorStop                OnErrorMode = "stop"
	OnErrorContinueErrorOutput OnErrorMode = "continueErrorOutput"
)

// Node is a typed, parameterized operation in a workflow graph.
type Node struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Type       string                 `json:"type"`
	Parameters map[string]any         `json:"parameters,omitempty"`
	Credentials map[string]Credential `json:"credentials,omitempty"`
	OnError    OnErrorMode            `json:"onError,omitempty"`
}

// Credential is a per-node reference to a credential, e.g.
// {"id": "{{OPENAI_KEY}}", "type": "openRouterApi"}.
type Credential struct {
	ID       string `json:"id"`
	Type     string `json:"type,omitempty"`
	resolved bool
}

// MarkResolved flags the credential entry as already resolved by the
// template preparer, so node executors can skip lookup.
func (c *Credential) MarkResolved() { c.resolved = true }

// Resolved reports whether the template preparer already resolved this entry.
func (c Credential) Resolved() bool { return c.resolved }

// ConnectionRecord is one edge endpoint: target node (by name or id) and
// which of the target's input slots it feeds.
type ConnectionRecord struct {
	Node  string `json:"node"`
	Index int    `json:"index"`
}

// OutputSlot is an ordered list of connection records fed by one output
// slot of a source node.
type OutputSlot []ConnectionRecord

// ChannelConnections maps a channel name to its ordered output slots.
type ChannelConnections map[string][]OutputSlot

// Connections maps a source node name to its per-channel connections.
type Connections map[string]ChannelConnections

// Workflow is the full graph definition: immutable during an execution.
type Workflow struct {
	Name        string          `json:"name"`
	Nodes       []Node          `json:"nodes"`
	Connections Connections     `json:"connections"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
}

// NodeByNameOrID resolves a node reference by name, falling back to id.
// On duplicate names, the first match wins.
func (w *Workflow) NodeByNameOrID(ref string) (*Node, bool) {
	for i := range w.Nodes {
		if w.Nodes[i].Name == ref {
			return &w.Nodes[i], true
		}
	}
	for i := range w.Nodes {
		if w.Nodes[i].ID == ref {
			return &w.Nodes[i], true
		}
	}
	return nil, false
}

// Clone deep-copies the workflow via JSON round-trip, used by the
// template preparer which must operate on a private copy.
func (w *Workflow) Clone() (*Workflow, error) {
	data, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}
	var out Workflow
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StickyNoteType and other UI-only node types never execute.
const StickyNoteType = "stickyNote"

// IsUIOnly reports whether a node type is excluded from entry selection
// and from execution entirely.
func IsUIOnly(nodeType string) bool {
	return nodeType == StickyNoteType
}

// IsTriggerLike reports whether a node type is a trigger: the source of
// a workflow's entry data rather than a node that consumes main-channel
// input. Used to exempt triggers from empty-input propagation, from
// token injection, and to scope natural-key extraction to the nodes that
// actually produce new items on a tick.
func IsTriggerLike(nodeType string) bool {
	t := strings.ToLower(nodeType)
	return strings.Contains(t, "trigger") || t == "manual" || t == "webhook"
}
