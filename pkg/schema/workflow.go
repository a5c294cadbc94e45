package schema

import "time"

// Position is the canvas location of a node. It has no effect on execution.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Node is a single unit of work in a workflow.
type Node struct {
	ID          string         `json:"id" yaml:"id"`
	Kind        NodeKind       `json:"kind" yaml:"kind"`
	Label       string         `json:"label,omitempty" yaml:"label,omitempty"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Content     string         `json:"content,omitempty" yaml:"content,omitempty"`
	Config      map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	Position    Position       `json:"position" yaml:"position"`
}

// Edge is a directed data-flow dependency from Source to Target.
type Edge struct {
	ID           string `json:"id" yaml:"id"`
	Source       string `json:"source" yaml:"source"`
	Target       string `json:"target" yaml:"target"`
	SourceHandle string `json:"source_handle,omitempty" yaml:"source_handle,omitempty"`
	TargetHandle string `json:"target_handle,omitempty" yaml:"target_handle,omitempty"`
}

// SameConnection reports whether e and o join the same endpoints and handles.
func (e Edge) SameConnection(o Edge) bool {
	return e.Source == o.Source && e.Target == o.Target &&
		e.SourceHandle == o.SourceHandle && e.TargetHandle == o.TargetHandle
}

// Workflow is a lesson workflow graph.
type Workflow struct {
	ID          string    `json:"id,omitempty" yaml:"id,omitempty"`
	Title       string    `json:"title" yaml:"title"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Nodes       []Node    `json:"nodes" yaml:"nodes"`
	Edges       []Edge    `json:"edges" yaml:"edges"`
	CreatedAt   time.Time `json:"created_at,omitempty" yaml:"-"`
	UpdatedAt   time.Time `json:"updated_at,omitempty" yaml:"-"`
}

// Node returns the node with the given id, or nil.
func (w *Workflow) Node(id string) *Node {
	for i := range w.Nodes {
		if w.Nodes[i].ID == id {
			return &w.Nodes[i]
		}
	}
	return nil
}

// Lesson is a stored lesson that lesson-reference nodes can pull content from.
type Lesson struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Summary   string    `json:"summary,omitempty"`
	Query     string    `json:"query,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ProviderConfig holds the credentials and defaults for an external provider
// (AI vendor, messaging channel or calendar).
type ProviderConfig struct {
	ID           string         `json:"id"`
	Enabled      bool           `json:"enabled"`
	APIKey       string         `json:"api_key,omitempty"`
	BaseURL      string         `json:"base_url,omitempty"`
	DefaultModel string         `json:"default_model,omitempty"`
	Settings     map[string]any `json:"settings,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Usable reports whether the config is enabled and carries a key.
func (c *ProviderConfig) Usable() bool {
	return c != nil && c.Enabled && c.APIKey != ""
}

// Setting returns a string setting, or "" when absent.
func (c *ProviderConfig) Setting(key string) string {
	if c == nil || c.Settings == nil {
		return ""
	}
	v, _ := c.Settings[key].(string)
	return v
}
