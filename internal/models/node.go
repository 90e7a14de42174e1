package models

// Node is a single unit in a Workflow graph. The pair (Type, Subtype)
// selects exactly one runner from the registry.
type Node struct {
	ID            string         `json:"id"`
	Type          NodeType       `json:"type"`
	Subtype       string         `json:"subtype"`
	Configurations map[string]any `json:"configurations,omitempty"`
	InputParams   map[string]any `json:"input_params,omitempty"`
	OutputParams  map[string]any `json:"output_params,omitempty"`
}

// OnErrorPolicy returns the node's configured error policy, defaulting to
// "stop" per §4.2.
func (n *Node) OnErrorPolicy() string {
	if n.Configurations == nil {
		return "stop"
	}
	if v, ok := n.Configurations["on_error"].(string); ok && v != "" {
		return v
	}
	return "stop"
}

// RetryPolicy is the node-level retry configuration for the "retry"
// on_error policy.
type RetryPolicy struct {
	MaxTries int     `json:"max_tries"`
	BaseMS   int     `json:"base_ms"`
	Factor   float64 `json:"factor"`
	JitterPc float64 `json:"jitter_pc"`
}

// RetryPolicy reads the node's retry configuration, applying the spec
// defaults (3 tries, 1s base, factor 2, ±20% jitter).
func (n *Node) RetryPolicy() RetryPolicy {
	rp := RetryPolicy{MaxTries: 3, BaseMS: 1000, Factor: 2, JitterPc: 0.2}
	raw, ok := n.Configurations["retry"].(map[string]any)
	if !ok {
		return rp
	}
	if v, ok := raw["max_tries"].(float64); ok {
		rp.MaxTries = int(v)
	}
	if v, ok := raw["base_ms"].(float64); ok {
		rp.BaseMS = int(v)
	}
	if v, ok := raw["factor"].(float64); ok {
		rp.Factor = v
	}
	if v, ok := raw["jitter_pc"].(float64); ok {
		rp.JitterPc = v
	}
	return rp
}

// Connection is a directed edge between two nodes, optionally carrying a
// pure conversion expression evaluated by internal/condition.
type Connection struct {
	ID                 string `json:"id"`
	FromNode           string `json:"from_node"`
	ToNode             string `json:"to_node"`
	FromPort           string `json:"from_port"`
	ToPort             string `json:"to_port"`
	ConversionFunction string `json:"conversion_function,omitempty"`
}

// NormalizedFromPort returns FromPort defaulted to "main".
func (c *Connection) NormalizedFromPort() string {
	if c.FromPort == "" {
		return "main"
	}
	return c.FromPort
}

// NormalizedToPort returns ToPort defaulted to "main".
func (c *Connection) NormalizedToPort() string {
	if c.ToPort == "" {
		return "main"
	}
	return c.ToPort
}
