// Package compiler turns a deployed *models.Workflow into the directed
// graph the coordinator walks: each node's dependencies/dependents
// resolved from Connections, join nodes flagged, and terminal/entry
// nodes precomputed so the coordinator never has to rescan the full
// node list while making a dispatch decision.
//
// Grounded on the teacher's cmd/workflow-runner/compiler/ir.go
// (CompileWorkflowSchema / computeTerminalNodes / validate), reduced to
// match the source spec's graph: a Node's Configurations are already
// inline (no per-node CAS config ref to resolve), and LOOP/branch
// routing is decided at dispatch time from the Connection's from_port
// rather than precompiled into a BranchConfig/LoopConfig side table.
package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lyzr/workflow-platform/internal/models"
)

// Node is one compiled graph vertex.
type Node struct {
	ID           string
	Type         models.NodeType
	Subtype      string
	Sequence     int // index into the source Workflow.Nodes slice, for stable ordering
	Dependencies []string
	Dependents   []string
	// WaitForAll marks a join point: the coordinator only dispatches this
	// node once every dependency has reported completion, per FLOW.MERGE
	// "waits for all declared inbound ports." The coordinator gates every
	// node this way and does not read this flag.
	WaitForAll bool
	IsTerminal bool
}

// IR is the compiled form of a Workflow, keyed by node id.
type IR struct {
	WorkflowID      string
	WorkflowVersion int
	Nodes           map[string]*Node
	Defs            map[string]*models.Node
	// EntryNodes are nodes with no dependencies, ordered by Sequence.
	EntryNodes []string
}

// NodeDef returns the originating workflow node definition (config,
// input/output param declarations) for id.
func (ir *IR) NodeDef(id string) *models.Node {
	return ir.Defs[id]
}

// Compile builds the graph IR for wf. wf is assumed to have already
// passed models.Workflow.ValidateStructure at deploy time; Compile
// re-derives the graph rather than trusting a cached copy, since
// execution may run against a historical WorkflowVersion.
func Compile(wf *models.Workflow) (*IR, error) {
	if len(wf.Nodes) == 0 {
		return nil, fmt.Errorf("workflow %s has no nodes", wf.ID)
	}

	ir := &IR{
		WorkflowID:      wf.ID,
		WorkflowVersion: wf.Version,
		Nodes:           make(map[string]*Node, len(wf.Nodes)),
		Defs:            make(map[string]*models.Node, len(wf.Nodes)),
	}

	for i := range wf.Nodes {
		n := &wf.Nodes[i]
		if _, dup := ir.Nodes[n.ID]; dup {
			return nil, fmt.Errorf("duplicate node id: %s", n.ID)
		}
		ir.Defs[n.ID] = n
		ir.Nodes[n.ID] = &Node{
			ID:         n.ID,
			Type:       n.Type,
			Subtype:    n.Subtype,
			Sequence:   i,
			WaitForAll: n.Type == models.NodeTypeFlow && strings.EqualFold(n.Subtype, "MERGE"),
		}
	}

	for _, c := range wf.Connections {
		from, ok := ir.Nodes[c.FromNode]
		if !ok {
			return nil, fmt.Errorf("connection %s references non-existent node: %s", c.ID, c.FromNode)
		}
		to, ok := ir.Nodes[c.ToNode]
		if !ok {
			return nil, fmt.Errorf("connection %s references non-existent node: %s", c.ID, c.ToNode)
		}
		from.Dependents = append(from.Dependents, to.ID)
		to.Dependencies = append(to.Dependencies, from.ID)
	}

	for _, node := range ir.Nodes {
		node.IsTerminal = len(node.Dependents) == 0
		if len(node.Dependencies) == 0 {
			ir.EntryNodes = append(ir.EntryNodes, node.ID)
		}
	}
	sort.Slice(ir.EntryNodes, func(i, j int) bool {
		return ir.Nodes[ir.EntryNodes[i]].Sequence < ir.Nodes[ir.EntryNodes[j]].Sequence
	})

	if err := validate(ir); err != nil {
		return nil, err
	}
	return ir, nil
}

// isLoopBoundary reports whether a node is allowed to be the target of a
// back-edge: a FLOW.LOOP node, per "the graph restricted to non-trigger
// edges is acyclic except where a Node declares itself a loop-boundary."
func isLoopBoundary(n *Node) bool {
	return n.Type == models.NodeTypeFlow && strings.EqualFold(n.Subtype, "LOOP")
}

// validate checks the compiled graph has somewhere to start, somewhere
// to end, and no cycle outside a declared loop boundary.
func validate(ir *IR) error {
	terminalCount := 0
	for _, n := range ir.Nodes {
		if n.IsTerminal {
			terminalCount++
		}
	}
	if terminalCount == 0 {
		return fmt.Errorf("workflow %s has no terminal nodes (would run forever)", ir.WorkflowID)
	}
	if len(ir.EntryNodes) == 0 {
		return fmt.Errorf("workflow %s has no entry nodes (no place to start)", ir.WorkflowID)
	}

	visited := make(map[string]bool, len(ir.Nodes))
	recStack := make(map[string]bool, len(ir.Nodes))

	var hasCycle func(id string) bool
	hasCycle = func(id string) bool {
		visited[id] = true
		recStack[id] = true
		node := ir.Nodes[id]
		for _, dep := range node.Dependents {
			if !visited[dep] {
				if hasCycle(dep) {
					return true
				}
			} else if recStack[dep] {
				if !isLoopBoundary(ir.Nodes[dep]) {
					return true
				}
			}
		}
		recStack[id] = false
		return false
	}

	// Deterministic traversal order for a deterministic error on failure.
	ids := make([]string, 0, len(ir.Nodes))
	for id := range ir.Nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ir.Nodes[ids[i]].Sequence < ir.Nodes[ids[j]].Sequence })

	for _, id := range ids {
		if !visited[id] {
			if hasCycle(id) {
				return fmt.Errorf("workflow %s contains a cycle without a loop boundary", ir.WorkflowID)
			}
		}
	}
	return nil
}

// EntryNode returns the compiled node with the given trigger node id, or
// false if no node has that id. It does not check that the node is one
// of the workflow's declared Triggers or that it has no inbound
// dependency.
func (ir *IR) EntryNode(triggerNodeID string) (*Node, bool) {
	n, ok := ir.Nodes[triggerNodeID]
	if !ok {
		return nil, false
	}
	return n, true
}

// TerminalNodes returns every compiled node with no outgoing connection.
func (ir *IR) TerminalNodes() []*Node {
	var out []*Node
	for _, n := range ir.Nodes {
		if n.IsTerminal {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}
