package pipeline

import (
	"context"
	"fmt"
	"log"
	"sort"

	"langtrader-core/internal/events"
	"langtrader-core/pkg/checkpoint"
)

// WorkflowNode binds a plugin to an execution position in the graph.
type WorkflowNode struct {
	ID             string
	PluginName     string
	DisplayName    string
	ExecutionOrder int
	Enabled        bool
	Config         map[string]any
}

// WorkflowEdge connects two nodes, optionally gated by Condition. An
// empty Condition is unconditional.
type WorkflowEdge struct {
	ID        string
	FromNode  string
	ToNode    string
	Condition string
}

// Workflow is the durable directed-graph definition (spec §3). The
// runtime freezes a Snapshot of it at the start of each cycle so
// in-flight cycles are unaffected by concurrent edits (spec §6.5).
type Workflow struct {
	ID         string
	Name       string
	Nodes      []WorkflowNode
	Edges      []WorkflowEdge
	UserEdited bool
}

// Snapshot returns a deep-enough copy to be safe for a cycle's lifetime;
// slices are copied, node Config maps are shared (read-only by
// convention, matching the teacher's treatment of parsed JSON config).
func (w *Workflow) Snapshot() *Workflow {
	nodes := make([]WorkflowNode, len(w.Nodes))
	copy(nodes, w.Nodes)
	edges := make([]WorkflowEdge, len(w.Edges))
	copy(edges, w.Edges)
	return &Workflow{ID: w.ID, Name: w.Name, Nodes: nodes, Edges: edges, UserEdited: w.UserEdited}
}

// Validate checks the closed-set invariants from spec §3: no cycles, and
// every edge references a node that exists.
func (w *Workflow) Validate() error {
	byID := make(map[string]bool, len(w.Nodes))
	for _, n := range w.Nodes {
		byID[n.ID] = true
	}
	for _, e := range w.Edges {
		if !byID[e.FromNode] {
			return fmt.Errorf("edge %s references unknown source node %s", e.ID, e.FromNode)
		}
		if !byID[e.ToNode] {
			return fmt.Errorf("edge %s references unknown target node %s", e.ID, e.ToNode)
		}
	}
	if _, err := w.topoOrder(); err != nil {
		return err
	}
	return nil
}

// topoOrder returns nodes in topological order (Kahn's algorithm), with
// ExecutionOrder as the deterministic tiebreak among ready nodes. Returns
// an error if the graph contains a cycle.
func (w *Workflow) topoOrder() ([]WorkflowNode, error) {
	indegree := make(map[string]int, len(w.Nodes))
	byID := make(map[string]WorkflowNode, len(w.Nodes))
	outgoing := make(map[string][]WorkflowEdge)
	for _, n := range w.Nodes {
		indegree[n.ID] = 0
		byID[n.ID] = n
	}
	for _, e := range w.Edges {
		indegree[e.ToNode]++
		outgoing[e.FromNode] = append(outgoing[e.FromNode], e)
	}

	var ready []WorkflowNode
	for id, d := range indegree {
		if d == 0 {
			ready = append(ready, byID[id])
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].ExecutionOrder < ready[j].ExecutionOrder })

	var order []WorkflowNode
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)
		var next []WorkflowNode
		for _, e := range outgoing[n.ID] {
			indegree[e.ToNode]--
			if indegree[e.ToNode] == 0 {
				next = append(next, byID[e.ToNode])
			}
		}
		sort.Slice(next, func(i, j int) bool { return next[i].ExecutionOrder < next[j].ExecutionOrder })
		ready = append(ready, next...)
		sort.Slice(ready, func(i, j int) bool { return ready[i].ExecutionOrder < ready[j].ExecutionOrder })
	}

	if len(order) != len(w.Nodes) {
		return nil, fmt.Errorf("workflow %s contains a cycle", w.ID)
	}
	return order, nil
}

// Runner executes a Workflow snapshot against an initial CycleState.
type Runner struct {
	Registry    *Registry
	Checkpoints *checkpoint.Store
	Bus         *events.Bus
}

// NewRunner builds a pipeline runner.
func NewRunner(reg *Registry, cp *checkpoint.Store, bus *events.Bus) *Runner {
	return &Runner{Registry: reg, Checkpoints: cp, Bus: bus}
}

// Run executes every node in topological order, evaluating incoming edge
// conditions to decide whether each node fires, per spec §4.3.
func (r *Runner) Run(ctx context.Context, pc *PluginContext, wf *Workflow, state *CycleState) (*CycleState, error) {
	order, err := wf.topoOrder()
	if err != nil {
		return state, fmt.Errorf("invalid workflow: %w", err)
	}

	incoming := make(map[string][]WorkflowEdge)
	for _, e := range wf.Edges {
		incoming[e.ToNode] = append(incoming[e.ToNode], e)
	}

	executed := make(map[string]bool, len(order))
	threadID := "bot_" + state.BotID

	for _, n := range order {
		select {
		case <-ctx.Done():
			return state, ctx.Err()
		default:
		}

		if !n.Enabled {
			continue
		}

		if !r.shouldFire(n, incoming[n.ID], executed, state) {
			continue
		}

		node, err := r.Registry.Create(n.PluginName, n.Config)
		if err != nil {
			state.AddError(n.ID, "", "configuration", err.Error())
			// Unknown plugin is a Configuration error (spec §7): the node
			// cannot produce output, so its downstream dependents don't fire.
			continue
		}

		r.Bus.Publish(events.EventNodeStarted, n.ID)
		pc.Ctx = ctx
		pc.NodeConfig = n.Config
		next, runErr := node.Run(ctx, pc, state)
		if next != nil {
			state = next
		}

		if runErr != nil {
			var nerr *NodeError
			kind := Recoverable
			if ok := asNodeError(runErr, &nerr); ok {
				kind = nerr.Kind
			}
			if kind == Fatal {
				r.Bus.Publish(events.EventNodeFailed, n.ID)
				return state, runErr
			}
			state.AddError(n.ID, "", "recoverable", runErr.Error())
			r.Bus.Publish(events.EventNodeFailed, n.ID)
		} else {
			r.Bus.Publish(events.EventNodeFinished, n.ID)
		}

		executed[n.ID] = true

		if r.Checkpoints != nil {
			if err := r.Checkpoints.Save(threadID, state.CycleID, n.ID, state); err != nil {
				log.Printf("pipeline: checkpoint write failed for %s/%d/%s: %v", threadID, state.CycleID, n.ID, err)
			} else {
				r.Bus.Publish(events.EventCheckpointHit, n.ID)
			}
		}
	}

	return state, nil
}

// shouldFire decides whether a node's gating edges matched. START nodes
// (no incoming edges) always fire. A node with incoming edges fires if
// at least one source node executed and its edge condition matched.
func (r *Runner) shouldFire(n WorkflowNode, edges []WorkflowEdge, executed map[string]bool, state *CycleState) bool {
	if len(edges) == 0 {
		return true
	}
	for _, e := range edges {
		if !executed[e.FromNode] {
			continue
		}
		ok, err := EvalCondition(e.Condition, state)
		if err != nil {
			log.Printf("pipeline: condition eval error on edge %s: %v", e.ID, err)
			continue
		}
		if ok {
			return true
		}
	}
	return false
}

func asNodeError(err error, target **NodeError) bool {
	for err != nil {
		if ne, ok := err.(*NodeError); ok {
			*target = ne
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
