package executor

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/smilemakc/mbflow/internal/domain"
)

// WorkflowGraph is an in-memory adjacency representation of a workflow's
// nodes and edges, built once from a domain.Workflow and reused for the
// duration of an execution. It answers the structural questions the
// planner and engine need: predecessors/successors, entry nodes, join
// detection, and topological ordering.
type WorkflowGraph struct {
	workflowID uuid.UUID

	nodes    map[uuid.UUID]domain.Node
	nodeList []domain.Node
	edges    []domain.Edge

	// forward/reverse adjacency in terms of edges, not just node IDs, since
	// callers need access to edge type/config (e.g. conditional routing).
	forwardEdges map[uuid.UUID][]domain.Edge
	reverseEdges map[uuid.UUID][]domain.Edge
}

// NewWorkflowGraph builds a WorkflowGraph from a workflow's current node and
// edge set. It returns an error if an edge references a node that does not
// exist in the workflow.
func NewWorkflowGraph(workflow domain.Workflow) (*WorkflowGraph, error) {
	g := &WorkflowGraph{
		workflowID:   workflow.ID(),
		nodes:        make(map[uuid.UUID]domain.Node),
		forwardEdges: make(map[uuid.UUID][]domain.Edge),
		reverseEdges: make(map[uuid.UUID][]domain.Edge),
	}

	for _, n := range workflow.GetAllNodes() {
		g.nodes[n.ID()] = n
		g.nodeList = append(g.nodeList, n)
	}

	for _, e := range workflow.GetAllEdges() {
		if _, ok := g.nodes[e.FromNodeID()]; !ok {
			return nil, fmt.Errorf("edge %s references unknown source node %s", e.ID(), e.FromNodeID())
		}
		if _, ok := g.nodes[e.ToNodeID()]; !ok {
			return nil, fmt.Errorf("edge %s references unknown target node %s", e.ID(), e.ToNodeID())
		}
		g.edges = append(g.edges, e)
		g.forwardEdges[e.FromNodeID()] = append(g.forwardEdges[e.FromNodeID()], e)
		g.reverseEdges[e.ToNodeID()] = append(g.reverseEdges[e.ToNodeID()], e)
	}

	for _, e := range g.edges {
		names, ok := e.Config()["include_outputs_from"].([]string)
		if !ok {
			// Malformed include_outputs_from is only rejected by an explicit
			// ValidateEdgeDataSources call, not at construction time.
			continue
		}
		if err := g.validateEdgeDataSourceNames(e, names); err != nil {
			return nil, err
		}
	}

	return g, nil
}

// GetNode returns the node with the given ID.
func (g *WorkflowGraph) GetNode(id uuid.UUID) (domain.Node, error) {
	n, ok := g.nodes[id]
	if !ok {
		return nil, domain.NewDomainError(
			domain.ErrCodeNotFound,
			fmt.Sprintf("node %s not found in graph", id),
			nil,
		)
	}
	return n, nil
}

// GetNodeByName returns the node with the given name. Node names are unique
// within a workflow.
func (g *WorkflowGraph) GetNodeByName(name string) (domain.Node, error) {
	for _, n := range g.nodeList {
		if n.Name() == name {
			return n, nil
		}
	}
	return nil, domain.NewDomainError(
		domain.ErrCodeNotFound,
		fmt.Sprintf("node named %q not found in graph", name),
		nil,
	)
}

// GetAllNodes returns every node in the graph.
func (g *WorkflowGraph) GetAllNodes() []domain.Node {
	return g.nodeList
}

// GetNodeCount returns the number of nodes in the graph.
func (g *WorkflowGraph) GetNodeCount() int {
	return len(g.nodes)
}

// GetOutgoingEdges returns the edges leaving a node.
func (g *WorkflowGraph) GetOutgoingEdges(nodeID uuid.UUID) []domain.Edge {
	return g.forwardEdges[nodeID]
}

// GetIncomingEdges returns the edges entering a node.
func (g *WorkflowGraph) GetIncomingEdges(nodeID uuid.UUID) []domain.Edge {
	return g.reverseEdges[nodeID]
}

// GetPredecessors returns the IDs of nodes with an edge into the given node.
func (g *WorkflowGraph) GetPredecessors(nodeID uuid.UUID) []uuid.UUID {
	edges := g.reverseEdges[nodeID]
	preds := make([]uuid.UUID, 0, len(edges))
	for _, e := range edges {
		preds = append(preds, e.FromNodeID())
	}
	return preds
}

// GetSuccessors returns the IDs of nodes reachable by an edge from the given
// node.
func (g *WorkflowGraph) GetSuccessors(nodeID uuid.UUID) []uuid.UUID {
	edges := g.forwardEdges[nodeID]
	succs := make([]uuid.UUID, 0, len(edges))
	for _, e := range edges {
		succs = append(succs, e.ToNodeID())
	}
	return succs
}

// GetEntryNodes returns nodes with no incoming edges.
func (g *WorkflowGraph) GetEntryNodes() []uuid.UUID {
	entries := make([]uuid.UUID, 0)
	for id := range g.nodes {
		if len(g.reverseEdges[id]) == 0 {
			entries = append(entries, id)
		}
	}
	return entries
}

// GetExitNodes returns nodes with no outgoing edges.
func (g *WorkflowGraph) GetExitNodes() []uuid.UUID {
	exits := make([]uuid.UUID, 0)
	for id := range g.nodes {
		if len(g.forwardEdges[id]) == 0 {
			exits = append(exits, id)
		}
	}
	return exits
}

// IsJoinNode reports whether a node has more than one incoming edge.
func (g *WorkflowGraph) IsJoinNode(nodeID uuid.UUID) bool {
	return len(g.reverseEdges[nodeID]) > 1
}

// IsForkNode reports whether a node has more than one outgoing edge.
func (g *WorkflowGraph) IsForkNode(nodeID uuid.UUID) bool {
	return len(g.forwardEdges[nodeID]) > 1
}

// GetJoinStrategy returns the join strategy configured on a node via its
// "join_strategy" config key, defaulting to wait-all when unset or invalid.
func (g *WorkflowGraph) GetJoinStrategy(nodeID uuid.UUID) domain.JoinStrategy {
	n, ok := g.nodes[nodeID]
	if !ok {
		return domain.JoinStrategyWaitAll
	}
	if raw, ok := n.Config()["join_strategy"].(string); ok {
		strategy := domain.JoinStrategy(raw)
		if strategy.IsValid() {
			return strategy
		}
	}
	return domain.JoinStrategyWaitAll
}

// HasCycles reports whether the graph contains a cycle, via DFS.
func (g *WorkflowGraph) HasCycles() bool {
	visited := make(map[uuid.UUID]bool)
	onStack := make(map[uuid.UUID]bool)

	for id := range g.nodes {
		if !visited[id] {
			if g.hasCyclesDFS(id, visited, onStack) {
				return true
			}
		}
	}
	return false
}

func (g *WorkflowGraph) hasCyclesDFS(nodeID uuid.UUID, visited, onStack map[uuid.UUID]bool) bool {
	visited[nodeID] = true
	onStack[nodeID] = true

	for _, nextID := range g.GetSuccessors(nodeID) {
		if !visited[nextID] {
			if g.hasCyclesDFS(nextID, visited, onStack) {
				return true
			}
		} else if onStack[nextID] {
			return true
		}
	}

	onStack[nodeID] = false
	return false
}

// TopologicalSort returns node IDs in topological order using Kahn's
// algorithm. Returns an error if the graph contains a cycle.
func (g *WorkflowGraph) TopologicalSort() ([]uuid.UUID, error) {
	inDegree := make(map[uuid.UUID]int, len(g.nodes))
	for id := range g.nodes {
		inDegree[id] = len(g.reverseEdges[id])
	}

	queue := make([]uuid.UUID, 0)
	for id, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, id)
		}
	}

	result := make([]uuid.UUID, 0, len(g.nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		result = append(result, id)

		for _, nextID := range g.GetSuccessors(id) {
			inDegree[nextID]--
			if inDegree[nextID] == 0 {
				queue = append(queue, nextID)
			}
		}
	}

	if len(result) != len(g.nodes) {
		return nil, domain.NewDomainError(
			domain.ErrCodeCyclicDependency,
			"graph contains a cycle, cannot perform topological sort",
			nil,
		)
	}

	return result, nil
}

// IsAncestor reports whether descendantID is reachable from ancestorID by
// following edges forward. A node is never its own ancestor.
func (g *WorkflowGraph) IsAncestor(ancestorID, descendantID uuid.UUID) bool {
	if ancestorID == descendantID {
		return false
	}

	visited := make(map[uuid.UUID]bool)
	queue := []uuid.UUID{ancestorID}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		for _, nextID := range g.GetSuccessors(id) {
			if nextID == descendantID {
				return true
			}
			if !visited[nextID] {
				visited[nextID] = true
				queue = append(queue, nextID)
			}
		}
	}

	return false
}

// ValidateEdgeDataSources checks an edge's "include_outputs_from" config, if
// present: it must be a []string of node names, each naming a node that is
// an ancestor of the edge's source node (so its output is already available
// by the time the edge is traversed).
func (g *WorkflowGraph) ValidateEdgeDataSources(edge domain.Edge) error {
	raw, ok := edge.Config()["include_outputs_from"]
	if !ok || raw == nil {
		return nil
	}

	names, ok := raw.([]string)
	if !ok {
		return fmt.Errorf("edge %s: include_outputs_from must be a []string, got %T", edge.ID(), raw)
	}

	return g.validateEdgeDataSourceNames(edge, names)
}

func (g *WorkflowGraph) validateEdgeDataSourceNames(edge domain.Edge, names []string) error {
	for _, name := range names {
		source, err := g.GetNodeByName(name)
		if err != nil {
			return fmt.Errorf("edge %s: include_outputs_from references unknown node %q", edge.ID(), name)
		}
		if !g.IsAncestor(source.ID(), edge.FromNodeID()) {
			return fmt.Errorf("edge %s: include_outputs_from node %q is not an ancestor of node %s", edge.ID(), name, edge.FromNodeID())
		}
	}
	return nil
}

// GetParallelizableNodes groups nodes into waves by dependency depth: every
// node in a wave depends only on nodes in earlier waves, so all nodes within
// a wave can execute concurrently.
func (g *WorkflowGraph) GetParallelizableNodes() ([][]uuid.UUID, error) {
	order, err := g.TopologicalSort()
	if err != nil {
		return nil, err
	}

	depth := make(map[uuid.UUID]int, len(order))
	maxDepth := 0

	for _, id := range order {
		d := 0
		for _, predID := range g.GetPredecessors(id) {
			if predDepth, ok := depth[predID]; ok && predDepth+1 > d {
				d = predDepth + 1
			}
		}
		depth[id] = d
		if d > maxDepth {
			maxDepth = d
		}
	}

	waves := make([][]uuid.UUID, maxDepth+1)
	for _, id := range order {
		waves[depth[id]] = append(waves[depth[id]], id)
	}

	return waves, nil
}
