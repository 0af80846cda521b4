package domain

import "github.com/google/uuid"

// Edge is a domain entity that represents a directed connection between two
// nodes in a workflow's graph. Edges are owned by the Workflow aggregate;
// all mutation goes through Workflow.UseEdge / Workflow.AddEdge.
type Edge interface {
	ID() uuid.UUID
	FromNodeID() uuid.UUID
	ToNodeID() uuid.UUID
	Type() EdgeType
	Config() map[string]any
}

// edge is the concrete, package-private implementation of Edge held by a
// Workflow aggregate.
type edge struct {
	id         uuid.UUID
	fromNodeID uuid.UUID
	toNodeID   uuid.UUID
	edgeType   EdgeType
	config     map[string]any
}

func (e *edge) ID() uuid.UUID {
	return e.id
}

func (e *edge) FromNodeID() uuid.UUID {
	return e.fromNodeID
}

func (e *edge) ToNodeID() uuid.UUID {
	return e.toNodeID
}

func (e *edge) Type() EdgeType {
	return e.edgeType
}

func (e *edge) Config() map[string]any {
	return e.config
}

// RestoreEdge reconstructs an Edge from persisted state.
func RestoreEdge(id, fromNodeID, toNodeID uuid.UUID, edgeType EdgeType, config map[string]any) Edge {
	return &edge{
		id:         id,
		fromNodeID: fromNodeID,
		toNodeID:   toNodeID,
		edgeType:   edgeType,
		config:     config,
	}
}
