package domain

import "github.com/google/uuid"

// Node is a domain entity that represents a single unit of work within a
// workflow's directed graph. Nodes are immutable outside of the Workflow
// aggregate that owns them; all mutation goes through Workflow.UseNode /
// Workflow.AddNode.
type Node interface {
	ID() uuid.UUID
	Type() NodeType
	Name() string
	Config() map[string]any

	// IOSchema describes the expected shape of a node's inputs and outputs,
	// when declared. Nil means the node accepts/produces untyped variables.
	IOSchema() *NodeIOSchema

	// InputBindingConfig controls how a node's inputs are assembled from its
	// predecessors' outputs. Nil falls back to automatic binding with the
	// namespace-by-parent collision strategy.
	InputBindingConfig() *InputBindingConfig
}

// node is the concrete, package-private implementation of Node held by a
// Workflow aggregate.
type node struct {
	id           uuid.UUID
	nodeType     NodeType
	name         string
	config       map[string]any
	ioSchema     *NodeIOSchema
	inputBinding *InputBindingConfig
}

func (n *node) ID() uuid.UUID {
	return n.id
}

func (n *node) Type() NodeType {
	return n.nodeType
}

func (n *node) Name() string {
	return n.name
}

func (n *node) Config() map[string]any {
	return n.config
}

func (n *node) IOSchema() *NodeIOSchema {
	return n.ioSchema
}

func (n *node) InputBindingConfig() *InputBindingConfig {
	return n.inputBinding
}

// RestoreNode reconstructs a Node from persisted state. Callers that
// serialized an IOSchema or InputBindingConfig alongside the node's config
// (under the "_io_schema" / "_binding_config" keys) have those values
// promoted onto the returned Node and stripped from Config.
func RestoreNode(id uuid.UUID, nodeType NodeType, name string, config map[string]any) Node {
	n := &node{
		id:       id,
		nodeType: nodeType,
		name:     name,
		config:   config,
	}
	if config != nil {
		if schema, ok := config["_io_schema"].(*NodeIOSchema); ok {
			n.ioSchema = schema
			delete(config, "_io_schema")
		}
		if binding, ok := config["_binding_config"].(*InputBindingConfig); ok {
			n.inputBinding = binding
			delete(config, "_binding_config")
		}
	}
	return n
}
