package domain

import "github.com/google/uuid"

// Trigger is a domain entity that represents an event source which can
// initiate a workflow execution. Triggers are owned by the Workflow
// aggregate; all mutation goes through Workflow.AddTrigger.
type Trigger interface {
	ID() uuid.UUID
	Type() TriggerType
	Config() map[string]any
}

// trigger is the concrete, package-private implementation of Trigger held
// by a Workflow aggregate.
type trigger struct {
	id          uuid.UUID
	triggerType TriggerType
	config      map[string]any
}

func (t *trigger) ID() uuid.UUID {
	return t.id
}

func (t *trigger) Type() TriggerType {
	return t.triggerType
}

func (t *trigger) Config() map[string]any {
	return t.config
}

// RestoreTrigger reconstructs a Trigger from persisted state.
func RestoreTrigger(id uuid.UUID, triggerType TriggerType, config map[string]any) Trigger {
	return &trigger{
		id:          id,
		triggerType: triggerType,
		config:      config,
	}
}
