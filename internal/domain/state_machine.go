package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ActionKind enumerates the side effects a state's on_enter/on_exit hooks or
// a transition's action list may perform.
type ActionKind string

const (
	ActionKindLog         ActionKind = "log"
	ActionKindSetContext  ActionKind = "set_context"
	ActionKindEmitEvent   ActionKind = "emit_event"
	ActionKindInvokeAgent ActionKind = "invoke_agent"
	ActionKindInvokeTool  ActionKind = "invoke_tool"
	ActionKindTimerStart  ActionKind = "timer_start"
	ActionKindTimerCancel ActionKind = "timer_cancel"
)

// IsValid reports whether the ActionKind is one of the known values.
func (k ActionKind) IsValid() bool {
	switch k {
	case ActionKindLog, ActionKindSetContext, ActionKindEmitEvent,
		ActionKindInvokeAgent, ActionKindInvokeTool, ActionKindTimerStart, ActionKindTimerCancel:
		return true
	default:
		return false
	}
}

// ActionSpec describes one side effect to run during a state transition.
// Config is interpreted according to Kind: set_context expects
// {"key": ..., "value": ...} (value may itself be a template string),
// emit_event expects {"event_type": ..., "payload": ...}, timer_start
// expects {"timer_id": ..., "after": "<duration>", "event": "..."}.
type ActionSpec struct {
	Kind   ActionKind
	Config map[string]any
}

// Validate checks that the ActionSpec has a recognized kind.
func (a ActionSpec) Validate() error {
	if !a.Kind.IsValid() {
		return NewDomainError(ErrCodeInvalidInput, fmt.Sprintf("invalid action kind: %s", a.Kind), nil)
	}
	return nil
}

// StateTransition describes one edge of a state machine: on event En the
// machine moves from the owning state to To, provided Guard (an expr-lang
// boolean expression evaluated against instance context, empty means
// unconditional) passes. Priority breaks ties when multiple transitions on
// the same state match the same event; lower values are evaluated first.
type StateTransition struct {
	Event    string
	To       string
	Guard    string
	Actions  []ActionSpec
	Priority int
}

// StateDefinition is one node of a state machine workflow.
type StateDefinition struct {
	Name        string
	OnEnter     []ActionSpec
	OnExit      []ActionSpec
	Transitions []StateTransition
	IsTerminal  bool
}

// Validate checks the state definition's own actions and transitions for
// structural validity. It does not check that transition targets exist;
// that requires the full state set, which is checked by the owning
// workflow's validateStateMachineStructure.
func (d *StateDefinition) Validate() error {
	if d.Name == "" {
		return NewDomainError(ErrCodeInvalidInput, "state name must not be empty", nil)
	}
	for _, a := range d.OnEnter {
		if err := a.Validate(); err != nil {
			return err
		}
	}
	for _, a := range d.OnExit {
		if err := a.Validate(); err != nil {
			return err
		}
	}
	for _, t := range d.Transitions {
		if t.Event == "" {
			return NewDomainError(ErrCodeInvalidInput, fmt.Sprintf("state %q has a transition with no event", d.Name), nil)
		}
		if t.To == "" {
			return NewDomainError(ErrCodeInvalidInput, fmt.Sprintf("state %q has a transition with no target", d.Name), nil)
		}
		for _, a := range t.Actions {
			if err := a.Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

// TransitionsFor returns the transitions registered for a given event,
// ordered by Priority ascending (ties keep declaration order).
func (d *StateDefinition) TransitionsFor(event string) []StateTransition {
	matches := make([]StateTransition, 0, len(d.Transitions))
	for _, t := range d.Transitions {
		if t.Event == event {
			matches = append(matches, t)
		}
	}
	for i := 1; i < len(matches); i++ {
		j := i
		for j > 0 && matches[j].Priority < matches[j-1].Priority {
			matches[j], matches[j-1] = matches[j-1], matches[j]
			j--
		}
	}
	return matches
}

// StateHistoryEntry records one completed transition of a StateMachineInstance.
type StateHistoryEntry struct {
	FromState string
	ToState   string
	Event     string
	FiredAt   time.Time
}

// StateMachineInstance is one running instance of a state-machine workflow.
// It is the state-machine analogue of an Execution: the workflow definition
// is immutable and shared, the instance carries per-run state.
type StateMachineInstance struct {
	ID         uuid.UUID
	WorkflowID uuid.UUID
	Current    string
	Context    *VariableSet
	History    []StateHistoryEntry
	Completed  bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewStateMachineInstance creates a fresh instance positioned at initialState
// with an empty context.
func NewStateMachineInstance(workflowID uuid.UUID, initialState string) *StateMachineInstance {
	now := time.Now()
	return &StateMachineInstance{
		ID:         uuid.New(),
		WorkflowID: workflowID,
		Current:    initialState,
		Context:    NewVariableSet(nil),
		History:    make([]StateHistoryEntry, 0),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// RecordTransition appends a history entry and updates the instance's
// current state. Callers are expected to hold the instance's lock.
func (i *StateMachineInstance) RecordTransition(from, to, event string) {
	i.History = append(i.History, StateHistoryEntry{
		FromState: from,
		ToState:   to,
		Event:     event,
		FiredAt:   time.Now(),
	})
	i.Current = to
	i.UpdatedAt = time.Now()
}
