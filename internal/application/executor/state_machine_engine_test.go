package executor

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilemakc/mbflow/internal/domain"
)

func newTestStateMachineWorkflow(t *testing.T) domain.Workflow {
	t.Helper()
	wf, err := domain.NewWorkflow("order-lifecycle", "1.0.0", "", nil)
	require.NoError(t, err)
	require.NoError(t, wf.SetKind(domain.WorkflowKindStateMachine))

	require.NoError(t, wf.AddState(&domain.StateDefinition{
		Name: "pending",
		Transitions: []domain.StateTransition{
			{Event: "approve", To: "approved", Guard: "amount < 1000"},
			{Event: "approve", To: "needs_review", Guard: "amount >= 1000", Priority: -1},
			{Event: "reject", To: "rejected"},
		},
	}))
	require.NoError(t, wf.AddState(&domain.StateDefinition{
		Name: "needs_review",
		Transitions: []domain.StateTransition{
			{Event: "approve", To: "approved"},
			{Event: "reject", To: "rejected"},
		},
	}))
	require.NoError(t, wf.AddState(&domain.StateDefinition{
		Name:       "approved",
		IsTerminal: true,
		OnEnter: []domain.ActionSpec{
			{Kind: domain.ActionKindSetContext, Config: map[string]any{"key": "final_state", "value": "approved"}},
		},
	}))
	require.NoError(t, wf.AddState(&domain.StateDefinition{
		Name:       "rejected",
		IsTerminal: true,
	}))
	require.NoError(t, wf.SetInitialState("pending"))

	return wf
}

func TestStateMachineEngine_StartInstance(t *testing.T) {
	engine := NewStateMachineEngine(nil, nil, DefaultStateMachineEngineConfig())
	wf := newTestStateMachineWorkflow(t)

	instance, err := engine.StartInstance(context.Background(), wf)
	require.NoError(t, err)
	assert.Equal(t, "pending", instance.Current)
	assert.False(t, instance.Completed)
}

func TestStateMachineEngine_ProcessEvent_SimpleTransition(t *testing.T) {
	engine := NewStateMachineEngine(nil, nil, DefaultStateMachineEngineConfig())
	wf := newTestStateMachineWorkflow(t)

	instance, err := engine.StartInstance(context.Background(), wf)
	require.NoError(t, err)

	fired, err := engine.ProcessEvent(context.Background(), wf, instance, "approve", map[string]any{"amount": 500})
	require.NoError(t, err)
	assert.Equal(t, domain.EventTypeTransitionFired, fired.EventType())
	assert.Equal(t, "approved", instance.Current)
	assert.True(t, instance.Completed)
	assert.Len(t, instance.History, 1)

	val, ok := instance.Context.Get("final_state")
	require.True(t, ok)
	assert.Equal(t, "approved", val)
}

func TestStateMachineEngine_ProcessEvent_GuardRoutesToDifferentState(t *testing.T) {
	engine := NewStateMachineEngine(nil, nil, DefaultStateMachineEngineConfig())
	wf := newTestStateMachineWorkflow(t)

	instance, err := engine.StartInstance(context.Background(), wf)
	require.NoError(t, err)

	_, err = engine.ProcessEvent(context.Background(), wf, instance, "approve", map[string]any{"amount": 5000})
	require.NoError(t, err)
	assert.Equal(t, "needs_review", instance.Current)
	assert.False(t, instance.Completed)
}

func TestStateMachineEngine_ProcessEvent_NoMatchingTransitionAborts(t *testing.T) {
	engine := NewStateMachineEngine(nil, nil, DefaultStateMachineEngineConfig())
	wf := newTestStateMachineWorkflow(t)

	instance, err := engine.StartInstance(context.Background(), wf)
	require.NoError(t, err)

	aborted, err := engine.ProcessEvent(context.Background(), wf, instance, "cancel", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.EventTypeTransitionAborted, aborted.EventType())
	assert.Equal(t, "pending", instance.Current)
	assert.Empty(t, instance.History)
}

func TestStateMachineEngine_ProcessEvent_TerminalInstanceRejectsFurtherEvents(t *testing.T) {
	engine := NewStateMachineEngine(nil, nil, DefaultStateMachineEngineConfig())
	wf := newTestStateMachineWorkflow(t)

	instance, err := engine.StartInstance(context.Background(), wf)
	require.NoError(t, err)

	_, err = engine.ProcessEvent(context.Background(), wf, instance, "reject", nil)
	require.NoError(t, err)
	assert.True(t, instance.Completed)

	_, err = engine.ProcessEvent(context.Background(), wf, instance, "approve", nil)
	assert.Error(t, err)
}

func TestStateMachineEngine_LogAndEmitEventActions(t *testing.T) {
	wf, err := domain.NewWorkflow("ping", "1.0.0", "", nil)
	require.NoError(t, err)
	require.NoError(t, wf.SetKind(domain.WorkflowKindStateMachine))
	require.NoError(t, wf.AddState(&domain.StateDefinition{
		Name: "start",
		Transitions: []domain.StateTransition{
			{Event: "ping", To: "done", Actions: []domain.ActionSpec{
				{Kind: domain.ActionKindLog, Config: map[string]any{"message": "pinged"}},
				{Kind: domain.ActionKindEmitEvent, Config: map[string]any{"event_type": "custom.ping", "payload": map[string]any{"ok": true}}},
			}},
		},
	}))
	require.NoError(t, wf.AddState(&domain.StateDefinition{Name: "done", IsTerminal: true}))
	require.NoError(t, wf.SetInitialState("start"))

	store := newInMemoryEventStore()
	engine := NewStateMachineEngine(store, nil, DefaultStateMachineEngineConfig())

	instance, err := engine.StartInstance(context.Background(), wf)
	require.NoError(t, err)

	_, err = engine.ProcessEvent(context.Background(), wf, instance, "ping", nil)
	require.NoError(t, err)
	assert.Equal(t, "done", instance.Current)

	events := store.events[instance.ID]
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventType("custom.ping"), events[0].EventType())
	assert.Equal(t, domain.EventTypeTransitionFired, events[1].EventType())
}

// inMemoryEventStore is a minimal domain.EventStore for exercising the
// engine's audit persistence without a real storage backend.
type inMemoryEventStore struct {
	mu     sync.Mutex
	events map[uuid.UUID][]domain.Event
}

func newInMemoryEventStore() *inMemoryEventStore {
	return &inMemoryEventStore{events: make(map[uuid.UUID][]domain.Event)}
}

func (s *inMemoryEventStore) AppendEvent(_ context.Context, event domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.AggregateID()] = append(s.events[event.AggregateID()], event)
	return nil
}

func (s *inMemoryEventStore) AppendEvents(ctx context.Context, events []domain.Event) error {
	for _, e := range events {
		if err := s.AppendEvent(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (s *inMemoryEventStore) GetEvents(_ context.Context, executionID uuid.UUID) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[executionID], nil
}

func (s *inMemoryEventStore) GetEventsSince(ctx context.Context, executionID uuid.UUID, sequenceNumber int64) ([]domain.Event, error) {
	all, _ := s.GetEvents(ctx, executionID)
	filtered := make([]domain.Event, 0, len(all))
	for _, e := range all {
		if e.SequenceNumber() > sequenceNumber {
			filtered = append(filtered, e)
		}
	}
	return filtered, nil
}

func (s *inMemoryEventStore) GetEventsByType(ctx context.Context, executionID uuid.UUID, eventType domain.EventType) ([]domain.Event, error) {
	all, _ := s.GetEvents(ctx, executionID)
	filtered := make([]domain.Event, 0, len(all))
	for _, e := range all {
		if e.EventType() == eventType {
			filtered = append(filtered, e)
		}
	}
	return filtered, nil
}

func (s *inMemoryEventStore) GetEventsByWorkflow(_ context.Context, workflowID uuid.UUID) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []domain.Event
	for _, events := range s.events {
		for _, e := range events {
			if e.WorkflowID() == workflowID {
				all = append(all, e)
			}
		}
	}
	return all, nil
}

func (s *inMemoryEventStore) GetEventCount(ctx context.Context, executionID uuid.UUID) (int64, error) {
	all, _ := s.GetEvents(ctx, executionID)
	return int64(len(all)), nil
}
