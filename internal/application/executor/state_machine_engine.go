package executor

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/smilemakc/mbflow/internal/domain"
	"github.com/smilemakc/mbflow/internal/infrastructure/monitoring"
)

// ActionDispatcher performs the side effects an ActionSpec can't satisfy on
// its own: invoking an agent or tool, or starting/cancelling a timer. The
// state machine engine owns transition evaluation only, not agent/tool
// adapters or timer infrastructure, so callers that need those wire in their
// own ActionDispatcher via StateMachineEngineConfig. log, set_context and
// emit_event are handled directly by the engine and never reach here.
type ActionDispatcher interface {
	InvokeAgent(ctx context.Context, instance *domain.StateMachineInstance, config map[string]any) error
	InvokeTool(ctx context.Context, instance *domain.StateMachineInstance, config map[string]any) error
	StartTimer(ctx context.Context, instance *domain.StateMachineInstance, config map[string]any) error
	CancelTimer(ctx context.Context, instance *domain.StateMachineInstance, config map[string]any) error
}

// NoOpActionDispatcher logs and skips every action it's asked to perform.
// It's the engine's default so a state machine with invoke_agent/invoke_tool
// actions still runs end to end before a host wires in real adapters.
type NoOpActionDispatcher struct{}

func (NoOpActionDispatcher) InvokeAgent(_ context.Context, instance *domain.StateMachineInstance, config map[string]any) error {
	log.Debug().Str("instance_id", instance.ID.String()).Interface("config", config).Msg("invoke_agent has no dispatcher configured, skipping")
	return nil
}

func (NoOpActionDispatcher) InvokeTool(_ context.Context, instance *domain.StateMachineInstance, config map[string]any) error {
	log.Debug().Str("instance_id", instance.ID.String()).Interface("config", config).Msg("invoke_tool has no dispatcher configured, skipping")
	return nil
}

func (NoOpActionDispatcher) StartTimer(_ context.Context, instance *domain.StateMachineInstance, config map[string]any) error {
	log.Debug().Str("instance_id", instance.ID.String()).Interface("config", config).Msg("timer_start has no dispatcher configured, skipping")
	return nil
}

func (NoOpActionDispatcher) CancelTimer(_ context.Context, instance *domain.StateMachineInstance, config map[string]any) error {
	log.Debug().Str("instance_id", instance.ID.String()).Interface("config", config).Msg("timer_cancel has no dispatcher configured, skipping")
	return nil
}

// StateMachineEngineConfig configures a StateMachineEngine.
type StateMachineEngineConfig struct {
	ActionDispatcher ActionDispatcher
}

// DefaultStateMachineEngineConfig returns a config using NoOpActionDispatcher.
func DefaultStateMachineEngineConfig() StateMachineEngineConfig {
	return StateMachineEngineConfig{ActionDispatcher: NoOpActionDispatcher{}}
}

// instanceRuntime serializes ProcessEvent calls against one instance and
// tracks its own audit event sequence number, independent of any Execution
// aggregate's version.
type instanceRuntime struct {
	mu  sync.Mutex
	seq int64
}

// StateMachineEngine runs StateMachineInstance transitions for workflows
// whose Kind is WorkflowKindStateMachine or WorkflowKindHybrid. ProcessEvent
// matches the current state's transitions against an incoming event ordered
// by priority, evaluates each candidate's guard with expr-lang, and on the
// first match runs the outgoing state's on_exit actions and the transition's
// own actions, then updates the instance's current state and history, then
// runs the target state's on_enter actions, all under a per-instance lock.
type StateMachineEngine struct {
	eventStore      domain.EventStore
	observerManager *monitoring.ObserverManager
	evaluator       *ConditionEvaluator
	dispatcher      ActionDispatcher

	runtimes sync.Map // map[uuid.UUID]*instanceRuntime
}

// NewStateMachineEngine creates a state machine engine. eventStore and
// observerManager may be nil for tests that don't need audit persistence or
// notifications.
func NewStateMachineEngine(eventStore domain.EventStore, observerManager *monitoring.ObserverManager, config StateMachineEngineConfig) *StateMachineEngine {
	dispatcher := config.ActionDispatcher
	if dispatcher == nil {
		dispatcher = NoOpActionDispatcher{}
	}
	return &StateMachineEngine{
		eventStore:      eventStore,
		observerManager: observerManager,
		evaluator:       NewConditionEvaluator(true),
		dispatcher:      dispatcher,
	}
}

func (e *StateMachineEngine) runtimeFor(instanceID uuid.UUID) *instanceRuntime {
	val, _ := e.runtimes.LoadOrStore(instanceID, &instanceRuntime{})
	return val.(*instanceRuntime)
}

// StartInstance creates a new instance positioned at the workflow's initial
// state and runs that state's on_enter actions.
func (e *StateMachineEngine) StartInstance(ctx context.Context, workflow domain.Workflow) (*domain.StateMachineInstance, error) {
	if workflow.Kind() != domain.WorkflowKindStateMachine && workflow.Kind() != domain.WorkflowKindHybrid {
		return nil, domain.NewDomainError(domain.ErrCodeInvalidState, fmt.Sprintf("workflow %s is not a state machine", workflow.ID()), nil)
	}
	initial := workflow.InitialState()
	if initial == "" {
		return nil, domain.NewDomainError(domain.ErrCodeInvalidState, "workflow has no initial state set", nil)
	}
	state, err := workflow.GetState(initial)
	if err != nil {
		return nil, err
	}

	instance := domain.NewStateMachineInstance(workflow.ID(), initial)
	runtime := e.runtimeFor(instance.ID)
	runtime.mu.Lock()
	defer runtime.mu.Unlock()

	if err := e.runActions(ctx, instance, state.OnEnter, runtime); err != nil {
		return instance, fmt.Errorf("on_enter actions for initial state %q failed: %w", initial, err)
	}
	instance.Completed = state.IsTerminal

	if e.observerManager != nil {
		e.observerManager.NotifyVariableSet(workflow.ID().String(), instance.ID.String(), "state", initial)
	}
	return instance, nil
}

// ProcessEvent advances instance by firing the highest-priority,
// guard-passing transition registered on its current state for event.
// Returns the fired or aborted audit event so callers can inspect the
// outcome; both kinds are persisted via the injected EventStore when one is
// configured. An event for which no transition matches, or for which every
// matching transition's guard evaluates false, aborts without error: the
// instance stays in its current state and a transition.aborted event
// records why.
func (e *StateMachineEngine) ProcessEvent(
	ctx context.Context,
	workflow domain.Workflow,
	instance *domain.StateMachineInstance,
	event string,
	payload map[string]any,
) (domain.Event, error) {
	runtime := e.runtimeFor(instance.ID)
	runtime.mu.Lock()
	defer runtime.mu.Unlock()

	if instance.Completed {
		return nil, domain.NewDomainError(domain.ErrCodeInvalidState, fmt.Sprintf("instance %s already reached a terminal state", instance.ID), nil)
	}

	currentState, err := workflow.GetState(instance.Current)
	if err != nil {
		return nil, err
	}

	for k, v := range payload {
		if err := instance.Context.Set(k, v); err != nil {
			return nil, fmt.Errorf("failed to apply event payload: %w", err)
		}
	}

	candidates := currentState.TransitionsFor(event)
	if len(candidates) == 0 {
		return e.recordAbort(ctx, instance, workflow.ID(), event, "no transition registered for event", runtime)
	}

	vars := instance.Context.All()
	var matched *domain.StateTransition
	for i := range candidates {
		t := &candidates[i]
		if t.Guard == "" {
			matched = t
			break
		}
		ok, err := e.evaluator.Evaluate(t.Guard, vars)
		if err != nil {
			log.Warn().Str("instance_id", instance.ID.String()).Str("event", event).Err(err).
				Msg("transition guard failed to evaluate, treating as not matched")
			continue
		}
		if ok {
			matched = t
			break
		}
	}

	if matched == nil {
		return e.recordAbort(ctx, instance, workflow.ID(), event, "every matching transition's guard evaluated false", runtime)
	}

	targetState, err := workflow.GetState(matched.To)
	if err != nil {
		return nil, fmt.Errorf("transition to unknown state %q: %w", matched.To, err)
	}

	if err := e.runActions(ctx, instance, currentState.OnExit, runtime); err != nil {
		return nil, fmt.Errorf("on_exit actions for state %q failed: %w", currentState.Name, err)
	}
	if err := e.runActions(ctx, instance, matched.Actions, runtime); err != nil {
		return nil, fmt.Errorf("transition actions for event %q failed: %w", event, err)
	}

	fromState := instance.Current
	instance.RecordTransition(fromState, matched.To, event)

	if err := e.runActions(ctx, instance, targetState.OnEnter, runtime); err != nil {
		return nil, fmt.Errorf("on_enter actions for state %q failed: %w", targetState.Name, err)
	}
	instance.Completed = targetState.IsTerminal

	runtime.seq++
	firedEvent := domain.NewTransitionFiredEvent(instance.ID, workflow.ID(), runtime.seq, fromState, matched.To, event)
	if err := e.persist(ctx, firedEvent); err != nil {
		return firedEvent, err
	}

	if e.observerManager != nil {
		e.observerManager.NotifyVariableSet(workflow.ID().String(), instance.ID.String(), "state", matched.To)
	}

	return firedEvent, nil
}

func (e *StateMachineEngine) recordAbort(
	ctx context.Context,
	instance *domain.StateMachineInstance,
	workflowID uuid.UUID,
	event, reason string,
	runtime *instanceRuntime,
) (domain.Event, error) {
	runtime.seq++
	abortEvent := domain.NewTransitionAbortedEvent(instance.ID, workflowID, runtime.seq, instance.Current, event, reason)
	if err := e.persist(ctx, abortEvent); err != nil {
		return abortEvent, err
	}
	return abortEvent, nil
}

func (e *StateMachineEngine) persist(ctx context.Context, event domain.Event) error {
	if e.eventStore == nil {
		return nil
	}
	return e.eventStore.AppendEvent(ctx, event)
}

// runActions executes a list of actions in declared order, stopping at the
// first error. Partial side effects from earlier actions in the list are
// not rolled back; callers that need transactional hooks should keep each
// action idempotent.
func (e *StateMachineEngine) runActions(ctx context.Context, instance *domain.StateMachineInstance, actions []domain.ActionSpec, runtime *instanceRuntime) error {
	for _, action := range actions {
		if err := e.runAction(ctx, instance, action, runtime); err != nil {
			return err
		}
	}
	return nil
}

func (e *StateMachineEngine) runAction(ctx context.Context, instance *domain.StateMachineInstance, action domain.ActionSpec, runtime *instanceRuntime) error {
	switch action.Kind {
	case domain.ActionKindLog:
		message, _ := action.Config["message"].(string)
		level, _ := action.Config["level"].(string)
		e.logAction(instance, level, resolveActionValue(message, instance.Context.All()).(string))
		return nil

	case domain.ActionKindSetContext:
		key, _ := action.Config["key"].(string)
		if key == "" {
			return domain.NewDomainError(domain.ErrCodeInvalidInput, "set_context action missing key", nil)
		}
		return instance.Context.Set(key, resolveActionValue(action.Config["value"], instance.Context.All()))

	case domain.ActionKindEmitEvent:
		eventType, _ := action.Config["event_type"].(string)
		if eventType == "" {
			return domain.NewDomainError(domain.ErrCodeInvalidInput, "emit_event action missing event_type", nil)
		}
		payload, _ := action.Config["payload"].(map[string]any)
		runtime.seq++
		return e.persist(ctx, domain.NewEvent(
			domain.EventType(eventType),
			instance.ID,
			runtime.seq,
			instance.WorkflowID,
			uuid.Nil,
			payload,
			nil,
		))

	case domain.ActionKindInvokeAgent:
		return e.dispatcher.InvokeAgent(ctx, instance, action.Config)

	case domain.ActionKindInvokeTool:
		return e.dispatcher.InvokeTool(ctx, instance, action.Config)

	case domain.ActionKindTimerStart:
		return e.dispatcher.StartTimer(ctx, instance, action.Config)

	case domain.ActionKindTimerCancel:
		return e.dispatcher.CancelTimer(ctx, instance, action.Config)

	default:
		return domain.NewDomainError(domain.ErrCodeInvalidInput, fmt.Sprintf("unknown action kind %q", action.Kind), nil)
	}
}

func (e *StateMachineEngine) logAction(instance *domain.StateMachineInstance, level, message string) {
	evt := log.Info()
	switch level {
	case "debug":
		evt = log.Debug()
	case "warn":
		evt = log.Warn()
	case "error":
		evt = log.Error()
	}
	evt.Str("instance_id", instance.ID.String()).Str("state", instance.Current).Msg(message)
}

// resolveActionValue substitutes {{var}} placeholders when value is a
// string, looking them up against the instance's context; any other type is
// returned unchanged since actions may set structured values directly.
func resolveActionValue(value any, vars map[string]any) any {
	str, ok := value.(string)
	if !ok {
		return value
	}
	return templatePlaceholderRegexp.ReplaceAllStringFunc(str, func(match string) string {
		submatches := templatePlaceholderRegexp.FindStringSubmatch(match)
		key := strings.TrimSpace(submatches[1])
		if v, ok := vars[key]; ok {
			return fmt.Sprintf("%v", v)
		}
		return match
	})
}
