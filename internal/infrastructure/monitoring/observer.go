package monitoring

import (
	"sync"
	"time"

	"github.com/smilemakc/mbflow/internal/domain"
)

// ExecutionObserver receives lifecycle notifications for workflow and node
// execution. Implementations must not block the engine for long; anything
// that talks to a slow external system (HTTP callback, ClickHouse) should
// buffer or fire-and-forget internally.
type ExecutionObserver interface {
	OnExecutionStarted(workflowID, executionID string)
	OnExecutionCompleted(workflowID, executionID string, duration time.Duration)
	OnExecutionFailed(workflowID, executionID string, err error, duration time.Duration)

	OnNodeStarted(workflowID, executionID string, node domain.Node, attemptNumber int)
	OnNodeCompleted(workflowID, executionID string, node domain.Node, output interface{}, duration time.Duration)
	OnNodeFailed(workflowID, executionID string, node domain.Node, err error, duration time.Duration, willRetry bool)
	OnNodeRetrying(workflowID, executionID string, node domain.Node, attemptNumber int, delay time.Duration)

	OnVariableSet(workflowID, executionID, key string, value interface{})

	OnNodeCallbackStarted(workflowID, executionID string, node domain.Node)
	OnNodeCallbackCompleted(workflowID, executionID string, node domain.Node, err error, duration time.Duration)
}

// ObserverManager fans out lifecycle notifications to every registered
// ExecutionObserver. A panic in one observer must not take down the engine,
// so each notification is isolated with a recover.
type ObserverManager struct {
	mu        sync.RWMutex
	observers []ExecutionObserver
}

// NewObserverManager creates an empty ObserverManager.
func NewObserverManager() *ObserverManager {
	return &ObserverManager{
		observers: make([]ExecutionObserver, 0),
	}
}

// Register adds an observer to the fan-out list.
func (m *ObserverManager) Register(observer ExecutionObserver) {
	if observer == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, observer)
}

func (m *ObserverManager) snapshot() []ExecutionObserver {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ExecutionObserver, len(m.observers))
	copy(out, m.observers)
	return out
}

func safeNotify(fn func()) {
	defer func() {
		_ = recover()
	}()
	fn()
}

func (m *ObserverManager) NotifyExecutionStarted(workflowID, executionID string) {
	for _, o := range m.snapshot() {
		o := o
		safeNotify(func() { o.OnExecutionStarted(workflowID, executionID) })
	}
}

func (m *ObserverManager) NotifyExecutionCompleted(workflowID, executionID string, duration time.Duration) {
	for _, o := range m.snapshot() {
		o := o
		safeNotify(func() { o.OnExecutionCompleted(workflowID, executionID, duration) })
	}
}

func (m *ObserverManager) NotifyExecutionFailed(workflowID, executionID string, err error, duration time.Duration) {
	for _, o := range m.snapshot() {
		o := o
		safeNotify(func() { o.OnExecutionFailed(workflowID, executionID, err, duration) })
	}
}

func (m *ObserverManager) NotifyNodeStarted(workflowID, executionID string, node domain.Node, attemptNumber int) {
	for _, o := range m.snapshot() {
		o := o
		safeNotify(func() { o.OnNodeStarted(workflowID, executionID, node, attemptNumber) })
	}
}

func (m *ObserverManager) NotifyNodeCompleted(workflowID, executionID string, node domain.Node, output interface{}, duration time.Duration) {
	for _, o := range m.snapshot() {
		o := o
		safeNotify(func() { o.OnNodeCompleted(workflowID, executionID, node, output, duration) })
	}
}

func (m *ObserverManager) NotifyNodeFailed(workflowID, executionID string, node domain.Node, err error, duration time.Duration, willRetry bool) {
	for _, o := range m.snapshot() {
		o := o
		safeNotify(func() { o.OnNodeFailed(workflowID, executionID, node, err, duration, willRetry) })
	}
}

func (m *ObserverManager) NotifyNodeRetrying(workflowID, executionID string, node domain.Node, attemptNumber int, delay time.Duration) {
	for _, o := range m.snapshot() {
		o := o
		safeNotify(func() { o.OnNodeRetrying(workflowID, executionID, node, attemptNumber, delay) })
	}
}

func (m *ObserverManager) NotifyVariableSet(workflowID, executionID, key string, value interface{}) {
	for _, o := range m.snapshot() {
		o := o
		safeNotify(func() { o.OnVariableSet(workflowID, executionID, key, value) })
	}
}

func (m *ObserverManager) NotifyNodeCallbackStarted(workflowID, executionID string, node domain.Node) {
	for _, o := range m.snapshot() {
		o := o
		safeNotify(func() { o.OnNodeCallbackStarted(workflowID, executionID, node) })
	}
}

func (m *ObserverManager) NotifyNodeCallbackCompleted(workflowID, executionID string, node domain.Node, err error, duration time.Duration) {
	for _, o := range m.snapshot() {
		o := o
		safeNotify(func() { o.OnNodeCallbackCompleted(workflowID, executionID, node, err, duration) })
	}
}
