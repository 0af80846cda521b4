package executor

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/smilemakc/mbflow/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingExecutor is a NodeExecutor that always returns an error, used to
// exercise ErrorStrategyExecutor's error-handling paths.
type failingExecutor struct{}

func (failingExecutor) Execute(ctx context.Context, node domain.Node, inputs *NodeExecutionInputs) (map[string]any, error) {
	return nil, errors.New("node failed")
}

func TestCompensationManager_SequentialReverseRunsInLIFOOrder(t *testing.T) {
	cm := NewCompensationManager()

	var mu sync.Mutex
	var order []string

	cm.RegisterCompensation(uuid.New(), "first", func(ctx context.Context) error {
		mu.Lock()
		order = append(order, "first")
		mu.Unlock()
		return nil
	}, "undo first")
	cm.RegisterCompensation(uuid.New(), "second", func(ctx context.Context) error {
		mu.Lock()
		order = append(order, "second")
		mu.Unlock()
		return nil
	}, "undo second")

	errs := cm.ExecuteCompensations(context.Background())
	assert.Empty(t, errs)
	assert.Equal(t, []string{"second", "first"}, order)
}

func TestCompensationManager_SequentialReverseContinuesPastFailureByDefault(t *testing.T) {
	cm := NewCompensationManager()

	var ran []string
	cm.RegisterCompensation(uuid.New(), "a", func(ctx context.Context) error {
		ran = append(ran, "a")
		return errors.New("a failed")
	}, "")
	cm.RegisterCompensation(uuid.New(), "b", func(ctx context.Context) error {
		ran = append(ran, "b")
		return nil
	}, "")

	errs := cm.ExecuteCompensations(context.Background())
	require.Len(t, errs, 1)
	assert.Equal(t, []string{"b", "a"}, ran)
}

func TestCompensationManager_AbortOnFailStopsAfterFirstFailure(t *testing.T) {
	cm := NewCompensationManagerWithStrategy(CompensationStrategySequentialReverse, true)

	var ran []string
	cm.RegisterCompensation(uuid.New(), "a", func(ctx context.Context) error {
		ran = append(ran, "a")
		return nil
	}, "")
	cm.RegisterCompensation(uuid.New(), "b", func(ctx context.Context) error {
		ran = append(ran, "b")
		return errors.New("b failed")
	}, "")

	errs := cm.ExecuteCompensations(context.Background())
	require.Len(t, errs, 1)
	assert.Equal(t, []string{"b"}, ran)
}

func TestCompensationManager_ParallelRunsAllActions(t *testing.T) {
	cm := NewCompensationManagerWithStrategy(CompensationStrategyParallel, false)

	var mu sync.Mutex
	ran := make(map[string]bool)
	for _, name := range []string{"a", "b", "c"} {
		n := name
		cm.RegisterCompensation(uuid.New(), n, func(ctx context.Context) error {
			mu.Lock()
			ran[n] = true
			mu.Unlock()
			return nil
		}, "")
	}

	errs := cm.ExecuteCompensations(context.Background())
	assert.Empty(t, errs)
	assert.Len(t, ran, 3)
}

func TestCompensationManager_CustomPlanRunsInSuppliedOrder(t *testing.T) {
	cm := NewCompensationManagerWithStrategy(CompensationStrategyCustomPlan, false)

	idA, idB, idC := uuid.New(), uuid.New(), uuid.New()
	var order []string
	register := func(id uuid.UUID, name string) {
		cm.RegisterCompensation(id, name, func(ctx context.Context) error {
			order = append(order, name)
			return nil
		}, "")
	}
	register(idA, "a")
	register(idB, "b")
	register(idC, "c")

	errs := cm.ExecuteCompensationPlan(context.Background(), []uuid.UUID{idC, idA, idB})
	assert.Empty(t, errs)
	assert.Equal(t, []string{"c", "a", "b"}, order)
}

func TestCompensationManager_GetRegisteredActionsAndClear(t *testing.T) {
	cm := NewCompensationManager()
	cm.RegisterCompensation(uuid.New(), "a", func(ctx context.Context) error { return nil }, "undo a")

	assert.Len(t, cm.GetRegisteredActions(), 1)

	cm.Clear()
	assert.Empty(t, cm.GetRegisteredActions())
}

func TestErrorStrategyExecutor_ContinueOnErrorSwallowsFailure(t *testing.T) {
	strategy := NewContinueOnErrorStrategy()
	wrapped := NewErrorStrategyExecutor(failingExecutor{}, strategy)

	node := createMockNode(domain.NodeTypeTransform, map[string]any{})
	out, err := wrapped.Execute(context.Background(), node, createNodeInputs(domain.NewVariableSet(nil)))

	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Len(t, strategy.GetCollectedErrors(), 1)
}

func TestErrorStrategyExecutor_FailFastPropagatesFailure(t *testing.T) {
	wrapped := NewErrorStrategyExecutor(failingExecutor{}, NewFailFastStrategy())

	node := createMockNode(domain.NodeTypeTransform, map[string]any{})
	_, err := wrapped.Execute(context.Background(), node, createNodeInputs(domain.NewVariableSet(nil)))

	require.Error(t, err)
}
