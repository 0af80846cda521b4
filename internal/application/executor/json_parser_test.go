package executor

import (
	"context"
	"testing"

	"github.com/smilemakc/mbflow/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONParserExecutor(t *testing.T) {
	t.Run("parses a JSON object into the same key", func(t *testing.T) {
		executor := NewJSONParserExecutor()
		config := map[string]any{"input_key": "payload"}
		node := createMockNode(domain.NodeTypeJSONParser, config)
		variables := domain.NewVariableSet(nil)
		require.NoError(t, variables.Set("payload", `{"name":"ada","age":36}`))

		result, err := executor.Execute(context.Background(), node, createNodeInputs(variables))

		require.NoError(t, err)
		assert.Equal(t, "success", result["status"])
		parsed, ok := result["payload"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "ada", parsed["name"])
		assert.Equal(t, float64(36), parsed["age"])
	})

	t.Run("writes to a distinct output_key when configured", func(t *testing.T) {
		executor := NewJSONParserExecutor()
		config := map[string]any{"input_key": "raw", "output_key": "parsed"}
		node := createMockNode(domain.NodeTypeJSONParser, config)
		variables := domain.NewVariableSet(nil)
		require.NoError(t, variables.Set("raw", `[1,2,3]`))

		result, err := executor.Execute(context.Background(), node, createNodeInputs(variables))

		require.NoError(t, err)
		_, stillRaw := result["raw"]
		assert.False(t, stillRaw)
		assert.Equal(t, []any{float64(1), float64(2), float64(3)}, result["parsed"])
	})

	t.Run("passes through values that are already parsed", func(t *testing.T) {
		executor := NewJSONParserExecutor()
		config := map[string]any{"input_key": "payload"}
		node := createMockNode(domain.NodeTypeJSONParser, config)
		variables := domain.NewVariableSet(nil)
		require.NoError(t, variables.Set("payload", map[string]any{"already": true}))

		result, err := executor.Execute(context.Background(), node, createNodeInputs(variables))

		require.NoError(t, err)
		assert.Equal(t, "passthrough", result["status"])
		assert.Equal(t, true, result["already_parsed"])
	})

	t.Run("fail_on_error=true returns an error for malformed JSON", func(t *testing.T) {
		executor := NewJSONParserExecutor()
		config := map[string]any{"input_key": "payload", "fail_on_error": true}
		node := createMockNode(domain.NodeTypeJSONParser, config)
		variables := domain.NewVariableSet(nil)
		require.NoError(t, variables.Set("payload", `{not valid`))

		result, err := executor.Execute(context.Background(), node, createNodeInputs(variables))

		require.Error(t, err)
		assert.Nil(t, result)
	})

	t.Run("fail_on_error=false passes through on malformed JSON", func(t *testing.T) {
		executor := NewJSONParserExecutor()
		config := map[string]any{"input_key": "payload", "fail_on_error": false}
		node := createMockNode(domain.NodeTypeJSONParser, config)
		variables := domain.NewVariableSet(nil)
		require.NoError(t, variables.Set("payload", `{not valid`))

		result, err := executor.Execute(context.Background(), node, createNodeInputs(variables))

		require.NoError(t, err)
		assert.Equal(t, "parse_error", result["status"])
		assert.NotEmpty(t, result["error"])
	})

	t.Run("missing input_key in config is a configuration error", func(t *testing.T) {
		executor := NewJSONParserExecutor()
		node := createMockNode(domain.NodeTypeJSONParser, map[string]any{})
		variables := domain.NewVariableSet(nil)

		result, err := executor.Execute(context.Background(), node, createNodeInputs(variables))

		require.Error(t, err)
		assert.Nil(t, result)
	})

	t.Run("missing input variable is a node execution error", func(t *testing.T) {
		executor := NewJSONParserExecutor()
		config := map[string]any{"input_key": "missing"}
		node := createMockNode(domain.NodeTypeJSONParser, config)
		variables := domain.NewVariableSet(nil)

		result, err := executor.Execute(context.Background(), node, createNodeInputs(variables))

		require.Error(t, err)
		assert.Nil(t, result)
	})
}
