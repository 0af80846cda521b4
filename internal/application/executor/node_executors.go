package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"

	"github.com/smilemakc/mbflow/internal/domain"
	"github.com/smilemakc/mbflow/internal/domain/errors"
	"github.com/smilemakc/mbflow/internal/infrastructure/monitoring"
)

// RegisterDefaultExecutors wires the built-in node executors into an engine's
// executor registry. Callers that only need a subset, or custom adapters for
// agent/tool invocation, can skip this and call RegisterNodeExecutor directly.
func RegisterDefaultExecutors(e *WorkflowEngine) {
	e.RegisterNodeExecutor(domain.NodeTypeStart, &NoOpExecutor{})
	e.RegisterNodeExecutor(domain.NodeTypeEnd, &NoOpExecutor{})
	e.RegisterNodeExecutor(domain.NodeTypeTransform, NewTransformExecutor())
	e.RegisterNodeExecutor(domain.NodeTypeParallel, NewParallelPassthroughExecutor())
	e.RegisterNodeExecutor(domain.NodeTypeLoop, NewLoopExecutor(e))
	// domain.NodeTypeJoin is dispatched directly by the engine against the
	// execution's JoinEvaluator (see executeNode) rather than through the
	// registry, since join evaluation is scoped per execution, not per engine.
	e.RegisterNodeExecutor(domain.NodeTypeConditionalRoute, NewConditionalRouterExecutor())
	e.RegisterNodeExecutor(domain.NodeTypeDataMerger, NewDataMergerExecutor())
	e.RegisterNodeExecutor(domain.NodeTypeDataAggregator, NewDataAggregatorExecutor())
	e.RegisterNodeExecutor(domain.NodeTypeScriptExecutor, NewScriptExecutorExecutor())
	e.RegisterNodeExecutor(domain.NodeTypeJSONParser, NewJSONParserExecutor())
	e.RegisterNodeExecutor(domain.NodeTypeHTTPRequest, NewHTTPRequestExecutor())
	e.RegisterNodeExecutor(domain.NodeTypeHTTP, NewHTTPRequestExecutor())
	e.RegisterNodeExecutor(domain.NodeTypeTelegramMessage, NewTelegramMessageExecutor())
	e.RegisterNodeExecutor(domain.NodeTypeOpenAICompletion, NewOpenAICompletionExecutor(""))
	e.RegisterNodeExecutor(domain.NodeTypeOpenAIResponses, NewOpenAIResponsesExecutor(""))
	e.RegisterNodeExecutor(domain.NodeTypeLLM, NewOpenAICompletionExecutor(""))
}

// allVariables merges scoped and global variables the way node executors
// expect to see them: scoped bindings take precedence over global context.
func allVariables(inputs *NodeExecutionInputs) map[string]any {
	merged := make(map[string]any)
	if inputs.GlobalContext != nil {
		for k, v := range inputs.GlobalContext.All() {
			merged[k] = v
		}
	}
	if inputs.Variables != nil {
		for k, v := range inputs.Variables.All() {
			merged[k] = v
		}
	}
	return merged
}

func lookupVariable(inputs *NodeExecutionInputs, key string) (any, bool) {
	if inputs.Variables != nil {
		if v, ok := inputs.Variables.Get(key); ok {
			return v, true
		}
	}
	if inputs.GlobalContext != nil {
		if v, ok := inputs.GlobalContext.Get(key); ok {
			return v, true
		}
	}
	return nil, false
}

// TransformExecutor evaluates a declared expr-lang expression against the
// merged input variables and returns its result under "output_key" (default
// "output"). Without an expression it returns the merged variables.
type TransformExecutor struct{}

func NewTransformExecutor() *TransformExecutor { return &TransformExecutor{} }

func (e *TransformExecutor) Execute(ctx context.Context, node domain.Node, inputs *NodeExecutionInputs) (map[string]any, error) {
	cfg := node.Config()
	outputKey, _ := cfg["output_key"].(string)
	if outputKey == "" {
		outputKey = "output"
	}

	expression, _ := cfg["expression"].(string)
	vars := allVariables(inputs)
	if expression == "" {
		return vars, nil
	}

	evaluator := NewConditionEvaluator(true)
	result, err := evaluator.EvaluateExpression(expression, vars)
	if err != nil {
		return nil, errors.NewNodeExecutionError(
			inputs.WorkflowID.String(), inputs.ExecutionID.String(), node.ID().String(),
			string(node.Type()), 1, fmt.Sprintf("transform expression failed: %v", err), err, false,
		)
	}

	return map[string]any{outputKey: result}, nil
}

// ParallelPassthroughExecutor runs for "parallel" control nodes. Fan-out
// itself is handled by the engine dispatching every branch head in the same
// wave; this executor just forwards the merged inputs downstream.
type ParallelPassthroughExecutor struct{}

func NewParallelPassthroughExecutor() *ParallelPassthroughExecutor { return &ParallelPassthroughExecutor{} }

func (e *ParallelPassthroughExecutor) Execute(ctx context.Context, node domain.Node, inputs *NodeExecutionInputs) (map[string]any, error) {
	return allVariables(inputs), nil
}

// LoopExecutor computes the iterations of a loop node and returns one record
// per iteration under "output_key" (default "iterations") plus
// "iteration_count". It does not invoke any other node: no region of the
// workflow is re-run per iteration. Supported subtypes
// (node.Config()["loop_type"]): "count" (fixed number of iterations),
// "while" (expr-lang condition, evaluated against the input variables plus
// the current "iteration" index), "for_each" (iterate a collection).
// Iterations are bounded by "max_iterations" (default 1000) to guarantee
// termination regardless of subtype.
type LoopExecutor struct {
	engine *WorkflowEngine
}

func NewLoopExecutor(engine *WorkflowEngine) *LoopExecutor {
	return &LoopExecutor{engine: engine}
}

func (e *LoopExecutor) Execute(ctx context.Context, node domain.Node, inputs *NodeExecutionInputs) (map[string]any, error) {
	cfg := node.Config()
	loopType, _ := cfg["loop_type"].(string)
	maxIterations := 1000
	if n, ok := cfg["max_iterations"].(int); ok && n > 0 {
		maxIterations = n
	}

	outputKey, _ := cfg["output_key"].(string)
	if outputKey == "" {
		outputKey = "iterations"
	}

	vars := allVariables(inputs)
	evaluator := NewConditionEvaluator(true)
	results := make([]any, 0)

	switch loopType {
	case "for_each":
		itemsKey, _ := cfg["items_key"].(string)
		items, _ := lookupVariable(inputs, itemsKey)
		list, ok := items.([]any)
		if !ok {
			return nil, errors.NewConfigurationError("loop", fmt.Sprintf("items_key %q is not a list", itemsKey))
		}
		for i, item := range list {
			if i >= maxIterations {
				break
			}
			results = append(results, map[string]any{"index": i, "item": item})
		}

	case "while":
		condition, _ := cfg["condition"].(string)
		if condition == "" {
			return nil, errors.NewConfigurationError("loop", "while loop missing 'condition'")
		}
		iteration := 0
		for iteration < maxIterations {
			iterVars := make(map[string]any, len(vars)+1)
			for k, v := range vars {
				iterVars[k] = v
			}
			iterVars["iteration"] = iteration
			cont, err := evaluator.EvaluateExpression(condition, iterVars)
			if err != nil {
				return nil, errors.NewNodeExecutionError(
					inputs.WorkflowID.String(), inputs.ExecutionID.String(), node.ID().String(),
					string(node.Type()), 1, fmt.Sprintf("loop condition failed: %v", err), err, false,
				)
			}
			ok, _ := cont.(bool)
			if !ok {
				break
			}
			results = append(results, map[string]any{"index": iteration})
			iteration++
		}

	default: // "count", or unspecified defaults to a fixed count
		count := maxIterations
		if n, ok := cfg["count"].(int); ok {
			count = n
		}
		if count > maxIterations {
			count = maxIterations
		}
		for i := 0; i < count; i++ {
			results = append(results, map[string]any{"index": i})
		}
	}

	return map[string]any{outputKey: results, "iteration_count": len(results)}, nil
}

// OpenAICompletionExecutor executes OpenAI completion nodes.
// It sends requests to the OpenAI API and returns the generated text.
// API key can be provided in node config, execution context, or as default during construction.
type OpenAICompletionExecutor struct {
	// defaultAPIKey is optional; used as fallback if not provided in config or context
	defaultAPIKey string
	// metrics is optional; when set, AI request usage will be recorded
	metrics *monitoring.MetricsCollector
}

// NewOpenAICompletionExecutor creates a new OpenAICompletionExecutor.
// apiKey is optional and used as fallback if not provided in node config or execution context.
func NewOpenAICompletionExecutor(apiKey string) *OpenAICompletionExecutor {
	return &OpenAICompletionExecutor{defaultAPIKey: apiKey}
}

// NewOpenAICompletionExecutorWithMetrics creates a new OpenAICompletionExecutor with metrics collection enabled.
func NewOpenAICompletionExecutorWithMetrics(apiKey string, metrics *monitoring.MetricsCollector) *OpenAICompletionExecutor {
	return &OpenAICompletionExecutor{defaultAPIKey: apiKey, metrics: metrics}
}

// Execute executes an OpenAI completion node.
// API key is resolved in the following order:
// 1. From node config["api_key"]
// 2. From execution variables "openai_api_key" or "OPENAI_API_KEY"
// 3. From default API key provided during construction
func (e *OpenAICompletionExecutor) Execute(ctx context.Context, node domain.Node, inputs *NodeExecutionInputs) (map[string]any, error) {
	cfg, err := parseConfig[OpenAICompletionConfig](node.Config())
	if err != nil {
		return nil, errors.NewConfigurationError("openai-completion", fmt.Sprintf("failed to parse config: %v", err))
	}

	if cfg.Prompt == "" {
		return nil, errors.NewConfigurationError("openai-completion", "missing 'prompt' in config")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o"
	}
	if cfg.OutputKey == "" {
		cfg.OutputKey = "output"
	}

	apiKey, err := e.resolveAPIKey(cfg.APIKey, inputs)
	if err != nil {
		return nil, err
	}

	client := openai.NewClient(apiKey)
	vars := allVariables(inputs)
	prompt := substituteVariables(cfg.Prompt, vars)

	req := openai.ChatCompletionRequest{
		Model:               cfg.Model,
		MaxCompletionTokens: cfg.MaxTokens,
		Temperature:         float32(cfg.Temperature),
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}

	startTime := time.Now()
	resp, err := client.CreateChatCompletion(ctx, req)
	latency := time.Since(startTime)

	if err != nil {
		return nil, errors.NewNodeExecutionError(
			inputs.WorkflowID.String(), inputs.ExecutionID.String(), node.ID().String(),
			"openai-completion", 1, fmt.Sprintf("OpenAI API error: %v", err), err, true,
		)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.NewNodeExecutionError(
			inputs.WorkflowID.String(), inputs.ExecutionID.String(), node.ID().String(),
			"openai-completion", 1, "OpenAI returned no choices", nil, false,
		)
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)

	if e.metrics != nil {
		e.metrics.RecordAIRequest(resp.Usage.PromptTokens, resp.Usage.CompletionTokens, latency)
	}

	log.Debug().Str("node_id", node.ID().String()).Msgf("OpenAI completion: %s", content)

	return map[string]any{
		cfg.OutputKey:       content,
		"model":             resp.Model,
		"response_id":       resp.ID,
		"prompt_tokens":     resp.Usage.PromptTokens,
		"completion_tokens": resp.Usage.CompletionTokens,
		"total_tokens":      resp.Usage.TotalTokens,
		"latency_ms":        latency.Milliseconds(),
	}, nil
}

func (e *OpenAICompletionExecutor) resolveAPIKey(configKey string, inputs *NodeExecutionInputs) (string, error) {
	if configKey != "" {
		return configKey, nil
	}
	if v, ok := lookupVariable(inputs, "openai_api_key"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s, nil
		}
	}
	if v, ok := lookupVariable(inputs, "OPENAI_API_KEY"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s, nil
		}
	}
	if e.defaultAPIKey != "" {
		return e.defaultAPIKey, nil
	}
	return "", errors.NewConfigurationError("openai-completion", "API key not found in node config, execution context, or default configuration")
}

// OpenAIResponsesExecutor executes OpenAI Responses API nodes with support
// for structured output via response_format.
type OpenAIResponsesExecutor struct {
	defaultAPIKey string
	metrics       *monitoring.MetricsCollector
}

func NewOpenAIResponsesExecutor(apiKey string) *OpenAIResponsesExecutor {
	return &OpenAIResponsesExecutor{defaultAPIKey: apiKey}
}

func NewOpenAIResponsesExecutorWithMetrics(apiKey string, metrics *monitoring.MetricsCollector) *OpenAIResponsesExecutor {
	return &OpenAIResponsesExecutor{defaultAPIKey: apiKey, metrics: metrics}
}

func (e *OpenAIResponsesExecutor) Execute(ctx context.Context, node domain.Node, inputs *NodeExecutionInputs) (map[string]any, error) {
	cfg, err := parseConfig[OpenAIResponsesConfig](node.Config())
	if err != nil {
		return nil, errors.NewConfigurationError("openai-responses", fmt.Sprintf("failed to parse config: %v", err))
	}

	if cfg.Prompt == "" {
		return nil, errors.NewConfigurationError("openai-responses", "missing 'prompt' in config")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o"
	}
	if cfg.OutputKey == "" {
		cfg.OutputKey = "output"
	}

	apiKey, err := e.resolveAPIKey(cfg.APIKey, inputs)
	if err != nil {
		return nil, err
	}

	client := openai.NewClient(apiKey)
	vars := allVariables(inputs)
	prompt := substituteVariables(cfg.Prompt, vars)

	req := openai.ChatCompletionRequest{
		Model:               cfg.Model,
		MaxCompletionTokens: cfg.MaxTokens,
		Temperature:         float32(cfg.Temperature),
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if cfg.TopP > 0 {
		req.TopP = float32(cfg.TopP)
	}
	if cfg.FrequencyPenalty != 0 {
		req.FrequencyPenalty = float32(cfg.FrequencyPenalty)
	}
	if cfg.PresencePenalty != 0 {
		req.PresencePenalty = float32(cfg.PresencePenalty)
	}
	if len(cfg.Stop) > 0 {
		req.Stop = cfg.Stop
	}
	if cfg.ResponseFormat != nil {
		formatBytes, err := json.Marshal(cfg.ResponseFormat)
		if err != nil {
			return nil, errors.NewConfigurationError("openai-responses", fmt.Sprintf("failed to marshal response_format: %v", err))
		}
		var responseFormat openai.ChatCompletionResponseFormat
		if err := json.Unmarshal(formatBytes, &responseFormat); err != nil {
			return nil, errors.NewConfigurationError("openai-responses", fmt.Sprintf("failed to parse response_format: %v", err))
		}
		req.ResponseFormat = &responseFormat
	}

	startTime := time.Now()
	resp, err := client.CreateChatCompletion(ctx, req)
	latency := time.Since(startTime)

	if err != nil {
		return nil, errors.NewNodeExecutionError(
			inputs.WorkflowID.String(), inputs.ExecutionID.String(), node.ID().String(),
			"openai-responses", 1, fmt.Sprintf("OpenAI API error: %v", err), err, true,
		)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.NewNodeExecutionError(
			inputs.WorkflowID.String(), inputs.ExecutionID.String(), node.ID().String(),
			"openai-responses", 1, "OpenAI returned no choices", nil, false,
		)
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	var outputValue any = content
	if cfg.ResponseFormat != nil {
		var jsonContent any
		if err := json.Unmarshal([]byte(content), &jsonContent); err == nil {
			outputValue = jsonContent
		}
	}

	if e.metrics != nil {
		e.metrics.RecordAIRequest(resp.Usage.PromptTokens, resp.Usage.CompletionTokens, latency)
	}

	return map[string]any{
		cfg.OutputKey:       outputValue,
		"content":           content,
		"model":             resp.Model,
		"response_id":       resp.ID,
		"prompt_tokens":     resp.Usage.PromptTokens,
		"completion_tokens": resp.Usage.CompletionTokens,
		"total_tokens":      resp.Usage.TotalTokens,
		"latency_ms":        latency.Milliseconds(),
	}, nil
}

func (e *OpenAIResponsesExecutor) resolveAPIKey(configKey string, inputs *NodeExecutionInputs) (string, error) {
	if configKey != "" {
		return configKey, nil
	}
	if v, ok := lookupVariable(inputs, "openai_api_key"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s, nil
		}
	}
	if v, ok := lookupVariable(inputs, "OPENAI_API_KEY"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s, nil
		}
	}
	if e.defaultAPIKey != "" {
		return e.defaultAPIKey, nil
	}
	return "", errors.NewConfigurationError("openai-responses", "API key not found in node config, execution context, or default configuration")
}

// HTTPRequestExecutor executes HTTP request nodes.
type HTTPRequestExecutor struct {
	client *http.Client
}

func NewHTTPRequestExecutor() *HTTPRequestExecutor {
	return &HTTPRequestExecutor{client: &http.Client{Timeout: 30 * time.Second}}
}

func (e *HTTPRequestExecutor) Execute(ctx context.Context, node domain.Node, inputs *NodeExecutionInputs) (map[string]any, error) {
	cfg, err := parseConfig[HTTPRequestConfig](node.Config())
	if err != nil {
		return nil, errors.NewConfigurationError("http-request", fmt.Sprintf("failed to parse config: %v", err))
	}
	if cfg.URL == "" {
		return nil, errors.NewConfigurationError("http-request", "missing 'url' in config")
	}
	if cfg.Method == "" {
		cfg.Method = "GET"
	}
	if cfg.OutputKey == "" {
		cfg.OutputKey = "output"
	}

	vars := allVariables(inputs)
	url := substituteVariables(cfg.URL, vars)

	var body io.Reader
	if cfg.Body != nil {
		var bodyBytes []byte
		switch v := cfg.Body.(type) {
		case string:
			bodyBytes = []byte(substituteVariables(v, vars))
		default:
			bodyBytes, err = json.Marshal(v)
			if err != nil {
				return nil, errors.NewConfigurationError("http-request", fmt.Sprintf("failed to marshal body: %v", err))
			}
		}
		body = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, cfg.Method, url, body)
	if err != nil {
		return nil, errors.NewNodeExecutionError(
			inputs.WorkflowID.String(), inputs.ExecutionID.String(), node.ID().String(),
			"http-request", 1, fmt.Sprintf("failed to create request: %v", err), err, false,
		)
	}
	for key, value := range cfg.Headers {
		req.Header.Set(key, substituteVariables(value, vars))
	}

	startTime := time.Now()
	resp, err := e.client.Do(req)
	latency := time.Since(startTime)
	if err != nil {
		return nil, errors.NewNodeExecutionError(
			inputs.WorkflowID.String(), inputs.ExecutionID.String(), node.ID().String(),
			"http-request", 1, fmt.Sprintf("HTTP request failed: %v", err), err, true,
		)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewNodeExecutionError(
			inputs.WorkflowID.String(), inputs.ExecutionID.String(), node.ID().String(),
			"http-request", 1, fmt.Sprintf("failed to read response: %v", err), err, true,
		)
	}

	var jsonResp any
	if err := json.Unmarshal(respBody, &jsonResp); err == nil {
		return map[string]any{
			cfg.OutputKey: jsonResp,
			"status_code": resp.StatusCode,
			"body":        jsonResp,
			"latency_ms":  latency.Milliseconds(),
		}, nil
	}

	respStr := string(respBody)
	return map[string]any{
		cfg.OutputKey: respStr,
		"status_code": resp.StatusCode,
		"body":        respStr,
		"latency_ms":  latency.Milliseconds(),
	}, nil
}

// TelegramMessageExecutor executes Telegram message nodes using the Telegram Bot API.
type TelegramMessageExecutor struct {
	client *http.Client
}

func NewTelegramMessageExecutor() *TelegramMessageExecutor {
	return &TelegramMessageExecutor{client: &http.Client{Timeout: 15 * time.Second}}
}

func (e *TelegramMessageExecutor) Execute(ctx context.Context, node domain.Node, inputs *NodeExecutionInputs) (map[string]any, error) {
	cfg, err := parseConfig[TelegramMessageConfig](node.Config())
	if err != nil {
		return nil, errors.NewConfigurationError("telegram-message", fmt.Sprintf("failed to parse config: %v", err))
	}
	if cfg.ChatID == "" {
		return nil, errors.NewConfigurationError("telegram-message", "missing 'chat_id' in config")
	}
	if cfg.Text == "" {
		return nil, errors.NewConfigurationError("telegram-message", "missing 'text' in config")
	}
	if cfg.OutputKey == "" {
		cfg.OutputKey = "telegram_response"
	}

	botToken := strings.TrimSpace(cfg.BotToken)
	if botToken == "" {
		if v, ok := lookupVariable(inputs, "telegram_bot_token"); ok {
			if s, ok := v.(string); ok {
				botToken = strings.TrimSpace(s)
			}
		}
	}
	if botToken == "" {
		if v, ok := lookupVariable(inputs, "TELEGRAM_BOT_TOKEN"); ok {
			if s, ok := v.(string); ok {
				botToken = strings.TrimSpace(s)
			}
		}
	}
	if botToken == "" {
		return nil, errors.NewConfigurationError("telegram-message", "missing bot token in config or execution context")
	}

	vars := allVariables(inputs)
	payload := map[string]any{
		"chat_id": substituteVariables(cfg.ChatID, vars),
		"text":    substituteVariables(cfg.Text, vars),
	}
	if cfg.ParseMode != "" {
		payload["parse_mode"] = cfg.ParseMode
	}
	if cfg.DisableNotification {
		payload["disable_notification"] = true
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.NewNodeExecutionError(
			inputs.WorkflowID.String(), inputs.ExecutionID.String(), node.ID().String(),
			"telegram-message", 1, fmt.Sprintf("failed to marshal Telegram payload: %v", err), err, false,
		)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", botToken), bytes.NewReader(body))
	if err != nil {
		return nil, errors.NewNodeExecutionError(
			inputs.WorkflowID.String(), inputs.ExecutionID.String(), node.ID().String(),
			"telegram-message", 1, fmt.Sprintf("failed to create Telegram request: %v", err), err, false,
		)
	}
	request.Header.Set("Content-Type", "application/json")

	startTime := time.Now()
	resp, err := e.client.Do(request)
	latency := time.Since(startTime)
	if err != nil {
		return nil, errors.NewNodeExecutionError(
			inputs.WorkflowID.String(), inputs.ExecutionID.String(), node.ID().String(),
			"telegram-message", 1, fmt.Sprintf("failed to call Telegram API: %v", err), err, true,
		)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewNodeExecutionError(
			inputs.WorkflowID.String(), inputs.ExecutionID.String(), node.ID().String(),
			"telegram-message", 1, fmt.Sprintf("failed to read Telegram response: %v", err), err, false,
		)
	}

	var apiResp struct {
		OK          bool           `json:"ok"`
		Description string         `json:"description,omitempty"`
		Result      map[string]any `json:"result,omitempty"`
	}
	if err := json.Unmarshal(respBytes, &apiResp); err != nil {
		return nil, errors.NewNodeExecutionError(
			inputs.WorkflowID.String(), inputs.ExecutionID.String(), node.ID().String(),
			"telegram-message", 1, fmt.Sprintf("failed to parse Telegram response: %v", err), err, false,
		)
	}

	if resp.StatusCode >= http.StatusMultipleChoices || !apiResp.OK {
		description := apiResp.Description
		if description == "" {
			description = fmt.Sprintf("telegram API returned status %d", resp.StatusCode)
		}
		return nil, errors.NewNodeExecutionError(
			inputs.WorkflowID.String(), inputs.ExecutionID.String(), node.ID().String(),
			"telegram-message", 1, description, nil, resp.StatusCode >= http.StatusInternalServerError,
		)
	}

	return map[string]any{
		cfg.OutputKey:       apiResp.Result,
		"telegram_message":  apiResp.Result,
		"latency_ms":        latency.Milliseconds(),
	}, nil
}

// ConditionalRouterExecutor evaluates the "switch" control subkind: it picks
// a route based on an input value matched case-insensitively against the
// configured routes, falling back to a "default" route if present.
type ConditionalRouterExecutor struct{}

func NewConditionalRouterExecutor() *ConditionalRouterExecutor { return &ConditionalRouterExecutor{} }

func (e *ConditionalRouterExecutor) Execute(ctx context.Context, node domain.Node, inputs *NodeExecutionInputs) (map[string]any, error) {
	cfg, err := parseConfig[ConditionalRouterConfig](node.Config())
	if err != nil {
		return nil, errors.NewConfigurationError("conditional-router", fmt.Sprintf("failed to parse config: %v", err))
	}
	if cfg.InputKey == "" {
		return nil, errors.NewConfigurationError("conditional-router", "missing 'input_key' in config")
	}
	if len(cfg.Routes) == 0 {
		return nil, errors.NewConfigurationError("conditional-router", "missing or invalid 'routes' in config")
	}

	vars := allVariables(inputs)
	inputValue := getNestedValue(vars, cfg.InputKey)
	if inputValue == nil {
		return nil, errors.NewNodeExecutionError(
			inputs.WorkflowID.String(), inputs.ExecutionID.String(), node.ID().String(),
			"conditional-router", 1, fmt.Sprintf("input variable '%s' not found or is nil", cfg.InputKey), nil, false,
		)
	}

	inputStr := fmt.Sprintf("%v", inputValue)
	inputStrLower := strings.ToLower(strings.TrimSpace(inputStr))

	var selectedRoute string
	for condition, route := range cfg.Routes {
		if strings.ToLower(strings.TrimSpace(condition)) == inputStrLower {
			selectedRoute = fmt.Sprintf("%v", route)
			break
		}
	}

	if selectedRoute == "" {
		if defaultRoute, ok := cfg.Routes["default"]; ok {
			selectedRoute = fmt.Sprintf("%v", defaultRoute)
		} else {
			return nil, errors.NewNodeExecutionError(
				inputs.WorkflowID.String(), inputs.ExecutionID.String(), node.ID().String(),
				"conditional-router", 1, fmt.Sprintf("no route found for value '%s' and no default route", inputStr), nil, false,
			)
		}
	}

	return map[string]any{
		"input_value":    inputStr,
		"selected_route": selectedRoute,
	}, nil
}

// DataMergerExecutor merges data from multiple upstream variable keys.
type DataMergerExecutor struct{}

func NewDataMergerExecutor() *DataMergerExecutor { return &DataMergerExecutor{} }

func (e *DataMergerExecutor) Execute(ctx context.Context, node domain.Node, inputs *NodeExecutionInputs) (map[string]any, error) {
	cfg, err := parseConfig[DataMergerConfig](node.Config())
	if err != nil {
		return nil, errors.NewConfigurationError("data-merger", fmt.Sprintf("failed to parse config: %v", err))
	}
	if len(cfg.Sources) == 0 {
		return nil, errors.NewConfigurationError("data-merger", "missing or invalid 'sources' in config")
	}
	if cfg.Strategy == "" {
		cfg.Strategy = "select_first_available"
	}
	if cfg.OutputKey == "" {
		cfg.OutputKey = "output"
	}

	var result any
	switch cfg.Strategy {
	case "select_first_available":
		for _, sourceKey := range cfg.Sources {
			if value, ok := lookupVariable(inputs, sourceKey); ok && value != nil {
				result = value
				break
			}
		}
	case "merge_all":
		merged := make(map[string]any)
		for _, sourceKey := range cfg.Sources {
			if value, ok := lookupVariable(inputs, sourceKey); ok {
				merged[sourceKey] = value
			}
		}
		result = merged
	default:
		return nil, errors.NewConfigurationError("data-merger", fmt.Sprintf("unknown strategy '%s'", cfg.Strategy))
	}

	return map[string]any{cfg.OutputKey: result, "strategy": cfg.Strategy}, nil
}

// DataAggregatorExecutor implements the aggregation-node reducers: concat,
// merge-object, sum, last. One reducer applies to the whole node, chosen via
// node config "reducer" (default "merge-object"). When "fields" mappings are
// declared, no reducer is applied: each output field copies the named variable.
type DataAggregatorExecutor struct{}

func NewDataAggregatorExecutor() *DataAggregatorExecutor { return &DataAggregatorExecutor{} }

func (e *DataAggregatorExecutor) Execute(ctx context.Context, node domain.Node, inputs *NodeExecutionInputs) (map[string]any, error) {
	cfg, err := parseConfig[DataAggregatorConfig](node.Config())
	if err != nil {
		return nil, errors.NewConfigurationError("data-aggregator", fmt.Sprintf("failed to parse config: %v", err))
	}

	reducer, _ := node.Config()["reducer"].(string)
	if reducer == "" {
		reducer = "merge-object"
	}

	if len(cfg.Fields) > 0 {
		aggregated := make(map[string]any, len(cfg.Fields))
		for outputField, sourceKey := range cfg.Fields {
			if value, ok := lookupVariable(inputs, sourceKey); ok {
				aggregated[outputField] = value
			}
		}
		return aggregated, nil
	}

	// No explicit field mapping: aggregate every upstream node's output using
	// the configured reducer, per the aggregation-node contract.
	outputKey := cfg.OutputKey
	if outputKey == "" {
		outputKey = "output"
	}

	switch reducer {
	case "concat":
		var parts []any
		for _, vs := range inputs.ParentOutputs {
			for _, v := range vs.All() {
				parts = append(parts, v)
			}
		}
		return map[string]any{outputKey: parts}, nil

	case "sum":
		var sum float64
		for _, vs := range inputs.ParentOutputs {
			for _, v := range vs.All() {
				switch n := v.(type) {
				case int:
					sum += float64(n)
				case float64:
					sum += n
				}
			}
		}
		return map[string]any{outputKey: sum}, nil

	case "last":
		var last any
		for _, vs := range inputs.ParentOutputs {
			for _, v := range vs.All() {
				last = v
			}
		}
		return map[string]any{outputKey: last}, nil

	default: // merge-object
		merged := make(map[string]any)
		for _, vs := range inputs.ParentOutputs {
			for k, v := range vs.All() {
				merged[k] = v
			}
		}
		return map[string]any{outputKey: merged}, nil
	}
}

// ScriptExecutorExecutor is a placeholder for user-supplied script nodes.
// Actual script execution would require embedding a scripting engine (e.g.
// goja); this returns a descriptive no-op result until one is wired in.
type ScriptExecutorExecutor struct{}

func NewScriptExecutorExecutor() *ScriptExecutorExecutor { return &ScriptExecutorExecutor{} }

func (e *ScriptExecutorExecutor) Execute(ctx context.Context, node domain.Node, inputs *NodeExecutionInputs) (map[string]any, error) {
	cfg, err := parseConfig[ScriptExecutorConfig](node.Config())
	if err != nil {
		return nil, errors.NewConfigurationError("script-executor", fmt.Sprintf("failed to parse config: %v", err))
	}
	if cfg.OutputKey == "" {
		cfg.OutputKey = "output"
	}

	result := map[string]any{
		"status": "script_execution_not_implemented",
		"note":   "script execution requires an embedded scripting engine",
	}
	return map[string]any{cfg.OutputKey: result}, nil
}

// JSONParserExecutor parses a JSON-encoded variable into a structured value.
type JSONParserExecutor struct{}

func NewJSONParserExecutor() *JSONParserExecutor { return &JSONParserExecutor{} }

func (e *JSONParserExecutor) Execute(ctx context.Context, node domain.Node, inputs *NodeExecutionInputs) (map[string]any, error) {
	cfg, err := parseConfig[JSONParserConfig](node.Config())
	if err != nil {
		return nil, errors.NewConfigurationError("json-parser", fmt.Sprintf("failed to parse config: %v", err))
	}
	if cfg.InputKey == "" {
		return nil, errors.NewConfigurationError("json-parser", "missing 'input_key' in config")
	}
	if cfg.OutputKey == "" {
		cfg.OutputKey = cfg.InputKey
	}
	failOnError := true
	if val, ok := node.Config()["fail_on_error"].(bool); ok {
		failOnError = val
	}

	inputValue, ok := lookupVariable(inputs, cfg.InputKey)
	if !ok {
		return nil, errors.NewNodeExecutionError(
			inputs.WorkflowID.String(), inputs.ExecutionID.String(), node.ID().String(),
			"json-parser", 1, fmt.Sprintf("input variable '%s' not found", cfg.InputKey), nil, false,
		)
	}

	var jsonStr string
	switch v := inputValue.(type) {
	case string:
		jsonStr = v
	case []byte:
		jsonStr = string(v)
	default:
		return map[string]any{cfg.OutputKey: inputValue, "status": "passthrough", "already_parsed": true}, nil
	}
	jsonStr = strings.TrimSpace(jsonStr)

	var parsedValue any
	if err := json.Unmarshal([]byte(jsonStr), &parsedValue); err != nil {
		if failOnError {
			return nil, errors.NewNodeExecutionError(
				inputs.WorkflowID.String(), inputs.ExecutionID.String(), node.ID().String(),
				"json-parser", 1, fmt.Sprintf("failed to parse JSON: %v", err), err, false,
			)
		}
		log.Warn().Str("node_id", node.ID().String()).Str("input_key", cfg.InputKey).Err(err).
			Msg("failed to parse JSON, passing through original value")
		return map[string]any{cfg.OutputKey: inputValue, "status": "parse_error", "error": err.Error()}, nil
	}

	return map[string]any{cfg.OutputKey: parsedValue, "status": "success"}, nil
}

// templatePlaceholderRegexp matches {{variable}} style placeholders, the same
// syntax TemplateProcessor's simpleVarPattern recognizes for node config
// fields, reused here for ad hoc string substitution inside executors that
// don't go through the full template engine.
var templatePlaceholderRegexp = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// substituteVariables replaces {{variable}} placeholders with actual values,
// supporting dotted nested access like {{customer_info.email}}.
func substituteVariables(template string, variables map[string]any) string {
	result := template
	re := templatePlaceholderRegexp
	matches := re.FindAllStringSubmatch(template, -1)

	for _, match := range matches {
		if len(match) < 2 {
			continue
		}
		placeholder := match[0]
		varPath := strings.TrimSpace(match[1])
		value := getNestedValue(variables, varPath)

		if value == nil {
			continue
		}
		valueStr := fmt.Sprintf("%v", value)
		if valueStr != "" {
			result = strings.ReplaceAll(result, placeholder, valueStr)
		}
	}

	return result
}

// getNestedValue retrieves a value from a nested map using dot notation.
func getNestedValue(data map[string]any, path string) any {
	parts := strings.Split(path, ".")
	var current any = data
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[part]
	}
	return current
}
