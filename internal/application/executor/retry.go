package executor

import (
	"sync"
	"time"

	"github.com/smilemakc/mbflow/internal/domain"
)

// RetryPolicy defines the retry behavior for node execution failures
type RetryPolicy struct {
	// MaxAttempts is the maximum number of retry attempts (0 = no retries)
	MaxAttempts int

	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration

	// MaxDelay is the maximum delay between retries
	MaxDelay time.Duration

	// Multiplier is the factor by which the delay increases (exponential backoff)
	Multiplier float64

	// Jitter adds randomness to the delay to avoid thundering herd
	Jitter bool

	// RetryableErrors holds a list of error names. The engine's retry loop
	// does not read it and retries every error.
	RetryableErrors []string
}

// DefaultRetryPolicy returns a sensible default retry policy
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// NoRetryPolicy returns a policy that disables retries
func NoRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: 0,
	}
}

// RetryConfig holds per-node retry configuration
type RetryConfig struct {
	Enabled      bool
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// GetRetryConfig extracts retry configuration from node config
func GetRetryConfig(node domain.Node) *RetryConfig {
	config := node.Config()

	retryConfig := &RetryConfig{
		Enabled:      false,
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}

	// Check if retry is enabled
	if enabled, ok := config["retry_enabled"].(bool); ok {
		retryConfig.Enabled = enabled
	}

	// Get max attempts
	if maxAttempts, ok := config["retry_max_attempts"].(int); ok {
		retryConfig.MaxAttempts = maxAttempts
	} else if maxAttempts, ok := config["retry_max_attempts"].(float64); ok {
		retryConfig.MaxAttempts = int(maxAttempts)
	}

	// Get initial delay
	if initialDelay, ok := config["retry_initial_delay"].(string); ok {
		if d, err := time.ParseDuration(initialDelay); err == nil {
			retryConfig.InitialDelay = d
		}
	} else if initialDelayMs, ok := config["retry_initial_delay_ms"].(float64); ok {
		retryConfig.InitialDelay = time.Duration(initialDelayMs) * time.Millisecond
	}

	// Get max delay
	if maxDelay, ok := config["retry_max_delay"].(string); ok {
		if d, err := time.ParseDuration(maxDelay); err == nil {
			retryConfig.MaxDelay = d
		}
	} else if maxDelayMs, ok := config["retry_max_delay_ms"].(float64); ok {
		retryConfig.MaxDelay = time.Duration(maxDelayMs) * time.Millisecond
	}

	// Get multiplier
	if multiplier, ok := config["retry_multiplier"].(float64); ok {
		retryConfig.Multiplier = multiplier
	}

	return retryConfig
}

// CreateRetryPolicy creates a retry policy from retry config
func CreateRetryPolicy(config *RetryConfig) *RetryPolicy {
	if !config.Enabled {
		return NoRetryPolicy()
	}

	return &RetryPolicy{
		MaxAttempts:  config.MaxAttempts,
		InitialDelay: config.InitialDelay,
		MaxDelay:     config.MaxDelay,
		Multiplier:   config.Multiplier,
		Jitter:       true,
	}
}

// RetryBudget tracks the number of retries to prevent infinite loops across
// an entire execution: each node still has its own per-node retry policy,
// but the budget caps the total retries spent on the workflow as a whole so
// a handful of flaky nodes can't turn a bounded workflow into an unbounded
// one. Safe for concurrent use since multiple nodes in the same wave may
// retry at once.
type RetryBudget struct {
	mu         sync.Mutex
	maxRetries int
	used       int
}

// NewRetryBudget creates a new retry budget
func NewRetryBudget(maxRetries int) *RetryBudget {
	return &RetryBudget{
		maxRetries: maxRetries,
	}
}

// CanRetry checks if there are retries left in the budget
func (rb *RetryBudget) CanRetry() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.used < rb.maxRetries
}

// UseRetry consumes one retry from the budget
func (rb *RetryBudget) UseRetry() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.used >= rb.maxRetries {
		return false
	}
	rb.used++
	return true
}

// Remaining returns the number of retries left
func (rb *RetryBudget) Remaining() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.maxRetries - rb.used
}

// Used returns the number of retries used
func (rb *RetryBudget) Used() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.used
}

// Reset resets the retry budget
func (rb *RetryBudget) Reset() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.used = 0
}
