package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/rego"
)

// Engine is the OPA delivery policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// Input is the document the delivery policy is evaluated against.
type Input struct {
	MessageType       string `json:"message_type"`
	Intent            string `json:"intent"`
	From              string `json:"from"`
	TargetAgentID     string `json:"target_agent_id"`
	TargetLocation    string `json:"target_location"`
	DefaultMaxRetries int    `json:"default_max_retries"`
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.delivery_policy.max_retries"),
		rego.Module("delivery_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// NewEngineFromFile loads the policy from path, or the default policy when path is empty.
func NewEngineFromFile(ctx context.Context, path string) (*Engine, error) {
	if path == "" {
		return NewEngine(ctx, DefaultPolicy)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy %s: %w", path, err)
	}
	return NewEngine(ctx, string(content))
}

// MaxRetries evaluates the retry budget for one queued delivery.
// An undefined or non-positive result falls back to input.DefaultMaxRetries.
func (e *Engine) MaxRetries(ctx context.Context, input Input) (int, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return input.DefaultMaxRetries, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return input.DefaultMaxRetries, nil
	}

	var n int
	switch v := results[0].Expressions[0].Value.(type) {
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return input.DefaultMaxRetries, fmt.Errorf("max_retries is not an integer: %s", v)
		}
		n = int(i)
	case float64:
		n = int(v)
	case int:
		n = v
	default:
		return input.DefaultMaxRetries, fmt.Errorf("unexpected max_retries type %T", v)
	}

	if n < 1 {
		return input.DefaultMaxRetries, nil
	}
	return n, nil
}

// DefaultPolicy is the default policy content.
const DefaultPolicy = `
package delivery_policy

# Every delivery gets the configured retry budget.
max_retries = n {
	n := input.default_max_retries
}
`
