// Package evaluation turns a learner's (code, language, test cases)
// submission into an Evaluation. Two interchangeable strategies exist: a
// judged strategy that asks an external reasoning model for a verdict
// without executing anything, and a sandbox strategy that delegates
// execution to an external hardened runner. Submitted code is never
// executed inside this process.
package evaluation

import (
	"context"
	"fmt"
	"strings"

	"codelab-server/apperr"
	"codelab-server/models"
)

// Strategy resolves an evaluation request into an Evaluation. Both
// implementations honor the same caller contract so they can be swapped
// by configuration.
type Strategy interface {
	Evaluate(ctx context.Context, req models.EvaluationRequest) (*models.Evaluation, error)
}

// Engine validates requests and delegates to the configured strategy.
type Engine struct {
	strategy Strategy
}

func NewEngine(strategy Strategy) *Engine {
	return &Engine{strategy: strategy}
}

// Evaluate runs the configured strategy. Malformed requests are rejected
// before any external call is made.
func (e *Engine) Evaluate(ctx context.Context, req models.EvaluationRequest) (*models.Evaluation, error) {
	if strings.TrimSpace(req.Code) == "" {
		return nil, apperr.New(apperr.CodeValidation, "Code must not be empty")
	}
	if strings.TrimSpace(req.Language) == "" {
		return nil, apperr.New(apperr.CodeValidation, "Language must not be empty")
	}
	if len(req.TestCases) == 0 {
		return nil, apperr.New(apperr.CodeValidation, "At least one test case is required")
	}
	return e.strategy.Evaluate(ctx, req)
}

// summaryOutput renders the per-case summary kept for old client
// renderers, one "Test N" line per result.
func summaryOutput(results []models.TestResult) string {
	lines := make([]string, 0, len(results))
	for i, r := range results {
		mark := "✗"
		if r.Passed {
			mark = "✓"
		}
		lines = append(lines, strings.TrimRight(fmt.Sprintf("Test %d: %s %s", i+1, mark, r.Output), " "))
	}
	return strings.Join(lines, "\n")
}
