package evaluation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"codelab-server/apperr"
	"codelab-server/logger"
	"codelab-server/models"
)

// SandboxStrategy runs the candidate solution through an external sandbox
// runner (separate process, resource and time limits, no ambient I/O) and
// compares trimmed output against trimmed expected output per case. Its
// AllPassed is definitive: the code actually executed.
type SandboxStrategy struct {
	client    *resty.Client
	runnerURL string
	log       *logger.Logger
}

func NewSandboxStrategy(runnerURL string, timeout time.Duration, log *logger.Logger) *SandboxStrategy {
	client := resty.New().SetTimeout(timeout)
	return &SandboxStrategy{client: client, runnerURL: runnerURL, log: log}
}

// runnerRequest is the wire shape sent to the sandbox runner.
type runnerRequest struct {
	Code      string           `json:"code"`
	Language  string           `json:"language"`
	TestCases []runnerTestCase `json:"testCases"`
}

type runnerTestCase struct {
	Input string `json:"input"`
}

// runnerResponse carries one raw output per submitted test case, in order.
type runnerResponse struct {
	Outputs []string `json:"outputs"`
	Error   string   `json:"error"`
}

func (s *SandboxStrategy) Evaluate(ctx context.Context, req models.EvaluationRequest) (*models.Evaluation, error) {
	cases := make([]runnerTestCase, 0, len(req.TestCases))
	for _, tc := range req.TestCases {
		cases = append(cases, runnerTestCase{Input: tc.Input})
	}

	var runnerResp runnerResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(runnerRequest{Code: req.Code, Language: req.Language, TestCases: cases}).
		SetResult(&runnerResp).
		Post(s.runnerURL + "/execute")
	if err != nil {
		s.log.Warn("sandbox runner unreachable", "error", err)
		return nil, apperr.Wrap(apperr.CodeExternalDependency, "Code execution failed, please try again", err)
	}
	if resp.IsError() {
		return nil, apperr.Wrap(apperr.CodeExternalDependency, "Code execution failed, please try again",
			fmt.Errorf("sandbox runner returned status %d", resp.StatusCode()))
	}
	if runnerResp.Error != "" {
		return nil, apperr.Wrap(apperr.CodeExternalDependency, "Code execution failed, please try again",
			fmt.Errorf("sandbox runner error: %s", runnerResp.Error))
	}
	if len(runnerResp.Outputs) != len(req.TestCases) {
		return nil, apperr.Wrap(apperr.CodeExternalDependency, "Code execution failed, please try again",
			fmt.Errorf("sandbox runner returned %d outputs for %d test cases", len(runnerResp.Outputs), len(req.TestCases)))
	}

	// AllPassed is the logical AND over every case, hidden ones included.
	allPassed := true
	results := make([]models.TestResult, 0, len(req.TestCases))
	for i, tc := range req.TestCases {
		output := strings.TrimSpace(runnerResp.Outputs[i])
		expected := strings.TrimSpace(tc.ExpectedOutput)
		passed := output == expected
		if !passed {
			allPassed = false
		}
		results = append(results, models.TestResult{
			Passed:   passed,
			Output:   output,
			Expected: expected,
		})
	}

	// Direct execution produces no verdict, confidence or highlights.
	return &models.Evaluation{
		Results:   results,
		AllPassed: allPassed,
		Output:    summaryOutput(results),
	}, nil
}
