package models

import (
	"encoding/json"
	"strings"
)

// TestCase pairs a stdin payload with the lines the program is expected to print.
type TestCase struct {
	Input          string   `json:"input"`
	ExpectedOutput []string `json:"expected_output"`
}

// UnmarshalJSON accepts expected output either as a list of lines or as a single
// newline separated string. Missing fields decode as empty values.
func (t *TestCase) UnmarshalJSON(data []byte) error {
	var raw struct {
		Input          *string         `json:"input"`
		ExpectedOutput json.RawMessage `json:"expected_output"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*t = TestCase{}
	if raw.Input != nil {
		t.Input = *raw.Input
	}

	trimmed := strings.TrimSpace(string(raw.ExpectedOutput))
	switch {
	case trimmed == "" || trimmed == "null":
		t.ExpectedOutput = []string{}
	case strings.HasPrefix(trimmed, "["):
		var lines []*string
		if err := json.Unmarshal(raw.ExpectedOutput, &lines); err != nil {
			return err
		}
		t.ExpectedOutput = make([]string, 0, len(lines))
		for _, line := range lines {
			if line != nil {
				t.ExpectedOutput = append(t.ExpectedOutput, *line)
			}
		}
	default:
		var text string
		if err := json.Unmarshal(raw.ExpectedOutput, &text); err != nil {
			return err
		}
		t.ExpectedOutput = strings.Split(text, "\n")
	}

	return nil
}

// TestVerdict is the outcome of running one test case.
type TestVerdict struct {
	Input          string           `json:"input"`
	ExpectedOutput []string         `json:"expected_output"`
	ActualOutput   []string         `json:"actual_output"`
	Status         SubmissionStatus `json:"status"`
	ErrorMessage   string           `json:"error_message"`
}

// AllAccepted reports whether at least one verdict exists and every verdict is accepted.
func AllAccepted(verdicts []TestVerdict) bool {
	if len(verdicts) == 0 {
		return false
	}
	for _, verdict := range verdicts {
		if verdict.Status != SubmissionStatusAccepted {
			return false
		}
	}
	return true
}
