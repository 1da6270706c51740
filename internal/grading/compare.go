package grading

import (
	"fmt"
	"strings"

	"github.com/noah-isme/gema-grader/internal/models"
)

// NormalizeLines splits output on newlines, trims each line and drops empty lines.
func NormalizeLines(output string) []string {
	output = strings.ReplaceAll(output, "\r\n", "\n")
	parts := strings.Split(output, "\n")
	lines := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return lines
}

// NormalizeExpected applies NormalizeLines to every expected line, so an expected entry
// holding several lines is compared line by line.
func NormalizeExpected(expected []string) []string {
	return NormalizeLines(strings.Join(expected, "\n"))
}

// CompareLines returns the verdict status and mismatch message for normalised output.
// Lenient comparison additionally accepts outputs equal after removing all whitespace,
// and accepts any non-empty output when nothing is expected.
func CompareLines(expected, actual []string, lenient bool) (models.SubmissionStatus, string) {
	if lenient && len(expected) == 0 {
		if len(actual) > 0 {
			return models.SubmissionStatusAccepted, ""
		}
		return models.SubmissionStatusRejected, "no output produced"
	}

	if len(expected) == len(actual) {
		mismatches := make([]string, 0)
		for i := range expected {
			if expected[i] != actual[i] {
				mismatches = append(mismatches, fmt.Sprintf("line %d: expected %q, got %q", i+1, expected[i], actual[i]))
			}
		}
		if len(mismatches) == 0 {
			return models.SubmissionStatusAccepted, ""
		}
		if lenient && squash(expected) == squash(actual) {
			return models.SubmissionStatusAccepted, ""
		}
		return models.SubmissionStatusRejected, strings.Join(mismatches, "; ")
	}

	if lenient && squash(expected) == squash(actual) {
		return models.SubmissionStatusAccepted, ""
	}
	return models.SubmissionStatusRejected, fmt.Sprintf("expected %d line(s), got %d", len(expected), len(actual))
}

func squash(lines []string) string {
	return strings.Join(strings.Fields(strings.Join(lines, "")), "")
}
