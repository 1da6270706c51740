package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/noah-isme/gema-grader/internal/service"
)

func writeReport(w io.Writer, report service.BatchReport, dryRun bool) {
	prefix := "updated"
	if dryRun {
		prefix = "would update"
	}

	for _, row := range report.Rows {
		fmt.Fprintln(w, reportLine(prefix, row.Error, fmt.Sprintf("submission=%d user=%d assessment=%d question=%d %s",
			row.SubmissionID, row.UserID, row.AssessmentID, row.QuestionID, formatChanges(row.Changes))))
	}

	for _, session := range report.Sessions {
		fmt.Fprintln(w, reportLine(prefix, session.Error, fmt.Sprintf("session=%d user=%d assessment=%d %s",
			session.SessionID, session.UserID, session.AssessmentID, formatChanges(session.Changes))))
	}

	fmt.Fprintf(w, "checked=%d updated=%d\n", report.Checked, report.Updated)
}

// reportLine marks rows whose write failed so they never read as updated.
func reportLine(prefix, writeErr, body string) string {
	if writeErr != "" {
		return "failed " + body + " error=" + quote(writeErr)
	}
	return prefix + " " + body
}

func formatChanges(changes []service.FieldChange) string {
	parts := make([]string, 0, len(changes))
	for _, change := range changes {
		parts = append(parts, fmt.Sprintf("%s:%s->%s", change.Field, formatValue(change.Old), formatValue(change.New)))
	}
	return strings.Join(parts, " ")
}

func formatValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case *float64:
		if v == nil {
			return "null"
		}
		return formatValue(*v)
	case float64:
		return fmt.Sprintf("%g", v)
	case bool:
		return fmt.Sprintf("%t", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func quote(value string) string {
	return fmt.Sprintf("%q", value)
}
