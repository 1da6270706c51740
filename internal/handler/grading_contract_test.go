package handler_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/grading"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/similarity"
	"github.com/noah-isme/gema-grader/pkg/sandbox"
)

type scriptedSandbox struct {
	results []sandbox.Result
	calls   int
}

func (s *scriptedSandbox) Execute(context.Context, sandbox.Request) sandbox.Result {
	result := s.results[s.calls%len(s.results)]
	s.calls++
	return result
}

func compileJobSchema(t *testing.T) *jsonschema.Schema {
	t.Helper()

	schemaPath, err := filepath.Abs(filepath.Join("testdata", "grading_job.schema.json"))
	require.NoError(t, err)

	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile("file://" + schemaPath)
	require.NoError(t, err)
	return schema
}

func TestGradingJobStatusContract(t *testing.T) {
	schema := compileJobSchema(t)

	client := &scriptedSandbox{results: []sandbox.Result{
		{Stdout: "3\n"},
		{Stdout: "5\n"},
		{Stderr: "Traceback: ZeroDivisionError"},
	}}
	evaluator := grading.NewEvaluator(client, grading.Config{}, zerolog.Nop())
	evaluation := evaluator.Evaluate(context.Background(), "print(a+b)", "python", []models.TestCase{
		{Input: "1 2", ExpectedOutput: []string{"3"}},
		{Input: "2 2", ExpectedOutput: []string{"4"}},
		{Input: "1 0", ExpectedOutput: []string{"1"}},
	})
	require.Len(t, evaluation.Verdicts, 3)

	signals := similarity.NewEngine(zerolog.Nop()).Score(context.Background(), "print(a+b)", []string{"print(a + b)"})
	raw := 1.67

	now := time.Now().UTC()
	svc := &stubGradingService{status: dto.JobStatus{
		JobID:       "2f1c",
		UserID:      9,
		State:       dto.JobStateCompleted,
		Ready:       true,
		SubmittedAt: now.Add(-time.Second),
		UpdatedAt:   now,
		Result: &dto.GradingResult{
			Status:     evaluation.Status,
			Verdicts:   evaluation.Verdicts,
			Passed:     evaluation.Score,
			Total:      3,
			Error:      evaluation.FirstError,
			Score:      1.2,
			RawScore:   &raw,
			Similarity: &signals,
		},
	}}
	app := setupGradingApp(t, svc, 9)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v2/grading/jobs/2f1c", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()

	var payload interface{}
	require.NoError(t, json.Unmarshal(body, &payload))
	require.NoError(t, schema.Validate(payload))
}

func TestGradingJobStatusContractPending(t *testing.T) {
	schema := compileJobSchema(t)

	now := time.Now().UTC()
	svc := &stubGradingService{status: dto.JobStatus{
		JobID:       "queued-1",
		UserID:      9,
		State:       dto.JobStateQueued,
		SubmittedAt: now,
		UpdatedAt:   now,
	}}
	app := setupGradingApp(t, svc, 9)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v2/grading/jobs/queued-1", nil))
	require.NoError(t, err)

	var payload interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.NoError(t, schema.Validate(payload))
}
