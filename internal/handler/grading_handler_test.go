package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grader/internal/config"
	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/handler"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/router"
	"github.com/noah-isme/gema-grader/internal/service"
)

type stubGradingService struct {
	submitErr  error
	statusErr  error
	status     dto.JobStatus
	lastUserID uint
	lastReq    dto.GradingRequest
}

func (s *stubGradingService) Submit(_ context.Context, userID uint, payload dto.GradingRequest) (dto.JobAcceptedResponse, error) {
	s.lastUserID = userID
	s.lastReq = payload
	if s.submitErr != nil {
		return dto.JobAcceptedResponse{}, s.submitErr
	}
	return dto.JobAcceptedResponse{JobID: "job-1", Status: dto.JobStateQueued}, nil
}

func (s *stubGradingService) Status(_ context.Context, userID uint, _ string) (dto.JobStatus, error) {
	s.lastUserID = userID
	if s.statusErr != nil {
		return dto.JobStatus{}, s.statusErr
	}
	return s.status, nil
}

func (s *stubGradingService) Languages() []string {
	return []string{"go", "python"}
}

type apiEnvelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func setupGradingApp(t *testing.T, svc service.GradingService, userID uint) *fiber.App {
	t.Helper()

	app := fiber.New()
	router.Register(app, config.Config{AppName: "Test"}, router.Dependencies{
		GradingHandler: handler.NewGradingHandler(svc, zerolog.New(io.Discard)),
		JWTMiddleware: func(c *fiber.Ctx) error {
			if userID != 0 {
				c.Locals("user_id", userID)
			}
			return c.Next()
		},
		DisableMetrics: true,
	})

	return app
}

func postSubmission(t *testing.T, app *fiber.App, body string) (*http.Response, apiEnvelope) {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/api/v2/grading/submissions", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)

	var envelope apiEnvelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return resp, envelope
}

func TestGradingHandlerSubmitQueuesJob(t *testing.T) {
	svc := &stubGradingService{}
	app := setupGradingApp(t, svc, 7)

	resp, envelope := postSubmission(t, app, `{"question_id":3,"language":"python","source":"print(1)"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Equal(t, "/api/v2/grading/jobs/job-1", resp.Header.Get(fiber.HeaderLocation))
	require.True(t, envelope.Success)
	require.Equal(t, "submission queued", envelope.Message)

	var accepted dto.JobAcceptedResponse
	require.NoError(t, json.Unmarshal(envelope.Data, &accepted))
	require.Equal(t, "job-1", accepted.JobID)
	require.Equal(t, dto.JobStateQueued, accepted.Status)

	require.Equal(t, uint(7), svc.lastUserID)
	require.Equal(t, uint(3), svc.lastReq.QuestionID)
	require.Nil(t, svc.lastReq.AssessmentID)
}

func TestGradingHandlerSubmitRequiresUser(t *testing.T) {
	app := setupGradingApp(t, &stubGradingService{}, 0)

	resp, envelope := postSubmission(t, app, `{"question_id":3,"language":"python","source":"print(1)"}`)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.False(t, envelope.Success)
}

func TestGradingHandlerSubmitRejectsMalformedBody(t *testing.T) {
	app := setupGradingApp(t, &stubGradingService{}, 1)

	resp, envelope := postSubmission(t, app, `{"question_id":`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "invalid request body", envelope.Message)
}

func TestGradingHandlerErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "unsupported language", err: service.ErrUnsupportedLanguage, wantStatus: http.StatusBadRequest},
		{name: "empty source", err: service.ErrEmptySource, wantStatus: http.StatusBadRequest},
		{name: "source too large", err: service.ErrSourceTooLarge, wantStatus: http.StatusRequestEntityTooLarge},
		{name: "question missing", err: fmt.Errorf("lookup: %w", service.ErrQuestionNotFound), wantStatus: http.StatusNotFound},
		{name: "assessment missing", err: service.ErrAssessmentNotFound, wantStatus: http.StatusNotFound},
		{name: "queue full", err: service.ErrQueueFull, wantStatus: http.StatusServiceUnavailable},
		{name: "dispatcher closed", err: service.ErrDispatcherClosed, wantStatus: http.StatusServiceUnavailable},
		{name: "unexpected", err: fmt.Errorf("boom"), wantStatus: http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := setupGradingApp(t, &stubGradingService{submitErr: tc.err}, 1)

			resp, envelope := postSubmission(t, app, `{"question_id":3,"language":"python","source":"print(1)"}`)
			require.Equal(t, tc.wantStatus, resp.StatusCode)
			require.False(t, envelope.Success)
			if tc.wantStatus == http.StatusServiceUnavailable {
				require.Equal(t, "5", resp.Header.Get(fiber.HeaderRetryAfter))
			}
			if tc.wantStatus == http.StatusInternalServerError {
				require.Equal(t, "internal server error", envelope.Message)
			}
		})
	}
}

func TestGradingHandlerStatus(t *testing.T) {
	now := time.Now().UTC()
	svc := &stubGradingService{status: dto.JobStatus{
		JobID:       "job-1",
		UserID:      4,
		State:       dto.JobStateCompleted,
		Ready:       true,
		SubmittedAt: now,
		UpdatedAt:   now,
		Result: &dto.GradingResult{
			Status: models.SubmissionStatusAccepted,
			Verdicts: []models.TestVerdict{
				{Input: "1", ExpectedOutput: []string{"1"}, ActualOutput: []string{"1"}, Status: models.SubmissionStatusAccepted},
			},
			Passed: 1,
			Total:  1,
			Score:  1,
		},
	}}
	app := setupGradingApp(t, svc, 4)

	req := httptest.NewRequest(http.MethodGet, "/api/v2/grading/jobs/job-1", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var envelope apiEnvelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.Equal(t, "job finished", envelope.Message)

	var status dto.JobStatus
	require.NoError(t, json.Unmarshal(envelope.Data, &status))
	require.Equal(t, dto.JobStateCompleted, status.State)
	require.True(t, status.Ready)
	require.NotNil(t, status.Result)
	require.Equal(t, models.SubmissionStatusAccepted, status.Result.Status)
	require.Equal(t, uint(4), svc.lastUserID)
}

func TestGradingHandlerStatusPendingAndMissing(t *testing.T) {
	svc := &stubGradingService{status: dto.JobStatus{JobID: "job-2", State: dto.JobStateRunning}}
	app := setupGradingApp(t, svc, 4)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v2/grading/jobs/job-2", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var envelope apiEnvelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.Equal(t, "job pending", envelope.Message)

	svc.statusErr = service.ErrJobNotFound
	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v2/grading/jobs/unknown", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGradingHandlerLanguages(t *testing.T) {
	app := setupGradingApp(t, &stubGradingService{}, 1)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v2/grading/languages", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var envelope apiEnvelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))

	var payload struct {
		Languages []string `json:"languages"`
	}
	require.NoError(t, json.Unmarshal(envelope.Data, &payload))
	require.Equal(t, []string{"go", "python"}, payload.Languages)
}

func TestGradingHandlerSubmitGuardsRunFirst(t *testing.T) {
	svc := &stubGradingService{}
	app := fiber.New()
	group := app.Group("/grading", func(c *fiber.Ctx) error {
		c.Locals("user_id", uint(1))
		return c.Next()
	})
	blocked := func(c *fiber.Ctx) error {
		return c.SendStatus(http.StatusTooManyRequests)
	}
	handler.NewGradingHandler(svc, zerolog.Nop()).Register(group, blocked)

	req := httptest.NewRequest(http.MethodPost, "/grading/submissions", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.Zero(t, svc.lastUserID)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/grading/languages", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
