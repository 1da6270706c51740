package observability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

func TestMetricsHandlerExposesGradingSeries(t *testing.T) {
	app := fiber.New()
	app.Get("/metrics", MetricsHandler())

	GradingJobs().WithLabelValues("completed").Inc()
	GradingQueueDepth().Set(3)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `grading_jobs_total{state="completed"}`)
	require.Contains(t, string(body), "grading_queue_depth 3")
}

func TestCorrelationIDContext(t *testing.T) {
	require.Empty(t, CorrelationID(context.Background()))

	ctx := WithCorrelationID(context.Background(), "  abc  ")
	require.Equal(t, "abc", CorrelationID(ctx))

	require.Equal(t, ctx, WithCorrelationID(ctx, " "))
	require.Equal(t, "abc", CorrelationID(WithCorrelationID(ctx, "")))
}
