// Package ai estimates whether a submission was machine generated.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	aiDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gema",
		Subsystem: "ai",
		Name:      "authorship_duration_seconds",
		Help:      "Duration of AI authorship estimation requests",
	}, []string{"model"})

	aiFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "ai",
		Name:      "authorship_failures_total",
		Help:      "Number of AI authorship estimation failures",
	}, []string{"model"})
)

// maxSourceChars bounds the amount of source forwarded to the model.
const maxSourceChars = 12000

// OpenAIConfig defines configuration options for the OpenAI authorship detector.
type OpenAIConfig struct {
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int
	Logger    zerolog.Logger
}

// OpenAIAuthorship asks a chat model for the probability that code was machine generated.
type OpenAIAuthorship struct {
	client *openai.Client
	cfg    OpenAIConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewOpenAIAuthorship builds a detector using the provided configuration.
func NewOpenAIAuthorship(cfg OpenAIConfig) (*OpenAIAuthorship, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}

	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 64
	}

	tracer := otel.Tracer("github.com/noah-isme/gema-grader/pkg/ai/openai")
	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	client := openai.NewClientWithConfig(config)

	return &OpenAIAuthorship{
		client: client,
		cfg:    cfg,
		tracer: tracer,
		logger: logger.With().Str("component", "openai_authorship").Logger(),
	}, nil
}

// Estimate returns the probability in [0,1] that source was produced by an AI model.
func (a *OpenAIAuthorship) Estimate(parent context.Context, source string) (float64, error) {
	ctx, span := a.tracer.Start(parent, "openai.authorship", trace.WithAttributes(
		attribute.String("model", a.cfg.Model),
	))
	defer span.End()

	start := time.Now()
	request := openai.ChatCompletionRequest{
		Model:     a.cfg.Model,
		MaxTokens: a.cfg.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: authorshipSystemPrompt(),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildUserPrompt(source),
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}

	resp, err := a.client.CreateChatCompletion(ctx, request)
	aiDuration.WithLabelValues(a.cfg.Model).Observe(time.Since(start).Seconds())
	if err != nil {
		return 0, a.fail(span, fmt.Errorf("openai authorship: %w", err))
	}

	if len(resp.Choices) == 0 {
		return 0, a.fail(span, fmt.Errorf("no choices returned from openai"))
	}

	probability, err := parseProbability(strings.TrimSpace(resp.Choices[0].Message.Content))
	if err != nil {
		return 0, a.fail(span, err)
	}

	span.SetAttributes(attribute.Float64("probability", probability))
	return probability, nil
}

func (a *OpenAIAuthorship) fail(span trace.Span, err error) error {
	aiFailures.WithLabelValues(a.cfg.Model).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func authorshipSystemPrompt() string {
	return "You judge whether student code was written by an AI assistant. Respond with a JSON object " +
		"{\"probability\": p} where p is a number between 0 and 1."
}

func buildUserPrompt(source string) string {
	if len(source) > maxSourceChars {
		source = source[:maxSourceChars]
	}
	builder := strings.Builder{}
	builder.WriteString("## Submission\n")
	builder.WriteString(source)
	builder.WriteString("\nReturn JSON.")
	return builder.String()
}

func parseProbability(content string) (float64, error) {
	var data struct {
		Probability *float64 `json:"probability"`
	}
	if err := json.Unmarshal([]byte(content), &data); err != nil {
		return 0, fmt.Errorf("parse authorship json: %w", err)
	}
	if data.Probability == nil {
		return 0, fmt.Errorf("authorship response missing probability")
	}

	p := *data.Probability
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	return p, nil
}
