package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultHTTPTimeout bounds a single call to the execution service.
const DefaultHTTPTimeout = 10 * time.Second

// HTTPConfig configures the remote execution client.
type HTTPConfig struct {
	URL        string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// HTTPClient runs programs through a remote execution service.
type HTTPClient struct {
	url     string
	timeout time.Duration
	client  *http.Client
	tracer  trace.Tracer
	logger  zerolog.Logger
}

type executeFile struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type executeRequest struct {
	Language string        `json:"language"`
	Version  string        `json:"version"`
	Files    []executeFile `json:"files"`
	Stdin    string        `json:"stdin"`
}

type executeResponse struct {
	Run *struct {
		Stdout string  `json:"stdout"`
		Stderr string  `json:"stderr"`
		Code   *int    `json:"code"`
		Signal *string `json:"signal"`
	} `json:"run"`
	Message string `json:"message"`
}

// NewHTTPClient constructs a client for the configured execution service.
func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("execution service url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultHTTPTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	return &HTTPClient{
		url:     cfg.URL,
		timeout: cfg.Timeout,
		client:  client,
		tracer:  otel.Tracer("github.com/noah-isme/gema-grader/pkg/sandbox/http"),
		logger:  cfg.Logger.With().Str("component", "sandbox_http").Logger(),
	}, nil
}

// Execute implements Client.
func (c *HTTPClient) Execute(parent context.Context, req Request) Result {
	languageKey := NormalizeLanguage(req.Language)
	lang, ok := Languages[languageKey]
	if !ok {
		lang = Language{Name: languageKey, FileName: "main"}
	}

	ctx, span := c.tracer.Start(parent, "sandbox.http.execute", trace.WithAttributes(
		attribute.String("sandbox.language", languageKey),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	result := c.execute(ctx, lang, req)
	result.Duration = time.Since(start)
	observe("http", languageKey, result)

	span.SetAttributes(attribute.Bool("sandbox.failed", result.Failed()))
	if result.TimedOut {
		span.SetStatus(codes.Error, "execution timed out")
	}
	return result
}

func (c *HTTPClient) execute(ctx context.Context, lang Language, req Request) Result {
	payload, err := json.Marshal(executeRequest{
		Language: lang.Name,
		Version:  "*",
		Files:    []executeFile{{Name: lang.FileName, Content: req.Source}},
		Stdin:    req.Stdin,
	})
	if err != nil {
		return c.failure(lang, fmt.Sprintf("encode execution request: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return c.failure(lang, fmt.Sprintf("build execution request: %v", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{
				Stderr:   fmt.Sprintf("execution service timed out after %s", c.timeout),
				TimedOut: true,
			}
		}
		return c.failure(lang, fmt.Sprintf("execution service unreachable: %v", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return c.failure(lang, fmt.Sprintf("read execution response: %v", err))
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet := strings.TrimSpace(string(body))
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return c.failure(lang, fmt.Sprintf("execution service returned status %d: %s", resp.StatusCode, snippet))
	}

	var decoded executeResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return c.failure(lang, fmt.Sprintf("invalid execution service response: %v", err))
	}
	if decoded.Run == nil {
		message := decoded.Message
		if message == "" {
			message = "missing run section"
		}
		return c.failure(lang, fmt.Sprintf("invalid execution service response: %s", message))
	}

	result := Result{
		Stdout: decoded.Run.Stdout,
		Stderr: decoded.Run.Stderr,
	}
	if decoded.Run.Code != nil {
		result.ExitCode = *decoded.Run.Code
	}
	if decoded.Run.Signal != nil && *decoded.Run.Signal != "" && strings.TrimSpace(result.Stderr) == "" {
		result.Stderr = fmt.Sprintf("process terminated by signal %s", *decoded.Run.Signal)
	}
	return result
}

func (c *HTTPClient) failure(lang Language, message string) Result {
	execFailures.WithLabelValues("http", lang.Name).Inc()
	c.logger.Warn().Str("language", lang.Name).Msg(message)
	return Result{Stderr: message}
}
