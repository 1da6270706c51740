// Package sandbox executes untrusted programs against a stdin payload.
package sandbox

import (
	"context"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	execDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gema",
		Subsystem: "sandbox",
		Name:      "execution_duration_seconds",
		Help:      "Duration of sandbox executions",
		Buckets:   prometheus.DefBuckets,
	}, []string{"backend", "language"})

	execTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "sandbox",
		Name:      "execution_timeouts_total",
		Help:      "Number of sandbox executions that hit the timeout",
	}, []string{"backend", "language"})

	execFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "sandbox",
		Name:      "execution_failures_total",
		Help:      "Number of sandbox executions that could not be completed",
	}, []string{"backend", "language"})
)

// Client runs one program against one stdin payload. Implementations never return
// transport failures as errors; they are reported through Result.Stderr.
type Client interface {
	Execute(ctx context.Context, req Request) Result
}

// Request describes a single execution.
type Request struct {
	Language string
	Source   string
	Stdin    string
}

// Result is the raw outcome of an execution.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

// Failed reports whether the execution produced an error the grader must surface.
func (r Result) Failed() bool {
	return r.TimedOut || strings.TrimSpace(r.Stderr) != ""
}

// Language maps a language key onto the execution backends.
type Language struct {
	Name     string
	FileName string
	Image    string
	Command  string
}

// Languages lists the languages known to every backend, keyed by the submission language.
var Languages = map[string]Language{
	"python": {
		Name:     "python",
		FileName: "main.py",
		Image:    "python:3.11-alpine",
		Command:  "python main.py",
	},
	"javascript": {
		Name:     "javascript",
		FileName: "main.js",
		Image:    "node:20-alpine",
		Command:  "node main.js",
	},
	"java": {
		Name:     "java",
		FileName: "Main.java",
		Image:    "eclipse-temurin:21-jdk-alpine",
		Command:  "java Main.java",
	},
	"c": {
		Name:     "c",
		FileName: "main.c",
		Image:    "gcc:13",
		Command:  "gcc -O2 -o main main.c && ./main",
	},
	"cpp": {
		Name:     "c++",
		FileName: "main.cpp",
		Image:    "gcc:13",
		Command:  "g++ -O2 -o main main.cpp && ./main",
	},
	"go": {
		Name:     "go",
		FileName: "main.go",
		Image:    "golang:1.22-alpine",
		Command:  "go run main.go",
	},
}

// LookupLanguage returns the language configuration for a normalised key.
func LookupLanguage(key string) (Language, bool) {
	lang, ok := Languages[NormalizeLanguage(key)]
	return lang, ok
}

// NormalizeLanguage lowercases and trims a language key.
func NormalizeLanguage(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func observe(backend, language string, result Result) {
	execDuration.WithLabelValues(backend, language).Observe(result.Duration.Seconds())
	if result.TimedOut {
		execTimeouts.WithLabelValues(backend, language).Inc()
	}
}
