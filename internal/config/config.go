package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/noah-isme/gema-grader/internal/penalty"
)

// Sandbox backends.
const (
	SandboxHTTP   = "http"
	SandboxLocal  = "local"
	SandboxDocker = "docker"
)

// Config holds runtime configuration values for the grading API and the recompute tool.
type Config struct {
	AppName             string
	AppEnv              string
	AppPort             string
	DatabaseDriver      string
	DatabaseURL         string
	RedisURL            string
	NATSURL             string
	ChannelBase         string
	JWTSecret           string
	SandboxMode         string
	SandboxURL          string
	SandboxTimeout      time.Duration
	LocalTimeout        time.Duration
	PythonInterpreter   string
	DockerHost          string
	CodeRunMemoryMB     int
	CodeRunCPUShares    int
	SupportedLanguages  []string
	GradingWorkers      int
	GradingQueueSize    int
	GradingResultTTL    time.Duration
	Penalty             penalty.Decay
	SimilarityCollapsed bool
	AIProvider          string
	OpenAIAPIKey        string
	OpenAIModel         string
	ShutdownGracePeriod time.Duration
	CORSAllowOrigins    string
	SubmitRateLimit     int
	SubmitRateWindow    time.Duration
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GEMA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "GEMA Grader")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("channel.base", "gema")
	v.SetDefault("sandbox.mode", SandboxHTTP)
	v.SetDefault("sandbox.url", "http://localhost:2000/api/v2/execute")
	v.SetDefault("sandbox.timeout", "10s")
	v.SetDefault("sandbox.local_timeout", "5s")
	v.SetDefault("sandbox.python", "python3")
	v.SetDefault("code_run_memory_mb", 256)
	v.SetDefault("code_run_cpu_shares", 512)
	v.SetDefault("grading.languages", "python,javascript,java,c,cpp,go")
	v.SetDefault("grading.workers", 4)
	v.SetDefault("grading.queue_size", 64)
	v.SetDefault("grading.result_ttl", "1h")
	v.SetDefault("penalty.no_penalty_up_to", penalty.DefaultNoPenaltyUpTo)
	v.SetDefault("penalty.full_zero_at", penalty.DefaultFullZeroAt)
	v.SetDefault("similarity.collapsed", false)
	v.SetDefault("ai.provider", "none")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("shutdown.grace_period", "30s")
	v.SetDefault("cors.allow_origins", "*")
	v.SetDefault("grading.submit_rate_limit", 30)
	v.SetDefault("grading.submit_rate_window", "1m")

	durations := map[string]time.Duration{}
	for _, key := range []string{"sandbox.timeout", "sandbox.local_timeout", "grading.result_ttl", "shutdown.grace_period", "grading.submit_rate_window"} {
		parsed, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		if parsed <= 0 {
			return Config{}, fmt.Errorf("invalid %s: must be positive", key)
		}
		durations[key] = parsed
	}

	cfg := Config{
		AppName:             v.GetString("app.name"),
		AppEnv:              v.GetString("app.env"),
		AppPort:             v.GetString("app.port"),
		DatabaseDriver:      strings.ToLower(v.GetString("database.driver")),
		DatabaseURL:         v.GetString("database.url"),
		RedisURL:            v.GetString("redis.url"),
		NATSURL:             v.GetString("nats.url"),
		ChannelBase:         v.GetString("channel.base"),
		JWTSecret:           v.GetString("jwt.secret"),
		SandboxMode:         strings.ToLower(v.GetString("sandbox.mode")),
		SandboxURL:          v.GetString("sandbox.url"),
		SandboxTimeout:      durations["sandbox.timeout"],
		LocalTimeout:        durations["sandbox.local_timeout"],
		PythonInterpreter:   v.GetString("sandbox.python"),
		DockerHost:          v.GetString("docker_host"),
		CodeRunMemoryMB:     v.GetInt("code_run_memory_mb"),
		CodeRunCPUShares:    v.GetInt("code_run_cpu_shares"),
		SupportedLanguages:  splitList(v.GetString("grading.languages")),
		GradingWorkers:      v.GetInt("grading.workers"),
		GradingQueueSize:    v.GetInt("grading.queue_size"),
		GradingResultTTL:    durations["grading.result_ttl"],
		SimilarityCollapsed: v.GetBool("similarity.collapsed"),
		AIProvider:          strings.ToLower(v.GetString("ai.provider")),
		OpenAIAPIKey:        v.GetString("openai_api_key"),
		OpenAIModel:         v.GetString("openai.model"),
		ShutdownGracePeriod: durations["shutdown.grace_period"],
		CORSAllowOrigins:    v.GetString("cors.allow_origins"),
		SubmitRateLimit:     v.GetInt("grading.submit_rate_limit"),
		SubmitRateWindow:    durations["grading.submit_rate_window"],
		Penalty: penalty.Decay{
			NoPenaltyUpTo: v.GetFloat64("penalty.no_penalty_up_to"),
			FullZeroAt:    v.GetFloat64("penalty.full_zero_at"),
		},
	}

	switch cfg.SandboxMode {
	case SandboxHTTP, SandboxLocal, SandboxDocker:
	default:
		return Config{}, fmt.Errorf("unknown sandbox mode %q", cfg.SandboxMode)
	}

	switch cfg.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return Config{}, fmt.Errorf("unknown database driver %q", cfg.DatabaseDriver)
	}

	if err := cfg.Penalty.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid penalty thresholds: %w", err)
	}

	if cfg.CodeRunMemoryMB <= 0 {
		cfg.CodeRunMemoryMB = 256
	}

	if cfg.CodeRunCPUShares <= 0 {
		cfg.CodeRunCPUShares = 512
	}

	if cfg.GradingWorkers <= 0 {
		cfg.GradingWorkers = 4
	}

	if cfg.GradingQueueSize <= 0 {
		cfg.GradingQueueSize = 64
	}

	return cfg, nil
}

func splitList(input string) []string {
	parts := strings.Split(input, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.ToLower(strings.TrimSpace(part))
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
