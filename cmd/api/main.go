package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/config"
	"github.com/noah-isme/gema-grader/internal/database"
	"github.com/noah-isme/gema-grader/internal/grading"
	"github.com/noah-isme/gema-grader/internal/handler"
	"github.com/noah-isme/gema-grader/internal/middleware"
	"github.com/noah-isme/gema-grader/internal/repository"
	"github.com/noah-isme/gema-grader/internal/router"
	"github.com/noah-isme/gema-grader/internal/service"
	"github.com/noah-isme/gema-grader/internal/similarity"
	"github.com/noah-isme/gema-grader/pkg/ai"
	"github.com/noah-isme/gema-grader/pkg/sandbox"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if cfg.JWTSecret == "" {
		log.Fatalf("GEMA_JWT_SECRET must be set")
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.AppName).Logger()

	db, err := database.Connect(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := database.Migrate(db); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}

	probes := map[string]handler.HealthProbe{"database": databaseProbe(db)}

	var store service.JobStore = service.NewMemoryJobStore(cfg.GradingResultTTL)
	if cfg.RedisURL != "" {
		redisClient, err := database.ConnectRedis(context.Background(), cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()

		store = service.NewRedisJobStore(redisClient, cfg.GradingResultTTL)
		probes["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	} else {
		logger.Warn().Msg("redis url not set, job statuses are kept in memory")
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to nats")
		}
		defer natsConn.Drain()

		probes["nats"] = natsProbe(natsConn)
	}
	publisher := service.NewNATSPublisher(natsConn, cfg.ChannelBase, uuid.NewString(), logger)

	client, closeSandbox, err := buildSandbox(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create sandbox client")
	}
	defer closeSandbox()

	evaluator := grading.NewEvaluator(client, grading.Config{Lenient: cfg.SandboxMode == config.SandboxLocal}, logger)
	engine := similarity.NewEngine(logger, similarityOptions(cfg, logger)...)

	questionRepo := repository.NewQuestionRepository(db)
	assessmentRepo := repository.NewAssessmentRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)

	grader := service.NewGrader(questionRepo, assessmentRepo, submissionRepo, evaluator, engine, cfg.Penalty, logger)
	dispatcher := service.NewDispatcher(grader, store, publisher, service.DispatcherConfig{
		Workers:   cfg.GradingWorkers,
		QueueSize: cfg.GradingQueueSize,
	}, logger)
	dispatcher.Start(context.Background())

	validate := validator.New(validator.WithRequiredStructEnabled())
	gradingService := service.NewGradingService(dispatcher, questionRepo, assessmentRepo, validate, logger, service.GradingServiceConfig{
		Languages: cfg.SupportedLanguages,
	})
	gradingHandler := handler.NewGradingHandler(gradingService, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		BodyLimit:    256 * 1024,
	})

	middleware.Register(app, middleware.Config{Logger: &logger, AllowOrigins: cfg.CORSAllowOrigins})
	router.Register(app, cfg, router.Dependencies{
		GradingHandler: gradingHandler,
		JWTMiddleware:  middleware.JWTProtected(cfg.JWTSecret),
		SubmitLimiter:  middleware.RateLimit("grading-submit", cfg.SubmitRateLimit, cfg.SubmitRateWindow),
		HealthProbes:   probes,
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	logger.Info().
		Str("address", cfg.HTTPAddress()).
		Str("sandbox_mode", cfg.SandboxMode).
		Int("workers", cfg.GradingWorkers).
		Msg("grading api started")

	waitForShutdown(app, dispatcher, cfg.ShutdownGracePeriod, logger)
}

func buildSandbox(cfg config.Config, logger zerolog.Logger) (sandbox.Client, func(), error) {
	switch cfg.SandboxMode {
	case config.SandboxLocal:
		runner := sandbox.NewLocalRunner(sandbox.LocalConfig{
			Interpreter: cfg.PythonInterpreter,
			Timeout:     cfg.LocalTimeout,
			Logger:      logger,
		})
		return runner, func() {}, nil
	case config.SandboxDocker:
		runner, err := sandbox.NewDockerRunner(sandbox.DockerConfig{
			Host:          cfg.DockerHost,
			Timeout:       cfg.SandboxTimeout,
			MemoryLimitMB: int64(cfg.CodeRunMemoryMB),
			CPUShares:     int64(cfg.CodeRunCPUShares),
			Logger:        logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return runner, func() {
			if err := runner.Close(); err != nil {
				logger.Warn().Err(err).Msg("failed to close docker client")
			}
		}, nil
	default:
		client, err := sandbox.NewHTTPClient(sandbox.HTTPConfig{
			URL:     cfg.SandboxURL,
			Timeout: cfg.SandboxTimeout,
			Logger:  logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return client, func() {}, nil
	}
}

func similarityOptions(cfg config.Config, logger zerolog.Logger) []similarity.Option {
	var opts []similarity.Option
	if cfg.SimilarityCollapsed {
		opts = append(opts, similarity.WithCollapsedSignals())
	}

	if cfg.AIProvider != "openai" {
		return opts
	}
	if cfg.OpenAIAPIKey == "" {
		logger.Warn().Msg("ai provider is openai but no api key is set, authorship estimation disabled")
		return opts
	}

	estimator, err := ai.NewOpenAIAuthorship(ai.OpenAIConfig{
		APIKey: cfg.OpenAIAPIKey,
		Model:  cfg.OpenAIModel,
		Logger: logger,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("authorship estimator unavailable")
		return opts
	}

	return append(opts, similarity.WithAuthorship(estimator))
}

func databaseProbe(db *gorm.DB) handler.HealthProbe {
	return func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}
}

func natsProbe(conn *nats.Conn) handler.HealthProbe {
	return func(context.Context) error {
		if !conn.IsConnected() {
			return nats.ErrConnectionClosed
		}
		return nil
	}
}

func waitForShutdown(app *fiber.App, dispatcher *service.Dispatcher, grace time.Duration, logger zerolog.Logger) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	if err := dispatcher.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("grading workers did not drain before the deadline")
	}

	logger.Info().Msg("server stopped")
}
