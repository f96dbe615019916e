package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"quiz-engine/internal/app"
	"quiz-engine/internal/config"
	"quiz-engine/internal/domain"
	"quiz-engine/internal/engine"
	"quiz-engine/internal/infra/memory"
	"quiz-engine/internal/infra/postgres"
	"quiz-engine/internal/infra/rabbit"
	infraredis "quiz-engine/internal/infra/redis"
	transport "quiz-engine/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log)

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}

	scorer, err := engine.NewScorer(engine.ScoringConfig{
		Base:          cfg.Scoring.Base,
		FloorFraction: cfg.Scoring.FloorFraction,
		Curve:         engine.Curve(cfg.Scoring.Curve),
	})
	if err != nil {
		return err
	}

	hub := transport.NewEventHub()
	notifiers := engine.Fanout{hub}
	var readers transport.Readers

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		if err := runMigrations(ctx, cfg.Postgres.URL, logger); err != nil {
			return err
		}
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		stats := postgres.NewStatsRecorder(pool)
		notifiers = append(notifiers, stats)
		readers.Stats = stats
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return err
		}
		rankings := infraredis.NewRankingRecorder(redisClient)
		notifiers = append(notifiers, rankings)
		readers.Rankings = rankings
	}

	if cfg.RabbitMQ.URL != "" {
		publisher, err := rabbit.Dial(cfg.RabbitMQ.URL)
		if err != nil {
			return err
		}
		defer publisher.Close()
		notifiers = append(notifiers, publisher)
	}

	var loader memory.QuizLoader = memory.NewStaticQuizLoader(sampleQuizzes())
	if pool != nil {
		loader = postgres.NewQuizLoader(pool)
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var quizRepo app.QuizRepository
	var tracker memory.Tracker
	if redisClient != nil {
		quizRepo = infraredis.NewQuizRepository(redisClient, loader, quizTTL)
		liveSessions := infraredis.NewSessionTracker(redisClient, config.TTLDuration(cfg.Redis.TTL, time.Hour))
		tracker = liveSessions
		readers.Live = liveSessions
	} else {
		quizRepo = memory.NewQuizRepository(loader, quizTTL)
	}

	registry := memory.NewRegistry(
		engine.Options{Scorer: scorer, Notifier: notifiers, Logger: logger},
		memory.RegistryConfig{
			Retention:     config.TTLDuration(cfg.Session.Retention, 30*time.Minute),
			SweepInterval: config.TTLDuration(cfg.Session.SweepInterval, time.Minute),
			Tracker:       tracker,
			Logger:        logger,
		},
	)
	// runs before the deferred client closes so shutdown events still reach collaborators
	defer registry.Close()

	service := app.NewQuizService(registry, quizRepo, app.Settings{
		QuestionCounts: cfg.Quiz.QuestionCounts,
		TimeLimits:     config.Durations(cfg.Quiz.TimeLimits),
		Shuffle:        cfg.Quiz.Shuffle,
		Rules: engine.Rules{
			JoinWindow:      config.TTLDuration(cfg.Session.JoinWindow, 0),
			MinParticipants: cfg.Session.MinParticipants,
			MaxParticipants: cfg.Session.MaxParticipants,
			AutoStartAt:     cfg.Session.AutoStartAt,
			Intermission:    config.TTLDuration(cfg.Session.Intermission, 0),
		},
	}, logger)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      transport.NewHandler(service, hub, logger).WithReaders(readers).Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("starting quiz engine", "port", finalPort, "redis", redisClient != nil, "postgres", pool != nil, "rabbitmq", cfg.RabbitMQ.URL != "")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutting down server...")
	case <-ctx.Done():
		logger.Info("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleQuizzes is the catalog served when no Postgres is configured.
func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:    "quiz-1",
			Title: "Warm-up arithmetic",
			Questions: []domain.Question{
				{
					ID:     "q1",
					Prompt: "What is 2 + 2?",
					Options: []domain.Option{
						{ID: "o1", Text: "3"},
						{ID: "o2", Text: "4", Correct: true},
						{ID: "o3", Text: "5"},
					},
				},
				{
					ID:     "q2",
					Prompt: "What is 3 * 3?",
					Options: []domain.Option{
						{ID: "o1", Text: "6"},
						{ID: "o2", Text: "8"},
						{ID: "o3", Text: "9", Correct: true},
					},
				},
				{
					ID:     "q3",
					Prompt: "What is 10 - 7?",
					Options: []domain.Option{
						{ID: "o1", Text: "3", Correct: true},
						{ID: "o2", Text: "4"},
						{ID: "o3", Text: "7"},
					},
				},
			},
		},
	}
}
