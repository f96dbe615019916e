package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Quiz     QuizConfig     `yaml:"quiz"`
	Session  SessionConfig  `yaml:"session"`
	Scoring  ScoringConfig  `yaml:"scoring"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TTL      string `yaml:"ttl"`
}

type PostgresConfig struct {
	URL string `yaml:"url"`
}

type RabbitMQConfig struct {
	URL string `yaml:"url"`
}

type QuizConfig struct {
	TTL            string   `yaml:"ttl"`
	QuestionCounts []int    `yaml:"questionCounts"`
	TimeLimits     []string `yaml:"timeLimits"`
	Shuffle        bool     `yaml:"shuffle"`
}

type SessionConfig struct {
	JoinWindow      string `yaml:"joinWindow"`
	MinParticipants int    `yaml:"minParticipants"`
	MaxParticipants int    `yaml:"maxParticipants"`
	AutoStartAt     int    `yaml:"autoStartAt"`
	Intermission    string `yaml:"intermission"`
	Retention       string `yaml:"retention"`
	SweepInterval   string `yaml:"sweepInterval"`
}

type ScoringConfig struct {
	Base          int     `yaml:"base"`
	FloorFraction float64 `yaml:"floorFraction"`
	Curve         string  `yaml:"curve"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Server: ServerConfig{Port: "8080"},
		Log:    LogConfig{Level: "info", Format: "text"},
		Quiz: QuizConfig{
			TTL:            "10m",
			QuestionCounts: []int{5, 10, 15},
			TimeLimits:     []string{"15s", "30s", "60s"},
		},
		Session: SessionConfig{
			JoinWindow:      "60s",
			MinParticipants: 1,
			Retention:       "30m",
			SweepInterval:   "1m",
		},
		Scoring: ScoringConfig{Base: 1000, FloorFraction: 0.1, Curve: "linear"},
	}
}

// Load reads an optional .env file, then the YAML config at path, then
// environment overrides. A missing YAML file leaves the defaults in place.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return cfg, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)
	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvInt("REDIS_DB", cfg.Redis.DB)
	cfg.Postgres.URL = getEnv("POSTGRES_URL", cfg.Postgres.URL)
	cfg.RabbitMQ.URL = getEnv("RABBITMQ_URL", cfg.RabbitMQ.URL)
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

// Durations parses every valid entry of raw; invalid entries are skipped.
func Durations(raw []string) []time.Duration {
	out := make([]time.Duration, 0, len(raw))
	for _, r := range raw {
		if d := TTLDuration(r, 0); d > 0 {
			out = append(out, d)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}
