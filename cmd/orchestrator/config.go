package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tendant/ml-orchestrator/internal/stages"
	"github.com/tendant/ml-orchestrator/internal/store"
)

type config struct {
	HTTPAddr        string
	LogLevel        slog.Level
	ShutdownTimeout time.Duration

	Store store.Config

	Endpoints         stages.Endpoints
	PollInterval      time.Duration
	PollTimeout       time.Duration
	MaxSelectedModels int

	// NATSURL empty disables the bus.
	NATSURL        string
	ExecuteSubject string
	EventsSubject  string
}

func LoadConfig() (config, error) {
	cfg := config{
		HTTPAddr: getenv("HTTP_ADDR", ":3100"),
		Store: store.Config{
			Backend:   store.Backend(getenv("STORE_BACKEND", string(store.BackendRedis))),
			RedisURL:  getenv("REDIS_URL", "redis://127.0.0.1:6379/0"),
			KeyPrefix: getenv("STORE_KEY_PREFIX", "pipeline"),
		},
		Endpoints: stages.Endpoints{
			DataPreparer:  getenv("DATA_PREPARER_URL", "http://localhost:8000"),
			ModelSelector: getenv("MODEL_SELECTOR_URL", "http://localhost:8001/api/v1"),
			Trainer:       getenv("TRAINER_URL", "http://localhost:8002/api/v1"),
			Evaluator:     getenv("EVALUATOR_URL", "http://localhost:8003/api/v1"),
		},
		NATSURL:        os.Getenv("NATS_URL"),
		ExecuteSubject: getenv("EXECUTE_SUBJECT", "pipeline.execute"),
		EventsSubject:  getenv("EVENTS_SUBJECT", "pipeline.events"),
	}

	level, err := parseLevel(getenv("LOG_LEVEL", "info"))
	if err != nil {
		return config{}, err
	}
	cfg.LogLevel = level

	durations := []struct {
		key, def string
		dst      *time.Duration
	}{
		{"JOB_TTL", "24h", &cfg.Store.TTL},
		{"POLL_INTERVAL", "2s", &cfg.PollInterval},
		{"POLL_TIMEOUT", "300s", &cfg.PollTimeout},
		{"SHUTDOWN_TIMEOUT", "30s", &cfg.ShutdownTimeout},
	}
	for _, d := range durations {
		v, err := parsePositiveDuration(getenv(d.key, d.def), d.key)
		if err != nil {
			return config{}, err
		}
		*d.dst = v
	}

	maxModels, err := parsePositiveInt(getenv("MAX_SELECTED_MODELS", "3"), "MAX_SELECTED_MODELS")
	if err != nil {
		return config{}, err
	}
	cfg.MaxSelectedModels = maxModels

	switch store.Backend(strings.ToLower(string(cfg.Store.Backend))) {
	case store.BackendRedis, store.BackendMemory, store.BackendDisabled, "disabled":
	default:
		return config{}, fmt.Errorf("invalid STORE_BACKEND %q (want redis, memory or none)", cfg.Store.Backend)
	}
	return cfg, nil
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func parsePositiveInt(value string, name string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be greater than zero (got %d)", name, v)
	}
	return v, nil
}

// parsePositiveDuration accepts Go durations ("90s") and bare seconds ("90").
func parsePositiveDuration(value string, name string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		secs, convErr := strconv.Atoi(value)
		if convErr != nil {
			return 0, fmt.Errorf("invalid %s: %w", name, err)
		}
		d = time.Duration(secs) * time.Second
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be greater than zero (got %s)", name, value)
	}
	return d, nil
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	return l, nil
}
