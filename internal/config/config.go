package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	PipelineConfig string
	ModelPath      string
	QCWorkers      int
	RunDBPath      string

	// Schedule is a cron expression; empty disables scheduled runs.
	Schedule    string
	ScheduleLag time.Duration

	KafkaEnabled      bool
	KafkaBrokers      []string
	KafkaTopic        string
	KafkaSummaryTopic string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	lag, err := time.ParseDuration(sharedcfg.EnvOrDefault("SCHEDULE_LAG", "24h"))
	if err != nil || lag < 0 {
		return nil, errors.New("invalid SCHEDULE_LAG")
	}

	workers, err := parseWorkers()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		PipelineConfig: sharedcfg.EnvOrDefault("PIPELINE_CONFIG", "config.yaml"),
		ModelPath:      sharedcfg.EnvOrDefault("MODEL_PATH", "models/qc_anomaly_model.json"),
		QCWorkers:      workers,
		RunDBPath:      os.Getenv("RUN_DB_PATH"),

		Schedule:    os.Getenv("SCHEDULE"),
		ScheduleLag: lag,

		KafkaEnabled:      os.Getenv("KAFKA_ENABLED") == "true",
		KafkaBrokers:      sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:        sharedcfg.EnvOrDefault("KAFKA_TOPIC", "bufr-observations"),
		KafkaSummaryTopic: sharedcfg.EnvOrDefault("KAFKA_SUMMARY_TOPIC", "obsqc-run-summaries"),
	}

	if cfg.KafkaEnabled {
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED is true")
		}
		if cfg.KafkaTopic == "" {
			return nil, errors.New("KAFKA_TOPIC is required when KAFKA_ENABLED is true")
		}
	}

	return cfg, nil
}

func parseWorkers() (int, error) {
	s := os.Getenv("QC_WORKERS")
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid QC_WORKERS %q", s)
	}
	return n, nil
}
