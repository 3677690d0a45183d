package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the webhook + matcher process.
// Values are loaded from environment variables with defaults so the binary can
// run locally against in-memory stores; only the messaging credentials are
// mandatory.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	LineChannelToken  string
	LineChannelSecret string

	RedisAddr      string
	RedisPassword  string
	RedisKeyPrefix string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN         string
	RunMigrations bool

	MapsAPIKey string

	Matching MatchingConfig

	ExternalCallTimeout time.Duration
	UserLockTTL         time.Duration
	OperatorToken       string
	// DryRun logs outgoing messages instead of sending them.
	DryRun bool

	LogLevel string
}

// MatchingConfig holds the knobs of the periodic matching cycle.
type MatchingConfig struct {
	Interval             time.Duration
	RequestTimeout       time.Duration
	DestinationPrecision int
}

// ConsumerConfig configures the group-event consumer binary.
type ConsumerConfig struct {
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string
	PGDSN        string
	LogLevel     string
}

const (
	defaultKafkaTopic = "carpool-group-events"
	maxPrecision      = 8
)

func DefaultMatchingConfig() MatchingConfig {
	return MatchingConfig{
		Interval:             time.Minute,
		RequestTimeout:       10 * time.Minute,
		DestinationPrecision: 4,
	}
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:            ":8080",
		ReadTimeout:         5 * time.Second,
		WriteTimeout:        10 * time.Second,
		IdleTimeout:         120 * time.Second,
		ShutdownTimeout:     15 * time.Second,
		RedisKeyPrefix:      "carpool",
		KafkaTopic:          defaultKafkaTopic,
		Matching:            DefaultMatchingConfig(),
		ExternalCallTimeout: 5 * time.Second,
		UserLockTTL:         10 * time.Second,
		LogLevel:            "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.LineChannelToken = strings.TrimSpace(os.Getenv("LINE_CHANNEL_ACCESS_TOKEN"))
	cfg.LineChannelSecret = strings.TrimSpace(os.Getenv("LINE_CHANNEL_SECRET"))
	if cfg.LineChannelToken == "" {
		errs = append(errs, errors.New("LINE_CHANNEL_ACCESS_TOKEN is required"))
	}
	if cfg.LineChannelSecret == "" {
		errs = append(errs, errors.New("LINE_CHANNEL_SECRET is required"))
	}

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisKeyPrefix, "REDIS_KEY_PREFIX")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")
	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	cfg.MapsAPIKey = strings.TrimSpace(os.Getenv("MAPS_API_KEY"))

	setMinutesFromEnv(&cfg.Matching.Interval, "MATCH_INTERVAL_MINUTES", &errs)
	setMinutesFromEnv(&cfg.Matching.RequestTimeout, "MATCH_TIMEOUT_MINUTES", &errs)
	setIntFromEnv(&cfg.Matching.DestinationPrecision, "DESTINATION_PRECISION", &errs)

	setDurationFromEnv(&cfg.ExternalCallTimeout, "EXTERNAL_CALL_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.UserLockTTL, "USER_LOCK_TTL", &errs)
	cfg.OperatorToken = strings.TrimSpace(os.Getenv("OPERATOR_TOKEN"))
	cfg.DryRun = strings.EqualFold(os.Getenv("DRY_RUN"), "true")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	errs = append(errs, cfg.Matching.validate()...)
	if cfg.ExternalCallTimeout <= 0 {
		errs = append(errs, fmt.Errorf("EXTERNAL_CALL_TIMEOUT must be > 0"))
	}
	if cfg.UserLockTTL <= 0 {
		errs = append(errs, fmt.Errorf("USER_LOCK_TTL must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg := ConsumerConfig{
		KafkaBrokers: []string{"localhost:9092"},
		KafkaTopic:   defaultKafkaTopic,
		KafkaGroup:   "carpool-event-consumer",
		LogLevel:     "info",
	}
	var errs []error

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	cfg.PGDSN = os.Getenv("PG_DSN")
	if cfg.PGDSN == "" {
		errs = append(errs, errors.New("PG_DSN is required"))
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	return cfg, errors.Join(errs...)
}

func (m MatchingConfig) validate() []error {
	var errs []error
	if m.Interval <= 0 {
		errs = append(errs, fmt.Errorf("MATCH_INTERVAL_MINUTES must be > 0"))
	}
	if m.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("MATCH_TIMEOUT_MINUTES must be > 0"))
	}
	if m.DestinationPrecision < 0 || m.DestinationPrecision > maxPrecision {
		errs = append(errs, fmt.Errorf("DESTINATION_PRECISION must be within [0,%d]", maxPrecision))
	}
	return errs
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

// setMinutesFromEnv reads a whole number of minutes.
func setMinutesFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = time.Duration(n) * time.Minute
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
