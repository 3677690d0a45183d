package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"
	flag "github.com/spf13/pflag"

	"github.com/example/carpool-matching/internal/config"
	"github.com/example/carpool-matching/internal/logging"
	"github.com/example/carpool-matching/internal/models"
	"github.com/example/carpool-matching/internal/storage"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "carpool",
		Name:      "consumer_messages_consumed_total",
		Help:      "Total group event messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "carpool",
		Name:      "consumer_messages_invalid_total",
		Help:      "Total invalid messages received",
	})
	eventsStored = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "carpool",
		Name:      "consumer_events_stored_total",
		Help:      "Total group events written to postgres",
	})
	storeErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "carpool",
		Name:      "consumer_store_errors_total",
		Help:      "Total group events that could not be stored",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, eventsStored, storeErrors)
}

func main() {
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.LoadConsumerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	store, err := storage.NewPostgresStore(cfg.PGDSN)
	if err != nil {
		logger.Error("postgres unavailable", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	go serveMetrics(metricsAddr, store, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic, GroupID: cfg.KafkaGroup, MinBytes: 1, MaxBytes: 10e6})
	defer r.Close()

	logger.Info("consumer listening", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)
	consume(ctx, r, store, logger)
}

func serveMetrics(addr string, store *storage.PostgresStore, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			http.Error(w, "postgres not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	logger.Info("metrics/health listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", "error", err)
	}
}

// MessageReader is the subset of kafka.Reader the consume loop needs.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

func consume(ctx context.Context, r MessageReader, sink storage.EventSink, logger *slog.Logger) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down consumer")
				return
			}
			logger.Warn("kafka read error", "error", err, "backoff", backoff.String())
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
		msgsConsumed.Inc()

		e, err := decodeEvent(m.Value)
		if err != nil {
			msgsInvalid.Inc()
			logger.Warn("invalid message", "offset", m.Offset, "error", err)
			continue
		}
		if err := recordWithRetry(ctx, sink, e, 3, 200*time.Millisecond); err != nil {
			storeErrors.Inc()
			logger.Error("storing group event failed", "type", e.Type, "group_id", e.GroupID, "error", err)
			continue
		}
		eventsStored.Inc()
	}
}

func decodeEvent(b []byte) (models.GroupEvent, error) {
	var e models.GroupEvent
	if err := json.Unmarshal(b, &e); err != nil {
		return e, err
	}
	if e.Type == "" {
		return e, errors.New("event without type")
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	return e, nil
}

// recordWithRetry writes e with exponential backoff between attempts.
func recordWithRetry(ctx context.Context, sink storage.EventSink, e models.GroupEvent, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = sink.RecordGroupEvent(ctx, e); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return err
}
