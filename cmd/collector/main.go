package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Kubendra2004/HealthForesight/app"
	"github.com/Kubendra2004/HealthForesight/config"
	"github.com/Kubendra2004/HealthForesight/forecast"
	"github.com/Kubendra2004/HealthForesight/history"
	"github.com/Kubendra2004/HealthForesight/services"
)

// ObservationPayload is one day of resource usage reported by a hospital feed.
type ObservationPayload struct {
	Date          string   `json:"date"`
	Beds          *float64 `json:"beds"`
	ICU           *float64 `json:"icu"`
	Oxygen        *float64 `json:"oxygen"`
	ERVisits      *float64 `json:"er_visits"`
	OccupancyRate *float64 `json:"occupancy_rate"`
	Temp          *float64 `json:"temp"`
	Humidity      *float64 `json:"humidity"`
	Holiday       any      `json:"holiday"`
}

var (
	msgsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hospitalops_collector_messages_received_total",
		Help: "Total number of MQTT messages received by collector.",
	})
	msgsStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hospitalops_collector_messages_stored_total",
		Help: "Total number of observations upserted into resource_history.",
	})
	msgsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hospitalops_collector_messages_failed_total",
		Help: "Total number of messages rejected or failed to store.",
	})
)

type appender interface {
	Append(ctx context.Context, r forecast.Record) error
}

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := app.Logger(cfg, "hospitalops-collector")

	dbPool, err := app.OpenPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("database unavailable")
	}
	defer dbPool.Close()
	store := history.NewPostgres(dbPool)
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("schema setup failed")
	}

	cache, err := services.NewCacheService(cfg.Redis, 3, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, skipping live fan-out")
	}
	defer cache.Close()

	go serveHTTP(cfg.Server.MetricsAddr, logger)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTT.URL)
	opts.SetClientID("collector-" + time.Now().Format("20060102150405"))
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetDefaultPublishHandler(func(client mqtt.Client, message mqtt.Message) {
		processMessage(ctx, store, cache, message.Payload(), logger)
	})
	opts.OnConnect = func(client mqtt.Client) {
		token := client.Subscribe(cfg.MQTT.Topic, 1, nil)
		token.Wait()
		if token.Error() != nil {
			logger.Error().Err(token.Error()).Msg("mqtt subscribe error")
			return
		}
		logger.Info().Str("topic", cfg.MQTT.Topic).Msg("collector subscribed")
	}
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		logger.Warn().Err(err).Msg("mqtt connection lost")
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	token.Wait()
	if token.Error() != nil {
		logger.Fatal().Err(token.Error()).Msg("mqtt connection failed")
	}

	logger.Info().Str("mqtt", cfg.MQTT.URL).Str("metrics", cfg.Server.MetricsAddr).Msg("collector running")

	<-ctx.Done()
	logger.Info().Msg("collector shutting down")
	client.Disconnect(250)
}

func serveHTTP(addr string, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal().Err(err).Msg("metrics server failed")
	}
}

// parseObservation validates a payload. Every metric and covariate is required; a
// missing holiday flag means a regular day.
func parseObservation(raw []byte) (forecast.Record, error) {
	var p ObservationPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return forecast.Record{}, fmt.Errorf("invalid payload: %w", err)
	}
	date, err := time.Parse("2006-01-02", strings.TrimSpace(p.Date))
	if err != nil {
		return forecast.Record{}, fmt.Errorf("invalid date %q", p.Date)
	}

	fields := []struct {
		name string
		v    *float64
	}{
		{"beds", p.Beds}, {"icu", p.ICU}, {"oxygen", p.Oxygen}, {"er_visits", p.ERVisits},
		{"occupancy_rate", p.OccupancyRate}, {"temp", p.Temp}, {"humidity", p.Humidity},
	}
	var missing []string
	for _, f := range fields {
		if f.v == nil {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return forecast.Record{}, fmt.Errorf("missing fields: %s", strings.Join(missing, ", "))
	}

	holiday := false
	if p.Holiday != nil {
		holiday, err = history.ParseHoliday(fmt.Sprint(p.Holiday))
		if err != nil {
			return forecast.Record{}, err
		}
	}

	return forecast.Record{
		Date:          forecast.Day(date),
		Beds:          *p.Beds,
		ICU:           *p.ICU,
		Oxygen:        *p.Oxygen,
		ERVisits:      *p.ERVisits,
		OccupancyRate: *p.OccupancyRate,
		Temp:          *p.Temp,
		Humidity:      *p.Humidity,
		Holiday:       holiday,
	}, nil
}

func processMessage(ctx context.Context, store appender, pub publisher, payloadRaw []byte, logger zerolog.Logger) {
	msgsReceived.Inc()

	rec, err := parseObservation(payloadRaw)
	if err != nil {
		msgsFailed.Inc()
		logger.Warn().Err(err).Msg("observation rejected")
		return
	}

	if err := store.Append(ctx, rec); err != nil {
		msgsFailed.Inc()
		if !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Str("date", rec.Date.Format("2006-01-02")).Msg("db upsert failed")
		}
		return
	}

	msgsStored.Inc()

	if pub != nil {
		if err := pub.Publish(ctx, services.ChannelLive, rec); err != nil {
			logger.Debug().Err(err).Msg("live publish failed")
		}
	}
}
