package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/carebridge-au/carebridge/libs/config"
	"github.com/carebridge-au/carebridge/libs/db"
	"github.com/carebridge-au/carebridge/libs/httpx"
	"github.com/carebridge-au/carebridge/libs/kafkax"
	otelx "github.com/carebridge-au/carebridge/libs/otel"
	"github.com/carebridge-au/carebridge/libs/runtime"
	"github.com/carebridge-au/carebridge/services/booking-service/internal/availability"
	"github.com/carebridge-au/carebridge/services/booking-service/internal/consumer"
	"github.com/carebridge-au/carebridge/services/booking-service/internal/handlers"
	"github.com/carebridge-au/carebridge/services/booking-service/internal/inbox"
	"github.com/carebridge-au/carebridge/services/booking-service/internal/outbox"
	"github.com/carebridge-au/carebridge/services/booking-service/internal/policy"
	"github.com/carebridge-au/carebridge/services/booking-service/internal/rules"
	"github.com/carebridge-au/carebridge/services/booking-service/internal/storage"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func parseReminderOffsets(raw string, logger *slog.Logger) []time.Duration {
	var offsets []time.Duration
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		mins, err := strconv.Atoi(part)
		if err != nil || mins <= 0 {
			logger.Warn("invalid reminder offset", "value", part)
			continue
		}
		offsets = append(offsets, time.Duration(mins)*time.Minute)
	}
	if len(offsets) == 0 {
		offsets = []time.Duration{24 * time.Hour}
	}
	return offsets
}

func main() {
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}

	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	loc, err := time.LoadLocation(config.String("SLOT_TIMEZONE", "Australia/Sydney"))
	if err != nil {
		logger.Error("invalid SLOT_TIMEZONE; using UTC", "err", err)
		loc = time.UTC
	}

	repo := storage.NewBookingRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	offsets := parseReminderOffsets(config.String("REMINDER_OFFSETS_MINUTES", "1440,60"), logger)
	policyProvider, err := policy.NewReminderPolicyProvider(logger, offsets, config.String("PROVIDER_GRPC_ADDR", ""))
	if err != nil {
		logger.Error("policy provider init failed", "err", err)
		policyProvider = policy.NewStaticProvider(offsets)
	}
	rulesProvider, err := rules.NewProvider(config.String("PROVIDER_GRPC_ADDR", ""))
	if err != nil {
		logger.Error("rules provider init failed; using local replica", "err", err)
		rulesProvider = nil
	}
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	inboxRepo := inbox.NewRepository(pool)
	startConsumer := func(topic string, handler consumer.Handler) {
		if strings.TrimSpace(topic) == "" {
			return
		}
		consumerCfg := consumer.Config{
			Brokers: config.String("KAFKA_BROKERS", ""),
			GroupID: config.String("KAFKA_GROUP_ID", "booking-service"),
			Topic:   topic,
		}
		eventConsumer := consumer.New(logger, inboxRepo, consumerCfg, handler)
		go eventConsumer.Run(ctx)
	}

	// Budgets are owned by the wallet service; keep a local cache so booking
	// creation never blocks on it.
	startConsumer(config.String("KAFKA_BUDGET_TOPIC", "wallet.budget.updated.v1"), func(ctx context.Context, msg kafka.Message) error {
		var payload struct {
			ParticipantID      string `json:"participant_id"`
			Tier               string `json:"tier"`
			MaxMonthlyBookings int    `json:"max_monthly_bookings"`
		}
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid event payload", "err", err, "topic", msg.Topic)
			return nil
		}
		if payload.ParticipantID == "" || payload.Tier == "" || payload.MaxMonthlyBookings <= 0 {
			logger.Error("missing required event fields", "topic", msg.Topic)
			return nil
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		if err := repo.UpsertParticipantBudget(ctx, tx, storage.ParticipantBudget{
			ParticipantID:      payload.ParticipantID,
			Tier:               payload.Tier,
			MaxMonthlyBookings: payload.MaxMonthlyBookings,
		}); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})

	// Availability rules replicate from the provider service so slot
	// resolution stays local.
	startConsumer(config.String("KAFKA_AVAILABILITY_TOPIC", "provider.availability.updated.v1"), func(ctx context.Context, msg kafka.Message) error {
		var payload struct {
			RuleID     string `json:"rule_id"`
			ProviderID string `json:"provider_id"`
			ServiceID  string `json:"service_id"`
			Date       string `json:"date"`
			TimeSlot   string `json:"time_slot"`
			Available  bool   `json:"available"`
			Deleted    bool   `json:"deleted"`
		}
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid event payload", "err", err, "topic", msg.Topic)
			return nil
		}
		if payload.ProviderID == "" || payload.ServiceID == "" || payload.Date == "" || payload.TimeSlot == "" {
			logger.Error("missing required event fields", "topic", msg.Topic)
			return nil
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		if payload.Deleted {
			if err := repo.DeleteAvailabilityRule(ctx, tx, payload.ProviderID, payload.ServiceID, payload.Date, payload.TimeSlot); err != nil {
				return err
			}
			return tx.Commit(ctx)
		}
		if err := repo.UpsertAvailabilityRule(ctx, tx, availability.Rule{
			ID:         payload.RuleID,
			ProviderID: payload.ProviderID,
			ServiceID:  payload.ServiceID,
			Date:       payload.Date,
			TimeOfDay:  payload.TimeSlot,
			Available:  payload.Available,
		}); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})

	bookingHandler := handlers.NewBookingHandler(repo, outboxRepo, logger, policyProvider, rulesProvider, offsets, loc)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	setupBudgetRoutes(ctx, mux, logger)
	mux.HandleFunc("/api/v1/public/slots", bookingHandler.Slots)
	mux.HandleFunc("/api/v1/public/book", bookingHandler.Create)
	mux.HandleFunc("/api/v1/bookings", bookingHandler.List)
	mux.HandleFunc("/api/v1/bookings/confirm", bookingHandler.Confirm)
	mux.HandleFunc("/api/v1/bookings/cancel", bookingHandler.Cancel)
	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
