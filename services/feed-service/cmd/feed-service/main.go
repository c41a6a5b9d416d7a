package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/carebridge-au/carebridge/libs/config"
	"github.com/carebridge-au/carebridge/libs/db"
	"github.com/carebridge-au/carebridge/libs/httpx"
	"github.com/carebridge-au/carebridge/libs/kafkax"
	otelx "github.com/carebridge-au/carebridge/libs/otel"
	"github.com/carebridge-au/carebridge/libs/runtime"
	"github.com/carebridge-au/carebridge/services/feed-service/internal/cache"
	"github.com/carebridge-au/carebridge/services/feed-service/internal/consumer"
	"github.com/carebridge-au/carebridge/services/feed-service/internal/handlers"
	"github.com/carebridge-au/carebridge/services/feed-service/internal/inbox"
	"github.com/carebridge-au/carebridge/services/feed-service/internal/storage"
)

func main() {
	service := config.String("SERVICE_NAME", "feed-service")
	port, err := config.Port("PORT", "8086")
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

	var rdb *redis.Client
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: addr})
		defer rdb.Close()
	}
	cacheTTLSeconds, err := strconv.Atoi(config.String("FEED_CACHE_TTL_SECONDS", "5"))
	if err != nil || cacheTTLSeconds <= 0 {
		cacheTTLSeconds = 5
	}
	pageCache := cache.New(rdb, time.Duration(cacheTTLSeconds)*time.Second)

	inboxRepo := inbox.NewRepository(pool)
	feedRepo := storage.NewFeedRepository(pool)
	metricsRepo := storage.NewMetricsRepository(pool)

	brokers := config.String("KAFKA_BROKERS", "")
	groupID := config.String("KAFKA_GROUP_ID", "feed-service")

	type bookingEvent struct {
		BookingID     string `json:"booking_id"`
		ProviderID    string `json:"provider_id"`
		ParticipantID string `json:"participant_id"`
		ScheduledAt   string `json:"scheduled_at"`
		CancelledAt   string `json:"cancelled_at"`
	}

	handleBookingEvent := func(ctx context.Context, msg kafka.Message, kind string) error {
		var payload bookingEvent
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid booking payload", "err", err)
			return nil
		}
		if payload.BookingID == "" || payload.ProviderID == "" || payload.ScheduledAt == "" {
			logger.Error("missing booking fields")
			return nil
		}
		occurredAt, err := time.Parse(time.RFC3339, payload.ScheduledAt)
		if err != nil {
			logger.Error("invalid scheduled_at", "err", err)
			return nil
		}
		if kind == "cancelled" && payload.CancelledAt != "" {
			if at, err := time.Parse(time.RFC3339, payload.CancelledAt); err == nil {
				occurredAt = at
			}
		}

		meta := kafkax.ExtractEventMeta(msg)

		confirmedInc := 0
		cancelledInc := 0
		if kind == "confirmed" {
			confirmedInc = 1
		} else {
			cancelledInc = 1
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			logger.Error("db begin failed", "err", err)
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		recorded, err := metricsRepo.RecordBookingEvent(ctx, tx, meta.EventID, meta.EventType, payload.ProviderID, payload.BookingID, occurredAt, confirmedInc, cancelledInc)
		if err != nil {
			logger.Error("failed to record booking metric", "err", err)
			return err
		}
		if !recorded {
			return tx.Commit(ctx)
		}

		if err := feedRepo.InsertActivity(ctx, tx, storage.ActivityEntry{
			EventType:     meta.EventType,
			BookingID:     payload.BookingID,
			ProviderID:    payload.ProviderID,
			ParticipantID: payload.ParticipantID,
			OccurredAt:    occurredAt,
		}); err != nil {
			logger.Error("failed to insert activity entry", "err", err)
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			logger.Error("failed to commit booking event", "err", err)
			return err
		}

		logger.Info("booking activity recorded", "booking_id", payload.BookingID, "provider_id", payload.ProviderID, "event_type", meta.EventType)
		return nil
	}

	confirmedConsumer := consumer.New(logger, inboxRepo, consumer.Config{
		Brokers: brokers,
		GroupID: groupID,
		Topic:   "booking.booking.confirmed.v1",
	}, func(ctx context.Context, msg kafka.Message) error {
		return handleBookingEvent(ctx, msg, "confirmed")
	})
	go confirmedConsumer.Run(ctx)

	cancelledConsumer := consumer.New(logger, inboxRepo, consumer.Config{
		Brokers: brokers,
		GroupID: groupID,
		Topic:   "booking.booking.cancelled.v1",
	}, func(ctx context.Context, msg kafka.Message) error {
		return handleBookingEvent(ctx, msg, "cancelled")
	})
	go cancelledConsumer.Run(ctx)

	type deliveryEvent struct {
		BookingID  string `json:"booking_id"`
		ProviderID string `json:"provider_id"`
		Channel    string `json:"channel"`
		SentAt     string `json:"sent_at"`
		FailedAt   string `json:"failed_at"`
	}

	sentConsumer := consumer.New(logger, inboxRepo, consumer.Config{
		Brokers: brokers,
		GroupID: groupID,
		Topic:   "notification.sent.v1",
	}, func(ctx context.Context, msg kafka.Message) error {
		var payload deliveryEvent
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid delivery payload", "err", err)
			return nil
		}
		at, err := time.Parse(time.RFC3339, payload.SentAt)
		if err != nil {
			logger.Error("invalid sent_at", "err", err)
			return nil
		}
		return metricsRepo.BumpDeliveryMetric(ctx, payload.ProviderID, payload.Channel, at, 1, 0)
	})
	go sentConsumer.Run(ctx)

	failedConsumer := consumer.New(logger, inboxRepo, consumer.Config{
		Brokers: brokers,
		GroupID: groupID,
		Topic:   "notification.failed.v1",
	}, func(ctx context.Context, msg kafka.Message) error {
		var payload deliveryEvent
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid delivery payload", "err", err)
			return nil
		}
		at, err := time.Parse(time.RFC3339, payload.FailedAt)
		if err != nil {
			logger.Error("invalid failed_at", "err", err)
			return nil
		}
		return metricsRepo.BumpDeliveryMetric(ctx, payload.ProviderID, payload.Channel, at, 0, 1)
	})
	go failedConsumer.Run(ctx)

	type dlqEvent struct {
		BookingID     string `json:"booking_id"`
		ProviderID    string `json:"provider_id"`
		ParticipantID string `json:"participant_id"`
		RemindAt      string `json:"remind_at"`
		ErrorReason   string `json:"error_reason"`
		FailedAt      string `json:"failed_at"`
	}

	dlqConsumer := consumer.New(logger, inboxRepo, consumer.Config{
		Brokers: brokers,
		GroupID: groupID,
		Topic:   "scheduler.reminder.dlq.v1",
	}, func(ctx context.Context, msg kafka.Message) error {
		var payload dlqEvent
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid dlq payload", "err", err)
			return nil
		}
		if payload.BookingID == "" || payload.ErrorReason == "" {
			logger.Error("missing dlq fields")
			return nil
		}
		remindAt, err := time.Parse(time.RFC3339, payload.RemindAt)
		if err != nil {
			logger.Error("invalid remind_at", "err", err)
			return nil
		}
		failedAt, err := time.Parse(time.RFC3339, payload.FailedAt)
		if err != nil {
			logger.Error("invalid failed_at", "err", err)
			return nil
		}
		logger.Warn("reminder dead-lettered", "booking_id", payload.BookingID)
		return metricsRepo.RecordReminderDLQ(ctx, payload.BookingID, payload.ProviderID, payload.ParticipantID, remindAt, payload.ErrorReason, failedAt)
	})
	go dlqConsumer.Run(ctx)

	feedHandler := handlers.NewFeedHandler(feedRepo, metricsRepo, pageCache, logger)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	mux.HandleFunc("/api/v1/feed/posts", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			feedHandler.CreatePost(w, r)
			return
		}
		feedHandler.ListPosts(w, r)
	})
	mux.HandleFunc("/api/v1/feed/groups", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			feedHandler.CreateGroup(w, r)
			return
		}
		feedHandler.ListGroups(w, r)
	})
	mux.HandleFunc("/api/v1/feed/groups/join", feedHandler.JoinGroup)
	mux.HandleFunc("/api/v1/feed/activity", feedHandler.Activity)
	mux.HandleFunc("/api/v1/feed/metrics", feedHandler.Metrics)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "feed")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
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
