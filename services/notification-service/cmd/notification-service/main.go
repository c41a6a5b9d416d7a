package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/carebridge-au/carebridge/libs/config"
	"github.com/carebridge-au/carebridge/libs/db"
	"github.com/carebridge-au/carebridge/libs/httpx"
	"github.com/carebridge-au/carebridge/libs/kafkax"
	otelx "github.com/carebridge-au/carebridge/libs/otel"
	"github.com/carebridge-au/carebridge/libs/runtime"
	"github.com/carebridge-au/carebridge/services/notification-service/internal/consumer"
	"github.com/carebridge-au/carebridge/services/notification-service/internal/email"
	"github.com/carebridge-au/carebridge/services/notification-service/internal/inbox"
	"github.com/carebridge-au/carebridge/services/notification-service/internal/outbox"
	"github.com/carebridge-au/carebridge/services/notification-service/internal/sms"
	"github.com/carebridge-au/carebridge/services/notification-service/internal/storage"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type reminderPayload struct {
	BookingID     string         `json:"booking_id"`
	ProviderID    string         `json:"provider_id"`
	ParticipantID string         `json:"participant_id"`
	RemindAt      string         `json:"remind_at"`
	TemplateData  map[string]any `json:"template_data"`
}

type userCreatedPayload struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Phone  string `json:"phone"`
	Role   string `json:"role"`
}

// pickChannel resolves the delivery channel for a contact. SMS is used only
// when preferred and a phone number is on file.
func pickChannel(contact storage.Contact, preferred string) (channel string, recipient string) {
	if preferred == "sms" && contact.Phone != "" {
		return "sms", contact.Phone
	}
	return "email", contact.Email
}

func reminderBody(payload reminderPayload) string {
	when := payload.RemindAt
	if at, ok := payload.TemplateData["scheduled_at"].(string); ok && at != "" {
		when = at
	}
	return fmt.Sprintf("Reminder: your booking %s is scheduled for %s.", payload.BookingID, when)
}

func writeOutboxSent(ctx context.Context, pool *db.Pool, outboxRepo *outbox.Repository, payload reminderPayload, channel string, deliveredVia string) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if strings.TrimSpace(deliveredVia) == "" {
		deliveredVia = "unknown"
	}
	eventPayload, err := json.Marshal(map[string]any{
		"booking_id":     payload.BookingID,
		"provider_id":    payload.ProviderID,
		"participant_id": payload.ParticipantID,
		"channel":        channel,
		"delivered_via":  deliveredVia,
		"sent_at":        time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	if err := outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "notification",
		AggregateID:   payload.BookingID,
		EventType:     "notification.sent.v1",
		Payload:       eventPayload,
	}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func writeOutboxFailed(ctx context.Context, pool *db.Pool, outboxRepo *outbox.Repository, payload reminderPayload, channel string, reason string) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	eventPayload, err := json.Marshal(map[string]any{
		"booking_id":     payload.BookingID,
		"provider_id":    payload.ProviderID,
		"participant_id": payload.ParticipantID,
		"channel":        channel,
		"error_reason":   reason,
		"failed_at":      time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	if err := outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "notification",
		AggregateID:   payload.BookingID,
		EventType:     "notification.failed.v1",
		Payload:       eventPayload,
	}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func main() {
	service := config.String("SERVICE_NAME", "notification-service")
	port, err := config.Port("PORT", "8085")
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

	inboxRepo := inbox.NewRepository(pool)
	notificationsRepo := storage.NewRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	smtpHost := config.String("SMTP_HOST", "mailpit")
	smtpPort := config.String("SMTP_PORT", "1025")
	smtpFrom := config.String("SMTP_FROM", "no-reply@carebridge.local")
	emailSender := email.NewSMTPSender(smtpHost, smtpPort, smtpFrom)
	emailProviderID := "smtp"

	smsProvider := strings.ToLower(config.String("SMS_PROVIDER", "noop"))
	smsWebhookURL := config.String("SMS_WEBHOOK_URL", "")
	smsWebhookToken := config.String("SMS_WEBHOOK_TOKEN", "")
	var smsSender sms.Sender
	switch smsProvider {
	case "webhook":
		smsSender = sms.NewWebhookSender(smsWebhookURL, smsWebhookToken)
	case "noop":
		smsSender = sms.NewNoopSender()
	default:
		smsSender = sms.NewWebhookSender(smsWebhookURL, smsWebhookToken)
	}

	preferredChannel := strings.ToLower(config.String("NOTIFICATION_PREFERRED_CHANNEL", "email"))
	failSuffix := config.String("NOTIFICATION_FAIL_SUFFIX", "")

	brokers := config.String("KAFKA_BROKERS", "")
	groupID := config.String("KAFKA_GROUP_ID", "notification-service")

	contactConsumer := consumer.New(logger, inboxRepo, consumer.Config{
		Brokers: brokers,
		GroupID: groupID,
		Topic:   config.String("KAFKA_CONTACT_TOPIC", "auth.user.created.v1"),
	}, func(ctx context.Context, msg kafka.Message) error {
		var payload userCreatedPayload
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid user created payload", "err", err)
			return nil
		}
		if payload.UserID == "" || payload.Email == "" {
			logger.Error("missing user created fields")
			return nil
		}
		return notificationsRepo.UpsertContact(ctx, storage.Contact{
			UserID: payload.UserID,
			Email:  payload.Email,
			Phone:  payload.Phone,
			Role:   payload.Role,
		})
	})
	go contactConsumer.Run(ctx)

	reminderConsumer := consumer.New(logger, inboxRepo, consumer.Config{
		Brokers: brokers,
		GroupID: groupID,
		Topic:   config.String("KAFKA_CONSUME_TOPIC", "scheduler.reminder.due.v1"),
	}, func(ctx context.Context, msg kafka.Message) error {
		var payload reminderPayload
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid reminder payload", "err", err)
			return nil
		}
		if payload.BookingID == "" || payload.ParticipantID == "" || payload.RemindAt == "" {
			logger.Error("missing reminder fields")
			return nil
		}
		if _, err := time.Parse(time.RFC3339, payload.RemindAt); err != nil {
			logger.Error("invalid remind_at", "err", err)
			return nil
		}

		status := "sent"
		failureReason := ""
		channel := "email"
		recipient := ""

		contact, found, err := notificationsRepo.GetContact(ctx, payload.ParticipantID)
		if err != nil {
			logger.Error("contact lookup failed", "err", err)
			return err
		}
		if !found {
			status = "failed"
			failureReason = "no contact on file for participant"
		} else {
			channel, recipient = pickChannel(contact, preferredChannel)
		}

		if status == "sent" && failSuffix != "" && strings.HasSuffix(recipient, failSuffix) {
			status = "failed"
			failureReason = "simulated failure"
		}

		deliveredVia := ""
		if status == "sent" {
			body := reminderBody(payload)
			switch channel {
			case "email":
				if err := emailSender.Send(recipient, "Booking reminder", body); err != nil {
					status = "failed"
					failureReason = err.Error()
					logger.Error("email send failed", "err", err, "recipient", recipient)
				} else {
					deliveredVia = emailProviderID
				}
			case "sms":
				if err := smsSender.Send(ctx, recipient, body); err != nil {
					status = "failed"
					failureReason = err.Error()
					logger.Error("sms send failed", "err", err, "recipient", recipient)
				} else {
					deliveredVia = smsSender.ProviderID()
				}
			}
		}

		if err := notificationsRepo.Insert(ctx, storage.Notification{
			BookingID:     payload.BookingID,
			ParticipantID: payload.ParticipantID,
			Channel:       channel,
			Recipient:     recipient,
			Payload:       payload.TemplateData,
			Status:        status,
		}); err != nil {
			logger.Error("failed to persist notification", "err", err)
			return err
		}

		if status == "failed" {
			if err := writeOutboxFailed(ctx, pool, outboxRepo, payload, channel, failureReason); err != nil {
				logger.Error("failed to enqueue notification.failed", "err", err)
				return err
			}
		} else {
			if err := writeOutboxSent(ctx, pool, outboxRepo, payload, channel, deliveredVia); err != nil {
				logger.Error("failed to enqueue notification.sent", "err", err)
				return err
			}
		}

		logger.Info("reminder processed", "booking_id", payload.BookingID, "channel", channel, "status", status)
		return nil
	})
	go reminderConsumer.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "notification")
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
