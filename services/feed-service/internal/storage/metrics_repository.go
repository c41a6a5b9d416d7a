package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/carebridge-au/carebridge/libs/db"
)

type DailyBookingMetric struct {
	ProviderID     string
	Day            time.Time
	ConfirmedCount int
	CancelledCount int
}

type DailyDeliveryMetric struct {
	ProviderID  string
	Day         time.Time
	Channel     string
	SentCount   int
	FailedCount int
}

type MetricsRepository struct {
	pool *db.Pool
}

func NewMetricsRepository(pool *db.Pool) *MetricsRepository {
	return &MetricsRepository{pool: pool}
}

// RecordBookingEvent inserts the raw event row and bumps the per-day
// aggregate. The event_id unique index makes redelivery a no-op.
func (r *MetricsRepository) RecordBookingEvent(ctx context.Context, tx pgx.Tx, eventID string, eventType string, providerID string, bookingID string, occurredAt time.Time, confirmedInc int, cancelledInc int) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO booking_metric_events (event_id, event_type, provider_id, booking_id, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, eventType, providerID, bookingID, occurredAt.UTC())
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO daily_booking_metrics (provider_id, day, confirmed_count, cancelled_count)
		VALUES ($1, $2::date, $3, $4)
		ON CONFLICT (provider_id, day)
		DO UPDATE SET confirmed_count = daily_booking_metrics.confirmed_count + EXCLUDED.confirmed_count,
		              cancelled_count = daily_booking_metrics.cancelled_count + EXCLUDED.cancelled_count,
		              updated_at = now()
	`, providerID, occurredAt.UTC(), confirmedInc, cancelledInc)
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *MetricsRepository) BumpDeliveryMetric(ctx context.Context, providerID string, channel string, at time.Time, sentInc int, failedInc int) error {
	if providerID == "" || channel == "" {
		return nil
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO daily_delivery_metrics (provider_id, day, channel, sent_count, failed_count)
		VALUES ($1, $2::date, $3, $4, $5)
		ON CONFLICT (provider_id, day, channel)
		DO UPDATE SET sent_count = daily_delivery_metrics.sent_count + EXCLUDED.sent_count,
		              failed_count = daily_delivery_metrics.failed_count + EXCLUDED.failed_count,
		              updated_at = now()
	`, providerID, at.UTC(), channel, sentInc, failedInc)
	return err
}

func (r *MetricsRepository) RecordReminderDLQ(ctx context.Context, bookingID string, providerID string, participantID string, remindAt time.Time, reason string, failedAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO reminder_dlq_events (booking_id, provider_id, participant_id, remind_at, error_reason, failed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, bookingID, providerID, participantID, remindAt.UTC(), reason, failedAt.UTC())
	return err
}

func (r *MetricsRepository) ListBookingMetrics(ctx context.Context, providerID string, since time.Time) ([]DailyBookingMetric, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT provider_id, day, confirmed_count, cancelled_count
		FROM daily_booking_metrics
		WHERE provider_id = $1 AND day >= $2::date
		ORDER BY day DESC
	`, providerID, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var metrics []DailyBookingMetric
	for rows.Next() {
		var m DailyBookingMetric
		if err := rows.Scan(&m.ProviderID, &m.Day, &m.ConfirmedCount, &m.CancelledCount); err != nil {
			return nil, err
		}
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}

func (r *MetricsRepository) ListDeliveryMetrics(ctx context.Context, providerID string, since time.Time) ([]DailyDeliveryMetric, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT provider_id, day, channel, sent_count, failed_count
		FROM daily_delivery_metrics
		WHERE provider_id = $1 AND day >= $2::date
		ORDER BY day DESC, channel
	`, providerID, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var metrics []DailyDeliveryMetric
	for rows.Next() {
		var m DailyDeliveryMetric
		if err := rows.Scan(&m.ProviderID, &m.Day, &m.Channel, &m.SentCount, &m.FailedCount); err != nil {
			return nil, err
		}
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}
