package storage

import (
	"context"
	"errors"
	"time"

	"github.com/carebridge-au/carebridge/libs/db"
	"github.com/carebridge-au/carebridge/services/booking-service/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type BookingRepository struct {
	pool *db.Pool
}

type IdempotencyRecord struct {
	ParticipantID   string
	IdempotencyKey  string
	BookingID       string
	StatusCode      int
	ResponsePayload []byte
}

func NewBookingRepository(pool *db.Pool) *BookingRepository {
	return &BookingRepository{pool: pool}
}

func (r *BookingRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *BookingRepository) LockIdempotencyKey(ctx context.Context, tx pgx.Tx, participantID, key string) (IdempotencyRecord, bool, error) {
	rec, err := r.selectIdempotencyForUpdate(ctx, tx, participantID, key)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return IdempotencyRecord{}, false, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (participant_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (participant_id, idempotency_key) DO NOTHING
	`, participantID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}

	rec, err = r.selectIdempotencyForUpdate(ctx, tx, participantID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	return rec, false, nil
}

func (r *BookingRepository) FinalizeIdempotency(ctx context.Context, tx pgx.Tx, participantID, key, bookingID string, statusCode int, response []byte) error {
	_, err := tx.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET booking_id = $3,
			status_code = $4,
			response_payload = $5,
			updated_at = now()
		WHERE participant_id = $1 AND idempotency_key = $2
	`, participantID, key, bookingID, statusCode, response)
	return err
}

func (r *BookingRepository) Create(ctx context.Context, tx pgx.Tx, b *model.Booking) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO bookings
			(provider_id, service_id, participant_id, scheduled_at, status, note)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, b.ProviderID, b.ServiceID, b.ParticipantID, b.ScheduledAt, b.Status, b.Note).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *BookingRepository) GetBookingForUpdate(ctx context.Context, tx pgx.Tx, bookingID string) (model.Booking, error) {
	var b model.Booking
	var cancelledAt *time.Time
	err := tx.QueryRow(ctx, `
		SELECT id, provider_id, service_id, participant_id, scheduled_at, status,
			COALESCE(note, ''), cancelled_at, COALESCE(cancel_reason, ''), created_at
		FROM bookings
		WHERE id = $1
		FOR UPDATE
	`, bookingID).Scan(
		&b.ID,
		&b.ProviderID,
		&b.ServiceID,
		&b.ParticipantID,
		&b.ScheduledAt,
		&b.Status,
		&b.Note,
		&cancelledAt,
		&b.CancelReason,
		&b.CreatedAt,
	)
	if err != nil {
		return model.Booking{}, err
	}
	b.CancelledAt = cancelledAt
	return b, nil
}

// ConfirmBooking flips a pending booking to confirmed. The exclusion
// constraint on confirmed bookings is the final arbiter of slot conflicts;
// a racing confirm surfaces here as a 23P01 error.
func (r *BookingRepository) ConfirmBooking(ctx context.Context, tx pgx.Tx, bookingID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE bookings
		SET status = 'confirmed'
		WHERE id = $1
	`, bookingID)
	return err
}

func (r *BookingRepository) CancelBooking(ctx context.Context, tx pgx.Tx, bookingID, reason string) (time.Time, error) {
	var cancelledAt time.Time
	err := tx.QueryRow(ctx, `
		UPDATE bookings
		SET status = 'cancelled',
			cancelled_at = now(),
			cancel_reason = $2
		WHERE id = $1
		RETURNING cancelled_at
	`, bookingID, reason).Scan(&cancelledAt)
	return cancelledAt, err
}

func (r *BookingRepository) CompleteBooking(ctx context.Context, tx pgx.Tx, bookingID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE bookings
		SET status = 'completed'
		WHERE id = $1 AND status = 'confirmed'
	`, bookingID)
	return err
}

// ListConfirmedBetween returns confirmed bookings for a provider's service
// with scheduled_at in [start, end). Callers widen the range by the conflict
// tolerance so bookings just outside the day still block edge slots.
func (r *BookingRepository) ListConfirmedBetween(ctx context.Context, providerID, serviceID string, start, end time.Time) ([]model.Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, provider_id, service_id, participant_id, scheduled_at, status,
			COALESCE(note, ''), cancelled_at, COALESCE(cancel_reason, ''), created_at
		FROM bookings
		WHERE provider_id = $1
			AND service_id = $2
			AND status = 'confirmed'
			AND scheduled_at >= $3
			AND scheduled_at < $4
		ORDER BY scheduled_at ASC
	`, providerID, serviceID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBookings(rows)
}

func (r *BookingRepository) ListByParticipant(ctx context.Context, participantID string, limit int) ([]model.Booking, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, provider_id, service_id, participant_id, scheduled_at, status,
			COALESCE(note, ''), cancelled_at, COALESCE(cancel_reason, ''), created_at
		FROM bookings
		WHERE participant_id = $1
		ORDER BY scheduled_at DESC
		LIMIT $2
	`, participantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBookings(rows)
}

func (r *BookingRepository) ListByProvider(ctx context.Context, providerID string, limit int) ([]model.Booking, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, provider_id, service_id, participant_id, scheduled_at, status,
			COALESCE(note, ''), cancelled_at, COALESCE(cancel_reason, ''), created_at
		FROM bookings
		WHERE provider_id = $1
		ORDER BY scheduled_at DESC
		LIMIT $2
	`, providerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBookings(rows)
}

func scanBookings(rows pgx.Rows) ([]model.Booking, error) {
	var bookings []model.Booking
	for rows.Next() {
		var b model.Booking
		var cancelledAt *time.Time
		if err := rows.Scan(
			&b.ID,
			&b.ProviderID,
			&b.ServiceID,
			&b.ParticipantID,
			&b.ScheduledAt,
			&b.Status,
			&b.Note,
			&cancelledAt,
			&b.CancelReason,
			&b.CreatedAt,
		); err != nil {
			return nil, err
		}
		b.CancelledAt = cancelledAt
		bookings = append(bookings, b)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return bookings, nil
}

func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func (r *BookingRepository) selectIdempotencyForUpdate(ctx context.Context, tx pgx.Tx, participantID, key string) (IdempotencyRecord, error) {
	var rec IdempotencyRecord
	var responseText string
	err := tx.QueryRow(ctx, `
		SELECT participant_id::text,
			idempotency_key,
			COALESCE(booking_id::text, ''),
			COALESCE(status_code, 0),
			COALESCE(response_payload::text, '')
		FROM booking_idempotency_keys
		WHERE participant_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, participantID, key).Scan(
		&rec.ParticipantID,
		&rec.IdempotencyKey,
		&rec.BookingID,
		&rec.StatusCode,
		&responseText,
	)
	if err != nil {
		return IdempotencyRecord{}, err
	}
	if responseText != "" {
		rec.ResponsePayload = []byte(responseText)
	}
	return rec, nil
}
