package storage

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/carebridge-au/carebridge/libs/db"
)

type Notification struct {
	BookingID     string
	ParticipantID string
	Channel       string
	Recipient     string
	Payload       map[string]any
	Status        string
}

// Contact is the local projection of a registered user, maintained from
// auth.user.created.v1 events. Reminder events carry only IDs, so delivery
// addresses are resolved here.
type Contact struct {
	UserID string
	Email  string
	Phone  string
	Role   string
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO notifications (booking_id, participant_id, channel, recipient, payload, status)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, n.BookingID, n.ParticipantID, n.Channel, n.Recipient, payload, n.Status)
	return err
}

func (r *Repository) UpsertContact(ctx context.Context, c Contact) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO contacts (user_id, email, phone, role)
		VALUES ($1, $2, NULLIF($3, ''), $4)
		ON CONFLICT (user_id) DO UPDATE
		SET email = EXCLUDED.email, phone = EXCLUDED.phone, role = EXCLUDED.role
	`, c.UserID, c.Email, c.Phone, c.Role)
	return err
}

func (r *Repository) GetContact(ctx context.Context, userID string) (Contact, bool, error) {
	var c Contact
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, email, COALESCE(phone, ''), role
		FROM contacts
		WHERE user_id = $1
	`, userID).Scan(&c.UserID, &c.Email, &c.Phone, &c.Role)
	if err == pgx.ErrNoRows {
		return Contact{}, false, nil
	}
	if err != nil {
		return Contact{}, false, err
	}
	return c, true, nil
}
