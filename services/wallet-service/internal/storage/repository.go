package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/carebridge-au/carebridge/libs/db"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

type Plan struct {
	ParticipantID    string
	Tier             string
	Status           string
	Source           string
	StripeCustomerID string
	UpdatedAt        time.Time
}

func (r *Repository) UpsertPlan(ctx context.Context, tx pgx.Tx, p Plan) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO participant_plans (participant_id, tier, status, source, stripe_customer_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (participant_id)
		DO UPDATE SET tier = EXCLUDED.tier,
		              status = EXCLUDED.status,
		              source = EXCLUDED.source,
		              stripe_customer_id = COALESCE(EXCLUDED.stripe_customer_id, participant_plans.stripe_customer_id),
		              updated_at = now()
	`, p.ParticipantID, p.Tier, p.Status, defaultIfEmpty(p.Source, "local"), nullIfEmpty(p.StripeCustomerID))
	return err
}

func (r *Repository) GetPlan(ctx context.Context, participantID string) (Plan, error) {
	var p Plan
	err := r.pool.QueryRow(ctx, `
		SELECT participant_id::text, tier, status, source, COALESCE(stripe_customer_id, ''), updated_at
		FROM participant_plans
		WHERE participant_id = $1
	`, participantID).Scan(&p.ParticipantID, &p.Tier, &p.Status, &p.Source, &p.StripeCustomerID, &p.UpdatedAt)
	if err != nil {
		return Plan{}, err
	}
	return p, nil
}

func (r *Repository) GetPlanForUpdate(ctx context.Context, tx pgx.Tx, participantID string) (Plan, bool, error) {
	var p Plan
	err := tx.QueryRow(ctx, `
		SELECT participant_id::text, tier, status, source, COALESCE(stripe_customer_id, ''), updated_at
		FROM participant_plans
		WHERE participant_id = $1
		FOR UPDATE
	`, participantID).Scan(&p.ParticipantID, &p.Tier, &p.Status, &p.Source, &p.StripeCustomerID, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Plan{}, false, nil
		}
		return Plan{}, false, err
	}
	return p, true, nil
}

var ErrInsufficientFunds = errors.New("insufficient wallet funds")

// WalletBalance reads the current balance; participants without a wallet row
// have a zero balance.
func (r *Repository) WalletBalance(ctx context.Context, participantID string) (int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx, `
		SELECT balance_cents FROM wallets WHERE participant_id = $1
	`, participantID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return balance, nil
}

// CreditWallet adds funds and appends a ledger entry in the same transaction.
func (r *Repository) CreditWallet(ctx context.Context, tx pgx.Tx, participantID string, amountCents int64, entryType string, reference string) error {
	if amountCents <= 0 {
		return errors.New("credit amount must be positive")
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO wallets (participant_id, balance_cents)
		VALUES ($1, $2)
		ON CONFLICT (participant_id)
		DO UPDATE SET balance_cents = wallets.balance_cents + EXCLUDED.balance_cents,
		              updated_at = now()
	`, participantID, amountCents); err != nil {
		return err
	}
	return r.appendLedgerEntry(ctx, tx, participantID, "credit", entryType, amountCents, reference)
}

// DebitWallet withdraws funds, failing with ErrInsufficientFunds rather than
// letting the balance go negative.
func (r *Repository) DebitWallet(ctx context.Context, tx pgx.Tx, participantID string, amountCents int64, entryType string, reference string) error {
	if amountCents <= 0 {
		return errors.New("debit amount must be positive")
	}
	tag, err := tx.Exec(ctx, `
		UPDATE wallets
		SET balance_cents = balance_cents - $2,
		    updated_at = now()
		WHERE participant_id = $1 AND balance_cents >= $2
	`, participantID, amountCents)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientFunds
	}
	return r.appendLedgerEntry(ctx, tx, participantID, "debit", entryType, amountCents, reference)
}

func (r *Repository) appendLedgerEntry(ctx context.Context, tx pgx.Tx, participantID, direction, entryType string, amountCents int64, reference string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO wallet_entries (participant_id, direction, entry_type, amount_cents, reference)
		VALUES ($1, $2, $3, $4, $5)
	`, participantID, direction, entryType, amountCents, nullIfEmpty(reference))
	return err
}

type LedgerEntry struct {
	ID            int64
	ParticipantID string
	Direction     string
	EntryType     string
	AmountCents   int64
	Reference     string
	CreatedAt     time.Time
}

func (r *Repository) ListLedgerEntries(ctx context.Context, participantID string, limit int) ([]LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, participant_id::text, direction, entry_type, amount_cents, COALESCE(reference, ''), created_at
		FROM wallet_entries
		WHERE participant_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, participantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.ID, &e.ParticipantID, &e.Direction, &e.EntryType, &e.AmountCents, &e.Reference, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type Claim struct {
	ID            string
	ParticipantID string
	ProviderID    string
	BookingID     string
	AmountCents   int64
	Status        string
	Note          string
	DecidedBy     string
	DecideReason  string
	DecidedAt     *time.Time
	CreatedAt     time.Time
}

func (r *Repository) CreateClaim(ctx context.Context, tx pgx.Tx, c Claim) (string, error) {
	id := uuid.NewString()
	_, err := tx.Exec(ctx, `
		INSERT INTO claims (id, participant_id, provider_id, booking_id, amount_cents, status, note)
		VALUES ($1, $2, $3, $4, $5, 'submitted', $6)
	`, id, c.ParticipantID, nullIfEmpty(c.ProviderID), c.BookingID, c.AmountCents, nullIfEmpty(c.Note))
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *Repository) GetClaimForUpdate(ctx context.Context, tx pgx.Tx, claimID string) (Claim, error) {
	var c Claim
	var decidedAt *time.Time
	err := tx.QueryRow(ctx, `
		SELECT id::text, participant_id::text, COALESCE(provider_id::text, ''), booking_id::text,
		       amount_cents, status, COALESCE(note, ''), COALESCE(decided_by, ''), COALESCE(decide_reason, ''),
		       decided_at, created_at
		FROM claims
		WHERE id = $1
		FOR UPDATE
	`, claimID).Scan(&c.ID, &c.ParticipantID, &c.ProviderID, &c.BookingID, &c.AmountCents, &c.Status, &c.Note, &c.DecidedBy, &c.DecideReason, &decidedAt, &c.CreatedAt)
	if err != nil {
		return Claim{}, err
	}
	c.DecidedAt = decidedAt
	return c, nil
}

func (r *Repository) DecideClaim(ctx context.Context, tx pgx.Tx, claimID, status, decidedBy, reason string, decidedAt time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE claims
		SET status = $2,
		    decided_by = $3,
		    decide_reason = $4,
		    decided_at = $5
		WHERE id = $1 AND status = 'submitted'
	`, claimID, status, decidedBy, nullIfEmpty(reason), decidedAt)
	return err
}

func (r *Repository) ListClaimsByParticipant(ctx context.Context, participantID string, limit int) ([]Claim, error) {
	return r.listClaims(ctx, `participant_id = $1`, participantID, limit)
}

func (r *Repository) ListClaimsByProvider(ctx context.Context, providerID string, limit int) ([]Claim, error) {
	return r.listClaims(ctx, `provider_id = $1`, providerID, limit)
}

func (r *Repository) listClaims(ctx context.Context, where string, arg string, limit int) ([]Claim, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, participant_id::text, COALESCE(provider_id::text, ''), booking_id::text,
		       amount_cents, status, COALESCE(note, ''), COALESCE(decided_by, ''), COALESCE(decide_reason, ''),
		       decided_at, created_at
		FROM claims
		WHERE `+where+`
		ORDER BY created_at DESC
		LIMIT $2
	`, arg, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Claim
	for rows.Next() {
		var c Claim
		var decidedAt *time.Time
		if err := rows.Scan(&c.ID, &c.ParticipantID, &c.ProviderID, &c.BookingID, &c.AmountCents, &c.Status, &c.Note, &c.DecidedBy, &c.DecideReason, &decidedAt, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.DecidedAt = decidedAt
		out = append(out, c)
	}
	return out, rows.Err()
}

type CheckoutSession struct {
	StripeSessionID  string
	ParticipantID    string
	AmountCents      int64
	Status           string
	StripeCustomerID string
	URL              string
	ReturnToken      string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CompletedAt      *time.Time
	CanceledAt       *time.Time
	ReturnSeenAt     *time.Time
	ExpiredAt        *time.Time
}

func (r *Repository) UpsertCheckoutSession(ctx context.Context, tx pgx.Tx, s CheckoutSession) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO checkout_sessions (stripe_session_id, participant_id, amount_cents, status, url, return_token)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (stripe_session_id)
		DO UPDATE SET participant_id = EXCLUDED.participant_id,
		              amount_cents = EXCLUDED.amount_cents,
		              status = EXCLUDED.status,
		              url = EXCLUDED.url,
		              updated_at = now()
	`, s.StripeSessionID, s.ParticipantID, s.AmountCents, s.Status, nullIfEmpty(s.URL), nullIfEmpty(s.ReturnToken))
	return err
}

// MarkCheckoutSessionCompleted reports whether this call performed the
// transition. The top-up credit must be applied exactly once even when the
// webhook and the reconciler race.
func (r *Repository) MarkCheckoutSessionCompleted(ctx context.Context, tx pgx.Tx, stripeSessionID string, completedAt time.Time, stripeCustomerID string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE checkout_sessions
		SET status = 'completed',
		    stripe_customer_id = $3,
		    completed_at = $2,
		    updated_at = now()
		WHERE stripe_session_id = $1 AND status <> 'completed'
	`, stripeSessionID, completedAt, nullIfEmpty(stripeCustomerID))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Repository) MarkCheckoutSessionExpired(ctx context.Context, tx pgx.Tx, stripeSessionID string, expiredAt time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE checkout_sessions
		SET status = 'expired',
		    expired_at = $2,
		    updated_at = now()
		WHERE stripe_session_id = $1 AND status <> 'completed'
	`, stripeSessionID, expiredAt)
	return err
}

func (r *Repository) AckCheckoutReturn(ctx context.Context, tx pgx.Tx, stripeSessionID string, token string, result string, seenAt time.Time) error {
	// Token protects this public endpoint from being used to tamper with other
	// sessions. Only mark canceled if it wasn't already completed (the Stripe
	// webhook is the source of truth).
	if strings.TrimSpace(result) == "" {
		result = "unknown"
	}
	_, err := tx.Exec(ctx, `
		UPDATE checkout_sessions
		SET return_seen_at = $4,
		    status = CASE
		      WHEN $3 = 'cancel' AND status <> 'completed' THEN 'canceled'
		      ELSE status
		    END,
		    canceled_at = CASE
		      WHEN $3 = 'cancel' AND status <> 'completed' THEN COALESCE(canceled_at, $4)
		      ELSE canceled_at
		    END,
		    updated_at = now()
		WHERE stripe_session_id = $1 AND return_token = $2
	`, stripeSessionID, token, result, seenAt)
	return err
}

func (r *Repository) GetCheckoutSession(ctx context.Context, stripeSessionID string) (CheckoutSession, error) {
	var s CheckoutSession
	err := r.pool.QueryRow(ctx, `
		SELECT stripe_session_id, participant_id::text, amount_cents, status,
		       COALESCE(stripe_customer_id, ''), COALESCE(url, ''), COALESCE(return_token, ''),
		       created_at, updated_at, completed_at, canceled_at, return_seen_at, expired_at
		FROM checkout_sessions
		WHERE stripe_session_id = $1
	`, stripeSessionID).Scan(
		&s.StripeSessionID,
		&s.ParticipantID,
		&s.AmountCents,
		&s.Status,
		&s.StripeCustomerID,
		&s.URL,
		&s.ReturnToken,
		&s.CreatedAt,
		&s.UpdatedAt,
		&s.CompletedAt,
		&s.CanceledAt,
		&s.ReturnSeenAt,
		&s.ExpiredAt,
	)
	if err != nil {
		return CheckoutSession{}, err
	}
	return s, nil
}

// ListPendingCheckoutSessions returns created sessions old enough that their
// webhook should have arrived by now. The reconciler re-checks them against
// the Stripe API.
func (r *Repository) ListPendingCheckoutSessions(ctx context.Context, olderThan time.Duration, limit int) ([]CheckoutSession, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT stripe_session_id, participant_id::text, amount_cents, status,
		       COALESCE(stripe_customer_id, ''), COALESCE(url, ''), COALESCE(return_token, ''),
		       created_at, updated_at, completed_at, canceled_at, return_seen_at, expired_at
		FROM checkout_sessions
		WHERE status = 'created' AND created_at < now() - $1::interval
		ORDER BY created_at
		LIMIT $2
	`, olderThan.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CheckoutSession
	for rows.Next() {
		var s CheckoutSession
		if err := rows.Scan(
			&s.StripeSessionID,
			&s.ParticipantID,
			&s.AmountCents,
			&s.Status,
			&s.StripeCustomerID,
			&s.URL,
			&s.ReturnToken,
			&s.CreatedAt,
			&s.UpdatedAt,
			&s.CompletedAt,
			&s.CanceledAt,
			&s.ReturnSeenAt,
			&s.ExpiredAt,
		); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type ProviderEvent struct {
	Provider        string
	ProviderEventID string
	EventType       string
	Payload         []byte
}

var ErrDuplicateProviderEvent = errors.New("duplicate provider event")

func (r *Repository) InsertProviderEvent(ctx context.Context, tx pgx.Tx, evt ProviderEvent) error {
	var payload any
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		// keep raw JSON error as a hard failure: webhook should be well-formed.
		return err
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO provider_events (provider, provider_event_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider, provider_event_id) DO NOTHING
	`, evt.Provider, evt.ProviderEventID, evt.EventType, payload)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateProviderEvent
	}
	return nil
}

type AuditEvent struct {
	EventType     string
	ActorType     string
	ActorID       string
	ParticipantID string
	Metadata      []byte
}

func (r *Repository) InsertAuditEvent(ctx context.Context, tx pgx.Tx, evt AuditEvent) error {
	var payload any
	if len(evt.Metadata) == 0 {
		payload = map[string]any{}
	} else if err := json.Unmarshal(evt.Metadata, &payload); err != nil {
		return err
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO audit_events (event_type, actor_type, actor_id, participant_id, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`, evt.EventType, evt.ActorType, nullIfEmpty(evt.ActorID), nullIfEmpty(evt.ParticipantID), payload)
	return err
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func defaultIfEmpty(s string, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
