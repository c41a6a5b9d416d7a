package storage

import (
	"context"
	"time"

	"github.com/carebridge-au/carebridge/libs/db"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
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

type ProviderProfile struct {
	ProviderID  string
	Name        string
	Bio         string
	Timezone    string
	OffsetsMins []int
}

func (r *Repository) GetOrCreateProfile(ctx context.Context, providerID string) (ProviderProfile, error) {
	// Create a default profile if missing (keeps dev UX smooth while other services mature).
	_, err := r.pool.Exec(ctx, `
		INSERT INTO provider_profiles (provider_id)
		VALUES ($1)
		ON CONFLICT (provider_id) DO NOTHING
	`, providerID)
	if err != nil {
		return ProviderProfile{}, err
	}

	var p ProviderProfile
	err = r.pool.QueryRow(ctx, `
		SELECT provider_id::text, name, COALESCE(bio, ''), timezone, reminder_offsets_minutes
		FROM provider_profiles
		WHERE provider_id = $1
	`, providerID).Scan(&p.ProviderID, &p.Name, &p.Bio, &p.Timezone, &p.OffsetsMins)
	return p, err
}

func (r *Repository) UpdateProfile(ctx context.Context, providerID string, name, bio, timezone string, offsetsMins []int) error {
	if len(offsetsMins) == 0 {
		offsetsMins = []int{1440, 60}
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO provider_profiles (provider_id, name, bio, timezone, reminder_offsets_minutes)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (provider_id) DO UPDATE
		SET name = EXCLUDED.name,
			bio = EXCLUDED.bio,
			timezone = EXCLUDED.timezone,
			reminder_offsets_minutes = EXCLUDED.reminder_offsets_minutes,
			updated_at = now()
	`, providerID, name, bio, timezone, offsetsMins)
	return err
}

type ProviderService struct {
	ID          string
	ProviderID  string
	Name        string
	Category    string
	Rate        string
	Description string
	CreatedAt   time.Time
}

func (r *Repository) CreateService(ctx context.Context, providerID, name, category, rate, description string) (string, error) {
	id := uuid.NewString()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO provider_services (id, provider_id, name, category, rate, description)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, providerID, name, category, rate, description)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *Repository) ListServices(ctx context.Context, providerID string, limit int) ([]ProviderService, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, provider_id::text, name, category, rate::text, description, created_at
		FROM provider_services
		WHERE provider_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, providerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ProviderService
	for rows.Next() {
		var s ProviderService
		if err := rows.Scan(&s.ID, &s.ProviderID, &s.Name, &s.Category, &s.Rate, &s.Description, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *Repository) ServiceExists(ctx context.Context, providerID, serviceID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM provider_services WHERE id = $1 AND provider_id = $2
		)
	`, serviceID, providerID).Scan(&exists)
	return exists, err
}

type AvailabilityRule struct {
	ID         string
	ProviderID string
	ServiceID  string
	Date       string
	TimeSlot   string
	Available  bool
	CreatedAt  time.Time
}

// UpsertRule writes the provider's decision for one slot on one day. The
// unique constraint on (provider_id, service_id, rule_date, time_slot) keeps
// at most one rule per slot; re-setting a slot replaces the old decision.
func (r *Repository) UpsertRule(ctx context.Context, tx pgx.Tx, providerID, serviceID, date, timeSlot string, available bool) (string, error) {
	id := uuid.NewString()
	err := tx.QueryRow(ctx, `
		INSERT INTO availability_rules (id, provider_id, service_id, rule_date, time_slot, available)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (provider_id, service_id, rule_date, time_slot)
		DO UPDATE SET available = EXCLUDED.available,
		              updated_at = now()
		RETURNING id::text
	`, id, providerID, serviceID, date, timeSlot, available).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *Repository) DeleteRule(ctx context.Context, tx pgx.Tx, providerID, ruleID string) (AvailabilityRule, error) {
	var rule AvailabilityRule
	err := tx.QueryRow(ctx, `
		DELETE FROM availability_rules
		WHERE id = $1 AND provider_id = $2
		RETURNING id::text, provider_id::text, service_id::text, rule_date::text, time_slot::text, available, created_at
	`, ruleID, providerID).Scan(&rule.ID, &rule.ProviderID, &rule.ServiceID, &rule.Date, &rule.TimeSlot, &rule.Available, &rule.CreatedAt)
	if err != nil {
		return AvailabilityRule{}, err
	}
	return rule, nil
}

// ListRules returns every rule for the day, available or not. Consumers need
// the complete set to tell a closed day apart from a day with no rules.
func (r *Repository) ListRules(ctx context.Context, providerID, serviceID, date string) ([]AvailabilityRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, provider_id::text, service_id::text, rule_date::text, time_slot::text, available, created_at
		FROM availability_rules
		WHERE provider_id = $1 AND service_id = $2 AND rule_date = $3
		ORDER BY time_slot ASC
	`, providerID, serviceID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AvailabilityRule
	for rows.Next() {
		var rule AvailabilityRule
		if err := rows.Scan(&rule.ID, &rule.ProviderID, &rule.ServiceID, &rule.Date, &rule.TimeSlot, &rule.Available, &rule.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}
