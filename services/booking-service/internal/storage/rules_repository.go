package storage

import (
	"context"

	"github.com/carebridge-au/carebridge/services/booking-service/internal/availability"
	"github.com/jackc/pgx/v5"
)

// Availability rules are owned by the provider service and replicated here
// through provider.availability.updated.v1 events. The replica keeps slot
// resolution local even when the provider service is down.

func (r *BookingRepository) UpsertAvailabilityRule(ctx context.Context, tx pgx.Tx, rule availability.Rule) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO availability_rules (id, provider_id, service_id, rule_date, time_slot, available)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (provider_id, service_id, rule_date, time_slot)
		DO UPDATE SET id = EXCLUDED.id,
		              available = EXCLUDED.available,
		              updated_at = now()
	`, rule.ID, rule.ProviderID, rule.ServiceID, rule.Date, rule.TimeOfDay, rule.Available)
	return err
}

func (r *BookingRepository) DeleteAvailabilityRule(ctx context.Context, tx pgx.Tx, providerID, serviceID, date, timeSlot string) error {
	_, err := tx.Exec(ctx, `
		DELETE FROM availability_rules
		WHERE provider_id = $1 AND service_id = $2 AND rule_date = $3 AND time_slot = $4
	`, providerID, serviceID, date, timeSlot)
	return err
}

// ListAvailabilityRules returns every rule for the day, available or not.
// The resolver needs the complete set to tell a closed day apart from a day
// with no rules at all.
func (r *BookingRepository) ListAvailabilityRules(ctx context.Context, providerID, serviceID, date string) ([]availability.Rule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, provider_id::text, service_id::text, rule_date::text, time_slot::text, available
		FROM availability_rules
		WHERE provider_id = $1 AND service_id = $2 AND rule_date = $3
	`, providerID, serviceID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []availability.Rule
	for rows.Next() {
		var rule availability.Rule
		if err := rows.Scan(&rule.ID, &rule.ProviderID, &rule.ServiceID, &rule.Date, &rule.TimeOfDay, &rule.Available); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return rules, nil
}
