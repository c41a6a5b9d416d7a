package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

type ParticipantBudget struct {
	ParticipantID      string
	Tier               string
	MaxMonthlyBookings int
	UpdatedAt          time.Time
}

func (r *BookingRepository) UpsertParticipantBudget(ctx context.Context, tx pgx.Tx, budget ParticipantBudget) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO participant_budgets (participant_id, tier, max_monthly_bookings)
		VALUES ($1, $2, $3)
		ON CONFLICT (participant_id)
		DO UPDATE SET tier = EXCLUDED.tier,
		              max_monthly_bookings = EXCLUDED.max_monthly_bookings,
		              updated_at = now()
	`, budget.ParticipantID, budget.Tier, budget.MaxMonthlyBookings)
	return err
}

func (r *BookingRepository) GetParticipantBudget(ctx context.Context, tx pgx.Tx, participantID string) (ParticipantBudget, bool, error) {
	var budget ParticipantBudget
	err := tx.QueryRow(ctx, `
		SELECT participant_id::text, tier, max_monthly_bookings, updated_at
		FROM participant_budgets
		WHERE participant_id = $1
	`, participantID).Scan(&budget.ParticipantID, &budget.Tier, &budget.MaxMonthlyBookings, &budget.UpdatedAt)
	if err != nil {
		if IsNotFound(err) {
			return ParticipantBudget{}, false, nil
		}
		return ParticipantBudget{}, false, err
	}
	return budget, true, nil
}

// CountActiveByParticipantInRange counts pending and confirmed bookings with
// scheduled_at in [startInclusive, endExclusive). Cancelled and completed
// bookings do not consume budget.
func (r *BookingRepository) CountActiveByParticipantInRange(ctx context.Context, tx pgx.Tx, participantID string, startInclusive, endExclusive time.Time) (int, error) {
	var cnt int
	err := tx.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM bookings
		WHERE participant_id = $1
		  AND status IN ('pending', 'confirmed')
		  AND scheduled_at >= $2
		  AND scheduled_at < $3
	`, participantID, startInclusive, endExclusive).Scan(&cnt)
	return cnt, err
}
