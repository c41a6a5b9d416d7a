package plans

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/carebridge-au/carebridge/services/wallet-service/internal/outbox"
	"github.com/carebridge-au/carebridge/services/wallet-service/internal/storage"
)

// Service encapsulates plan state transitions and their side effects (outbox
// events). Keeping this out of HTTP handlers makes it reusable for webhook +
// reconciliation flows.
type Service struct {
	repo       *storage.Repository
	outboxRepo *outbox.Repository
}

func New(repo *storage.Repository, outboxRepo *outbox.Repository) *Service {
	return &Service{repo: repo, outboxRepo: outboxRepo}
}

func (s *Service) ApplyActivated(ctx context.Context, tx pgx.Tx, participantID, tier string, activatedAt time.Time, source string, stripeCustomerID string) error {
	existing, ok, err := s.repo.GetPlanForUpdate(ctx, tx, participantID)
	if err != nil {
		return err
	}

	if err := s.repo.UpsertPlan(ctx, tx, storage.Plan{
		ParticipantID:    participantID,
		Tier:             tier,
		Status:           "active",
		Source:           source,
		StripeCustomerID: stripeCustomerID,
	}); err != nil {
		return err
	}

	// Only emit when the effective budget changes (tier/status). Customer ID
	// updates alone shouldn't fan out.
	if ok && existing.Status == "active" && existing.Tier == tier {
		return nil
	}

	return s.emitBudgetUpdated(ctx, tx, participantID, tier, activatedAt)
}

func (s *Service) ApplyCancelled(ctx context.Context, tx pgx.Tx, participantID string, cancelledAt time.Time, source string, stripeCustomerID string) error {
	existing, ok, err := s.repo.GetPlanForUpdate(ctx, tx, participantID)
	if err != nil {
		return err
	}

	// A cancelled plan drops back to the core baseline rather than losing all
	// entitlement.
	if err := s.repo.UpsertPlan(ctx, tx, storage.Plan{
		ParticipantID:    participantID,
		Tier:             "core",
		Status:           "cancelled",
		Source:           source,
		StripeCustomerID: stripeCustomerID,
	}); err != nil {
		return err
	}

	if ok && existing.Status == "cancelled" && existing.Tier == "core" {
		return nil
	}

	return s.emitBudgetUpdated(ctx, tx, participantID, "core", cancelledAt)
}

func (s *Service) emitBudgetUpdated(ctx context.Context, tx pgx.Tx, participantID, tier string, occurredAt time.Time) error {
	limits := LimitsForTier(tier)
	payload, err := json.Marshal(map[string]any{
		"participant_id":       participantID,
		"tier":                 limits.Tier,
		"max_monthly_bookings": limits.MaxMonthlyBookings,
		"updated_at":           occurredAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	return s.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "participant_plan",
		AggregateID:   participantID,
		EventType:     "wallet.budget.updated.v1",
		Payload:       payload,
	})
}
