//go:build protogen

package grpcserver

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"google.golang.org/grpc"

	walletv1 "github.com/carebridge-au/carebridge/protos/gen/wallet/v1"
	"github.com/carebridge-au/carebridge/services/wallet-service/internal/plans"
	"github.com/carebridge-au/carebridge/services/wallet-service/internal/storage"
)

type server struct {
	walletv1.UnimplementedWalletServiceServer
	repo *storage.Repository
}

func Register(grpcServer *grpc.Server, repo *storage.Repository) {
	walletv1.RegisterWalletServiceServer(grpcServer, &server{repo: repo})
}

// GetBudget serves the booking service's synchronous fast path. Participants
// without a plan row get core defaults so callers never need a special case.
func (s *server) GetBudget(ctx context.Context, req *walletv1.BudgetRequest) (*walletv1.BudgetResponse, error) {
	limits := plans.LimitsForTier("core")
	var balance int64

	if s.repo != nil && req.GetParticipantId() != "" {
		plan, err := s.repo.GetPlan(ctx, req.GetParticipantId())
		if err == nil && plan.Status == "active" {
			limits = plans.LimitsForTier(plan.Tier)
		}
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			// keep response stable: treat repo errors as core tier
		}
		if b, err := s.repo.WalletBalance(ctx, req.GetParticipantId()); err == nil {
			balance = b
		}
	}

	return &walletv1.BudgetResponse{
		Tier:               limits.Tier,
		MaxMonthlyBookings: limits.MaxMonthlyBookings,
		RemainingCents:     balance,
	}, nil
}
