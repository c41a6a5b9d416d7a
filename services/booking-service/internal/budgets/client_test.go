//go:build protogen

package budgets

import (
	"context"
	"net"
	"testing"
	"time"

	walletv1 "github.com/carebridge-au/carebridge/protos/gen/wallet/v1"
	"google.golang.org/grpc"
)

type testServer struct {
	walletv1.UnimplementedWalletServiceServer
}

func (s *testServer) GetBudget(_ context.Context, _ *walletv1.BudgetRequest) (*walletv1.BudgetResponse, error) {
	return &walletv1.BudgetResponse{
		Tier:               "core",
		MaxMonthlyBookings: 20,
		RemainingCents:     150000,
	}, nil
}

func TestClient_GetBudget(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer lis.Close()

	srv := grpc.NewServer()
	walletv1.RegisterWalletServiceServer(srv, &testServer{})

	go func() {
		_ = srv.Serve(lis)
	}()
	defer srv.Stop()

	client, err := NewClient(lis.Addr().String())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := client.GetBudget(ctx, "participant-123")
	if err != nil {
		t.Fatalf("get budget: %v", err)
	}
	if resp.Tier != "core" {
		t.Fatalf("unexpected tier: %s", resp.Tier)
	}
}
