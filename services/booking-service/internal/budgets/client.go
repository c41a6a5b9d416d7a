//go:build protogen

package budgets

import (
	"context"
	"time"

	"github.com/carebridge-au/carebridge/libs/grpcx"
	walletv1 "github.com/carebridge-au/carebridge/protos/gen/wallet/v1"
	"google.golang.org/grpc"
)

type Client struct {
	conn   *grpc.ClientConn
	client walletv1.WalletServiceClient
}

func NewClient(addr string) (*Client, error) {
	conn, err := grpcx.Dial(context.Background(), addr, grpcx.DialOptions{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, err
	}

	return &Client{
		conn:   conn,
		client: walletv1.NewWalletServiceClient(conn),
	}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) GetBudget(ctx context.Context, participantID string) (*walletv1.BudgetResponse, error) {
	return c.client.GetBudget(ctx, &walletv1.BudgetRequest{
		ParticipantId: participantID,
	})
}
