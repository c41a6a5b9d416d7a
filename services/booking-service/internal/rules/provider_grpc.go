//go:build protogen

package rules

import (
	"context"
	"time"

	"github.com/carebridge-au/carebridge/libs/grpcx"
	providerv1 "github.com/carebridge-au/carebridge/protos/gen/provider/v1"
	"github.com/carebridge-au/carebridge/services/booking-service/internal/availability"
)

// Provider fetches the complete availability-rule set for one day, available
// rows and unavailable rows alike.
type Provider interface {
	DayRules(ctx context.Context, providerID, serviceID, date string) ([]availability.Rule, error)
}

type grpcProvider struct {
	client providerv1.ProviderServiceClient
}

func NewProvider(addr string) (Provider, error) {
	if addr == "" {
		return nil, nil
	}
	conn, err := grpcx.Dial(context.Background(), addr, grpcx.DialOptions{Timeout: 3 * time.Second})
	if err != nil {
		return nil, err
	}
	return &grpcProvider{client: providerv1.NewProviderServiceClient(conn)}, nil
}

func (p *grpcProvider) DayRules(ctx context.Context, providerID, serviceID, date string) ([]availability.Rule, error) {
	resp, err := p.client.GetAvailabilityRules(ctx, &providerv1.AvailabilityRulesRequest{
		ProviderId: providerID,
		ServiceId:  serviceID,
		Date:       date,
	})
	if err != nil {
		return nil, err
	}
	rules := make([]availability.Rule, 0, len(resp.GetRules()))
	for _, r := range resp.GetRules() {
		rules = append(rules, availability.Rule{
			ID:         r.GetId(),
			ProviderID: providerID,
			ServiceID:  serviceID,
			Date:       date,
			TimeOfDay:  r.GetTimeSlot(),
			Available:  r.GetAvailable(),
		})
	}
	return rules, nil
}
