//go:build protogen

package grpcserver

import (
	"context"
	"strconv"
	"strings"

	"github.com/carebridge-au/carebridge/libs/config"
	"github.com/carebridge-au/carebridge/libs/db"
	providerv1 "github.com/carebridge-au/carebridge/protos/gen/provider/v1"
	"github.com/carebridge-au/carebridge/services/provider-service/internal/storage"
	"google.golang.org/grpc"
)

type server struct {
	providerv1.UnimplementedProviderServiceServer
	pool *db.Pool
	repo *storage.Repository
}

func Register(grpcServer *grpc.Server, pool *db.Pool, repo *storage.Repository) {
	providerv1.RegisterProviderServiceServer(grpcServer, &server{pool: pool, repo: repo})
}

func (s *server) GetProviderProfile(ctx context.Context, req *providerv1.ProviderProfileRequest) (*providerv1.ProviderProfileResponse, error) {
	offsets := parseOffsets(config.String("REMINDER_OFFSETS_MINUTES", "1440,60"))
	timezone := config.String("TIMEZONE", "UTC")
	name := ""

	if s.repo != nil && req.GetProviderId() != "" {
		p, err := s.repo.GetOrCreateProfile(ctx, req.GetProviderId())
		if err == nil {
			if strings.TrimSpace(p.Timezone) != "" {
				timezone = strings.TrimSpace(p.Timezone)
			}
			if strings.TrimSpace(p.Name) != "" {
				name = strings.TrimSpace(p.Name)
			}
			if len(p.OffsetsMins) > 0 {
				offsets = nil
				for _, v := range p.OffsetsMins {
					if v <= 0 {
						continue
					}
					offsets = append(offsets, int32(v))
				}
				if len(offsets) == 0 {
					offsets = parseOffsets("1440,60")
				}
			}
		}
	}

	return &providerv1.ProviderProfileResponse{
		ProviderId: req.ProviderId,
		Name:       name,
		ReminderPolicy: &providerv1.ReminderPolicy{
			ReminderOffsetsMinutes: offsets,
			Timezone:               timezone,
		},
	}, nil
}

// GetAvailabilityRules returns the complete rule set for one day, available
// and unavailable rows alike. The booking service needs both to distinguish
// an explicitly closed day from a day with no rules at all.
func (s *server) GetAvailabilityRules(ctx context.Context, req *providerv1.AvailabilityRulesRequest) (*providerv1.AvailabilityRulesResponse, error) {
	resp := &providerv1.AvailabilityRulesResponse{
		ProviderId: req.GetProviderId(),
		ServiceId:  req.GetServiceId(),
		Date:       req.GetDate(),
	}
	if s.repo == nil || req.GetProviderId() == "" || req.GetServiceId() == "" || req.GetDate() == "" {
		return resp, nil
	}

	rules, err := s.repo.ListRules(ctx, req.GetProviderId(), req.GetServiceId(), req.GetDate())
	if err != nil {
		return nil, err
	}
	for _, rule := range rules {
		resp.Rules = append(resp.Rules, &providerv1.AvailabilityRule{
			Id:        rule.ID,
			TimeSlot:  rule.TimeSlot,
			Available: rule.Available,
		})
	}
	return resp, nil
}

func parseOffsets(raw string) []int32 {
	var out []int32
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		mins, err := strconv.Atoi(part)
		if err != nil || mins <= 0 {
			continue
		}
		out = append(out, int32(mins))
	}
	if len(out) == 0 {
		out = []int32{1440}
	}
	return out
}
