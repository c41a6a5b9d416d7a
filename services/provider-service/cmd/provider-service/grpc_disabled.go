//go:build !protogen

package main

import (
	"context"
	"log/slog"

	"github.com/carebridge-au/carebridge/libs/db"
	"github.com/carebridge-au/carebridge/services/provider-service/internal/storage"
)

func startGrpcServer(_ context.Context, _ *slog.Logger, _ *db.Pool, _ *storage.Repository) error {
	return nil
}
