//go:build !protogen

package main

import (
	"context"
	"log/slog"
	"net/http"
)

func setupBudgetRoutes(_ context.Context, _ *http.ServeMux, _ *slog.Logger) {}
