package reconcile

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"

	"github.com/carebridge-au/carebridge/libs/db"
	"github.com/carebridge-au/carebridge/services/wallet-service/internal/handlers"
	"github.com/carebridge-au/carebridge/services/wallet-service/internal/storage"
)

// StripeReconciler backfills top-ups whose webhook never arrived. It re-reads
// pending checkout sessions from the Stripe API and applies the same
// completion path the webhook uses.
type StripeReconciler struct {
	pool        *db.Pool
	repo        *storage.Repository
	handler     *handlers.Handler
	logger      *slog.Logger
	stripeKey   string
	batchSize   int
	minAge      time.Duration
	advisoryKey int64
}

type StripeReconcilerConfig struct {
	StripeSecretKey string
	BatchSize       int
	MinSessionAge   time.Duration
	AdvisoryLockKey int64
}

func NewStripeReconciler(pool *db.Pool, repo *storage.Repository, handler *handlers.Handler, logger *slog.Logger, cfg StripeReconcilerConfig) *StripeReconciler {
	key := strings.TrimSpace(cfg.StripeSecretKey)
	bs := cfg.BatchSize
	if bs <= 0 {
		bs = 50
	}
	minAge := cfg.MinSessionAge
	if minAge <= 0 {
		minAge = 10 * time.Minute
	}
	lockKey := cfg.AdvisoryLockKey
	if lockKey == 0 {
		// Stable-ish default; override via env if you run multiple wallet instances.
		lockKey = 4242002
	}
	return &StripeReconciler{
		pool:        pool,
		repo:        repo,
		handler:     handler,
		logger:      logger,
		stripeKey:   key,
		batchSize:   bs,
		minAge:      minAge,
		advisoryKey: lockKey,
	}
}

func (r *StripeReconciler) Run(ctx context.Context, interval time.Duration) {
	if strings.TrimSpace(r.stripeKey) == "" {
		r.logger.Warn("stripe reconcile disabled: STRIPE_SECRET_KEY missing")
		return
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	// Best-effort leader election for multi-instance deployments.
	// Only the instance holding the advisory lock will reconcile.
	for {
		if ctx.Err() != nil {
			return
		}
		var locked bool
		if err := r.pool.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, r.advisoryKey).Scan(&locked); err != nil {
			r.logger.Error("stripe reconcile: failed to acquire advisory lock", "err", err)
			time.Sleep(5 * time.Second)
			continue
		}
		if !locked {
			r.logger.Info("stripe reconcile: advisory lock held by another instance", "lock_key", r.advisoryKey)
			time.Sleep(30 * time.Second)
			continue
		}
		r.logger.Info("stripe reconcile: advisory lock acquired", "lock_key", r.advisoryKey)
		defer func() {
			_, _ = r.pool.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, r.advisoryKey)
		}()
		break
	}

	stripe.Key = r.stripeKey
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run immediately on startup to self-heal faster after downtime.
	r.reconcileOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reconcileOnce(ctx)
		}
	}
}

func (r *StripeReconciler) reconcileOnce(ctx context.Context) {
	sessions, err := r.repo.ListPendingCheckoutSessions(ctx, r.minAge, r.batchSize)
	if err != nil {
		r.logger.Error("stripe reconcile: failed to list checkout sessions", "err", err)
		return
	}
	if len(sessions) == 0 {
		return
	}

	for _, s := range sessions {
		if ctx.Err() != nil {
			return
		}

		stripeSess, err := checkoutsession.Get(s.StripeSessionID, nil)
		if err != nil {
			r.logger.Warn("stripe reconcile: failed to fetch session", "err", err, "stripe_session_id", s.StripeSessionID)
			continue
		}

		tx, err := r.repo.Begin(ctx)
		if err != nil {
			r.logger.Error("stripe reconcile: db begin failed", "err", err)
			return
		}

		applyErr := func() error {
			switch {
			case stripeSess.Status == stripe.CheckoutSessionStatusComplete && stripeSess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
				return r.handler.ApplyTopUpCompleted(ctx, tx, stripeSess, time.Now().UTC())
			case stripeSess.Status == stripe.CheckoutSessionStatusExpired:
				return r.repo.MarkCheckoutSessionExpired(ctx, tx, s.StripeSessionID, time.Now().UTC())
			default:
				return nil
			}
		}()

		if applyErr != nil {
			_ = tx.Rollback(ctx)
			r.logger.Warn("stripe reconcile: apply failed", "err", applyErr, "stripe_session_id", s.StripeSessionID)
			continue
		}
		if err := tx.Commit(ctx); err != nil {
			_ = tx.Rollback(ctx)
			r.logger.Warn("stripe reconcile: commit failed", "err", err, "stripe_session_id", s.StripeSessionID)
			continue
		}
	}
}
