package services

import (
	"context"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"dealer_payments_echo/internal/config"
	"dealer_payments_echo/internal/metrics"
	"dealer_payments_echo/internal/models"
)

// ReconcileSummary counts what one reconciler pass did
type ReconcileSummary struct {
	Scanned  int
	Settled  int
	Failed   int
	Pending  int
	Expired  int
	Errors   int
	Duration time.Duration
}

// Reconciler resolves pending sessions whose callback never arrived
type Reconciler struct {
	db         *gorm.DB
	settlement *SettlementService
	cfg        config.ReconcileConfig
	now        func() time.Time
	log        *slog.Logger
}

func NewReconciler(db *gorm.DB, settlement *SettlementService, cfg config.ReconcileConfig, log *slog.Logger) *Reconciler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Reconciler{
		db:         db,
		settlement: settlement,
		cfg:        cfg,
		now:        time.Now,
		log:        log.With("component", "reconciler"),
	}
}

// RunOnce processes one batch of stale pending sessions. Sessions never
// checked come first, then the ones checked longest ago, so rows the gateway
// keeps reporting as pending cannot starve the rest of the backlog.
func (r *Reconciler) RunOnce(ctx context.Context) (ReconcileSummary, error) {
	start := time.Now()
	var summary ReconcileSummary

	now := r.now().UTC()
	cutoff := now.Add(-r.cfg.StaleAfter)

	var sessions []models.PaymentSession
	if err := r.db.WithContext(ctx).
		Where("status = ? AND created_at <= ?", models.PaymentStatusPending, cutoff).
		Order("last_reconciled_at IS NOT NULL, last_reconciled_at ASC, created_at ASC").
		Limit(r.cfg.BatchSize).
		Find(&sessions).Error; err != nil {
		return summary, err
	}
	summary.Scanned = len(sessions)

	for i := range sessions {
		if ctx.Err() != nil {
			break
		}
		session := &sessions[i]

		result, err := r.reconcile(ctx, session, now)
		r.touch(ctx, session.ExternalID, now)
		if err != nil {
			summary.Errors++
			metrics.ReconciledSessionsTotal.WithLabelValues("error").Inc()
			r.log.Error("failed to reconcile session", "external_id", session.ExternalID, "error", err)
			continue
		}

		outcome := string(result.Status)
		switch {
		case result.Status == SettlementStatusSuccess, result.Status == SettlementStatusAlreadyProcessed:
			summary.Settled++
		case result.Status == SettlementStatusFailed && session.GatewayStatus == gatewayStatusExpired:
			summary.Expired++
			outcome = "expired"
		case result.Status == SettlementStatusFailed:
			summary.Failed++
		default:
			summary.Pending++
		}
		metrics.ReconciledSessionsTotal.WithLabelValues(outcome).Inc()
	}

	summary.Duration = time.Since(start)
	if summary.Scanned > 0 {
		r.log.Info("reconcile pass complete",
			"scanned", summary.Scanned,
			"settled", summary.Settled,
			"failed", summary.Failed,
			"expired", summary.Expired,
			"pending", summary.Pending,
			"errors", summary.Errors,
			"duration", summary.Duration,
		)
	}
	return summary, nil
}

func (r *Reconciler) reconcile(ctx context.Context, session *models.PaymentSession, now time.Time) (*SettlementResult, error) {
	if r.expired(session, now) {
		return r.settlement.Expire(ctx, session)
	}
	return r.settlement.Reconcile(ctx, session)
}

func (r *Reconciler) expired(session *models.PaymentSession, now time.Time) bool {
	return r.cfg.ExpireAfter > 0 && !session.CreatedAt.After(now.Add(-r.cfg.ExpireAfter))
}

// touch moves the session to the back of the queue
func (r *Reconciler) touch(ctx context.Context, externalID int64, now time.Time) {
	err := r.db.WithContext(context.WithoutCancel(ctx)).Model(&models.PaymentSession{}).
		Where("external_id = ?", externalID).
		Update("last_reconciled_at", now).Error
	if err != nil {
		r.log.Error("failed to record reconcile attempt", "external_id", externalID, "error", err)
	}
}
