package services

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"dealer_payments_echo/internal/apperrors"
	"dealer_payments_echo/internal/config"
	"dealer_payments_echo/internal/metrics"
	"dealer_payments_echo/internal/models"
)

// CallbackEnvelope is the parsed callback query. Params keeps the raw values
// because the signature is checked over exactly what was received.
type CallbackEnvelope struct {
	ExternalID int64
	DealerID   uint
	Plan       models.PlanType
	State      string
	Signature  string
	Outcome    string
	Params     url.Values
}

// ParseCallbackEnvelope validates the callback query parameters
func ParseCallbackEnvelope(q url.Values) (*CallbackEnvelope, error) {
	rawEID := q.Get(ParamExternalID)
	if rawEID == "" {
		return nil, apperrors.NewValidationError("missing parameter", ParamExternalID)
	}
	eid, err := strconv.ParseInt(rawEID, 10, 64)
	if err != nil || eid <= 0 {
		return nil, apperrors.NewValidationError("eid must be a positive integer")
	}

	rawDealer := q.Get(ParamDealerID)
	if rawDealer == "" {
		return nil, apperrors.NewValidationError("missing parameter", ParamDealerID)
	}
	// Same width as the create request body
	dealerID, err := strconv.ParseInt(rawDealer, 10, 64)
	if err != nil || dealerID <= 0 {
		return nil, apperrors.NewValidationError("dealerId must be a positive integer")
	}

	rawPlan := q.Get(ParamPlan)
	if rawPlan == "" {
		return nil, apperrors.NewValidationError("missing parameter", ParamPlan)
	}
	plan, ok := models.ParsePlan(rawPlan)
	if !ok {
		return nil, apperrors.NewValidationError("plan must be one of: monthly, yearly")
	}

	return &CallbackEnvelope{
		ExternalID: eid,
		DealerID:   uint(dealerID),
		Plan:       plan,
		State:      q.Get(ParamState),
		Signature:  q.Get(ParamSignature),
		Outcome:    q.Get(ParamOutcome),
		Params:     q,
	}, nil
}

// SettlementStatus is the outcome reported to the caller of the callback
type SettlementStatus string

const (
	SettlementStatusSuccess          SettlementStatus = "success"
	SettlementStatusAlreadyProcessed SettlementStatus = "already_processed"
	SettlementStatusPending          SettlementStatus = "pending"
	SettlementStatusFailed           SettlementStatus = "failed"
)

type SettlementResult struct {
	ExternalID  int64            `json:"externalId"`
	DealerID    uint             `json:"dealerId"`
	Plan        models.PlanType  `json:"plan"`
	Status      SettlementStatus `json:"status"`
	ProcessedAt *time.Time       `json:"processedAt,omitempty"`
	Message     string           `json:"message,omitempty"`
}

// Terminal reports whether the payment is settled (200) rather than open or failed (202)
func (r *SettlementResult) Terminal() bool {
	return r.Status == SettlementStatusSuccess || r.Status == SettlementStatusAlreadyProcessed
}

func (r *SettlementResult) outcome() models.CallbackOutcome {
	switch r.Status {
	case SettlementStatusSuccess:
		return models.CallbackOutcomeSettled
	case SettlementStatusAlreadyProcessed:
		return models.CallbackOutcomeAlreadyProcessed
	case SettlementStatusFailed:
		return models.CallbackOutcomeFailed
	default:
		return models.CallbackOutcomePending
	}
}

// SettlementService adjudicates gateway callbacks and applies subscription extensions
type SettlementService struct {
	db      *gorm.DB
	gateway PaymentGateway
	signer  *CallbackSigner
	plans   config.PlanCatalog
	now     func() time.Time
	log     *slog.Logger
}

func NewSettlementService(db *gorm.DB, gateway PaymentGateway, signer *CallbackSigner, plans config.PlanCatalog, log *slog.Logger) *SettlementService {
	return &SettlementService{
		db:      db,
		gateway: gateway,
		signer:  signer,
		plans:   plans,
		now:     time.Now,
		log:     log.With("component", "settlement_service"),
	}
}

// HandleCallback authenticates a callback and settles the session it names.
// The outcome is always taken from the gateway's status endpoint.
func (s *SettlementService) HandleCallback(ctx context.Context, q url.Values) (*SettlementResult, error) {
	env, err := ParseCallbackEnvelope(q)
	if err != nil {
		metrics.PaymentCallbacksTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	log := s.log.With("external_id", env.ExternalID, "dealer_id", env.DealerID, "plan", env.Plan)

	if !s.signer.Enabled() {
		log.Warn("callback signing secret not configured, signature not verified")
	}
	if !s.signer.Verify(env.Params, env.Signature) {
		log.Warn("callback signature mismatch", "outcome_hint", env.Outcome)
		metrics.PaymentCallbacksTotal.WithLabelValues("rejected_signature").Inc()
		return nil, apperrors.NewUnauthorizedError("invalid callback signature")
	}

	session, err := s.loadOrRecreate(ctx, env, log)
	if err != nil {
		return nil, err
	}

	if session.DealerID != env.DealerID || session.Plan != env.Plan ||
		subtle.ConstantTimeCompare([]byte(session.State), []byte(env.State)) != 1 {
		log.Warn("callback parameters do not match payment session")
		s.recordHistory(ctx, env.ExternalID, models.CallbackOutcomeRejectedMismatch, s.historyMetadata(env, string(session.Status)))
		metrics.PaymentCallbacksTotal.WithLabelValues(string(models.CallbackOutcomeRejectedMismatch)).Inc()
		return nil, apperrors.NewValidationError("callback parameters do not match the payment session")
	}

	result, err := s.resolve(ctx, session, log)
	if err != nil {
		metrics.PaymentCallbacksTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	s.recordHistory(ctx, env.ExternalID, result.outcome(), s.historyMetadata(env, string(result.Status)))
	metrics.PaymentCallbacksTotal.WithLabelValues(string(result.outcome())).Inc()
	log.Info("callback processed", "status", result.Status, "outcome_hint", env.Outcome)

	return result, nil
}

// Reconcile resolves a session without a callback, for the pending session worker
func (s *SettlementService) Reconcile(ctx context.Context, session *models.PaymentSession) (*SettlementResult, error) {
	log := s.log.With("external_id", session.ExternalID, "dealer_id", session.DealerID, "plan", session.Plan, "source", "reconciler")

	result, err := s.resolve(ctx, session, log)
	if err != nil {
		return nil, err
	}
	if result.Status != SettlementStatusPending {
		s.recordHistory(ctx, session.ExternalID, result.outcome(), map[string]interface{}{
			"source": "reconciler",
			"status": result.Status,
		})
	}
	return result, nil
}

// loadOrRecreate finds the session for env. A missing row is recreated as
// pending from the authenticated parameters so the payment can still settle.
func (s *SettlementService) loadOrRecreate(ctx context.Context, env *CallbackEnvelope, log *slog.Logger) (*models.PaymentSession, error) {
	var session models.PaymentSession
	err := s.db.WithContext(ctx).Where("external_id = ?", env.ExternalID).First(&session).Error
	if err == nil {
		return &session, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NewInternalError("failed to load payment session", err)
	}

	price, ok := s.plans.Price(env.Plan)
	if !ok {
		return nil, apperrors.NewInternalError("payment configuration error", fmt.Errorf("no price configured for plan %q", env.Plan))
	}

	log.Warn("payment session missing, recreating from callback")
	recreated := models.PaymentSession{
		ExternalID:     env.ExternalID,
		DealerID:       env.DealerID,
		Plan:           env.Plan,
		Amount:         price.Amount,
		Currency:       price.Currency,
		Description:    price.Description,
		State:          env.State,
		PaymentGateway: models.PaymentGatewayCollect,
		Status:         models.PaymentStatusPending,
		GatewayStatus:  "recreated",
	}
	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "external_id"}}, DoNothing: true}).
		Create(&recreated).Error; err != nil {
		return nil, apperrors.NewInternalError("failed to recreate payment session", err)
	}

	// Another request may have won the insert; read back whichever row exists.
	if err := s.db.WithContext(ctx).Where("external_id = ?", env.ExternalID).First(&session).Error; err != nil {
		return nil, apperrors.NewInternalError("failed to load payment session", err)
	}
	return &session, nil
}

const gatewayStatusExpired = "expired"

// Expire closes a session the buyer abandoned. The gateway is asked one last
// time so a late payment still settles.
func (s *SettlementService) Expire(ctx context.Context, session *models.PaymentSession) (*SettlementResult, error) {
	result, err := s.Reconcile(ctx, session)
	if err != nil || result.Status != SettlementStatusPending {
		return result, err
	}
	log := s.log.With("external_id", session.ExternalID, "dealer_id", session.DealerID, "plan", session.Plan, "source", "reconciler")

	now := s.now().UTC()
	msg := "payment session expired"
	res := s.db.WithContext(ctx).Model(&models.PaymentSession{}).
		Where("external_id = ? AND status = ?", session.ExternalID, models.PaymentStatusPending).
		Updates(map[string]interface{}{
			"status":         models.PaymentStatusFailed,
			"gateway_status": gatewayStatusExpired,
			"processed_at":   now,
			"error_message":  msg,
		})
	if res.Error != nil {
		return nil, apperrors.NewInternalError("failed to expire payment session", res.Error)
	}
	if res.RowsAffected == 0 {
		return s.reloadResult(ctx, session.ExternalID)
	}

	log.Info("payment session expired", "created_at", session.CreatedAt)
	s.recordHistory(ctx, session.ExternalID, models.CallbackOutcomeFailed, map[string]interface{}{
		"source": "reconciler",
		"status": gatewayStatusExpired,
	})

	session.Status = models.PaymentStatusFailed
	session.GatewayStatus = gatewayStatusExpired
	session.ProcessedAt = &now
	return s.resultFor(session, SettlementStatusFailed, msg), nil
}

func (s *SettlementService) resolve(ctx context.Context, session *models.PaymentSession, log *slog.Logger) (*SettlementResult, error) {
	if session.Status.IsFinal() {
		return s.closedResult(session), nil
	}

	st := s.gateway.QueryStatus(ctx, session.ExternalID)
	log = log.With("collect_status", st.Status, "attempts", st.Attempts)

	switch st.Status {
	case CollectStatusSuccess:
		return s.settle(ctx, session, log)
	case CollectStatusFailed:
		return s.markFailed(ctx, session, st, log)
	default:
		gatewayStatus := st.Raw
		if gatewayStatus == "" {
			gatewayStatus = string(st.Status)
		}
		if err := s.db.WithContext(ctx).Model(&models.PaymentSession{}).
			Where("external_id = ? AND status = ?", session.ExternalID, models.PaymentStatusPending).
			Update("gateway_status", gatewayStatus).Error; err != nil {
			log.Error("failed to record gateway status", "error", err)
		}
		log.Info("payment not confirmed yet")
		return s.resultFor(session, SettlementStatusPending, "payment not confirmed yet"), nil
	}
}

// settle flips the session to success and extends the subscription in one
// transaction. The conditional update lets exactly one caller through.
func (s *SettlementService) settle(ctx context.Context, session *models.PaymentSession, log *slog.Logger) (*SettlementResult, error) {
	now := s.now().UTC()
	alreadyProcessed := false
	var newEnd time.Time

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.PaymentSession{}).
			Where("external_id = ? AND status = ?", session.ExternalID, models.PaymentStatusPending).
			Updates(map[string]interface{}{
				"status":         models.PaymentStatusSuccess,
				"gateway_status": string(CollectStatusSuccess),
				"processed_at":   now,
				"error_message":  nil,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			alreadyProcessed = true
			return nil
		}

		var dealer models.Dealership
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&dealer, session.DealerID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.NewNotFoundError("dealership not found")
			}
			return err
		}

		newEnd = dealer.ExtendedEndDate(session.Plan, now)
		return tx.Model(&dealer).Updates(map[string]interface{}{
			"subscription_end_date": newEnd,
			"subscription_status":   models.SubscriptionStatusActive,
		}).Error
	})
	if err != nil {
		appErr := apperrors.Wrap(err, "failed to settle payment")
		if appErr.Type == apperrors.ErrorTypeInternal {
			log.Error("settlement failed", "error", err)
		} else {
			log.Warn("settlement aborted", "error", appErr)
		}
		return nil, appErr
	}

	if alreadyProcessed {
		return s.reloadResult(ctx, session.ExternalID)
	}

	log.Info("subscription extended", "subscription_end_date", newEnd)
	metrics.SubscriptionExtensionsTotal.WithLabelValues(session.Plan.String()).Inc()

	session.Status = models.PaymentStatusSuccess
	session.ProcessedAt = &now
	return s.resultFor(session, SettlementStatusSuccess, ""), nil
}

func (s *SettlementService) markFailed(ctx context.Context, session *models.PaymentSession, st StatusResult, log *slog.Logger) (*SettlementResult, error) {
	now := s.now().UTC()
	msg := "gateway reported payment failed"

	res := s.db.WithContext(ctx).Model(&models.PaymentSession{}).
		Where("external_id = ? AND status = ?", session.ExternalID, models.PaymentStatusPending).
		Updates(map[string]interface{}{
			"status":         models.PaymentStatusFailed,
			"gateway_status": string(CollectStatusFailed),
			"processed_at":   now,
			"error_message":  msg,
		})
	if res.Error != nil {
		return nil, apperrors.NewInternalError("failed to update payment session", res.Error)
	}
	if res.RowsAffected == 0 {
		return s.reloadResult(ctx, session.ExternalID)
	}

	log.Info("payment failed")
	session.Status = models.PaymentStatusFailed
	session.ProcessedAt = &now
	return s.resultFor(session, SettlementStatusFailed, "payment failed"), nil
}

// reloadResult reports the state a concurrent request left the session in
func (s *SettlementService) reloadResult(ctx context.Context, externalID int64) (*SettlementResult, error) {
	var current models.PaymentSession
	if err := s.db.WithContext(ctx).Where("external_id = ?", externalID).First(&current).Error; err != nil {
		return nil, apperrors.NewInternalError("failed to load payment session", err)
	}
	if current.Status.IsFinal() {
		return s.closedResult(&current), nil
	}
	return s.resultFor(&current, SettlementStatusPending, "payment not confirmed yet"), nil
}

func (s *SettlementService) closedResult(session *models.PaymentSession) *SettlementResult {
	if session.Status == models.PaymentStatusSuccess {
		return s.resultFor(session, SettlementStatusAlreadyProcessed, "")
	}
	return s.resultFor(session, SettlementStatusFailed, "payment session already closed")
}

func (s *SettlementService) resultFor(session *models.PaymentSession, status SettlementStatus, message string) *SettlementResult {
	return &SettlementResult{
		ExternalID:  session.ExternalID,
		DealerID:    session.DealerID,
		Plan:        session.Plan,
		Status:      status,
		ProcessedAt: session.ProcessedAt,
		Message:     message,
	}
}

func (s *SettlementService) historyMetadata(env *CallbackEnvelope, status string) map[string]interface{} {
	return map[string]interface{}{
		"source":       "callback",
		"dealer_id":    env.DealerID,
		"plan":         env.Plan,
		"outcome_hint": env.Outcome,
		"status":       status,
	}
}

func (s *SettlementService) recordHistory(ctx context.Context, externalID int64, outcome models.CallbackOutcome, meta map[string]interface{}) {
	data, _ := json.Marshal(meta)
	history := models.PaymentCallbackHistory{
		ExternalID:     externalID,
		PaymentGateway: models.PaymentGatewayCollect,
		Outcome:        outcome,
		Metadata:       data,
	}
	if err := s.db.WithContext(context.WithoutCancel(ctx)).Create(&history).Error; err != nil {
		s.log.Error("failed to record callback history", "external_id", externalID, "error", err)
	}
}
