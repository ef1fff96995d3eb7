package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"dealer_payments_echo/internal/apperrors"
	"dealer_payments_echo/internal/config"
	"dealer_payments_echo/internal/metrics"
	"dealer_payments_echo/internal/models"
)

// CallbackPath is where the gateway sends the buyer back after checkout
const CallbackPath = "/payment-callback"

// IdempotencyStore remembers session creation results per client key
type IdempotencyStore interface {
	Lookup(ctx context.Context, key string) (*IdempotencyRecord, bool, error)
	Reserve(ctx context.Context, key string) (bool, error)
	Complete(ctx context.Context, key string, record *IdempotencyRecord) error
	Release(ctx context.Context, key string) error
}

// IdempotencyRecord is a completed creation. Plan is kept so a reused key
// is only replayed for the purchase it was first issued for.
type IdempotencyRecord struct {
	Plan   models.PlanType      `json:"plan"`
	Result *CreateSessionResult `json:"result"`
}

// CreateSessionResult is what the client needs to hand off to the gateway page
type CreateSessionResult struct {
	CollectURL string `json:"collectUrl"`
	ExternalID int64  `json:"externalId"`
}

type PaymentService struct {
	db          *gorm.DB
	gateway     PaymentGateway
	signer      *CallbackSigner
	ids         IDGenerator
	plans       config.PlanCatalog
	appURL      string
	idempotency IdempotencyStore
	log         *slog.Logger
}

func NewPaymentService(
	db *gorm.DB,
	gateway PaymentGateway,
	signer *CallbackSigner,
	ids IDGenerator,
	plans config.PlanCatalog,
	appURL string,
	log *slog.Logger,
) *PaymentService {
	return &PaymentService{
		db:      db,
		gateway: gateway,
		signer:  signer,
		ids:     ids,
		plans:   plans,
		appURL:  appURL,
		log:     log.With("component", "payment_service"),
	}
}

// SetIdempotencyStore enables Idempotency-Key handling. Without a store the key is ignored.
func (s *PaymentService) SetIdempotencyStore(store IdempotencyStore) {
	s.idempotency = store
}

// CreateSession opens a gateway collect session for one plan purchase.
// The pending row is written before the gateway is contacted.
func (s *PaymentService) CreateSession(ctx context.Context, dealerID uint, plan models.PlanType, idempotencyKey string) (*CreateSessionResult, error) {
	if dealerID == 0 {
		return nil, apperrors.NewValidationError("dealerId must be a positive integer")
	}
	if _, ok := models.ParsePlan(string(plan)); !ok {
		return nil, apperrors.NewValidationError("plan must be one of: monthly, yearly")
	}

	price, ok := s.plans.Price(plan)
	if !ok {
		return nil, apperrors.NewInternalError("payment configuration error", fmt.Errorf("no price configured for plan %q", plan))
	}

	if idempotencyKey != "" && s.idempotency != nil {
		scoped := fmt.Sprintf("%d:%s", dealerID, idempotencyKey)
		replay, reserved, err := s.reserveKey(ctx, scoped, plan)
		if err != nil {
			return nil, err
		}
		if replay != nil {
			metrics.PaymentSessionsTotal.WithLabelValues(plan.String(), "replayed").Inc()
			return replay, nil
		}
		if reserved {
			result, err := s.createSession(ctx, dealerID, plan, price)
			s.finishKey(ctx, scoped, plan, result, err)
			return result, err
		}
	}

	return s.createSession(ctx, dealerID, plan, price)
}

// reserveKey returns a stored result to replay, or whether the key was reserved.
// Store failures degrade to creating the session without idempotency.
func (s *PaymentService) reserveKey(ctx context.Context, key string, plan models.PlanType) (*CreateSessionResult, bool, error) {
	stored, found, err := s.idempotency.Lookup(ctx, key)
	if err != nil {
		s.log.Warn("idempotency lookup failed", "key", key, "error", err)
		return nil, false, nil
	}
	if found {
		if stored.Plan != plan || stored.Result == nil {
			return nil, false, apperrors.NewConflictError("Idempotency-Key was already used for a different request", "plan "+stored.Plan.String())
		}
		return stored.Result, false, nil
	}

	reserved, err := s.idempotency.Reserve(ctx, key)
	if err != nil {
		s.log.Warn("idempotency reserve failed", "key", key, "error", err)
		return nil, false, nil
	}
	if !reserved {
		return nil, false, apperrors.NewConflictError("a request with this Idempotency-Key is already in progress")
	}
	return nil, true, nil
}

// finishKey outlives the request so a disconnect cannot lose a created session
func (s *PaymentService) finishKey(ctx context.Context, key string, plan models.PlanType, result *CreateSessionResult, createErr error) {
	ctx = context.WithoutCancel(ctx)

	var err error
	if createErr != nil {
		err = s.idempotency.Release(ctx, key)
	} else {
		err = s.idempotency.Complete(ctx, key, &IdempotencyRecord{Plan: plan, Result: result})
	}
	if err != nil {
		s.log.Warn("idempotency store update failed", "key", key, "error", err)
	}
}

func (s *PaymentService) createSession(ctx context.Context, dealerID uint, plan models.PlanType, price config.PlanPrice) (*CreateSessionResult, error) {
	if err := s.db.WithContext(ctx).Select("id").First(&models.Dealership{}, dealerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFoundError("dealership not found")
		}
		return nil, apperrors.NewInternalError("failed to load dealership", err)
	}

	externalID := s.ids.NextExternalID()
	params := url.Values{}
	params.Set(ParamExternalID, strconv.FormatInt(externalID, 10))
	params.Set(ParamDealerID, strconv.FormatUint(uint64(dealerID), 10))
	params.Set(ParamPlan, plan.String())
	params.Set(ParamState, NewStateToken())

	callbackBase := s.appURL + CallbackPath
	successURL, err := s.signer.CallbackURL(callbackBase, params, "success")
	if err != nil {
		return nil, apperrors.NewInternalError("payment configuration error", err)
	}
	failureURL, err := s.signer.CallbackURL(callbackBase, params, "failure")
	if err != nil {
		return nil, apperrors.NewInternalError("payment configuration error", err)
	}

	req := CollectRequest{
		Amount:      json.Number(price.Amount.StringFixed(2)),
		Currency:    price.Currency,
		Description: price.Description,
		ExternalID:  externalID,
		SuccessURL:  successURL,
		FailureURL:  failureURL,
	}
	reqBytes, _ := json.Marshal(req)

	session := models.PaymentSession{
		ExternalID:      externalID,
		DealerID:        dealerID,
		Plan:            plan,
		Amount:          price.Amount,
		Currency:        price.Currency,
		Description:     price.Description,
		State:           params.Get(ParamState),
		PaymentGateway:  models.PaymentGatewayCollect,
		Status:          models.PaymentStatusPending,
		RequestMetadata: reqBytes,
	}
	if err := s.db.WithContext(ctx).Create(&session).Error; err != nil {
		return nil, apperrors.NewInternalError("failed to record payment session", err)
	}

	log := s.log.With("external_id", externalID, "dealer_id", dealerID, "plan", plan)

	s.gateway.Probe(ctx)

	resp, err := s.gateway.CreateCollect(ctx, req)
	if err != nil {
		s.recordCreateFailure(ctx, log, &session, err)
		metrics.PaymentSessionsTotal.WithLabelValues(plan.String(), "error").Inc()
		return nil, err
	}

	if err := s.db.WithContext(ctx).Model(&session).Updates(map[string]interface{}{
		"collect_url":       resp.CollectURL,
		"gateway_status":    "created",
		"response_metadata": datatypes.JSON(resp.Raw),
	}).Error; err != nil {
		// The gateway session exists; the reconciler resolves the row either way.
		log.Error("failed to store gateway response", "error", err)
	}

	log.Info("payment session created")
	metrics.PaymentSessionsTotal.WithLabelValues(plan.String(), "created").Inc()

	return &CreateSessionResult{
		CollectURL: resp.CollectURL,
		ExternalID: externalID,
	}, nil
}

// recordCreateFailure marks the row failed when the gateway rejected the session.
// Transport failures leave it pending: the gateway may still have opened it.
func (s *PaymentService) recordCreateFailure(ctx context.Context, log *slog.Logger, session *models.PaymentSession, cause error) {
	msg := cause.Error()
	updates := map[string]interface{}{"error_message": msg}

	if apperrors.IsType(cause, apperrors.ErrorTypeUpstream) {
		updates["status"] = models.PaymentStatusFailed
		updates["gateway_status"] = "rejected"
		log.Warn("gateway rejected payment session", "error", cause)
	} else {
		log.Error("gateway call failed, session left pending", "error", cause)
	}

	err := s.db.WithContext(context.WithoutCancel(ctx)).Model(&models.PaymentSession{}).
		Where("external_id = ? AND status = ?", session.ExternalID, models.PaymentStatusPending).
		Updates(updates).Error
	if err != nil {
		log.Error("failed to record gateway failure", "error", err)
	}
}
