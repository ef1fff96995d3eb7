package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"dealer_payments_echo/internal/apperrors"
	"dealer_payments_echo/internal/config"
	"dealer_payments_echo/internal/metrics"
)

// CollectStatus is the gateway's authoritative view of a collect session
type CollectStatus string

const (
	CollectStatusSuccess CollectStatus = "success"
	CollectStatusFailed  CollectStatus = "failed"
	CollectStatusPending CollectStatus = "pending"
	// CollectStatusError means the status could not be obtained at all
	CollectStatusError CollectStatus = "error"
)

// PaymentGateway is the outbound contract with the payment provider
type PaymentGateway interface {
	Probe(ctx context.Context)
	CreateCollect(ctx context.Context, req CollectRequest) (*CollectResponse, error)
	QueryStatus(ctx context.Context, externalID int64) StatusResult
}

type CollectRequest struct {
	Amount      json.Number `json:"amount"`
	Currency    string      `json:"currency"`
	Description string      `json:"description"`
	ExternalID  int64       `json:"externalId"`
	SuccessURL  string      `json:"successUrl"`
	FailureURL  string      `json:"failureUrl"`
}

type CollectResponse struct {
	CollectURL string `json:"collectUrl"`
	CollectID  string `json:"collectId,omitempty"`
	// Raw is the response body as received, kept for the audit record
	Raw json.RawMessage `json:"-"`
}

// StatusResult carries the mapped status and the gateway's literal value
type StatusResult struct {
	Status   CollectStatus
	Raw      string
	Attempts int
}

type gatewayError struct {
	Code    flexibleString `json:"code"`
	Message string         `json:"message"`
}

// flexibleString accepts a JSON string or number
type flexibleString string

func (f *flexibleString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexibleString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexibleString(n.String())
	return nil
}

type statusResponse struct {
	CollectStatus string `json:"collectStatus"`
}

// GatewayService talks to the collect gateway over HTTP
type GatewayService struct {
	client *resty.Client
	cfg    config.GatewayConfig
	log    *slog.Logger
}

func NewGatewayService(cfg config.GatewayConfig, log *slog.Logger) *GatewayService {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetHeader("X-Channel", cfg.Channel).
		SetHeader("X-Secret", cfg.Secret).
		SetHeader("X-Website", cfg.Website).
		SetHeader("Accept", "application/json")

	if cfg.StatusAttempts <= 0 {
		cfg.StatusAttempts = 1
	}

	return &GatewayService{
		client: client,
		cfg:    cfg,
		log:    log.With("component", "gateway"),
	}
}

// Probe issues a best-effort reachability check. The result is only logged.
func (g *GatewayService) Probe(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.ProbeTimeout)
	defer cancel()

	start := time.Now()
	resp, err := g.client.R().SetContext(ctx).Get(g.cfg.ProbePath)
	elapsed := time.Since(start)
	metrics.GatewayRequestDuration.WithLabelValues("probe").Observe(elapsed.Seconds())

	if err != nil {
		g.log.Warn("gateway probe failed", "error", err, "elapsed", elapsed)
		return
	}
	g.log.Debug("gateway probe", "status", resp.StatusCode(), "elapsed", elapsed)
}

// CreateCollect opens a collect session. It makes a single attempt.
func (g *GatewayService) CreateCollect(ctx context.Context, req CollectRequest) (*CollectResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := g.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		Post("/collect")
	metrics.GatewayRequestDuration.WithLabelValues("create_collect").Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, apperrors.NewInternalError("payment gateway unavailable", fmt.Errorf("create collect timed out after %s: %w", g.cfg.Timeout, err))
		}
		return nil, apperrors.NewInternalError("payment gateway unavailable", fmt.Errorf("create collect: %w", err))
	}

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, rejection(resp)
	}

	var out CollectResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, apperrors.NewUpstreamError("malformed_response", "payment gateway returned an invalid response", err.Error())
	}
	if out.CollectURL == "" {
		return nil, apperrors.NewUpstreamError("malformed_response", "payment gateway returned an invalid response", "collectUrl missing")
	}
	out.Raw = json.RawMessage(resp.Body())
	return &out, nil
}

// QueryStatus asks the gateway for the authoritative status of externalID.
// pending and error answers are retried with growing backoff.
func (g *GatewayService) QueryStatus(ctx context.Context, externalID int64) StatusResult {
	var result StatusResult

	for attempt := 1; attempt <= g.cfg.StatusAttempts; attempt++ {
		result = g.queryStatusOnce(ctx, externalID)
		result.Attempts = attempt

		if result.Status == CollectStatusSuccess || result.Status == CollectStatusFailed {
			return result
		}
		if attempt == g.cfg.StatusAttempts {
			break
		}

		wait := g.cfg.StatusRetryBackoff * time.Duration(attempt)
		g.log.Debug("retrying status query",
			"external_id", externalID,
			"status", result.Status,
			"attempt", attempt,
			"backoff", wait,
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return result
		case <-timer.C:
		}
	}

	return result
}

func (g *GatewayService) queryStatusOnce(ctx context.Context, externalID int64) StatusResult {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.StatusTimeout)
	defer cancel()

	start := time.Now()
	resp, err := g.client.R().
		SetContext(ctx).
		SetPathParam("externalId", strconv.FormatInt(externalID, 10)).
		Get("/collect/{externalId}/status")
	metrics.GatewayRequestDuration.WithLabelValues("query_status").Observe(time.Since(start).Seconds())

	if err != nil {
		g.log.Warn("status query failed", "external_id", externalID, "error", err)
		return StatusResult{Status: CollectStatusError}
	}
	if resp.StatusCode() != http.StatusOK {
		g.log.Warn("status query rejected", "external_id", externalID, "http_status", resp.StatusCode())
		return StatusResult{Status: CollectStatusError}
	}

	var body statusResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		g.log.Warn("status query returned invalid body", "external_id", externalID, "error", err)
		return StatusResult{Status: CollectStatusError}
	}

	switch CollectStatus(body.CollectStatus) {
	case CollectStatusSuccess, CollectStatusFailed, CollectStatusPending:
		return StatusResult{Status: CollectStatus(body.CollectStatus), Raw: body.CollectStatus}
	default:
		g.log.Warn("unknown collect status", "external_id", externalID, "collect_status", body.CollectStatus)
		return StatusResult{Status: CollectStatusError, Raw: body.CollectStatus}
	}
}

// rejection converts a non-2xx gateway response into an upstream error
func rejection(resp *resty.Response) *apperrors.AppError {
	code := fmt.Sprintf("http_%d", resp.StatusCode())
	message := "payment gateway rejected the session"
	detail := http.StatusText(resp.StatusCode())

	var body gatewayError
	if err := json.Unmarshal(resp.Body(), &body); err == nil {
		if body.Code != "" {
			code = string(body.Code)
		}
		if body.Message != "" {
			detail = body.Message
		}
	}
	return apperrors.NewUpstreamError(code, message, detail)
}
