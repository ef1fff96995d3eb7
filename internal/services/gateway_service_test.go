package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealer_payments_echo/internal/apperrors"
	"dealer_payments_echo/internal/config"
	"dealer_payments_echo/internal/logger"
)

func testGatewayConfig(baseURL string) config.GatewayConfig {
	return config.GatewayConfig{
		BaseURL:            baseURL,
		Channel:            "dealer-app",
		Secret:             "gw-secret",
		Website:            "marketplace.example.com",
		Timeout:            time.Second,
		StatusTimeout:      time.Second,
		StatusAttempts:     3,
		StatusRetryBackoff: 5 * time.Millisecond,
		ProbePath:          "/ping",
		ProbeTimeout:       time.Second,
	}
}

func testCollectRequest() CollectRequest {
	return CollectRequest{
		Amount:      json.Number("49.00"),
		Currency:    "USD",
		Description: "Dealership subscription - 1 month",
		ExternalID:  1001,
		SuccessURL:  "https://api.example.com/payment-callback?outcome=success",
		FailureURL:  "https://api.example.com/payment-callback?outcome=failure",
	}
}

func TestGatewayService_CreateCollect(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/collect", r.URL.Path)
		assert.Equal(t, "dealer-app", r.Header.Get("X-Channel"))
		assert.Equal(t, "gw-secret", r.Header.Get("X-Secret"))
		assert.Equal(t, "marketplace.example.com", r.Header.Get("X-Website"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"collectUrl":"https://pay.example.com/c/1001","collectId":"col_1"}`))
	}))
	defer srv.Close()

	gw := NewGatewayService(testGatewayConfig(srv.URL), logger.Discard())
	resp, err := gw.CreateCollect(context.Background(), testCollectRequest())
	require.NoError(t, err)

	assert.Equal(t, "https://pay.example.com/c/1001", resp.CollectURL)
	assert.Equal(t, "col_1", resp.CollectID)
	assert.JSONEq(t, `{"collectUrl":"https://pay.example.com/c/1001","collectId":"col_1"}`, string(resp.Raw))

	assert.Equal(t, 49.0, got["amount"])
	assert.Equal(t, "USD", got["currency"])
	assert.Equal(t, float64(1001), got["externalId"])
	assert.Contains(t, got, "successUrl")
	assert.Contains(t, got, "failureUrl")
}

func TestGatewayService_CreateCollectErrors(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		body         string
		errType      apperrors.ErrorType
		upstreamCode string
		detail       string
	}{
		{
			name:         "rejection with string code",
			status:       http.StatusUnprocessableEntity,
			body:         `{"code":"INVALID_AMOUNT","message":"amount below minimum"}`,
			errType:      apperrors.ErrorTypeUpstream,
			upstreamCode: "INVALID_AMOUNT",
			detail:       "amount below minimum",
		},
		{
			name:         "rejection with numeric code",
			status:       http.StatusBadRequest,
			body:         `{"code":4012,"message":"unknown channel"}`,
			errType:      apperrors.ErrorTypeUpstream,
			upstreamCode: "4012",
			detail:       "unknown channel",
		},
		{
			name:         "rejection without body",
			status:       http.StatusServiceUnavailable,
			body:         ``,
			errType:      apperrors.ErrorTypeUpstream,
			upstreamCode: "http_503",
			detail:       "Service Unavailable",
		},
		{
			name:         "malformed success body",
			status:       http.StatusOK,
			body:         `<html>ok</html>`,
			errType:      apperrors.ErrorTypeUpstream,
			upstreamCode: "malformed_response",
		},
		{
			name:         "success without collectUrl",
			status:       http.StatusOK,
			body:         `{"collectId":"col_1"}`,
			errType:      apperrors.ErrorTypeUpstream,
			upstreamCode: "malformed_response",
			detail:       "collectUrl missing",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			gw := NewGatewayService(testGatewayConfig(srv.URL), logger.Discard())
			_, err := gw.CreateCollect(context.Background(), testCollectRequest())
			require.Error(t, err)

			appErr, ok := apperrors.GetAppError(err)
			require.True(t, ok)
			assert.Equal(t, tc.errType, appErr.Type)
			assert.Equal(t, http.StatusBadGateway, appErr.Code)
			assert.Equal(t, tc.upstreamCode, appErr.UpstreamCode)
			if tc.detail != "" {
				assert.Equal(t, tc.detail, appErr.Details)
			}
		})
	}
}

func TestGatewayService_CreateCollectTimeout(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := testGatewayConfig(srv.URL)
	cfg.Timeout = 50 * time.Millisecond
	gw := NewGatewayService(cfg, logger.Discard())

	start := time.Now()
	_, err := gw.CreateCollect(context.Background(), testCollectRequest())
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)

	appErr, ok := apperrors.GetAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrorTypeInternal, appErr.Type)
	assert.Equal(t, "payment gateway unavailable", appErr.Message)
	assert.Equal(t, int32(1), calls.Load(), "create collect must not be retried")
}

func TestGatewayService_CreateCollectUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	gw := NewGatewayService(testGatewayConfig(url), logger.Discard())
	_, err := gw.CreateCollect(context.Background(), testCollectRequest())
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInternal))
}

func TestGatewayService_QueryStatus(t *testing.T) {
	tests := []struct {
		name      string
		responses []string
		status    CollectStatus
		raw       string
		calls     int32
	}{
		{
			name:      "success first try",
			responses: []string{`{"collectStatus":"success"}`},
			status:    CollectStatusSuccess,
			raw:       "success",
			calls:     1,
		},
		{
			name:      "failed first try",
			responses: []string{`{"collectStatus":"failed"}`},
			status:    CollectStatusFailed,
			raw:       "failed",
			calls:     1,
		},
		{
			name:      "pending then success",
			responses: []string{`{"collectStatus":"pending"}`, `{"collectStatus":"success"}`},
			status:    CollectStatusSuccess,
			raw:       "success",
			calls:     2,
		},
		{
			name:      "stays pending",
			responses: []string{`{"collectStatus":"pending"}`},
			status:    CollectStatusPending,
			raw:       "pending",
			calls:     3,
		},
		{
			name:      "malformed body",
			responses: []string{`not json`},
			status:    CollectStatusError,
			calls:     3,
		},
		{
			name:      "unknown status",
			responses: []string{`{"collectStatus":"refunded"}`},
			status:    CollectStatusError,
			raw:       "refunded",
			calls:     3,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/collect/1001/status", r.URL.Path)
				assert.Equal(t, "gw-secret", r.Header.Get("X-Secret"))
				n := int(calls.Add(1)) - 1
				if n >= len(tc.responses) {
					n = len(tc.responses) - 1
				}
				_, _ = w.Write([]byte(tc.responses[n]))
			}))
			defer srv.Close()

			gw := NewGatewayService(testGatewayConfig(srv.URL), logger.Discard())
			result := gw.QueryStatus(context.Background(), 1001)

			assert.Equal(t, tc.status, result.Status)
			assert.Equal(t, tc.raw, result.Raw)
			assert.Equal(t, tc.calls, calls.Load())
			assert.Equal(t, int(tc.calls), result.Attempts)
		})
	}
}

func TestGatewayService_QueryStatusNon200(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	gw := NewGatewayService(testGatewayConfig(srv.URL), logger.Discard())
	result := gw.QueryStatus(context.Background(), 1001)

	assert.Equal(t, CollectStatusError, result.Status)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGatewayService_QueryStatusStopsOnCancel(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"collectStatus":"pending"}`))
	}))
	defer srv.Close()

	cfg := testGatewayConfig(srv.URL)
	cfg.StatusRetryBackoff = time.Hour
	gw := NewGatewayService(cfg, logger.Discard())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	result := gw.QueryStatus(ctx, 1001)
	assert.Equal(t, CollectStatusPending, result.Status)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGatewayService_ProbeNeverFails(t *testing.T) {
	var probed atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ping" {
			probed.Store(true)
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	gw := NewGatewayService(testGatewayConfig(srv.URL), logger.Discard())
	gw.Probe(context.Background())
	assert.True(t, probed.Load())
}
