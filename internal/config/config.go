package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"dealer_payments_echo/internal/models"
)

// PlanPrice is the server-side price and invoice text for one plan
type PlanPrice struct {
	Amount      decimal.Decimal
	Currency    string
	Description string
}

// PlanCatalog maps every sellable plan to its price
type PlanCatalog map[models.PlanType]PlanPrice

// GatewayConfig holds the payment gateway endpoint and credentials
type GatewayConfig struct {
	BaseURL            string
	Channel            string
	Secret             string
	Website            string
	Timeout            time.Duration
	StatusTimeout      time.Duration
	StatusAttempts     int
	StatusRetryBackoff time.Duration
	ProbePath          string
	ProbeTimeout       time.Duration
}

// ReconcileConfig controls the pending session worker
type ReconcileConfig struct {
	Interval    time.Duration
	StaleAfter  time.Duration
	ExpireAfter time.Duration
	BatchSize   int
	MetricsPort string
}

// Config is read once at startup and passed by value to every component
type Config struct {
	Port           string
	AppURL         string
	DatabaseURL    string
	RedisURL       string
	CallbackSecret string
	SnowflakeNode  int64
	LogLevel       string
	LogFormat      string
	Gateway        GatewayConfig
	Plans          PlanCatalog
	Reconcile      ReconcileConfig
}

// Load reads the configuration from the process environment.
// All problems are reported together so a broken deployment can be fixed in one pass.
func Load() (Config, error) {
	var errs []error

	cfg := Config{
		Port:           getEnv("PORT", "8080"),
		AppURL:         strings.TrimRight(getEnv("APP_URL", "http://localhost:8080"), "/"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		CallbackSecret: os.Getenv("CALLBACK_SIGNING_SECRET"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "text"),
		Gateway: GatewayConfig{
			BaseURL:        strings.TrimRight(os.Getenv("GATEWAY_BASE_URL"), "/"),
			Channel:        os.Getenv("GATEWAY_CHANNEL"),
			Secret:         os.Getenv("GATEWAY_SECRET"),
			Website:        os.Getenv("GATEWAY_WEBSITE"),
			StatusAttempts: 3,
			ProbePath:      getEnv("GATEWAY_PROBE_PATH", "/ping"),
		},
	}

	if cfg.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if cfg.Gateway.BaseURL == "" {
		errs = append(errs, errors.New("GATEWAY_BASE_URL is required"))
	}
	if cfg.Gateway.Channel == "" || cfg.Gateway.Secret == "" || cfg.Gateway.Website == "" {
		errs = append(errs, errors.New("GATEWAY_CHANNEL, GATEWAY_SECRET and GATEWAY_WEBSITE are required"))
	}

	cfg.Gateway.Timeout = durationEnv("GATEWAY_TIMEOUT", 10*time.Second, &errs)
	cfg.Gateway.StatusTimeout = durationEnv("GATEWAY_STATUS_TIMEOUT", 5*time.Second, &errs)
	cfg.Gateway.StatusRetryBackoff = durationEnv("GATEWAY_STATUS_RETRY_BACKOFF", 500*time.Millisecond, &errs)
	cfg.Gateway.ProbeTimeout = durationEnv("GATEWAY_PROBE_TIMEOUT", 2*time.Second, &errs)
	cfg.Reconcile.Interval = durationEnv("RECONCILE_INTERVAL", 5*time.Minute, &errs)
	cfg.Reconcile.StaleAfter = durationEnv("RECONCILE_STALE_AFTER", 15*time.Minute, &errs)
	cfg.Reconcile.ExpireAfter = durationEnv("RECONCILE_EXPIRE_AFTER", 24*time.Hour, &errs)
	cfg.Reconcile.BatchSize = 100
	cfg.Reconcile.MetricsPort = getEnv("WORKER_METRICS_PORT", "9090")
	if cfg.Reconcile.ExpireAfter <= cfg.Reconcile.StaleAfter {
		errs = append(errs, errors.New("RECONCILE_EXPIRE_AFTER must be longer than RECONCILE_STALE_AFTER"))
	}

	node, err := strconv.ParseInt(getEnv("SNOWFLAKE_NODE", "1"), 10, 64)
	if err != nil || node < 0 || node > 1023 {
		errs = append(errs, fmt.Errorf("SNOWFLAKE_NODE must be an integer between 0 and 1023"))
	}
	cfg.SnowflakeNode = node

	currency := strings.ToUpper(getEnv("PLAN_CURRENCY", "USD"))
	cfg.Plans = PlanCatalog{
		models.PlanMonthly: planEnv("MONTHLY", "49.00", "Dealership subscription - 1 month", currency, &errs),
		models.PlanYearly:  planEnv("YEARLY", "490.00", "Dealership subscription - 12 months", currency, &errs),
	}

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return cfg, nil
}

// Price returns the configured price for plan
func (c PlanCatalog) Price(plan models.PlanType) (PlanPrice, bool) {
	p, ok := c[plan]
	return p, ok
}

func planEnv(name, defaultPrice, defaultDescription, currency string, errs *[]error) PlanPrice {
	raw := getEnv("PLAN_"+name+"_PRICE", defaultPrice)
	amount, err := decimal.NewFromString(raw)
	if err != nil || !amount.IsPositive() {
		*errs = append(*errs, fmt.Errorf("PLAN_%s_PRICE must be a positive number, got %q", name, raw))
	}
	return PlanPrice{
		Amount:      amount.Round(2),
		Currency:    currency,
		Description: getEnv("PLAN_"+name+"_DESCRIPTION", defaultDescription),
	}
}

func durationEnv(key string, fallback time.Duration, errs *[]error) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		*errs = append(*errs, fmt.Errorf("%s must be a positive duration, got %q", key, raw))
		return fallback
	}
	return d
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
