package models

import "time"

// PlanType is a dealership subscription plan that can be purchased
type PlanType string

const (
	PlanMonthly PlanType = "monthly"
	PlanYearly  PlanType = "yearly"
)

// ParsePlan returns the plan for s, accepting only the exact literals
func ParsePlan(s string) (PlanType, bool) {
	switch PlanType(s) {
	case PlanMonthly, PlanYearly:
		return PlanType(s), true
	}
	return "", false
}

// Extension is how much paid time one purchase of the plan adds
func (p PlanType) Extension() time.Duration {
	switch p {
	case PlanMonthly:
		return 30 * 24 * time.Hour
	case PlanYearly:
		return 365 * 24 * time.Hour
	}
	return 0
}

func (p PlanType) String() string {
	return string(p)
}
