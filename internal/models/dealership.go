package models

import "time"

// SubscriptionStatus of a dealership
type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusInactive SubscriptionStatus = "inactive"
)

// Dealership is owned by the marketplace store. Settlement only ever writes
// SubscriptionEndDate and SubscriptionStatus.
type Dealership struct {
	ID                  uint               `gorm:"primarykey" json:"id"`
	CreatedAt           time.Time          `json:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at"`
	Name                string             `gorm:"type:varchar(255)" json:"name"`
	SubscriptionEndDate *time.Time         `json:"subscription_end_date"`
	SubscriptionStatus  SubscriptionStatus `gorm:"type:varchar(20);default:'inactive'" json:"subscription_status"`
}

func (Dealership) TableName() string {
	return "dealerships"
}

// ExtendedEndDate returns the end date after one purchase of plan.
// Remaining paid time is kept: the extension starts from the later of the
// current end date and now.
func (d Dealership) ExtendedEndDate(plan PlanType, now time.Time) time.Time {
	base := now
	if d.SubscriptionEndDate != nil && d.SubscriptionEndDate.After(now) {
		base = *d.SubscriptionEndDate
	}
	return base.Add(plan.Extension())
}
