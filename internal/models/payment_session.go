package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// PaymentStatus is the lifecycle state of a payment session.
// pending is the only initial state; success and failed are terminal.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusSuccess PaymentStatus = "success"
	PaymentStatusFailed  PaymentStatus = "failed"
)

// IsFinal reports whether no further transition is allowed
func (s PaymentStatus) IsFinal() bool {
	return s == PaymentStatusSuccess || s == PaymentStatusFailed
}

// PaymentSession is one purchase attempt, from creation to terminal outcome
type PaymentSession struct {
	ID               uint            `gorm:"primaryKey" json:"id"`
	ExternalID       int64           `gorm:"uniqueIndex;not null" json:"external_id"`
	DealerID         uint            `gorm:"index;not null" json:"dealer_id"`
	Plan             PlanType        `gorm:"type:varchar(20);not null" json:"plan"`
	Amount           decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"amount"`
	Currency         string          `gorm:"type:varchar(10);not null" json:"currency"`
	Description      string          `gorm:"type:varchar(255)" json:"description"`
	State            string          `gorm:"type:varchar(64)" json:"-"`
	PaymentGateway   PaymentGateway  `gorm:"type:varchar(50);not null" json:"payment_gateway"`
	Status           PaymentStatus   `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	GatewayStatus    string          `gorm:"type:varchar(50)" json:"gateway_status"`
	CollectURL       string          `gorm:"type:text" json:"collect_url"`
	RequestMetadata  datatypes.JSON  `gorm:"type:jsonb" json:"request_metadata"`
	ResponseMetadata datatypes.JSON  `gorm:"type:jsonb" json:"response_metadata"`
	ErrorMessage     *string         `gorm:"type:text" json:"error_message,omitempty"`
	ProcessedAt      *time.Time      `json:"processed_at"`
	LastReconciledAt *time.Time      `gorm:"index" json:"last_reconciled_at,omitempty"`
	CreatedAt        time.Time       `gorm:"index" json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}
