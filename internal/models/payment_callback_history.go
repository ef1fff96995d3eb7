package models

import (
	"time"

	"gorm.io/datatypes"
)

type PaymentGateway string

const (
	PaymentGatewayCollect PaymentGateway = "collect"
)

// CallbackOutcome is what the service decided for one gateway callback
type CallbackOutcome string

const (
	CallbackOutcomeSettled          CallbackOutcome = "settled"
	CallbackOutcomeAlreadyProcessed CallbackOutcome = "already_processed"
	CallbackOutcomePending          CallbackOutcome = "pending"
	CallbackOutcomeFailed           CallbackOutcome = "failed"
	CallbackOutcomeRejectedMismatch CallbackOutcome = "rejected_mismatch"
)

// PaymentCallbackHistory records every authenticated callback for support and debugging
type PaymentCallbackHistory struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	ExternalID     int64           `gorm:"index;not null" json:"external_id"`
	PaymentGateway PaymentGateway  `gorm:"type:varchar(50);not null" json:"payment_gateway"`
	Outcome        CallbackOutcome `gorm:"type:varchar(50);not null" json:"outcome"`
	Metadata       datatypes.JSON  `gorm:"type:jsonb" json:"metadata"`
	CreatedAt      time.Time       `json:"created_at"`
}
