package models

import (
	"time"
)

type PaymentStatus string

const (
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
)

// Payment is one row per Stripe invoice event. The table is append-only: no
// payment row is ever updated or deleted, and duplicate invoice ids are
// tolerated rather than deduplicated.
type Payment struct {
	ID                   string        `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	StripeInvoiceId      string        `json:"stripeInvoiceId"`
	StripeSubscriptionId string        `json:"stripeSubscriptionId"`
	Amount               int64         `json:"amount"`
	Currency             string        `json:"currency"`
	Status               PaymentStatus `json:"status" gorm:"type:varchar(20)"`
	PaidAt               *time.Time    `json:"paidAt"`
	FailedAt             *time.Time    `json:"failedAt"`
	CreatedAt            time.Time     `json:"createdAt"`
	UpdatedAt            time.Time     `json:"updatedAt"`
}
