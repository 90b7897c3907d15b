package models

import (
	"time"

	"gorm.io/gorm"
)

type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

// Subscription is one billing relationship, keyed by the Stripe subscription
// id. Rows are upserted by the webhook reconciler and never deleted, only
// marked canceled.
type Subscription struct {
	ID                   string             `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	StripeSubscriptionId string             `json:"stripeSubscriptionId" gorm:"uniqueIndex;not null"`
	StripeCustomerId     string             `json:"stripeCustomerId"`
	UserID               string             `json:"userId" gorm:"type:uuid;not null"`
	Plan                 string             `json:"plan"`
	Tier                 string             `json:"tier"`
	Status               SubscriptionStatus `json:"status" gorm:"type:varchar(20);default:'active'"`
	DiscordId            string             `json:"discordId"`
	CurrentPeriodStart   *time.Time         `json:"currentPeriodStart"`
	CurrentPeriodEnd     *time.Time         `json:"currentPeriodEnd"`
	CanceledAt           *time.Time         `json:"canceledAt"`
	CreatedAt            time.Time          `json:"createdAt"`
	UpdatedAt            time.Time          `json:"updatedAt"`
}

// MarkSubscriptionCanceled flips the row to canceled and stamps canceled_at.
// canceled_at is set once and never cleared, so the direct cancellation
// handler and the webhook's subscription-deleted branch can apply the
// transition in any order and converge on the same row state.
func MarkSubscriptionCanceled(tx *gorm.DB, stripeSubscriptionId string, at time.Time) error {
	return tx.Model(&Subscription{}).
		Where("stripe_subscription_id = ?", stripeSubscriptionId).
		Updates(map[string]interface{}{
			"status":      SubscriptionCanceled,
			"canceled_at": gorm.Expr("COALESCE(canceled_at, ?)", at),
		}).Error
}
