package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"creatorlab-backend/accounts"
	"creatorlab-backend/db"
	"creatorlab-backend/models"
	"creatorlab-backend/session"
	"creatorlab-backend/utils"

	"github.com/gin-gonic/gin"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Stripe delivers events at least once, over independent connections, in no
// guaranteed order. Every branch below is an upsert keyed on the Stripe
// subscription id or a plain append, so redelivery and reordering never
// duplicate or corrupt rows. The ledger write is the transaction; the
// account-record update afterwards is a best-effort cache refresh.

// StripeWebhookHandler receives signed lifecycle events from Stripe.
// @Summary Stripe webhook endpoint
// @Description Receives signed subscription and payment lifecycle events from Stripe and applies them to the ledger.
// @Tags billing
// @Accept json
// @Produce json
// @Success 200 {object} map[string]bool "received: true"
// @Failure 400 {object} map[string]string "error: Stripe signature verification failed"
// @Failure 500 {object} map[string]string "error: Webhook processing failed"
// @Router /api/webhook [post]
func StripeWebhookHandler(c *gin.Context) {
	const MaxBodyBytes = int64(65536)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodyBytes)

	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Unable to read the request body"})
		return
	}

	secret := os.Getenv("STRIPE_WEBHOOK_SECRET")
	if secret == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Webhook secret not configured"})
		return
	}

	// Fail closed before touching the body: a payload that does not carry a
	// valid signature must never reach the ledger.
	sig := c.GetHeader("Stripe-Signature")
	event, err := webhook.ConstructEvent(payload, sig, secret)
	if err != nil {
		utils.LogError(err, "Stripe signature verification failed in StripeWebhookHandler")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Stripe signature verification failed"})
		return
	}

	switch event.Type {
	case "checkout.session.completed":
		err = handleCheckoutSessionCompleted(event)
	case "customer.subscription.created":
		err = handleSubscriptionCreated(event)
	case "customer.subscription.updated":
		err = handleSubscriptionUpdated(event)
	case "customer.subscription.deleted":
		err = handleSubscriptionDeleted(event)
	case "invoice.payment_succeeded":
		err = handlePaymentSucceeded(event)
	case "invoice.payment_failed":
		err = handlePaymentFailed(event)
	default:
		// Unknown kinds are acknowledged so Stripe does not retry them
		utils.LogInfo(fmt.Sprintf("Unhandled event type: %s", event.Type))
	}

	if err != nil {
		utils.LogError(err, "Webhook processing failed in StripeWebhookHandler")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Webhook processing failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

// upsertSubscription inserts or refreshes the row for one Stripe
// subscription id. checkout.session.completed and
// customer.subscription.created both funnel through here, so whichever
// arrives first creates the row and the other only refreshes it.
func upsertSubscription(sub models.Subscription) error {
	return db.DB.Clauses(subscriptionUpsertConflict()).Create(&sub).Error
}

// subscriptionUpsertConflict guards the period columns on conflict: a
// checkout-completed payload carries no period data, so a NULL in the
// incoming row must keep the stored bound, and current_period_end may only
// move forward. Postgres GREATEST and COALESCE skip NULL operands, which
// gives both properties in one assignment.
func subscriptionUpsertConflict() clause.OnConflict {
	assignments := clause.AssignmentColumns([]string{
		"stripe_customer_id", "plan", "tier", "status", "discord_id", "updated_at",
	})
	assignments = append(assignments, clause.Assignments(map[string]interface{}{
		"current_period_start": gorm.Expr(`COALESCE(excluded.current_period_start, "subscriptions".current_period_start)`),
		"current_period_end":   gorm.Expr(`GREATEST(excluded.current_period_end, "subscriptions".current_period_end)`),
	})...)
	return clause.OnConflict{
		Columns:   []clause.Column{{Name: "stripe_subscription_id"}},
		DoUpdates: assignments,
	}
}

func handleCheckoutSessionCompleted(event stripe.Event) error {
	var checkoutSession stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &checkoutSession); err != nil {
		return fmt.Errorf("error parsing CheckoutSession: %v", err)
	}

	userID := checkoutSession.Metadata["userId"]
	if userID == "" {
		// Not attributable to a user; retrying will not change that
		utils.LogError(nil, "checkout.session.completed without userId metadata")
		return nil
	}
	if checkoutSession.Subscription == nil {
		utils.LogErrorWithUser(userID, nil, "checkout.session.completed without a subscription object")
		return nil
	}

	tier := checkoutSession.Metadata["tier"]
	sub := models.Subscription{
		StripeSubscriptionId: checkoutSession.Subscription.ID,
		UserID:               userID,
		Plan:                 checkoutSession.Metadata["plan"],
		Tier:                 tier,
		Status:               models.SubscriptionActive,
		DiscordId:            checkoutSession.Metadata["discordId"],
	}
	if checkoutSession.Customer != nil {
		sub.StripeCustomerId = checkoutSession.Customer.ID
	}

	if err := upsertSubscription(sub); err != nil {
		return fmt.Errorf("error saving subscription: %v", err)
	}

	refreshAccountRecord(userID, accounts.Metadata{
		SubscriptionTier:   &tier,
		SubscriptionStatus: string(models.SubscriptionActive),
		StripeCustomerId:   sub.StripeCustomerId,
	})

	session.Publish(session.Event{
		Type:   session.SubscriptionChanged,
		UserID: userID,
		Tier:   tier,
	})
	return nil
}

func handleSubscriptionCreated(event stripe.Event) error {
	var stripeSub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &stripeSub); err != nil {
		return fmt.Errorf("error parsing Subscription: %v", err)
	}

	userID := stripeSub.Metadata["userId"]
	if userID == "" {
		utils.LogError(nil, "customer.subscription.created without userId metadata")
		return nil
	}

	start, end := periodBounds(&stripeSub)
	sub := models.Subscription{
		StripeSubscriptionId: stripeSub.ID,
		UserID:               userID,
		Plan:                 stripeSub.Metadata["plan"],
		Tier:                 stripeSub.Metadata["tier"],
		Status:               models.SubscriptionStatus(stripeSub.Status),
		DiscordId:            stripeSub.Metadata["discordId"],
		CurrentPeriodStart:   start,
		CurrentPeriodEnd:     end,
	}
	if stripeSub.Customer != nil {
		sub.StripeCustomerId = stripeSub.Customer.ID
	}

	if err := upsertSubscription(sub); err != nil {
		return fmt.Errorf("error saving subscription: %v", err)
	}
	return nil
}

func handleSubscriptionUpdated(event stripe.Event) error {
	var stripeSub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &stripeSub); err != nil {
		return fmt.Errorf("error parsing Subscription: %v", err)
	}

	var existing models.Subscription
	if err := db.DB.First(&existing, "stripe_subscription_id = ?", stripeSub.ID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// The created event may simply not have arrived yet
			utils.LogInfo(fmt.Sprintf("No local row for updated subscription %s", stripeSub.ID))
			return nil
		}
		return fmt.Errorf("error loading subscription: %v", err)
	}

	updates := map[string]interface{}{
		"status": models.SubscriptionStatus(stripeSub.Status),
	}
	start, end := periodBounds(&stripeSub)
	if start != nil {
		updates["current_period_start"] = *start
	}
	// The period end only ever moves forward while the subscription lives
	if end != nil && (existing.CurrentPeriodEnd == nil || end.After(*existing.CurrentPeriodEnd)) {
		updates["current_period_end"] = *end
	}

	if err := db.DB.Model(&existing).Updates(updates).Error; err != nil {
		return fmt.Errorf("error updating subscription: %v", err)
	}
	return nil
}

func handleSubscriptionDeleted(event stripe.Event) error {
	var stripeSub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &stripeSub); err != nil {
		return fmt.Errorf("error parsing Subscription: %v", err)
	}

	if err := models.MarkSubscriptionCanceled(db.DB, stripeSub.ID, time.Now()); err != nil {
		return fmt.Errorf("error canceling subscription: %v", err)
	}

	var sub models.Subscription
	if err := db.DB.First(&sub, "stripe_subscription_id = ?", stripeSub.ID).Error; err == nil {
		refreshAccountRecord(sub.UserID, accounts.Metadata{
			SubscriptionTier:   nil,
			SubscriptionStatus: string(models.SubscriptionCanceled),
		})
		session.Publish(session.Event{
			Type:   session.SubscriptionChanged,
			UserID: sub.UserID,
		})
	}
	return nil
}

func handlePaymentSucceeded(event stripe.Event) error {
	return appendPayment(event, models.PaymentSucceeded)
}

func handlePaymentFailed(event stripe.Event) error {
	return appendPayment(event, models.PaymentFailed)
}

// appendPayment records one invoice outcome. The payments table is a
// history: rows are only ever added, and a redelivered invoice id simply
// appears twice.
func appendPayment(event stripe.Event, status models.PaymentStatus) error {
	var invoiceData map[string]interface{}
	if err := json.Unmarshal(event.Data.Raw, &invoiceData); err != nil {
		return fmt.Errorf("error parsing Invoice: %v", err)
	}

	invoiceID, _ := invoiceData["id"].(string)
	subscriptionID := invoiceSubscriptionID(invoiceData)

	amountKey := "amount_paid"
	if status == models.PaymentFailed {
		amountKey = "amount_due"
	}
	var amount int64
	if v, ok := invoiceData[amountKey].(float64); ok {
		amount = int64(v)
	}
	currency, _ := invoiceData["currency"].(string)

	now := time.Now()
	payment := models.Payment{
		StripeInvoiceId:      invoiceID,
		StripeSubscriptionId: subscriptionID,
		Amount:               amount,
		Currency:             currency,
		Status:               status,
	}
	if status == models.PaymentSucceeded {
		payment.PaidAt = &now
	} else {
		payment.FailedAt = &now
	}

	if err := db.DB.Create(&payment).Error; err != nil {
		return fmt.Errorf("error saving payment: %v", err)
	}
	return nil
}

// invoiceSubscriptionID digs the subscription id out of the invoice payload.
// Newer API versions nest it under parent.subscription_details; older ones
// carry it at the top level.
func invoiceSubscriptionID(invoiceData map[string]interface{}) string {
	if parent, ok := invoiceData["parent"].(map[string]interface{}); ok {
		if subDetails, ok := parent["subscription_details"].(map[string]interface{}); ok {
			if sub, ok := subDetails["subscription"].(string); ok && sub != "" {
				return sub
			}
		}
	}
	if v, ok := invoiceData["subscription"].(string); ok {
		return v
	}
	return ""
}

// periodBounds reads the billing period off the subscription's first item.
func periodBounds(stripeSub *stripe.Subscription) (*time.Time, *time.Time) {
	if stripeSub.Items == nil || len(stripeSub.Items.Data) == 0 {
		return nil, nil
	}
	item := stripeSub.Items.Data[0]
	var start, end *time.Time
	if item.CurrentPeriodStart > 0 {
		t := time.Unix(item.CurrentPeriodStart, 0)
		start = &t
	}
	if item.CurrentPeriodEnd > 0 {
		t := time.Unix(item.CurrentPeriodEnd, 0)
		end = &t
	}
	return start, end
}

// refreshAccountRecord pushes the denormalized tier/status fields to the
// auth service. The ledger already committed; a failure here only delays the
// display cache until the next event delivery.
func refreshAccountRecord(userID string, meta accounts.Metadata) {
	if accounts.Default == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := accounts.Default.UpdateUserMetadata(ctx, userID, meta); err != nil {
		utils.LogErrorWithUser(userID, err, "Error updating account record after ledger write")
	}
}
