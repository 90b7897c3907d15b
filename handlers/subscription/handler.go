package subscription

import (
	"errors"
	"net/http"
	"os"
	"time"

	"creatorlab-backend/db"
	"creatorlab-backend/models"
	"creatorlab-backend/utils"

	"github.com/gin-gonic/gin"
	stripe "github.com/stripe/stripe-go/v82"
	stripeSubscription "github.com/stripe/stripe-go/v82/subscription"
	"gorm.io/gorm"
)

type CancelRequest struct {
	SubscriptionId string `json:"subscriptionId"`
}

// CancelSubscription asks Stripe to cancel at period end and reflects the
// pending cancellation locally.
// @Summary Cancel a subscription
// @Description Request cancel-at-period-end from Stripe and mark the local subscription canceled.
// @Tags billing
// @Accept json
// @Produce json
// @Param request body subscription.CancelRequest true "Subscription to cancel"
// @Security BearerAuth
// @Success 200 {object} map[string]interface{} "success, message, cancelAt"
// @Failure 400 {object} map[string]string "error: Subscription ID is required"
// @Failure 403 {object} map[string]string "error: You are not authorized to cancel this subscription"
// @Failure 500 {object} map[string]string "error: Error canceling subscription"
// @Router /api/cancel-subscription [post]
func CancelSubscription(c *gin.Context) {
	stripe.Key = os.Getenv("STRIPE_SECRET_KEY")

	var req CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SubscriptionId == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Subscription ID is required"})
		return
	}

	userID, _ := c.Get("user_id")

	// The acting user must own the row. A row that has not arrived yet is
	// not a failure: Stripe is canceled anyway and the webhook delivery
	// reconciles the ledger later.
	var existing models.Subscription
	err := db.DB.First(&existing, "stripe_subscription_id = ?", req.SubscriptionId).Error
	if err == nil {
		if existing.UserID != userID {
			utils.LogErrorWithUser(userID, nil, "Not authorized to cancel this subscription in CancelSubscription")
			c.JSON(http.StatusForbidden, gin.H{"error": "You are not authorized to cancel this subscription"})
			return
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		utils.LogErrorWithUser(userID, err, "Error loading subscription in CancelSubscription")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error canceling subscription"})
		return
	}

	canceled, err := stripeSubscription.Update(req.SubscriptionId, &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	})
	if err != nil {
		utils.LogErrorWithUser(userID, err, "Stripe cancellation error in CancelSubscription")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error canceling subscription"})
		return
	}

	// Stripe is authoritative from here on: a local write failure is logged
	// and the webhook redelivery heals the row.
	if err := models.MarkSubscriptionCanceled(db.DB, req.SubscriptionId, time.Now()); err != nil {
		utils.LogErrorWithUser(userID, err, "Error updating subscription in database in CancelSubscription")
	}

	utils.LogSuccessWithUser(userID, "Subscription canceled in CancelSubscription")
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"message":  "Subscription canceled successfully",
		"cancelAt": canceled.CancelAt,
	})
}

// GetUserSubscriptions lists all subscriptions of the connected user.
// @Summary List the user's subscriptions
// @Description Return all the subscriptions (active, canceled, history) of the connected user
// @Tags billing
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.Subscription
// @Failure 401 {object} map[string]string "error: Unauthorized"
// @Router /api/subscriptions [get]
func GetUserSubscriptions(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		utils.LogError(nil, "User not authenticated in GetUserSubscriptions")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	var subscriptions []models.Subscription
	err := db.DB.Where("user_id = ?", userID).Order("created_at DESC").Find(&subscriptions).Error
	if err != nil {
		utils.LogErrorWithUser(userID, err, "Error fetching subscriptions in GetUserSubscriptions")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error fetching subscriptions"})
		return
	}

	utils.LogSuccessWithUser(userID, "Subscriptions listed in GetUserSubscriptions")
	c.JSON(http.StatusOK, subscriptions)
}

// GetSubscriptionDetail returns one subscription of the connected user.
// @Summary Details of a subscription
// @Description Return the detailed information of a subscription
// @Tags billing
// @Produce json
// @Param subscriptionId path string true "Stripe subscription id"
// @Security BearerAuth
// @Success 200 {object} models.Subscription
// @Failure 403 {object} map[string]string "error: You are not authorized to view this subscription"
// @Failure 404 {object} map[string]string "error: Subscription not found"
// @Router /api/subscriptions/{subscriptionId} [get]
func GetSubscriptionDetail(c *gin.Context) {
	subscriptionId := c.Param("subscriptionId")

	userID, exists := c.Get("user_id")
	if !exists {
		utils.LogError(nil, "User not authenticated in GetSubscriptionDetail")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	var subscription models.Subscription
	err := db.DB.First(&subscription, "stripe_subscription_id = ?", subscriptionId).Error
	if err != nil {
		utils.LogErrorWithUser(userID, err, "Subscription not found in GetSubscriptionDetail")
		c.JSON(http.StatusNotFound, gin.H{"error": "Subscription not found"})
		return
	}

	if subscription.UserID != userID {
		utils.LogErrorWithUser(userID, nil, "Not authorized to view this subscription in GetSubscriptionDetail")
		c.JSON(http.StatusForbidden, gin.H{"error": "You are not authorized to view this subscription"})
		return
	}

	utils.LogSuccessWithUser(userID, "Subscription detail fetched in GetSubscriptionDetail")
	c.JSON(http.StatusOK, subscription)
}
