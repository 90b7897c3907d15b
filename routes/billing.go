package routes

import (
	"creatorlab-backend/handlers/checkout"
	"creatorlab-backend/handlers/subscription"
	"creatorlab-backend/handlers/webhook"
	"creatorlab-backend/middleware"

	"github.com/gin-gonic/gin"
)

func BillingRoutes(r *gin.Engine) {
	api := r.Group("/api")
	{
		// The webhook authenticates itself with the Stripe signature, not a
		// user session.
		api.POST("/webhook", webhook.StripeWebhookHandler)

		gated := api.Group("")
		gated.Use(middleware.SessionAuth())
		{
			gated.POST("/create-checkout-session", checkout.CreateCheckoutSession)
			gated.POST("/cancel-subscription", subscription.CancelSubscription)
			gated.GET("/subscriptions", subscription.GetUserSubscriptions)
			gated.GET("/subscriptions/:subscriptionId", subscription.GetSubscriptionDetail)
		}
	}
}
