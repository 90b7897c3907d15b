package checkout

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"creatorlab-backend/utils"

	"github.com/gin-gonic/gin"
	stripe "github.com/stripe/stripe-go/v82"
	session "github.com/stripe/stripe-go/v82/checkout/session"
)

// CheckoutRequest is the purchase request sent by the site. New clients send
// the structured amountCents/currency pair; older clients still send the
// display price string, which is parsed as a fallback.
type CheckoutRequest struct {
	Plan        string `json:"plan"`
	Tier        string `json:"tier"`
	Price       string `json:"price"`
	AmountCents int64  `json:"amountCents"`
	Currency    string `json:"currency"`
	UserID      string `json:"userId"`
	UserEmail   string `json:"userEmail"`
	DiscordId   string `json:"discordId"`
}

// CreateCheckoutSession asks Stripe for a recurring monthly checkout session.
// @Summary Create a Stripe Checkout session
// @Description Start a Stripe payment for a membership tier. Returns the Stripe session ID to use on the frontend.
// @Tags billing
// @Accept json
// @Produce json
// @Param request body checkout.CheckoutRequest true "Checkout request"
// @Security BearerAuth
// @Success 200 {object} map[string]string "sessionId: ID of the Stripe Checkout session"
// @Failure 400 {object} map[string]string "error: Missing required fields"
// @Failure 503 {object} map[string]string "error: Payment system not configured"
// @Failure 500 {object} map[string]string "error: Stripe error"
// @Router /api/create-checkout-session [post]
func CreateCheckoutSession(c *gin.Context) {
	secretKey := os.Getenv("STRIPE_SECRET_KEY")
	if secretKey == "" {
		utils.LogError(nil, "STRIPE_SECRET_KEY not configured in CreateCheckoutSession")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "Payment system not configured",
			"message": "Stripe is not configured. Please set the Stripe environment variables.",
		})
		return
	}
	stripe.Key = secretKey

	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if req.Plan == "" || req.Tier == "" || req.UserID == "" || req.UserEmail == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required fields"})
		return
	}

	amount, currency, err := resolveAmount(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	params := buildSessionParams(req, amount, currency)

	s, err := session.New(params)
	if err != nil {
		utils.LogErrorWithUser(req.UserID, err, "Error creating the Stripe session in CreateCheckoutSession")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Error creating checkout session",
			"message": err.Error(),
		})
		return
	}

	utils.LogSuccessWithUser(req.UserID, "Stripe checkout session created in CreateCheckoutSession")
	c.JSON(http.StatusOK, gin.H{"sessionId": s.ID})
}

// resolveAmount prefers the structured pair and falls back to parsing the
// display string.
func resolveAmount(req CheckoutRequest) (int64, string, error) {
	currency := strings.ToLower(req.Currency)
	if currency == "" {
		currency = "usd"
	}

	if req.AmountCents > 0 {
		return req.AmountCents, currency, nil
	}

	if req.Price == "" {
		return 0, "", fmt.Errorf("Missing required fields")
	}
	amount, err := utils.ParseDisplayPrice(req.Price)
	if err != nil {
		return 0, "", err
	}
	return amount, currency, nil
}

func buildSessionParams(req CheckoutRequest, amount int64, currency string) *stripe.CheckoutSessionParams {
	siteURL := os.Getenv("PUBLIC_SITE_URL")
	if siteURL == "" {
		siteURL = "http://localhost:4322"
	}

	// The processor echoes this metadata back on every later event; it is
	// the only link between a webhook delivery and the purchasing user.
	metadata := map[string]string{
		"userId":    req.UserID,
		"plan":      req.Plan,
		"tier":      req.Tier,
		"discordId": req.DiscordId,
	}

	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripe.String("CreatorLab - " + req.Tier),
						Description: stripe.String("CreatorLab " + req.Tier + " membership"),
					},
					UnitAmount: stripe.Int64(amount),
					Recurring: &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
						Interval: stripe.String("month"),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:    stripe.String(siteURL + "/payment/success?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:     stripe.String(siteURL + "/comunidad"),
		CustomerEmail: stripe.String(req.UserEmail),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		},
	}
	params.Metadata = metadata

	return params
}
