package config

import (
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
)

// GetPublicConfig exposes the client-side configuration the browser needs.
// Only publishable values leave this handler.
// @Summary Public client configuration
// @Description Returns the Stripe publishable key and the public site URL for the browser.
// @Tags config
// @Produce json
// @Success 200 {object} map[string]string
// @Router /api/config [get]
func GetPublicConfig(c *gin.Context) {
	siteURL := os.Getenv("PUBLIC_SITE_URL")
	if siteURL == "" {
		siteURL = "http://localhost:4322"
	}
	c.JSON(http.StatusOK, gin.H{
		"stripePublishableKey": os.Getenv("STRIPE_PUBLISHABLE_KEY"),
		"siteUrl":              siteURL,
	})
}
