package main

import (
	"log"
	"os"

	"creatorlab-backend/accounts"
	"creatorlab-backend/db"
	_ "creatorlab-backend/docs"
	"creatorlab-backend/routes"
	"creatorlab-backend/utils"

	"github.com/gin-gonic/gin"
)

// @title CreatorLab Billing API
// @version 1.0
// @description Subscription billing backend for the CreatorLab site
// @host localhost:8080
// @BasePath /
// @SecurityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Enter the auth service JWT with the Bearer prefix: Bearer <JWT>
func main() {

	gin.SetMode(gin.ReleaseMode)

	db.InitDB()

	// Without the auth service the ledger still works; account records just
	// stop being refreshed.
	accounts.Init()
	if accounts.Default == nil {
		utils.LogInfo("Auth service not configured; account records will not be refreshed")
	}

	if os.Getenv("STRIPE_SECRET_KEY") == "" {
		utils.LogInfo("STRIPE_SECRET_KEY not set; checkout creation is disabled")
	}

	r := routes.SetupRouter()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	if err := r.Run(":" + port); err != nil {
		log.Fatal("Error starting the server:", err)
	}
}
