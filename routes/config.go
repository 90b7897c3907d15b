package routes

import (
	"creatorlab-backend/handlers/config"

	"github.com/gin-gonic/gin"
)

func ConfigRoutes(r *gin.Engine) {
	r.GET("/api/config", config.GetPublicConfig)
}
