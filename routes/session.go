package routes

import (
	"creatorlab-backend/session"

	"github.com/gin-gonic/gin"
)

func SessionRoutes(r *gin.Engine) {
	r.GET("/api/session-events", session.ServeEvents)
}
