package handler

import (
	"github.com/gin-gonic/gin"

	"docuchat/internal/transport/http/middleware"
)

const (
	testUserID    = "user-123"
	testUserEmail = "user@example.com"
	testUserName  = "Test User"
)

// authedRouter builds a test router whose group carries a pre-resolved
// identity, standing in for the JWT middleware.
func authedRouter(register func(r *gin.RouterGroup)) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	group := router.Group("/api/v1")
	group.Use(func(c *gin.Context) {
		c.Set(middleware.ContextIdentityKey, middleware.Identity{
			UserID: testUserID,
			Email:  testUserEmail,
			Name:   testUserName,
		})
	})
	register(group)
	return router
}
