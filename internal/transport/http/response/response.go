package response

import "github.com/gin-gonic/gin"

// Error writes the flat error body used across the API.
func Error(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

// OK writes data as-is with a 200.
func OK(c *gin.Context, data interface{}) {
	c.JSON(200, data)
}
