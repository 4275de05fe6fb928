package middleware

import (
	"log"
	"net/http"
	"strings"

	"odometer-backend/pkg/jwt"

	"github.com/gin-gonic/gin"
)

const userIDKey = "user_id"

// AuthMiddleware requires a valid bearer token in the Authorization header.
func AuthMiddleware(jwtUtil *jwt.JWTUtil) gin.HandlerFunc {
	return authenticate(jwtUtil, false)
}

// WebSocketAuthMiddleware also accepts the token as a "token" query
// parameter, since browsers cannot set headers on a WebSocket handshake.
func WebSocketAuthMiddleware(jwtUtil *jwt.JWTUtil) gin.HandlerFunc {
	return authenticate(jwtUtil, true)
}

func authenticate(jwtUtil *jwt.JWTUtil, allowQuery bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := bearerToken(c.GetHeader("Authorization"))
		if tokenString == "" && allowQuery {
			tokenString = c.Query("token")
		}
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		claims, err := jwtUtil.ValidateToken(tokenString)
		if err != nil {
			log.Printf("Rejected token on %s: %v", c.FullPath(), err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		c.Set(userIDKey, claims.UserID)
		c.Set("email", claims.Email)
		c.Next()
	}
}

// Handle both "Bearer token" and just "token" formats
func bearerToken(header string) string {
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

// UserID returns the authenticated user set by the auth middleware.
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}
