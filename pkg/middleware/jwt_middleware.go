package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"kimi/pkg/utils"
)

func JWTAuthMiddleware(tokens *utils.TokenManager) gin.HandlerFunc {

	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			utils.RespondError(c, http.StatusUnauthorized, "Authorization header missing or invalid")
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		claims, err := tokens.ValidateToken(tokenString)
		if err != nil {
			utils.RespondError(c, http.StatusUnauthorized, "Invalid or expired token")
			c.Abort()
			return
		}

		// Pass user information to the next handler
		c.Set("user_id", claims.UserID)
		c.Set("Role", claims.Role)
		c.Next()
	}
}

// RoleMiddleware lets the request through when the caller has any of roles.
func RoleMiddleware(roles ...string) gin.HandlerFunc {

	return func(c *gin.Context) {
		role := c.GetString("Role")

		for _, r := range roles {
			if role == r {
				c.Next()
				return
			}
		}

		utils.RespondError(c, http.StatusForbidden, "Forbidden: insufficient permissions")
		c.Abort()
	}
}
