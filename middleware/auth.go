package middleware

import (
	"net/http"

	"document-chat-platform/utils"

	"github.com/gin-gonic/gin"
)

const ownerKey = "owner"

type AuthMiddleware struct {
	secret string
}

func NewAuthMiddleware(jwtSecret string) *AuthMiddleware {
	return &AuthMiddleware{secret: jwtSecret}
}

// RequireAuth validates the bearer token (or access_token cookie) and stores
// its subject as the request owner.
func (a *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := utils.ExtractTokenFromHeader(c.GetHeader("Authorization"))
		if tokenString == "" {
			if cookie, err := c.Cookie("access_token"); err == nil {
				tokenString = cookie
			}
		}

		if tokenString == "" {
			utils.RespondWithUnauthorized(c, "Authentication token is required")
			c.Abort()
			return
		}

		claims, err := utils.ValidateJWT(tokenString, a.secret)
		if err != nil {
			utils.RespondWithError(c, http.StatusUnauthorized, "invalid_token", "Authentication token is invalid or expired", nil)
			c.Abort()
			return
		}

		c.Set(ownerKey, claims.Owner())
		c.Set("claims", claims)
		c.Next()
	}
}

// GetOwner returns the authenticated owner, or "" outside RequireAuth.
func GetOwner(c *gin.Context) string {
	return c.GetString(ownerKey)
}
