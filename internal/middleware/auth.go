package middleware

import (
	"errors"
	"net/http"
	"strings"

	"userservice/internal/pkg/response"
	"userservice/internal/token"

	"github.com/gin-gonic/gin"
)

// AccessAuth validates the bearer access token on protected routes. Expired,
// malformed and revoked tokens map to distinct error codes so clients can
// tell a refreshable condition from a terminal one.
func AccessAuth(tokens *token.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if h == "" || !strings.HasPrefix(h, "Bearer ") {
			response.Error(c, http.StatusUnauthorized, "UNAUTHORIZED", "Missing or malformed Authorization header")
			c.Abort()
			return
		}

		raw := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		if raw == "" {
			response.Error(c, http.StatusUnauthorized, "UNAUTHORIZED", "Empty token")
			c.Abort()
			return
		}

		claims, err := tokens.Verify(c.Request.Context(), raw, token.KindAccess)
		if err != nil {
			switch {
			case errors.Is(err, token.ErrTokenExpired):
				response.Error(c, http.StatusUnauthorized, "TOKEN_EXPIRED", "Access token expired")
			case errors.Is(err, token.ErrTokenRevoked):
				response.Error(c, http.StatusUnauthorized, "TOKEN_REVOKED", "Access token revoked")
			default:
				response.Error(c, http.StatusUnauthorized, "TOKEN_INVALID", "Invalid access token")
			}
			c.Abort()
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("email", claims.Email)

		c.Next()
	}
}
