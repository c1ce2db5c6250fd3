package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"cdr.dev/slog/v3"
	"github.com/gin-gonic/gin"

	"ghosttrack/beacon/utils"
)

const (
	TokenCookie = "jwt_token"
	// ClaimsKey holds the *utils.Claims of a request authenticated by token.
	ClaimsKey = "claims"
)

// AuthRequired accepts either the static key in X-API-KEY or a service token
// from the jwt_token cookie or an Authorization bearer header. With neither
// apiKey nor secret configured every request passes.
func AuthRequired(logger slog.Logger, apiKey string, secret []byte) gin.HandlerFunc {
	logger = logger.Named("auth")
	return func(c *gin.Context) {
		if apiKey == "" && len(secret) == 0 {
			c.Next()
			return
		}

		if apiKey != "" {
			if key := c.GetHeader("X-API-KEY"); key != "" && subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) == 1 {
				c.Next()
				return
			}
		}

		if len(secret) == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid API key"})
			return
		}

		tokenString, err := c.Cookie(TokenCookie)
		if err != nil || tokenString == "" {
			tokenString = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: No token provided"})
			return
		}

		claims, err := utils.ValidateToken(secret, tokenString)
		if err != nil {
			logger.Debug(c.Request.Context(), "rejected token", slog.F("path", c.FullPath()), slog.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid or expired token"})
			return
		}

		c.Set(ClaimsKey, claims)
		c.Next()
	}
}
