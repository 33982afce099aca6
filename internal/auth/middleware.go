package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Context keys for user data
const (
	ContextKeyUserID   = "user_id"
	ContextKeyUsername = "username"
	ContextKeyClaims   = "user_claims"
)

// bearerToken extracts the token from an Authorization header. The
// second return is false when the header is absent or not Bearer form.
func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func setClaims(c *gin.Context, claims *UserClaims) {
	c.Set(ContextKeyUserID, claims.UserID)
	c.Set(ContextKeyUsername, claims.Username)
	c.Set(ContextKeyClaims, claims)
}

func abortUnauthorized(c *gin.Context, code, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":   code,
		"message": message,
	})
}

// Middleware creates a JWT authentication middleware
func Middleware(jwtManager *JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			if c.GetHeader("Authorization") == "" {
				abortUnauthorized(c, ErrUnauthorized.Code, "missing authorization header")
			} else {
				abortUnauthorized(c, ErrUnauthorized.Code, "invalid authorization header format")
			}
			return
		}

		claims, err := jwtManager.ValidateAccessToken(token)
		if err != nil {
			authErr, ok := err.(AuthError)
			if !ok {
				authErr = ErrInvalidToken
			}
			abortUnauthorized(c, authErr.Code, authErr.Message)
			return
		}

		setClaims(c, claims)
		c.Next()
	}
}

// OptionalMiddleware sets user context when a valid token is present
// and lets the request through either way.
func OptionalMiddleware(jwtManager *JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token, ok := bearerToken(c); ok {
			if claims, err := jwtManager.ValidateAccessToken(token); err == nil && claims != nil {
				setClaims(c, claims)
			}
		}
		c.Next()
	}
}

// GetUserID extracts the user ID from the Gin context. Requests without
// claims run as the default single-tenant user
func GetUserID(c *gin.Context) string {
	if userID, exists := c.Get(ContextKeyUserID); exists {
		return userID.(string)
	}
	return DefaultUserID
}

// GetUsername extracts the username from the Gin context
func GetUsername(c *gin.Context) string {
	if username, exists := c.Get(ContextKeyUsername); exists {
		return username.(string)
	}
	return ""
}

// GetUserClaims extracts the full user claims from the Gin context
func GetUserClaims(c *gin.Context) *UserClaims {
	if claims, exists := c.Get(ContextKeyClaims); exists {
		return claims.(*UserClaims)
	}
	return nil
}
