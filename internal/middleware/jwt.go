package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/bpoc/video-calls/internal/auth"
	"github.com/bpoc/video-calls/pkg/response"
)

const (
	// ContextUserID is the key for user ID in gin context.
	ContextUserID = "user_id"
	// ContextUserRole is the key for user role in gin context.
	ContextUserRole = "user_role"
	// ContextUserEmail is the key for user email in gin context.
	ContextUserEmail = "user_email"
	// ContextInternal is set when the caller authenticated with the internal webhook secret.
	ContextInternal = "internal_caller"

	// HeaderWebhookSecret carries the shared secret of internal automation.
	HeaderWebhookSecret = "x-webhook-secret"
)

// JWT returns a middleware that validates JWT and sets user claims in context.
func JWT(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !authenticate(c, jwtService) {
			c.Abort()
			return
		}
		c.Next()
	}
}

// JWTOrInternal accepts either a bearer token or the internal webhook secret.
// Internal callers have no user id in context; ContextInternal is true instead.
func JWTOrInternal(jwtService *auth.JWTService, secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if provided := c.GetHeader(HeaderWebhookSecret); provided != "" {
			if validInternalSecret(provided, secret) {
				c.Set(ContextInternal, true)
				c.Next()
				return
			}
			response.Unauthorized(c, "invalid webhook secret")
			c.Abort()
			return
		}
		if !authenticate(c, jwtService) {
			c.Abort()
			return
		}
		c.Next()
	}
}

// validInternalSecret requires a configured secret; with none set the header is always rejected.
func validInternalSecret(provided, secret string) bool {
	return secret != "" && subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) == 1
}

func authenticate(c *gin.Context, jwtService *auth.JWTService) bool {
	header := c.GetHeader("Authorization")
	if header == "" {
		response.Unauthorized(c, "missing authorization header")
		return false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		response.Unauthorized(c, "invalid authorization header")
		return false
	}
	claims, err := jwtService.Validate(parts[1])
	if err != nil {
		response.Unauthorized(c, "invalid or expired token")
		return false
	}
	userID, _ := claims.UserID()
	c.Set(ContextUserID, userID)
	c.Set(ContextUserRole, claims.Role)
	c.Set(ContextUserEmail, claims.Email)
	return true
}

// UserID returns the authenticated user id, if any.
func UserID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(ContextUserID)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok && id != uuid.Nil
}

// IsInternal reports whether the request came from internal automation.
func IsInternal(c *gin.Context) bool {
	return c.GetBool(ContextInternal)
}
