package middleware

import (
	"net/http"
	"strings"

	"github.com/casamar/reservations-backend/pkg/jwt"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// StaffContextKey is the key used to store staff information in Gin context
const StaffContextKey = "staff"

// StaffContext represents the authenticated staff member's information
type StaffContext struct {
	StaffID uuid.UUID `json:"staff_id"`
	Email   string    `json:"email"`
	Roles   []string  `json:"roles"`
}

// AuthMiddleware creates a middleware that validates staff JWT tokens
func AuthMiddleware(jwtService *jwt.Service, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		fields := logrus.Fields{"path": c.Request.URL.Path, "ip": c.ClientIP()}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			logger.WithFields(fields).Warn("Auth failed: missing authorization header")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Authorization header is required",
				"code":    "MISSING_AUTH_HEADER",
			})
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
			logger.WithFields(fields).Warn("Auth failed: invalid authorization format")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Invalid authorization header format. Expected: Bearer <token>",
				"code":    "INVALID_AUTH_FORMAT",
			})
			return
		}

		tokenString := strings.TrimSpace(parts[1])

		claims, err := jwtService.ValidateAccessToken(tokenString)
		if err != nil {
			if jwt.IsExpired(err) {
				logger.WithFields(fields).WithError(err).Warn("Auth failed: token expired")
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error":   "token_expired",
					"message": "Access token has expired",
					"code":    "TOKEN_EXPIRED",
				})
				return
			}
			logger.WithFields(fields).WithError(err).Warn("Auth failed: invalid token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "invalid_token",
				"message": "Invalid access token",
				"code":    "INVALID_TOKEN",
			})
			return
		}

		c.Set(StaffContextKey, StaffContext{
			StaffID: claims.StaffID,
			Email:   claims.Email,
			Roles:   claims.Roles,
		})

		c.Next()
	}
}

// RequireRole creates a middleware that checks if staff has any required role
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		staffCtx, exists := GetStaffContext(c)
		if !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Staff context not found. Auth middleware may not be applied.",
				"code":    "MISSING_STAFF_CONTEXT",
			})
			return
		}

		if !staffCtx.HasRole(roles...) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "You don't have permission to access this resource",
				"code":    "INSUFFICIENT_PERMISSIONS",
			})
			return
		}

		c.Next()
	}
}

// HasRole returns true if the staff member has any of the given roles
func (s StaffContext) HasRole(roles ...string) bool {
	for _, want := range roles {
		for _, have := range s.Roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

// GetStaffContext retrieves the staff context from Gin context
func GetStaffContext(c *gin.Context) (StaffContext, bool) {
	value, exists := c.Get(StaffContextKey)
	if !exists {
		return StaffContext{}, false
	}

	staffCtx, ok := value.(StaffContext)
	if !ok {
		return StaffContext{}, false
	}

	return staffCtx, true
}
