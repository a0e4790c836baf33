package middleware

import (
	"github.com/SscSPs/payment_settlement/internal/core/domain"
	"github.com/gin-gonic/gin"
)

// userIDKey is the key used to store the authenticated user's ID in the Gin context.
// Using a custom type prevents collisions.
const (
	userIDKey = contextKey("userID")
	roleKey   = contextKey("role")
)

// GetUserIDFromContext retrieves the authenticated user ID from the Gin context.
// It returns the user ID and a boolean indicating if it was found.
func GetUserIDFromContext(c *gin.Context) (string, bool) {
	userIDVal, exists := c.Get(string(userIDKey))
	if !exists {
		// check in the request context as well
		if userID, ok := c.Request.Context().Value(userIDKey).(string); ok {
			return userID, true
		}
		return "", false
	}

	userID, ok := userIDVal.(string)
	if !ok {
		return "", false
	}

	return userID, true
}

// GetPrincipalFromContext returns the authenticated caller with its role.
// A token without a role claim yields a customer.
func GetPrincipalFromContext(c *gin.Context) (domain.Principal, bool) {
	userID, ok := GetUserIDFromContext(c)
	if !ok {
		return domain.Principal{}, false
	}
	role := domain.RoleCustomer
	if v, exists := c.Get(string(roleKey)); exists {
		if r, ok := v.(domain.Role); ok {
			role = r
		}
	} else if r, ok := c.Request.Context().Value(roleKey).(domain.Role); ok {
		role = r
	}
	return domain.Principal{UserID: userID, Role: role}, true
}
