package middleware

import "github.com/gin-gonic/gin"

// RequireAdmin restricts a route group to admin sessions.
func RequireAdmin() gin.HandlerFunc {
	return RequireRole(RoleAdmin)
}
