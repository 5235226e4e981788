package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"leilaochat/internal/model"
	"leilaochat/internal/pkg/jwtutil"
	"leilaochat/internal/transport/http/response"
)

const (
	ContextUserIDKey   = "user_id"
	ContextUsernameKey = "username"
	ContextUserKey     = "current_user"
)

// UserLoader resolves the token subject to a live account. A nil user
// means unknown or deactivated; both reject the request.
type UserLoader interface {
	GetActiveUser(id uint) (*model.User, error)
}

// AuthJWT validates the bearer token and loads the account behind it.
// Rejections are uniform 401s so callers cannot probe which check failed.
func AuthJWT(secret string, users UserLoader) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
		if authHeader == "" {
			response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "missing authorization header")
			c.Abort()
			return
		}

		const prefix = "Bearer "
		if !strings.HasPrefix(authHeader, prefix) {
			response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid authorization scheme")
			c.Abort()
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, prefix))
		claims, err := jwtutil.ParseToken(secret, token)
		if err != nil {
			response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid or expired token")
			c.Abort()
			return
		}

		user, err := users.GetActiveUser(claims.UserID)
		if err != nil {
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "load user failed")
			c.Abort()
			return
		}
		if user == nil {
			response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "user not found or inactive")
			c.Abort()
			return
		}

		c.Set(ContextUserIDKey, user.ID)
		c.Set(ContextUsernameKey, user.Username)
		c.Set(ContextUserKey, user)
		c.Next()
	}
}

// AdminRequired must run after AuthJWT.
func AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := CurrentUser(c)
		if user == nil || !user.Admin {
			response.Error(c, http.StatusForbidden, response.CodeForbidden, "admin privileges required")
			c.Abort()
			return
		}
		c.Next()
	}
}

func CurrentUser(c *gin.Context) *model.User {
	userAny, exists := c.Get(ContextUserKey)
	if !exists {
		return nil
	}
	user, ok := userAny.(*model.User)
	if !ok {
		return nil
	}
	return user
}
