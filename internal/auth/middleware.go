package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"terminsync/internal/response"
)

// OwnerKey ключ контекста gin, под которым хранится id владельца.
const OwnerKey = "userID"

// Middleware проверяет валидность access токена
func (i *Issuer) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, response.ErrorResponse{
				Code:    "NO_AUTH_HEADER",
				Message: "Требуется авторизация",
			})
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		userID, err := i.ParseAccess(tokenString)
		if err != nil {
			c.JSON(http.StatusUnauthorized, response.ErrorResponse{
				Code:    "INVALID_TOKEN",
				Message: "Неверный или просроченный токен",
			})
			c.Abort()
			return
		}

		c.Set(OwnerKey, userID)
		c.Next()
	}
}

// OwnerID возвращает id владельца, установленный middleware.
func OwnerID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(OwnerKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint)
	if !ok || id == 0 {
		return 0, false
	}
	return int64(id), true
}
