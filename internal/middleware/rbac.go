package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-mocktest/internal/response"
)

// RequireMonitorKey guards proctor endpoints with a shared key sent as
// X-Monitor-Key or ?key= (EventSource cannot set headers). An empty key
// leaves the endpoints open.
func RequireMonitorKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			c.Next()
			return
		}

		got := c.GetHeader("X-Monitor-Key")
		if got == "" {
			got = c.Query("key")
		}
		if got == "" {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			response.AbortFail(c, http.StatusForbidden, response.ErrForbidden)
			return
		}
		c.Next()
	}
}
