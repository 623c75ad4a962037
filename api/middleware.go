package api

import (
	"math"
	"strconv"
	"time"

	"docconvert/limiter"
	"docconvert/models"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// KeyFunc derives the rate limit client identity from a request.
type KeyFunc func(c *gin.Context) string

// RemoteIPKey uses the connection address only.
func RemoteIPKey(c *gin.Context) string {
	return c.RemoteIP()
}

// ForwardedIPKey honours X-Forwarded-For from the engine's trusted proxies.
func ForwardedIPKey(c *gin.Context) string {
	return c.ClientIP()
}

// RateLimit rejects with 429 once the client's bucket is empty. Rejected
// requests never reach the handler chain.
func RateLimit(lim *limiter.Limiter, key KeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		client := key(c)
		admitted := lim.TryAdmit(client)
		c.Header("X-RateLimit-Limit", strconv.Itoa(lim.Capacity()))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(int(math.Floor(lim.Tokens(client)))))
		if !admitted {
			abortWithError(c, models.ErrRateLimited)
			return
		}
		c.Next()
	}
}

// RequestLogger logs one line per request.
func RequestLogger(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logger.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"client":   c.ClientIP(),
			"duration": time.Since(start).Round(time.Microsecond),
		})
		if c.Writer.Status() >= 500 {
			entry.Warn("Request completed")
			return
		}
		entry.Debug("Request completed")
	}
}
