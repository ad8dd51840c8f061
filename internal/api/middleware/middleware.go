package middleware

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/movalsociety/ledger/internal/ledger"
	"github.com/movalsociety/ledger/internal/logx"
)

const sessionKey = "ledger.session"

// Logger logs request information
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Filter out HTTP/2 connection preface attempts
		if c.Request.Method == "PRI" {
			c.AbortWithStatus(400)
			return
		}

		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if query != "" {
			path = path + "?" + query
		}

		logx.Info("API", fmt.Sprintf("%s %s %d %v", c.Request.Method, path, status, latency))
	}
}

// Recovery recovers from panics and returns a 500 error
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logx.Error("API", "Panic recovered: ", err)
				c.AbortWithStatusJSON(500, gin.H{
					"error": "Internal server error",
				})
			}
		}()
		c.Next()
	}
}

// CORS adds CORS headers
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Actor-ID, X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// Session builds the per-request ledger session from the X-Actor-ID and
// X-Request-ID headers set by the authenticating gateway
func Session() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := ledger.NewSession(c.GetHeader("X-Actor-ID"))
		if rid := c.GetHeader("X-Request-ID"); rid != "" {
			sess.RequestID = rid
		}
		c.Header("X-Request-ID", sess.RequestID)
		c.Set(sessionKey, sess)
		c.Next()
	}
}

// SessionFrom returns the session stored by Session, or a fresh anonymous one
func SessionFrom(c *gin.Context) ledger.Session {
	if v, ok := c.Get(sessionKey); ok {
		if sess, ok := v.(ledger.Session); ok {
			return sess
		}
	}
	return ledger.NewSession("")
}
