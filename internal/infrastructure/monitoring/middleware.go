package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware creates a Gin middleware for metrics collection
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		// route template keeps label cardinality bounded
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequest(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

// Timer measures a backend request from issue to settlement
type Timer struct {
	start     time.Time
	metrics   *Metrics
	requester string
}

// NewTimer starts a timer for a request on the named requester
func NewTimer(metrics *Metrics, requester string) *Timer {
	return &Timer{
		start:     time.Now(),
		metrics:   metrics,
		requester: requester,
	}
}

// Stop records the elapsed time with the settlement outcome
func (t *Timer) Stop(outcome string) {
	t.metrics.RecordBackendRequest(t.requester, outcome, time.Since(t.start))
}
