package size

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// DefaultJSONLimit bounds JSON request bodies.
const DefaultJSONLimit = 1 << 20

// BodySizeLimiter limits the request body size for the route group.
// Reads past the limit fail with *http.MaxBytesError.
func BodySizeLimiter(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}
