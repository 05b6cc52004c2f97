package router

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	defaultLimit = 5
	maxLimit     = 100
)

// LimitOrDefault parses a result count from raw. Missing or invalid values
// yield def and values above maxValue are capped.
func LimitOrDefault(raw string, def int, maxValue int) int {
	if def <= 0 {
		def = defaultLimit
	}
	if maxValue <= 0 {
		maxValue = maxLimit
	}
	val, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || val <= 0 {
		return def
	}
	if val > maxValue {
		return maxValue
	}
	return val
}

// QueryLimit reads the "k" query parameter of the request.
func QueryLimit(c *gin.Context, def int) int {
	return LimitOrDefault(c.Query("k"), def, maxLimit)
}
