package response

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// Machine-readable error kinds. Every error body carries exactly one.
const (
	KindValidation    = "validation"
	KindNotFound      = "not_found"
	KindInactive      = "inactive"
	KindExpired       = "expired"
	KindLimitExceeded = "limit_exceeded"
	KindUnauthorized  = "unauthorized"
	KindForbidden     = "forbidden"
	KindRateLimited   = "rate_limited"
	KindInternal      = "internal"
)

type ErrorBody struct {
	Error      string `json:"error"`
	Kind       string `json:"kind"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// OK writes the payload directly; the engine's success bodies are not
// wrapped in an envelope.
func OK(c *gin.Context, data any) {
	c.JSON(200, data)
}

func Fail(c *gin.Context, httpStatus int, kind, message string) {
	c.JSON(httpStatus, ErrorBody{
		Error: message,
		Kind:  kind,
	})
}

// FailRateLimited writes the 429 body plus the Retry-After header so both
// header-aware and body-only clients see the reset delay.
func FailRateLimited(c *gin.Context, retryAfterSeconds int) {
	if retryAfterSeconds < 1 {
		retryAfterSeconds = 1
	}
	c.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
	c.JSON(429, ErrorBody{
		Error:      "rate limit exceeded",
		Kind:       KindRateLimited,
		RetryAfter: retryAfterSeconds,
	})
}
