package middleware

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/KingMansaMusaMarketplace/circulate-black-wealth-hub-sub011/internal/api/response"
	"github.com/KingMansaMusaMarketplace/circulate-black-wealth-hub-sub011/internal/service"
)

const developerContextKey = "developer_context"

// RawKey extracts the presented API key from the Authorization bearer
// header or the X-API-Key header.
func RawKey(c *gin.Context) string {
	auth := strings.TrimSpace(c.GetHeader("Authorization"))
	if len(auth) >= 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return strings.TrimSpace(c.GetHeader("X-API-Key"))
}

// Guard authenticates the caller, checks the required scope and charges
// the request against the caller's rate window. On success the developer
// context is attached and rate-limit feedback headers are set.
func Guard(keys *service.APIKeyService, requiredScope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		rawKey := RawKey(c)
		if rawKey == "" {
			response.Fail(c, 401, response.KindUnauthorized, "missing api key")
			c.Abort()
			return
		}

		dev, err := keys.Authorize(c.Request.Context(), rawKey, requiredScope)
		if err != nil {
			// A resolved key still identifies the caller, so the usage
			// ledger can bill the rejected request to it.
			if dev != nil {
				c.Set(developerContextKey, dev)
			}
			failAuthorize(c, err)
			c.Abort()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(dev.RateLimit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(dev.Remaining))
		c.Set(developerContextKey, dev)
		c.Next()
	}
}

// HealthAuth is the minimal auth health checks use: a presented key must
// resolve, but no scope is required and the rate window is never charged.
func HealthAuth(keys *service.APIKeyService) gin.HandlerFunc {
	return func(c *gin.Context) {
		rawKey := RawKey(c)
		if rawKey == "" {
			c.Next()
			return
		}

		dev, err := keys.Authenticate(c.Request.Context(), rawKey)
		if err != nil {
			if dev != nil {
				c.Set(developerContextKey, dev)
			}
			failAuthorize(c, err)
			c.Abort()
			return
		}

		c.Set(developerContextKey, dev)
		c.Next()
	}
}

func failAuthorize(c *gin.Context, err error) {
	var rateErr *service.RateLimitError
	switch {
	case errors.As(err, &rateErr):
		response.FailRateLimited(c, rateErr.RetryAfterSeconds())
	case errors.Is(err, service.ErrKeyUnauthorized):
		response.Fail(c, 401, response.KindUnauthorized, "unauthorized")
	case errors.Is(err, service.ErrKeyForbidden):
		response.Fail(c, 403, response.KindForbidden, "forbidden")
	default:
		response.Fail(c, 500, response.KindInternal, "internal error")
	}
}

// GetDeveloper returns the authenticated caller attached by Guard or
// HealthAuth, if any.
func GetDeveloper(c *gin.Context) (*service.DeveloperContext, bool) {
	value, ok := c.Get(developerContextKey)
	if !ok {
		return nil, false
	}

	dev, ok := value.(*service.DeveloperContext)
	if !ok || dev == nil {
		return nil, false
	}
	return dev, true
}
