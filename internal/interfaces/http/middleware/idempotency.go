package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sop/backend/internal/domain/shared"
	"github.com/sop/backend/internal/infrastructure/logger"
	"github.com/sop/backend/internal/interfaces/http/dto"
)

// IdempotencyKeyHeader is the header clients use to mark a mutating request
// as safe to retry.
const IdempotencyKeyHeader = "Idempotency-Key"

// Idempotency returns a middleware that rejects duplicate mutating requests.
// Clients must send an Idempotency-Key header on POST, PUT, PATCH and DELETE;
// replaying the same key within the store's TTL yields a conflict instead of
// re-executing the operation.
func Idempotency(store shared.IdempotencyStore, cfg shared.IdempotencyConfig) gin.HandlerFunc {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = shared.DefaultIdempotencyConfig().TTL
	}

	return func(c *gin.Context) {
		if !cfg.Enabled || !isMutating(c.Request.Method) {
			c.Next()
			return
		}

		requestID := c.GetString("request_id")

		key := c.GetHeader(IdempotencyKeyHeader)
		if key == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, dto.NewErrorResponseWithRequestID(
				dto.ErrCodeIdempotencyKeyRequired,
				"Idempotency-Key header is required for this request",
				requestID,
			))
			return
		}

		newlyMarked, err := store.MarkProcessed(c.Request.Context(), key, ttl)
		if err != nil {
			// Fail open: a degraded store must not take write traffic down with it
			logger.L(c.Request.Context()).Warn("idempotency store unavailable, skipping duplicate check",
				zap.Error(err))
			c.Next()
			return
		}

		if !newlyMarked {
			c.AbortWithStatusJSON(http.StatusConflict, dto.NewErrorResponseWithRequestID(
				dto.ErrCodeConflict,
				"Duplicate request: this idempotency key was already used",
				requestID,
			))
			return
		}

		c.Next()
	}
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
