package webhook

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"leadflow_backend/platform/httpkit"
	"leadflow_backend/platform/logger"
)

const (
	apiKeyHeader = "X-Webhook-API-Key"

	ctxKeyID     = "webhookKeyID"
	ctxKeySource = "webhookSource"
)

// KeyLookup resolves an api key by its hash. Satisfied by *Repository.
type KeyLookup interface {
	GetByHash(ctx context.Context, hash string) (APIKey, error)
}

// APIKeyAuth authenticates event senders by the X-Webhook-API-Key
// header. The key's configured source is placed on the context so the
// ingest envelope cannot spoof another source.
func APIKeyAuth(keys KeyLookup, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		plaintext := strings.TrimSpace(c.GetHeader(apiKeyHeader))
		if plaintext == "" {
			httpkit.Error(c, http.StatusUnauthorized, "missing api key", nil)
			c.Abort()
			return
		}

		key, err := keys.GetByHash(c.Request.Context(), HashKey(plaintext))
		if err != nil {
			log.Warn("webhook: rejected api key", "path", c.Request.URL.Path, "error", err)
			httpkit.Error(c, http.StatusUnauthorized, "invalid api key", nil)
			c.Abort()
			return
		}

		c.Set(ctxKeyID, key.ID.String())
		c.Set(ctxKeySource, key.Source)
		c.Next()
	}
}

// SignedPayloadAuth optionally verifies an HS256 token in the
// X-Webhook-Signature header. With an empty secret the check is off
// and the middleware passes everything through.
func SignedPayloadAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}

		raw := strings.TrimSpace(c.GetHeader("X-Webhook-Signature"))
		if raw == "" {
			httpkit.Error(c, http.StatusUnauthorized, "missing signature", nil)
			c.Abort()
			return
		}

		_, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err != nil {
			httpkit.Error(c, http.StatusUnauthorized, "invalid signature", nil)
			c.Abort()
			return
		}

		c.Next()
	}
}
