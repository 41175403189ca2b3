package middleware

import (
	"crypto/subtle"
	"net/http"

	"qa-engine-jira/internal/common"

	"github.com/ternarybob/arbor"
)

const apiKeyHeader = "X-API-Key"

// APIKey guards write-capable endpoints with a static credential header. The
// check runs before any other processing and cannot be bypassed by request
// body content. An empty configured token disables auth for local development.
func APIKey(cfg *common.EngineConfig, logger arbor.ILogger) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if cfg.AuthToken == "" {
				next(w, r)
				return
			}

			presented := r.Header.Get(apiKeyHeader)
			if presented == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(cfg.AuthToken)) != 1 {
				logger.Warn().
					Str("path", r.URL.Path).
					Str("remote_addr", r.RemoteAddr).
					Msg("Rejected request with missing or invalid API key")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next(w, r)
		}
	}
}
