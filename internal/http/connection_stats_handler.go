package http

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/Notifuse/insights/internal/http/middleware"
	pkgDatabase "github.com/Notifuse/insights/pkg/database"
	"github.com/Notifuse/insights/pkg/logger"
)

// healthTimeout bounds the store pings of a health check
const healthTimeout = 3 * time.Second

type ConnectionStatsHandler struct {
	connections pkgDatabase.ConnectionManager
	auth        *middleware.AuthConfig
	logger      logger.Logger
	version     string
}

func NewConnectionStatsHandler(
	connections pkgDatabase.ConnectionManager,
	secret middleware.SecretFunc,
	logger logger.Logger,
	version string,
) *ConnectionStatsHandler {
	return &ConnectionStatsHandler{
		connections: connections,
		auth:        middleware.NewAuthMiddleware(secret, logger),
		logger:      logger,
		version:     version,
	}
}

// RegisterRoutes registers the health check and the authenticated connection stats
func (h *ConnectionStatsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.handleHealth)
	mux.Handle("/api/admin.connectionStats", h.auth.RequireAuth()(http.HandlerFunc(h.getConnectionStats)))
}

// handleHealth answers 503 naming the stores that failed to answer a ping
func (h *ConnectionStatsHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	failures := h.connections.Ping(ctx)
	if len(failures) == 0 {
		_ = writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":  "ok",
			"version": h.version,
		})
		return
	}

	unavailable := make([]string, 0, len(failures))
	for store, err := range failures {
		h.logger.WithField("store", store).WithField("error", err.Error()).Error("Store health check failed")
		unavailable = append(unavailable, store)
	}
	sort.Strings(unavailable)

	_ = writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
		"status":      "unavailable",
		"version":     h.version,
		"unavailable": unavailable,
	})
}

// getConnectionStats returns current connection statistics (authenticated users only)
func (h *ConnectionStatsHandler) getConnectionStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	_ = writeJSON(w, http.StatusOK, h.connections.GetStats())
}
