package handler

import (
	"net/http"
	"strings"

	"github.com/marketingguide/mgai-api/internal/infra/realtime"
	"github.com/marketingguide/mgai-api/internal/service"

	"go.uber.org/zap"
)

// realtimeHandler upgrades to a websocket subscribed to one project's
// progress room. Browsers cannot set headers on websocket requests, so the
// access token travels in the query string.
func realtimeHandler(verifier TokenVerifier, projects *service.ProjectService, upgrader *realtime.Upgrader, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing authorization token")
			return
		}
		id, err := verifier.Verify(token)
		if err != nil {
			logger.Warn("realtime: invalid token", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		projectID := r.URL.Query().Get("project")
		if projectID == "" {
			writeError(w, http.StatusBadRequest, "project is required")
			return
		}
		if _, err := projects.Get(r.Context(), id, projectID); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		// Upgrade failures are answered by the websocket library itself.
		if err := upgrader.Serve(w, r, id.UserID, realtime.ProjectRoom(projectID)); err != nil {
			logger.Warn("realtime: upgrade failed",
				zap.String("user_id", id.UserID),
				zap.String("project_id", projectID),
				zap.Error(err),
			)
		}
	}
}
