package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/invitewarden/invitewarden-server/internal/http/response"
	"github.com/invitewarden/invitewarden-server/internal/id"
)

// handleRetroactive starts a retroactive reconciliation pass for the guild.
// The pass runs in the background; a second trigger while one is in flight
// is rejected. The returned pass id tags the pass's log lines so an
// operator can follow a triggered pass through the logs.
func (s *Server) handleRetroactive(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "guildID")

	if _, running := s.retroactiveRuns.LoadOrStore(guildID, struct{}{}); running {
		response.Conflict(w, "A retroactive pass is already running for this guild", s.logger)
		return
	}

	passID := id.MustGenerate("pass")

	go func() {
		defer s.retroactiveRuns.Delete(guildID)

		// Detached from the request context: the pass outlives the response.
		if err := s.tracker.RunRetroactive(context.Background(), guildID, passID); err != nil {
			s.logger.Error("Retroactive pass failed", "error", err, "guild_id", guildID, "pass_id", passID)
			return
		}
		s.logger.Info("Retroactive pass finished", "guild_id", guildID, "pass_id", passID)
	}()

	response.Accepted(w, map[string]string{
		"guild_id": guildID,
		"status":   "started",
		"pass_id":  passID,
	}, s.logger)
}
