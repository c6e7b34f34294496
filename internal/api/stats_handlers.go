package api

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/invitewarden/invitewarden-server/internal/http/response"
)

// defaultLeaderboardLimit caps the leaderboard when no limit is given.
const defaultLeaderboardLimit = 10

// handleGetStats returns the guild's ledger summary projection.
func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	guildID := chi.URLParam(r, "guildID")

	summary, err := s.store.GetLedgerSummary(ctx, guildID)
	if err != nil {
		s.logger.Error("Failed to get ledger summary", "error", err, "guild_id", guildID)
		response.HandleError(w, err, s.logger)
		return
	}

	total := 0
	for _, stats := range summary.Inviters {
		total += stats.Count
	}

	response.Success(w, map[string]any{
		"guild_id":      summary.GuildID,
		"inviters":      summary.Inviters,
		"total_tracked": total,
		"generated_at":  summary.GeneratedAt,
	}, s.logger)
}

// leaderboardEntry is one row of the invite leaderboard.
type leaderboardEntry struct {
	InviterID string `json:"inviter_id"`
	Count     int    `json:"count"`
}

// handleLeaderboard returns the top inviters by recorded invitee count.
// Ties are broken by inviter ID so the ordering is stable.
func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	guildID := chi.URLParam(r, "guildID")

	limit := defaultLeaderboardLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			response.BadRequest(w, "limit must be a positive integer", s.logger)
			return
		}
		limit = parsed
	}

	summary, err := s.store.GetLedgerSummary(ctx, guildID)
	if err != nil {
		s.logger.Error("Failed to get ledger summary", "error", err, "guild_id", guildID)
		response.HandleError(w, err, s.logger)
		return
	}

	entries := make([]leaderboardEntry, 0, len(summary.Inviters))
	for inviterID, stats := range summary.Inviters {
		if stats.Count == 0 {
			continue
		}
		entries = append(entries, leaderboardEntry{InviterID: inviterID, Count: stats.Count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].InviterID < entries[j].InviterID
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}

	response.Success(w, map[string]any{
		"guild_id":    guildID,
		"leaderboard": entries,
	}, s.logger)
}
