package api

import (
	"encoding/json/v2"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/invitewarden/invitewarden-server/internal/http/response"
)

// addMappingRequest is the body for creating a manual mapping.
type addMappingRequest struct {
	InviterID string `json:"inviter_id"`
	InviteeID string `json:"invitee_id"`
}

// handleAddMapping records a manual inviter to invitee mapping.
func (s *Server) handleAddMapping(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	guildID := chi.URLParam(r, "guildID")

	var req addMappingRequest
	if err := json.UnmarshalRead(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid request body", s.logger)
		return
	}
	if req.InviterID == "" || req.InviteeID == "" {
		response.BadRequest(w, "inviter_id and invitee_id are required", s.logger)
		return
	}
	if req.InviterID == req.InviteeID {
		response.BadRequest(w, "inviter_id and invitee_id must differ", s.logger)
		return
	}

	created, err := s.tracker.AddMapping(ctx, guildID, req.InviterID, req.InviteeID)
	if err != nil {
		s.logger.Error("Failed to add mapping",
			"error", err,
			"guild_id", guildID,
			"inviter_id", req.InviterID,
			"invitee_id", req.InviteeID,
		)
		response.HandleError(w, err, s.logger)
		return
	}

	body := map[string]any{
		"guild_id":   guildID,
		"inviter_id": req.InviterID,
		"invitee_id": req.InviteeID,
		"created":    created,
	}
	if created {
		response.Created(w, body, s.logger)
		return
	}
	response.Success(w, body, s.logger)
}

// handleRemoveMapping deletes an inviter to invitee mapping.
func (s *Server) handleRemoveMapping(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	guildID := chi.URLParam(r, "guildID")
	inviterID := chi.URLParam(r, "inviterID")
	inviteeID := chi.URLParam(r, "inviteeID")

	found, err := s.tracker.RemoveMapping(ctx, guildID, inviterID, inviteeID)
	if err != nil {
		s.logger.Error("Failed to remove mapping",
			"error", err,
			"guild_id", guildID,
			"inviter_id", inviterID,
			"invitee_id", inviteeID,
		)
		response.HandleError(w, err, s.logger)
		return
	}
	if !found {
		response.NotFound(w, "Mapping not found", s.logger)
		return
	}

	response.NoContent(w)
}

// handleListInvitees returns the recorded invitees for an inviter.
func (s *Server) handleListInvitees(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	guildID := chi.URLParam(r, "guildID")
	inviterID := chi.URLParam(r, "inviterID")

	inviteeIDs, err := s.tracker.ListInvitees(ctx, guildID, inviterID)
	if err != nil {
		s.logger.Error("Failed to list invitees",
			"error", err,
			"guild_id", guildID,
			"inviter_id", inviterID,
		)
		response.HandleError(w, err, s.logger)
		return
	}

	if inviteeIDs == nil {
		inviteeIDs = []string{}
	}
	response.Success(w, map[string]any{
		"guild_id":    guildID,
		"inviter_id":  inviterID,
		"invitee_ids": inviteeIDs,
		"count":       len(inviteeIDs),
	}, s.logger)
}
