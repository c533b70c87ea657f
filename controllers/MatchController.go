package controllers

import (
	"net/http"

	"go.uber.org/zap"

	"vibin_realtime/services"
)

// MatchController struct
type MatchController struct {
	MatchService *services.MatchService
}

// NewMatchController initializes the controller
func NewMatchController(service *services.MatchService) *MatchController {
	return &MatchController{MatchService: service}
}

// HandleGetMatches fetches every match of the caller.
func (c *MatchController) HandleGetMatches(w http.ResponseWriter, r *http.Request) {
	userID, ok := actingUser(w, r)
	if !ok {
		return
	}
	zap.S().Infof("🔍 Fetching matches for user: %s", userID)

	ctx, cancel := requestContext(r)
	defer cancel()

	matches, err := c.MatchService.MatchesForUser(ctx, userID)
	if err != nil {
		writeServiceError(w, "fetch matches", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, matches)
}
