package controllers

import (
	"net/http"

	"go.uber.org/zap"

	"vibin_realtime/services"
)

// BlockController records blocks and settles the ledger around them.
type BlockController struct {
	Blocks          services.BlockList
	InterestService *services.InterestService
}

func NewBlockController(blocks services.BlockList, interests *services.InterestService) *BlockController {
	return &BlockController{Blocks: blocks, InterestService: interests}
}

// HandleBlockUser blocks userId for the caller and closes any open interest
// between the two.
func (c *BlockController) HandleBlockUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := actingUser(w, r)
	if !ok {
		return
	}
	var request struct {
		UserID string `json:"userId"`
	}
	if !decodeBody(w, r, &request) {
		return
	}
	if request.UserID == "" || request.UserID == userID {
		writeError(w, http.StatusBadRequest, "Invalid userId")
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	if err := c.Blocks.Block(ctx, userID, request.UserID); err != nil {
		writeServiceError(w, "block user", err)
		return
	}
	if err := c.InterestService.HandleBlock(ctx, userID, request.UserID); err != nil {
		writeServiceError(w, "settle interests after block", err)
		return
	}

	zap.S().Infof("🚫 %s blocked %s", userID, request.UserID)
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "User blocked"})
}
