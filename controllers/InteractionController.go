package controllers

import (
	"net/http"

	"go.uber.org/zap"

	"vibin_realtime/services"
)

// InterestController handles API requests against the interest ledger. The
// acting user always comes from the bearer token.
type InterestController struct {
	InterestService *services.InterestService
}

func NewInterestController(service *services.InterestService) *InterestController {
	return &InterestController{InterestService: service}
}

type counterpartRequest struct {
	ToUserID   string `json:"toUserId"`
	FromUserID string `json:"fromUserId"`
}

// HandleExpressInterest records interest in toUserId. The response carries the
// match when the edge turned out to be reciprocated.
func (c *InterestController) HandleExpressInterest(w http.ResponseWriter, r *http.Request) {
	userID, ok := actingUser(w, r)
	if !ok {
		return
	}
	var request counterpartRequest
	if !decodeBody(w, r, &request) {
		return
	}
	if request.ToUserID == "" {
		writeError(w, http.StatusBadRequest, "Missing toUserId")
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	outcome, err := c.InterestService.ExpressInterest(ctx, userID, request.ToUserID)
	if err != nil {
		writeServiceError(w, "express interest", err)
		return
	}
	if outcome.MatchCreated {
		zap.S().Infof("🎉 Match formed between %s and %s", userID, request.ToUserID)
	}
	writeJSONResponse(w, http.StatusOK, outcome)
}

// HandleGetInterests lists the caller's outgoing edges, or incoming ones with
// ?direction=incoming.
func (c *InterestController) HandleGetInterests(w http.ResponseWriter, r *http.Request) {
	userID, ok := actingUser(w, r)
	if !ok {
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()

	list := c.InterestService.ListOutgoing
	switch r.URL.Query().Get("direction") {
	case "", "outgoing":
	case "incoming":
		list = c.InterestService.ListIncoming
	default:
		writeError(w, http.StatusBadRequest, "direction must be incoming or outgoing")
		return
	}

	interests, err := list(ctx, userID)
	if err != nil {
		writeServiceError(w, "fetch interests", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, interests)
}

// HandleAcceptInterest accepts the interest fromUserId expressed in the caller.
func (c *InterestController) HandleAcceptInterest(w http.ResponseWriter, r *http.Request) {
	userID, ok := actingUser(w, r)
	if !ok {
		return
	}
	var request counterpartRequest
	if !decodeBody(w, r, &request) {
		return
	}
	if request.FromUserID == "" {
		writeError(w, http.StatusBadRequest, "Missing fromUserId")
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	outcome, err := c.InterestService.AcceptInterest(ctx, userID, request.FromUserID)
	if err != nil {
		writeServiceError(w, "accept interest", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, outcome)
}

func (c *InterestController) HandleRejectInterest(w http.ResponseWriter, r *http.Request) {
	userID, ok := actingUser(w, r)
	if !ok {
		return
	}
	var request counterpartRequest
	if !decodeBody(w, r, &request) {
		return
	}
	if request.FromUserID == "" {
		writeError(w, http.StatusBadRequest, "Missing fromUserId")
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	interest, err := c.InterestService.RejectInterest(ctx, userID, request.FromUserID)
	if err != nil {
		writeServiceError(w, "reject interest", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, interest)
}

func (c *InterestController) HandleWithdrawInterest(w http.ResponseWriter, r *http.Request) {
	userID, ok := actingUser(w, r)
	if !ok {
		return
	}
	var request counterpartRequest
	if !decodeBody(w, r, &request) {
		return
	}
	if request.ToUserID == "" {
		writeError(w, http.StatusBadRequest, "Missing toUserId")
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	interest, err := c.InterestService.WithdrawInterest(ctx, userID, request.ToUserID)
	if err != nil {
		writeServiceError(w, "withdraw interest", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, interest)
}

// HandleGetHistory returns the audit trail of both edges between the caller
// and ?userId=.
func (c *InterestController) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := actingUser(w, r)
	if !ok {
		return
	}
	other := r.URL.Query().Get("userId")
	if other == "" {
		writeError(w, http.StatusBadRequest, "Missing userId parameter")
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	outgoing, err := c.InterestService.History(ctx, userID, other)
	if err != nil {
		writeServiceError(w, "fetch interest history", err)
		return
	}
	incoming, err := c.InterestService.History(ctx, other, userID)
	if err != nil {
		writeServiceError(w, "fetch interest history", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"outgoing": outgoing,
		"incoming": incoming,
	})
}
