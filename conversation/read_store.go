package conversation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"vibin_realtime/session"
)

const markAsReadPath = "/api/chat/messages/mark-as-read"

// HTTPReadStore acknowledges reads against the server's REST API.
type HTTPReadStore struct {
	BaseURL   string
	Principal session.PrincipalProvider
	Client    *http.Client
}

func NewHTTPReadStore(baseURL string, principal session.PrincipalProvider) *HTTPReadStore {
	return &HTTPReadStore{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		Principal: principal,
		Client:    &http.Client{Timeout: 10 * time.Second},
	}
}

type markAsReadRequest struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// MarkConversationAsRead posts the acknowledgement. ctx bounds the round trip.
func (h *HTTPReadStore) MarkConversationAsRead(ctx context.Context, conversationID, userID string) error {
	body, err := json.Marshal(markAsReadRequest{ConversationID: conversationID, UserID: userID})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.BaseURL+markAsReadPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build mark-as-read request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.Principal != nil {
		token, err := h.Principal.Credential(ctx)
		if err != nil {
			return fmt.Errorf("failed to get credential: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("mark-as-read request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("mark-as-read returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}
