// Command chatclient is a terminal client for one conversation. It keeps a
// reconnecting session to the server and prints the conversation as it changes.
//
//	chatclient -server http://localhost:8080 -user u1 -token $TOKEN -conversation <id>
//
// Lines typed on stdin are sent as messages. "/read" marks the conversation
// read, "/typing" and "/stop" toggle the typing indicator, "/quit" exits.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"vibin_realtime/conversation"
	"vibin_realtime/models"
	"vibin_realtime/session"
	"vibin_realtime/utils"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "server base URL")
	userID := flag.String("user", "", "your user id")
	token := flag.String("token", os.Getenv("VIBIN_TOKEN"), "bearer token")
	conversationID := flag.String("conversation", "", "conversation to join")
	flag.Parse()

	if *userID == "" || *token == "" || *conversationID == "" {
		flag.Usage()
		os.Exit(2)
	}

	logger, err := utils.InitLogger("development")
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	defer logger.Sync()

	principal := session.StaticPrincipal{UserID: *userID, Token: *token}
	wsURL := "ws" + strings.TrimPrefix(strings.TrimRight(*server, "/"), "http") + "/ws"

	sess := session.New(session.Config{URL: wsURL}, principal, nil)
	state := conversation.New(*userID, sess, conversation.NewHTTPReadStore(*server, principal))
	sess.SetHandler(session.FrameHandlerFunc(state.HandleFrame))
	sess.OnResume(state.ResumeEnvelopes)
	sess.OnStatus(func(status models.ConnectionStatus) {
		switch {
		case status.IsConnected:
			zap.S().Info("✅ Connected")
		case status.IsConnecting:
			zap.S().Info("🔄 Connecting...")
		case status.Error != "":
			zap.S().Warnf("⚠️ Disconnected: %s", status.Error)
		}
	})

	var (
		mu      sync.Mutex
		printed int
	)
	state.OnChange(func(changed string) {
		if changed != *conversationID {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		messages := state.GetMessages(changed)
		for _, m := range messages[min(printed, len(messages)):] {
			fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04:05"), m.FromUserID, m.Text)
		}
		printed = len(messages)
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	go state.RunTypingSweeper(ctx, 5*time.Second)

	sess.Connect()
	defer sess.Disconnect()
	if err := state.JoinConversation(*conversationID); err != nil {
		zap.S().Fatalf("❌ Failed to join: %v", err)
	}

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := handleLine(ctx, state, *userID, *conversationID, strings.TrimSpace(line)); quit {
				return
			}
		}
	}
}

func handleLine(ctx context.Context, state *conversation.State, userID, conversationID, line string) bool {
	var err error
	switch line {
	case "":
		return false
	case "/quit":
		return true
	case "/typing":
		err = state.StartTyping(conversationID)
	case "/stop":
		err = state.StopTyping(conversationID)
	case "/read":
		readCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if id := lastUnread(state.GetMessages(conversationID), userID); id != "" {
			if !state.MarkMessageAsRead(readCtx, id, conversationID) {
				zap.S().Warn("⚠️ Read receipt sent but not acknowledged by the server")
			}
		}
	default:
		// the server fills in the recipient
		err = state.SendMessage(conversationID, "", line, models.MessageTypeText)
	}
	if err != nil {
		zap.S().Errorf("❌ %v", err)
	}
	return false
}

// lastUnread is the newest message addressed to userID that has no read receipt.
func lastUnread(messages []models.Message, userID string) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].FromUserID != userID && messages[i].ReadAt == nil {
			return messages[i].MessageID
		}
	}
	return ""
}
