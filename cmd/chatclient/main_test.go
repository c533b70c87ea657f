package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"vibin_realtime/models"
)

func TestLastUnreadSkipsOwnAndReadMessages(t *testing.T) {
	readAt := time.Now()
	messages := []models.Message{
		{MessageID: "m1", FromUserID: "u2"},
		{MessageID: "m2", FromUserID: "u2", ReadAt: &readAt},
		{MessageID: "m3", FromUserID: "u1"},
	}
	assert.Equal(t, "m1", lastUnread(messages, "u1"))
	assert.Equal(t, "m3", lastUnread(messages, "u2"))
	assert.Empty(t, lastUnread(messages[1:2], "u1"))
	assert.Empty(t, lastUnread(nil, "u1"))
}
