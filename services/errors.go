package services

import "errors"

var (
	ErrInvalidPair       = errors.New("invalid user pair")
	ErrBlocked           = errors.New("users have blocked each other")
	ErrInterestNotFound  = errors.New("interest not found")
	ErrInvalidTransition = errors.New("invalid interest transition")
	ErrNotParticipant    = errors.New("user is not part of this conversation")
	ErrNotRecipient      = errors.New("only the recipient can mark a message as read")
	ErrInvalidMessage    = errors.New("invalid message")
	ErrMessageNotFound   = errors.New("message not found")
)
