package models

// ✅ Interest Statuses
const (
	InterestPending      = "pending"
	InterestAccepted     = "accepted"
	InterestRejected     = "rejected"
	InterestReciprocated = "reciprocated"
	InterestWithdrawn    = "withdrawn"
)

// ✅ Match Statuses (matched is terminal)
const (
	MatchStatusMatched = "matched"
)

// ✅ Message Types (text, voice, image)
const (
	MessageTypeText  = "text"
	MessageTypeVoice = "voice"
	MessageTypeImage = "image"
)

// ✅ Actors recorded on interest transitions
const (
	ActorUser   = "user"
	ActorSystem = "system"
)

// IsOpenInterest reports whether an edge in this status still counts as the
// user's outstanding interest toward the other user.
func IsOpenInterest(status string) bool {
	switch status {
	case InterestPending, InterestAccepted, InterestReciprocated:
		return true
	}
	return false
}

// IsAcceptedInterest reports whether the edge counts toward reciprocity.
func IsAcceptedInterest(status string) bool {
	return status == InterestAccepted || status == InterestReciprocated
}

// ValidMessageType reports whether t is one of the supported message types.
func ValidMessageType(t string) bool {
	switch t {
	case MessageTypeText, MessageTypeVoice, MessageTypeImage:
		return true
	}
	return false
}
