package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"vibin_realtime/models"
	"vibin_realtime/utils"
)

// Tables names the three DynamoDB tables the store uses.
type Tables struct {
	Interests string
	Matches   string
	Messages  string
}

// DefaultTables are the table names used when none are configured.
var DefaultTables = Tables{
	Interests: models.InterestsTable,
	Matches:   models.MatchesTable,
	Messages:  models.MessagesTable,
}

// DynamoStore implements Store on DynamoDB.
//
// Interests table: PK "USER#<from>", SK "INTEREST#<to>" for the current edge and
// SK "HISTORY#<to>#<at>#<id>" for its transitions; GSI toUserId-index.
// Matches table: PK "MATCH#<id>"; GSIs userAId-index, userBId-index,
// conversationId-index. Messages table: hash conversationId, range messageId,
// LSI createdAtKey-index. Time-ordered sort keys use utils.SortableTime, since
// attributevalue's RFC3339Nano trims trailing zeros and does not sort as text.
type DynamoStore struct {
	Dynamo *DynamoService
	Tables Tables
}

func NewDynamoStore(client DynamoAPI, tables Tables) *DynamoStore {
	return &DynamoStore{Dynamo: &DynamoService{Client: client}, Tables: tables}
}

func matchPK(matchID string) string { return "MATCH#" + matchID }

func historyPrefix(to string) string { return "HISTORY#" + to + "#" }

func (s *DynamoStore) GetInterest(ctx context.Context, from, to string) (*models.Interest, error) {
	pk, sk := models.InterestKey(from, to)
	item, err := s.Dynamo.GetItem(ctx, s.Tables.Interests, utils.StringKey("PK", pk, "SK", sk))
	if err != nil {
		return nil, err
	}
	var interest models.Interest
	if err := attributevalue.UnmarshalMap(item, &interest); err != nil {
		return nil, fmt.Errorf("failed to unmarshal interest: %w", err)
	}
	return &interest, nil
}

func (s *DynamoStore) PutInterest(ctx context.Context, interest models.Interest, expectedStatus string) error {
	interest.PK, interest.SK = models.InterestKey(interest.FromUserID, interest.ToUserID)

	if expectedStatus == "" {
		return s.Dynamo.PutItemWithCondition(ctx, s.Tables.Interests, interest, "attribute_not_exists(PK)", nil, nil)
	}
	return s.Dynamo.PutItemWithCondition(ctx, s.Tables.Interests, interest,
		"#status = :expected",
		map[string]types.AttributeValue{":expected": &types.AttributeValueMemberS{Value: expectedStatus}},
		map[string]string{"#status": "status"},
	)
}

func (s *DynamoStore) ListOutgoing(ctx context.Context, from string) ([]models.Interest, error) {
	pk, _ := models.InterestKey(from, "")
	items, err := s.Dynamo.QueryItems(ctx, s.Tables.Interests,
		"PK = :pk AND begins_with(SK, :prefix)",
		map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: pk},
			":prefix": &types.AttributeValueMemberS{Value: "INTEREST#"},
		}, nil)
	if err != nil {
		return nil, err
	}
	return unmarshalInterests(items)
}

func (s *DynamoStore) ListIncoming(ctx context.Context, to string) ([]models.Interest, error) {
	items, err := s.Dynamo.QueryItemsWithIndex(ctx, s.Tables.Interests, models.ToUserIndex,
		"toUserId = :to",
		map[string]types.AttributeValue{":to": &types.AttributeValueMemberS{Value: to}},
		nil, 0)
	if err != nil {
		return nil, err
	}
	// history rows share the toUserId attribute, keep only edges
	edges := items[:0]
	for _, item := range items {
		if strings.HasPrefix(utils.ExtractString(item, "SK"), "INTEREST#") {
			edges = append(edges, item)
		}
	}
	return unmarshalInterests(edges)
}

func unmarshalInterests(items []map[string]types.AttributeValue) ([]models.Interest, error) {
	interests := []models.Interest{}
	if err := attributevalue.UnmarshalListOfMaps(items, &interests); err != nil {
		return nil, fmt.Errorf("failed to unmarshal interests: %w", err)
	}
	return interests, nil
}

func (s *DynamoStore) AppendTransition(ctx context.Context, transition models.InterestTransition) error {
	transition.PK, _ = models.InterestKey(transition.FromUserID, "")
	transition.SK = historyPrefix(transition.ToUserID) + utils.SortableTime(transition.At) + "#" + uuid.NewString()
	return s.Dynamo.PutItem(ctx, s.Tables.Interests, transition)
}

func (s *DynamoStore) ListTransitions(ctx context.Context, from, to string) ([]models.InterestTransition, error) {
	pk, _ := models.InterestKey(from, to)
	items, err := s.Dynamo.QueryItems(ctx, s.Tables.Interests,
		"PK = :pk AND begins_with(SK, :prefix)",
		map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: pk},
			":prefix": &types.AttributeValueMemberS{Value: historyPrefix(to)},
		}, nil)
	if err != nil {
		return nil, err
	}
	transitions := []models.InterestTransition{}
	if err := attributevalue.UnmarshalListOfMaps(items, &transitions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transitions: %w", err)
	}
	return transitions, nil
}

// CreateMatchIfAbsent relies on attribute_not_exists(PK) so the check and the
// insert are one atomic DynamoDB operation.
func (s *DynamoStore) CreateMatchIfAbsent(ctx context.Context, match models.Match) (*models.Match, bool, error) {
	match.PK = matchPK(match.MatchID)
	err := s.Dynamo.PutItemWithCondition(ctx, s.Tables.Matches, match, "attribute_not_exists(PK)", nil, nil)
	if err == nil {
		return &match, true, nil
	}
	if !errors.Is(err, ErrConditionFailed) {
		return nil, false, err
	}
	zap.S().Debugf("ℹ️ Match %s already exists, nothing to create", match.MatchID)
	existing, err := s.GetMatch(ctx, match.MatchID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *DynamoStore) GetMatch(ctx context.Context, matchID string) (*models.Match, error) {
	item, err := s.Dynamo.GetItem(ctx, s.Tables.Matches, utils.StringKey("PK", matchPK(matchID)))
	if err != nil {
		return nil, err
	}
	var match models.Match
	if err := attributevalue.UnmarshalMap(item, &match); err != nil {
		return nil, fmt.Errorf("failed to unmarshal match: %w", err)
	}
	return &match, nil
}

func (s *DynamoStore) GetMatchByConversation(ctx context.Context, conversationID string) (*models.Match, error) {
	items, err := s.Dynamo.QueryItemsWithIndex(ctx, s.Tables.Matches, models.MatchConversationIndex,
		"conversationId = :conversationId",
		map[string]types.AttributeValue{":conversationId": &types.AttributeValueMemberS{Value: conversationID}},
		nil, 1)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNotFound
	}
	var match models.Match
	if err := attributevalue.UnmarshalMap(items[0], &match); err != nil {
		return nil, fmt.Errorf("failed to unmarshal match: %w", err)
	}
	return &match, nil
}

// ListMatches queries both user GSIs, since the user may sit on either side of the sorted pair.
func (s *DynamoStore) ListMatches(ctx context.Context, userID string) ([]models.Match, error) {
	values := map[string]types.AttributeValue{":userId": &types.AttributeValueMemberS{Value: userID}}

	matches := []models.Match{}
	for index, attr := range map[string]string{models.MatchUserAIndex: "userAId", models.MatchUserBIndex: "userBId"} {
		items, err := s.Dynamo.QueryItemsWithIndex(ctx, s.Tables.Matches, index, attr+" = :userId", values, nil, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch matches: %w", err)
		}
		for _, item := range items {
			var match models.Match
			if err := attributevalue.UnmarshalMap(item, &match); err != nil {
				zap.S().Warnf("⚠️ Skipping unreadable match from %s: %v", index, err)
				continue
			}
			matches = append(matches, match)
		}
	}
	return matches, nil
}

func messageKey(conversationID, messageID string) map[string]types.AttributeValue {
	return utils.StringKey("conversationId", conversationID, "messageId", messageID)
}

func (s *DynamoStore) SaveMessage(ctx context.Context, message models.Message) error {
	message.CreatedAtKey = utils.SortableTime(message.CreatedAt)
	return s.Dynamo.PutItemWithCondition(ctx, s.Tables.Messages, message, "attribute_not_exists(messageId)", nil, nil)
}

// ListMessages fetches the latest messages first and reverses them, so the
// caller gets them oldest first.
func (s *DynamoStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	items, err := s.Dynamo.QueryItemsWithOptions(ctx, s.Tables.Messages, models.MessageCreatedAtIndex,
		"#conversationId = :conversationId",
		map[string]types.AttributeValue{":conversationId": &types.AttributeValueMemberS{Value: conversationID}},
		map[string]string{"#conversationId": "conversationId"},
		int32(limit), true)
	if err != nil {
		return nil, err
	}

	messages := []models.Message{}
	if err := attributevalue.UnmarshalListOfMaps(items, &messages); err != nil {
		return nil, fmt.Errorf("failed to parse messages: %w", err)
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (s *DynamoStore) GetMessage(ctx context.Context, conversationID, messageID string) (*models.Message, error) {
	item, err := s.Dynamo.GetItem(ctx, s.Tables.Messages, messageKey(conversationID, messageID))
	if err != nil {
		return nil, err
	}
	var message models.Message
	if err := attributevalue.UnmarshalMap(item, &message); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return &message, nil
}

func (s *DynamoStore) MarkDelivered(ctx context.Context, conversationID, messageID string) (*models.Message, error) {
	attrs, err := s.Dynamo.UpdateItem(ctx, s.Tables.Messages,
		"SET isDelivered = :true",
		"attribute_exists(messageId)",
		messageKey(conversationID, messageID),
		map[string]types.AttributeValue{":true": &types.AttributeValueMemberBOOL{Value: true}},
		nil)
	if errors.Is(err, ErrConditionFailed) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var message models.Message
	if err := attributevalue.UnmarshalMap(attrs, &message); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return &message, nil
}

// MarkRead only writes readAt when it is absent, so a read receipt never moves.
func (s *DynamoStore) MarkRead(ctx context.Context, conversationID, messageID string, at time.Time) (*models.Message, error) {
	readAt, err := attributevalue.Marshal(at.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal readAt: %w", err)
	}
	attrs, err := s.Dynamo.UpdateItem(ctx, s.Tables.Messages,
		"SET readAt = :readAt",
		"attribute_exists(messageId) AND attribute_not_exists(readAt)",
		messageKey(conversationID, messageID),
		map[string]types.AttributeValue{":readAt": readAt},
		nil)
	if errors.Is(err, ErrConditionFailed) {
		// either already read or missing; the stored copy tells which
		return s.GetMessage(ctx, conversationID, messageID)
	}
	if err != nil {
		return nil, err
	}
	var message models.Message
	if err := attributevalue.UnmarshalMap(attrs, &message); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return &message, nil
}

// MarkConversationRead marks only the messages received by userID as read.
func (s *DynamoStore) MarkConversationRead(ctx context.Context, conversationID, userID string, at time.Time) ([]models.Message, error) {
	items, err := s.Dynamo.QueryItems(ctx, s.Tables.Messages,
		"conversationId = :conversationId",
		map[string]types.AttributeValue{":conversationId": &types.AttributeValueMemberS{Value: conversationID}},
		nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	changed := []models.Message{}
	for _, item := range items {
		var message models.Message
		if err := attributevalue.UnmarshalMap(item, &message); err != nil {
			zap.S().Warnf("⚠️ Warning: Failed to parse message: %v", err)
			continue
		}
		if message.ToUserID != userID || message.ReadAt != nil {
			continue
		}
		updated, err := s.MarkRead(ctx, conversationID, message.MessageID, at)
		if err != nil {
			return changed, fmt.Errorf("failed to mark message %s as read: %w", message.MessageID, err)
		}
		changed = append(changed, *updated)
	}
	return changed, nil
}
