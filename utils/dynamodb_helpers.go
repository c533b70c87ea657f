package utils

import (
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ExtractString safely extracts a string from a DynamoDB attribute map
func ExtractString(item map[string]types.AttributeValue, field string) string {
	if attr, ok := item[field]; ok {
		if v, ok := attr.(*types.AttributeValueMemberS); ok {
			return v.Value
		}
	}
	return ""
}

// StringKey builds a key map from name/value pairs: StringKey("PK", pk, "SK", sk).
// A trailing name without a value is ignored.
func StringKey(pairs ...string) map[string]types.AttributeValue {
	key := make(map[string]types.AttributeValue, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		key[pairs[i]] = &types.AttributeValueMemberS{Value: pairs[i+1]}
	}
	return key
}

// sortableLayout is RFC3339 with a fixed nine-digit fraction, so the text order
// of two keys matches their time order.
const sortableLayout = "2006-01-02T15:04:05.000000000Z"

// SortableTime formats t in UTC for use in a sort key.
func SortableTime(t time.Time) string {
	return t.UTC().Format(sortableLayout)
}
