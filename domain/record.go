package domain

import (
	"fmt"
	"time"
)

// Persisted field names of a message document.
const (
	FieldText      = "text"
	FieldName      = "name"
	FieldUserID    = "userId"
	FieldChannelID = "channelID"
	FieldTags      = "tags"
	FieldImageURL  = "imageUrl"
	FieldTimestamp = "timestamp"
)

// Record is the persisted form of a message.
// Optional values are absent keys, never nil values.
type Record map[string]any

// PublishCommand carries what a client supplies when publishing.
type PublishCommand struct {
	Body          string
	PublisherName string
	ImageURL      *string
	Tags          []string
	ChannelID     ChannelID
}

// NewRecord builds the record to insert for cmd. The timestamp is left to the store.
func NewRecord(cmd PublishCommand, userID *string) Record {
	tags := cmd.Tags
	if tags == nil {
		tags = []string{}
	}
	record := Record{
		FieldText:      cmd.Body,
		FieldName:      cmd.PublisherName,
		FieldChannelID: int(cmd.ChannelID),
		FieldTags:      tags,
	}
	if userID != nil {
		record[FieldUserID] = *userID
	}
	if cmd.ImageURL != nil && *cmd.ImageURL != "" {
		record[FieldImageURL] = *cmd.ImageURL
	}
	return record
}

// RecordFromMessage is used when a message already owns its timestamp (imports).
func RecordFromMessage(m Message) Record {
	record := NewRecord(PublishCommand{
		Body:          m.Body,
		PublisherName: m.PublisherName,
		ImageURL:      m.ImageURL,
		Tags:          m.Tags,
		ChannelID:     m.ChannelID,
	}, m.UserID)
	if !m.Timestamp.IsZero() {
		record[FieldTimestamp] = m.Timestamp
	}
	return record
}

// Has reports whether the key is present in the record.
func (r Record) Has(key string) bool {
	_, ok := r[key]
	return ok
}

// Timestamp returns the record timestamp if one was set.
func (r Record) Timestamp() (time.Time, bool) {
	at, ok := r[FieldTimestamp].(time.Time)
	return at, ok
}

// Message converts a stored record into a Message carrying the given id.
func (r Record) Message(id string) (Message, error) {
	body, ok := r[FieldText].(string)
	if !ok {
		return Message{}, fmt.Errorf("record %s: field %q is not a string", id, FieldText)
	}
	name, _ := r[FieldName].(string)
	channel, err := toInt(r[FieldChannelID])
	if err != nil {
		return Message{}, fmt.Errorf("record %s: %w", id, err)
	}
	message := Message{
		ID:            id,
		Body:          body,
		PublisherName: name,
		ChannelID:     ChannelID(channel),
		Tags:          toStrings(r[FieldTags]),
	}
	if userID, ok := r[FieldUserID].(string); ok {
		message.UserID = &userID
	}
	if imageURL, ok := r[FieldImageURL].(string); ok {
		message.ImageURL = &imageURL
	}
	if at, ok := r.Timestamp(); ok {
		message.Timestamp = at
	}
	return message, nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("field %q has unexpected type %T", FieldChannelID, v)
	}
}

func toStrings(v any) []string {
	switch values := v.(type) {
	case []string:
		return values
	case []any:
		out := make([]string, 0, len(values))
		for _, value := range values {
			if s, ok := value.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return []string{}
	}
}
