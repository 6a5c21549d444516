// Package domain contains core concepts of the chat system.
// This file defines Message, the immutable unit published on a channel.
package domain

import (
	"time"

	"github.com/samber/lo"
)

// ChannelID identifies a chat channel. Zero is the default channel.
type ChannelID int

// Message represents an immutable chat message.
// ID and Timestamp are always assigned by the store, never by the client.
type Message struct {
	ID            string
	Body          string
	PublisherName string
	UserID        *string // nil when published while signed out
	ChannelID     ChannelID
	Tags          []string
	ImageURL      *string
	Timestamp     time.Time
}

// HasAllTags reports whether every tag in tags is carried by the message.
func (m Message) HasAllTags(tags []string) bool {
	return lo.Every(m.Tags, tags)
}

// HasAnyTag reports whether at least one tag in tags is carried by the message.
func (m Message) HasAnyTag(tags []string) bool {
	return lo.Some(m.Tags, tags)
}
