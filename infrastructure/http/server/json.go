package server

import (
	"chat-app/domain"
	"chat-app/errors"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/samber/lo"
)

// messageJSON uses the persisted field names.
type messageJSON struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Name      string    `json:"name"`
	UserID    *string   `json:"userId,omitempty"`
	ChannelID int       `json:"channelID"`
	Tags      []string  `json:"tags"`
	ImageURL  *string   `json:"imageUrl,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func toMessageJSON(m domain.Message) messageJSON {
	tags := m.Tags
	if tags == nil {
		tags = []string{}
	}
	return messageJSON{
		ID:        m.ID,
		Text:      m.Body,
		Name:      m.PublisherName,
		UserID:    m.UserID,
		ChannelID: int(m.ChannelID),
		Tags:      tags,
		ImageURL:  m.ImageURL,
		Timestamp: m.Timestamp,
	}
}

func toMessagesJSON(messages []domain.Message) []messageJSON {
	return lo.Map(messages, func(m domain.Message, _ int) messageJSON {
		return toMessageJSON(m)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// statusFor maps sentinel errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case stderrors.Is(err, errors.ErrInvalidCondition),
		stderrors.Is(err, errors.ErrInvalidPassword):
		return http.StatusBadRequest
	case stderrors.Is(err, errors.ErrInvalidCredentials),
		stderrors.Is(err, errors.ErrInvalidToken):
		return http.StatusUnauthorized
	case stderrors.Is(err, errors.ErrUserAlreadyExists):
		return http.StatusConflict
	case stderrors.Is(err, errors.ErrUnsupportedImage):
		return http.StatusUnsupportedMediaType
	case err == errors.ErrImageUpload:
		// Bare sentinel: the blob store failed
		return http.StatusBadGateway
	case stderrors.Is(err, errors.ErrImageUpload):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
