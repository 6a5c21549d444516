// Package seed reads demo data files and turns them into store documents.
package seed

import (
	"chat-app/auth"
	"chat-app/domain"
	"chat-app/repositories"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Timestamp is the exported document form {seconds, nanoseconds}.
type Timestamp struct {
	Seconds     int64 `json:"seconds" yaml:"seconds"`
	Nanoseconds int64 `json:"nanoseconds" yaml:"nanoseconds"`
}

// Time keeps millisecond precision, like the documents it comes from.
func (t *Timestamp) Time() time.Time {
	if t == nil || t.Seconds == 0 {
		return time.Time{}
	}
	return time.UnixMilli(t.Seconds*1000 + t.Nanoseconds/int64(time.Millisecond)).UTC()
}

type Message struct {
	Text      string     `json:"text" yaml:"text" validate:"required"`
	Name      string     `json:"name" yaml:"name"`
	UserID    *string    `json:"userId" yaml:"userId"`
	ChannelID int        `json:"channelID" yaml:"channelID" validate:"min=0"`
	Tags      []string   `json:"tags" yaml:"tags" validate:"dive,required"`
	ImageURL  *string    `json:"imageUrl" yaml:"imageUrl" validate:"omitempty,url"`
	Timestamp *Timestamp `json:"timestamp" yaml:"timestamp"`
}

type User struct {
	Name        string     `json:"name" yaml:"name"`
	Email       string     `json:"email" yaml:"email" validate:"required,email"`
	Role        string     `json:"role" yaml:"role"`
	Subjects    []string   `json:"subjects" yaml:"subjects"`
	Password    string     `json:"password" yaml:"password"`
	CreatedAt   *Timestamp `json:"createdAt" yaml:"createdAt"`
	LastLoginAt *Timestamp `json:"lastLoginAt" yaml:"lastLoginAt"`
}

// MessagesFile is {"messages": {id: message}}.
type MessagesFile struct {
	Messages map[string]Message `json:"messages" yaml:"messages"`
}

// UsersFile is {"users": {id: user}}.
type UsersFile struct {
	Users map[string]User `json:"users" yaml:"users"`
}

// LoadMessages parses a JSON or YAML file, chosen by extension.
func LoadMessages(path string) (MessagesFile, error) {
	var file MessagesFile
	if err := load(path, &file); err != nil {
		return MessagesFile{}, err
	}
	for id, message := range file.Messages {
		if err := validate.Struct(message); err != nil {
			return MessagesFile{}, fmt.Errorf("message %s: %w", id, err)
		}
	}
	return file, nil
}

func LoadUsers(path string) (UsersFile, error) {
	var file UsersFile
	if err := load(path, &file); err != nil {
		return UsersFile{}, err
	}
	for id, user := range file.Users {
		if err := validate.Struct(user); err != nil {
			return UsersFile{}, fmt.Errorf("user %s: %w", id, err)
		}
	}
	return file, nil
}

func load(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, v)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, v)
	default:
		return fmt.Errorf("unsupported seed format %q, want .json, .yaml or .yml", filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// ToMessages keeps the document ids and sorts by timestamp then id.
func (f MessagesFile) ToMessages() []domain.Message {
	messages := lo.MapToSlice(f.Messages, func(id string, m Message) domain.Message {
		tags := m.Tags
		if tags == nil {
			tags = []string{}
		}
		return domain.Message{
			ID:            id,
			Body:          m.Text,
			PublisherName: m.Name,
			UserID:        m.UserID,
			ChannelID:     domain.ChannelID(m.ChannelID),
			Tags:          tags,
			ImageURL:      m.ImageURL,
			Timestamp:     m.Timestamp.Time(),
		}
	})
	sort.SliceStable(messages, func(i, j int) bool {
		if messages[i].Timestamp.Equal(messages[j].Timestamp) {
			return messages[i].ID < messages[j].ID
		}
		return messages[i].Timestamp.Before(messages[j].Timestamp)
	})
	return messages
}

// ToUsers hashes seed passwords. Users without one cannot sign in.
func (f UsersFile) ToUsers() ([]repositories.User, error) {
	users := make([]repositories.User, 0, len(f.Users))
	for _, id := range lo.Keys(f.Users) {
		u := f.Users[id]
		user := repositories.User{
			ID:          id,
			Email:       u.Email,
			DisplayName: u.Name,
			Role:        lo.CoalesceOrEmpty(u.Role, "user"),
			Subjects:    u.Subjects,
			CreatedAt:   u.CreatedAt.Time(),
			LastLoginAt: u.LastLoginAt.Time(),
		}
		if u.Password != "" {
			hash, err := auth.HashPassword(u.Password)
			if err != nil {
				return nil, fmt.Errorf("hashing password of %s: %w", id, err)
			}
			user.PasswordHash = hash
		}
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}
