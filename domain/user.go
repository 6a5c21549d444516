package domain

import (
	"strings"
	"time"
)

// User is the identity resolved by the identity provider.
type User struct {
	ID          string
	Email       string
	DisplayName string
	Role        string
	Subjects    []string
	CreatedAt   time.Time
	LastLoginAt time.Time
}

// Name returns the display name, or the local part of the e-mail address.
func (u User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	local, _, _ := strings.Cut(u.Email, "@")
	return local
}
