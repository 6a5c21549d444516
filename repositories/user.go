//go:generate go run go.uber.org/mock/mockgen -source=user.go -destination=../mocks/mock_user_repository.go -package=mocks
package repositories

import (
	"chat-app/domain"
	"chat-app/errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	userPrefix   = "user:"
	userIDPrefix = "user-id:"
)

type IUserRepository interface {
	CreateUser(user User) (string, error)
	GetUserByEmail(email string) (User, error)
	GetUserByID(id string) (User, error)
	TouchLogin(email string, at time.Time) error
	ReplaceAll(users []User) error
}

type UserRepository struct {
	db *badger.DB
}

func NewUserRepository(db *badger.DB) IUserRepository {
	return &UserRepository{db: db}
}

// User is the repository representation of an account.
type User struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	Role         string
	Subjects     []string
	CreatedAt    time.Time
	LastLoginAt  time.Time
}

func (u User) ToDomain() domain.User {
	return domain.User{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Role:        u.Role,
		Subjects:    u.Subjects,
		CreatedAt:   u.CreatedAt,
		LastLoginAt: u.LastLoginAt,
	}
}

// CreateUser persists the user keyed by e-mail and returns the newly generated ID.
func (u UserRepository) CreateUser(user User) (string, error) {
	user.ID = uuid.New().String()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	if user.Role == "" {
		user.Role = "user"
	}

	data, err := encodeUser(user)
	if err != nil {
		return "", fmt.Errorf("marshal failed: %w", err)
	}

	err = u.db.Update(func(txn *badger.Txn) error {
		key := []byte(userPrefix + user.Email)
		if _, err = txn.Get(key); err == nil {
			return errors.ErrUserAlreadyExists
		}
		if err = txn.Set([]byte(userIDPrefix+user.ID), []byte(user.Email)); err != nil {
			return err
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return "", err
	}
	return user.ID, nil
}

// GetUserByEmail returns badger.ErrKeyNotFound when the user does not exist.
func (u UserRepository) GetUserByEmail(email string) (User, error) {
	var user User
	err := u.db.View(func(txn *badger.Txn) error {
		var err error
		user, err = getUser(txn, email)
		return err
	})
	return user, err
}

func (u UserRepository) GetUserByID(id string) (User, error) {
	var user User
	err := u.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(userIDPrefix + id))
		if err != nil {
			return err
		}
		email, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		user, err = getUser(txn, string(email))
		return err
	})
	return user, err
}

func (u UserRepository) TouchLogin(email string, at time.Time) error {
	return u.db.Update(func(txn *badger.Txn) error {
		user, err := getUser(txn, email)
		if err != nil {
			return err
		}
		user.LastLoginAt = at.UTC()
		data, err := encodeUser(user)
		if err != nil {
			return err
		}
		return txn.Set([]byte(userPrefix+email), data)
	})
}

// ReplaceAll drops every account and writes users as given, keeping their IDs.
func (u UserRepository) ReplaceAll(users []User) error {
	if err := u.db.DropPrefix([]byte(userPrefix), []byte(userIDPrefix)); err != nil {
		return fmt.Errorf("dropping users: %w", err)
	}
	wb := u.db.NewWriteBatch()
	defer wb.Cancel()

	for _, user := range users {
		if user.ID == "" {
			user.ID = uuid.New().String()
		}
		data, err := encodeUser(user)
		if err != nil {
			return err
		}
		if err = wb.Set([]byte(userPrefix+user.Email), data); err != nil {
			return err
		}
		if err = wb.Set([]byte(userIDPrefix+user.ID), []byte(user.Email)); err != nil {
			return err
		}
	}
	return wb.Flush()
}

func getUser(txn *badger.Txn, email string) (User, error) {
	item, err := txn.Get([]byte(userPrefix + email))
	if err != nil {
		return User{}, err
	}
	var user User
	err = item.Value(func(val []byte) error {
		user, err = decodeUser(val)
		return err
	})
	return user, err
}

func encodeUser(user User) ([]byte, error) {
	st, err := structpb.NewStruct(map[string]any{
		"id":           user.ID,
		"email":        user.Email,
		"name":         user.DisplayName,
		"passwordHash": user.PasswordHash,
		"role":         user.Role,
		"subjects":     lo.ToAnySlice(user.Subjects),
		"createdAt":    user.CreatedAt.UTC().Format(time.RFC3339Nano),
		"lastLoginAt":  user.LastLoginAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, err
	}
	return proto.Marshal(st)
}

func decodeUser(data []byte) (User, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return User{}, err
	}
	fields := st.GetFields()
	createdAt, _ := time.Parse(time.RFC3339Nano, fields["createdAt"].GetStringValue())
	lastLoginAt, _ := time.Parse(time.RFC3339Nano, fields["lastLoginAt"].GetStringValue())
	subjects := lo.Map(fields["subjects"].GetListValue().GetValues(), func(v *structpb.Value, _ int) string {
		return v.GetStringValue()
	})
	return User{
		ID:           fields["id"].GetStringValue(),
		Email:        fields["email"].GetStringValue(),
		DisplayName:  fields["name"].GetStringValue(),
		PasswordHash: fields["passwordHash"].GetStringValue(),
		Role:         fields["role"].GetStringValue(),
		Subjects:     subjects,
		CreatedAt:    createdAt.UTC(),
		LastLoginAt:  lastLoginAt.UTC(),
	}, nil
}
