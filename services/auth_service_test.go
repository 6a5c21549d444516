package services

import (
	"chat-app/auth"
	"chat-app/domain"
	"chat-app/errors"
	"chat-app/mocks"
	"chat-app/repositories"
	"log/slog"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var testIssuer = auth.NewTokenIssuer("test-secret", time.Hour)

func newAuthService(t *testing.T) (*AuthService, *mocks.MockIUserRepository) {
	ctrl := gomock.NewController(t)
	mockRepo := mocks.NewMockIUserRepository(ctrl)
	return NewAuthService(logs.GetLoggerFromLevel(slog.LevelDebug), mockRepo, testIssuer), mockRepo
}

func TestAuthService_Register(t *testing.T) {
	t.Run("should register successfully when input is valid", func(t *testing.T) {
		req := require.New(t)
		svc, mockRepo := newAuthService(t)
		email := "test@example.com"
		password := "ComplexPass123!"

		// Expect CreateUser to receive a hash, never the plain password
		mockRepo.EXPECT().
			CreateUser(gomock.Any()).
			DoAndReturn(func(user repositories.User) (string, error) {
				req.Equal(email, user.Email)
				req.NotEqual(password, user.PasswordHash)
				return "user-uuid", nil
			}).
			Times(1)

		token, err := svc.Register(email, password, "Tester")

		req.NoError(err)
		req.NotEmpty(token)
		req.True(svc.IsAuthenticated())
		req.Equal("user-uuid", svc.GetCurrentUser().ID)
		req.Equal("Tester", svc.GetUserName())

		claims, err := testIssuer.Validate(token.String())
		req.NoError(err)
		req.Equal("user-uuid", claims.UserID)
		req.Equal("user", claims.Role)
	})

	t.Run("should fail when password complexity is not met", func(t *testing.T) {
		req := require.New(t)
		svc, mockRepo := newAuthService(t)

		// Repository should never be called
		mockRepo.EXPECT().CreateUser(gomock.Any()).Times(0)

		token, err := svc.Register("test@example.com", "simple", "")

		req.ErrorIs(err, errors.ErrInvalidPassword)
		req.Empty(token)
		req.False(svc.IsAuthenticated())
	})

	t.Run("should fail when user already exists in repository", func(t *testing.T) {
		req := require.New(t)
		svc, mockRepo := newAuthService(t)

		mockRepo.EXPECT().
			CreateUser(gomock.Any()).
			Return("", errors.ErrUserAlreadyExists).
			Times(1)

		_, err := svc.Register("duplicate@example.com", "ComplexPass123!", "")

		req.ErrorIs(err, errors.ErrUserAlreadyExists)
		req.Nil(svc.GetCurrentUser())
	})
}

func TestAuthService_Login(t *testing.T) {
	t.Run("should login successfully with correct credentials", func(t *testing.T) {
		req := require.New(t)
		svc, mockRepo := newAuthService(t)
		email := "hanako@example.com"
		password := "Secret123456!"

		hashedPassword, err := auth.HashPassword(password)
		req.NoError(err)
		storedUser := repositories.User{
			ID:           "uuid-123",
			Email:        email,
			PasswordHash: hashedPassword,
			Role:         "manager",
		}
		mockRepo.EXPECT().GetUserByEmail(email).Return(storedUser, nil).Times(1)
		mockRepo.EXPECT().TouchLogin(email, gomock.Any()).Return(nil).Times(1)

		token, err := svc.Login(email, password)

		req.NoError(err)
		claims, err := testIssuer.Validate(string(token))
		req.NoError(err)
		req.Equal(storedUser.ID, claims.UserID)
		req.Equal("manager", claims.Role)

		// Then the user name falls back on the e-mail local part
		req.Equal("hanako", svc.GetUserName())
		req.False(svc.GetCurrentUser().LastLoginAt.IsZero())
	})

	t.Run("should still sign in when last login cannot be recorded", func(t *testing.T) {
		req := require.New(t)
		svc, mockRepo := newAuthService(t)
		hashedPassword, err := auth.HashPassword("Secret123456!")
		req.NoError(err)

		mockRepo.EXPECT().GetUserByEmail(gomock.Any()).
			Return(repositories.User{ID: "id", Email: "a@example.com", PasswordHash: hashedPassword}, nil)
		mockRepo.EXPECT().TouchLogin(gomock.Any(), gomock.Any()).Return(badger.ErrConflict)

		_, err = svc.Login("a@example.com", "Secret123456!")

		req.NoError(err)
		req.True(svc.IsAuthenticated())
	})

	t.Run("should return invalid credentials when password matches nothing", func(t *testing.T) {
		req := require.New(t)
		svc, mockRepo := newAuthService(t)
		hashedPassword, err := auth.HashPassword("CorrectPassword123!")
		req.NoError(err)

		mockRepo.EXPECT().
			GetUserByEmail("user@example.com").
			Return(repositories.User{Email: "user@example.com", PasswordHash: hashedPassword}, nil).
			Times(1)
		mockRepo.EXPECT().TouchLogin(gomock.Any(), gomock.Any()).Times(0)

		_, err = svc.Login("user@example.com", "WrongPassword123!")

		req.ErrorIs(err, errors.ErrInvalidCredentials)
		req.False(svc.IsAuthenticated())
	})

	t.Run("should return invalid credentials when user is not found", func(t *testing.T) {
		req := require.New(t)
		svc, mockRepo := newAuthService(t)

		mockRepo.EXPECT().
			GetUserByEmail("unknown@example.com").
			Return(repositories.User{}, badger.ErrKeyNotFound).
			Times(1)

		_, err := svc.Login("unknown@example.com", "anyPassword")

		req.ErrorIs(err, errors.ErrInvalidCredentials)
	})
}

func TestAuthService_SignInWithToken(t *testing.T) {
	req := require.New(t)
	svc, mockRepo := newAuthService(t)
	token, err := testIssuer.Generate("uuid-42", "user")
	req.NoError(err)

	// Given a known user behind the token
	mockRepo.EXPECT().GetUserByID("uuid-42").
		Return(repositories.User{ID: "uuid-42", Email: "jiro@example.com", DisplayName: "Jiro"}, nil)

	// When restoring the session
	req.NoError(svc.SignInWithToken(token))

	// Then the session is signed in
	req.Equal("Jiro", svc.GetUserName())

	// And a token for an unknown user is refused
	unknown, err := testIssuer.Generate("ghost", "user")
	req.NoError(err)
	mockRepo.EXPECT().GetUserByID("ghost").Return(repositories.User{}, badger.ErrKeyNotFound)
	req.ErrorIs(svc.SignInWithToken(unknown), errors.ErrInvalidToken)

	// And garbage never reaches the repository
	req.ErrorIs(svc.SignInWithToken("not-a-jwt"), errors.ErrInvalidToken)
}

func TestAuthService_Listeners(t *testing.T) {
	req := require.New(t)
	svc, mockRepo := newAuthService(t)
	token, err := testIssuer.Generate("uuid-1", "user")
	req.NoError(err)
	mockRepo.EXPECT().GetUserByID("uuid-1").
		Return(repositories.User{ID: "uuid-1", Email: "mika@example.com"}, nil).
		Times(2)

	var seen []*domain.User
	unsubscribe := svc.OnAuthStateChange(func(user *domain.User) {
		seen = append(seen, user)
	})

	// When signing in then out
	req.NoError(svc.SignInWithToken(token))
	svc.SignOut()

	// Then the listener saw both transitions
	req.Len(seen, 2)
	req.Equal("uuid-1", seen[0].ID)
	req.Nil(seen[1])
	req.Empty(svc.GetUserName())

	// And nothing after unsubscribing
	unsubscribe()
	req.NoError(svc.SignInWithToken(token))
	req.Len(seen, 2)
}
