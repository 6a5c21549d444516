package services

import (
	"chat-app/auth"
	"chat-app/domain"
	"chat-app/errors"
	"chat-app/repositories"
	"chat-app/runtime"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"
)

type IAuthService interface {
	Register(email, password, displayName string) (Token, error)
	Login(email, password string) (Token, error)
	SignInWithToken(token string) error
	SignOut()
	GetCurrentUser() *domain.User
	IsAuthenticated() bool
	GetUserName() string
	OnAuthStateChange(listener AuthStateListener) runtime.Unsubscribe
}

// AuthStateListener receives the new current user, nil after sign-out.
type AuthStateListener func(user *domain.User)

type Token string

func (t Token) String() string {
	return string(t)
}

// AuthService is the identity provider of one session.
// A session starts signed out; every transition notifies the listeners.
type AuthService struct {
	log            *slog.Logger
	userRepository repositories.IUserRepository
	issuer         auth.TokenIssuer
	now            func() time.Time

	mu          sync.RWMutex
	currentUser *domain.User
	listeners   *runtime.Registry[AuthStateListener]
}

func NewAuthService(log *slog.Logger, repo repositories.IUserRepository, issuer auth.TokenIssuer) *AuthService {
	return &AuthService{
		log:            log,
		userRepository: repo,
		issuer:         issuer,
		now:            time.Now,
		listeners:      runtime.NewRegistry[AuthStateListener](),
	}
}

func (s *AuthService) Register(email, password, displayName string) (Token, error) {
	valReq := auth.RegisterRequest{
		Email:       email,
		Password:    password,
		DisplayName: displayName,
	}

	// Validate before any expensive hashing
	if err := auth.ValidateRegister(valReq); err != nil {
		return "", fmt.Errorf("%w: %v", errors.ErrInvalidPassword, err)
	}

	hashedPassword, err := auth.HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hashing failed: %w", err)
	}

	user := repositories.User{
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: hashedPassword,
		CreatedAt:    s.now().UTC(),
	}
	userID, err := s.userRepository.CreateUser(user)
	if err != nil {
		return "", err
	}
	user.ID = userID
	user.Role = "user"

	token, err := s.issuer.Generate(userID, user.Role)
	if err != nil {
		return "", errors.ErrTokenGeneration
	}
	s.setCurrentUser(lo.ToPtr(user.ToDomain()))
	return Token(token), nil
}

func (s *AuthService) Login(email, password string) (Token, error) {
	user, err := s.userRepository.GetUserByEmail(email)
	if err != nil {
		// Same error whatever failed, no user enumeration
		return "", errors.ErrInvalidCredentials
	}

	match, err := auth.ComparePassword(password, user.PasswordHash)
	if err != nil || !match {
		return "", errors.ErrInvalidCredentials
	}

	token, err := s.issuer.Generate(user.ID, user.Role)
	if err != nil {
		return "", errors.ErrTokenGeneration
	}

	loginAt := s.now().UTC()
	if err = s.userRepository.TouchLogin(email, loginAt); err != nil {
		s.log.Warn("Unable to record last login", "error", err)
	} else {
		user.LastLoginAt = loginAt
	}
	s.setCurrentUser(lo.ToPtr(user.ToDomain()))
	return Token(token), nil
}

// SignInWithToken restores a session from a previously issued token.
func (s *AuthService) SignInWithToken(token string) error {
	claims, err := s.issuer.Validate(token)
	if err != nil {
		return err
	}
	user, err := s.userRepository.GetUserByID(claims.UserID)
	if err != nil {
		return fmt.Errorf("%w: unknown user %s", errors.ErrInvalidToken, claims.UserID)
	}
	s.setCurrentUser(lo.ToPtr(user.ToDomain()))
	return nil
}

func (s *AuthService) SignOut() {
	s.setCurrentUser(nil)
}

func (s *AuthService) GetCurrentUser() *domain.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentUser
}

func (s *AuthService) IsAuthenticated() bool {
	return s.GetCurrentUser() != nil
}

// GetUserName returns the display name, or the e-mail local part, empty when signed out.
func (s *AuthService) GetUserName() string {
	user := s.GetCurrentUser()
	if user == nil {
		return ""
	}
	return user.Name()
}

func (s *AuthService) OnAuthStateChange(listener AuthStateListener) runtime.Unsubscribe {
	return s.listeners.Add(listener)
}

func (s *AuthService) setCurrentUser(user *domain.User) {
	s.mu.Lock()
	s.currentUser = user
	s.mu.Unlock()

	for _, listener := range s.listeners.Snapshot() {
		listener(user)
	}
}
