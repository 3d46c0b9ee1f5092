// Package users registers and authenticates chat users.
package users

import (
	"context"
	"errors"
	"net/mail"
	"regexp"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/Kritesh10/real-time-chat-app/internal/chaterr"
	"github.com/Kritesh10/real-time-chat-app/internal/models"
)

// DefaultBcryptCost is the bcrypt cost used for new password hashes.
const DefaultBcryptCost = 12

const (
	maxEmailLength     = 100
	maxAvatarURLLength = 255
	minPasswordLength  = 6
)

var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9]{3,50}$`)

// Store is the persistence the service needs.
type Store interface {
	CreateUser(ctx context.Context, user models.NewUser) (models.User, error)
	GetUserByUsername(ctx context.Context, username string) (models.User, error)
}

// Registration is the input of CreateUser.
type Registration struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	AvatarURL string `json:"avatarUrl"`
}

// Service validates and hashes credentials before they reach the store.
type Service struct {
	store Store
	cost  int
}

// Option configures a Service.
type Option func(*Service)

// WithBcryptCost overrides DefaultBcryptCost.
func WithBcryptCost(cost int) Option {
	return func(s *Service) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			s.cost = cost
		}
	}
}

// NewService returns a Service writing to store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, cost: DefaultBcryptCost}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateUser validates reg, hashes its password and stores the user. A taken
// username or email is a Conflict error.
func (s *Service) CreateUser(ctx context.Context, reg Registration) (models.User, error) {
	in, err := validate(reg)
	if err != nil {
		return models.User{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), s.cost)
	if err != nil {
		return models.User{}, chaterr.Persistence("hash password", err)
	}
	in.PasswordHash = string(hash)

	return s.store.CreateUser(ctx, in)
}

// Authenticate returns the user named username if password matches.
func (s *Service) Authenticate(ctx context.Context, username, password string) (models.User, error) {
	u, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if chaterr.IsKind(err, chaterr.KindNotFound) {
			return models.User{}, chaterr.Authorization("authenticate", "invalid username or password")
		}
		return models.User{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return models.User{}, chaterr.Authorization("authenticate", "invalid username or password")
		}
		return models.User{}, chaterr.Persistence("authenticate", err)
	}
	return u, nil
}

func validate(reg Registration) (models.NewUser, error) {
	username := strings.TrimSpace(reg.Username)
	if !usernameRegex.MatchString(username) {
		return models.NewUser{}, chaterr.Validation("create user", "username must be 3-50 letters or digits")
	}

	email := strings.TrimSpace(reg.Email)
	if email == "" || len(email) > maxEmailLength {
		return models.NewUser{}, chaterr.Validation("create user", "a valid email is required")
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return models.NewUser{}, chaterr.Validation("create user", "a valid email is required")
	}

	if len(reg.Password) < minPasswordLength {
		return models.NewUser{}, chaterr.Validation("create user", "password must be at least 6 characters")
	}
	// bcrypt ignores everything past 72 bytes.
	if len(reg.Password) > 72 {
		return models.NewUser{}, chaterr.Validation("create user", "password must be at most 72 bytes")
	}

	avatar := strings.TrimSpace(reg.AvatarURL)
	if len(avatar) > maxAvatarURLLength {
		return models.NewUser{}, chaterr.Validation("create user", "avatarUrl must be at most 255 characters")
	}

	return models.NewUser{Username: username, Email: email, AvatarURL: avatar}, nil
}
