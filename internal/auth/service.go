// Package auth registers users and issues session tokens. Registration
// creates the user and their zero-balance account in one transaction, so an
// account always exists exactly once per user.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
)

const bcryptCost = 12

// User is a registered user record.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
}

// UserStore persists users. CreateUser must insert the user and their
// zero-balance account atomically and return ErrEmailTaken on a duplicate.
type UserStore interface {
	CreateUser(ctx context.Context, email, passwordHash string) error
	UserByEmail(ctx context.Context, email string) (*User, error)
}

// SessionClaims are the JWT claims carried by a login token.
type SessionClaims struct {
	jwt.RegisteredClaims
	UserID int64  `json:"uid"`
	Email  string `json:"email"`
}

// Service handles registration and login.
type Service struct {
	Store    UserStore
	Keys     *KeySet
	Issuer   string
	TokenTTL time.Duration
}

// Register hashes the password and creates the user with their account.
func (s *Service) Register(ctx context.Context, email, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	return s.Store.CreateUser(ctx, email, string(hash))
}

// Login verifies credentials and returns a signed session token. A missing
// user and a wrong password are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	user, err := s.Store.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", fmt.Errorf("failed to look up user: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return "", ErrInvalidCredentials
	}

	now := time.Now()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.Issuer,
			Subject:   fmt.Sprintf("%d", user.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.TokenTTL)),
		},
		UserID: user.ID,
		Email:  user.Email,
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = s.Keys.KeyID()

	signed, err := tok.SignedString(s.Keys.PrivateKey())
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
