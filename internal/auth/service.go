package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"papertrade/internal/model"
	"papertrade/internal/store"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidInput       = errors.New("invalid input")
	ErrUserExists         = errors.New("email or username already registered")
)

const minPasswordLen = 8

type Service struct {
	users        store.UserStore
	issuer       string
	secret       []byte
	ttl          time.Duration
	startBalance decimal.Decimal
	now          func() time.Time
}

func NewService(users store.UserStore, issuer string, secret []byte, ttl time.Duration, startBalance decimal.Decimal) *Service {
	return &Service{users: users, issuer: issuer, secret: secret, ttl: ttl, startBalance: startBalance, now: time.Now}
}

func (s *Service) Register(ctx context.Context, email, username, password string) (model.User, error) {
	email = strings.TrimSpace(email)
	username = strings.TrimSpace(username)
	if email == "" || username == "" || password == "" {
		return model.User{}, fmt.Errorf("%w: email, username and password required", ErrInvalidInput)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return model.User{}, fmt.Errorf("%w: invalid email", ErrInvalidInput)
	}
	if strings.Contains(username, "@") {
		return model.User{}, fmt.Errorf("%w: username cannot contain @", ErrInvalidInput)
	}
	if len(password) < minPasswordLen {
		return model.User{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLen)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return model.User{}, err
	}
	u, err := s.users.CreateUser(ctx, model.User{
		ID:           uuid.NewString(),
		Email:        email,
		Username:     username,
		PasswordHash: string(hash),
		Balance:      s.startBalance,
		CreatedAt:    s.now().UTC().Truncate(time.Microsecond),
	})
	if errors.Is(err, store.ErrUserExists) {
		return model.User{}, ErrUserExists
	}
	return u, err
}

// Login accepts either the email or the username.
func (s *Service) Login(ctx context.Context, login, password string) (string, error) {
	u, err := s.authenticate(ctx, login, password)
	if err != nil {
		return "", err
	}
	return s.signToken(u.ID)
}

func (s *Service) authenticate(ctx context.Context, login, password string) (model.User, error) {
	u, err := s.users.UserByLogin(ctx, strings.TrimSpace(login))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.User{}, ErrInvalidCredentials
		}
		return model.User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return model.User{}, ErrInvalidCredentials
	}
	return u, nil
}

func (s *Service) signToken(userID string) (string, error) {
	now := s.now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(s.secret)
}

func (s *Service) ParseToken(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return s.secret, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || !parsed.Valid {
		return "", errors.New("invalid token")
	}
	if claims.Issuer != s.issuer {
		return "", errors.New("invalid issuer")
	}
	if claims.Subject == "" {
		return "", errors.New("invalid subject")
	}
	return claims.Subject, nil
}

func (s *Service) GetUser(ctx context.Context, userID string) (model.User, error) {
	return s.users.UserByID(ctx, userID)
}

// DeleteAccount removes the user with all lots and ledger entries after
// re-checking the password.
func (s *Service) DeleteAccount(ctx context.Context, userID, password string) error {
	u, err := s.users.UserByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return s.users.DeleteUser(ctx, userID)
}
