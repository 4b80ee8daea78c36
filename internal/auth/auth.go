// Package auth issues and verifies credential tokens and guards HTTP
// routes by role.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"github.com/jensholdgaard/auctionhub/internal/clock"
	"github.com/jensholdgaard/auctionhub/internal/config"
	"github.com/jensholdgaard/auctionhub/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("user already exists")
	ErrInvalidRole        = errors.New("invalid role")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")
)

// Identity is the verified principal behind a request or connection.
type Identity struct {
	ID    string     `json:"id"`
	Role  store.Role `json:"role"`
	Email string     `json:"email"`
}

type claims struct {
	Role  store.Role `json:"role"`
	Email string     `json:"email"`
	jwt.RegisteredClaims
}

// SignupInput holds the fields needed to register an account.
type SignupInput struct {
	Username string
	Email    string
	Password string
	Role     store.Role
}

// Service registers users and manages their tokens.
type Service struct {
	users  store.UserRepository
	secret []byte
	ttl    time.Duration
	cost   int
	clock  clock.Clock
	logger *slog.Logger
	tracer trace.Tracer
}

// NewService returns a credential Service.
func NewService(users store.UserRepository, cfg config.AuthConfig, clk clock.Clock, logger *slog.Logger, tp trace.TracerProvider) *Service {
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Service{
		users:  users,
		secret: []byte(cfg.JWTSecret),
		ttl:    cfg.TokenTTL,
		cost:   cost,
		clock:  clk,
		logger: logger,
		tracer: tp.Tracer("github.com/jensholdgaard/auctionhub/internal/auth"),
	}
}

// Signup creates an account and returns it with a fresh token. Only buyer
// and seller accounts can be self-registered; the role defaults to buyer.
func (s *Service) Signup(ctx context.Context, in SignupInput) (*store.User, string, error) {
	ctx, span := s.tracer.Start(ctx, "Service.Signup",
		trace.WithAttributes(attribute.String("role", string(in.Role))),
	)
	defer span.End()

	if in.Role == "" {
		in.Role = store.RoleBuyer
	}
	if in.Role != store.RoleBuyer && in.Role != store.RoleSeller {
		return nil, "", ErrInvalidRole
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return nil, "", fmt.Errorf("hashing password: %w", err)
	}

	u := &store.User{
		Username:     in.Username,
		Email:        strings.TrimSpace(in.Email),
		Role:         in.Role,
		PasswordHash: string(hash),
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, "", ErrEmailTaken
		}
		return nil, "", fmt.Errorf("creating user: %w", err)
	}

	token, err := s.Issue(u)
	if err != nil {
		return nil, "", err
	}

	s.logger.InfoContext(ctx, "user registered",
		slog.String("user_id", u.ID),
		slog.String("role", string(u.Role)),
	)
	return u, token, nil
}

// Login checks a password and returns the user with a fresh token.
func (s *Service) Login(ctx context.Context, email, password string) (*store.User, string, error) {
	ctx, span := s.tracer.Start(ctx, "Service.Login")
	defer span.End()

	u, err := s.users.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", fmt.Errorf("looking up user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, "", ErrInvalidCredentials
	}

	token, err := s.Issue(u)
	if err != nil {
		return nil, "", err
	}
	return u, token, nil
}

// User returns the account behind an identity.
func (s *Service) User(ctx context.Context, id Identity) (*store.User, error) {
	u, err := s.users.GetByID(ctx, id.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("looking up user: %w", err)
	}
	return u, nil
}

// Issue signs an HS256 token for u.
func (s *Service) Issue(u *store.User) (string, error) {
	now := s.clock.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Role:  u.Role,
		Email: u.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Verify parses a token and returns the identity it carries.
func (s *Service) Verify(token string) (Identity, error) {
	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrTokenExpired
		}
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if c.Subject == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{ID: c.Subject, Role: c.Role, Email: c.Email}, nil
}

type identityKey struct{}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity stored by Authenticate.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
