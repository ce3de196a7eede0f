package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"rollcall/internal/auth"
	"rollcall/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidRole        = errors.New("role must be student, delegate or admin")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrTokenRevoked       = errors.New("token revoked")
)

const minPasswordLen = 8

// User is an account that can sign in.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewUser is the input for CreateUser.
type NewUser struct {
	Email    string
	Name     string
	Role     string
	Password string
}

// ValidRole reports whether role is one of the known roles.
func ValidRole(role string) bool {
	switch role {
	case auth.RoleStudent, auth.RoleDelegate, auth.RoleAdmin:
		return true
	}
	return false
}

// Service handles users and their tokens.
type Service struct {
	db        *sql.DB
	issuer    *auth.Issuer
	blacklist auth.Blacklist
	logger    *zap.Logger
	cost      int
}

// NewService creates an account service.
func NewService(db *sql.DB, issuer *auth.Issuer, blacklist auth.Blacklist, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, issuer: issuer, blacklist: blacklist, logger: logger, cost: bcrypt.DefaultCost}
}

// CreateUser registers a user with a bcrypt-hashed password.
func (s *Service) CreateUser(ctx context.Context, in NewUser) (User, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	name := strings.TrimSpace(in.Name)
	if email == "" || name == "" {
		return User{}, errors.New("email and name are required")
	}
	if !ValidRole(in.Role) {
		return User{}, ErrInvalidRole
	}
	if len(in.Password) < minPasswordLen {
		return User{}, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	u := User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		Role:         in.Role,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, role, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, u.ID, u.Email, u.Name, u.Role, u.PasswordHash, u.CreatedAt)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return User{}, ErrEmailTaken
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	s.logger.Info("user created", zap.String("user_id", u.ID), zap.String("role", u.Role))
	return u, nil
}

// Get returns a user by id.
func (s *Service) Get(ctx context.Context, id string) (User, error) {
	return s.scanOne(s.db.QueryRowContext(ctx, `
		SELECT id, email, name, role, password_hash, created_at FROM users WHERE id = $1
	`, id))
}

func (s *Service) byEmail(ctx context.Context, email string) (User, error) {
	return s.scanOne(s.db.QueryRowContext(ctx, `
		SELECT id, email, name, role, password_hash, created_at FROM users WHERE email = $1
	`, strings.ToLower(strings.TrimSpace(email))))
}

func (s *Service) scanOne(row *sql.Row) (User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.PasswordHash, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}

// Login checks the password and issues a token pair.
func (s *Service) Login(ctx context.Context, email, password string) (auth.TokenPair, User, error) {
	u, err := s.byEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return auth.TokenPair{}, User{}, ErrInvalidCredentials
		}
		return auth.TokenPair{}, User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		s.logger.Info("login failed", zap.String("user_id", u.ID))
		return auth.TokenPair{}, User{}, ErrInvalidCredentials
	}
	tokens, err := s.issuer.Issue(u.ID, u.Role)
	if err != nil {
		return auth.TokenPair{}, User{}, fmt.Errorf("issue tokens: %w", err)
	}
	return tokens, u, nil
}

// Refresh rotates a refresh token. The presented token is revoked.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (auth.TokenPair, error) {
	claims, err := s.issuer.Parse(refreshToken, auth.KindRefresh)
	if err != nil {
		return auth.TokenPair{}, err
	}
	revoked, err := s.blacklist.IsRevoked(ctx, claims.ID)
	if err != nil {
		return auth.TokenPair{}, err
	}
	if revoked {
		return auth.TokenPair{}, ErrTokenRevoked
	}
	u, err := s.Get(ctx, claims.Subject)
	if err != nil {
		return auth.TokenPair{}, err
	}
	if err := s.blacklist.Revoke(ctx, claims.ID, claims.Remaining(time.Now())); err != nil {
		return auth.TokenPair{}, fmt.Errorf("revoke refresh token: %w", err)
	}
	return s.issuer.Issue(u.ID, u.Role)
}

// Logout revokes the access token and, when given, the refresh token.
func (s *Service) Logout(ctx context.Context, access auth.Claims, refreshToken string) error {
	now := time.Now()
	if err := s.blacklist.Revoke(ctx, access.ID, access.Remaining(now)); err != nil {
		return err
	}
	if refreshToken == "" {
		return nil
	}
	refresh, err := s.issuer.Parse(refreshToken, auth.KindRefresh)
	if err != nil {
		// an unusable refresh token needs no revocation
		return nil
	}
	if refresh.Subject != access.Subject {
		return nil
	}
	return s.blacklist.Revoke(ctx, refresh.ID, refresh.Remaining(now))
}

// List returns users, optionally filtered by role.
func (s *Service) List(ctx context.Context, role string) ([]User, error) {
	query := `SELECT id, email, name, role, password_hash, created_at FROM users`
	var args []any
	if role != "" {
		query += ` WHERE role = $1`
		args = append(args, role)
	}
	query += ` ORDER BY name, id`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	users := []User{}
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.PasswordHash, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.CreatedAt = u.CreatedAt.UTC()
		users = append(users, u)
	}
	return users, rows.Err()
}
