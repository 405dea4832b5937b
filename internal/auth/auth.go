package auth

import (
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/4xmen/peyk/internal/models"
)

type Service struct {
	db        *sql.DB
	jwtSecret string
	tokenTTL  time.Duration
}

// Claims carry the full identity so downstream calls never have to look the
// caller up again.
type Claims struct {
	UserID      int64  `json:"user_id"`
	Username    string `json:"username"`
	UserKind    string `json:"user_kind"`
	DisplayName string `json:"display_name"`
	jwt.RegisteredClaims
}

func New(db *sql.DB, jwtSecret string) *Service {
	return NewWithTokenTTL(db, jwtSecret, 24*time.Hour)
}

func NewWithTokenTTL(db *sql.DB, jwtSecret string, tokenTTL time.Duration) *Service {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}

	return &Service{
		db:        db,
		jwtSecret: jwtSecret,
		tokenTTL:  tokenTTL,
	}
}

func (s *Service) Register(username, password string, kind models.UserKind) (int64, error) {
	username = strings.TrimSpace(username)
	if len(username) < 3 || len(username) > 32 {
		return 0, fmt.Errorf("username must be between 3 and 32 characters")
	}

	if !regexp.MustCompile(`^[a-zA-Z0-9_]+$`).MatchString(username) {
		return 0, fmt.Errorf("username can only contain letters, numbers, and underscores")
	}

	if len(password) < 6 {
		return 0, fmt.Errorf("password must be at least 6 characters")
	}

	if !kind.Valid() {
		return 0, fmt.Errorf("unknown user kind: %q", kind)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, fmt.Errorf("failed to hash password: %w", err)
	}

	result, err := s.db.Exec(
		"INSERT INTO users (username, password_hash, kind) VALUES (?, ?, ?)",
		username,
		string(hash),
		string(kind),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return 0, fmt.Errorf("username already exists")
		}
		return 0, fmt.Errorf("failed to register user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get user id: %w", err)
	}

	return id, nil
}

func (s *Service) Login(username, password string) (string, *models.Identity, error) {
	username = strings.TrimSpace(username)

	var (
		userID       int64
		passwordHash string
		kindRaw      string
		displayName  sql.NullString
	)

	err := s.db.QueryRow(
		"SELECT id, password_hash, kind, display_name FROM users WHERE username = ?",
		username,
	).Scan(&userID, &passwordHash, &kindRaw, &displayName)

	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil, fmt.Errorf("invalid username or password")
		}
		return "", nil, fmt.Errorf("failed to query user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); err != nil {
		return "", nil, fmt.Errorf("invalid username or password")
	}

	kind, err := models.ParseUserKind(kindRaw)
	if err != nil {
		return "", nil, err
	}

	name := username
	if displayName.Valid && displayName.String != "" {
		name = displayName.String
	}

	identity := &models.Identity{ID: userID, Kind: kind, Name: name}

	token, err := s.GenerateToken(*identity, username)
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate token: %w", err)
	}

	return token, identity, nil
}

func (s *Service) GenerateToken(who models.Identity, username string) (string, error) {
	claims := Claims{
		UserID:      who.ID,
		Username:    username,
		UserKind:    string(who.Kind),
		DisplayName: who.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// ValidateToken parses the token and rebuilds the caller's Identity.
func (s *Service) ValidateToken(tokenString string) (*models.Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	kind, err := models.ParseUserKind(claims.UserKind)
	if err != nil {
		return nil, err
	}

	name := claims.DisplayName
	if name == "" {
		name = claims.Username
	}

	return &models.Identity{ID: claims.UserID, Kind: kind, Name: name}, nil
}

// UserExists checks if a user with the given ID exists.
func (s *Service) UserExists(userID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRow("SELECT EXISTS(SELECT 1 FROM users WHERE id = ?)", userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to query user: %w", err)
	}
	return exists, nil
}
