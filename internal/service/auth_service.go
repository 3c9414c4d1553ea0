package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"cuisine/internal/cache"
	"cuisine/internal/config"
	"cuisine/internal/models"
	"cuisine/internal/repository"
	"cuisine/internal/validation"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

const (
	TokenIssuer   = "cuisine-api"
	TokenAudience = "cuisine-client"
)

// Auth states emitted by OnAuthStateChanged.
const (
	AuthSignedIn  = "signed_in"
	AuthSignedOut = "signed_out"
)

// AuthStateChange is one sign-in or sign-out.
type AuthStateChange struct {
	UserID uint      `json:"user_id"`
	State  string    `json:"state"`
	At     time.Time `json:"at"`
}

// Mailer delivers account emails.
type Mailer interface {
	SendPasswordReset(ctx context.Context, to, link string) error
}

// LogMailer writes reset links to the log. It stands in for a mail provider
// in development.
type LogMailer struct{}

func (LogMailer) SendPasswordReset(ctx context.Context, to, link string) error {
	slog.InfoContext(ctx, "password reset requested", slog.String("to", to), slog.String("link", link))
	return nil
}

type SignupInput struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ResetPasswordInput struct {
	Token           string `json:"token"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

// AuthResult is returned by Signup and Login.
type AuthResult struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

type tokenClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

type AuthService struct {
	userRepo repository.UserRepository
	rdb      redis.Cmdable
	mailer   Mailer
	secret   []byte
	tokenTTL time.Duration
	resetTTL time.Duration
	resetURL string
	now      func() time.Time

	mu        sync.RWMutex
	nextID    int
	listeners map[int]func(AuthStateChange)
}

func NewAuthService(userRepo repository.UserRepository, rdb redis.Cmdable, mailer Mailer, cfg *config.Config) *AuthService {
	if mailer == nil {
		mailer = LogMailer{}
	}
	resetTTL := 30 * time.Minute
	if cfg.PasswordResetTTLMinutes > 0 {
		resetTTL = time.Duration(cfg.PasswordResetTTLMinutes) * time.Minute
	}
	return &AuthService{
		userRepo:  userRepo,
		rdb:       rdb,
		mailer:    mailer,
		secret:    []byte(cfg.JWTSecret),
		tokenTTL:  cfg.JWTTTL(),
		resetTTL:  resetTTL,
		resetURL:  cfg.PasswordResetURL,
		now:       time.Now,
		listeners: make(map[int]func(AuthStateChange)),
	}
}

// Signup creates an account and signs it in.
func (s *AuthService) Signup(ctx context.Context, in SignupInput) (*AuthResult, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if in.Username == "" || in.Email == "" || in.Password == "" || in.ConfirmPassword == "" {
		return nil, models.NewValidationError("Username, email, password and confirmation are required")
	}
	if err := validation.ValidateUsername(in.Username); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	if err := validation.ValidateEmail(in.Email); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	if err := validation.ValidatePasswordConfirmation(in.Password, in.ConfirmPassword); err != nil {
		return nil, models.NewValidationError(err.Error())
	}

	existing, err := s.userRepo.GetByEmail(ctx, in.Email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, models.NewConflictError("Email already in use")
	}
	taken, err := s.userRepo.GetByUsername(ctx, in.Username)
	if err != nil {
		return nil, err
	}
	if taken != nil {
		return nil, models.NewConflictError("Username already taken")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	user := &models.User{Username: in.Username, Email: in.Email, Password: string(hash)}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}
	return s.signIn(user)
}

// Login checks credentials. Every failure is reported as invalid credentials.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*AuthResult, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" || in.Password == "" {
		return nil, models.NewValidationError("Email and password are required")
	}
	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, models.NewUnauthorizedError("Invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(in.Password)); err != nil {
		return nil, models.NewUnauthorizedError("Invalid credentials")
	}
	return s.signIn(user)
}

func (s *AuthService) signIn(user *models.User) (*AuthResult, error) {
	token, expiresAt, err := s.IssueToken(user.ID, user.Username)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	s.emit(AuthStateChange{UserID: user.ID, State: AuthSignedIn})
	return &AuthResult{Token: token, ExpiresAt: expiresAt, User: user}, nil
}

// IssueToken signs an access token for the user.
func (s *AuthService) IssueToken(userID uint, username string) (string, time.Time, error) {
	if len(s.secret) == 0 {
		return "", time.Time{}, errors.New("JWT secret not configured")
	}
	now := s.now()
	expiresAt := now.Add(s.tokenTTL)
	claims := tokenClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(userID), 10),
			Issuer:    TokenIssuer,
			Audience:  jwt.ClaimStrings{TokenAudience},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Authenticate parses a bearer token into a session. Revoked tokens are
// rejected.
func (s *AuthService) Authenticate(ctx context.Context, token string) (models.Session, error) {
	var claims tokenClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(TokenIssuer),
		jwt.WithAudience(TokenAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return models.Session{}, models.NewUnauthorizedError("Invalid or expired token")
	}

	userID, err := strconv.ParseUint(claims.Subject, 10, 32)
	if err != nil || userID == 0 {
		return models.Session{}, models.NewUnauthorizedError("Invalid subject claim")
	}

	if claims.ID != "" && s.isRevoked(ctx, claims.ID) {
		return models.Session{}, models.NewUnauthorizedError("Token has been revoked")
	}
	return models.Session{UserID: uint(userID), Username: claims.Username, TokenID: claims.ID}, nil
}

func (s *AuthService) isRevoked(ctx context.Context, jti string) bool {
	if s.rdb == nil {
		return false
	}
	n, err := s.rdb.Exists(ctx, cache.BlacklistKey(jti)).Result()
	return err == nil && n > 0
}

// Logout revokes the session's token until it would have expired.
func (s *AuthService) Logout(ctx context.Context, session models.Session) error {
	if !session.Authenticated() {
		return models.NewUnauthorizedError("Authentication required")
	}
	if session.TokenID != "" {
		if s.rdb == nil {
			slog.WarnContext(ctx, "token revocation unavailable without redis", slog.Uint64("user_id", uint64(session.UserID)))
		} else if err := s.rdb.Set(ctx, cache.BlacklistKey(session.TokenID), "1", s.tokenTTL).Err(); err != nil {
			return models.NewInternalError(err)
		}
	}
	s.emit(AuthStateChange{UserID: session.UserID, State: AuthSignedOut})
	return nil
}

// RequestPasswordReset mails a single-use reset link. Unknown emails succeed
// silently.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := validation.ValidateEmail(email); err != nil {
		return models.NewValidationError(err.Error())
	}
	if s.rdb == nil {
		return models.NewInternalError(errors.New("password reset requires redis"))
	}

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if user == nil {
		return nil
	}

	token := uuid.NewString()
	if err := s.rdb.Set(ctx, cache.PasswordResetKey(token), user.ID, s.resetTTL).Err(); err != nil {
		return models.NewInternalError(err)
	}
	if err := s.mailer.SendPasswordReset(ctx, user.Email, s.resetLink(token)); err != nil {
		cache.Invalidate(ctx, s.rdb, cache.PasswordResetKey(token))
		return models.NewInternalError(fmt.Errorf("send reset email: %w", err))
	}
	return nil
}

func (s *AuthService) resetLink(token string) string {
	base := s.resetURL
	if base == "" {
		base = "cuisine://reset-password"
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "token=" + url.QueryEscape(token)
}

// ResetPassword consumes a reset token and sets a new password.
func (s *AuthService) ResetPassword(ctx context.Context, in ResetPasswordInput) error {
	if strings.TrimSpace(in.Token) == "" {
		return models.NewValidationError("Reset token is required")
	}
	if err := validation.ValidatePasswordConfirmation(in.Password, in.ConfirmPassword); err != nil {
		return models.NewValidationError(err.Error())
	}
	if s.rdb == nil {
		return models.NewInternalError(errors.New("password reset requires redis"))
	}

	raw, err := s.rdb.GetDel(ctx, cache.PasswordResetKey(in.Token)).Result()
	if errors.Is(err, redis.Nil) {
		return models.NewValidationError("Reset token is invalid or has expired")
	}
	if err != nil {
		return models.NewInternalError(err)
	}
	userID, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return models.NewValidationError("Reset token is invalid or has expired")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return models.NewInternalError(err)
	}
	return s.userRepo.UpdatePassword(ctx, uint(userID), string(hash))
}

// OnAuthStateChanged registers fn for sign-in and sign-out events and returns
// the function that removes it.
func (s *AuthService) OnAuthStateChanged(fn func(AuthStateChange)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

func (s *AuthService) emit(change AuthStateChange) {
	change.At = s.now().UTC()
	s.mu.RLock()
	fns := make([]func(AuthStateChange), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()
	for _, fn := range fns {
		fn(change)
	}
}
