package httpapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"noorsales/backend/internal/cache"
	"noorsales/backend/internal/domain"
	"noorsales/backend/internal/store"
	"noorsales/backend/internal/xid"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("unauthorized")
)

type AuthManager struct {
	secret     []byte
	tokenTTL   time.Duration
	sessionTTL time.Duration
	users      UserStore
	sessions   cache.SessionCache
	log        zerolog.Logger
}

type UserStore interface {
	FindUserByUsername(ctx context.Context, username string) (*domain.User, error)
	GetUser(ctx context.Context, id string) (*domain.User, error)
}

type sessionClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, sessionTTL time.Duration, users UserStore, sessions cache.SessionCache, logger zerolog.Logger) *AuthManager {
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	if sessionTTL <= 0 || sessionTTL > tokenTTL {
		sessionTTL = tokenTTL
	}
	if sessions == nil {
		sessions = cache.NewMemorySessionCache()
	}
	return &AuthManager{
		secret:     []byte(secret),
		tokenTTL:   tokenTTL,
		sessionTTL: sessionTTL,
		users:      users,
		sessions:   sessions,
		log:        logger,
	}
}

// Login checks the credentials against the user collection, opens a session
// and returns a bearer token naming it.
func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	user, err := a.users.FindUserByUsername(ctx, req.Username)
	if errors.Is(err, store.ErrNotFound) {
		return domain.LoginResponse{}, ErrInvalidCredentials
	}
	if err != nil {
		return domain.LoginResponse{}, err
	}
	if !verifyPassword(user.Password, req.Password) {
		return domain.LoginResponse{}, ErrInvalidCredentials
	}

	sessionID := xid.New("sess")
	expiresAt := time.Now().UTC().Add(a.sessionTTL)
	token, err := a.sign(sessionID, *user, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	if err := a.sessions.Set(ctx, sessionID, *user, a.sessionTTL); err != nil {
		return domain.LoginResponse{}, fmt.Errorf("open session: %w", err)
	}

	a.log.Info().Str("username", user.Username).Str("role", user.Role).Msg("login")
	public := *user
	public.Password = ""
	return domain.LoginResponse{
		AccessToken: token,
		User:        public,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

// Authenticate resolves a bearer token to the actor of a live session. The
// actor is read from the user collection on every call, so a deleted user is
// locked out at once and role changes apply to open sessions.
func (a *AuthManager) Authenticate(ctx context.Context, tokenStr string) (domain.Actor, string, error) {
	sessionID, err := a.parseToken(tokenStr)
	if err != nil {
		return domain.Actor{}, "", err
	}
	user, err := a.CurrentUser(ctx, sessionID)
	if err != nil {
		return domain.Actor{}, "", err
	}
	return domain.Actor{
		UserID:   user.ID,
		Username: user.Username,
		Role:     user.Role,
		Language: user.Language,
	}, sessionID, nil
}

// CurrentUser returns the up-to-date user behind a session. Sessions of users
// that no longer exist are ended.
func (a *AuthManager) CurrentUser(ctx context.Context, sessionID string) (domain.User, error) {
	session, ok, err := a.sessions.Get(ctx, sessionID)
	if err != nil {
		return domain.User{}, err
	}
	if !ok {
		return domain.User{}, fmt.Errorf("%w: session ended", ErrUnauthorized)
	}

	user, err := a.users.GetUser(ctx, session.ID)
	if errors.Is(err, store.ErrNotFound) {
		if err := a.sessions.Delete(ctx, sessionID); err != nil {
			a.log.Warn().Err(err).Str("user_id", session.ID).Msg("end session of deleted user")
		}
		a.log.Info().Str("user_id", session.ID).Msg("session of deleted user rejected")
		return domain.User{}, fmt.Errorf("%w: user no longer exists", ErrUnauthorized)
	}
	if err != nil {
		return domain.User{}, err
	}
	public := *user
	public.Password = ""
	return public, nil
}

func (a *AuthManager) Logout(ctx context.Context, sessionID string) error {
	return a.sessions.Delete(ctx, sessionID)
}

func (a *AuthManager) parseToken(tokenStr string) (string, error) {
	claims := &sessionClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: invalid or expired token", ErrUnauthorized)
	}
	if claims.ID == "" {
		return "", fmt.Errorf("%w: token has no session", ErrUnauthorized)
	}
	return claims.ID, nil
}

func (a *AuthManager) sign(sessionID string, user domain.User, expiresAt time.Time) (string, error) {
	claims := sessionClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			ID:        sessionID,
			Subject:   user.ID,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "noorsales",
		},
		Role: user.Role,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
