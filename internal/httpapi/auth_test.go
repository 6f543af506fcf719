package httpapi

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"noorsales/backend/internal/cache"
	"noorsales/backend/internal/domain"
	"noorsales/backend/internal/store"
)

type userStoreStub struct {
	users map[string]domain.User
}

func (s *userStoreStub) FindUserByUsername(_ context.Context, username string) (*domain.User, error) {
	user, ok := s.users[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func (s *userStoreStub) GetUser(_ context.Context, id string) (*domain.User, error) {
	for _, user := range s.users {
		if user.ID == id {
			return &user, nil
		}
	}
	return nil, store.ErrNotFound
}

func newUserStoreStub(t *testing.T) *userStoreStub {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("pass1234"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return &userStoreStub{users: map[string]domain.User{
		"huda": {ID: "user-1", Name: "Huda", Username: "huda", Password: string(hash), Role: domain.RoleEmployee, Language: domain.LanguageEnglish},
		"legacy": {ID: "user-2", Name: "Old", Username: "legacy", Password: "plain", Role: domain.RoleEmployee},
	}}
}

func TestAuthManagerSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	manager := NewAuthManager(testSecret, time.Hour, time.Hour, newUserStoreStub(t), nil, zerolog.Nop())

	resp, err := manager.Login(ctx, domain.LoginRequest{Username: "huda", Password: "pass1234"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if resp.User.Password != "" {
		t.Fatalf("login response must not carry the password hash")
	}

	actor, sessionID, err := manager.Authenticate(ctx, resp.AccessToken)
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if actor.UserID != "user-1" || actor.Role != domain.RoleEmployee || actor.Language != domain.LanguageEnglish {
		t.Fatalf("unexpected actor %+v", actor)
	}

	if err := manager.Logout(ctx, sessionID); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	if _, _, err := manager.Authenticate(ctx, resp.AccessToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized after logout, got %v", err)
	}
}

func TestAuthManagerFollowsUserChanges(t *testing.T) {
	ctx := context.Background()
	users := newUserStoreStub(t)
	manager := NewAuthManager(testSecret, time.Hour, time.Hour, users, nil, zerolog.Nop())

	resp, err := manager.Login(ctx, domain.LoginRequest{Username: "huda", Password: "pass1234"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	promoted := users.users["huda"]
	promoted.Role = domain.RoleAdmin
	users.users["huda"] = promoted
	actor, _, err := manager.Authenticate(ctx, resp.AccessToken)
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if actor.Role != domain.RoleAdmin {
		t.Fatalf("expected role change to apply to the open session, got %s", actor.Role)
	}

	delete(users.users, "huda")
	if _, _, err := manager.Authenticate(ctx, resp.AccessToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for deleted user, got %v", err)
	}
}

func TestAuthManagerRejectsBadCredentials(t *testing.T) {
	ctx := context.Background()
	manager := NewAuthManager(testSecret, time.Hour, time.Hour, newUserStoreStub(t), nil, zerolog.Nop())

	for _, req := range []domain.LoginRequest{
		{Username: "huda", Password: "wrong"},
		{Username: "nobody", Password: "pass1234"},
		{Username: "legacy", Password: "plain"},
	} {
		if _, err := manager.Login(ctx, req); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("login %s: expected ErrInvalidCredentials, got %v", req.Username, err)
		}
	}
}

func TestAuthManagerRejectsForeignTokens(t *testing.T) {
	ctx := context.Background()
	users := newUserStoreStub(t)
	issuer := NewAuthManager("another-secret-key-with-enough-bytes", time.Hour, time.Hour, users, nil, zerolog.Nop())
	verifier := NewAuthManager(testSecret, time.Hour, time.Hour, users, nil, zerolog.Nop())

	resp, err := issuer.Login(ctx, domain.LoginRequest{Username: "huda", Password: "pass1234"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if _, _, err := verifier.Authenticate(ctx, resp.AccessToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, _, err := verifier.Authenticate(ctx, "not-a-jwt"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for garbage, got %v", err)
	}
}

func TestAuthManagerWithRedisSessions(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	manager := NewAuthManager(testSecret, time.Hour, 10*time.Minute, newUserStoreStub(t), cache.NewRedisSessionCache(client), zerolog.Nop())

	resp, err := manager.Login(ctx, domain.LoginRequest{Username: "huda", Password: "pass1234"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if _, _, err := manager.Authenticate(ctx, resp.AccessToken); err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}

	mr.FastForward(11 * time.Minute)
	if _, _, err := manager.Authenticate(ctx, resp.AccessToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected expired session to be rejected, got %v", err)
	}
}

func TestLoginMeLogoutOverHTTP(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "admin", testAdminPassword)

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/auth/me", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("me: expected 200, got %d", rec.Code)
	}
	var me struct {
		User domain.User `json:"user"`
	}
	decodeBody(t, rec, &me)
	if me.User.Username != "admin" || me.User.Password != "" {
		t.Fatalf("unexpected user %+v", me.User)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/auth/logout", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/auth/me", token, nil)
	expectError(t, rec, http.StatusUnauthorized, "unauthorized")
}

func TestLoginWrongPasswordReturns401(t *testing.T) {
	api, _ := newTestAPI(t)
	rec := doJSON(t, api.Handler(), http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{
		Username: "admin",
		Password: "nope",
	})
	expectError(t, rec, http.StatusUnauthorized, "invalid_credentials")
}

func TestProtectedRoutesRequireBearerToken(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	for _, path := range []string{"/api/v1/products", "/api/v1/invoices", "/api/v1/auth/me"} {
		rec := doJSON(t, handler, http.MethodGet, path, "", nil)
		expectError(t, rec, http.StatusUnauthorized, "unauthorized")
	}
	rec := doJSON(t, handler, http.MethodGet, "/api/v1/products", "garbage", nil)
	expectError(t, rec, http.StatusUnauthorized, "unauthorized")
}

func TestEmployeeCannotManageSettingsOrUsers(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()
	adminToken := login(t, handler, "admin", testAdminPassword)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/users", adminToken, domain.UserCreateRequest{
		Name:     "Cashier",
		Username: "cashier",
		Password: "pass1234",
		Role:     domain.RoleEmployee,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create user: %d %s", rec.Code, rec.Body.String())
	}

	token := login(t, handler, "cashier", "pass1234")

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/users", token, nil)
	expectError(t, rec, http.StatusForbidden, "forbidden")
	rec = doJSON(t, handler, http.MethodPut, "/api/v1/settings", token, domain.Settings{CompanyName: "X", Currency: "USD"})
	expectError(t, rec, http.StatusForbidden, "forbidden")

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/settings", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("employees can read settings, got %d", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/products", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("employees can list products, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodDelete, "/api/v1/users/"+"default-admin-01", adminToken, nil)
	expectError(t, rec, http.StatusForbidden, "forbidden")
}

func TestDeletedUserIsLockedOut(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()
	adminToken := login(t, handler, "admin", testAdminPassword)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/users", adminToken, domain.UserCreateRequest{
		Name:     "Cashier",
		Username: "cashier",
		Password: "pass1234",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create user: %d %s", rec.Code, rec.Body.String())
	}
	var created struct {
		User domain.User `json:"user"`
	}
	decodeBody(t, rec, &created)

	token := login(t, handler, "cashier", "pass1234")
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/products", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected cashier session to work, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodDelete, "/api/v1/users/"+created.User.ID, adminToken, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete user: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/products", token, nil)
	expectError(t, rec, http.StatusUnauthorized, "unauthorized")
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/customers", token, domain.CustomerRequest{Name: "Ghost"})
	expectError(t, rec, http.StatusUnauthorized, "unauthorized")
}
