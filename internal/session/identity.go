package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"collab-notes-backend/internal/auth"
	"collab-notes-backend/internal/model"
	"collab-notes-backend/internal/store"
)

var (
	ErrUnauthenticated    = errors.New("no restorable session")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrPasswordTooShort   = errors.New("password must be at least 6 characters")
)

// 회원가입 비밀번호 최소 길이
const minPasswordLength = 6

// Identity resolved participant. Anonymous identities are synthesized locally
// and never touch the users table.
type Identity struct {
	UserID      string    `json:"user_id,omitempty"`
	Email       string    `json:"email,omitempty"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	Anonymous   bool      `json:"anonymous"`
}

// TokenPair issued on login. Anonymous identities only get an access token.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// Manager resolves and issues identities. All collaborators are injected; the
// manager holds no global state.
type Manager struct {
	store  store.Store
	jwt    *auth.JWTManager
	google *auth.GoogleAuthenticator
}

func NewManager(st store.Store, jwtManager *auth.JWTManager, google *auth.GoogleAuthenticator) *Manager {
	return &Manager{store: st, jwt: jwtManager, google: google}
}

// Restore recovers an identity from previously issued tokens. The access
// token wins when still valid; an expired access token falls back to the
// refresh token, reissuing the pair. With neither usable the caller gets
// ErrUnauthenticated and should treat the visitor as signed out.
func (m *Manager) Restore(ctx context.Context, accessToken, refreshToken string) (*Identity, *TokenPair, error) {
	if accessToken != "" {
		claims, err := m.jwt.ValidateAccessToken(accessToken)
		if err == nil {
			return identityFromClaims(claims), nil, nil
		}
		if !errors.Is(err, auth.ErrExpiredToken) {
			return nil, nil, ErrUnauthenticated
		}
	}

	if refreshToken != "" {
		userID, err := m.jwt.ValidateRefreshToken(refreshToken)
		if err != nil {
			return nil, nil, ErrUnauthenticated
		}
		user, err := m.userByID(ctx, userID)
		if err != nil {
			return nil, nil, ErrUnauthenticated
		}
		identity := identityFromUser(user)
		tokens, err := m.issueTokens(identity)
		if err != nil {
			return nil, nil, err
		}
		return identity, tokens, nil
	}

	return nil, nil, ErrUnauthenticated
}

// Register creates an account and signs it in.
func (m *Manager) Register(ctx context.Context, email, password, displayName string) (*Identity, *TokenPair, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" || strings.TrimSpace(displayName) == "" {
		return nil, nil, errors.New("email, password and display name are required")
	}
	if len(password) < minPasswordLength {
		return nil, nil, ErrPasswordTooShort
	}

	if existing, _ := m.userByEmail(ctx, email); existing != nil {
		return nil, nil, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, nil, fmt.Errorf("hash password: %w", err)
	}

	user := &model.User{
		Email:        email,
		PasswordHash: string(hash),
		DisplayName:  strings.TrimSpace(displayName),
	}
	if err := m.store.Insert(ctx, "users", user); err != nil {
		return nil, nil, fmt.Errorf("create user: %w", err)
	}

	identity := identityFromUser(user)
	tokens, err := m.issueTokens(identity)
	if err != nil {
		return nil, nil, err
	}
	return identity, tokens, nil
}

// Login authenticates with email and password.
func (m *Manager) Login(ctx context.Context, email, password string) (*Identity, *TokenPair, error) {
	user, err := m.userByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil || user == nil {
		return nil, nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, nil, ErrInvalidCredentials
	}

	identity := identityFromUser(user)
	tokens, err := m.issueTokens(identity)
	if err != nil {
		return nil, nil, err
	}
	return identity, tokens, nil
}

// LoginWithGoogle authenticates with a Google ID token, linking or creating
// the account as needed.
func (m *Manager) LoginWithGoogle(ctx context.Context, idToken string) (*Identity, *TokenPair, error) {
	if m.google == nil {
		return nil, nil, errors.New("google sign-in is not configured")
	}
	info, err := m.google.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, nil, err
	}

	var users []model.User
	if err := m.store.Select(ctx, "users", store.Eq("google_id", info.ID), &users); err != nil {
		return nil, nil, err
	}

	var user *model.User
	if len(users) > 0 {
		user = &users[0]
	} else if existing, _ := m.userByEmail(ctx, strings.ToLower(info.Email)); existing != nil {
		// 같은 이메일의 기존 계정에 Google 계정을 연결
		if err := m.store.Update(ctx, "users", store.Eq("id", existing.ID), map[string]any{
			"google_id": info.ID,
		}); err != nil {
			return nil, nil, err
		}
		user = existing
	} else {
		googleID := info.ID
		user = &model.User{
			Email:       strings.ToLower(info.Email),
			DisplayName: info.Name,
			GoogleID:    &googleID,
		}
		if info.Picture != "" {
			user.AvatarURL = &info.Picture
		}
		if user.DisplayName == "" {
			user.DisplayName = user.Email
		}
		if err := m.store.Insert(ctx, "users", user); err != nil {
			return nil, nil, fmt.Errorf("create user: %w", err)
		}
	}

	identity := identityFromUser(user)
	tokens, err := m.issueTokens(identity)
	if err != nil {
		return nil, nil, err
	}
	return identity, tokens, nil
}

// Anonymous synthesizes a guest identity under the given display name. The
// guest exists only in its token; no account row is created.
func (m *Manager) Anonymous(displayName string) (*Identity, *TokenPair, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, nil, errors.New("display name is required")
	}

	identity := &Identity{
		UserID:      "guest-" + uuid.NewString()[:8],
		DisplayName: displayName,
		CreatedAt:   time.Now().UTC(),
		Anonymous:   true,
	}
	access, err := m.jwt.GenerateAccessToken(identity.UserID, "", identity.DisplayName, true)
	if err != nil {
		return nil, nil, err
	}
	return identity, &TokenPair{AccessToken: access}, nil
}

func (m *Manager) issueTokens(identity *Identity) (*TokenPair, error) {
	access, err := m.jwt.GenerateAccessToken(identity.UserID, identity.Email, identity.DisplayName, identity.Anonymous)
	if err != nil {
		return nil, err
	}
	refresh, err := m.jwt.GenerateRefreshToken(identity.UserID)
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (m *Manager) userByEmail(ctx context.Context, email string) (*model.User, error) {
	var users []model.User
	if err := m.store.Select(ctx, "users", store.Eq("email", email), &users); err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, nil
	}
	return &users[0], nil
}

func (m *Manager) userByID(ctx context.Context, id string) (*model.User, error) {
	var users []model.User
	if err := m.store.Select(ctx, "users", store.Eq("id", id), &users); err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, errors.New("user not found")
	}
	return &users[0], nil
}

func identityFromUser(u *model.User) *Identity {
	identity := &Identity{
		UserID:      u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		CreatedAt:   u.CreatedAt,
	}
	if u.AvatarURL != nil {
		identity.AvatarURL = *u.AvatarURL
	}
	return identity
}

func identityFromClaims(c *auth.Claims) *Identity {
	return &Identity{
		UserID:      c.UserID,
		Email:       c.Email,
		DisplayName: c.DisplayName,
		Anonymous:   c.Anonymous,
	}
}
