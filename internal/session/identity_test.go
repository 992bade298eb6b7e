package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collab-notes-backend/internal/auth"
	"collab-notes-backend/internal/model"
	"collab-notes-backend/internal/store"
)

func newTestManager(accessExpiry time.Duration) (*Manager, *store.MemoryStore) {
	st := store.NewMemoryStore(nil)
	jwtManager := auth.NewJWTManager("test-secret", accessExpiry, 7*24*time.Hour)
	return NewManager(st, jwtManager, nil), st
}

func TestRegisterAndLogin(t *testing.T) {
	mgr, st := newTestManager(time.Hour)
	ctx := context.Background()

	identity, tokens, err := mgr.Register(ctx, "Sujin@Example.com ", "secret123", " 수진 ")
	require.NoError(t, err)

	assert.Equal(t, "sujin@example.com", identity.Email)
	assert.Equal(t, "수진", identity.DisplayName)
	assert.False(t, identity.Anonymous)
	assert.NotEmpty(t, identity.UserID)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.NotEmpty(t, tokens.RefreshToken)

	// 비밀번호 해시가 저장되고 평문은 남지 않는다
	var users []model.User
	require.NoError(t, st.Select(ctx, "users", store.Eq("email", "sujin@example.com"), &users))
	require.Len(t, users, 1)
	assert.NotEqual(t, "secret123", users[0].PasswordHash)
	assert.True(t, strings.HasPrefix(users[0].PasswordHash, "$2"))

	back, _, err := mgr.Login(ctx, "sujin@example.com", "secret123")
	require.NoError(t, err)
	assert.Equal(t, identity.UserID, back.UserID)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	mgr, _ := newTestManager(time.Hour)
	ctx := context.Background()

	_, _, err := mgr.Register(ctx, "sujin@example.com", "secret123", "수진")
	require.NoError(t, err)

	_, _, err = mgr.Register(ctx, "SUJIN@example.com", "other456", "다른수진")
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestRegisterRejectsShortPassword(t *testing.T) {
	mgr, st := newTestManager(time.Hour)
	ctx := context.Background()

	_, _, err := mgr.Register(ctx, "sujin@example.com", "12345", "수진")
	assert.ErrorIs(t, err, ErrPasswordTooShort)

	// 거부된 가입은 행을 남기지 않는다
	var users []model.User
	require.NoError(t, st.Select(ctx, "users", store.Query{}, &users))
	assert.Empty(t, users)

	// 경계값 6자는 통과
	_, _, err = mgr.Register(ctx, "sujin@example.com", "123456", "수진")
	assert.NoError(t, err)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	mgr, _ := newTestManager(time.Hour)
	ctx := context.Background()

	_, _, err := mgr.Register(ctx, "sujin@example.com", "secret123", "수진")
	require.NoError(t, err)

	_, _, err = mgr.Login(ctx, "sujin@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = mgr.Login(ctx, "nobody@example.com", "secret123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRestoreWithValidAccessToken(t *testing.T) {
	mgr, _ := newTestManager(time.Hour)
	ctx := context.Background()

	identity, tokens, err := mgr.Register(ctx, "sujin@example.com", "secret123", "수진")
	require.NoError(t, err)

	restored, reissued, err := mgr.Restore(ctx, tokens.AccessToken, tokens.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, identity.UserID, restored.UserID)
	assert.Equal(t, "수진", restored.DisplayName)
	// 액세스 토큰이 유효하면 재발급하지 않는다
	assert.Nil(t, reissued)
}

func TestRestoreFallsBackToRefreshToken(t *testing.T) {
	mgr, _ := newTestManager(-time.Minute)
	ctx := context.Background()

	identity, tokens, err := mgr.Register(ctx, "sujin@example.com", "secret123", "수진")
	require.NoError(t, err)

	restored, reissued, err := mgr.Restore(ctx, tokens.AccessToken, tokens.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, identity.UserID, restored.UserID)
	require.NotNil(t, reissued)
	assert.NotEmpty(t, reissued.AccessToken)
	assert.NotEmpty(t, reissued.RefreshToken)
}

func TestRestoreWithoutUsableTokens(t *testing.T) {
	mgr, _ := newTestManager(time.Hour)
	ctx := context.Background()

	_, _, err := mgr.Restore(ctx, "", "")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, _, err = mgr.Restore(ctx, "not-a-jwt", "")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	other := auth.NewJWTManager("other-secret", time.Hour, time.Hour)
	forged, err := other.GenerateAccessToken("u1", "a@b.c", "공격자", false)
	require.NoError(t, err)
	_, _, err = mgr.Restore(ctx, forged, "")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestRestoreRefreshForDeletedUser(t *testing.T) {
	mgr, st := newTestManager(-time.Minute)
	ctx := context.Background()

	identity, tokens, err := mgr.Register(ctx, "sujin@example.com", "secret123", "수진")
	require.NoError(t, err)

	require.NoError(t, st.Delete(ctx, "users", store.Eq("id", identity.UserID)))

	_, _, err = mgr.Restore(ctx, tokens.AccessToken, tokens.RefreshToken)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestAnonymousIdentity(t *testing.T) {
	mgr, st := newTestManager(time.Hour)

	identity, tokens, err := mgr.Anonymous("  손님  ")
	require.NoError(t, err)

	assert.True(t, identity.Anonymous)
	assert.Equal(t, "손님", identity.DisplayName)
	assert.True(t, strings.HasPrefix(identity.UserID, "guest-"))
	assert.Len(t, identity.UserID, len("guest-")+8)
	assert.NotEmpty(t, tokens.AccessToken)
	// 게스트는 리프레시 토큰도 계정 행도 갖지 않는다
	assert.Empty(t, tokens.RefreshToken)

	var users []model.User
	require.NoError(t, st.Select(context.Background(), "users", store.Query{}, &users))
	assert.Empty(t, users)

	_, _, err = mgr.Anonymous("   ")
	assert.Error(t, err)
}
