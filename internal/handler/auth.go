package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"collab-notes-backend/internal/presence"
	"collab-notes-backend/internal/session"
)

// AuthHandler 인증 핸들러
type AuthHandler struct {
	sessions     *session.Manager
	tracker      *presence.Tracker
	secureCookie bool
}

// NewAuthHandler AuthHandler 생성
func NewAuthHandler(sessions *session.Manager, tracker *presence.Tracker, secureCookie bool) *AuthHandler {
	return &AuthHandler{sessions: sessions, tracker: tracker, secureCookie: secureCookie}
}

// RegisterRequest 회원가입 요청
type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

// LoginRequest 로그인 요청
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// GoogleLoginRequest Google 로그인 요청
type GoogleLoginRequest struct {
	IDToken string `json:"id_token"`
}

// AnonymousRequest 게스트 입장 요청
type AnonymousRequest struct {
	DisplayName string `json:"display_name"`
}

// AuthResponse 인증 응답
type AuthResponse struct {
	Identity    *session.Identity `json:"identity"`
	AccessToken string            `json:"access_token"`
	ExpiresIn   int64             `json:"expires_in"`
}

// Register 회원가입
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	identity, tokens, err := h.sessions.Register(c.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		if errors.Is(err, session.ErrEmailTaken) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "email already registered",
			})
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	h.setTokenCookies(c, tokens)
	return c.Status(fiber.StatusCreated).JSON(AuthResponse{
		Identity:    identity,
		AccessToken: tokens.AccessToken,
		ExpiresIn:   3600,
	})
}

// Login 이메일/비밀번호 로그인
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	identity, tokens, err := h.sessions.Login(c.Context(), req.Email, req.Password)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "invalid email or password",
		})
	}

	h.setTokenCookies(c, tokens)
	return c.JSON(AuthResponse{
		Identity:    identity,
		AccessToken: tokens.AccessToken,
		ExpiresIn:   3600,
	})
}

// GoogleLogin Google OAuth 로그인
func (h *AuthHandler) GoogleLogin(c *fiber.Ctx) error {
	var req GoogleLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if req.IDToken == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "id_token is required",
		})
	}

	identity, tokens, err := h.sessions.LoginWithGoogle(c.Context(), req.IDToken)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "google sign-in failed",
		})
	}

	h.setTokenCookies(c, tokens)
	return c.JSON(AuthResponse{
		Identity:    identity,
		AccessToken: tokens.AccessToken,
		ExpiresIn:   3600,
	})
}

// Anonymous 게스트 입장. 계정 없이 표시 이름만으로 토큰을 발급한다.
func (h *AuthHandler) Anonymous(c *fiber.Ctx) error {
	var req AnonymousRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	identity, tokens, err := h.sessions.Anonymous(req.DisplayName)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	h.setTokenCookies(c, tokens)
	return c.JSON(AuthResponse{
		Identity:    identity,
		AccessToken: tokens.AccessToken,
		ExpiresIn:   3600,
	})
}

// Restore 저장된 토큰으로 세션 복원. 액세스 토큰이 우선이고, 만료 시
// 리프레시 토큰으로 재발급한다.
func (h *AuthHandler) Restore(c *fiber.Ctx) error {
	identity, reissued, err := h.sessions.Restore(
		c.Context(),
		c.Cookies("access_token"),
		c.Cookies("refresh_token"),
	)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "no restorable session",
		})
	}

	if reissued != nil {
		h.setTokenCookies(c, reissued)
	}
	return c.JSON(fiber.Map{
		"identity": identity,
	})
}

// LogoutRequest 로그아웃 요청. meeting_id가 있으면 프레즌스도 정리한다.
type LogoutRequest struct {
	MeetingID string `json:"meeting_id,omitempty"`
}

// Logout 로그아웃. 회의 컨텍스트가 있으면 프레즌스 삭제와 leave 활동 기록을
// 함께 시도한다. 어느 쪽이 실패해도 로그아웃 자체는 진행된다.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	var req LogoutRequest
	_ = c.BodyParser(&req)

	if req.MeetingID != "" && h.tracker != nil {
		if identity, _, err := h.sessions.Restore(
			c.Context(), c.Cookies("access_token"), c.Cookies("refresh_token"),
		); err == nil {
			h.tracker.Leave(c.Context(), req.MeetingID, identity.DisplayName)
		}
	}

	h.clearCookie(c, "access_token")
	h.clearCookie(c, "refresh_token")

	return c.JSON(fiber.Map{
		"message": "logged out successfully",
	})
}

// setTokenCookies HTTP-Only 쿠키로 토큰 설정 (보안 강화)
func (h *AuthHandler) setTokenCookies(c *fiber.Ctx, tokens *session.TokenPair) {
	c.Cookie(&fiber.Cookie{
		Name:     "access_token",
		Value:    tokens.AccessToken,
		Path:     "/",
		MaxAge:   60 * 60, // 1시간
		Secure:   h.secureCookie,
		HTTPOnly: true,
		SameSite: "Lax",
	})
	if tokens.RefreshToken != "" {
		c.Cookie(&fiber.Cookie{
			Name:     "refresh_token",
			Value:    tokens.RefreshToken,
			Path:     "/",
			MaxAge:   7 * 24 * 60 * 60, // 7일
			Secure:   h.secureCookie,
			HTTPOnly: true,
			SameSite: "Lax",
		})
	}
}

func (h *AuthHandler) clearCookie(c *fiber.Ctx, name string) {
	c.Cookie(&fiber.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Secure:   h.secureCookie,
		HTTPOnly: true,
	})
}
