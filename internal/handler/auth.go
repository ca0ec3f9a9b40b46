package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"auth_session/internal/models"
	"auth_session/internal/provider"

	"github.com/gin-gonic/gin"
)

const (
	stateCookie    = "oauth-state"
	stateCookieTTL = 10 * time.Minute
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type accessTokenResponse struct {
	AccessToken string `json:"accessToken"`
}

// POST /auth/register
func (h *Handler) Register(c *gin.Context) {
	const op = "handler.Register"

	log := h.log.With(slog.String("op", op))

	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Debug("failed to read request body", slog.Any("error", err))

		badRequest(c, "wrong request format")

		return
	}

	user, err := h.users.Register(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		log.Info("failed to register user", slog.Any("error", err))

		newErrorResponse(c, err)

		return
	}

	c.JSON(http.StatusCreated, user)
}

// POST /auth/login
func (h *Handler) Login(c *gin.Context) {
	const op = "handler.Login"

	log := h.log.With(slog.String("op", op))

	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Debug("failed to read request body", slog.Any("error", err))

		badRequest(c, "wrong request format")

		return
	}

	pair, err := h.sessions.Login(c.Request.Context(), req.Email, req.Password, c.Request.UserAgent())
	if err != nil {
		log.Info("login failed", slog.Any("error", err))

		newErrorResponse(c, err)

		return
	}

	h.writeTokens(c, pair)
}

// GET /auth/refresh
func (h *Handler) Refresh(c *gin.Context) {
	const op = "handler.Refresh"

	log := h.log.With(slog.String("op", op))

	token, _ := c.Cookie(h.cookie.Name)

	pair, err := h.sessions.Refresh(c.Request.Context(), token, c.Request.UserAgent())
	if err != nil {
		log.Info("refresh failed", slog.Any("error", err))

		h.clearCookie(c, h.cookie.Name)
		newErrorResponse(c, err)

		return
	}

	h.writeTokens(c, pair)
}

// GET /auth/logout
func (h *Handler) Logout(c *gin.Context) {
	const op = "handler.Logout"

	log := h.log.With(slog.String("op", op))

	token, _ := c.Cookie(h.cookie.Name)

	if err := h.sessions.Logout(c.Request.Context(), token); err != nil {
		log.Info("logout failed", slog.Any("error", err))

		newErrorResponse(c, err)

		return
	}

	h.clearCookie(c, h.cookie.Name)

	c.Status(http.StatusOK)
}

// POST /auth/logout-all
func (h *Handler) LogoutAll(c *gin.Context) {
	const op = "handler.LogoutAll"

	log := h.log.With(slog.String("op", op))

	claims, ok := claimsFrom(c)
	if !ok {
		newErrorResponse(c, models.ErrUnauthenticated)

		return
	}

	if err := h.sessions.LogoutAll(c.Request.Context(), claims.ID); err != nil {
		log.Error("failed to remove all user refresh tokens", slog.Any("error", err))

		newErrorResponse(c, err)

		return
	}

	log.Info("user logged out everywhere", slog.String("user_id", claims.ID.String()))

	h.clearCookie(c, h.cookie.Name)

	c.Status(http.StatusOK)
}

// GET /auth/sessions
func (h *Handler) Sessions(c *gin.Context) {
	const op = "handler.Sessions"

	log := h.log.With(slog.String("op", op))

	claims, ok := claimsFrom(c)
	if !ok {
		newErrorResponse(c, models.ErrUnauthenticated)

		return
	}

	devices, err := h.sessions.Devices(c.Request.Context(), claims.ID)
	if err != nil {
		log.Error("failed to list sessions", slog.Any("error", err))

		newErrorResponse(c, err)

		return
	}

	type device struct {
		UserAgent string    `json:"userAgent"`
		ExpiresAt time.Time `json:"expiresAt"`
	}
	resp := make([]device, 0, len(devices))
	for _, d := range devices {
		resp = append(resp, device{UserAgent: d.UserAgent, ExpiresAt: d.ExpiresAt})
	}

	c.JSON(http.StatusOK, resp)
}

// GET /auth/oauth/:provider
func (h *Handler) ProviderRedirect(c *gin.Context) {
	const op = "handler.ProviderRedirect"

	log := h.log.With(slog.String("op", op))

	p, err := provider.Parse(c.Param("provider"))
	if err != nil {
		newErrorResponse(c, err)

		return
	}

	state, err := provider.NewState()
	if err != nil {
		log.Error("failed to generate state", slog.Any("error", err))

		newErrorResponse(c, err)

		return
	}

	url, err := h.providers.AuthCodeURL(p, state)
	if err != nil {
		newErrorResponse(c, err)

		return
	}

	h.setCookie(c, stateCookie, state, time.Now().Add(stateCookieTTL))

	c.Redirect(http.StatusTemporaryRedirect, url)
}

// GET /auth/oauth/:provider/callback
func (h *Handler) ProviderCallback(c *gin.Context) {
	const op = "handler.ProviderCallback"

	log := h.log.With(slog.String("op", op))

	p, err := provider.Parse(c.Param("provider"))
	if err != nil {
		newErrorResponse(c, err)

		return
	}

	state, _ := c.Cookie(stateCookie)
	h.clearCookie(c, stateCookie)
	if state == "" || state != c.Query("state") {
		log.Info("oauth state mismatch", slog.String("provider", string(p)))

		newErrorResponse(c, models.ErrUnauthenticated)

		return
	}

	code := c.Query("code")
	if code == "" {
		badRequest(c, "missing code")

		return
	}

	accessToken, err := h.providers.Exchange(c.Request.Context(), p, code)
	if err != nil {
		log.Info("code exchange failed", slog.Any("error", err))

		newErrorResponse(c, errors.Join(err, models.ErrUnauthenticated))

		return
	}

	pair, ok := h.providerLogin(c, log, p, accessToken)
	if !ok {
		return
	}

	if h.successRedirectURL != "" {
		h.setCookie(c, h.cookie.Name, pair.RefreshToken.Token, pair.RefreshToken.ExpiresAt)
		c.Redirect(http.StatusSeeOther, h.successRedirectURL)

		return
	}

	h.writeTokens(c, pair)
}

// GET /auth/oauth/:provider/success?token=
//
// Only Google tokens can be checked for the client they were issued to, so
// the route is served for Google alone.
func (h *Handler) ProviderSuccess(c *gin.Context) {
	const op = "handler.ProviderSuccess"

	log := h.log.With(slog.String("op", op))

	p, err := provider.Parse(c.Param("provider"))
	if err != nil {
		newErrorResponse(c, err)

		return
	}
	if p != models.ProviderGoogle {
		newErrorResponse(c, provider.ErrUnsupportedProvider)

		return
	}

	token := c.Query("token")
	if token == "" {
		badRequest(c, "missing token")

		return
	}

	if pair, ok := h.providerLogin(c, log, p, token); ok {
		h.writeTokens(c, pair)
	}
}

func (h *Handler) providerLogin(c *gin.Context, log *slog.Logger, p models.Provider, accessToken string) (models.TokenPair, bool) {
	email, err := h.providers.Email(c.Request.Context(), p, accessToken)
	if err != nil {
		log.Info("failed to resolve provider email", slog.Any("error", err))

		newErrorResponse(c, err)

		return models.TokenPair{}, false
	}

	pair, err := h.sessions.ProviderLogin(c.Request.Context(), email, c.Request.UserAgent(), p)
	if err != nil {
		log.Info("provider login failed", slog.Any("error", err))

		newErrorResponse(c, err)

		return models.TokenPair{}, false
	}

	return pair, true
}

func (h *Handler) writeTokens(c *gin.Context, pair models.TokenPair) {
	h.setCookie(c, h.cookie.Name, pair.RefreshToken.Token, pair.RefreshToken.ExpiresAt)

	c.JSON(http.StatusCreated, accessTokenResponse{AccessToken: pair.AccessToken})
}

func (h *Handler) setCookie(c *gin.Context, name, value string, expires time.Time) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearCookie(c *gin.Context, name string) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
