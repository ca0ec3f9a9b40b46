package handler

import (
	"context"
	"log/slog"
	"net/http"

	"auth_session/internal/models"
	"auth_session/internal/provider"
	"auth_session/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type SessionService interface {
	Login(ctx context.Context, identifier, secret, deviceAgent string) (models.TokenPair, error)
	ProviderLogin(ctx context.Context, email, deviceAgent string, p models.Provider) (models.TokenPair, error)
	Refresh(ctx context.Context, presentedToken, deviceAgent string) (models.TokenPair, error)
	Logout(ctx context.Context, presentedToken string) error
	LogoutAll(ctx context.Context, userID uuid.UUID) error
	Devices(ctx context.Context, userID uuid.UUID) ([]models.RefreshToken, error)
}

type UserService interface {
	Register(ctx context.Context, email, password string) (models.User, error)
	Find(ctx context.Context, idOrEmail string) (models.User, error)
	List(ctx context.Context) ([]models.User, error)
	Delete(ctx context.Context, id uuid.UUID, caller service.Principal) error
	AssignRole(ctx context.Context, id uuid.UUID, role models.Role) error
	RemoveRole(ctx context.Context, id uuid.UUID, role models.Role) error
}

type CookieConfig struct {
	Name   string
	Secure bool
}

type Handler struct {
	sessions  SessionService
	users     UserService
	providers provider.Exchanger
	tokens    TokenParser
	gatherer  prometheus.Gatherer
	cookie    CookieConfig
	log       *slog.Logger

	successRedirectURL string
}

type Option func(*Handler)

// WithSuccessRedirect sends the browser to url after a provider callback
// instead of answering with the access token. The refresh cookie is set
// either way, so the page at url can call /auth/refresh.
func WithSuccessRedirect(url string) Option {
	return func(h *Handler) {
		h.successRedirectURL = url
	}
}

func NewHandler(
	sessions SessionService,
	users UserService,
	providers provider.Exchanger,
	tokens TokenParser,
	gatherer prometheus.Gatherer,
	cookie CookieConfig,
	lgr *slog.Logger,
	opts ...Option,
) *Handler {
	if cookie.Name == "" {
		cookie.Name = "refresh-token"
	}
	h := &Handler{
		sessions:  sessions,
		users:     users,
		providers: providers,
		tokens:    tokens,
		gatherer:  gatherer,
		cookie:    cookie,
		log:       lgr,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(h.log))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if h.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}

	authenticated := AuthMiddleware(h.tokens)

	auth := router.Group("/auth")
	{
		auth.POST("/register", h.Register)
		auth.POST("/login", h.Login)
		auth.GET("/refresh", h.Refresh)
		auth.GET("/logout", h.Logout)

		auth.POST("/logout-all", authenticated, h.LogoutAll)
		auth.GET("/sessions", authenticated, h.Sessions)

		oauth := auth.Group("/oauth/:provider")
		oauth.GET("", h.ProviderRedirect)
		oauth.GET("/callback", h.ProviderCallback)
		oauth.GET("/success", h.ProviderSuccess)
	}

	user := router.Group("/user", authenticated)
	{
		user.GET("", RequireRole(models.RoleAdmin), h.GetMe)
		user.GET("/:idOrEmail", h.GetUser)
		user.DELETE("/:id", h.DeleteUser)
	}

	admin := router.Group("/admin", authenticated, RequireRole(models.RoleAdmin))
	{
		admin.GET("/users", h.GetAllUsers)
		roles := admin.Group("/roles")
		{
			roles.POST("/assign", h.AssignRole)
			roles.POST("/remove", h.RemoveRole)
		}
	}

	return router
}
