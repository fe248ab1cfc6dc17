package api

import (
	"regexp"
	"strings"

	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/d60-Lab/social-core/config"
	_ "github.com/d60-Lab/social-core/docs"
	"github.com/d60-Lab/social-core/internal/api/handler"
	"github.com/d60-Lab/social-core/internal/api/middleware"
)

var handlePattern = regexp.MustCompile(`^[a-z0-9_.]{3,32}$`)

// validateHandle handle 规范化（小写、去空白）后只允许字母数字、下划线和点
func validateHandle(fl validator.FieldLevel) bool {
	return handlePattern.MatchString(strings.ToLower(strings.TrimSpace(fl.Field().String())))
}

func registerValidators() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("handle", validateHandle)
	}
}

// NewRouter 组装中间件与路由
func NewRouter(cfg *config.Config, h *handler.Handler) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)
	registerValidators()

	r := gin.New()
	r.Use(
		middleware.Recovery(),
		sentrygin.New(sentrygin.Options{Repanic: true}),
		middleware.RequestID(),
		middleware.Logger(),
	)
	if cfg.Tracing.Enabled {
		r.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	}

	r.GET("/health", h.Health)
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	auth := middleware.JWTAuth(cfg.JWT.Secret, cfg.JWT.Issuer)

	// websocket 连接不走超时和 gzip
	ws := r.Group("/api/v1/ws", auth)
	{
		ws.GET("/chats", h.StreamConversations)
		ws.GET("/chats/:peer_id", h.StreamMessages)
	}

	v1 := r.Group("/api/v1", auth, middleware.Timeout(cfg.Server.RequestTimeout), gzip.Gzip(gzip.DefaultCompression))
	{
		sendLimiter := middleware.NewRateLimiter(cfg.RateLimit.MessagesPerSecond, cfg.RateLimit.Burst)

		chats := v1.Group("/chats")
		chats.GET("", h.ListConversations)
		chats.POST("/:peer_id/messages", sendLimiter.Middleware(), h.SendMessage)
		chats.GET("/:peer_id/messages", h.ListMessages)
		chats.POST("/:peer_id/read", h.MarkRead)

		rel := v1.Group("/relations")
		rel.GET("/suggestions", h.Suggestions)
		rel.POST("/:user_id/follow", h.Follow)
		rel.DELETE("/:user_id/follow", h.Unfollow)
		rel.GET("/:user_id/status", h.CheckStatus)
		rel.GET("/:user_id/followers", h.ListFollowers)
		rel.GET("/:user_id/following", h.ListFollowing)
		rel.GET("/:user_id/counts", h.Counts)
		rel.GET("/:user_id/mutual", h.Mutual)

		reqs := v1.Group("/follow-requests")
		reqs.GET("", h.ListPendingRequests)
		reqs.POST("/:requester_id/accept", h.AcceptRequest)
		reqs.POST("/:requester_id/reject", h.RejectRequest)

		admin := v1.Group("/graph", middleware.AdminOnly(cfg.JWT.AdminUsers))
		admin.POST("/reconcile", h.Reconcile)

		v1.GET("/me", h.GetMe)
		v1.PUT("/me", h.UpdateMe)
		v1.GET("/users/:user_id", h.GetUser)
		v1.GET("/search/users", h.SearchUsers)
	}
	return r
}
