package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"

	"github.com/d60-Lab/social-core/internal/api/middleware"
	"github.com/d60-Lab/social-core/internal/profile"
	"github.com/d60-Lab/social-core/internal/service"
	"github.com/d60-Lab/social-core/pkg/response"
)

// Handler HTTP/WebSocket 入口
type Handler struct {
	db         *gorm.DB
	relService service.RelationshipService
	counters   *service.CounterService
	reconciler *service.Reconciler
	chat       *service.ChatService
	hub        *service.SyncHub
	profiles   *profile.Directory
	upgrader   websocket.Upgrader
}

func NewHandler(
	db *gorm.DB,
	relService service.RelationshipService,
	counters *service.CounterService,
	reconciler *service.Reconciler,
	chat *service.ChatService,
	hub *service.SyncHub,
	profiles *profile.Directory,
) *Handler {
	return &Handler{
		db:         db,
		relService: relService,
		counters:   counters,
		reconciler: reconciler,
		chat:       chat,
		hub:        hub,
		profiles:   profiles,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// 跨域校验交给网关
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Health 健康检查
// @Summary 健康检查
// @Tags 系统
// @Produce json
// @Success 200 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /health [get]
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, gin.H{"status": "ok"})
}

func currentUser(c *gin.Context) string { return middleware.UserID(c) }
