package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/d60-Lab/social-core/pkg/logger"
	"github.com/d60-Lab/social-core/pkg/response"
)

// Recovery 捕获 panic 并返回 500；上报 sentry 由 sentrygin 负责（Repanic 后到达这里）
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logger.Error("panic recovered",
			zap.Any("panic", recovered),
			zap.String("path", c.Request.URL.Path),
			zap.String("request_id", c.GetString(ContextRequestID)),
			zap.Stack("stack"),
		)
		response.InternalError(c, fmt.Errorf("panic: %v", recovered))
		c.Abort()
	})
}
