package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/social-core/pkg/response"
)

// AdminOnly 只放行配置中的管理员用户；必须放在 JWTAuth 之后。列表为空时全部拒绝
func AdminOnly(adminIDs []string) gin.HandlerFunc {
	admins := make(map[string]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		if id != "" {
			admins[id] = struct{}{}
		}
	}
	return func(c *gin.Context) {
		if _, ok := admins[UserID(c)]; !ok {
			response.Forbidden(c, "admin only")
			c.Abort()
			return
		}
		c.Next()
	}
}
