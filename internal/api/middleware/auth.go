package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/d60-Lab/social-core/pkg/response"
)

const ContextUserID = "user_id"

// JWTAuth 校验 HS256 bearer token，sub 即用户 ID；token 由外部身份服务签发。
// websocket 握手无法带 header 时可用 access_token 查询参数
func JWTAuth(secret, issuer string) gin.HandlerFunc {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	parser := jwt.NewParser(opts...)
	key := []byte(secret)

	return func(c *gin.Context) {
		raw := bearerToken(c.GetHeader("Authorization"))
		if raw == "" {
			raw = c.Query("access_token")
		}
		if raw == "" {
			response.Unauthorized(c, "missing token")
			return
		}

		claims := &jwt.RegisteredClaims{}
		tok, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) { return key, nil })
		if err != nil || !tok.Valid || claims.Subject == "" {
			response.Unauthorized(c, "invalid token")
			return
		}
		c.Set(ContextUserID, claims.Subject)
		c.Next()
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

// UserID 当前请求的用户 ID，未认证时为空
func UserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}
