// Package middleware provides HTTP middleware for the control surface.
package middleware

import (
	"context"
	"crypto/subtle"
	"strings"

	pkglog "OrderRelay/pkg/log"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-kratos/kratos/v2/transport/http"
)

const ReasonUnauthorized = "UNAUTHORIZED"

// AdminToken 校验控制接口的管理员令牌
// 令牌来自 "Authorization: Bearer {token}" 或 X-Admin-Token。
// token 为空时不做校验（本地开发）。
//
// 日志输出示例:
//
//	🚨 Rejected control request: POST /api/v1/sessions:emergency-stop (token: abcdefgh***)
func AdminToken(token string, logger *pkglog.LogHelper) middleware.Middleware {
	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			if token == "" {
				return handler(ctx, req)
			}

			var (
				presented string
				method    string
				path      string
			)
			if tr, ok := transport.FromServerContext(ctx); ok {
				if ht, ok := tr.(http.Transporter); ok {
					r := ht.Request()
					method = r.Method
					path = r.URL.Path
					if auth := r.Header.Get("Authorization"); auth != "" {
						presented = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
					}
					if presented == "" {
						presented = r.Header.Get("X-Admin-Token")
					}
				}
			}

			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				logger.Alert("Rejected control request: "+method+" "+path+" (token: "+maskToken(presented)+")",
					"method", method,
					"path", path,
				)
				return nil, errors.Unauthorized(ReasonUnauthorized, "invalid or missing admin token")
			}
			return handler(ctx, req)
		}
	}
}

// maskToken 仅显示前 8 位
// 示例: "sk-1234567890abcdef" -> "sk-12345***"
func maskToken(key string) string {
	if key == "" {
		return "none"
	}
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:8] + "***"
}
