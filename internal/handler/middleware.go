package handler

import (
	"net/http"
	"strings"
	"time"

	"ledgersystem/internal/service"
	"ledgersystem/pkg/response"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	HeaderTenantID  = "X-Tenant-ID"
	HeaderActorRole = "X-Actor-Role"

	ctxTenantID  = "tenant_id"
	ctxActorRole = "actor_role"
)

// LoggerMiddleware 请求日志
func LoggerMiddleware(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		if query != "" {
			path = path + "?" + query
		}

		fields := []zap.Field{
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("tenant_id", c.GetString(ctxTenantID)),
		}
		if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
			fields = append(fields, zap.String("trace_id", sc.TraceID().String()))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		if c.Writer.Status() >= http.StatusInternalServerError {
			log.Error("[HTTP]", fields...)
			return
		}
		log.Info("[HTTP]", fields...)
	}
}

// RecoveryMiddleware 恢复中间件，防止 panic 导致服务崩溃
func RecoveryMiddleware(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Error("[PANIC]", zap.Any("error", err), zap.String("path", c.Request.URL.Path), zap.Stack("stack"))
				response.ServerError(c, "服务器内部错误")
			}
		}()
		c.Next()
	}
}

// TraceMiddleware 从 traceparent 请求头恢复链路上下文，记账时写入发件箱
func TraceMiddleware() gin.HandlerFunc {
	propagator := propagation.TraceContext{}
	return func(c *gin.Context) {
		ctx := propagator.Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// TenantMiddleware 租户与角色来自请求头，缺少租户直接拒绝
func TenantMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := strings.TrimSpace(c.GetHeader(HeaderTenantID))
		if tenantID == "" {
			response.Error(c, http.StatusBadRequest, response.CodeMissingTenant, "缺少请求头 "+HeaderTenantID)
			return
		}
		c.Set(ctxTenantID, tenantID)
		c.Set(ctxActorRole, service.ResolveActorRole(c.GetHeader(HeaderActorRole)))
		c.Next()
	}
}

// WriteAccessMiddleware 只读角色不能调用写接口
func WriteAccessMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if actorRole(c) == service.RoleReader {
			response.Error(c, http.StatusForbidden, response.CodeForbidden, "只读角色不能执行写操作")
			return
		}
		c.Next()
	}
}

// AdminOnlyMiddleware 关账、年结等操作仅限管理员
func AdminOnlyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if actorRole(c) != service.RoleAdmin {
			response.Error(c, http.StatusForbidden, response.CodeForbidden, "该操作需要 FIS_ADMIN 角色")
			return
		}
		c.Next()
	}
}

func tenantID(c *gin.Context) string {
	return c.GetString(ctxTenantID)
}

func actorRole(c *gin.Context) service.ActorRole {
	if v, ok := c.Get(ctxActorRole); ok {
		if role, ok := v.(service.ActorRole); ok {
			return role
		}
	}
	return service.RoleAccountant
}
