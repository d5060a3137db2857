package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"degree-ledger/backend/config"
	"degree-ledger/backend/internal/api/handler"
	"degree-ledger/backend/internal/api/middleware"
	"degree-ledger/backend/pkg/jwt"
	"degree-ledger/backend/pkg/redis"
)

const (
	maxBodyBytes     = 1 << 20
	verifyRateLimit  = 60
	verifyRateWindow = time.Minute
)

// Setup 初始化并返回 Gin 路由引擎
// rdb 为 nil 时 Token 黑名单与限流降级
func Setup(cfg *config.Config, h *handler.Handler, jwtMgr *jwt.Manager, rdb *redis.Client, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// ── 全局中间件 ──
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.SecurityHeaders(cfg.Server.EnableHSTS))
	r.Use(middleware.CORS(cfg.Server.CORS.AllowOrigins))
	r.Use(middleware.BodyLimit(maxBodyBytes))

	// ── 健康检查 ──
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// ── API v1 ──
	v1 := r.Group("/api/v1")
	{
		// 公开验证（无需认证，按 IP 限流）
		v1.GET("/verify", middleware.RateLimit(rdb, "verify", verifyRateLimit, verifyRateWindow), h.Verify.Verify)

		// 需要认证的路由
		authorized := v1.Group("")
		authorized.Use(middleware.JWTAuth(jwtMgr, rdb))
		{
			// 学位申请模块
			requests := authorized.Group("/degree-requests")
			{
				requests.POST("", middleware.RoleAuth(jwt.RoleStudent, jwt.RoleAdmin), h.Degree.Submit)
				requests.GET("", middleware.RoleAuth(jwt.RoleAdmin), h.Degree.List)
				requests.GET("/:student_id", h.Degree.Get) // admin 或本人（Handler 层鉴权）
				requests.POST("/:student_id/decision", middleware.RoleAuth(jwt.RoleAdmin), h.Degree.Decide)
				requests.POST("/:student_id/reconcile", middleware.RoleAuth(jwt.RoleAdmin), h.Degree.Reconcile)
			}

			// 已签发学位模块（admin 或本人）
			degrees := authorized.Group("/degrees")
			{
				degrees.GET("/:student_id", h.Degree.GetIssued)
				degrees.GET("/:student_id/artifact", h.Degree.GetArtifact)
			}

			// 导出模块
			export := authorized.Group("/export")
			{
				export.GET("/issued-degrees", middleware.RoleAuth(jwt.RoleAdmin), h.Export.ExportIssuedRegister)
			}
		}
	}

	return r
}
