package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(h *Handler, db *gorm.DB, log *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware(log))
	r.Use(TraceMiddleware())
	r.Use(LoggerMiddleware(log))

	api := r.Group("/api/v1", TenantMiddleware())
	{
		journals := api.Group("/journal-entries")
		{
			journals.GET("", h.ListJournalEntries)
			journals.GET("/:id", h.GetJournalEntry)
			journals.POST("", WriteAccessMiddleware(), h.CreateJournalEntry)
			journals.POST("/batch", WriteAccessMiddleware(), h.CreateJournalEntriesBatch)
			journals.POST("/:id/reverse", WriteAccessMiddleware(), h.ReverseJournalEntry)
			journals.POST("/:id/correct", WriteAccessMiddleware(), h.CorrectJournalEntry)
		}

		accounts := api.Group("/accounts")
		{
			accounts.GET("/:code", h.GetAccount)
			accounts.POST("", WriteAccessMiddleware(), h.CreateAccount)
			accounts.PATCH("/:code/active", AdminOnlyMiddleware(), h.SetAccountActive)
		}

		periods := api.Group("/periods")
		{
			periods.GET("", h.ListPeriods)
			periods.POST("", AdminOnlyMiddleware(), h.CreatePeriod)
			periods.PATCH("/:id/status", AdminOnlyMiddleware(), h.ChangePeriodStatus)
			periods.POST("/:id/revaluation", AdminOnlyMiddleware(), h.RunRevaluation)
		}

		api.POST("/year-end-close", AdminOnlyMiddleware(), h.YearEndClose)

		admin := api.Group("/admin")
		{
			admin.GET("/integrity", h.CheckIntegrity)
			admin.GET("/chain", h.VerifyChain)
		}
	}

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "down", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}
