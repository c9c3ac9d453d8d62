package handler

import (
	"bookkeeper/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	// 创建处理器
	h := NewHandler(db, rdb, cfg)

	// API 路由组
	api := r.Group("/api/v1")
	{
		// 账户相关
		account := api.Group("/account")
		{
			account.POST("/open", h.OpenAccount)
			account.GET("/balance", h.GetBalance)
			account.GET("/list", h.ListAccounts)
		}

		// 分录相关
		ledgerGroup := api.Group("/ledger")
		{
			ledgerGroup.POST("/post", h.PostEntry)
			ledgerGroup.POST("/void", h.VoidEntry)
			ledgerGroup.GET("/detail", h.GetEntry)
			ledgerGroup.GET("/list", h.ListEntries)
		}

		// 会计恒等式
		equation := api.Group("/equation")
		{
			equation.GET("/check", h.CheckEquation)
		}

		// 审计链与默克尔批次
		audit := api.Group("/audit")
		{
			audit.GET("/verify", h.VerifyChain)
			audit.POST("/batch", h.BuildBatch)
			audit.GET("/batches", h.ListBatches)
			audit.GET("/proof", h.GetProof)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
