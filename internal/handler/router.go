package handler

import (
	"creditcore/internal/config"

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
		// 授信相关
		credit := api.Group("/credit")
		{
			credit.POST("/authorize", h.Authorize)
			credit.POST("/capture", h.Capture)
			credit.POST("/void", h.Void)
			credit.POST("/chargeback", h.Chargeback)
		}

		// 交易查询
		transaction := api.Group("/transaction")
		{
			transaction.GET("/detail", h.GetTransaction)
			transaction.GET("/list", h.ListTransactions)
		}

		// 会员相关
		member := api.Group("/member")
		{
			member.GET("/detail", h.GetMember)
			member.POST("/register", h.RegisterMember)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
