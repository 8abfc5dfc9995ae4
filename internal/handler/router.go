package handler

import (
	"net/http"

	"dairyrun/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRouter(svc *Services, cfg *config.Config) *gin.Engine {
	if cfg.Server.Mode == gin.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	h := NewHandler(svc)

	api := r.Group("/api/v1")
	api.Use(AuthMiddleware(cfg.Auth.JWTSecret, cfg.Auth.Issuer))
	{
		wallet := api.Group("/wallet")
		{
			wallet.GET("/balance", h.GetBalance)
			wallet.GET("/transactions", h.ListTransactions)
			wallet.POST("/recharge", h.Recharge)
		}

		subs := api.Group("/subscriptions")
		{
			subs.POST("", h.CreateSubscription)
			subs.GET("", h.ListSubscriptions)
			subs.GET("/:id", h.GetSubscription)
			subs.POST("/:id/status", h.UpdateSubscriptionStatus)
			subs.POST("/:id/pay", h.CompletePayment)
		}

		admin := api.Group("/admin")
		admin.Use(AdminMiddleware())
		{
			admin.POST("/dispatch", h.RunDispatch)
			admin.POST("/sweep", h.RunSweep)
			admin.GET("/dashboard", h.Dashboard)
			admin.GET("/subscriptions/paused", h.ListPausedSubscriptions)
			admin.GET("/deliveries/due", h.DueDeliveries)
			admin.POST("/deliveries/missed", h.RecordMissed)
			admin.POST("/notifications/recharge", h.SendRechargeReminders)
			admin.GET("/wallets/:user_id/audit", h.AuditWallet)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}
