package handler

import (
	"github.com/gin-gonic/gin"
)

// SetupRouter wires the HTTP surface.
func SetupRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	api := r.Group("/api/v1")
	{
		account := api.Group("/account")
		{
			account.GET("/detail", h.GetAccount)
			account.GET("/transactions", h.ListTransactions)
			account.GET("/reconcile", h.Reconcile)
			account.GET("/tiers", h.GetTiers)
			account.POST("/stake", h.Stake)
			account.POST("/unstake", h.Unstake)
		}

		discount := api.Group("/discount")
		{
			discount.POST("/quote", h.Quote)
			discount.POST("/request", h.CreateDiscountRequest)
			discount.GET("/detail", h.GetDiscountRequest)
			discount.GET("/list", h.ListDiscountRequests)
			discount.POST("/confirm", h.ConfirmDiscountRequest)
		}

		opportunity := api.Group("/opportunity")
		{
			opportunity.GET("/detail", h.GetOpportunity)
			opportunity.GET("/list", h.ListOpportunities)
			opportunity.POST("/resolve", h.ResolveOpportunity)
		}

		withdrawal := api.Group("/withdrawal")
		{
			withdrawal.POST("/create", h.CreateWithdrawal)
			withdrawal.POST("/cancel", h.CancelWithdrawal)
			withdrawal.GET("/detail", h.GetWithdrawal)
			withdrawal.GET("/list", h.ListWithdrawals)
		}

		settlement := api.Group("/settlement")
		{
			settlement.POST("/deposit", h.Deposit)
			settlement.POST("/reward", h.Reward)
			settlement.POST("/withdrawal/processing", h.MarkWithdrawalProcessing)
			settlement.POST("/withdrawal/complete", h.CompleteWithdrawal)
			settlement.POST("/withdrawal/fail", h.FailWithdrawal)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
