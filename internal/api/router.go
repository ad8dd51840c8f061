package api

import (
	"github.com/gin-gonic/gin"

	"github.com/movalsociety/ledger/internal/api/handlers"
	"github.com/movalsociety/ledger/internal/api/middleware"
	"github.com/movalsociety/ledger/internal/ledger"
	"github.com/movalsociety/ledger/internal/metrics"
)

// Router wraps the Gin router with handlers
type Router struct {
	engine       *gin.Engine
	blockHandler *handlers.BlockHandler
	txHandler    *handlers.TxHandler
	chainHandler *handlers.ChainHandler
}

// NewRouter creates a new Router with all handlers
func NewRouter(service *ledger.Service, sealLimit int) *Router {
	gin.SetMode(gin.ReleaseMode)

	r := &Router{
		engine:       gin.New(),
		blockHandler: handlers.NewBlockHandler(service, sealLimit),
		txHandler:    handlers.NewTxHandler(service.Store),
		chainHandler: handlers.NewChainHandler(service.Verifier, service.Reconciler),
	}

	r.setupMiddleware()
	r.setupRoutes()

	return r
}

// setupMiddleware configures middleware
func (r *Router) setupMiddleware() {
	r.engine.Use(middleware.Recovery())
	r.engine.Use(middleware.Logger())
	r.engine.Use(middleware.CORS())
}

// setupRoutes configures API routes
func (r *Router) setupRoutes() {
	// Health check
	r.engine.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	// API v1 routes
	v1 := r.engine.Group("/api/v1")
	v1.Use(middleware.Session())
	{
		// Block routes
		blocks := v1.Group("/blocks")
		{
			blocks.GET("", r.blockHandler.List)
			blocks.POST("", r.blockHandler.Create)
			blocks.POST("/seal", r.blockHandler.Seal)
			blocks.GET("/latest", r.blockHandler.GetLatest)
			blocks.GET("/sequence/:sequence", r.blockHandler.GetBySequence)
			blocks.GET("/:id", r.blockHandler.GetByID)
		}

		// Transaction routes
		txs := v1.Group("/transactions")
		{
			txs.POST("", r.txHandler.Create)
			txs.GET("/pending", r.txHandler.Pending)
			txs.GET("/:id", r.txHandler.Get)
		}

		// Chain integrity routes
		chain := v1.Group("/chain")
		{
			chain.GET("/verify", r.chainHandler.Verify)
			chain.POST("/reconcile", r.chainHandler.Reconcile)
		}
	}
}

// Engine returns the underlying Gin engine
func (r *Router) Engine() *gin.Engine {
	return r.engine
}
