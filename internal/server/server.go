package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/promptmart/internal/config"
	"github.com/smallbiznis/promptmart/internal/ledger"
	ledgerdomain "github.com/smallbiznis/promptmart/internal/ledger/domain"
	"github.com/smallbiznis/promptmart/internal/listing"
	listingdomain "github.com/smallbiznis/promptmart/internal/listing/domain"
	"github.com/smallbiznis/promptmart/internal/lock"
	"github.com/smallbiznis/promptmart/internal/observability"
	obsmiddleware "github.com/smallbiznis/promptmart/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/promptmart/internal/observability/metrics"
	obstracing "github.com/smallbiznis/promptmart/internal/observability/tracing"
	"github.com/smallbiznis/promptmart/internal/payment"
	paymentdomain "github.com/smallbiznis/promptmart/internal/payment/domain"
	"github.com/smallbiznis/promptmart/internal/payout"
	payoutdomain "github.com/smallbiznis/promptmart/internal/payout/domain"
	"github.com/smallbiznis/promptmart/internal/purchase"
	purchasedomain "github.com/smallbiznis/promptmart/internal/purchase/domain"
	"github.com/smallbiznis/promptmart/internal/ratelimit"
	"github.com/smallbiznis/promptmart/internal/rewards"
	rewardsdomain "github.com/smallbiznis/promptmart/internal/rewards/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Domains bundles every marketplace service module. Both the HTTP server and
// the scheduler process build on it.
var Domains = fx.Options(
	lock.Module,
	ledger.Module,
	listing.Module,
	purchase.Module,
	rewards.Module,
	payout.Module,
	payment.Module,
)

var Module = fx.Module("http.server",
	ratelimit.Module,
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, s *Server, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine      *gin.Engine
	cfg         config.Config
	log         *zap.Logger
	ledgerSvc   ledgerdomain.Service
	listingSvc  listingdomain.Service
	purchaseSvc purchasedomain.Service
	rewardsSvc  rewardsdomain.Service
	payoutSvc   payoutdomain.Service
	webhookSvc  paymentdomain.Service
	limiter     *ratelimit.WriteLimiter
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	Log         *zap.Logger
	LedgerSvc   ledgerdomain.Service
	ListingSvc  listingdomain.Service
	PurchaseSvc purchasedomain.Service
	RewardsSvc  rewardsdomain.Service
	PayoutSvc   payoutdomain.Service
	WebhookSvc  paymentdomain.Service
	Limiter     *ratelimit.WriteLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		log:         p.Log.Named("http.server"),
		ledgerSvc:   p.LedgerSvc,
		listingSvc:  p.ListingSvc,
		purchaseSvc: p.PurchaseSvc,
		rewardsSvc:  p.RewardsSvc,
		payoutSvc:   p.PayoutSvc,
		webhookSvc:  p.WebhookSvc,
		limiter:     p.Limiter,
	}

	svc.registerAPIRoutes()
	svc.registerWebhookRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")
	byIP := func(c *gin.Context) string { return c.ClientIP() }
	byOwner := func(c *gin.Context) string { return c.Param("owner_id") }

	// -------- Listings --------
	api.POST("/listings", s.CreateListing)
	api.GET("/listings/:id", s.GetListing)
	api.POST("/listings/:id/archive", s.ArchiveListing)

	// -------- Purchases --------
	api.POST("/purchases", s.limiter.GinMiddleware("purchase", byIP), s.CreatePurchase)
	api.GET("/orders/:id", s.GetOrder)
	api.POST("/orders/:id/refund", s.RefundOrder)
	api.GET("/licenses/:key", s.GetLicense)

	// -------- Accounts --------
	api.GET("/accounts/:owner_id/balance", s.GetBalance)
	api.GET("/accounts/:owner_id/transactions", s.ListTransactions)
	api.GET("/accounts/:owner_id/daily-claim", s.GetDailyStatus)
	api.POST("/accounts/:owner_id/daily-claim", s.limiter.GinMiddleware("daily_claim", byOwner), s.ClaimDaily)
	api.POST("/accounts/:owner_id/grants", s.limiter.GinMiddleware("grant", byOwner), s.Grant)

	// -------- Payouts --------
	api.PUT("/sellers/:owner_id/payout-destinations/:provider", s.SetPayoutDestination)
	api.POST("/payouts/runs", s.RunPayoutBatch)
	api.GET("/payouts/batches/:id", s.GetPayoutBatch)
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/:provider", s.HandlePaymentWebhook)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
