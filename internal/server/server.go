package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/modulebilling/internal/config"
	entitlementdomain "github.com/smallbiznis/modulebilling/internal/entitlement/domain"
	ledgerdomain "github.com/smallbiznis/modulebilling/internal/ledger/domain"
	moduledomain "github.com/smallbiznis/modulebilling/internal/module/domain"
	obslogger "github.com/smallbiznis/modulebilling/internal/observability/logger"
	obstracing "github.com/smallbiznis/modulebilling/internal/observability/tracing"
	"github.com/smallbiznis/modulebilling/internal/scheduler"
	subscriptiondomain "github.com/smallbiznis/modulebilling/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Log:             log,
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type Params struct {
	fx.In

	Config        config.Config
	Log           *zap.Logger
	Engine        *gin.Engine
	Catalog       moduledomain.Catalog
	Subscriptions subscriptiondomain.Service
	Entitlements  entitlementdomain.Store
	Ledger        ledgerdomain.Ledger
	Scheduler     *scheduler.Scheduler `optional:"true"`
}

type Server struct {
	engine        *gin.Engine
	cfg           config.Config
	log           *zap.Logger
	catalog       moduledomain.Catalog
	subscriptions subscriptiondomain.Service
	entitlements  entitlementdomain.Store
	ledger        ledgerdomain.Ledger
	scheduler     *scheduler.Scheduler
}

func NewServer(p Params) *Server {
	s := &Server{
		engine:        p.Engine,
		cfg:           p.Config,
		log:           p.Log.Named("http.server"),
		catalog:       p.Catalog,
		subscriptions: p.Subscriptions,
		entitlements:  p.Entitlements,
		ledger:        p.Ledger,
		scheduler:     p.Scheduler,
	}
	s.RegisterRoutes()
	return s
}

func (s *Server) RegisterRoutes() {
	api := s.engine.Group("/api")
	{
		api.GET("/modules", s.ListModules)
		api.GET("/modules/:module_id", s.GetModule)

		store := api.Group("/stores/:store_id")
		store.POST("/modules/:module_id/purchase", s.PurchaseModule)
		store.POST("/modules/:module_id/cancel", s.CancelModule)
		store.DELETE("/modules/:module_id", s.UninstallModule)
		store.GET("/modules/:module_id/subscription", s.GetSubscription)
		store.GET("/subscriptions", s.ListSubscriptions)
		store.GET("/entitlements", s.ListEntitlements)
		store.GET("/transactions", s.ListTransactions)
	}

	internal := s.engine.Group("/internal", s.CronAuth())
	internal.POST("/cron/billing", s.RunBillingCron)
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func run(lc fx.Lifecycle, cfg config.Config, s *Server, log *zap.Logger) {
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
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
			log.Info("http server listening", zap.String("addr", srv.Addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
