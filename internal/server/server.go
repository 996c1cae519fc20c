package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/chainstream/internal/config"
	"github.com/smallbiznis/chainstream/internal/events"
	ledgerdomain "github.com/smallbiznis/chainstream/internal/ledger/domain"
	liabilitydomain "github.com/smallbiznis/chainstream/internal/liability/domain"
	"github.com/smallbiznis/chainstream/internal/observability"
	obslogger "github.com/smallbiznis/chainstream/internal/observability/logger"
	paymentdomain "github.com/smallbiznis/chainstream/internal/payment/domain"
	"github.com/smallbiznis/chainstream/internal/ratelimit"
	routedomain "github.com/smallbiznis/chainstream/internal/route/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, r *gin.Engine) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
	liabilities liabilitydomain.Service
	agent       paymentdomain.Service
	routes      routedomain.Service
	ledger      ledgerdomain.Service
	events      *events.Hub
	limiter     *ratelimit.Limiter
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	Log         *zap.Logger
	Liabilities liabilitydomain.Service
	Agent       paymentdomain.Service
	Routes      routedomain.Service
	Ledger      ledgerdomain.Service
	Events      *events.Hub        `optional:"true"`
	Limiter     *ratelimit.Limiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		log:         p.Log.Named("http.server"),
		liabilities: p.Liabilities,
		agent:       p.Agent,
		routes:      p.Routes,
		ledger:      p.Ledger,
		events:      p.Events,
		limiter:     p.Limiter,
	}

	svc.registerAPIRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/v1")

	api.GET("/liabilities", s.GetLiabilities)
	api.GET("/liabilities/export", s.ExportLiabilities)
	api.GET("/liabilities/catalog", s.ListCatalog)
	api.POST("/liabilities/:service/apply", s.ApplyUsage)
	api.POST("/liabilities/scenario", s.LoadScenario)
	api.POST("/liabilities/reset", s.ResetLiabilities)

	api.GET("/agent", s.GetAgent)
	api.PUT("/agent/payer", s.SetPayer)
	api.POST("/agent/routes", s.FindRoutes)
	api.POST("/agent/select", s.SelectRoute)
	api.POST("/agent/execute", s.ExecutePayment)
	api.POST("/agent/cancel", s.CancelPayment)
	api.POST("/agent/abandon", s.AbandonRoutes)

	api.GET("/routes/quote", s.QuoteRateLimit(), s.QuoteRoutes)

	api.GET("/transactions", s.ListTransactions)
	api.GET("/transactions/:id", s.GetTransaction)
	api.DELETE("/transactions", s.ClearTransactions)

	api.GET("/events", s.StreamEvents)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
