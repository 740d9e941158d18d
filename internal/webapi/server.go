package webapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/influelab/riskgate/internal/accounts"
	"github.com/influelab/riskgate/internal/aigateway"
	"github.com/influelab/riskgate/internal/identity"
	"github.com/influelab/riskgate/internal/payments"
	"github.com/influelab/riskgate/pkg/ledger"
)

var errInvalidServerConfig = errors.New("invalid server configuration")

// Dependencies carries the services the HTTP surface exposes.
type Dependencies struct {
	Logger     *zap.Logger
	Credits    *ledger.Service
	Accounts   *accounts.Service
	Reconciler *payments.Reconciler
	Analyzer   aigateway.Analyzer
	Tokens     *identity.TokenCodec
	Prices     payments.PriceTable
}

// Server is the HTTP front of the analysis service.
type Server struct {
	cfg        Config
	logger     *zap.Logger
	credits    *ledger.Service
	accounts   *accounts.Service
	reconciler *payments.Reconciler
	analyzer   aigateway.Analyzer
	tokens     *identity.TokenCodec
	prices     payments.PriceTable
	limiter    *rateLimiter
}

// NewServer validates the configuration and wires a Server.
func NewServer(cfg Config, deps Dependencies) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Credits == nil {
		return nil, fmt.Errorf("%w: credits service is nil", errInvalidServerConfig)
	}
	if deps.Accounts == nil {
		return nil, fmt.Errorf("%w: accounts service is nil", errInvalidServerConfig)
	}
	if deps.Reconciler == nil {
		return nil, fmt.Errorf("%w: reconciler is nil", errInvalidServerConfig)
	}
	if deps.Analyzer == nil {
		return nil, fmt.Errorf("%w: analyzer is nil", errInvalidServerConfig)
	}
	if deps.Tokens == nil {
		return nil, fmt.Errorf("%w: token codec is nil", errInvalidServerConfig)
	}
	if len(deps.Prices) == 0 {
		return nil, fmt.Errorf("%w: empty price table", errInvalidServerConfig)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:        cfg,
		logger:     logger,
		credits:    deps.Credits,
		accounts:   deps.Accounts,
		reconciler: deps.Reconciler,
		analyzer:   deps.Analyzer,
		tokens:     deps.Tokens,
		prices:     deps.Prices,
		limiter:    newRateLimiter(cfg.RatePerMinute, time.Minute, cfg.MinRequestInterval),
	}, nil
}

// Run serves HTTP until ctx is canceled.
func (server *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    server.cfg.ListenAddr,
		Handler: server.setupRouter(),
	}

	errCh := make(chan error, 1)
	go func() {
		server.logger.Info("webapi listening", zap.String("addr", server.cfg.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			server.logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (server *Server) setupRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     server.cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	})

	// Provider callbacks carry no cookies or tokens.
	router.POST("/webhooks/payment", server.handlePaymentWebhook)

	api := router.Group("/")
	api.Use(server.identityMiddleware())

	// Only the analysis endpoints are expensive enough to budget.
	api.POST("/analyze/photo", server.rateLimitMiddleware(), server.handleAnalyzePhoto)
	api.POST("/analyze/text", server.rateLimitMiddleware(), server.handleAnalyzeText)
	api.POST("/purchase", server.handlePurchase)
	api.GET("/credits/status", server.handleCreditsStatus)
	api.GET("/gate/login", server.handleLoginGate)
	api.POST("/auth/register", server.handleRegister)
	api.POST("/auth/login", server.handleLogin)
	api.GET("/user/profile", server.handleProfile)

	return router
}
