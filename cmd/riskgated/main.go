package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/influelab/riskgate/internal/accounts"
	"github.com/influelab/riskgate/internal/aigateway"
	"github.com/influelab/riskgate/internal/identity"
	"github.com/influelab/riskgate/internal/payments"
	"github.com/influelab/riskgate/internal/store/gormstore"
	"github.com/influelab/riskgate/internal/webapi"
	"github.com/influelab/riskgate/pkg/ledger"
)

const (
	flagDatabaseURL     = "database-url"
	flagListenAddr      = "listen-addr"
	flagAllowedOrigins  = "allowed-origins"
	flagTokenSecret     = "token-secret"
	flagTokenLifetime   = "token-lifetime"
	flagWebhookSecret   = "webhook-secret"
	flagCheckoutBaseURL = "checkout-base-url"
	flagPaymentProvider = "payment-provider"
	flagPriceTable      = "price-table"
	flagOpenAIAPIKey    = "openai-api-key"
	flagVisionModel     = "vision-model"
	flagTextModel       = "text-model"
	flagGatewayTimeout  = "gateway-timeout"
	flagGatewayRetries  = "gateway-retries"
	flagGatewayBackoff  = "gateway-backoff"
	flagGatewayStub     = "gateway-stub"
	flagFreeCredits     = "free-credits"
	flagMaxUploadMB     = "max-upload-mb"
	flagRatePerMinute   = "rate-per-minute"
	flagMinInterval     = "min-request-interval"
	flagSessionCookie   = "session-cookie"
	flagCookieSecure    = "cookie-secure"
	flagHistoryLimit    = "history-limit"
	flagSeedEmail       = "seed-email"
	flagSeedPassword    = "seed-password"
	flagSeedCredits     = "seed-credits"

	envPrefix = "RISKGATE"

	defaultDatabaseURL   = "sqlite:///tmp/riskgate.db"
	defaultPriceTable    = "10:2990,20:5490,50:11990"
	defaultTokenLifetime = 7 * 24 * time.Hour
	defaultSeedCredits   = 1000

	providerMock = "mock"
	providerLive = "live"
)

type runtimeConfig struct {
	DatabaseURL     string
	TokenSecret     string
	TokenLifetime   time.Duration
	WebhookSecret   string
	CheckoutBaseURL string
	PaymentProvider string
	PriceTable      payments.PriceTable
	OpenAIAPIKey    string
	VisionModel     string
	TextModel       string
	GatewayTimeout  time.Duration
	GatewayRetries  int
	GatewayBackoff  time.Duration
	GatewayStub     bool
	SeedEmail       string
	SeedPassword    string
	SeedCredits     int64
	Web             webapi.Config
}

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "riskgated: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "riskgated",
		Short:         "Credit-gated content risk analysis server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "database connection string (postgres:// or sqlite path)")
	cmd.Flags().String(flagListenAddr, "", "HTTP listen address")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	cmd.Flags().String(flagTokenSecret, "", "bearer token signing secret (required)")
	cmd.Flags().Duration(flagTokenLifetime, defaultTokenLifetime, "bearer token lifetime")
	cmd.Flags().String(flagWebhookSecret, "", "payment webhook shared secret; empty accepts callbacks unverified")
	cmd.Flags().String(flagCheckoutBaseURL, "", "payment provider checkout base URL")
	cmd.Flags().String(flagPaymentProvider, providerMock, "payment provider variant: mock or live")
	cmd.Flags().String(flagPriceTable, defaultPriceTable, "credit packages as package:cents pairs")
	cmd.Flags().String(flagOpenAIAPIKey, "", "model service API key; empty selects the stub analyzer")
	cmd.Flags().String(flagVisionModel, "", "vision model name")
	cmd.Flags().String(flagTextModel, "", "text model name")
	cmd.Flags().Duration(flagGatewayTimeout, 0, "per-call model timeout")
	cmd.Flags().Int(flagGatewayRetries, 2, "model call retries")
	cmd.Flags().Duration(flagGatewayBackoff, 0, "model retry backoff")
	cmd.Flags().Bool(flagGatewayStub, false, "force the deterministic stub analyzer")
	cmd.Flags().Int64(flagFreeCredits, 0, "free credits granted to a new anonymous session")
	cmd.Flags().Int64(flagMaxUploadMB, 0, "photo upload ceiling in megabytes")
	cmd.Flags().Int(flagRatePerMinute, 0, "per-IP request budget per minute")
	cmd.Flags().Duration(flagMinInterval, 0, "minimum spacing between requests per IP")
	cmd.Flags().String(flagSessionCookie, "", "anonymous session cookie name")
	cmd.Flags().Bool(flagCookieSecure, false, "mark the session cookie secure")
	cmd.Flags().Int(flagHistoryLimit, 0, "analyses returned by the profile endpoint")
	cmd.Flags().String(flagSeedEmail, "", "operator account email to ensure at boot")
	cmd.Flags().String(flagSeedPassword, "", "operator account password")
	cmd.Flags().Int64(flagSeedCredits, defaultSeedCredits, "operator account credit balance")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	// Development convenience; a missing .env is not an error.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	flagNames := []string{
		flagDatabaseURL, flagListenAddr, flagAllowedOrigins,
		flagTokenSecret, flagTokenLifetime,
		flagWebhookSecret, flagCheckoutBaseURL, flagPaymentProvider, flagPriceTable,
		flagOpenAIAPIKey, flagVisionModel, flagTextModel,
		flagGatewayTimeout, flagGatewayRetries, flagGatewayBackoff, flagGatewayStub,
		flagFreeCredits, flagMaxUploadMB, flagRatePerMinute, flagMinInterval,
		flagSessionCookie, flagCookieSecure, flagHistoryLimit,
		flagSeedEmail, flagSeedPassword, flagSeedCredits,
	}
	for _, flagName := range flagNames {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = strings.TrimSpace(v.GetString(flagDatabaseURL))
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.TokenSecret = v.GetString(flagTokenSecret)
	if cfg.TokenSecret == "" {
		return fmt.Errorf("%s is required", flagTokenSecret)
	}
	cfg.TokenLifetime = v.GetDuration(flagTokenLifetime)
	if cfg.TokenLifetime <= 0 {
		cfg.TokenLifetime = defaultTokenLifetime
	}
	cfg.WebhookSecret = v.GetString(flagWebhookSecret)
	cfg.CheckoutBaseURL = strings.TrimSpace(v.GetString(flagCheckoutBaseURL))
	cfg.PaymentProvider = strings.ToLower(strings.TrimSpace(v.GetString(flagPaymentProvider)))
	if cfg.PaymentProvider != providerMock && cfg.PaymentProvider != providerLive {
		return fmt.Errorf("%s must be %q or %q", flagPaymentProvider, providerMock, providerLive)
	}

	priceTable, err := payments.ParsePriceTable(v.GetString(flagPriceTable))
	if err != nil {
		return err
	}
	cfg.PriceTable = priceTable

	cfg.OpenAIAPIKey = strings.TrimSpace(v.GetString(flagOpenAIAPIKey))
	cfg.VisionModel = strings.TrimSpace(v.GetString(flagVisionModel))
	cfg.TextModel = strings.TrimSpace(v.GetString(flagTextModel))
	cfg.GatewayTimeout = v.GetDuration(flagGatewayTimeout)
	cfg.GatewayRetries = v.GetInt(flagGatewayRetries)
	cfg.GatewayBackoff = v.GetDuration(flagGatewayBackoff)
	cfg.GatewayStub = v.GetBool(flagGatewayStub)

	cfg.SeedEmail = strings.TrimSpace(v.GetString(flagSeedEmail))
	cfg.SeedPassword = v.GetString(flagSeedPassword)
	cfg.SeedCredits = v.GetInt64(flagSeedCredits)

	cfg.Web = webapi.Config{
		ListenAddr:         strings.TrimSpace(v.GetString(flagListenAddr)),
		AllowedOrigins:     webapi.ParseAllowedOrigins(v.GetString(flagAllowedOrigins)),
		SessionCookieName:  strings.TrimSpace(v.GetString(flagSessionCookie)),
		CookieSecure:       v.GetBool(flagCookieSecure),
		FreeCredits:        v.GetInt64(flagFreeCredits),
		MaxUploadBytes:     v.GetInt64(flagMaxUploadMB) << 20,
		RatePerMinute:      v.GetInt(flagRatePerMinute),
		MinRequestInterval: v.GetDuration(flagMinInterval),
		HistoryLimit:       v.GetInt(flagHistoryLimit),
	}
	return cfg.Web.Validate()
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	db, cleanup, err := gormstore.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = cleanup() }()
	if err := gormstore.Migrate(db); err != nil {
		return fmt.Errorf("database migrate: %w", err)
	}

	creditService, err := ledger.NewService(
		gormstore.NewLedgerStore(db),
		ledger.WithOperationLogger(&creditOperationLogger{logger: logger}),
	)
	if err != nil {
		return fmt.Errorf("credit service init: %w", err)
	}
	accountService, err := accounts.NewService(gormstore.NewAccountStore(db), creditService, creditService, logger)
	if err != nil {
		return fmt.Errorf("account service init: %w", err)
	}

	var provider payments.Provider
	if cfg.PaymentProvider == providerLive {
		provider = payments.NewLiveProvider(cfg.WebhookSecret, cfg.CheckoutBaseURL)
	} else {
		provider = payments.NewMockProvider()
	}
	reconciler, err := payments.NewReconciler(gormstore.NewPurchaseStore(db), provider, cfg.PriceTable, logger)
	if err != nil {
		return fmt.Errorf("reconciler init: %w", err)
	}

	analyzer, err := buildAnalyzer(cfg, logger)
	if err != nil {
		return fmt.Errorf("analyzer init: %w", err)
	}

	tokens, err := identity.NewTokenCodec(cfg.TokenSecret, cfg.TokenLifetime)
	if err != nil {
		return fmt.Errorf("token codec init: %w", err)
	}

	if cfg.SeedEmail != "" && cfg.SeedPassword != "" {
		if err := accountService.SeedOperator(ctx, cfg.SeedEmail, cfg.SeedPassword, cfg.SeedCredits); err != nil {
			return fmt.Errorf("operator seed: %w", err)
		}
	}

	server, err := webapi.NewServer(cfg.Web, webapi.Dependencies{
		Logger:     logger,
		Credits:    creditService,
		Accounts:   accountService,
		Reconciler: reconciler,
		Analyzer:   analyzer,
		Tokens:     tokens,
		Prices:     cfg.PriceTable,
	})
	if err != nil {
		return fmt.Errorf("server init: %w", err)
	}
	return server.Run(ctx)
}

func buildAnalyzer(cfg *runtimeConfig, logger *zap.Logger) (aigateway.Analyzer, error) {
	if cfg.GatewayStub || cfg.OpenAIAPIKey == "" {
		logger.Info("analysis gateway running in stub mode")
		return aigateway.NewStubAnalyzer(), nil
	}
	return aigateway.NewClient(aigateway.Config{
		APIKey:      cfg.OpenAIAPIKey,
		VisionModel: cfg.VisionModel,
		TextModel:   cfg.TextModel,
		Timeout:     cfg.GatewayTimeout,
		Retries:     cfg.GatewayRetries,
		Backoff:     cfg.GatewayBackoff,
	}, logger)
}

// creditOperationLogger forwards ledger operations to zap.
type creditOperationLogger struct {
	logger *zap.Logger
}

func (operationLogger *creditOperationLogger) LogOperation(_ context.Context, entry ledger.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
		zap.Int64("amount", entry.Amount),
	}
	if entry.UserID != nil {
		fields = append(fields, zap.Int64("user_id", entry.UserID.Int64()))
	}
	if entry.SessionID != nil {
		fields = append(fields, zap.String("session_id", entry.SessionID.String()))
	}
	if entry.Funding != "" {
		fields = append(fields, zap.String("funding", string(entry.Funding)))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
	}
	operationLogger.logger.Info("credit operation", fields...)
}
