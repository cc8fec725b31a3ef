package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/keypay/keypay/internal/config"
	"github.com/keypay/keypay/internal/explorer"
	"github.com/keypay/keypay/internal/http_api"
	"github.com/keypay/keypay/internal/keypay"
	"github.com/keypay/keypay/internal/models"
	"github.com/keypay/keypay/internal/notificator"
	"github.com/keypay/keypay/internal/pocketbase"
	"github.com/keypay/keypay/internal/repository"
	"github.com/keypay/keypay/internal/verifier"
	"github.com/keypay/keypay/internal/walletconfig"
	"github.com/keypay/keypay/pkg/logger"
)

// adminRefreshInterval keeps the PocketBase superuser token well inside its lifetime.
const adminRefreshInterval = 30 * time.Minute

func main() {
	app := &cli.App{
		Name:  "keypay",
		Usage: "License key sales with USDT-TRC20 payment verification",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "store", Aliases: []string{"s"}, Usage: "Store backend (pocketbase or postgres)"},
			&cli.StringFlag{Name: "pocketbase-url", Aliases: []string{"b"}, Usage: "PocketBase base URL"},
			&cli.StringFlag{Name: "postgres-user", Aliases: []string{"u"}, Usage: "Postgres user"},
			&cli.StringFlag{Name: "postgres-password", Aliases: []string{"p"}, Usage: "Postgres password"},
			&cli.StringFlag{Name: "postgres-host", Aliases: []string{"t"}, Usage: "Postgres host"},
			&cli.IntFlag{Name: "postgres-port", Aliases: []string{"P"}, Usage: "Postgres port"},
			&cli.StringFlag{Name: "postgres-db", Aliases: []string{"d"}, Usage: "Postgres database name"},
			&cli.IntFlag{Name: "port", Usage: "HTTP API port"},
			&cli.StringFlag{Name: "pay-address", Usage: "Fallback TRC20 pay address"},
			&cli.StringFlag{Name: "match-policy", Usage: "Amount match policy (tolerance or at_least)"},
			&cli.BoolFlag{Name: "development", Aliases: []string{"D"}, Usage: "Development mode"},
		},
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:  "verify",
				Usage: "Verify one order, trying the remote endpoint before the chain",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "order", Aliases: []string{"o"}, Usage: "Order id", Required: true},
					&cli.StringFlag{Name: "token", Usage: "Bearer token for the remote endpoint"},
				},
				Action: verifyOrder,
			},
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	// Load configuration from environment variables
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %v", err)
	}

	// Override with flags if set
	if c.IsSet("store") {
		cfg.StoreBackend = c.String("store")
	}
	if c.IsSet("pocketbase-url") {
		cfg.PocketBaseURL = c.String("pocketbase-url")
	}
	if c.IsSet("postgres-user") {
		cfg.PostgresUser = c.String("postgres-user")
	}
	if c.IsSet("postgres-password") {
		cfg.PostgresPassword = c.String("postgres-password")
	}
	if c.IsSet("postgres-host") {
		cfg.PostgresHost = c.String("postgres-host")
	}
	if c.IsSet("postgres-port") {
		cfg.PostgresPort = c.Int("postgres-port")
	}
	if c.IsSet("postgres-db") {
		cfg.PostgresDB = c.String("postgres-db")
	}
	if c.IsSet("port") {
		cfg.APIPort = c.Int("port")
	}
	if c.IsSet("pay-address") {
		cfg.PayAddress = c.String("pay-address")
	}
	if c.IsSet("match-policy") {
		cfg.MatchPolicy = c.String("match-policy")
	}
	if c.IsSet("development") {
		cfg.Development = c.Bool("development")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %v", err)
	}
	return cfg, nil
}

// application is everything serve and verify share.
type application struct {
	keypay   *keypay.Keypay
	wallets  *walletconfig.Service
	auth     http_api.Authenticator
	accounts http_api.Accounts
	closers  []func()
}

func (a *application) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func build(ctx context.Context, cfg *config.Config, log *logger.Logger) (*application, error) {
	app := &application{}

	// Initialize store
	var repo models.Repository
	switch cfg.StoreBackend {
	case config.StorePostgres:
		db, err := repository.NewPostgresDB(cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresDB, cfg.PostgresHost, cfg.PostgresPort, log)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %v", err)
		}
		app.closers = append(app.closers, func() {
			if err := db.Close(); err != nil {
				log.Errorw("Failed to close database", "error", err)
			}
		})
		repo = db
		app.auth = http_api.AdminTokenAuth{Token: cfg.AdminToken}
	default:
		client := pocketbase.NewClient(cfg.PocketBaseURL, log.With("component", "pocketbase"))
		app.closers = append(app.closers, client.LogSessionChanges())
		if cfg.PocketBaseAdminEmail != "" {
			login := func(ctx context.Context) error {
				_, err := client.AdminAuthWithPassword(ctx, cfg.PocketBaseAdminEmail, cfg.PocketBaseAdminPassword)
				return err
			}
			if err := login(ctx); err != nil {
				return nil, fmt.Errorf("failed to authenticate with pocketbase: %v", err)
			}
			go client.KeepAlive(ctx, adminRefreshInterval, login)
		} else {
			log.Warn("POCKETBASE_ADMIN_EMAIL is not set, background workers will only see public records")
		}
		repo = pocketbase.NewStore(client, log)
		accounts := pocketbase.NewAccounts(cfg.PocketBaseURL, log)
		app.auth = accounts
		app.accounts = accounts
	}

	// Initialize explorer providers and the verifier
	providers := explorer.DefaultProviders(explorer.Options{
		TronGridURL:    cfg.TronGridURL,
		TronscanURL:    cfg.TronscanURL,
		USDTContract:   cfg.USDTContract,
		APIKey:         cfg.TronAPIKey,
		RequestTimeout: cfg.ExplorerTimeout(),
	})
	paymentVerifier := verifier.NewVerifier(log.With("component", "verifier"), providers)
	log.Infow("Explorer providers configured", "providers", paymentVerifier.Providers())

	// Initialize wallet config
	app.wallets = walletconfig.NewService(log, walletconfig.Options{
		URL:             cfg.WalletConfigURL,
		FallbackAddress: cfg.PayAddress,
		FallbackPrice:   cfg.BasePriceDecimal(),
		RefreshInterval: cfg.WalletRefreshInterval(),
	})
	app.closers = append(app.closers, app.wallets.Stop)

	// Initialize notificator
	var telegram *notificator.TelegramNotificator
	if cfg.TelegramBotToken != "" {
		var err error
		telegram, err = notificator.NewTelegramNotificator(ctx, log, cfg.TelegramBotToken)
		if err != nil {
			log.Errorw("Telegram notifications disabled", "error", err)
		}
	}
	var email *notificator.EmailNotificator
	if cfg.SMTPHost != "" {
		email = notificator.NewEmailNotificator(log, cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPSender)
	}
	notifier := notificator.NewNotificator(log, telegram, cfg.TelegramAdminChatID, email, cfg.AdminEmail)

	app.keypay = keypay.NewKeypay(repo, paymentVerifier, app.wallets, notifier, log, cfg)
	return app, nil
}

func serve(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Development)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %v", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.close()

	app.wallets.StartPeriodicUpdate()

	apiServer := http_api.NewHTTPServer(app.keypay, app.auth, app.accounts, http_api.Options{
		Port:           cfg.APIPort,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		QRServiceURL:   cfg.QRServiceURL,
		VerifyPath:     cfg.RemoteVerifyPath,
	}, log)
	go apiServer.Start()

	// Start the application
	app.keypay.Start(ctx)
	log.Infow("Keypay started", "store", cfg.StoreBackend, "port", cfg.APIPort, "policy", cfg.MatchPolicy)

	<-ctx.Done()
	log.Info("Shutting down...")
	if err := apiServer.Shutdown(); err != nil {
		log.Errorw("Failed to shut down HTTP server", "error", err)
	}
	app.keypay.Wait()
	return nil
}

func verifyOrder(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	log, err := logger.NewLogger(cfg.Development)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %v", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orderID := c.String("order")
	token := c.String("token")
	if token == "" {
		token = cfg.AdminToken
	}

	if cfg.RemoteVerifyURL != "" {
		remote := verifier.NewRemoteClient(cfg.RemoteVerifyURL, cfg.RemoteVerifyPath, token)
		resp, err := remote.VerifyOrder(ctx, orderID)
		switch {
		case err == nil:
			fmt.Printf("confirmed=%t status=%s txid=%s message=%s\n", resp.Confirmed, resp.Status, resp.TxID, resp.Message)
			if resp.License != nil {
				fmt.Printf("license=%s\n", resp.License.Code)
			}
			return nil
		case errors.Is(err, verifier.ErrRemoteNotImplemented):
			log.Infow("Remote verification unavailable, checking the chain", "url", remote.URL())
		default:
			return fmt.Errorf("remote verification failed: %v", err)
		}
	}

	app, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.close()

	operator := &models.Principal{ID: "operator", IsSuperAdmin: true}
	result, err := app.keypay.VerifyOrder(ctx, operator, orderID)
	app.keypay.Wait()
	if err != nil {
		return err
	}
	fmt.Printf("confirmed=%t checked=%t status=%s txid=%s provider=%s message=%s\n",
		result.Confirmed, result.Checked, result.Status, result.TxID, result.Provider, result.Message)
	if result.License != nil {
		fmt.Printf("license=%s\n", result.License.Code)
	}
	if result.NeedsReconciliation {
		fmt.Println("warning: order confirmed without a license key")
	}
	return nil
}
