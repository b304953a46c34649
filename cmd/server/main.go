package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/commerce/internal/cache"
	"github.com/example/commerce/internal/config"
	"github.com/example/commerce/internal/database"
	"github.com/example/commerce/internal/handlers"
	"github.com/example/commerce/internal/logger"
	"github.com/example/commerce/internal/routes"
	"github.com/example/commerce/internal/server"
	"github.com/example/commerce/internal/services"
)

func main() {
	app := &cli.App{
		Name:  "commerce",
		Usage: "order, payment and returns backend",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config-dir",
				Value: ".",
				Usage: "directory holding the .env file",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API",
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "create or update database tables and exit",
				Action: migrate,
			},
		},
		DefaultCommand: "serve",
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// bootstrap loads configuration, initializes logging and opens the database.
func bootstrap(c *cli.Context) (*config.AppConfig, *gorm.DB, error) {
	cfg, err := config.Load(c.String("config-dir"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.Init(cfg.Environment, cfg.LogLevel); err != nil {
		return nil, nil, fmt.Errorf("failed to init logger: %w", err)
	}

	db, err := database.Connect(cfg.Database.URL, cfg.Database.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	return cfg, db, nil
}

func migrate(c *cli.Context) error {
	_, db, err := bootstrap(c)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	logger.Get().Info("migrations applied")
	return nil
}

func serve(c *cli.Context) error {
	cfg, db, err := bootstrap(c)
	if err != nil {
		return err
	}
	defer logger.Sync()

	l := logger.Get()
	l.Info("Application starting",
		zap.String("environment", cfg.Environment),
		zap.String("log_level", cfg.LogLevel),
	)

	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}

	redis, err := cache.NewRedisAdapter(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("failed to configure redis: %w", err)
	}
	defer redis.Close()

	pingCtx, cancel := context.WithTimeout(c.Context, 5*time.Second)
	defer cancel()
	if err := redis.Ping(pingCtx); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	l.Info("Redis connection verified")

	srv := server.New(cfg)
	routes.Register(srv.App, buildHandlers(cfg, db, redis), routes.Security{
		JWTSecret:    cfg.Auth.JWTSecret,
		WebhookToken: cfg.Delhivery.WebhookToken,
	})

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		l.Info("Shutting down")
		return srv.Shutdown()
	}
}

func buildHandlers(cfg *config.AppConfig, db *gorm.DB, redis *cache.RedisAdapter) routes.Handlers {
	var creds services.CredentialSource
	if cfg.Razorpay.CredentialSource == services.CredentialSourceDatabase {
		creds = services.NewDBCredentials(db, services.ProviderRazorpay)
	} else {
		creds = services.StaticCredentials{KeyID: cfg.Razorpay.KeyID, KeySecret: cfg.Razorpay.KeySecret}
	}
	gateway := services.NewRazorpayGateway(cfg.Razorpay.BaseURL, creds, seconds(cfg.Razorpay.TimeoutSeconds))

	courier := services.NewDelhiveryClient(
		cfg.Delhivery.BaseURL,
		cfg.Delhivery.Token,
		cfg.Delhivery.PickupLocation,
		seconds(cfg.Delhivery.TimeoutSeconds),
	)
	telegram := services.NewTelegramService(cfg.Telegram.BotToken, cfg.Telegram.AdminChatID)

	inventory := services.NewInventoryLedger(db)
	coupons := services.NewCouponStore(db, redis)
	loyalty := services.NewLoyaltyService(db)

	orders := services.NewOrderService(db, services.OrderDeps{
		Cart:        services.NewCartService(db),
		Catalog:     services.NewCatalogService(db, inventory),
		Loyalty:     loyalty,
		Inventory:   inventory,
		Coupons:     coupons,
		Gateway:     gateway,
		Notifier:    telegram,
		Idempotency: redis,
	}, services.OrderOptions{
		VerifyLoyaltyBalance: cfg.Checkout.VerifyLoyaltyBalance,
		IdempotencyTTL:       seconds(cfg.Redis.IdempotencyTTLSeconds),
	})

	return routes.Handlers{
		Orders:    handlers.NewOrderHandler(orders),
		Coupons:   handlers.NewCouponHandler(coupons),
		Returns:   handlers.NewReturnHandler(services.NewReturnService(db, gateway, telegram)),
		Delivery:  handlers.NewDeliveryHandler(services.NewShipmentLinker(db, courier)),
		GiftCards: handlers.NewGiftCardHandler(services.NewGiftCardStore(db)),
		Loyalty:   handlers.NewLoyaltyHandler(loyalty),
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
