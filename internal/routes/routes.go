package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/nestfi/nestfi/internal/config"
	"github.com/nestfi/nestfi/internal/identity"
	"github.com/nestfi/nestfi/internal/incubator"
	"github.com/nestfi/nestfi/internal/ledger"
	"github.com/nestfi/nestfi/internal/middleware"
	"github.com/nestfi/nestfi/internal/notification"
	"github.com/nestfi/nestfi/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// Services holds the application services built over the configured stores.
// Main hands the incubator service to the scheduler as well, so construction
// lives here rather than inside Setup.
type Services struct {
	Identity  *identity.Service
	Wallets   *wallet.Service
	Incubator *incubator.Service
}

// BuildServices wires repositories and services. Outside dev a database is
// mandatory; in dev the in-memory stores keep the API usable standalone.
func BuildServices(d Deps) (Services, error) {
	if !d.Cfg.IsDev() && d.DB == nil {
		return Services{}, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
	}

	var (
		userRepo   identity.Repository
		walletRepo wallet.Repository
		cardRepo   incubator.Repository
		journal    ledger.Journal
	)
	if d.DB != nil {
		userRepo = identity.NewPostgresRepository(d.DB)
		walletRepo = wallet.NewPostgresRepository(d.DB)
		cardRepo = incubator.NewPostgresRepository(d.DB)
		journal = ledger.NewPostgresJournal(d.DB)
	} else {
		userRepo = identity.NewMemoryRepository()
		walletRepo = wallet.NewMemoryRepository()
		cardRepo = incubator.NewMemoryRepository()
		journal = ledger.NewInMemory()
	}

	identitySvc := identity.NewService(userRepo)
	walletSvc := wallet.NewService(walletRepo)
	notifier := notification.NewLoggerNotifier(d.Logger)
	engine := incubator.NewService(walletRepo, cardRepo, identitySvc, journal, notifier, d.Cfg.ActivationDuration, d.Logger)

	return Services{Identity: identitySvc, Wallets: walletSvc, Incubator: engine}, nil
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps, svcs Services) error {
	if !d.Cfg.IsDev() && d.Cache == nil {
		return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))
	if d.Cache != nil {
		app.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}

	RegisterHealthRoutes(app, d)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Public routes
	RegisterIdentityRoutes(api, svcs.Identity, svcs.Wallets, d.Logger)

	// Routes that need the gateway-authenticated user
	protected := api.Group("", middleware.Identity())
	RegisterProfileRoute(protected, svcs.Identity)
	RegisterWalletRoutes(protected, svcs.Wallets)
	RegisterIncubatorRoutes(protected, incubator.NewHandler(svcs.Incubator))

	return nil
}
