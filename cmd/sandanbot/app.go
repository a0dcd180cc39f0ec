package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sandanbot/recharge/internal/auth"
	"github.com/sandanbot/recharge/internal/blob"
	"github.com/sandanbot/recharge/internal/config"
	"github.com/sandanbot/recharge/internal/dispatch"
	"github.com/sandanbot/recharge/internal/handlers"
	"github.com/sandanbot/recharge/internal/migrations"
	"github.com/sandanbot/recharge/internal/models"
	"github.com/sandanbot/recharge/internal/queue"
	"github.com/sandanbot/recharge/internal/registry"
	"github.com/sandanbot/recharge/internal/services"
	"github.com/sandanbot/recharge/internal/storage"
	"github.com/sandanbot/recharge/internal/telegram"
)

// App структура для управления приложением и его зависимостями.
type App struct {
	cfg     *config.Config
	dbPool  *pgxpool.Pool
	echo    *echo.Echo
	channel queue.Channel
	bot     *telegram.Bot
	engine  *dispatch.Engine
	worker  *services.ReconcileWorker

	// Handlers
	userHandler     *handlers.UserHandler
	orderHandler    *handlers.OrderHandler
	rechargeHandler *handlers.RechargeHandler
	packageHandler  *handlers.PackageHandler
	adminHandler    *handlers.AdminHandler
}

// NewApp создаёт и инициализирует новое приложение.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{
		cfg: cfg,
	}

	if err := app.initDatabase(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initDependencies(); err != nil {
		return nil, fmt.Errorf("failed to initialize dependencies: %w", err)
	}

	app.initServer()

	return app, nil
}

// initDatabase инициализирует подключение к базе данных и выполняет миграции.
func (app *App) initDatabase(ctx context.Context) error {
	if app.cfg.DatabaseURI == "" {
		return fmt.Errorf("DATABASE_URI is required")
	}

	// Применение миграций
	log.Println("Running database migrations...")
	sqlDB, err := sql.Open("pgx", app.cfg.DatabaseURI)
	if err != nil {
		return fmt.Errorf("unable to open database connection: %w", err)
	}
	defer sqlDB.Close()

	if err := migrations.Run(sqlDB); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Println("Migrations completed successfully")

	// Подключение к базе данных через pgxpool
	dbPool, err := pgxpool.New(ctx, app.cfg.DatabaseURI)
	if err != nil {
		return fmt.Errorf("unable to connect to database: %w", err)
	}

	if err := dbPool.Ping(ctx); err != nil {
		return fmt.Errorf("unable to ping database: %w", err)
	}

	app.dbPool = dbPool
	log.Println("Successfully connected to database")

	return nil
}

// initDependencies инициализирует все зависимости приложения
// (storage, очередь, services, бот, handlers).
func (app *App) initDependencies() error {
	// Storage layer
	userStorage := storage.NewPostgresUserStorage(app.dbPool)
	orderStorage := storage.NewPostgresOrderStorage(app.dbPool)
	sellerStorage := storage.NewPostgresSellerStorage(app.dbPool)
	ledgerStorage := storage.NewPostgresLedgerStorage(app.dbPool)
	codeStorage := storage.NewPostgresCodeStorage(app.dbPool)
	rechargeStorage := storage.NewPostgresRechargeStorage(app.dbPool)
	packageStorage := storage.NewPostgresPackageStorage(app.dbPool)

	// Реестр продавцов с текущей нагрузкой
	reg := registry.New(sellerStorage, orderStorage, app.cfg.LoadWindow)

	// Хранилище чеков об оплате
	blobs, err := blob.NewLocalStore(app.cfg.UploadDir)
	if err != nil {
		return fmt.Errorf("failed to initialize blob store: %w", err)
	}

	// Очередь уведомлений: RabbitMQ, либо очередь в памяти
	if app.cfg.AMQPAddress != "" {
		log.Printf("Connecting to RabbitMQ at %s", app.cfg.AMQPAddress)
		channel, err := queue.NewRabbitChannel(app.cfg.AMQPAddress)
		if err != nil {
			return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
		}
		app.channel = channel
	} else {
		log.Println("WARNING: AMQP_ADDRESS is not configured, using in-memory queue")
		app.channel = queue.NewMemoryChannel()
	}

	// Service layer
	userService := services.NewUserService(userStorage, ledgerStorage, app.cfg.JWTSecret, app.cfg.TokenExpiration)
	orderService := services.NewOrderService(orderStorage, userStorage, packageStorage, reg, app.channel, log.Default())
	sellerService := services.NewSellerService(orderStorage, sellerStorage, app.channel, log.Default())
	rechargeService := services.NewRechargeService(rechargeStorage, app.channel, log.Default())

	// Telegram-бот: без токена уведомления уходят только в лог
	var transport dispatch.Transport
	if app.cfg.TelegramToken != "" {
		bot, err := telegram.New(app.cfg.TelegramToken, sellerService, sellerStorage, blobs, log.Default())
		if err != nil {
			return fmt.Errorf("failed to initialize telegram bot: %w", err)
		}
		app.bot = bot
		transport = bot
	} else {
		log.Println("WARNING: TELEGRAM_BOT_TOKEN is not configured. Sellers will not be notified!")
		transport = logTransport{}
	}

	// Диспетчер уведомлений и воркер сверки
	app.engine = dispatch.NewEngine(app.channel, transport, reg, orderStorage, sellerStorage, app.cfg.DispatchTimeout, log.Default())
	app.worker = services.NewReconcileWorker(orderStorage, app.channel, app.cfg.ReconcileInterval, log.Default())

	// Handler layer
	app.userHandler = handlers.NewUserHandler(userService)
	app.orderHandler = handlers.NewOrderHandler(orderService, blobs)
	app.rechargeHandler = handlers.NewRechargeHandler(rechargeService, blobs)
	app.packageHandler = handlers.NewPackageHandler(packageStorage)
	app.adminHandler = handlers.NewAdminHandler(
		sellerStorage, userStorage, orderStorage, codeStorage, packageStorage,
		rechargeService, reg, app.channel,
	)

	return nil
}

// initServer инициализирует HTTP-сервер и настраивает маршруты.
func (app *App) initServer() {
	e := echo.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.Gzip())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{echo.GET, echo.POST, echo.PUT, echo.DELETE},
	}))

	// Публичные маршруты (не требуют аутентификации)
	e.POST("/api/user/register", app.userHandler.Register)
	e.POST("/api/user/login", app.userHandler.Login)
	e.GET("/api/packages", app.packageHandler.List)

	// Защищённые маршруты (требуют аутентификации)
	protected := e.Group("/api")
	protected.Use(auth.JWTMiddleware(app.cfg.JWTSecret))
	protected.GET("/user/balance", app.userHandler.GetBalance)
	protected.GET("/user/ledger", app.userHandler.GetLedger)
	protected.POST("/orders", app.orderHandler.Submit)
	protected.GET("/orders", app.orderHandler.List)
	protected.POST("/orders/redeem", app.orderHandler.RedeemCode)
	protected.POST("/orders/:id/cancel", app.orderHandler.Cancel)
	protected.POST("/orders/:id/confirm", app.orderHandler.Confirm)
	protected.POST("/orders/:id/dispute", app.orderHandler.Dispute)
	protected.POST("/recharges", app.rechargeHandler.Submit)
	protected.GET("/recharges", app.rechargeHandler.List)

	// Административные маршруты
	admin := e.Group("/api/admin")
	admin.Use(auth.JWTMiddleware(app.cfg.JWTSecret))
	admin.Use(auth.AdminMiddleware())
	admin.POST("/sellers", app.adminHandler.AddSeller)
	admin.GET("/sellers", app.adminHandler.ListSellers)
	admin.DELETE("/sellers/:id", app.adminHandler.RemoveSeller)
	admin.POST("/sellers/:id/toggle", app.adminHandler.ToggleSeller)
	admin.PUT("/sellers/:id/participation", app.adminHandler.SetParticipation)
	admin.PUT("/sellers/:id/level", app.adminHandler.SetDistributionLevel)
	admin.PUT("/sellers/:id/capacity", app.adminHandler.SetMaxConcurrent)
	admin.POST("/sellers/:id/ping", app.adminHandler.PingSeller)
	admin.GET("/orders", app.adminHandler.RecentOrders)
	admin.PUT("/packages", app.adminHandler.UpsertPackage)
	admin.PUT("/users/:id/price", app.adminHandler.SetCustomPrice)
	admin.PUT("/users/:id/credit", app.adminHandler.SetCreditLimit)
	admin.POST("/codes", app.adminHandler.GenerateCodes)
	admin.GET("/codes", app.adminHandler.ListCodes)
	admin.GET("/recharges", app.adminHandler.ListRecharges)
	admin.POST("/recharges/:id/approve", app.adminHandler.ApproveRecharge)
	admin.POST("/recharges/:id/reject", app.adminHandler.RejectRecharge)

	app.echo = e
}

// Start запускает приложение.
func (app *App) Start(ctx context.Context) error {
	// Запуск бота
	if app.bot != nil {
		log.Println("Starting telegram bot...")
		go app.bot.Run(ctx)
	}

	// Запуск диспетчера уведомлений
	go func() {
		if err := app.engine.Run(ctx); err != nil {
			log.Printf("Dispatch engine stopped: %v", err)
		}
	}()

	// Запуск воркера сверки
	log.Println("Starting reconcile worker...")
	app.worker.Start(ctx)

	// Запуск сервера
	log.Printf("Starting server on %s", app.cfg.RunAddress)
	if err := app.echo.Start(app.cfg.RunAddress); err != nil {
		return fmt.Errorf("server stopped: %w", err)
	}

	return nil
}

// Shutdown корректно завершает работу приложения.
func (app *App) Shutdown(ctx context.Context) error {
	log.Println("Shutting down server...")

	if err := app.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	if app.channel != nil {
		if err := app.channel.Close(); err != nil {
			log.Printf("Failed to close queue channel: %v", err)
		}
	}

	if app.dbPool != nil {
		app.dbPool.Close()
	}

	log.Println("Server gracefully stopped")
	return nil
}

// logTransport пишет уведомления в лог вместо Telegram.
// Используется, когда токен бота не задан.
type logTransport struct{}

func (logTransport) SendOffer(_ context.Context, sellerID int64, order *models.Order) error {
	log.Printf("offer for order %d would be sent to seller %d", order.ID, sellerID)
	return nil
}

func (logTransport) SendText(_ context.Context, sellerID int64, text string) error {
	log.Printf("message to seller %d: %s", sellerID, text)
	return nil
}
