package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"reward-ledger-system/handlers"
	"reward-ledger-system/middleware"
	"reward-ledger-system/models"
	"reward-ledger-system/services"
	"reward-ledger-system/utils"
	"reward-ledger-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{})

	// 🔐 GLOBAL: only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, Cache-Control, X-Service-Token, X-User-ID",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.LedgerEntry{},
		&models.Wallet{},
		&models.CategoryBalance{},
		&models.AchievementDefinition{},
		&models.UserAchievement{},
		&models.Challenge{},
		&models.UserChallengeProgress{},
		&models.ChallengeProgressEvent{},
		&models.LeaderboardConfig{},
		&models.PrizeDistribution{},
		&models.PrizeEntry{},
		&models.Tournament{},
		&models.TournamentEntry{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	metricsServiceURL := os.Getenv("METRICS_SERVICE_URL")
	if metricsServiceURL == "" {
		log.Fatal("METRICS_SERVICE_URL environment variable not set")
	}
	serviceToken := os.Getenv("REWARD_SERVICE_TOKEN")
	if serviceToken == "" {
		log.Fatal("REWARD_SERVICE_TOKEN environment variable not set")
	}

	metricsClient := services.NewMetricsServiceClient(metricsServiceURL, serviceToken)

	var notifier services.Notifier = services.NoopNotifier{}
	if notifyURL := os.Getenv("NOTIFY_SERVICE_URL"); notifyURL != "" {
		notifier = services.NewNotificationClient(notifyURL, serviceToken)
	} else {
		log.Println("⚠️  NOTIFY_SERVICE_URL not set, notifications disabled")
	}

	var screener services.FraudScreener = services.NoopScreener{}
	if fraudURL := os.Getenv("FRAUD_SERVICE_URL"); fraudURL != "" {
		screener = services.NewFraudServiceClient(fraudURL, serviceToken)
	} else {
		log.Println("⚠️  FRAUD_SERVICE_URL not set, prize fraud screening disabled")
	}

	ledgerService := services.NewLedgerService(db)
	achievementService := services.NewAchievementService(db, ledgerService, metricsClient, notifier)
	challengeService := services.NewChallengeService(db, ledgerService, notifier)
	prizeService := services.NewPrizeService(db, ledgerService, nil, screener, notifier)
	tournamentService := services.NewTournamentService(db, ledgerService, prizeService)

	if err := achievementService.RefreshDefinitions(); err != nil {
		log.Printf("⚠️  Failed to load achievement definitions: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Ledger audit export is optional; without R2 credentials the ledger
	// simply stays database-only.
	if r2, err := utils.NewR2Client(); err != nil {
		log.Printf("⚠️  R2 not configured, ledger archive disabled: %v", err)
	} else {
		archiveWorker := workers.NewLedgerArchiveWorker(db, r2)
		go archiveWorker.Run(ctx, 1*time.Hour)
	}

	scheduler := services.NewScheduler(challengeService, prizeService, tournamentService)
	scheduler.Start()
	defer scheduler.Stop()

	handlers.SetupRewardRoutes(app, ledgerService, achievementService, challengeService, tournamentService, prizeService)

	go func() {
		if err := app.Listen(":5300"); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("✅ Server running on http://localhost:5300")
	log.Println("✅ Challenge transition + prize distribution scheduler running")
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
}
