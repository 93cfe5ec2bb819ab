package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"geohunt-claim-system/handlers"
	"geohunt-claim-system/middleware"
	"geohunt-claim-system/models"
	"geohunt-claim-system/services"
	"geohunt-claim-system/utils"
	"geohunt-claim-system/workers"

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

	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024, // claim payloads are tiny
	})

	// 🔐 GLOBAL: Only Gateway requests allowed — no exceptions
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
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Request-ID, X-User-ID, X-User-Roles, X-Device-ID, Idempotency-Key",
		ExposeHeaders:    "Content-Length, Content-Type, Retry-After, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	configService := services.NewConfigService(services.LoadClaimConfigFromEnv())
	metrics := services.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" && os.Getenv("HUNT_MEMORY_MODE") != "true" {
		log.Fatal("DATABASE_URL environment variable not set (set HUNT_MEMORY_MODE=true for a throwaway in-memory run)")
	}

	reportsEnabled, err := utils.InitR2()
	if err != nil {
		log.Fatal("failed to initialize R2 client:", err)
	}
	if !reportsEnabled {
		log.Println("⚠️  R2 not configured — reconciliation report export disabled")
	}

	var orchestrator *services.ClaimOrchestrator
	var queryService *services.QueryService
	var ledgerService *services.LedgerService
	var prizeStateService *services.PrizeStateService

	if dsn != "" {
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
		if err != nil {
			log.Fatal("failed to connect to database:", err)
		}

		if err := db.AutoMigrate(
			&models.Prize{},
			&models.Claim{},
			&models.UserPointsAccount{},
			&models.IdempotencyRecord{},
			&models.LocationFix{},
			&models.ReconciliationAnomaly{},
			&models.AchievementType{},
			&models.UserAchievement{},
			&models.AchievementProgress{},
		); err != nil {
			log.Fatal("failed to migrate database:", err)
		}

		idempotencyService := services.NewIdempotencyService(db)
		prizeStateService = services.NewPrizeStateService(db)
		cooldownService := services.NewCooldownService(db)
		ledgerService = services.NewLedgerService(db)
		journalService := services.NewJournalService(db)
		queryService = services.NewQueryService(db)

		achievementService := services.NewAchievementService(db, metrics)
		go achievementService.Start(ctx)

		orchestrator = services.NewClaimOrchestrator(
			idempotencyService,
			prizeStateService,
			cooldownService,
			ledgerService,
			journalService,
			configService,
			metrics,
			achievementService,
		)

		maintenance := services.NewMaintenanceService(prizeStateService, idempotencyService, queryService, reportsEnabled)
		maintenance.Start()

		if os.Getenv("DISTRIBUTION_SERVICE_URL") != "" {
			prizeSyncClient := workers.NewPrizeSyncClient(db)
			go workers.PollPrizes(ctx, prizeSyncClient, 30*time.Second)
			log.Println("✅ Prize distribution polling running (every 30s)")
		} else {
			log.Println("⚠️  DISTRIBUTION_SERVICE_URL not set — prize sync disabled")
		}
	} else {
		// Memory mode: full claim pipeline over in-process stores. For local
		// runs only; nothing survives a restart.
		log.Println("⚠️  HUNT_MEMORY_MODE — running on in-memory stores")
		accountStore := services.NewMemoryAccountStore()
		achievementService := services.NewAchievementService(nil, metrics)
		go achievementService.Start(ctx)

		orchestrator = services.NewClaimOrchestrator(
			services.NewMemoryIdempotencyStore(),
			services.NewMemoryPrizeStore(),
			accountStore,
			accountStore,
			services.NewMemoryJournal(),
			configService,
			metrics,
			achievementService,
		)
	}

	// ✅ Setup routes — enforced Gateway auth, /s/ prefix for user context
	handlers.SetupClaimRoutes(app, orchestrator, queryService, ledgerService)
	if queryService != nil {
		handlers.SetupPrizeRoutes(app, queryService, prizeStateService)
	}
	handlers.SetupMetricsRoutes(app, metrics)

	go func() {
		if err := app.Listen(":5300"); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("✅ Server running on http://localhost:5300")
	log.Println("✅ Claim pipeline ready")
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
}
