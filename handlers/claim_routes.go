// handlers/claim_routes.go
package handlers

import (
	"errors"
	"log"
	"strconv"
	"time"

	"geohunt-claim-system/middleware"
	"geohunt-claim-system/services"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// SetupClaimRoutes wires the claim pipeline and the user-facing read surfaces.
func SetupClaimRoutes(app *fiber.App, orchestrator *services.ClaimOrchestrator, query *services.QueryService, ledger *services.LedgerService) {
	secured := app.Group("/s", middleware.UserContextMiddleware())

	secured.Post("/claims", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)

		var req struct {
			PrizeID  string `json:"prize_id" validate:"required,uuid"`
			Location struct {
				Lat       float64 `json:"lat"`
				Lng       float64 `json:"lng"`
				AccuracyM float64 `json:"accuracy_m"`
			} `json:"location"`
			Platform        string    `json:"platform"`
			DeviceID        string    `json:"device_id"`
			ClientTimestamp time.Time `json:"client_timestamp"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
		}
		if _, err := uuid.Parse(req.PrizeID); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid prize ID"})
		}
		if req.ClientTimestamp.IsZero() {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "client_timestamp is required"})
		}

		deviceID := req.DeviceID
		if hdr, ok := c.Locals("device_id").(string); ok && hdr != "" {
			deviceID = hdr
		}

		result, err := orchestrator.SubmitClaim(c.UserContext(), services.ClaimRequest{
			UserID:          userID,
			PrizeID:         req.PrizeID,
			Lat:             req.Location.Lat,
			Lng:             req.Location.Lng,
			AccuracyM:       req.Location.AccuracyM,
			DeviceID:        deviceID,
			Platform:        req.Platform,
			ClientTimestamp: req.ClientTimestamp,
			IdempotencyKey:  c.Get("Idempotency-Key"),
		})
		if err != nil {
			if errors.Is(err, services.ErrClaimInFlight) {
				c.Set("Retry-After", "1")
				return c.Status(fiber.StatusConflict).JSON(fiber.Map{
					"error": "a claim with this idempotency key is already being processed",
				})
			}
			log.Printf("❌ Claim processing failed for user %s prize %s: %v", userID, req.PrizeID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process claim"})
		}

		return c.Status(statusForResult(result)).JSON(result)
	})

	secured.Get("/claims/history", func(c *fiber.Ctx) error {
		if query == nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "history unavailable in memory mode"})
		}
		userID := c.Locals("user_id").(string)
		page, _ := strconv.Atoi(c.Query("page", "1"))
		size, _ := strconv.Atoi(c.Query("size", "20"))
		history, err := query.GetClaimHistory(c.UserContext(), userID, page, size)
		if err != nil {
			log.Printf("DB Error fetching claim history: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch history"})
		}
		return c.JSON(history)
	})

	secured.Get("/points", func(c *fiber.Ctx) error {
		if ledger == nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "points unavailable in memory mode"})
		}
		userID := c.Locals("user_id").(string)
		acct, err := ledger.GetAccount(c.UserContext(), userID)
		if err != nil {
			log.Printf("DB Error fetching points account: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch points"})
		}
		return c.JSON(acct)
	})

	secured.Get("/achievements", func(c *fiber.Ctx) error {
		if query == nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "achievements unavailable in memory mode"})
		}
		userID := c.Locals("user_id").(string)
		achievements, err := query.GetUserAchievements(c.UserContext(), userID)
		if err != nil {
			log.Printf("DB Error fetching achievements: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch achievements"})
		}
		return c.JSON(achievements)
	})
}

// statusForResult maps a claim outcome to its HTTP status code. The pipeline
// itself never sees HTTP.
func statusForResult(res *services.ClaimResult) int {
	if res.Verified() {
		return fiber.StatusCreated
	}
	switch res.Reason {
	case services.RejectLocationTooFar, services.RejectSpeedViolation, services.RejectStaleTimestamp:
		return fiber.StatusBadRequest
	case services.RejectCooldownActive, services.RejectDailyLimitExceeded:
		return fiber.StatusTooManyRequests
	case services.RejectAlreadyClaimed:
		return fiber.StatusConflict
	case services.RejectExpired, services.RejectPrizeDisabled:
		return fiber.StatusGone
	case services.RejectNotFound:
		return fiber.StatusNotFound
	}
	return fiber.StatusBadRequest
}
