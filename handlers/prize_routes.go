// handlers/prize_routes.go
package handlers

import (
	"log"
	"strconv"
	"time"

	"geohunt-claim-system/middleware"
	"geohunt-claim-system/services"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// SetupPrizeRoutes wires the prize lookup surfaces and the ops transition
// endpoint. Prize creation stays with the external distribution service.
func SetupPrizeRoutes(app *fiber.App, query *services.QueryService, prizes *services.PrizeStateService) {
	app.Get("/prizes/nearby", func(c *fiber.Ctx) error {
		lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
		lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
		if errLat != nil || errLng != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "lat and lng are required"})
		}
		radius, _ := strconv.ParseFloat(c.Query("radius", "5000"), 64)

		found, err := query.GetNearbyPrizes(c.UserContext(), lat, lng, radius, time.Now().UTC())
		if err != nil {
			log.Printf("DB Error fetching nearby prizes: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch prizes"})
		}
		return c.JSON(fiber.Map{"prizes": found, "count": len(found)})
	})

	app.Get("/prizes/city/:citySlug", func(c *fiber.Ctx) error {
		found, err := query.GetPrizesByCity(c.UserContext(), c.Params("citySlug"), time.Now().UTC())
		if err != nil {
			log.Printf("DB Error fetching city prizes: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch prizes"})
		}
		return c.JSON(fiber.Map{"prizes": found, "count": len(found)})
	})

	adminGroup := app.Group("/s/admin", middleware.UserContextMiddleware(), middleware.RequireRole("hunt_admin"))

	adminGroup.Post("/prizes/:id/disable", func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid prize ID"})
		}

		disabled, err := prizes.Disable(c.UserContext(), id)
		if err != nil {
			log.Printf("DB Error disabling prize %s: %v", id, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to disable prize"})
		}
		if !disabled {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "prize is not active — terminal states cannot be disabled",
			})
		}
		return c.JSON(fiber.Map{"message": "Prize disabled", "prize_id": id})
	})
}
