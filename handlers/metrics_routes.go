// handlers/metrics_routes.go
package handlers

import (
	"bytes"
	"log"

	"geohunt-claim-system/services"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/common/expfmt"
)

// SetupMetricsRoutes exposes the injected registry in the Prometheus text
// format. Fiber sits on fasthttp, so promhttp's net/http handler does not
// apply; encoding the gathered families directly is simpler than bridging.
func SetupMetricsRoutes(app *fiber.App, metrics *services.Metrics) {
	app.Get("/metrics", func(c *fiber.Ctx) error {
		families, err := metrics.Registry.Gather()
		if err != nil {
			log.Printf("❌ Metrics gather failed: %v", err)
			return c.Status(fiber.StatusInternalServerError).SendString("metrics gather failed")
		}

		var buf bytes.Buffer
		enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
		for _, mf := range families {
			if err := enc.Encode(mf); err != nil {
				log.Printf("❌ Metrics encode failed: %v", err)
				return c.Status(fiber.StatusInternalServerError).SendString("metrics encode failed")
			}
		}

		c.Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
		return c.Send(buf.Bytes())
	})

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
}
