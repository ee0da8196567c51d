package system

import (
	"context"
	"time"

	"go-ptw/internal/common/api"
	"go-ptw/internal/database"

	"github.com/gofiber/fiber/v2"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Pinger reports whether a dependency is reachable.
type Pinger func(ctx context.Context) error

type HealthApi struct {
	ping Pinger
}

func NewHealthApi(mongodb *database.MongodbDB) api.Route {
	return &HealthApi{
		ping: func(ctx context.Context) error {
			return mongodb.DB.Client().Ping(ctx, readpref.Primary())
		},
	}
}

func (h *HealthApi) Setup(app *fiber.App) {
	app.Get("/health", h.Health)
}

// Health godoc
// @Summary Health check
// @Description Reports service and database status
// @Tags system
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health [get]
func (h *HealthApi) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	if err := h.ping(ctx); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status":   "degraded",
			"database": "unreachable",
			"error":    err.Error(),
		})
	}
	return c.JSON(fiber.Map{
		"status":   "ok",
		"database": "ok",
		"time":     time.Now().UTC(),
	})
}
