package system

import (
	"go-ptw/internal/common/api"
	"go-ptw/internal/config"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/swagger"
)

// SwaggerApi serves the generated API document. Production deployments
// don't expose it.
type SwaggerApi struct {
	enabled bool
}

func NewSwaggerApi(cfg *config.Config) api.Route {
	return &SwaggerApi{enabled: !cfg.IsProduction()}
}

func (h *SwaggerApi) Setup(app *fiber.App) {
	if !h.enabled {
		return
	}
	app.Get("/swagger/*", swagger.New(swagger.Config{
		Title:        "go-ptw permit-to-work API",
		DeepLinking:  true,
		DocExpansion: "list",
	}))
}
