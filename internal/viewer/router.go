package viewer

import "github.com/gofiber/fiber/v2"

// SetupRoutes configures all HTTP routes
func SetupRoutes(app *fiber.App, h *Handler) {
	app.Get("/health", h.HealthCheck)

	api := app.Group("/api")
	{
		api.Get("/state", h.GetState)
		api.Get("/scene", h.GetScene)
		api.Post("/scene/:handle/click", h.ClickDrawable)

		api.Get("/alerts", h.GetAlerts)
		api.Get("/objects", h.GetObjects)
		api.Get("/history", h.GetHistory)

		api.Get("/controls", h.GetControls)
		api.Post("/controls/start", h.StartProcessing)
		api.Post("/controls/stop", h.StopProcessing)
		api.Get("/notices", h.GetNotices)

		api.Get("/overlay", h.GetOverlay)
		api.Post("/overlay", h.SetOverlay)

		api.Get("/video/frame.jpg", h.GetVideoFrame)
	}
}
