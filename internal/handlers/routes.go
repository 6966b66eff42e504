package handlers

import (
	"github.com/docshare/drive/internal/middleware"
	"github.com/docshare/drive/internal/services"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type Dependencies struct {
	DB     *gorm.DB
	FS     *services.FilesystemService
	Index  *services.SearchIndex
	Ledger *services.QuotaLedger
	Audit  *services.AuditService
}

// RegisterRoutes mounts /health and the authenticated /api tree.
func RegisterRoutes(app *fiber.App, deps Dependencies) {
	nodesHandler := NewNodesHandler(deps.FS, deps.Index, deps.Ledger, deps.Audit)
	accountHandler := NewAccountHandler(deps.Ledger, deps.Index)
	auditHandler := NewAuditHandler(deps.Audit)
	authMiddleware := middleware.NewAuthMiddleware(deps.DB)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api", authMiddleware.RequireAuth)
	api.Get("/me/quota", accountHandler.Quota)
	api.Get("/dashboard", accountHandler.Dashboard)
	api.Get("/audit-log", auditHandler.ExportMyLog)
	api.Post("/folders", nodesHandler.CreateFolder)

	fileRoutes := api.Group("/files")
	fileRoutes.Post("/upload", nodesHandler.Upload)
	fileRoutes.Get("/", nodesHandler.List)
	fileRoutes.Get("/search", nodesHandler.Search)
	fileRoutes.Get("/favorites", nodesHandler.Favorites)
	fileRoutes.Get("/recent", nodesHandler.Recent)
	fileRoutes.Get("/by-date", nodesHandler.ByDate)
	fileRoutes.Get("/:id/path", nodesHandler.Path)
	fileRoutes.Get("/:id/size", nodesHandler.Size)
	fileRoutes.Get("/:id/download", nodesHandler.Download)
	fileRoutes.Post("/:id/duplicate", nodesHandler.Duplicate)
	fileRoutes.Post("/:id/favorite", nodesHandler.ToggleFavorite)
	fileRoutes.Post("/:id/private", nodesHandler.TogglePrivate)
	fileRoutes.Get("/:id", nodesHandler.Get)
	fileRoutes.Put("/:id", nodesHandler.Update)
	fileRoutes.Delete("/:id", nodesHandler.Delete)
}
