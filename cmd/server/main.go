package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docshare/drive/internal/config"
	"github.com/docshare/drive/internal/database"
	"github.com/docshare/drive/internal/handlers"
	"github.com/docshare/drive/internal/middleware"
	"github.com/docshare/drive/internal/services"
	"github.com/docshare/drive/internal/storage"
	"github.com/docshare/drive/pkg/logger"
	"github.com/docshare/drive/pkg/utils"
	"github.com/dustin/go-humanize"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

func main() {
	logger.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("configuration failed: %v", err)
	}
	utils.ConfigureJWT(cfg.JWT.Secret, cfg.JWT.ExpirationHours)

	db, err := database.Connect(cfg.DB)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}

	blobs, err := storage.NewBlobStoreFromConfig(context.Background(), cfg)
	if err != nil {
		log.Fatalf("blob store initialization failed: %v", err)
	}

	ledger := services.NewQuotaLedger(db)
	fs := services.NewFilesystemService(db, blobs, ledger, cfg.Storage)
	index := services.NewSearchIndex(db, ledger, cfg.Storage)
	auditService := services.NewAuditService(db, blobs, cfg.Audit.QueueSize)
	auditService.StartExporter(cfg.Audit.ExportInterval)

	bodyLimit := cfg.Server.BodyLimitMB * 1024 * 1024
	app := fiber.New(fiber.Config{BodyLimit: bodyLimit})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS(cfg.Server.AllowOrigins))
	app.Use(middleware.RequestLogger())
	app.Use(middleware.SecurityLogger())

	handlers.RegisterRoutes(app, handlers.Dependencies{
		DB:     db,
		FS:     fs,
		Index:  index,
		Ledger: ledger,
		Audit:  auditService,
	})

	listenAddr := fmt.Sprintf(":%s", cfg.Server.Port)

	logger.Info("server_starting", map[string]interface{}{
		"port":         cfg.Server.Port,
		"address":      listenAddr,
		"body_limit":   humanize.IBytes(uint64(bodyLimit)),
		"blob_backend": cfg.Blob.Backend,
		"db_driver":    cfg.DB.Driver,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(listenAddr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Printf("shutting down server due to signal: %s", sig)
		if err := app.ShutdownWithTimeout(cfg.Server.ShutdownTimeout); err != nil {
			log.Printf("forced shutdown: %v", err)
		}
	case err := <-errCh:
		if err != nil {
			auditService.Close()
			log.Fatalf("server error: %v", err)
		}
	}

	auditService.Close()
	logger.Info("server_stopped", map[string]interface{}{
		"stopped_at": time.Now().UTC().Format(time.RFC3339),
	})
}
