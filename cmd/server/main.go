package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docshare/linkdrive/internal/config"
	"github.com/docshare/linkdrive/internal/database"
	"github.com/docshare/linkdrive/internal/handlers"
	"github.com/docshare/linkdrive/internal/middleware"
	"github.com/docshare/linkdrive/internal/mirror"
	"github.com/docshare/linkdrive/internal/services"
	"github.com/docshare/linkdrive/internal/storage"
	"github.com/docshare/linkdrive/pkg/logger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

func main() {
	logger.Init()

	cfg := config.Load()

	db, err := database.Connect(cfg.DB)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}

	store, err := storage.NewFromConfig(context.Background(), cfg.Store, cfg.MinIO)
	if err != nil {
		log.Fatalf("store initialization failed: %v", err)
	}

	m := mirror.New(db, cfg.Tree.MirrorTimeout)
	locks := services.NewTreeLocker(cfg.Tree.Locking)

	coordinator := services.NewCoordinator(store, m, locks, cfg.Tree.CompensationTimeout)
	archive := services.NewArchiveStreamer(store, locks, cfg.Tree.ArchiveMaxDepth)
	search := services.NewSearchMerger(store, m, locks, cfg.Tree.SearchMaxDepth, cfg.Tree.SearchLimit)
	gateway := services.NewGateway(cfg.Gateway, store)

	filesHandler := handlers.NewFilesHandler(coordinator, m, store, archive, search)
	contentHandler := handlers.NewContentHandler(gateway)
	reconciliationHandler := handlers.NewReconciliationHandler(m)

	// Immutable keeps query and form strings valid after the handler returns;
	// folder downloads keep streaming from a goroutine.
	app := fiber.New(fiber.Config{
		BodyLimit: cfg.Server.BodyLimit,
		Immutable: true,
	})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS(cfg.Server.AllowOrigins))
	app.Use(middleware.RequestLogger())
	app.Use(middleware.SecurityLogger())
	app.Use(middleware.Owner(cfg.Owner.DefaultID))

	handlers.RegisterRoutes(app, filesHandler, contentHandler, reconciliationHandler)

	listenAddr := fmt.Sprintf(":%s", cfg.Server.Port)

	logger.Info("server_starting", map[string]interface{}{
		"port":          cfg.Server.Port,
		"address":       listenAddr,
		"store_backend": cfg.Store.Backend,
		"db_driver":     cfg.DB.Driver,
		"tree_locking":  cfg.Tree.Locking,
		"gateways":      len(gateway.Strategies),
		"owner_id":      cfg.Owner.DefaultID.String(),
		"body_limit_mb": cfg.Server.BodyLimit / (1024 * 1024),
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
		shutdownDone := make(chan struct{})
		go func() {
			_ = app.Shutdown()
			close(shutdownDone)
		}()
		select {
		case <-shutdownDone:
		case <-time.After(cfg.Server.ShutdownGrace):
			log.Print("forced shutdown timeout reached")
		}
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server error: %v", err)
		}
	}
}
