package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/storefront/internal/api"
	"github.com/example/storefront/internal/backend"
	"github.com/example/storefront/internal/cart"
	"github.com/example/storefront/internal/checkout"
	"github.com/example/storefront/internal/history"
	"github.com/example/storefront/internal/reconcile"
	"github.com/example/storefront/internal/session"
	"github.com/example/storefront/internal/store"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Configuration from environment variables
	addr := getEnv("STOREFRONT_ADDR", ":8080")
	dbPath := getEnv("STOREFRONT_DB", "storefront.db")
	backendURL := getEnv("BACKEND_URL", "http://localhost:9000")
	cartID := getEnv("CART_ID", "cart-local")
	requestTimeout := getDurationEnv("BACKEND_TIMEOUT", 10*time.Second)
	verifyTimeout := getDurationEnv("VERIFY_TIMEOUT", 10*time.Second)

	log.Println("[Storefront] ========================================")
	log.Printf("[Storefront] Backend: %s", backendURL)
	log.Printf("[Storefront] Durable store: %s", dbPath)
	log.Println("[Storefront] ========================================")

	durable, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		log.Fatalf("[Storefront] Failed to open durable store: %v", err)
	}
	defer durable.Close()

	cartMgr, err := cart.NewManager(ctx, durable, cartID)
	if err != nil {
		log.Fatalf("[Storefront] Failed to restore cart: %v", err)
	}
	defer cartMgr.Close()
	log.Printf("[Storefront] Cart %s restored: %d item(s)", cartID, cartMgr.ItemCount())

	sessions := session.NewManager(durable)
	client := backend.NewClient(backendURL, requestTimeout, sessions)
	orchestrator := checkout.NewOrchestrator(cartMgr, client, durable)
	orderHistory := history.NewService(client, nil)
	reconciler := reconcile.NewReconciler(cartMgr, client, durable, orderHistory, verifyTimeout)

	if pending, ok, err := checkout.LoadPending(ctx, durable); err == nil && ok {
		log.Printf("[Storefront] Pending checkout found (reference %s, status %s); awaiting gateway return",
			pending.Reference, pending.Status)
	}

	handlers := api.NewHandlers(cartMgr, orchestrator, reconciler, orderHistory, sessions)
	server := &http.Server{
		Addr:    addr,
		Handler: api.NewRouter(handlers),
	}

	go func() {
		log.Printf("[Storefront] Listening on %s", addr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("[Storefront] Server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[Storefront] Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("[Storefront] Invalid %s=%q, using %s", key, value, defaultValue)
		return defaultValue
	}
	return d
}
