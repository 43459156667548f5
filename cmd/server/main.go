package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"diagrammer-backend/internal/config"
	"diagrammer-backend/internal/database"
	"diagrammer-backend/internal/handlers"
	"diagrammer-backend/internal/middleware"
	"diagrammer-backend/internal/models"
	"diagrammer-backend/internal/observability"
	"diagrammer-backend/internal/render"
	"diagrammer-backend/internal/router"
	"diagrammer-backend/internal/services"
	"diagrammer-backend/internal/session"
	"diagrammer-backend/internal/websocket"
	"diagrammer-backend/internal/worker"
)

func main() {
	log.Println("🚀 Starting Diagrammer Backend...")

	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	observability.Configure(cfg.LogLevel)
	log.Println("✓ Environment variables loaded")

	ctx := context.Background()

	// ──── Step 2: Initialize Redis Clients ────
	var redisClients *database.RedisClients
	if cfg.RedisURL != "" {
		var err error
		redisClients, err = database.NewRedisClients(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("✗ Redis connection failed: %v", err)
		}
		defer redisClients.Close()
		log.Println("✓ Redis connected")
	} else {
		log.Println("✓ Redis not configured, events are delivered in-process")
	}

	// ──── Step 3: Initialize Gemini Client ────
	fileExtractService := services.NewFileExtractService(cfg.MaxDocumentBytes)
	geminiService, err := services.NewGeminiService(services.GeminiOptions{
		APIKey:         cfg.GeminiAPIKey,
		Model:          cfg.GeminiModel,
		ConcurrentReqs: cfg.GeminiConcurrentReqs,
		Timeout:        cfg.GenerationTimeout,
	}, fileExtractService)
	if err != nil {
		log.Fatalf("✗ Gemini client initialization failed: %v", err)
	}
	defer geminiService.Close()
	log.Printf("✓ Gemini client initialized (%s)", cfg.GeminiModel)

	// ──── Step 4: Initialize Renderers ────
	graphvizEngine, err := render.NewGraphvizEngine(ctx)
	if err != nil {
		log.Fatalf("✗ Graphviz initialization failed: %v", err)
	}
	defer graphvizEngine.Close()

	engine := &render.DialectEngine{
		Mermaid:  render.NewKrokiEngine(cfg.KrokiURL, &http.Client{Timeout: 20 * time.Second}),
		Graphviz: graphvizEngine,
	}
	scheduler := render.NewScheduler(render.NewRenderer(engine))
	defer scheduler.Stop()
	log.Printf("✓ Renderers ready (mermaid via %s, graphviz in-process)", cfg.KrokiURL)

	// ──── Step 5: Initialize Sessions and Event Delivery ────
	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret)

	var wsHub *websocket.Hub
	var publisher session.Publisher = session.PublisherFunc(func(ctx context.Context, id uuid.UUID, msg models.WSMessage) error {
		return wsHub.PublishUpdate(ctx, id, msg)
	})
	if redisClients != nil {
		publisher = services.NewRedisPublisher(redisClients.Publish)
	}

	store := session.NewStore(geminiService, publisher, scheduler, session.Options{
		ChatDebounce:     cfg.ChatRenderDebounce,
		EditDebounce:     cfg.EditRenderDebounce,
		MaxDocumentBytes: cfg.MaxDocumentBytes,
	})
	defer store.CloseAll()

	reaper := session.NewReaper(store, cfg.SessionIdleTTL)
	reaper.Start()
	defer reaper.Stop()

	if redisClients != nil {
		wsHub = websocket.NewHub(redisClients.Subscribe, jwtAuth, store, cfg.FrontendURL)
	} else {
		wsHub = websocket.NewHub(nil, jwtAuth, store, cfg.FrontendURL)
	}
	log.Println("✓ WebSocket hub started")

	// ──── Step 6: Start Job Worker Pool ────
	workerPool := worker.NewPool(cfg.WorkerCount, cfg.WorkerCount*10, cfg.GenerationTimeout+10*time.Second)
	workerPool.Start()
	log.Printf("✓ Worker pool started (%d goroutines)", cfg.WorkerCount)

	// ──── Step 7: Start HTTP Server ────
	generationLimiter := middleware.NewRateLimiter(router.GenerationLimit, time.Minute)
	defer generationLimiter.Stop()

	sessionHandler := handlers.NewSessionHandler(store, workerPool, cfg.MaxDocumentBytes)
	r := router.New(jwtAuth, sessionHandler, generationLimiter, wsHub, cfg.FrontendURL)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2*time.Minute + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		server.Shutdown(ctx)

		workerPool.Stop()
		wsHub.Close()
	}()

	log.Printf("✓ Diagrammer Backend ready on http://localhost:%s", cfg.Port)
	log.Printf("  API: http://localhost:%s/api/v1", cfg.Port)
	log.Printf("  WS:  ws://localhost:%s/api/v1/ws", cfg.Port)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}
