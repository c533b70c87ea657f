package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"vibin_realtime/config"
	"vibin_realtime/middleware"
	"vibin_realtime/routes"
	"vibin_realtime/services"
	"vibin_realtime/socket"
	"vibin_realtime/store"
	"vibin_realtime/utils"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	logger, err := utils.InitLogger(cfg.Env)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()

	backend, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		zap.S().Fatalf("❌ Failed to initialize %s store: %v", cfg.Store.Backend, err)
	}
	defer closeStore()

	var (
		blocks   services.BlockList
		presence services.PresenceStore
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			zap.S().Fatalf("❌ Invalid REDIS_URL: %v", err)
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			zap.S().Fatalf("❌ Failed to reach Redis: %v", err)
		}
		defer rdb.Close()
		blocks = services.NewRedisBlockList(rdb)
		presence = services.NewRedisPresence(rdb, cfg.TypingTTL)
		zap.S().Info("✅ Redis presence and block list enabled")
	} else {
		blocks = services.NewMemoryBlockList()
		presence = services.NewMemoryPresence(cfg.TypingTTL, nil)
	}

	// Initialize Services
	matchService := services.NewMatchService(backend, blocks)
	interestService := services.NewInterestService(backend, matchService, blocks)
	interestService.ImplicitMutualAccept = cfg.ImplicitMutualAccept()
	chatService := services.NewChatService(backend, matchService)

	verifier := middleware.NewTokenVerifier(cfg.JWT.Secret, cfg.JWT.Issuer)
	hub := socket.NewHub(chatService, matchService, presence, verifier)

	// Initialize the router
	r := mux.NewRouter()
	routes.RegisterRoutes(r, hub)
	api := routes.NewAPIRouter(r, verifier)
	routes.RegisterInterestRoutes(api, interestService)
	routes.RegisterBlockRoutes(api, blocks, interestService)
	routes.RegisterMatchRoutes(api, matchService)
	routes.RegisterChatRoutes(api, chatService, presence, hub)

	// Add CORS middleware
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"}, // Adjust for specific domains if needed
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}).Handler(r)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           corsHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zap.S().Infof("🚀 Starting server on port %s (%s store)", cfg.Port, cfg.Store.Backend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.S().Fatalf("❌ Server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	zap.S().Info("🛑 Shutting down")
	hub.Close()
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zap.S().Errorf("❌ Shutdown failed: %v", err)
	}
}

// openStore builds the configured durable store and a function releasing it.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	switch cfg.Store.Backend {
	case config.BackendDynamo:
		client, err := store.InitializeDynamoDBClient(ctx, cfg.Store.AWSRegion, cfg.Store.DynamoEndpoint)
		if err != nil {
			return nil, nil, err
		}
		tables := store.DefaultTables
		if t := cfg.Store.Tables; t.Interests != "" {
			tables.Interests = t.Interests
		}
		if t := cfg.Store.Tables; t.Matches != "" {
			tables.Matches = t.Matches
		}
		if t := cfg.Store.Tables; t.Messages != "" {
			tables.Messages = t.Messages
		}
		zap.S().Infof("✅ DynamoDB client initialized (%s)", cfg.Store.AWSRegion)
		return store.NewDynamoStore(client, tables), func() {}, nil

	case config.BackendPostgres:
		db, err := store.OpenPostgres(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		pg := store.NewPostgresStore(db)
		if err := pg.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		zap.S().Info("✅ Postgres store migrated")
		return pg, func() { db.Close() }, nil

	default:
		zap.S().Warn("⚠️ Using the in-memory store; data is lost on restart")
		return store.NewMemoryStore(), func() {}, nil
	}
}
