package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"snaporia/internal/api"
	"snaporia/internal/chat"
	"snaporia/internal/localapi"
	"snaporia/internal/queue"
	"snaporia/internal/realtime"
	"snaporia/internal/transcode"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8090", "local api address")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// Required collaborator endpoints and identity.
	baseURL := mustEnv(logger, "API_BASE_URL")
	token := mustEnv(logger, "API_TOKEN")
	wsURL := mustEnv(logger, "WS_URL")
	selfID := mustEnv(logger, "SELF_USER_ID")

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	// Durable job store. When redis is unreachable the queue still runs,
	// jobs just won't survive a restart.
	var store queue.JobStore
	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if _, err := redisClient.Ping(pingCtx).Result(); err != nil {
		logger.Warn("❌ redis unreachable, falling back to in-memory job store", zap.Error(err))
		store = queue.NewMemoryStore()
	} else {
		logger.Info("✅ Connected to Redis", zap.String("addr", redisAddr))
		store = queue.NewRedisStore(redisClient, logger)
	}
	cancel()

	client := api.NewClient(baseURL, token, logger)

	manager := queue.NewManager(queue.Config{
		Store:      store,
		Transcoder: transcode.NewPassthrough(logger),
		Uploader:   client,
		Posts:      postService{client},
		Logger:     logger,
	})
	manager.Restore(context.Background())

	rt := realtime.NewClient(wsURL, token, logger)
	rt.Start()
	defer rt.Close()

	chats := chat.NewService(selfID, client, rt, logger)
	chats.Start()
	defer chats.Stop()

	handler := localapi.NewHandler(manager, chats, logger)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Mount("/", handler.Routes())

	logger.Info("🚀 local api listening", zap.String("addr", *addr))
	if err := http.ListenAndServe(*addr, r); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

// postService adapts the api client to the queue's narrower contract; the
// created-post record itself is not needed by the pipeline.
type postService struct {
	client *api.Client
}

func (p postService) CreatePost(ctx context.Context, content string, imageURLs []string, videoURL string) error {
	_, err := p.client.CreatePost(ctx, content, imageURLs, videoURL)
	return err
}

func mustEnv(logger *zap.Logger, key string) string {
	v := os.Getenv(key)
	if v == "" {
		logger.Fatal("❌ missing required environment variable", zap.String("key", key))
	}
	return v
}
