package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/ashwinyue/claude-relay/internal/config"
	"github.com/ashwinyue/claude-relay/internal/handler"
	"github.com/ashwinyue/claude-relay/internal/repository"
	"github.com/ashwinyue/claude-relay/internal/router"
	"github.com/ashwinyue/claude-relay/internal/service"
	"github.com/ashwinyue/claude-relay/internal/service/claude"
	"github.com/ashwinyue/claude-relay/internal/store"
	"github.com/ashwinyue/claude-relay/internal/ws"
)

func main() {
	// 加载配置
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 设置 Gin 模式
	gin.SetMode(cfg.Server.Mode)

	// 初始化数据库
	db, err := repository.NewDB(cfg)
	if err != nil {
		log.Fatalf("Failed to init database: %v", err)
	}
	defer db.Close()

	log.Printf("Database connected: %s", cfg.Database.DBName)

	// 初始化 Redis（可选，未启用时限流退化为进程内实现）
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.GetAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	// 初始化 Elasticsearch 会话存储
	convStore := store.NewElasticStore(cfg)
	if convStore.Available() {
		log.Printf("Elasticsearch connected: %s", cfg.Elastic.Host)
	} else {
		log.Printf("Warning: Elasticsearch unavailable, chat history is degraded")
	}

	// 初始化 Claude 客户端
	generator, err := claude.NewClient(&cfg.Claude)
	if err != nil {
		log.Fatalf("Failed to init Claude client: %v", err)
	}

	// 初始化各层
	repos := repository.NewRepositories(db.DB)
	services := service.NewServices(repos, cfg, redisClient, convStore, generator)
	handlers := handler.NewHandlers(services)

	// WebSocket
	registry := ws.NewRegistry()
	wsServer := ws.NewServer(services.Auth, services.Chat, registry, &cfg.WebSocket)

	// 初始化路由
	r := router.SetupRouter(services, handlers, wsServer)

	// 创建 HTTP 服务器
	srv := &http.Server{
		Addr:         cfg.Server.GetAddr(),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// 定期清理过期令牌
	cleanupDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-cleanupDone:
				return
			case <-ticker.C:
				if err := repos.Auth.DeleteExpiredTokens(); err != nil {
					log.Printf("Warning: failed to clean expired tokens: %v", err)
				}
			}
		}
	}()

	// 启动服务器
	go func() {
		log.Printf("Server starting on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	close(cleanupDone)

	// 优雅关闭
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
