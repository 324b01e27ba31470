// Package service 聚合所有业务服务
package service

import (
	"github.com/redis/go-redis/v9"

	"github.com/ashwinyue/claude-relay/internal/config"
	"github.com/ashwinyue/claude-relay/internal/repository"
	"github.com/ashwinyue/claude-relay/internal/service/auth"
	"github.com/ashwinyue/claude-relay/internal/service/chat"
	"github.com/ashwinyue/claude-relay/internal/service/ratelimit"
	"github.com/ashwinyue/claude-relay/internal/store"
)

// Services 服务集合
type Services struct {
	Auth    *auth.Service
	Chat    *chat.Service
	Limiter ratelimit.Limiter
	Config  *config.Config
}

// NewServices 创建服务集合
func NewServices(repos *repository.Repositories, cfg *config.Config, redisClient *redis.Client, convStore store.ConversationStore, generator chat.Generator) *Services {
	var limiter ratelimit.Limiter
	if redisClient != nil {
		limiter = ratelimit.NewRedisLimiter(redisClient, cfg.RateLimit.PerMinute)
	} else {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimit.PerMinute)
	}

	return &Services{
		Auth:    auth.NewService(repos, &cfg.Auth),
		Chat:    chat.NewService(convStore, repos.Chat, generator, &cfg.Claude),
		Limiter: limiter,
		Config:  cfg,
	}
}
