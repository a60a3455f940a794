package cmd

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/oracle-engine/server/internal/agent/cycle"
	"github.com/oracle-engine/server/internal/agent/llm"
	"github.com/oracle-engine/server/internal/agent/memory"
	"github.com/oracle-engine/server/internal/agent/model"
	"github.com/oracle-engine/server/internal/agent/observers"
	"github.com/oracle-engine/server/internal/agent/prompts"
	"github.com/oracle-engine/server/internal/agent/queue"
	"github.com/oracle-engine/server/internal/agent/repo"
	logx "github.com/oracle-engine/server/pkg/logger"
)

// app holds the Redis backed collaborators every command shares. The model
// side is built on demand so commands that never call the model do not need
// an API key.
type app struct {
	cfg      AppConfig
	rdb      *redis.Client
	memory   *repo.RedisMemoryRepository
	usage    *repo.RedisUsageRepository
	identity *repo.RedisIdentityCache
	queue    *queue.Store
}

func newApp(cfg AppConfig) (*app, error) {
	logx.Init(logx.LoggerOpts{Environment: cfg.Environment(), Level: cfg.LogLevel})
	observers.Register()

	rdb, err := cfg.Redis.New()
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	logx.Debug().Str("env", cfg.Env).Msg("Redis connected")

	return &app{
		cfg:      cfg,
		rdb:      rdb,
		memory:   repo.NewRedisMemoryRepository(rdb),
		usage:    repo.NewRedisUsageRepository(rdb),
		identity: repo.NewRedisIdentityCache(rdb),
		queue:    queue.NewStore(rdb),
	}, nil
}

func (a *app) Close() error {
	if a == nil || a.rdb == nil {
		return nil
	}
	return a.rdb.Close()
}

// memoryManager is used by the commands that edit client history directly.
func (a *app) memoryManager() *memory.Manager {
	return memory.NewManager(a.memory, a.cfg.Memory, a.cfg.Location())
}

// orchestrator builds the credential pool, the Gemini factory and the prompt
// library, then the cycle runner on top of the shared repositories.
func (a *app) orchestrator() (*cycle.Orchestrator, error) {
	pool, err := llm.NewPool(a.cfg.Keys())
	if err != nil {
		return nil, fmt.Errorf("credential pool: %w", err)
	}
	lib, err := prompts.Load(a.cfg.PromptDir)
	if err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}

	factory := llm.GeminiFactory(llm.ChatModelConfig{
		BaseURL:  a.cfg.BaseURL,
		Model:    a.cfg.Model,
		Creative: a.cfg.Creative.Generation(),
		Factual:  a.cfg.Factual.Generation(),
	})

	logx.Info().
		Str("model", a.cfg.Model).
		Int("api_keys", pool.Size()).
		Int("max_qc_rounds", a.cfg.Cycle.MaxQCRounds).
		Msg("Reading engine ready")

	return cycle.New(cycle.Deps{
		Pool:     pool,
		Factory:  factory,
		Prompts:  lib,
		Memory:   a.memory,
		Usage:    a.usage,
		Identity: a.identity,
	}, cycle.Config{
		Model:    a.cfg.Model,
		Pricing:  model.ResolvePricing(a.cfg.Model, a.cfg.Pricing),
		Retry:    a.cfg.Retry,
		Cycle:    a.cfg.Cycle,
		Memory:   a.cfg.Memory,
		Location: a.cfg.Location(),
	}), nil
}
