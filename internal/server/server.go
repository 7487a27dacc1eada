package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"plum/internal/ai/component"
	"plum/internal/config"
	"plum/internal/handler"
	sceneHandler "plum/internal/handler/scene"
	"plum/internal/pkg/ark"
	"plum/internal/pkg/cache"
	"plum/internal/pkg/mongodb"
	"plum/internal/pkg/scenetools"
	"plum/internal/pkg/scenetools/providers"
	"plum/internal/pkg/storage"
	"plum/internal/pkg/storagefactory"
	"plum/internal/pkg/t2p"
	scenerepo "plum/internal/repository/scene"
	"plum/internal/server/middleware"
	sceneservice "plum/internal/service/scene"
)

// Server HTTP 服务器
type Server struct {
	cfg         *config.Config
	engine      *gin.Engine
	mongo       *mongodb.Client
	sqlite      *scenerepo.SQLiteStore
	redis       *cache.RedisCache
	store       *sceneservice.Store
	coordinator *sceneservice.Coordinator
}

// New 创建服务器实例
func New(cfg *config.Config) (*Server, error) {
	// 设置 Gin 模式
	switch cfg.Server.Mode {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建 Gin 引擎
	engine := gin.New()

	srv := &Server{
		cfg:    cfg,
		engine: engine,
	}

	// 初始化缓存存储后端（mongo / sqlite）
	norm := scenetools.NewNormalizer()
	var (
		entryRepo scenerepo.EntryRepository
		usageRepo scenerepo.UsageRepository
	)
	switch cfg.Store.Type {
	case "mongo":
		client, err := mongodb.New(&cfg.Store.Mongo)
		if err != nil {
			return nil, fmt.Errorf("connect mongodb: %w", err)
		}
		srv.mongo = client
		log.Info().Str("database", cfg.Store.Mongo.Database).Msg("connected to MongoDB")

		if err := mongodb.EnsureIndexes(client.Database()); err != nil {
			log.Warn().Err(err).Msg("failed to ensure indexes")
		}

		entryRepo = scenerepo.NewEntryRepo(client.Database())
		usageRepo = scenerepo.NewUsageRepo(client.Database())

	case "sqlite":
		sqlStore, err := scenerepo.OpenSQLite(cfg.Store.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		srv.sqlite = sqlStore
		log.Info().Str("path", cfg.Store.SQLite.Path).Msg("opened sqlite store")

		entryRepo = scenerepo.NewSQLiteEntryRepo(sqlStore)
		usageRepo = scenerepo.NewSQLiteUsageRepo(sqlStore)

	default:
		return nil, fmt.Errorf("unsupported store type: %s", cfg.Store.Type)
	}
	srv.store = sceneservice.NewStore(entryRepo, usageRepo, norm)

	// 初始化 Redis (可选，提供跨进程取消标记)
	if cfg.Redis.Addr != "" {
		rc, err := cache.NewRedisCache(&cfg.Redis)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to Redis, continuing without it")
		} else {
			srv.redis = rc
			log.Info().Str("addr", cfg.Redis.Addr).Msg("connected to Redis")
		}
	}

	// 初始化图片资源存储
	fileStorage, err := storagefactory.NewStorage(context.Background(), &cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	log.Info().Str("type", fileStorage.GetStorageType()).Msg("initialized storage")

	// 初始化协调器依赖（LLM 抽取 + 图片生成），任一缺失时任务接口不挂载
	extractor := newExtractor(cfg, norm)
	gateway := newGateway(cfg, fileStorage)
	if extractor != nil && gateway != nil {
		opts := sceneservice.CoordinatorOptions{
			EnableReuse:    cfg.SceneCache.EnableReuse,
			NoRepeatWindow: cfg.SceneCache.NoRepeatWindow,
		}
		if srv.redis != nil {
			opts.CancelFlag = srv.redis
		}
		srv.coordinator = sceneservice.NewCoordinator(srv.store, extractor, gateway, scenetools.NewMatcher(norm), opts)
	} else {
		log.Warn().Msg("LLM or image provider not configured, job endpoints disabled")
	}

	// 设置路由
	srv.setupRoutes(fileStorage)

	return srv, nil
}

// newExtractor 按配置创建描述符抽取服务，未配置时返回 nil
// ark-sdk 直连火山官方 SDK，其余 provider 走 eino ChatModel
func newExtractor(cfg *config.Config, norm *scenetools.Normalizer) *sceneservice.Extractor {
	if cfg.AI.APIKey == "" {
		return nil
	}

	var provider scenetools.LLMProvider
	switch cfg.AI.Provider {
	case "ark-sdk":
		client, err := ark.NewClient(&cfg.AI)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize ark chat client")
			return nil
		}
		provider = providers.NewArkProvider(client)
	default:
		chatModel, err := component.NewChatModel(context.Background(), &cfg.AI)
		if err != nil {
			log.Warn().Err(err).Str("provider", cfg.AI.Provider).Msg("failed to initialize chat model")
			return nil
		}
		provider = providers.NewEinoProvider(chatModel)
	}

	log.Info().Str("provider", cfg.AI.Provider).Str("model", cfg.AI.Model).Msg("initialized chat model")
	return sceneservice.NewExtractor(provider, norm)
}

// newGateway 按配置创建图片生成网关，提供者未配置时返回 nil
func newGateway(cfg *config.Config, fileStorage storage.Storage) *sceneservice.Gateway {
	opts := scenetools.ImageOptions{
		Width:  cfg.Image.Width,
		Height: cfg.Image.Height,
	}

	var provider scenetools.ImageProvider
	switch cfg.Image.Provider {
	case "ark":
		client, err := ark.NewArkImageClient(ark.ArkImageConfigFromEnv())
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize ark image client")
			return nil
		}
		provider = providers.NewArkImageProvider(client)
	case "t2p":
		client, err := t2p.NewClient(t2p.ConfigFromEnv())
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize t2p client")
			return nil
		}
		provider = providers.NewT2PProvider(client)
	default:
		log.Warn().Str("provider", cfg.Image.Provider).Msg("unknown image provider")
		return nil
	}

	log.Info().Str("provider", cfg.Image.Provider).Msg("initialized image gateway")
	return sceneservice.NewGateway(provider, fileStorage, cfg.SceneCache.ImageDir, opts)
}

// setupRoutes 设置路由
func (s *Server) setupRoutes(fileStorage storage.Storage) {
	// 全局中间件
	s.engine.Use(middleware.Recovery())
	s.engine.Use(middleware.RequestID())
	s.engine.Use(middleware.Logger())
	s.engine.Use(middleware.CORS())

	// 健康检查
	healthHandler := handler.NewHealthHandler()
	s.engine.GET("/health", healthHandler.Health)
	s.engine.GET("/ready", healthHandler.Ready)

	// API v1
	v1 := s.engine.Group("/api/v1")
	{
		// 缓存管理接口
		cacheHdl := sceneHandler.NewHandler(s.store, fileStorage, s.cfg.SceneCache.ImageDir)
		v1.GET("/cache/entries", cacheHdl.ListEntries)
		v1.GET("/cache/entries/:id", cacheHdl.GetEntry)
		v1.POST("/cache/entries", cacheHdl.CreateEntry)
		v1.GET("/cache/stats", cacheHdl.Stats)

		// 任务处理接口（依赖 LLM 和图片提供者）
		if s.coordinator != nil {
			jobHdl := sceneHandler.NewJobHandler(s.coordinator, s.redis)
			v1.POST("/jobs/:job_id/process", jobHdl.ProcessJob)
			v1.POST("/jobs/:job_id/cancel", jobHdl.CancelJob)
			v1.DELETE("/jobs/:job_id/cancel", jobHdl.ResumeJob)
		}
	}
}

// Run 启动服务器
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	// 启动服务器
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 等待关闭信号或错误
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down server...")

		// 关闭连接
		if s.mongo != nil {
			if err := s.mongo.Close(context.Background()); err != nil {
				log.Error().Err(err).Msg("failed to close MongoDB connection")
			}
		}
		if s.sqlite != nil {
			if err := s.sqlite.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close sqlite store")
			}
		}
		if s.redis != nil {
			if err := s.redis.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close Redis connection")
			}
		}

		return srv.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}

// Engine 获取 Gin 引擎 (用于测试)
func (s *Server) Engine() *gin.Engine {
	return s.engine
}
