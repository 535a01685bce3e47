package cmd

import (
	"fmt"

	"github.com/EvanCNavarro/disc-sub000/config"
	"github.com/EvanCNavarro/disc-sub000/core/auth"
	"github.com/EvanCNavarro/disc-sub000/core/convergence"
	"github.com/EvanCNavarro/disc-sub000/core/extraction"
	"github.com/EvanCNavarro/disc-sub000/core/imagegen"
	"github.com/EvanCNavarro/disc-sub000/core/llm"
	"github.com/EvanCNavarro/disc-sub000/core/lyrics"
	"github.com/EvanCNavarro/disc-sub000/core/pipeline"
	"github.com/EvanCNavarro/disc-sub000/core/spotify"
	"github.com/EvanCNavarro/disc-sub000/core/styles"
	"github.com/EvanCNavarro/disc-sub000/db"
	"github.com/EvanCNavarro/disc-sub000/logger"
	"github.com/EvanCNavarro/disc-sub000/repository"
	"github.com/EvanCNavarro/disc-sub000/storage"
)

// services 汇集各命令共享的仓库与流水线依赖
type services struct {
	cfg         *config.Config
	playlists   repository.PlaylistRepository
	generations repository.GenerationRepository
	jobs        repository.JobRepository
	styles      *styles.Registry
	pipeline    *pipeline.Pipeline
}

// initLogging 按配置初始化全局日志，重复调用无副作用
func initLogging(cfg *config.Config) {
	logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		OutputPath: cfg.LogPath,
		MaxSizeMB:  100,
		MaxBackups: 5,
		MaxAgeDays: 30,
		Compress:   true,
	})
}

// connectInfra 连接MySQL、Redis和MinIO并初始化表结构。
// 任何一项失败都直接返回错误：没有完整的基础设施，流水线无法运行。
func connectInfra(cfg *config.Config) error {
	if err := db.ConnectDB(cfg); err != nil {
		return fmt.Errorf("failed to connect to MySQL: %w", err)
	}
	if err := db.InitDB(); err != nil {
		return fmt.Errorf("failed to initialize database schema: %w", err)
	}
	if err := db.ConnectRedis(cfg); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	if err := storage.InitMinio(); err != nil {
		return fmt.Errorf("failed to connect to MinIO: %w", err)
	}
	return nil
}

// buildServices 按配置组装全部仓库、外部客户端和生成流水线。
// 调用前必须先完成 connectInfra。
func buildServices(cfg *config.Config) (*services, error) {
	playlists := repository.NewMySQLPlaylistRepository(db.DB)
	generations := repository.NewMySQLGenerationRepository(db.DB)
	analyses := repository.NewMySQLAnalysisRepository(db.DB)
	claims := repository.NewMySQLClaimRepository(db.DB)
	usage := repository.NewMySQLUsageRepository(db.DB)
	jobs := repository.NewMySQLJobRepository(db.DB)
	accounts := repository.NewMySQLAccountRepository(db.DB)
	lyricCache := repository.NewMySQLLyricCacheRepository(db.DB)
	extractionCache := repository.NewMySQLExtractionCacheRepository(db.DB)

	sealer, err := auth.NewSealer(cfg.TokenCryptoKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token sealer: %w", err)
	}
	exchanger := spotify.NewAuthClient(cfg.SpotifyClientID, cfg.SpotifyClientSecret,
		cfg.SpotifyAccountsURL+"/api/token")
	tokens := auth.NewManager(accounts, sealer, exchanger)

	llmClient := llm.NewClient(&llm.Config{
		APIBaseURL:  cfg.LLMAPIBaseURL,
		APIKey:      cfg.LLMAPIKey,
		Model:       cfg.LLMModel,
		MaxTokens:   cfg.LLMMaxTokens,
		Temperature: cfg.LLMTemperature,
	})

	registry, err := styles.NewRegistry(cfg.StylesDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load style registry: %w", err)
	}

	p := pipeline.New(pipeline.Deps{
		Playlists:   playlists,
		Generations: generations,
		Analyses:    analyses,
		Claims:      claims,
		Usage:       usage,
		Tokens:      tokens,
		Platform:    spotify.NewClient(cfg.SpotifyAPIURL),
		Lyrics:      lyrics.NewFetcher(lyrics.NewClient(cfg.LyricsAPIBaseURL), lyricCache, cfg.LyricWorkers),
		Extractor:   extraction.NewEngine(llmClient, extractionCache, cfg.ExtractionWorkers),
		Selector:    convergence.NewEngine(llmClient),
		Images:      imagegen.NewClient(cfg.ImageAPIBaseURL, cfg.ImageAPIToken),
		Archive:     storage.Archive{},
		Styles:      registry,
	}, pipeline.Options{
		Deadline:      cfg.PipelineDeadline,
		CoverMaxBytes: cfg.CoverMaxBytes,
		LLMModel:      llmClient.Model(),
	})

	return &services{
		cfg:         cfg,
		playlists:   playlists,
		generations: generations,
		jobs:        jobs,
		styles:      registry,
		pipeline:    p,
	}, nil
}
