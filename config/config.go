package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config stores the application configuration.
// Values come from the environment (optionally via .env) with sane defaults
// for local development.
type Config struct {
	// HTTP status surface of the worker
	StatusAddr string

	// MySQL
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis配置
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// MinIO 对象存储（封面归档）
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool

	// Spotify 平台应用凭证
	SpotifyAPIURL       string
	SpotifyAccountsURL  string
	SpotifyClientID     string
	SpotifyClientSecret string

	// LLM 服务（OpenAI 兼容 chat completions）
	LLMAPIBaseURL  string
	LLMAPIKey      string
	LLMModel       string
	LLMMaxTokens   int
	LLMTemperature float64

	// 图像生成服务（Replicate 风格异步预测）
	ImageAPIBaseURL string
	ImageAPIToken   string

	// 歌词服务（无鉴权，尽力而为）
	LyricsAPIBaseURL string

	// TokenCryptoKey is the 32-byte key (hex encoded) used to seal stored
	// refresh credentials. The worker refuses to start without it.
	TokenCryptoKey string

	// StylesDir holds the JSON style definitions the generator renders with.
	StylesDir string

	// Pipeline tunables
	PipelineDeadline  time.Duration // hard wall-clock budget for one run
	LyricWorkers      int
	ExtractionWorkers int
	CoverMaxBytes     int // raw JPEG budget before base64 upload

	// 日志配置
	LogLevel string
	LogPath  string
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvBool gets an environment variable as bool or returns a default value.
func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return fallback
}

// getEnvFloat gets an environment variable as float64 or returns a default value.
func getEnvFloat(key string, fallback float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// Attempt to load .env file. godotenv.Load() will not override existing env vars.
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}

	return &Config{
		StatusAddr: getEnv("STATUS_ADDR", ":8090"),

		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"), // For password, better not to have a hardcoded default
		DBName:     getEnv("DB_NAME", "disc"),

		// Redis配置，使用默认值
		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:    getEnv("MINIO_BUCKET", "disc-covers"),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),

		SpotifyAPIURL:       getEnv("SPOTIFY_API_URL", "https://api.spotify.com/v1"),
		SpotifyAccountsURL:  getEnv("SPOTIFY_ACCOUNTS_URL", "https://accounts.spotify.com"),
		SpotifyClientID:     os.Getenv("SPOTIFY_CLIENT_ID"),
		SpotifyClientSecret: os.Getenv("SPOTIFY_CLIENT_SECRET"),

		LLMAPIBaseURL:  getEnv("LLM_API_BASE_URL", "https://api.openai.com/v1"),
		LLMAPIKey:      os.Getenv("LLM_API_KEY"),
		LLMModel:       getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMMaxTokens:   getEnvInt("LLM_MAX_TOKENS", 1024),
		LLMTemperature: getEnvFloat("LLM_TEMPERATURE", 0.7),

		ImageAPIBaseURL: getEnv("IMAGE_API_BASE_URL", "https://api.replicate.com/v1"),
		ImageAPIToken:   os.Getenv("IMAGE_API_TOKEN"),

		LyricsAPIBaseURL: getEnv("LYRICS_API_BASE_URL", "https://lrclib.net"),

		TokenCryptoKey: os.Getenv("TOKEN_CRYPTO_KEY"),

		StylesDir: getEnv("STYLES_DIR", "styles"),

		PipelineDeadline:  time.Duration(getEnvInt("PIPELINE_DEADLINE_MINUTES", 10)) * time.Minute,
		LyricWorkers:      getEnvInt("LYRIC_WORKERS", 5),
		ExtractionWorkers: getEnvInt("EXTRACTION_WORKERS", 5),
		CoverMaxBytes:     getEnvInt("COVER_MAX_BYTES", 190000),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogPath:  getEnv("LOG_PATH", ""),
	}
}
