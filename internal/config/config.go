package config

import (
	"time"

	"talky/pkg/logger"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// DefaultPath is where LoadConfig looks for the YAML file
const DefaultPath = "configs/config.yaml"

type Config struct {
	Debug bool `yaml:"debug" env:"TALKY_DEBUG" env-default:"false"`

	HTTP struct {
		Addr            string        `yaml:"addr" env:"HTTP_ADDR" env-default:":8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" env:"HTTP_READ_TIMEOUT" env-default:"30s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" env:"HTTP_WRITE_TIMEOUT" env-default:"60s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"10s"`
		MaxUploadBytes  int64         `yaml:"max_upload_bytes" env:"HTTP_MAX_UPLOAD_BYTES" env-default:"20971520"`
	} `yaml:"http"`

	Postgres struct {
		DSN      string `yaml:"dsn" env:"DATABASE_URL"`
		MaxConns int32  `yaml:"max_conns" env:"POSTGRES_MAX_CONNS" env-default:"10"`
	} `yaml:"postgres"`

	Redis struct {
		Addr     string        `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
		Password string        `yaml:"password" env:"REDIS_PASSWORD" env-default:""`
		DB       int           `yaml:"db" env:"REDIS_DB" env-default:"0"`
		TTL      time.Duration `yaml:"ttl" env:"REDIS_TTL" env-default:"24h"`
	} `yaml:"redis"`

	RabbitMQ struct {
		URL string `yaml:"url" env:"RABBITMQ_URL"`
	} `yaml:"rabbitmq"`

	S3 struct {
		Endpoint  string `yaml:"endpoint" env:"S3_ENDPOINT"`
		Region    string `yaml:"region" env:"S3_REGION" env-default:"us-east-1"`
		AccessKey string `yaml:"access_key" env:"S3_ACCESS_KEY"`
		SecretKey string `yaml:"secret_key" env:"S3_SECRET_KEY"`
		Bucket    string `yaml:"bucket" env:"S3_BUCKET"`
	} `yaml:"s3"`

	Telegram struct {
		Token    string `yaml:"token" env:"TELEGRAM_BOT_TOKEN"`
		Strategy string `yaml:"strategy" env:"TELEGRAM_STRATEGY" env-default:"coarse"`
	} `yaml:"telegram"`

	Acoustic struct {
		URL             string        `yaml:"url" env:"ACOUSTIC_URL" env-default:"http://localhost:9000"`
		APIKey          string        `yaml:"api_key" env:"ACOUSTIC_API_KEY"`
		Timeout         time.Duration `yaml:"timeout" env:"ACOUSTIC_TIMEOUT" env-default:"30s"`
		BreakerFailures uint32        `yaml:"breaker_failures" env:"ACOUSTIC_BREAKER_FAILURES" env-default:"5"`
		BreakerTimeout  time.Duration `yaml:"breaker_timeout" env:"ACOUSTIC_BREAKER_TIMEOUT" env-default:"30s"`
	} `yaml:"acoustic"`

	G2P struct {
		Dictionary string        `yaml:"dictionary" env:"G2P_DICTIONARY" env-default:"data/cmudict.dict"`
		CacheTTL   time.Duration `yaml:"cache_ttl" env:"G2P_CACHE_TTL" env-default:"168h"`
	} `yaml:"g2p"`

	Feedback struct {
		APIKey    string        `yaml:"api_key" env:"GROQ_API_KEY"`
		BaseURL   string        `yaml:"base_url" env:"FEEDBACK_BASE_URL" env-default:"https://api.groq.com/openai/v1/"`
		Model     string        `yaml:"model" env:"FEEDBACK_MODEL" env-default:"llama-3.1-8b-instant"`
		Timeout   time.Duration `yaml:"timeout" env:"FEEDBACK_TIMEOUT" env-default:"10s"`
		RateLimit int           `yaml:"rate_limit" env:"FEEDBACK_RATE_LIMIT" env-default:"30"`
	} `yaml:"feedback"`

	Scoring struct {
		CoarseThreshold   float64 `yaml:"coarse_threshold" env:"SCORING_COARSE_THRESHOLD" env-default:"80"`
		PhonemeThreshold  float64 `yaml:"phoneme_threshold" env:"SCORING_PHONEME_THRESHOLD" env-default:"70"`
		WordHintThreshold float64 `yaml:"word_hint_threshold" env:"SCORING_WORD_HINT_THRESHOLD" env-default:"0.85"`
	} `yaml:"scoring"`

	Worker struct {
		TaskTimeout time.Duration `yaml:"task_timeout" env:"WORKER_TASK_TIMEOUT" env-default:"2m"`
	} `yaml:"worker"`
}

// LoadConfig reads DefaultPath, then applies environment overrides
func LoadConfig() (*Config, error) {
	return Load(DefaultPath)
}

// Load reads the YAML file at path. A missing file falls back to
// environment variables and defaults only.
func Load(path string) (*Config, error) {
	// Load .env file
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		logger.Warn("Config file not readable, using environment only")
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, err
		}
	}

	logger.Info("Config loaded successfully")
	return &cfg, nil
}
