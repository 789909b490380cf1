package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint" env:"LVA_MINIO_ENDPOINT"`
	AccessKey string `yaml:"access_key" env:"LVA_MINIO_ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"LVA_MINIO_SECRET_KEY"`
	Bucket    string `yaml:"bucket" env:"LVA_MINIO_BUCKET"`
	UseSSL    bool   `yaml:"use_ssl" env:"LVA_MINIO_USE_SSL"`
}

type Config struct {
	Server struct {
		Port string `yaml:"port" env:"LVA_SERVER_PORT"`
		// 允许跨域访问同步接口的前端地址，空表示全部放行
		AllowOrigins []string `yaml:"allow_origins" env:"LVA_ALLOW_ORIGINS" envSeparator:","`
	} `yaml:"server"`
	Studio struct {
		Port          string `yaml:"port" env:"LVA_STUDIO_PORT"`
		DataDir       string `yaml:"data_dir" env:"LVA_DATA_DIR"`
		RemoteBaseURL string `yaml:"remote_base_url" env:"LVA_REMOTE_BASE_URL"`
		PushBatchSize int    `yaml:"push_batch_size" env:"LVA_PUSH_BATCH_SIZE"`
	} `yaml:"studio"`
	Database struct {
		Driver string `yaml:"driver" env:"LVA_DB_DRIVER"` // mysql | sqlite
		DSN    string `yaml:"dsn" env:"LVA_DB_DSN"`
	} `yaml:"database"`
	AI struct {
		APIKey      string        `yaml:"api_key" env:"LVA_API_KEY"`
		BaseURL     string        `yaml:"base_url" env:"LVA_AI_BASE_URL"`
		TextModel   string        `yaml:"text_model" env:"LVA_TEXT_MODEL"`
		ScriptModel string        `yaml:"script_model" env:"LVA_SCRIPT_MODEL"`
		ImageModel  string        `yaml:"image_model" env:"LVA_IMAGE_MODEL"`
		RetryDelay  time.Duration `yaml:"retry_delay" env:"LVA_AI_RETRY_DELAY"`
		MaxRetries  int           `yaml:"max_retries" env:"LVA_AI_MAX_RETRIES"`
	} `yaml:"ai"`
	Redis struct {
		Addr     string `yaml:"addr" env:"LVA_REDIS_ADDR"`
		Password string `yaml:"password" env:"LVA_REDIS_PASSWORD"`
	} `yaml:"redis"`
	Blob struct {
		Backend string `yaml:"backend" env:"LVA_BLOB_BACKEND"` // minio | local
		Dir     string `yaml:"dir" env:"LVA_BLOB_DIR"`
	} `yaml:"blob"`
	MinIO MinIOConfig `yaml:"minio"`
	Log struct {
		Mode string `yaml:"mode" env:"LVA_LOG_MODE"` // dev | prod
		File string `yaml:"file" env:"LVA_LOG_FILE"`
	} `yaml:"log"`
}

var AppConfig *Config

// Default 返回带默认值的配置，配置文件与环境变量在此基础上覆盖
func Default() *Config {
	c := &Config{}
	c.Server.Port = ":8787"
	c.Studio.Port = ":8686"
	c.Studio.DataDir = "data"
	c.Studio.RemoteBaseURL = "http://127.0.0.1:8787"
	c.Studio.PushBatchSize = 20
	c.Database.Driver = "sqlite"
	c.Database.DSN = "data/remote.db"
	c.AI.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	c.AI.TextModel = "gemini-2.5-flash"
	c.AI.ScriptModel = "gemini-2.5-flash-preview-09-2025"
	c.AI.ImageModel = "gemini-2.5-flash-image"
	c.AI.RetryDelay = 2 * time.Second
	c.AI.MaxRetries = 3
	c.Blob.Backend = "local"
	c.Blob.Dir = "data/blobs"
	c.MinIO.Bucket = "lva"
	c.Log.Mode = "dev"
	return c
}

// Load 依次读取 yaml 配置文件、.env 文件与 LVA_* 环境变量
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("配置文件读取失败: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(b, cfg); err != nil {
				return nil, fmt.Errorf("配置文件解析失败: %w", err)
			}
		}
	}

	// .env 可选
	_ = godotenv.Load()

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("环境变量解析失败: %w", err)
	}
	return cfg, nil
}

func InitConfig(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	AppConfig = cfg
	return nil
}
