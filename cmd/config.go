package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"recruit-radar/internal/fetcher"
	"recruit-radar/internal/notifier"
	"recruit-radar/internal/pipeline"
	"recruit-radar/internal/scheduler"
	"recruit-radar/internal/storage"
)

// ErrMissingServiceKey 表示未配置上游服务密钥。
var ErrMissingServiceKey = errors.New("MOEF_API_KEY is required")

// AppConfig 应用配置。
type AppConfig struct {
	Server    ServerConfig             `yaml:"server"`
	Database  storage.Config           `yaml:"database"`
	Upstream  fetcher.Config           `yaml:"upstream"`
	Detail    fetcher.DetailConfig     `yaml:"detail"`
	Pipeline  pipeline.Config          `yaml:"pipeline"`
	Retention pipeline.RetentionConfig `yaml:"retention"`
	Scheduler scheduler.Config         `yaml:"scheduler"`
	Email     notifier.EmailConfig     `yaml:"email"`
	Watch     notifier.WatchConfig     `yaml:"watch"`
}

type ServerConfig struct {
	Addr            string `yaml:"addr"`
	WebDir          string `yaml:"web_dir"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// loadConfig 依次读取 .env、配置文件与环境变量，后者优先。
func loadConfig() (AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return AppConfig{}, fmt.Errorf("load .env: %w", err)
	}

	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := readConfigFile(path)
	if err != nil {
		return AppConfig{}, err
	}
	applyEnv(&cfg, os.Getenv)
	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// readConfigFile 读取 YAML 配置，文件不存在时返回零值配置。
func readConfigFile(path string) (AppConfig, error) {
	var cfg AppConfig
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func applyEnv(cfg *AppConfig, getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&cfg.Upstream.ServiceKey, "MOEF_API_KEY")
	set(&cfg.Database.Driver, "DATABASE_DRIVER")
	set(&cfg.Database.DSN, "DATABASE_DSN")
	set(&cfg.Database.Path, "DATABASE_PATH")
	set(&cfg.Server.Addr, "SERVER_ADDR")
	set(&cfg.Email.Password, "SMTP_PASSWORD")
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.Upstream.ServiceKey) == "" {
		return ErrMissingServiceKey
	}
	switch strings.ToLower(strings.TrimSpace(c.Database.Driver)) {
	case "", "sqlite":
	case "postgres", "postgresql":
		if c.Database.DSN == "" {
			return errors.New("database.dsn (DATABASE_DSN) is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	return nil
}

// ongoingOnly 默认只保留进行中的公告。
func (c AppConfig) ongoingOnly() bool {
	return c.Pipeline.OngoingOnly == nil || *c.Pipeline.OngoingOnly
}
