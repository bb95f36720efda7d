package config

import (
	"time"

	yamlenv "github.com/ifuryst/go-yaml-env"

	"github.com/castline/castline/pkg/logger"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Logger     logger.Config    `yaml:"logger"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Retention  RetentionConfig  `yaml:"retention"`
	Publisher  PublisherConfig  `yaml:"publisher"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	Host     string `yaml:"host"`
	Mode     string `yaml:"mode"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type DatabaseConfig struct {
	Type     string `yaml:"type"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	TimeZone string `yaml:"timezone"`
}

type DispatcherConfig struct {
	Enabled      bool   `yaml:"enabled"`
	PollInterval string `yaml:"poll_interval"`
	Workers      int    `yaml:"workers"`
	MaxRetries   int    `yaml:"max_retries"`
	RetryBackoff string `yaml:"retry_backoff"`
}

type RetentionConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Window        string `yaml:"window"`
	SweepInterval string `yaml:"sweep_interval"`
}

type PublisherConfig struct {
	Reddit   RedditConfig   `yaml:"reddit"`
	X        XConfig        `yaml:"x"`
	TikTok   VideoAPIConfig `yaml:"tiktok"`
	Bilibili VideoAPIConfig `yaml:"bilibili"`
}

type RedditConfig struct {
	Endpoint    string `yaml:"endpoint"`
	Subreddit   string `yaml:"subreddit"`
	AccessToken string `yaml:"access_token"`
	UserAgent   string `yaml:"user_agent"`
	Timeout     string `yaml:"timeout"`
}

type XConfig struct {
	Endpoint       string `yaml:"endpoint"`
	BearerToken    string `yaml:"bearer_token"`
	CharacterLimit int    `yaml:"character_limit"`
	Timeout        string `yaml:"timeout"`
}

type VideoAPIConfig struct {
	Endpoint    string `yaml:"endpoint"`
	AccessToken string `yaml:"access_token"`
	Timeout     string `yaml:"timeout"`
}

func LoadConfig(configPath string) (*Config, error) {
	cfg, err := yamlenv.LoadConfig[Config](configPath)
	if err != nil {
		return nil, err
	}

	ApplyDefaults(cfg)
	return cfg, nil
}

// ApplyDefaults fills in defaults for every zero-valued knob.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5874
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "debug"
	}
	if cfg.Database.Type == "" {
		cfg.Database.Type = "postgres"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.TimeZone == "" {
		cfg.Database.TimeZone = "UTC"
	}
	if cfg.Dispatcher.PollInterval == "" {
		cfg.Dispatcher.PollInterval = "30s"
	}
	if cfg.Dispatcher.Workers == 0 {
		cfg.Dispatcher.Workers = 4
	}
	if cfg.Dispatcher.MaxRetries == 0 {
		cfg.Dispatcher.MaxRetries = 3
	}
	if cfg.Dispatcher.RetryBackoff == "" {
		cfg.Dispatcher.RetryBackoff = "1m"
	}
	if cfg.Retention.Window == "" {
		cfg.Retention.Window = "720h"
	}
	if cfg.Retention.SweepInterval == "" {
		cfg.Retention.SweepInterval = "6h"
	}
	if cfg.Publisher.Reddit.Endpoint == "" {
		cfg.Publisher.Reddit.Endpoint = "https://oauth.reddit.com"
	}
	if cfg.Publisher.Reddit.Subreddit == "" {
		cfg.Publisher.Reddit.Subreddit = "marketing"
	}
	if cfg.Publisher.Reddit.UserAgent == "" {
		cfg.Publisher.Reddit.UserAgent = "castline/1.0"
	}
	if cfg.Publisher.Reddit.Timeout == "" {
		cfg.Publisher.Reddit.Timeout = "30s"
	}
	if cfg.Publisher.X.Endpoint == "" {
		cfg.Publisher.X.Endpoint = "https://api.x.com"
	}
	if cfg.Publisher.X.CharacterLimit == 0 {
		cfg.Publisher.X.CharacterLimit = 280
	}
	if cfg.Publisher.X.Timeout == "" {
		cfg.Publisher.X.Timeout = "30s"
	}
	if cfg.Publisher.TikTok.Endpoint == "" {
		cfg.Publisher.TikTok.Endpoint = "https://open.tiktokapis.com"
	}
	if cfg.Publisher.TikTok.Timeout == "" {
		cfg.Publisher.TikTok.Timeout = "60s"
	}
	if cfg.Publisher.Bilibili.Endpoint == "" {
		cfg.Publisher.Bilibili.Endpoint = "https://member.bilibili.com"
	}
	if cfg.Publisher.Bilibili.Timeout == "" {
		cfg.Publisher.Bilibili.Timeout = "60s"
	}
}

// Duration parses a duration knob, falling back when it is malformed.
func Duration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
