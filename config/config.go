package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Upload    UploadConfig    `mapstructure:"upload"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Output    OutputConfig    `mapstructure:"output"`
}

type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type UploadConfig struct {
	MaxSize      int64    `mapstructure:"max_size"`
	AllowedTypes []string `mapstructure:"allowed_types"`
}

type PipelineConfig struct {
	MaxConcurrent int    `mapstructure:"max_concurrent"`
	QueueTimeout  int    `mapstructure:"queue_timeout"`
	FastVariant   string `mapstructure:"fast_variant"` // baseline / probability
}

type ProvidersConfig struct {
	Balanced ProviderConfig `mapstructure:"balanced"`
	Precise  ProviderConfig `mapstructure:"precise"`
}

type ProviderConfig struct {
	Endpoint     string        `mapstructure:"endpoint"`
	InitTimeout  time.Duration `mapstructure:"init_timeout"`
	InferTimeout time.Duration `mapstructure:"infer_timeout"`
	MaxInputSize int           `mapstructure:"max_input_size"`
}

type OutputConfig struct {
	FilenamePrefix string `mapstructure:"filename_prefix"`
}

// Load 从 YAML 文件加载配置
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// 设置默认值
	setDefaults(v)

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// New 使用默认配置路径加载配置
func New() *Config {
	cfg, err := Load("config.yaml")
	if err != nil {
		// 如果加载失败，返回默认配置
		return getDefaultConfig()
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 24*time.Hour)

	v.SetDefault("upload.max_size", 10*1024*1024)
	v.SetDefault("upload.allowed_types", []string{"image/jpeg", "image/png", "image/jpg"})

	v.SetDefault("pipeline.max_concurrent", 3)
	v.SetDefault("pipeline.queue_timeout", 30)
	v.SetDefault("pipeline.fast_variant", "baseline")

	v.SetDefault("providers.balanced.endpoint", "")
	v.SetDefault("providers.balanced.init_timeout", 3*time.Second)
	v.SetDefault("providers.balanced.infer_timeout", 10*time.Second)
	v.SetDefault("providers.balanced.max_input_size", 1024)

	v.SetDefault("providers.precise.endpoint", "")
	v.SetDefault("providers.precise.init_timeout", 3*time.Second)
	v.SetDefault("providers.precise.infer_timeout", 10*time.Second)
	v.SetDefault("providers.precise.max_input_size", 1024)

	v.SetDefault("output.filename_prefix", "cutout_")
}

func getDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         ":8080",
			Mode:         "debug",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			TTL:      24 * time.Hour,
		},
		Upload: UploadConfig{
			MaxSize:      10 * 1024 * 1024,
			AllowedTypes: []string{"image/jpeg", "image/png", "image/jpg"},
		},
		Pipeline: PipelineConfig{
			MaxConcurrent: 3,
			QueueTimeout:  30,
			FastVariant:   "baseline",
		},
		Providers: ProvidersConfig{
			Balanced: ProviderConfig{
				InitTimeout:  3 * time.Second,
				InferTimeout: 10 * time.Second,
				MaxInputSize: 1024,
			},
			Precise: ProviderConfig{
				InitTimeout:  3 * time.Second,
				InferTimeout: 10 * time.Second,
				MaxInputSize: 1024,
			},
		},
		Output: OutputConfig{
			FilenamePrefix: "cutout_",
		},
	}
}
