package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config 是 aquestalk 服务与命令行工具的顶层配置。
type Config struct {
	Voice  VoiceConfig  `yaml:"voice"`
	Cache  CacheConfig  `yaml:"cache"`
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
}

// VoiceConfig 声种库配置。
type VoiceConfig struct {
	// LibDir 声种根目录，其下每个声种一个子目录，如 voices/f1/AquesTalk.dll。
	LibDir string `yaml:"lib_dir"`
	// Default 未指定声种时使用的声种。
	Default string `yaml:"default"`
	// Speed 默认发话速度 [%]，50-300。
	Speed int `yaml:"speed"`
	// Strict 为 true 时库文件 MD5 与声种不一致将拒绝加载。
	Strict bool `yaml:"strict"`
	// Preload 启动时预先加载的声种。
	Preload []string `yaml:"preload"`
}

// CacheConfig 合成结果缓存配置。
type CacheConfig struct {
	Enabled bool   `yaml:"enabled"`
	DataDir string `yaml:"data_dir"`
	// MaxSizeMB 缓存音频总大小上限，超出后按最近使用时间淘汰。
	MaxSizeMB int64 `yaml:"max_size_mb"`
}

// ServerConfig HTTP 服务配置。
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// MaxTextBytes 单次请求文本的最大字节数。
	MaxTextBytes int `yaml:"max_text_bytes"`
}

// LogConfig 日志配置。
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
}

// Load 读取 YAML 配置文件并返回 Config。
// 若配置文件同目录下存在 .env，先将其载入环境变量（不覆盖已有变量），
// 然后展开 ${VAR_NAME} 形式的引用。
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件 %s 失败: %w", path, err)
	}

	envFile := filepath.Join(filepath.Dir(path), ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("加载环境变量文件 %s 失败: %w", envFile, err)
		}
	}

	return Parse(data)
}

// Parse 解析 YAML 内容并填充默认值。
func Parse(data []byte) (*Config, error) {
	expanded := os.Expand(string(data), os.Getenv)

	cfg := newConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	setDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default 返回只包含默认值的配置，供没有配置文件时使用。
func Default() *Config {
	cfg := newConfig()
	setDefaults(cfg)
	return cfg
}

// newConfig 预置只能在 YAML 缺省时生效的默认值。
// cache.max_size_mb 显式写 0 表示禁用缓存，因此不能在 setDefaults 中按零值补齐。
func newConfig() *Config {
	return &Config{Cache: CacheConfig{MaxSizeMB: defaultCacheSizeMB}}
}

const defaultCacheSizeMB = 64

// setDefaults 为未设置的配置项填充默认值。
func setDefaults(cfg *Config) {
	if cfg.Voice.LibDir == "" {
		cfg.Voice.LibDir = "voices"
	}
	if cfg.Voice.Default == "" {
		cfg.Voice.Default = "f1"
	}
	if cfg.Voice.Speed == 0 {
		cfg.Voice.Speed = 100
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = "127.0.0.1:50080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Server.MaxTextBytes == 0 {
		cfg.Server.MaxTextBytes = 8192
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	if cfg.Cache.DataDir == "" {
		home, _ := os.UserHomeDir()
		if home != "" {
			cfg.Cache.DataDir = filepath.Join(home, ".aquestalk")
		} else {
			cfg.Cache.DataDir = "./.aquestalk-data"
		}
	}

	cfg.Voice.LibDir = expandHome(cfg.Voice.LibDir)
	cfg.Cache.DataDir = expandHome(cfg.Cache.DataDir)
	cfg.Log.File = expandHome(cfg.Log.File)
	cfg.Voice.Default = strings.ToLower(strings.TrimSpace(cfg.Voice.Default))
}

func validate(cfg *Config) error {
	if cfg.Voice.Speed < 50 || cfg.Voice.Speed > 300 {
		return fmt.Errorf("voice.speed 必须在 50-300 之间，当前为 %d", cfg.Voice.Speed)
	}
	if cfg.Cache.MaxSizeMB < 0 {
		return fmt.Errorf("cache.max_size_mb 不能为负数")
	}
	return nil
}

// expandHome 把 ~/ 开头的路径展开为用户主目录，Go 不会自动处理。
func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, _ := os.UserHomeDir()
	if home == "" {
		return p
	}
	return filepath.Join(home, p[2:])
}
