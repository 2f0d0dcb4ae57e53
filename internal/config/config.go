// Package config 负责主配置文件的加载、默认值与校验。
package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config 进程级配置。
type Config struct {
	Log     LogConfig    `mapstructure:"log"`
	Data    DataConfig   `mapstructure:"data"`
	Store   StoreConfig  `mapstructure:"store"`
	Server  ServerConfig `mapstructure:"server"`
	Engine  EngineConfig `mapstructure:"engine"`
	Profile string       `mapstructure:"profile"` // 策略档案 YAML 路径
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// DataConfig 行情数据源与本地缓存。
type DataConfig struct {
	Root            string `mapstructure:"root"`   // 每 symbol 一个 sqlite 的根目录
	Source          string `mapstructure:"source"` // xueqiu | binance
	XueqiuBaseURL   string `mapstructure:"xueqiu_base_url"`
	XueqiuCookie    string `mapstructure:"xueqiu_cookie"`
	RateLimitPerMin int    `mapstructure:"rate_limit_per_min"`
}

type StoreConfig struct {
	Path      string `mapstructure:"path"`       // 运行档案库
	ChartsDir string `mapstructure:"charts_dir"` // 权益曲线 HTML 输出目录
}

type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// EngineConfig 引擎与时钟参数。
type EngineConfig struct {
	HeartbeatMS      int  `mapstructure:"heartbeat_ms"`
	LotSize          int  `mapstructure:"lot_size"`
	Annualization    int  `mapstructure:"annualization"`
	CloseHour        int  `mapstructure:"close_hour"`        // 在线模式收盘小时
	PollIntervalSec  int  `mapstructure:"poll_interval_sec"` // 在线模式轮询间隔
	SnapshotsEnabled bool `mapstructure:"snapshots_enabled"`
}

// Load 读取 YAML 配置并套用默认值。path 为空时仅返回默认配置。
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	var cfg Config
	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置失败 (%s): %w", path, err)
		}
	}
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Data.Root == "" {
		c.Data.Root = "data/kline"
	}
	if c.Data.Source == "" {
		c.Data.Source = "xueqiu"
	}
	if c.Data.RateLimitPerMin <= 0 {
		c.Data.RateLimitPerMin = 120
	}
	if c.Store.Path == "" {
		c.Store.Path = "data/runs.db"
	}
	if c.Store.ChartsDir == "" {
		c.Store.ChartsDir = "data/charts"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8089"
	}
	if c.Engine.HeartbeatMS <= 0 {
		c.Engine.HeartbeatMS = 100
	}
	if c.Engine.LotSize <= 0 {
		c.Engine.LotSize = 100
	}
	if c.Engine.CloseHour <= 0 {
		c.Engine.CloseHour = 17
	}
	if c.Engine.PollIntervalSec <= 0 {
		c.Engine.PollIntervalSec = 60
	}
}

func (c *Config) validate() error {
	switch c.Data.Source {
	case "xueqiu", "binance":
	default:
		return fmt.Errorf("data.source 不支持: %q", c.Data.Source)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level 不支持: %q", c.Log.Level)
	}
	return nil
}
