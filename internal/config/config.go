// Package config loads server configuration from defaults, an optional
// pixelmap.yaml, a .env file and the environment.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Store  StoreConfig  `mapstructure:"store"`
	Map    MapConfig    `mapstructure:"map"`
	View   ViewConfig   `mapstructure:"view"`
	Market MarketConfig `mapstructure:"market"`
	Wallet WalletConfig `mapstructure:"wallet"`
	Images ImagesConfig `mapstructure:"images"`
	Render RenderConfig `mapstructure:"render"`
	Log    LogConfig    `mapstructure:"log"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Prefix   string        `mapstructure:"prefix"`
}

// StoreConfig selects the ledger and wallet backend: "memory" or "redis".
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
}

type MapConfig struct {
	SVGPath       string `mapstructure:"svg_path"`
	DistrictsPath string `mapstructure:"districts_path"`
	Cols          int    `mapstructure:"cols"`
	CellSize      int    `mapstructure:"cell_size"`
}

type ViewConfig struct {
	MinZoom        float64       `mapstructure:"min_zoom"`
	MaxZoom        float64       `mapstructure:"max_zoom"`
	ButtonStep     float64       `mapstructure:"button_step"`
	WheelStep      float64       `mapstructure:"wheel_step"`
	DragThreshold  float64       `mapstructure:"drag_threshold"`
	FitMargin      float64       `mapstructure:"fit_margin"`
	IdleReset      time.Duration `mapstructure:"idle_reset"`
	ViewportWidth  float64       `mapstructure:"viewport_width"`
	ViewportHeight float64       `mapstructure:"viewport_height"`
}

type MarketConfig struct {
	RaritySeed uint64  `mapstructure:"rarity_seed"`
	MinLat     float64 `mapstructure:"min_lat"`
	MaxLat     float64 `mapstructure:"max_lat"`
	MinLon     float64 `mapstructure:"min_lon"`
	MaxLon     float64 `mapstructure:"max_lon"`
}

type WalletConfig struct {
	InitialCredits string `mapstructure:"initial_credits"`
}

type ImagesConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxConcurrent int64         `mapstructure:"max_concurrent"`
	CacheBytes    int64         `mapstructure:"cache_bytes"`
	MaxPixels     int64         `mapstructure:"max_pixels"`
	MaxSide       int           `mapstructure:"max_side"`
}

type RenderConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	UnsoldColor  string        `mapstructure:"unsold_color"`
	BorderColor  string        `mapstructure:"border_color"`
	HighlightHex string        `mapstructure:"highlight_color"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.timeout", 5*time.Second)
	v.SetDefault("redis.prefix", "pixels")

	v.SetDefault("store.backend", "memory")

	v.SetDefault("map.svg_path", "data/portugal.svg")
	v.SetDefault("map.districts_path", "")
	v.SetDefault("map.cols", 1273)
	v.SetDefault("map.cell_size", 1)

	v.SetDefault("view.min_zoom", 0.05)
	v.SetDefault("view.max_zoom", 50.0)
	v.SetDefault("view.button_step", 1.2)
	v.SetDefault("view.wheel_step", 1.1)
	v.SetDefault("view.drag_threshold", 5.0)
	v.SetDefault("view.fit_margin", 0.95)
	v.SetDefault("view.idle_reset", 15*time.Second)
	v.SetDefault("view.viewport_width", 1280.0)
	v.SetDefault("view.viewport_height", 800.0)

	v.SetDefault("market.rarity_seed", 0x5eed)
	v.SetDefault("market.min_lat", 36.96)
	v.SetDefault("market.max_lat", 42.15)
	v.SetDefault("market.min_lon", -9.50)
	v.SetDefault("market.max_lon", -6.19)

	v.SetDefault("wallet.initial_credits", "100")

	v.SetDefault("images.timeout", 10*time.Second)
	v.SetDefault("images.max_concurrent", 8)
	v.SetDefault("images.cache_bytes", 64<<20)
	v.SetDefault("images.max_pixels", 16<<20)
	v.SetDefault("images.max_side", 256)

	v.SetDefault("render.interval", 100*time.Millisecond)
	v.SetDefault("render.unsold_color", "#d9d9d9")
	v.SetDefault("render.border_color", "#4a4a4a")
	v.SetDefault("render.highlight_color", "#ff3b30")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
}

// Load reads configuration. A missing config file or .env is not an error.
func Load(paths ...string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("pixelmap")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{"."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix("PIXELMAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Plain names kept for existing deployments.
	_ = v.BindEnv("redis.addr", "PIXELMAP_REDIS_ADDR", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "PIXELMAP_REDIS_PASSWORD", "REDIS_PASSWORD")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Map.Cols <= 0 {
		return errors.New("map.cols must be > 0")
	}
	if c.Map.CellSize <= 0 {
		return errors.New("map.cell_size must be > 0")
	}
	if c.View.MinZoom <= 0 || c.View.MaxZoom < c.View.MinZoom {
		return errors.New("view zoom bounds are invalid")
	}
	switch c.Store.Backend {
	case "memory", "redis":
	default:
		return errors.New("store.backend must be memory or redis")
	}
	return nil
}
