package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the dashboard server.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Data   DataConfig   `mapstructure:"data"`
	Map    MapConfig    `mapstructure:"map"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Log    LogConfig    `mapstructure:"log"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// DataConfig selects where the order table comes from.
type DataConfig struct {
	Source        string `mapstructure:"source"` // csv or sqlite
	OrdersPath    string `mapstructure:"orders_path"`
	SQLitePath    string `mapstructure:"sqlite_path"`
	SQLiteTable   string `mapstructure:"sqlite_table"`
	GeoPath       string `mapstructure:"geo_path"`
	SkipMalformed bool   `mapstructure:"skip_malformed"`
}

type MapConfig struct {
	ImageURL     string        `mapstructure:"image_url"`
	Width        int           `mapstructure:"width"`
	PointRadius  float64       `mapstructure:"point_radius"`
	Alpha        float64       `mapstructure:"alpha"`
	Color        string        `mapstructure:"color"` // #rrggbb
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	AllowBlank   bool          `mapstructure:"allow_blank"`
}

// RedisConfig enables the dashboard cache when Addr is set.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

const (
	SourceCSV    = "csv"
	SourceSQLite = "sqlite"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")

	v.SetDefault("data.source", SourceCSV)
	v.SetDefault("data.orders_path", "all_data.csv")
	v.SetDefault("data.sqlite_path", "orders.db")
	v.SetDefault("data.sqlite_table", "orders")
	v.SetDefault("data.geo_path", "geolocation.csv")
	v.SetDefault("data.skip_malformed", false)

	v.SetDefault("map.image_url", "https://i.pinimg.com/originals/3a/0c/e1/3a0ce18b3c842748c255bc0aa445ad41.jpg")
	v.SetDefault("map.width", 800)
	v.SetDefault("map.point_radius", 1.0)
	v.SetDefault("map.alpha", 0.3)
	v.SetDefault("map.color", "#800000")
	v.SetDefault("map.fetch_timeout", 10*time.Second)
	v.SetDefault("map.allow_blank", false)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 5*time.Minute)

	v.SetDefault("log.level", "info")
}

// Load reads configuration from path, or from dashboard.yaml in the working
// directory when path is empty. A missing default file is not an error.
// DASHBOARD_* environment variables (and a .env file) override file values,
// e.g. DASHBOARD_DATA_ORDERS_PATH.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DASHBOARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("dashboard")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Data.Source {
	case SourceCSV, SourceSQLite:
	default:
		return fmt.Errorf("data.source must be %q or %q, got %q", SourceCSV, SourceSQLite, c.Data.Source)
	}
	if c.Map.Alpha <= 0 || c.Map.Alpha > 1 {
		return fmt.Errorf("map.alpha must be greater than 0 and at most 1, got %v", c.Map.Alpha)
	}
	if _, err := ParseHexColor(c.Map.Color); err != nil {
		return fmt.Errorf("map.color: %w", err)
	}
	return nil
}
