// Package config loads process configuration via viper, with a .env file
// (godotenv-compatible) as the base layer and environment variables taking
// precedence, the same pattern the teacher's fiat service uses.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the fully-resolved process configuration.
type Config struct {
	Server  ServerConfig
	Log     LogConfig
	Market  MarketConfig
	Archive ArchiveConfig
	Redis   RedisConfig
	Kafka   KafkaConfig
	Replay  ReplayConfig
}

type ServerConfig struct {
	HTTPAddr string
	WSAddr   string
}

type LogConfig struct {
	Level string
}

// MarketConfig holds exchange-wide defaults resolved from Open Questions
// and the core-level config enumeration in spec.md §6.4/§9.
type MarketConfig struct {
	AvgPriceWindow       time.Duration
	CommissionRateMaker  string
	CommissionRateTaker  string
	MaxClientsPerSymbol  int
	RecentTradesCapacity int
	DepthDefaultLimit    int
	TimestampSkewMs      int64
}

type ArchiveConfig struct {
	SQLitePath    string
	RetentionDays int
}

type RedisConfig struct {
	Addr string
	DB   int
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// ReplayConfig mirrors spec.md §4.5's replay.* knobs.
type ReplayConfig struct {
	Mode             string
	SpeedFactor      float64
	BatchCallbacks   bool
	MemoryOptimized  bool
}

// Load reads .env (if present) then environment variables, applying
// defaults for anything unset.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("VEX")
	v.AutomaticEnv()

	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.ws_addr", ":8081")
	v.SetDefault("log.level", "info")
	v.SetDefault("market.avg_price_window", "5m")
	v.SetDefault("market.commission_rate_maker", "0.001")
	v.SetDefault("market.commission_rate_taker", "0.001")
	v.SetDefault("market.max_clients_per_symbol", 0)
	v.SetDefault("market.recent_trades_capacity", 1000)
	v.SetDefault("market.depth_default_limit", 100)
	v.SetDefault("market.timestamp_skew_ms", 10000)
	v.SetDefault("archive.sqlite_path", "vexchange_archive.db")
	v.SetDefault("archive.retention_days", 90)
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("kafka.brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("kafka.topic", "vexchange.events")
	v.SetDefault("replay.mode", "historical")
	v.SetDefault("replay.speed_factor", 1.0)
	v.SetDefault("replay.batch_callbacks", false)
	v.SetDefault("replay.memory_optimized", false)

	avgWindow, err := time.ParseDuration(v.GetString("market.avg_price_window"))
	if err != nil {
		return nil, fmt.Errorf("config: invalid market.avg_price_window: %w", err)
	}

	return &Config{
		Server: ServerConfig{
			HTTPAddr: v.GetString("server.http_addr"),
			WSAddr:   v.GetString("server.ws_addr"),
		},
		Log: LogConfig{Level: v.GetString("log.level")},
		Market: MarketConfig{
			AvgPriceWindow:       avgWindow,
			CommissionRateMaker:  v.GetString("market.commission_rate_maker"),
			CommissionRateTaker:  v.GetString("market.commission_rate_taker"),
			MaxClientsPerSymbol:  v.GetInt("market.max_clients_per_symbol"),
			RecentTradesCapacity: v.GetInt("market.recent_trades_capacity"),
			DepthDefaultLimit:    v.GetInt("market.depth_default_limit"),
			TimestampSkewMs:      v.GetInt64("market.timestamp_skew_ms"),
		},
		Archive: ArchiveConfig{
			SQLitePath:    v.GetString("archive.sqlite_path"),
			RetentionDays: v.GetInt("archive.retention_days"),
		},
		Redis: RedisConfig{
			Addr: v.GetString("redis.addr"),
			DB:   v.GetInt("redis.db"),
		},
		Kafka: KafkaConfig{
			Brokers: v.GetStringSlice("kafka.brokers"),
			Topic:   v.GetString("kafka.topic"),
		},
		Replay: ReplayConfig{
			Mode:            v.GetString("replay.mode"),
			SpeedFactor:     v.GetFloat64("replay.speed_factor"),
			BatchCallbacks:  v.GetBool("replay.batch_callbacks"),
			MemoryOptimized: v.GetBool("replay.memory_optimized"),
		},
	}, nil
}
