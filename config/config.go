package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Quest    QuestConfig    `mapstructure:"quest"`
	Security SecurityConfig `mapstructure:"security"`
}

type ServerConfig struct {
	Port  int  `mapstructure:"port"`
	Debug bool `mapstructure:"debug"`
}

type DatabaseConfig struct {
	Mode         string        `mapstructure:"mode"` // sqlite | mysql
	SQLitePath   string        `mapstructure:"sqlite_path"`
	MySQLDSN     string        `mapstructure:"mysql_dsn"`
	MySQLMaxOpen int           `mapstructure:"mysql_max_open"`
	MySQLMaxIdle int           `mapstructure:"mysql_max_idle"`
	MySQLMaxLife time.Duration `mapstructure:"mysql_max_life"`
}

type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
}

// QuestConfig carries the engine's tunable constants.
type QuestConfig struct {
	QuestsPath       string `mapstructure:"quests_path"`
	CollectiblesPath string `mapstructure:"collectibles_path"`

	// CompletionRadiusM is the geofence arrival radius in meters (inclusive).
	CompletionRadiusM float64 `mapstructure:"completion_radius_m"`
	// MovementThresholdM filters out GPS jitter below this distance in meters.
	MovementThresholdM float64 `mapstructure:"movement_threshold_m"`
	// AbandonTimeout is how long an active quest may sit idle before it loses focus.
	AbandonTimeout time.Duration `mapstructure:"abandon_timeout"`
	// AbandonPollInterval is how often the abandonment sweep runs.
	AbandonPollInterval time.Duration `mapstructure:"abandon_poll_interval"`
	// PassingScore is the default quiz pass threshold in percent.
	PassingScore int `mapstructure:"passing_score"`
	// CompletionCooldown debounces duplicate completion attempts from the UI.
	// Correctness does not depend on it; the guarded state transition does.
	CompletionCooldown time.Duration `mapstructure:"completion_cooldown"`
	// LeaderboardRefresh is how often the points leaderboard is rebuilt.
	LeaderboardRefresh time.Duration `mapstructure:"leaderboard_refresh"`
}

type SecurityConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	JWTTTLH        time.Duration `mapstructure:"jwt_ttl_h"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	// AllowedOrigins lists the WebSocket/SSE origins that are permitted.
	// An empty slice allows all origins (useful for local development only).
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// AdminKey protects the admin endpoints. Empty disables them.
	AdminKey string `mapstructure:"admin_key"`
	// AdminIPs optionally restricts admin endpoints to these client IPs.
	AdminIPs []string `mapstructure:"admin_ips"`
}

// Load reads config from the given YAML file path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.debug", false)
	v.SetDefault("database.mode", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/campusquest.db")
	v.SetDefault("database.mysql_max_open", 50)
	v.SetDefault("database.mysql_max_idle", 10)
	v.SetDefault("database.mysql_max_life", "1h")
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("cache.local_pubsub_buf", 256)
	v.SetDefault("quest.quests_path", "./data/quests.json")
	v.SetDefault("quest.collectibles_path", "./data/collectibles.json")
	v.SetDefault("quest.completion_radius_m", 50)
	v.SetDefault("quest.movement_threshold_m", 10)
	v.SetDefault("quest.abandon_timeout", "15m")
	v.SetDefault("quest.abandon_poll_interval", "60s")
	v.SetDefault("quest.passing_score", 70)
	v.SetDefault("quest.completion_cooldown", "5s")
	v.SetDefault("quest.leaderboard_refresh", "5m")
	v.SetDefault("security.jwt_ttl_h", "72h")
	v.SetDefault("security.rate_limit_rps", 100)
	v.SetDefault("security.rate_limit_burst", 200)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultQuest returns the engine constants used when no config file is present
// (tests and embedded use).
func DefaultQuest() QuestConfig {
	return QuestConfig{
		CompletionRadiusM:   50,
		MovementThresholdM:  10,
		AbandonTimeout:      15 * time.Minute,
		AbandonPollInterval: 60 * time.Second,
		PassingScore:        70,
		CompletionCooldown:  5 * time.Second,
		LeaderboardRefresh:  5 * time.Minute,
	}
}
