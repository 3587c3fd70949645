package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var config = viper.New()

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	NodeID     int64  `mapstructure:"NODE_ID"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Minio struct {
		Endpoint   string `mapstructure:"ENDPOINT"`
		AccessKey  string `mapstructure:"ACCESS_KEY"`
		SecretKey  string `mapstructure:"SECRET_KEY"`
		Secure     bool   `mapstructure:"SECURE"`
		BucketName string `mapstructure:"BUCKET_NAME"`
	} `mapstructure:"MINIO"`
	Payment struct {
		WebhookSecret string `mapstructure:"WEBHOOK_SECRET"`
		SMSToken      string `mapstructure:"SMS_TOKEN"`
	} `mapstructure:"PAYMENT"`
	Sweeper struct {
		Interval  time.Duration `mapstructure:"INTERVAL"`
		BatchSize int           `mapstructure:"BATCH_SIZE"`
		LockTTL   time.Duration `mapstructure:"LOCK_TTL"`
	} `mapstructure:"SWEEPER"`
	// Reward holds the defaults of the configuration store, used when the
	// settings table has no override for a key.
	Reward struct {
		Coin                  int64   `mapstructure:"COIN"`
		Diamond               int64   `mapstructure:"DIAMOND"`
		Currency              float64 `mapstructure:"CURRENCY"`
		ProofCount            int     `mapstructure:"PROOF_COUNT"`
		VisitTimerSeconds     int     `mapstructure:"VISIT_TIMER_SECONDS"`
		AutoApproveMinutes    int     `mapstructure:"AUTO_APPROVE_MINUTES"`
		DefaultCommissionRate float64 `mapstructure:"DEFAULT_COMMISSION_RATE"`
		CampaignCostPerVisit  int64   `mapstructure:"CAMPAIGN_COST_PER_VISIT"`
	} `mapstructure:"REWARD"`
	AccessControl struct {
		AdminRole string `mapstructure:"ADMIN_ROLE"`
	} `mapstructure:"ACCESS_CONTROL"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "linkboost")
	v.SetDefault("NODE_ID", 1)
	v.SetDefault("HTTP_SERVER.ADDR", "8080")
	v.SetDefault("HTTP_SERVER.READ_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.WRITE_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.SSLMODE", "disable")
	v.SetDefault("DATABASE.TIMEZONE", "UTC")
	v.SetDefault("DATABASE.CONNECTION_POOL.MAX_IDLE_CONN", 10)
	v.SetDefault("DATABASE.CONNECTION_POOL.MAX_OPEN_CONNS", 50)
	v.SetDefault("DATABASE.CONNECTION_POOL.CONN_MAX_LIFETIME", time.Hour)
	v.SetDefault("DATABASE.CONNECTION_POOL.CONN_MAX_IDLE_TIME", 10*time.Minute)
	v.SetDefault("REDIS.ADDR", "127.0.0.1:6379")
	v.SetDefault("REDIS.POOL_SIZE", 10)
	v.SetDefault("REDIS.POOL_TIMEOUT", 4*time.Second)
	v.SetDefault("SWEEPER.INTERVAL", time.Minute)
	v.SetDefault("SWEEPER.BATCH_SIZE", 100)
	v.SetDefault("SWEEPER.LOCK_TTL", 5*time.Minute)
	v.SetDefault("REWARD.COIN", 5)
	v.SetDefault("REWARD.PROOF_COUNT", 2)
	v.SetDefault("REWARD.VISIT_TIMER_SECONDS", 30)
	v.SetDefault("REWARD.AUTO_APPROVE_MINUTES", 2880)
	v.SetDefault("REWARD.DEFAULT_COMMISSION_RATE", 5)
	v.SetDefault("REWARD.CAMPAIGN_COST_PER_VISIT", 1)
	v.SetDefault("ACCESS_CONTROL.ADMIN_ROLE", "admin")
}

func LoadConfig() *Config {
	config.SetConfigName("config")
	config.SetConfigType("yaml")
	config.AddConfigPath(".")

	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()
	setDefaults(config)

	if err := config.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			zap.L().Error("failed to read config file", zap.Error(err))
			os.Exit(1)
		}
		zap.L().Warn("config file not found, using env and defaults")
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		zap.L().Error("failed to unmarshal config", zap.Error(err))
		os.Exit(1)
	}

	return &cfg
}
