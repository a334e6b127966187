package bootstrap

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config 结构体用于存储从环境变量或 .env 文件加载的配置
type Config struct {
	AppEnv     string `env:"APP_ENV" envDefault:"development"`
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`

	DBDriver   string `env:"DB_DRIVER" envDefault:"sqlite"`
	DBDSN      string `env:"DB_DSN" envDefault:"exam.db"`
	DBUser     string `env:"DB_USER"`
	DBPassword string `env:"DB_PASSWORD"`
	DBHost     string `env:"DB_HOST" envDefault:"127.0.0.1"`
	DBPort     string `env:"DB_PORT" envDefault:"3306"`
	DBName     string `env:"DB_NAME"`

	RedisAddr     string `env:"REDIS_ADDR,required,notEmpty"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	KeyPrefix     string `env:"REDIS_KEY_PREFIX" envDefault:"exam:"`

	JWTSecret string `env:"JWT_SECRET,required,notEmpty"`

	RateLimitMax    int           `env:"RATE_LIMIT_MAX" envDefault:"100"`
	RateLimitWindow time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1s"`

	GraderURL     string        `env:"GRADER_URL,required,notEmpty"`
	GraderTimeout time.Duration `env:"GRADER_TIMEOUT" envDefault:"5s"`

	LivenessTimeout        time.Duration `env:"LIVENESS_TIMEOUT" envDefault:"45s"`
	LivenessSweepSchedule  string        `env:"LIVENESS_SWEEP_SCHEDULE" envDefault:"@every 15s"`
	SubmissionGrace        time.Duration `env:"SUBMISSION_GRACE" envDefault:"2m"`
	DefaultMaxParticipants int           `env:"DEFAULT_MAX_PARTICIPANTS" envDefault:"50"`

	// 没有订阅者的通知主题空闲超过该时长后被回收
	TopicIdleTimeout time.Duration `env:"TOPIC_IDLE_TIMEOUT" envDefault:"10m"`

	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" envDefault:"http://localhost:3000"`
}

// LoadConfig 从环境变量加载配置
func LoadConfig() (*Config, error) {
	// 优先加载 .env 文件 (如果存在)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DBDriver {
	case "sqlite":
	case "mysql":
		if c.DBName == "" || c.DBUser == "" {
			return fmt.Errorf("DB_NAME and DB_USER must be set when DB_DRIVER=mysql")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q (want sqlite or mysql)", c.DBDriver)
	}
	if c.RateLimitMax <= 0 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_MAX and RATE_LIMIT_WINDOW must be positive")
	}
	if c.LivenessTimeout <= 0 || c.SubmissionGrace < 0 {
		return fmt.Errorf("LIVENESS_TIMEOUT must be positive and SUBMISSION_GRACE non-negative")
	}
	if c.TopicIdleTimeout <= 0 {
		return fmt.Errorf("TOPIC_IDLE_TIMEOUT must be positive")
	}
	if c.DefaultMaxParticipants <= 0 {
		return fmt.Errorf("DEFAULT_MAX_PARTICIPANTS must be positive")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		logrus.Warnf("Invalid LOG_LEVEL '%s', using default 'info'", c.LogLevel)
		c.LogLevel = "info"
	}
	return nil
}
