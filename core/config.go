package core

import (
	"fmt"
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Store backends
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

type (
	ServerConfig struct {
		Host               string
		Address            string
		DebugHost          string
		ShutdownTimeout    time.Duration
		JWTExpirationDelta time.Duration
		LinkRateLimit      float64 // tenant lookups per second per client
		SessionGCSpec      string  // cron spec of the expired sessions purge
	}

	StoreConfig struct {
		Backend string
	}

	RedisConfig struct {
		Addr       string
		Password   string
		DB         int
		Prefix     string
		SessionTTL time.Duration
	}

	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          int
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	RewriteConfig struct {
		APIKey  string
		BaseURL string
		Model   string
		Timeout time.Duration
	}

	Config struct {
		Env              string
		Build            string
		Debug            bool
		TestMode         bool
		AppName          string
		SecretKey        string
		WorkDir          string
		FrontendBaseURL  string
		SuperAdminKey    string
		RollbarToken     string
		SendgridApiKey   string
		defaultFromEmail string

		Server   ServerConfig
		Store    StoreConfig
		Redis    RedisConfig
		Database DatabaseConfig
		Rewrite  RewriteConfig
	}
)

func (c DatabaseConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c *Config) DefaultFromEmail() mail.Address {
	addr, err := mail.ParseAddress(c.defaultFromEmail)
	if err != nil {
		return mail.Address{Name: c.AppName, Address: "noreply@localhost"}
	}
	if addr.Name == "" {
		addr.Name = c.AppName
	}
	return *addr
}

// MagicLink returns the tenant entry URL shared with admins and students.
func (c *Config) MagicLink(schoolID string) string {
	return fmt.Sprintf("%s/?schoolId=%s", strings.TrimRight(c.FrontendBaseURL, "/"), schoolID)
}

// NewConfig loads the configuration from the environment (and `config/.env.<env>` if it exists).
func NewConfig() *Config {
	conf := viper.New()

	// defaults
	conf.SetTypeByDefaultValue(true)
	conf.SetDefault("build", "develop")
	conf.SetDefault("debug", true)
	conf.SetDefault("testMode", false)
	conf.SetDefault("appName", "EduSmart")
	conf.SetDefault("secretKey", "y7#k2-w!qk1e3$f^r9x@t0m8(s6p)zv4n&dq5u%hc2b=l")
	conf.SetDefault("frontendBaseURL", "http://localhost:3000")
	conf.SetDefault("superAdminKey", "")
	conf.SetDefault("rollbarToken", "")
	conf.SetDefault("sendgridApiKey", "")
	conf.SetDefault("defaultFromEmail", "noreply@localhost")

	conf.SetDefault("server.host", "localhost")
	conf.SetDefault("server.address", ":8000")
	conf.SetDefault("server.debugHost", ":4000")
	conf.SetDefault("server.shutdownTimeout", 5*time.Second)
	conf.SetDefault("server.jwtExpirationDelta", 30*24*time.Hour)
	conf.SetDefault("server.linkRateLimit", 5.0)
	conf.SetDefault("server.sessionGCSpec", "@every 1h")

	conf.SetDefault("store.backend", StoreMemory)

	conf.SetDefault("redis.addr", "127.0.0.1:6379")
	conf.SetDefault("redis.password", "")
	conf.SetDefault("redis.db", 0)
	conf.SetDefault("redis.prefix", "edusmart")
	conf.SetDefault("redis.sessionTTL", 30*24*time.Hour)

	conf.SetDefault("database.engine", "postgres")
	conf.SetDefault("database.host", "127.0.0.1")
	conf.SetDefault("database.port", 5432)
	conf.SetDefault("database.name", "edusmart")
	conf.SetDefault("database.user", "edusmart")
	conf.SetDefault("database.password", "")
	conf.SetDefault("database.adminUser", "postgres")
	conf.SetDefault("database.adminPassword", "")
	conf.SetDefault("database.disableTLS", true)

	conf.SetDefault("rewrite.apiKey", "")
	conf.SetDefault("rewrite.baseURL", "https://openrouter.ai/api/v1")
	conf.SetDefault("rewrite.model", "deepseek/deepseek-chat")
	conf.SetDefault("rewrite.timeout", 20*time.Second)

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		conf.SetDefault("testMode", true)
	}
	conf.SetEnvPrefix(env)
	conf.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	wd, err := os.Getwd()
	if err != nil {
		log.Fatalf("config.os.Getwd(): %v", err)
	}

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	conf.AutomaticEnv()

	return &Config{
		Env:              env,
		Build:            conf.GetString("build"),
		Debug:            conf.GetBool("debug"),
		TestMode:         conf.GetBool("testMode"),
		AppName:          conf.GetString("appName"),
		SecretKey:        conf.GetString("secretKey"),
		WorkDir:          wd,
		FrontendBaseURL:  conf.GetString("frontendBaseURL"),
		SuperAdminKey:    conf.GetString("superAdminKey"),
		RollbarToken:     conf.GetString("rollbarToken"),
		SendgridApiKey:   conf.GetString("sendgridApiKey"),
		defaultFromEmail: conf.GetString("defaultFromEmail"),
		Server: ServerConfig{
			Host:               conf.GetString("server.host"),
			Address:            conf.GetString("server.address"),
			DebugHost:          conf.GetString("server.debugHost"),
			ShutdownTimeout:    conf.GetDuration("server.shutdownTimeout"),
			JWTExpirationDelta: conf.GetDuration("server.jwtExpirationDelta"),
			LinkRateLimit:      conf.GetFloat64("server.linkRateLimit"),
			SessionGCSpec:      conf.GetString("server.sessionGCSpec"),
		},
		Store: StoreConfig{
			Backend: strings.ToLower(conf.GetString("store.backend")),
		},
		Redis: RedisConfig{
			Addr:       conf.GetString("redis.addr"),
			Password:   conf.GetString("redis.password"),
			DB:         conf.GetInt("redis.db"),
			Prefix:     conf.GetString("redis.prefix"),
			SessionTTL: conf.GetDuration("redis.sessionTTL"),
		},
		Database: DatabaseConfig{
			Engine:        conf.GetString("database.engine"),
			Host:          conf.GetString("database.host"),
			Port:          conf.GetInt("database.port"),
			Name:          conf.GetString("database.name"),
			User:          conf.GetString("database.user"),
			Password:      conf.GetString("database.password"),
			AdminUser:     conf.GetString("database.adminUser"),
			AdminPassword: conf.GetString("database.adminPassword"),
			DisableTLS:    conf.GetBool("database.disableTLS"),
		},
		Rewrite: RewriteConfig{
			APIKey:  conf.GetString("rewrite.apiKey"),
			BaseURL: conf.GetString("rewrite.baseURL"),
			Model:   conf.GetString("rewrite.model"),
			Timeout: conf.GetDuration("rewrite.timeout"),
		},
	}
}

// NewTestConfig returns a Config suited for tests; it never reads the environment.
func NewTestConfig() *Config {
	return &Config{
		Env:              "TEST",
		Build:            "test",
		Debug:            false,
		TestMode:         true,
		AppName:          "EduSmart",
		SecretKey:        "test-secret",
		FrontendBaseURL:  "http://edusmart.test",
		SuperAdminKey:    "998357",
		defaultFromEmail: "EduSmart <noreply@edusmart.test>",
		Server: ServerConfig{
			Host:               "localhost",
			ShutdownTimeout:    time.Second,
			JWTExpirationDelta: time.Hour,
			LinkRateLimit:      1000,
			SessionGCSpec:      "@every 1h",
		},
		Store: StoreConfig{Backend: StoreMemory},
		Redis: RedisConfig{Prefix: "edusmart-test", SessionTTL: time.Hour},
	}
}
