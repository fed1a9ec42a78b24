/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the payment-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort            string  `mapstructure:"SERVER_PORT"`
	DatabaseURL           string  `mapstructure:"DATABASE_URL"`
	RedisURL              string  `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix  string  `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL           string  `mapstructure:"RABBITMQ_URL"`
	DarajaBaseURL         string  `mapstructure:"DARAJA_BASE_URL"`
	DarajaConsumerKey     string  `mapstructure:"DARAJA_CONSUMER_KEY"`
	DarajaConsumerSecret  string  `mapstructure:"DARAJA_CONSUMER_SECRET"`
	DarajaShortcode       string  `mapstructure:"DARAJA_SHORTCODE"`
	DarajaPasskey         string  `mapstructure:"DARAJA_PASSKEY"`
	DarajaCallbackURL     string  `mapstructure:"DARAJA_CALLBACK_URL"`
	ProofStoreURL         string  `mapstructure:"PROOF_STORE_URL"`
	ProofStoreAPIKey      string  `mapstructure:"PROOF_STORE_API_KEY"`
	AuthJWKSURL           string  `mapstructure:"AUTH_JWKS_URL"`
	InternalAPIKey        string  `mapstructure:"INTERNAL_API_KEY"`
	SupportedCurrencies   string  `mapstructure:"SUPPORTED_CURRENCIES"`
	DefaultCommissionRate float64 `mapstructure:"DEFAULT_COMMISSION_RATE_PERCENT"`
	StkPushLimitPerHour   int     `mapstructure:"STK_PUSH_LIMIT_PER_HOUR"`
	GatewayPollIntervalS  int     `mapstructure:"GATEWAY_POLL_INTERVAL_SECONDS"`
	GatewayPollDeadlineS  int     `mapstructure:"GATEWAY_POLL_DEADLINE_SECONDS"`
}

// SupportedCurrencyList splits the comma-separated currency allow list.
func (c Config) SupportedCurrencyList() []string {
	var out []string
	for _, part := range strings.Split(c.SupportedCurrencies, ",") {
		if trimmed := strings.ToUpper(strings.TrimSpace(part)); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("DARAJA_BASE_URL", "https://sandbox.safaricom.co.ke")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "sautihub:rate_limit")
	viper.SetDefault("SUPPORTED_CURRENCIES", "KES")
	viper.SetDefault("DEFAULT_COMMISSION_RATE_PERCENT", 85.0)
	viper.SetDefault("STK_PUSH_LIMIT_PER_HOUR", 5)
	viper.SetDefault("GATEWAY_POLL_INTERVAL_SECONDS", 3)
	viper.SetDefault("GATEWAY_POLL_DEADLINE_SECONDS", 120)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "PAYMENT_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("DARAJA_BASE_URL")
	_ = viper.BindEnv("DARAJA_CONSUMER_KEY")
	_ = viper.BindEnv("DARAJA_CONSUMER_SECRET")
	_ = viper.BindEnv("DARAJA_SHORTCODE")
	_ = viper.BindEnv("DARAJA_PASSKEY")
	_ = viper.BindEnv("DARAJA_CALLBACK_URL")
	_ = viper.BindEnv("PROOF_STORE_URL")
	_ = viper.BindEnv("PROOF_STORE_API_KEY")
	_ = viper.BindEnv("AUTH_JWKS_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "PAYMENT_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("SUPPORTED_CURRENCIES")
	_ = viper.BindEnv("DEFAULT_COMMISSION_RATE_PERCENT")
	_ = viper.BindEnv("STK_PUSH_LIMIT_PER_HOUR")
	_ = viper.BindEnv("GATEWAY_POLL_INTERVAL_SECONDS")
	_ = viper.BindEnv("GATEWAY_POLL_DEADLINE_SECONDS")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("PAYMENT_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "sautihub:rate_limit"
	}

	if config.DefaultCommissionRate < 0 {
		log.Printf("level=warn component=config msg=\"negative commission rate configured; coercing to zero\" rate=%f", config.DefaultCommissionRate)
		config.DefaultCommissionRate = 0
	}
	if config.DefaultCommissionRate > 100 {
		log.Printf("level=warn component=config msg=\"commission rate too high; capping at 100\" rate=%f", config.DefaultCommissionRate)
		config.DefaultCommissionRate = 100
	}

	if config.StkPushLimitPerHour <= 0 {
		config.StkPushLimitPerHour = 5
	}
	if config.GatewayPollIntervalS <= 0 {
		config.GatewayPollIntervalS = 3
	}
	if config.GatewayPollDeadlineS <= 0 {
		config.GatewayPollDeadlineS = 120
	}
	if config.GatewayPollDeadlineS <= config.GatewayPollIntervalS {
		log.Printf("level=warn component=config msg=\"poll deadline not greater than interval; using defaults\" interval_s=%d deadline_s=%d", config.GatewayPollIntervalS, config.GatewayPollDeadlineS)
		config.GatewayPollIntervalS = 3
		config.GatewayPollDeadlineS = 120
	}

	return
}
