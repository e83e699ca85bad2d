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

// Config holds all the configuration variables for the affiliation-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                 string `mapstructure:"SERVER_PORT"`
	DatabaseURL                string `mapstructure:"DATABASE_URL"`
	RedisURL                   string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix       string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL                string `mapstructure:"RABBITMQ_URL"`
	RegisterCompletedQueue     string `mapstructure:"REGISTER_COMPLETED_QUEUE"`
	UnregisterCompletedQueue   string `mapstructure:"UNREGISTER_COMPLETED_QUEUE"`
	DocumentsReadyQueue        string `mapstructure:"DOCUMENTS_READY_QUEUE"`
	GovCarpetaAPIURL           string `mapstructure:"GOVCARPETA_API_URL"`
	DocumentServiceURL         string `mapstructure:"DOCUMENT_SERVICE_URL"`
	OperatorID                 string `mapstructure:"OPERATOR_ID"`
	OperatorName               string `mapstructure:"OPERATOR_NAME"`
	TransferConfirmationURL    string `mapstructure:"TRANSFER_CONFIRMATION_URL"`
	InternalAPIKey             string `mapstructure:"INTERNAL_API_KEY"`
	ExternalCallTimeoutSeconds int    `mapstructure:"EXTERNAL_CALL_TIMEOUT_SECONDS"`
	ReceiveRateLimitPerMinute  int    `mapstructure:"RECEIVE_RATE_LIMIT_PER_MINUTE"`
	ConfirmRateLimitPerMinute  int    `mapstructure:"CONFIRM_RATE_LIMIT_PER_MINUTE"`
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
	viper.SetDefault("REGISTER_COMPLETED_QUEUE", "register.citizen.completed")
	viper.SetDefault("UNREGISTER_COMPLETED_QUEUE", "unregister.citizen.completed")
	viper.SetDefault("DOCUMENTS_READY_QUEUE", "documents.ready")
	viper.SetDefault("GOVCARPETA_API_URL", "https://govcarpeta-apis-4905ff3c005b.herokuapp.com")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "affiliation:rate_limit")
	viper.SetDefault("EXTERNAL_CALL_TIMEOUT_SECONDS", 10)
	viper.SetDefault("RECEIVE_RATE_LIMIT_PER_MINUTE", 60)
	viper.SetDefault("CONFIRM_RATE_LIMIT_PER_MINUTE", 120)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "AFFILIATION_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("REGISTER_COMPLETED_QUEUE")
	_ = viper.BindEnv("UNREGISTER_COMPLETED_QUEUE")
	_ = viper.BindEnv("DOCUMENTS_READY_QUEUE")
	_ = viper.BindEnv("GOVCARPETA_API_URL")
	_ = viper.BindEnv("DOCUMENT_SERVICE_URL")
	_ = viper.BindEnv("OPERATOR_ID")
	_ = viper.BindEnv("OPERATOR_NAME")
	_ = viper.BindEnv("TRANSFER_CONFIRMATION_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "AFFILIATION_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("EXTERNAL_CALL_TIMEOUT_SECONDS")
	_ = viper.BindEnv("RECEIVE_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("CONFIRM_RATE_LIMIT_PER_MINUTE")

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
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("AFFILIATION_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "affiliation:rate_limit"
	}
	config.GovCarpetaAPIURL = strings.TrimRight(strings.TrimSpace(config.GovCarpetaAPIURL), "/")
	config.DocumentServiceURL = strings.TrimRight(strings.TrimSpace(config.DocumentServiceURL), "/")
	config.TransferConfirmationURL = strings.TrimSpace(config.TransferConfirmationURL)

	if strings.TrimSpace(config.OperatorID) == "" {
		log.Printf("level=warn component=config msg=\"OPERATOR_ID is not set; outbound events will carry an empty operator id\"")
	}

	if config.ExternalCallTimeoutSeconds <= 0 {
		config.ExternalCallTimeoutSeconds = 10
	}
	// Zero disables peer rate limiting; only negative values fall back to the
	// defaults.
	if config.ReceiveRateLimitPerMinute < 0 {
		config.ReceiveRateLimitPerMinute = 60
	}
	if config.ConfirmRateLimitPerMinute < 0 {
		config.ConfirmRateLimitPerMinute = 120
	}

	return
}
