package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "SERVER_PORT")
	unsetEnvWithCleanup(t, "PORT")
	unsetEnvWithCleanup(t, "EXTERNAL_CALL_TIMEOUT_SECONDS")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.ServerPort)
	}
	if cfg.RegisterCompletedQueue != "register.citizen.completed" {
		t.Fatalf("unexpected register queue: %q", cfg.RegisterCompletedQueue)
	}
	if cfg.UnregisterCompletedQueue != "unregister.citizen.completed" {
		t.Fatalf("unexpected unregister queue: %q", cfg.UnregisterCompletedQueue)
	}
	if cfg.DocumentsReadyQueue != "documents.ready" {
		t.Fatalf("unexpected documents queue: %q", cfg.DocumentsReadyQueue)
	}
	if cfg.RedisRateLimitPrefix != "affiliation:rate_limit" {
		t.Fatalf("unexpected rate limit prefix: %q", cfg.RedisRateLimitPrefix)
	}
	if cfg.ExternalCallTimeoutSeconds != 10 {
		t.Fatalf("expected default timeout 10, got %d", cfg.ExternalCallTimeoutSeconds)
	}
	if cfg.ReceiveRateLimitPerMinute != 60 || cfg.ConfirmRateLimitPerMinute != 120 {
		t.Fatalf("unexpected rate limits: %d %d", cfg.ReceiveRateLimitPerMinute, cfg.ConfirmRateLimitPerMinute)
	}
	if cfg.GovCarpetaAPIURL == "" {
		t.Fatal("expected a default authority url")
	}
}

func TestLoadConfig_TrimsTrailingSlashes(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "GOVCARPETA_API_URL", "https://authority.example/")
	setEnvWithCleanup(t, "DOCUMENT_SERVICE_URL", "https://documents.example//")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.GovCarpetaAPIURL != "https://authority.example" {
		t.Fatalf("expected trailing slash to be trimmed, got %q", cfg.GovCarpetaAPIURL)
	}
	if cfg.DocumentServiceURL != "https://documents.example" {
		t.Fatalf("expected trailing slashes to be trimmed, got %q", cfg.DocumentServiceURL)
	}
}

func TestLoadConfig_PortEnvOverridesServerPort(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SERVER_PORT", "8080")
	setEnvWithCleanup(t, "PORT", "9090")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "9090" {
		t.Fatalf("expected PORT to win over SERVER_PORT, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_UsesAffiliationServiceInternalAPIKeyAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "INTERNAL_API_KEY")
	setEnvWithCleanup(t, "AFFILIATION_SERVICE_INTERNAL_API_KEY", "alias-only-key")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.InternalAPIKey != "alias-only-key" {
		t.Fatalf("expected InternalAPIKey from alias env var, got %q", cfg.InternalAPIKey)
	}
}

func TestLoadConfig_InternalAPIKeyTakesPrecedenceOverAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "INTERNAL_API_KEY", "primary-key")
	setEnvWithCleanup(t, "AFFILIATION_SERVICE_INTERNAL_API_KEY", "alias-key")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.InternalAPIKey != "primary-key" {
		t.Fatalf("expected InternalAPIKey to prioritize INTERNAL_API_KEY, got %q", cfg.InternalAPIKey)
	}
}

func TestLoadConfig_FloorsNegativeNumbers(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "EXTERNAL_CALL_TIMEOUT_SECONDS", "-5")
	setEnvWithCleanup(t, "RECEIVE_RATE_LIMIT_PER_MINUTE", "-1")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ExternalCallTimeoutSeconds != 10 {
		t.Fatalf("expected timeout floor to apply, got %d", cfg.ExternalCallTimeoutSeconds)
	}
	if cfg.ReceiveRateLimitPerMinute != 60 {
		t.Fatalf("expected rate limit floor to apply, got %d", cfg.ReceiveRateLimitPerMinute)
	}
}

func TestLoadConfig_ZeroRateLimitDisablesLimiting(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "RECEIVE_RATE_LIMIT_PER_MINUTE", "0")
	setEnvWithCleanup(t, "CONFIRM_RATE_LIMIT_PER_MINUTE", "0")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ReceiveRateLimitPerMinute != 0 {
		t.Fatalf("expected zero to disable the receive limit, got %d", cfg.ReceiveRateLimitPerMinute)
	}
	if cfg.ConfirmRateLimitPerMinute != 0 {
		t.Fatalf("expected zero to disable the confirm limit, got %d", cfg.ConfirmRateLimitPerMinute)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}
