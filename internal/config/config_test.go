package config

import (
	"os"
	"testing"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoadSidecarRequiresUpstreamURL(t *testing.T) {
	clearEnv(t, "UPSTREAM_URL", "VALIDATOR_API_URL", "PROVIDER_ID", "AUTH_MODE", "AUTH_SECRET")
	os.Setenv("VALIDATOR_API_URL", "http://validator")
	os.Setenv("PROVIDER_ID", "provider-1")

	if _, err := LoadSidecar(); err == nil {
		t.Error("LoadSidecar should fail without UPSTREAM_URL")
	}
}

func TestLoadSidecarRequiresAuthSecretWhenModeSet(t *testing.T) {
	clearEnv(t, "UPSTREAM_URL", "VALIDATOR_API_URL", "PROVIDER_ID", "AUTH_MODE", "AUTH_SECRET")
	os.Setenv("UPSTREAM_URL", "http://upstream")
	os.Setenv("VALIDATOR_API_URL", "http://validator")
	os.Setenv("PROVIDER_ID", "provider-1")
	os.Setenv("AUTH_MODE", "bearer_token")

	if _, err := LoadSidecar(); err == nil {
		t.Error("LoadSidecar should fail when AUTH_MODE requires a secret but AUTH_SECRET is unset")
	}

	os.Setenv("AUTH_SECRET", "s3cr3t")
	cfg, err := LoadSidecar()
	if err != nil {
		t.Fatalf("LoadSidecar should succeed once AUTH_SECRET is set: %v", err)
	}
	if cfg.AuthMode != AuthBearerToken {
		t.Errorf("AuthMode = %q, want %q", cfg.AuthMode, AuthBearerToken)
	}
}

func TestLoadSidecarDefaults(t *testing.T) {
	clearEnv(t, "UPSTREAM_URL", "VALIDATOR_API_URL", "PROVIDER_ID", "AUTH_MODE", "AUTH_SECRET",
		"CACHE_TTL_MS", "REQUEST_TIMEOUT_MS", "FAIL_OPEN")
	os.Setenv("UPSTREAM_URL", "http://upstream")
	os.Setenv("VALIDATOR_API_URL", "http://validator")
	os.Setenv("PROVIDER_ID", "provider-1")

	cfg, err := LoadSidecar()
	if err != nil {
		t.Fatalf("LoadSidecar: %v", err)
	}
	if cfg.AuthMode != AuthNone {
		t.Errorf("default AuthMode = %q, want %q", cfg.AuthMode, AuthNone)
	}
	if cfg.FailOpen {
		t.Error("default FailOpen should be false")
	}
	if cfg.AddressHeader != "X-Infrapass-Address" {
		t.Errorf("default AddressHeader = %q", cfg.AddressHeader)
	}
}

func TestLoadValidatorRequiresDatabaseURLAndToken(t *testing.T) {
	clearEnv(t, "DATABASE_URL", "VALIDATOR_API_KEY")

	if _, err := LoadValidator(); err == nil {
		t.Error("LoadValidator should fail without DATABASE_URL")
	}

	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	if _, err := LoadValidator(); err == nil {
		t.Error("LoadValidator should fail without VALIDATOR_API_KEY")
	}

	os.Setenv("VALIDATOR_API_KEY", "key123")
	if _, err := LoadValidator(); err != nil {
		t.Errorf("LoadValidator should succeed with both set: %v", err)
	}
}

func TestLoadEventWorkerRequiresLedgerSubscriptionURL(t *testing.T) {
	clearEnv(t, "DATABASE_URL", "LEDGER_SUBSCRIPTION_URL")
	os.Setenv("DATABASE_URL", "postgres://localhost/test")

	if _, err := LoadEventWorker(); err == nil {
		t.Error("LoadEventWorker should fail without LEDGER_SUBSCRIPTION_URL")
	}

	os.Setenv("LEDGER_SUBSCRIPTION_URL", "grpc://ledger")
	cfg, err := LoadEventWorker()
	if err != nil {
		t.Fatalf("LoadEventWorker: %v", err)
	}
	if cfg.ChannelCapacity != 256 {
		t.Errorf("default ChannelCapacity = %d, want 256", cfg.ChannelCapacity)
	}
}
