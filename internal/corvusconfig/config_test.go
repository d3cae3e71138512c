package corvusconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsDevelopmentWithPermissiveWaivers(t *testing.T) {
	cfg := Default()
	if cfg.Environment != EnvDevelopment {
		t.Fatalf("expected default environment to be debug, got %s", cfg.Environment)
	}
	if cfg.RequireWaiverSignature {
		t.Fatalf("expected default to not require waiver signatures")
	}
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("environment: production\nplugin_trust_root_public_hex: deadbeef\n"), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Environment != EnvProduction {
		t.Fatalf("expected environment production, got %s", cfg.Environment)
	}
	if cfg.PluginTrustRootPublicHex != "deadbeef" {
		t.Fatalf("expected plugin trust root key to be loaded from file")
	}
	if !cfg.RequireWaiverSignature {
		t.Fatalf("expected production environment to force require_waiver_signature")
	}
}

func TestLoadAppliesEnvironmentOverride(t *testing.T) {
	t.Setenv("CORVUSFORGE_ENVIRONMENT", "production")
	t.Setenv("CORVUSFORGE_LEDGER_DSN", "postgres://example/db")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Environment != EnvProduction {
		t.Fatalf("expected env var to override default environment")
	}
	if cfg.LedgerDSN != "postgres://example/db" {
		t.Fatalf("expected env var to override ledger DSN, got %s", cfg.LedgerDSN)
	}
}
