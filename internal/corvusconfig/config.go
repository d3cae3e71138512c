// Package corvusconfig provides configuration loading for corvusforge.
// Configuration sources (in priority order): env vars > config file >
// defaults, mirroring the control plane's own config layer but expressed
// in YAML rather than JSON.
package corvusconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Environment is the deployment environment the Production Guard gates on.
type Environment string

const (
	EnvProduction  Environment = "production"
	EnvDevelopment Environment = "debug"
)

// Config holds every setting the Production Guard and orchestrator consume.
type Config struct {
	Environment Environment `yaml:"environment"`

	RequiredTrustKeys []string `yaml:"required_trust_keys"`

	PluginTrustRootPublicHex  string `yaml:"plugin_trust_root_public_hex"`
	WaiverSigningKeyPublicHex string `yaml:"waiver_signing_key_public_hex"`
	AnchorSigningKeyPublicHex string `yaml:"anchor_signing_key_public_hex"`

	// AnchorSigningKeyPrivateHex is the private half of the anchor signing
	// keypair. Only this field is ever passed to crypto.Chain.Sign; the
	// public half above is for trust-context fingerprinting and verification
	// only and must never be threaded into a signing call.
	AnchorSigningKeyPrivateHex string `yaml:"anchor_signing_key_private_hex"`

	RequireWaiverSignature bool `yaml:"require_waiver_signature"`

	LedgerDSN   string `yaml:"ledger_dsn"`
	ArtifactDir string `yaml:"artifact_dir"`

	LogLevel string `yaml:"log_level"`

	AnchorExportCron string `yaml:"anchor_export_cron"`
}

// Default returns configuration with sensible development defaults.
func Default() Config {
	return Config{
		Environment:            EnvDevelopment,
		RequiredTrustKeys:      []string{"plugin_trust_root", "waiver_signing_key"},
		RequireWaiverSignature: false,
		LedgerDSN:              "corvusforge-ledger.db",
		ArtifactDir:            "corvusforge-artifacts",
		LogLevel:               "info",
		AnchorExportCron:       "0 */6 * * *",
	}
}

// Load reads configuration from a YAML file, then overlays environment
// variables prefixed CORVUSFORGE_.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if v := os.Getenv("CORVUSFORGE_ENVIRONMENT"); v != "" {
		cfg.Environment = Environment(v)
	}
	if v := os.Getenv("CORVUSFORGE_PLUGIN_TRUST_ROOT_PUBLIC_HEX"); v != "" {
		cfg.PluginTrustRootPublicHex = v
	}
	if v := os.Getenv("CORVUSFORGE_WAIVER_SIGNING_KEY_PUBLIC_HEX"); v != "" {
		cfg.WaiverSigningKeyPublicHex = v
	}
	if v := os.Getenv("CORVUSFORGE_ANCHOR_SIGNING_KEY_PUBLIC_HEX"); v != "" {
		cfg.AnchorSigningKeyPublicHex = v
	}
	if v := os.Getenv("CORVUSFORGE_ANCHOR_SIGNING_KEY_PRIVATE_HEX"); v != "" {
		cfg.AnchorSigningKeyPrivateHex = v
	}
	if v := os.Getenv("CORVUSFORGE_LEDGER_DSN"); v != "" {
		cfg.LedgerDSN = v
	}
	if v := os.Getenv("CORVUSFORGE_ARTIFACT_DIR"); v != "" {
		cfg.ArtifactDir = v
	}
	if v := os.Getenv("CORVUSFORGE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	if cfg.Environment == EnvProduction {
		cfg.RequireWaiverSignature = true
	}

	return cfg, nil
}
