// Package guard implements the Production Guard: a startup gate evaluated
// once during orchestrator construction, over the crypto chain, the
// configured trust keys, and the waiver manager's signature mode.
package guard

import (
	"fmt"
	"strings"

	"github.com/nikodemus-eth/corvusforge/internal/corvusconfig"
	"github.com/nikodemus-eth/corvusforge/internal/crypto"
)

// ErrProductionGuard reports every condition that failed the guard, so the
// operator can remediate all of them at once rather than one at a time.
type ErrProductionGuard struct {
	Failures []string
}

func (e *ErrProductionGuard) Error() string {
	return fmt.Sprintf("production guard failed: %s", strings.Join(e.Failures, "; "))
}

// keyHexFor looks up the configured public key hex for a required-trust-key
// role name.
func keyHexFor(cfg corvusconfig.Config, role string) string {
	switch role {
	case "plugin_trust_root":
		return cfg.PluginTrustRootPublicHex
	case "waiver_signing_key":
		return cfg.WaiverSigningKeyPublicHex
	case "anchor_signing_key":
		return cfg.AnchorSigningKeyPublicHex
	default:
		return ""
	}
}

// Evaluate runs the Production Guard once. strictWaiverMode is the waiver
// manager's configured strict mode and chain is the crypto chain the
// orchestrator selected.
func Evaluate(cfg corvusconfig.Config, strictWaiverMode bool, chain *crypto.Chain) error {
	if cfg.Environment != corvusconfig.EnvProduction {
		return nil
	}

	var failures []string

	for _, role := range cfg.RequiredTrustKeys {
		if keyHexFor(cfg, role) == "" {
			failures = append(failures, fmt.Sprintf("required trust key %q is missing or empty", role))
		}
	}

	if !strictWaiverMode {
		failures = append(failures, "waiver manager strict mode must be enabled in production")
	}

	if chain == nil || chain.IsFailClosed() {
		failures = append(failures, "a real crypto provider must be selected in production (fail-closed provider is active)")
	}

	if len(failures) > 0 {
		return &ErrProductionGuard{Failures: failures}
	}
	return nil
}
