package crypto

import "github.com/nikodemus-eth/corvusforge/internal/hashing"

// FingerprintLength is the number of hex characters a key fingerprint
// carries — the first 16 hex characters of sha256(publicKeyHex bytes).
const FingerprintLength = 16

// KeyFingerprint returns the first 16 hex characters of
// sha256_hex(publicHex), or "" if publicHex is empty.
func KeyFingerprint(publicHex string) string {
	if publicHex == "" {
		return ""
	}
	full := hashing.Sha256Hex([]byte(publicHex))
	if len(full) < FingerprintLength {
		return full
	}
	return full[:FingerprintLength]
}

// TrustContext carries fingerprints of the three key roles the
// orchestrator seals into every ledger entry, so key rotations become
// forensically visible in the chain itself.
type TrustContext struct {
	PluginTrustRootFP   string `json:"plugin_trust_root_fp"`
	WaiverSigningKeyFP  string `json:"waiver_signing_key_fp"`
	AnchorKeyFP         string `json:"anchor_key_fp"`
}

// ComputeTrustContext fingerprints the three configured public keys. An
// absent key (empty string) yields an empty fingerprint for that role.
func ComputeTrustContext(pluginTrustRootPublicHex, waiverSigningKeyPublicHex, anchorKeyPublicHex string) TrustContext {
	return TrustContext{
		PluginTrustRootFP:  KeyFingerprint(pluginTrustRootPublicHex),
		WaiverSigningKeyFP: KeyFingerprint(waiverSigningKeyPublicHex),
		AnchorKeyFP:        KeyFingerprint(anchorKeyPublicHex),
	}
}

// AsMap renders the trust context as the mapping shape the ledger entry
// stores (field order is irrelevant once canonicalized by internal/hashing).
func (t TrustContext) AsMap() map[string]any {
	return map[string]any{
		"plugin_trust_root_fp":  t.PluginTrustRootFP,
		"waiver_signing_key_fp": t.WaiverSigningKeyFP,
		"anchor_key_fp":         t.AnchorKeyFP,
	}
}
