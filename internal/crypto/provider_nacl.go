package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	naclsign "golang.org/x/crypto/nacl/sign"
)

// naclProvider is the "richer, SATL-compatible" tier: an independently
// implemented NaCl signing codepath (golang.org/x/crypto/nacl/sign), tried
// before falling back to the stdlib Ed25519 baseline. NaCl's sign primitive
// is Ed25519-compatible (32-byte public key, 64-byte signature) but built
// from a different code path than crypto/ed25519, which is exactly the
// kind of alternate capability a probed provider chain exists to prefer.
type naclProvider struct{}

func newNaClProbe() (Provider, bool) {
	// Pure Go, no external service or hardware dependency: this tier
	// always loads. The probe shape is kept (rather than a bare
	// constructor) so a future richer provider that depends on an
	// optional module can slot in without changing Chain's selection
	// logic.
	return naclProvider{}, true
}

func (naclProvider) Name() string      { return "nacl-sign" }
func (naclProvider) RealProvider() bool { return true }

func (naclProvider) GenerateKeypair() (privateHex, publicHex string, err error) {
	pub, priv, err := naclsign.GenerateKey(rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("nacl: generate keypair: %w", err)
	}
	return hex.EncodeToString(priv[:]), hex.EncodeToString(pub[:]), nil
}

func (naclProvider) Sign(data []byte, privateHex string) (string, error) {
	privBytes, err := decodeHex("private key", privateHex)
	if err != nil {
		return "", err
	}
	if len(privBytes) != 64 {
		return "", fmt.Errorf("nacl: private key must be 64 bytes, got %d", len(privBytes))
	}
	var priv [64]byte
	copy(priv[:], privBytes)

	signed := naclsign.Sign(nil, data, &priv)
	// signed = signature(64 bytes) || message
	if len(signed) < 64 {
		return "", fmt.Errorf("nacl: unexpected signed output length %d", len(signed))
	}
	return hex.EncodeToString(signed[:64]), nil
}

func (naclProvider) Verify(data []byte, signatureHex, publicHex string) bool {
	sigBytes, err := hex.DecodeString(signatureHex)
	if err != nil || len(sigBytes) != 64 {
		return false
	}
	pubBytes, err := hex.DecodeString(publicHex)
	if err != nil || len(pubBytes) != 32 {
		return false
	}
	var pub [32]byte
	copy(pub[:], pubBytes)

	signedMessage := append(append([]byte{}, sigBytes...), data...)
	_, ok := naclsign.Open(nil, signedMessage, &pub)
	return ok
}
