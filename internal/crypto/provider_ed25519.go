package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// ed25519Provider is the "native, libsodium-equivalent" tier: the stdlib
// crypto/ed25519 implementation. It always loads, so the chain always has
// a real fallback before the terminal fail-closed tier.
type ed25519Provider struct{}

func newEd25519Probe() (Provider, bool) {
	return ed25519Provider{}, true
}

func (ed25519Provider) Name() string       { return "ed25519-native" }
func (ed25519Provider) RealProvider() bool { return true }

func (ed25519Provider) GenerateKeypair() (privateHex, publicHex string, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("ed25519: generate keypair: %w", err)
	}
	return hex.EncodeToString(priv), hex.EncodeToString(pub), nil
}

func (ed25519Provider) Sign(data []byte, privateHex string) (string, error) {
	privBytes, err := decodeHex("private key", privateHex)
	if err != nil {
		return "", err
	}
	if len(privBytes) != ed25519.PrivateKeySize {
		return "", fmt.Errorf("ed25519: private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(privBytes))
	}
	sig := ed25519.Sign(ed25519.PrivateKey(privBytes), data)
	return hex.EncodeToString(sig), nil
}

func (ed25519Provider) Verify(data []byte, signatureHex, publicHex string) bool {
	sigBytes, err := hex.DecodeString(signatureHex)
	if err != nil || len(sigBytes) != ed25519.SignatureSize {
		return false
	}
	pubBytes, err := hex.DecodeString(publicHex)
	if err != nil || len(pubBytes) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pubBytes), data, sigBytes)
}
