package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// HashPin computes "<salt_hex>:<sha256(salt||pin)_hex>". If salt is nil, 16
// random bytes are generated. The format is specified exactly by the
// trust core's wire contract, so this stays stdlib-only rather than
// reaching for a KDF library that would produce an incompatible format.
func HashPin(pin string, salt []byte) (string, error) {
	if salt == nil {
		salt = make([]byte, 16)
		if _, err := rand.Read(salt); err != nil {
			return "", fmt.Errorf("hash_pin: generate salt: %w", err)
		}
	}

	h := sha256.New()
	h.Write(salt)
	h.Write([]byte(pin))
	digest := h.Sum(nil)

	return fmt.Sprintf("%s:%s", hex.EncodeToString(salt), hex.EncodeToString(digest)), nil
}

// VerifyPin re-derives the hash from pin and the salt embedded in hashed,
// and reports whether it matches.
func VerifyPin(pin, hashed string) bool {
	idx := indexByte(hashed, ':')
	if idx < 0 {
		return false
	}
	saltHex := hashed[:idx]
	digestHex := hashed[idx+1:]

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return false
	}
	recomputed, err := HashPin(pin, salt)
	if err != nil {
		return false
	}
	recomputedDigest := recomputed[indexByte(recomputed, ':')+1:]
	return recomputedDigest == digestHex
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}
