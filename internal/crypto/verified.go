package crypto

// VerifiedSignature is a type-level guarantee: the only way to obtain one
// with Verified()==true is through Chain.VerifySignature, which itself only
// ever calls the private constructor with the result of VerifyData. No
// other code in this module — or any importer — can construct a "verified"
// outcome by hand.
type VerifiedSignature struct {
	ok bool
}

func newVerifiedSignature(ok bool) VerifiedSignature {
	return VerifiedSignature{ok: ok}
}

// Verified reports the sealed verification outcome.
func (v VerifiedSignature) Verified() bool {
	return v.ok
}

// VerifySignature wraps VerifyData in the VerifiedSignature type.
func (c *Chain) VerifySignature(data []byte, signatureHex, publicHex string) VerifiedSignature {
	return newVerifiedSignature(c.VerifyData(data, signatureHex, publicHex))
}
