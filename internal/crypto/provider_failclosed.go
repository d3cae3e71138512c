package crypto

import "fmt"

// failClosedProvider is the terminal tier: verify always returns false,
// sign always refuses. Selected only if no real provider loads.
type failClosedProvider struct{}

func newFailClosedProvider() Provider {
	return failClosedProvider{}
}

func newFailClosedProbe() (Provider, bool) {
	return newFailClosedProvider(), true
}

func (failClosedProvider) Name() string       { return "fail-closed" }
func (failClosedProvider) RealProvider() bool { return false }

func (failClosedProvider) GenerateKeypair() (privateHex, publicHex string, err error) {
	return "", "", fmt.Errorf("fail-closed provider: no keypair generation available")
}

func (failClosedProvider) Sign([]byte, string) (string, error) {
	return "", fmt.Errorf("fail-closed provider: signing refused")
}

func (failClosedProvider) Verify([]byte, string, string) bool {
	return false
}
