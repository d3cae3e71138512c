package crypto

import "testing"

func TestChainSelectsARealProviderByDefault(t *testing.T) {
	c := NewChain()
	if c.IsFailClosed() {
		t.Fatalf("expected a real provider to be selected, got fail-closed")
	}
	switch c.Name() {
	case "nacl-sign", "ed25519-native":
	default:
		t.Fatalf("unexpected provider selected: %s", c.Name())
	}
}

func TestChainSignVerifyRoundTrip(t *testing.T) {
	for _, prov := range []Provider{naclProvider{}, ed25519Provider{}} {
		c := NewChainWithProvider(prov)
		priv, pub, err := c.GenerateKeypair()
		if err != nil {
			t.Fatalf("%s: generate keypair: %v", prov.Name(), err)
		}
		msg := []byte("corvusforge stage envelope payload")
		sig, err := c.Sign(msg, priv)
		if err != nil {
			t.Fatalf("%s: sign: %v", prov.Name(), err)
		}
		if !c.VerifyData(msg, sig, pub) {
			t.Fatalf("%s: expected verification to succeed", prov.Name())
		}
		if c.VerifyData([]byte("tampered payload"), sig, pub) {
			t.Fatalf("%s: expected verification to fail on tampered data", prov.Name())
		}
	}
}

func TestChainVerifyDataFailsClosedOnFailClosedProvider(t *testing.T) {
	c := NewChainWithProvider(newFailClosedProvider())
	if !c.IsFailClosed() {
		t.Fatalf("expected fail-closed provider")
	}
	if c.VerifyData([]byte("anything"), "aa", "bb") {
		t.Fatalf("fail-closed provider must never verify true")
	}
}

func TestChainVerifyDataFailsClosedOnMalformedInput(t *testing.T) {
	c := NewChainWithProvider(ed25519Provider{})
	priv, pub, err := c.GenerateKeypair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	msg := []byte("payload")
	sig, err := c.Sign(msg, priv)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	cases := []struct {
		name      string
		signature string
		public    string
	}{
		{"empty signature", "", pub},
		{"empty public key", sig, ""},
		{"non-hex signature", "not-hex-zz", pub},
		{"non-hex public key", sig, "not-hex-zz"},
	}
	for _, tc := range cases {
		if c.VerifyData(msg, tc.signature, tc.public) {
			t.Fatalf("%s: expected verification to fail", tc.name)
		}
	}
}

func TestVerifySignatureSealsOutcome(t *testing.T) {
	c := NewChainWithProvider(ed25519Provider{})
	priv, pub, err := c.GenerateKeypair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	msg := []byte("sealed payload")
	sig, err := c.Sign(msg, priv)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	ok := c.VerifySignature(msg, sig, pub)
	if !ok.Verified() {
		t.Fatalf("expected sealed verification to report true")
	}

	bad := c.VerifySignature([]byte("other payload"), sig, pub)
	if bad.Verified() {
		t.Fatalf("expected sealed verification to report false for mismatched payload")
	}
}
