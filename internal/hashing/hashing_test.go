package hashing

import "testing"

func TestCanonicalBytesSortsKeys(t *testing.T) {
	a := map[string]any{"b": 1, "a": 2}
	b := map[string]any{"a": 2, "b": 1}

	ab, err := CanonicalBytes(a)
	if err != nil {
		t.Fatalf("canonicalize a: %v", err)
	}
	bb, err := CanonicalBytes(b)
	if err != nil {
		t.Fatalf("canonicalize b: %v", err)
	}
	if string(ab) != string(bb) {
		t.Fatalf("expected equal canonical bytes, got %q vs %q", ab, bb)
	}
	if string(ab) != `{"a":2,"b":1}` {
		t.Fatalf("unexpected canonical form: %s", ab)
	}
}

func TestCanonicalBytesRejectsFloats(t *testing.T) {
	if _, err := CanonicalBytes(map[string]any{"x": 1.5}); err == nil {
		t.Fatal("expected error for fractional number")
	}
}

func TestCanonicalBytesIntegersStayIntegers(t *testing.T) {
	b, err := CanonicalBytes(map[string]any{"n": 42})
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if string(b) != `{"n":42}` {
		t.Fatalf("unexpected integer encoding: %s", b)
	}
}

func TestCanonicalBytesNestedArrays(t *testing.T) {
	v := map[string]any{"list": []any{1, "two", true, nil}}
	b, err := CanonicalBytes(v)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if string(b) != `{"list":[1,"two",true,null]}` {
		t.Fatalf("unexpected array encoding: %s", b)
	}
}

func TestCanonicalBytesDeterministicRoundTrip(t *testing.T) {
	type payload struct {
		Name string         `json:"name"`
		Tags map[string]any `json:"tags"`
	}
	p := payload{Name: "s5_implementation", Tags: map[string]any{"z": 1, "a": 2}}

	first, err := CanonicalBytes(p)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	second, err := CanonicalBytes(p)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if string(first) != string(second) {
		t.Fatalf("expected deterministic output, got %q vs %q", first, second)
	}
}

func TestSha256HexKnownVector(t *testing.T) {
	// sha256("") = e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855
	got := Sha256Hex(nil)
	want := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got != want {
		t.Fatalf("sha256(\"\") = %s, want %s", got, want)
	}
}

func TestCanonicalSha256HexMatchesManualPipeline(t *testing.T) {
	v := map[string]any{"a": 1}
	direct, err := CanonicalSha256Hex(v)
	if err != nil {
		t.Fatalf("canonical sha256: %v", err)
	}
	b, err := CanonicalBytes(v)
	if err != nil {
		t.Fatalf("canonical bytes: %v", err)
	}
	if direct != Sha256Hex(b) {
		t.Fatalf("mismatch between CanonicalSha256Hex and manual pipeline")
	}
}
