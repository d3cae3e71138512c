package artifactstore

import (
	"context"
	"testing"
)

func TestPutGetRoundTrip(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	payload := []byte("release manifest contents")

	addr, err := store.Put(ctx, payload, "application/json")
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := store.Get(ctx, addr)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got.Bytes) != string(payload) {
		t.Fatalf("round trip mismatch: got %q want %q", got.Bytes, payload)
	}
	if got.ContentAddress != addr {
		t.Fatalf("content address mismatch: got %s want %s", got.ContentAddress, addr)
	}
}

func TestPutIsIdempotent(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	payload := []byte("identical artifact bytes")

	addr1, err := store.Put(ctx, payload, "text/plain")
	if err != nil {
		t.Fatalf("first put: %v", err)
	}
	addr2, err := store.Put(ctx, payload, "text/plain")
	if err != nil {
		t.Fatalf("second put: %v", err)
	}
	if addr1 != addr2 {
		t.Fatalf("expected idempotent put to return same address, got %s vs %s", addr1, addr2)
	}
}

func TestVerifyReportsTrueForStoredContent(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	addr, err := store.Put(ctx, []byte("verifiable content"), "text/plain")
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if !store.Verify(ctx, addr) {
		t.Fatalf("expected verify to succeed for stored content")
	}
}

func TestGetUnknownAddressFails(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	if _, err := store.Get(context.Background(), "deadbeef"); err == nil {
		t.Fatalf("expected error for unknown content address")
	}
}

func TestVerifyFalseForUnknownAddress(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	if store.Verify(context.Background(), "0000000000000000000000000000000000000000000000000000000000000000") {
		t.Fatalf("expected verify to fail for unknown content address")
	}
}

func TestArtifactSurvivesSimulatedRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	payload := []byte("artifact written by a prior process")

	first, err := Open(dir)
	if err != nil {
		t.Fatalf("open first store: %v", err)
	}
	addr, err := first.Put(ctx, payload, "application/vnd.corvusforge.test+json")
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close first store: %v", err)
	}

	second, err := Open(dir)
	if err != nil {
		t.Fatalf("open second store: %v", err)
	}
	defer second.Close()

	got, err := second.Get(ctx, addr)
	if err != nil {
		t.Fatalf("expected artifact put by a prior store instance to be reachable after reopen: %v", err)
	}
	if string(got.Bytes) != string(payload) {
		t.Fatalf("round trip mismatch after restart: got %q want %q", got.Bytes, payload)
	}
}

func TestListByMediaTypeReturnsMatchingArtifactsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	const mediaType = "application/vnd.corvusforge.test+json"

	first, err := Open(dir)
	if err != nil {
		t.Fatalf("open first store: %v", err)
	}
	if _, err := first.Put(ctx, []byte("one"), mediaType); err != nil {
		t.Fatalf("put one: %v", err)
	}
	if _, err := first.Put(ctx, []byte("two"), mediaType); err != nil {
		t.Fatalf("put two: %v", err)
	}
	if _, err := first.Put(ctx, []byte("other"), "text/plain"); err != nil {
		t.Fatalf("put other: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close first store: %v", err)
	}

	second, err := Open(dir)
	if err != nil {
		t.Fatalf("open second store: %v", err)
	}
	defer second.Close()

	artifacts, err := second.ListByMediaType(ctx, mediaType)
	if err != nil {
		t.Fatalf("list by media type: %v", err)
	}
	if len(artifacts) != 2 {
		t.Fatalf("expected 2 artifacts of media type %s after restart, got %d", mediaType, len(artifacts))
	}
}

func TestContentAddressIsSha256OfBytes(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	payload := []byte("address equals sha256 of bytes")
	addr, err := store.Put(context.Background(), payload, "text/plain")
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if addr != contentAddress(payload) {
		t.Fatalf("expected content address to equal sha256 hex of bytes")
	}
}
