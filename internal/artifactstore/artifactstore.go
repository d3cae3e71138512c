// Package artifactstore implements the content-addressed artifact store: an
// opaque content-address to bytes mapping keyed by SHA-256, layered on an
// OCI content store so artifacts can be pushed to or pulled from a registry
// using the same digest the ledger already carries.
package artifactstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	digest "github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2/content/file"

	"github.com/nikodemus-eth/corvusforge/internal/hashing"
)

// indexFileName is the sidecar index this package maintains alongside the
// OCI content store. file.Store has no durable descriptor index of its own
// when blobs are pushed without manifests or tags, so Put's media type and
// size would otherwise be lost across a restart.
const indexFileName = "corvusforge-index.json"

// indexEntry is the on-disk shape of one known descriptor.
type indexEntry struct {
	MediaType string `json:"media_type"`
	Size      int64  `json:"size"`
}

// ErrArtifactIntegrity is returned when bytes read back from the store do
// not hash to the content address they were stored under.
type ErrArtifactIntegrity struct {
	Address string
}

func (e *ErrArtifactIntegrity) Error() string {
	return fmt.Sprintf("artifact store: content %s failed integrity verification on read", e.Address)
}

// Artifact is an immutable content-addressed blob. Its identity is its
// ContentAddress; construction computes that address, there is no separate
// seal step.
type Artifact struct {
	ContentAddress string
	SizeBytes      int64
	MediaType      string
	Bytes          []byte
}

func contentAddress(b []byte) string {
	return hashing.Sha256Hex(b)
}

// Store is a content-addressed byte store. put is idempotent — a second put
// of identical bytes returns the same address without rewriting. get
// re-verifies the SHA-256 on every read.
type Store struct {
	mu      sync.RWMutex
	dir     string
	backing *file.Store
	known   map[string]ocispec.Descriptor
}

// Open creates or opens a Store rooted at dir. dir is created if absent. If
// dir already holds a sidecar index from a prior process, every entry it
// names is hydrated into known so Get and ListByMediaType see the full
// history immediately, without the caller re-Putting anything.
func Open(dir string) (*Store, error) {
	fs, err := file.New(dir)
	if err != nil {
		return nil, fmt.Errorf("artifact store: open %s: %w", dir, err)
	}
	s := &Store{
		dir:     dir,
		backing: fs,
		known:   make(map[string]ocispec.Descriptor),
	}
	if err := s.loadIndex(); err != nil {
		return nil, fmt.Errorf("artifact store: load index for %s: %w", dir, err)
	}
	return s, nil
}

func (s *Store) indexPath() string {
	return filepath.Join(s.dir, indexFileName)
}

// loadIndex populates known from the sidecar index file, if one exists. A
// missing index is not an error: it means dir is freshly created or
// predates this package's index sidecar.
func (s *Store) loadIndex() error {
	b, err := os.ReadFile(s.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var raw map[string]indexEntry
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("decode index: %w", err)
	}

	for address, entry := range raw {
		d := digest.NewDigestFromEncoded(digest.SHA256, address)
		s.known[address] = ocispec.Descriptor{
			MediaType: entry.MediaType,
			Digest:    d,
			Size:      entry.Size,
		}
	}
	return nil
}

// persistIndexLocked writes the current known map to the sidecar index.
// Callers must hold s.mu for writing.
func (s *Store) persistIndexLocked() error {
	raw := make(map[string]indexEntry, len(s.known))
	for address, desc := range s.known {
		raw[address] = indexEntry{MediaType: desc.MediaType, Size: desc.Size}
	}

	b, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	if err := os.WriteFile(s.indexPath(), b, 0o644); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	return nil
}

// Close releases resources held by the store.
func (s *Store) Close() error {
	return s.backing.Close()
}

// Put writes bytes under their content address, idempotently. media_type is
// recorded as the OCI descriptor's media type; it is metadata only and does
// not participate in the address.
func (s *Store) Put(ctx context.Context, b []byte, mediaType string) (string, error) {
	address := contentAddress(b)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.known[address]; ok {
		return address, nil
	}

	d := digest.NewDigestFromEncoded(digest.SHA256, address)
	desc := ocispec.Descriptor{
		MediaType: mediaType,
		Digest:    d,
		Size:      int64(len(b)),
	}

	exists, err := s.backing.Exists(ctx, desc)
	if err != nil {
		return "", fmt.Errorf("artifact store: check existing content %s: %w", address, err)
	}
	if !exists {
		if err := s.backing.Push(ctx, desc, bytes.NewReader(b)); err != nil {
			return "", fmt.Errorf("artifact store: write content %s: %w", address, err)
		}
	}

	s.known[address] = desc
	if err := s.persistIndexLocked(); err != nil {
		return "", fmt.Errorf("artifact store: persist index for %s: %w", address, err)
	}
	return address, nil
}

// ListByMediaType returns every known artifact whose descriptor's media
// type equals mediaType, in no particular order. Used by callers layered
// on top of the store (the waiver manager, in particular) to rebuild their
// own derived indexes on construction rather than keep a second durable
// copy of the same data.
func (s *Store) ListByMediaType(ctx context.Context, mediaType string) ([]Artifact, error) {
	s.mu.RLock()
	addresses := make([]string, 0, len(s.known))
	for address, desc := range s.known {
		if desc.MediaType == mediaType {
			addresses = append(addresses, address)
		}
	}
	s.mu.RUnlock()

	out := make([]Artifact, 0, len(addresses))
	for _, address := range addresses {
		a, err := s.Get(ctx, address)
		if err != nil {
			return nil, fmt.Errorf("artifact store: list media type %s: %w", mediaType, err)
		}
		out = append(out, a)
	}
	return out, nil
}

// Get reads the artifact at address and re-verifies its SHA-256 before
// returning it.
func (s *Store) Get(ctx context.Context, address string) (Artifact, error) {
	s.mu.RLock()
	desc, ok := s.known[address]
	s.mu.RUnlock()
	if !ok {
		return Artifact{}, fmt.Errorf("artifact store: unknown content address %s", address)
	}

	rc, err := s.backing.Fetch(ctx, desc)
	if err != nil {
		return Artifact{}, fmt.Errorf("artifact store: fetch %s: %w", address, err)
	}
	defer rc.Close()

	b, err := io.ReadAll(rc)
	if err != nil {
		return Artifact{}, fmt.Errorf("artifact store: read %s: %w", address, err)
	}

	if contentAddress(b) != address {
		return Artifact{}, &ErrArtifactIntegrity{Address: address}
	}

	return Artifact{
		ContentAddress: address,
		SizeBytes:      int64(len(b)),
		MediaType:      desc.MediaType,
		Bytes:          b,
	}, nil
}

// Verify reports whether address round-trips through Get without an
// integrity error. It never returns an error itself.
func (s *Store) Verify(ctx context.Context, address string) bool {
	_, err := s.Get(ctx, address)
	return err == nil
}
