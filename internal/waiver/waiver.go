// Package waiver implements the Waiver Manager: signed gate-bypass
// artifacts with strict/permissive signature enforcement, stored through
// the content-addressed artifact store.
package waiver

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nikodemus-eth/corvusforge/internal/artifactstore"
	"github.com/nikodemus-eth/corvusforge/internal/crypto"
	"github.com/nikodemus-eth/corvusforge/internal/hashing"
	"github.com/nikodemus-eth/corvusforge/internal/metrics"
)

// WaiverMediaType is the media type artifacts register waivers under in the
// artifact store.
const WaiverMediaType = "application/vnd.corvusforge.waiver+json"

// ErrWaiverSignature reports that a waiver failed signature verification in
// strict mode, or lacked a crypto bridge in strict mode.
type ErrWaiverSignature struct {
	WaiverID string
	Reason   string
}

func (e *ErrWaiverSignature) Error() string {
	return fmt.Sprintf("waiver %s: signature rejected: %s", e.WaiverID, e.Reason)
}

// Waiver is a signed artifact authorizing bypass of a specific gate for a
// specific scope. SignatureVerified is set exclusively by Manager.Register.
type Waiver struct {
	WaiverID          string
	Scope             string
	Justification     string
	ApprovingIdentity string
	Signature         string
	IssuedAt          time.Time
	ExpiresAt         time.Time
	SignatureVerified bool

	ContentAddress string
}

// signedFields returns the canonical mapping of every field a waiver's
// signature covers — everything except Signature and SignatureVerified,
// which are not part of what is signed.
func (w Waiver) signedFields() map[string]any {
	return map[string]any{
		"waiver_id":          w.WaiverID,
		"scope":              w.Scope,
		"justification":      w.Justification,
		"approving_identity": w.ApprovingIdentity,
		"issued_at":          w.IssuedAt.UTC().Format(time.RFC3339Nano),
		"expires_at":         w.ExpiresAt.UTC().Format(time.RFC3339Nano),
	}
}

// storedFields is signedFields plus the signature and the SignatureVerified
// flag — the content address of a registered waiver is derived from these,
// including the signature, so that a re-signed waiver is a distinct artifact.
func (w Waiver) storedFields() map[string]any {
	f := w.signedFields()
	f["signature"] = w.Signature
	f["signature_verified"] = w.SignatureVerified
	return f
}

// storedWaiver is the JSON shape storedFields produces, used to decode a
// waiver artifact back out of the store on hydration.
type storedWaiver struct {
	WaiverID          string    `json:"waiver_id"`
	Scope             string    `json:"scope"`
	Justification     string    `json:"justification"`
	ApprovingIdentity string    `json:"approving_identity"`
	IssuedAt          time.Time `json:"issued_at"`
	ExpiresAt         time.Time `json:"expires_at"`
	Signature         string    `json:"signature"`
	SignatureVerified bool      `json:"signature_verified"`
}

func (sw storedWaiver) toWaiver(contentAddress string) Waiver {
	return Waiver{
		WaiverID:          sw.WaiverID,
		Scope:             sw.Scope,
		Justification:     sw.Justification,
		ApprovingIdentity: sw.ApprovingIdentity,
		Signature:         sw.Signature,
		IssuedAt:          sw.IssuedAt,
		ExpiresAt:         sw.ExpiresAt,
		SignatureVerified: sw.SignatureVerified,
		ContentAddress:    contentAddress,
	}
}

// Manager registers and queries waivers. Strict mode is fixed at
// construction and immutable for the manager's lifetime. byScope is a
// cache over waivers durably held in the artifact store; NewManager
// rebuilds it by replay so a manager constructed against a store that
// already holds waivers from a prior process (the CLI's usage pattern)
// sees them immediately.
type Manager struct {
	store  *artifactstore.Store
	chain  *crypto.Chain // nil means "crypto bridge unavailable"
	strict bool

	mu      sync.RWMutex
	byScope map[string][]Waiver
}

// NewManager constructs a Manager, hydrating byScope from every waiver
// artifact already present in store. chain may be nil to model "no crypto
// bridge available" — strict mode then always rejects registration.
func NewManager(ctx context.Context, store *artifactstore.Store, chain *crypto.Chain, strict bool) (*Manager, error) {
	m := &Manager{
		store:   store,
		chain:   chain,
		strict:  strict,
		byScope: make(map[string][]Waiver),
	}
	if err := m.hydrate(ctx); err != nil {
		return nil, fmt.Errorf("waiver: hydrate from store: %w", err)
	}
	return m, nil
}

// hydrate replays every previously registered waiver artifact in the store
// into byScope. Waivers carry no registration order of their own in the
// store, so replay order here is not guaranteed to match original
// registration order — HasValidWaiver and WaiversForScope do not depend on
// order beyond validity.
func (m *Manager) hydrate(ctx context.Context) error {
	artifacts, err := m.store.ListByMediaType(ctx, WaiverMediaType)
	if err != nil {
		return err
	}

	byScope := make(map[string][]Waiver)
	for _, a := range artifacts {
		var sw storedWaiver
		if err := json.Unmarshal(a.Bytes, &sw); err != nil {
			return fmt.Errorf("decode stored waiver %s: %w", a.ContentAddress, err)
		}
		w := sw.toWaiver(a.ContentAddress)
		byScope[w.Scope] = append(byScope[w.Scope], w)
	}

	m.mu.Lock()
	m.byScope = byScope
	m.mu.Unlock()
	return nil
}

// Strict reports whether this manager enforces strict signature mode.
func (m *Manager) Strict() bool {
	return m.strict
}

// Register verifies w's signature per the manager's mode and, on success
// (or on accepted-but-unverified in permissive mode), stores it via the
// artifact store. It returns the stored waiver with SignatureVerified set.
func (m *Manager) Register(ctx context.Context, w Waiver) (Waiver, error) {
	signedBytes, err := hashing.CanonicalBytes(w.signedFields())
	if err != nil {
		return Waiver{}, fmt.Errorf("waiver: canonicalize signed fields: %w", err)
	}

	verified := false
	switch {
	case m.chain != nil:
		verified = m.chain.VerifyData(signedBytes, w.Signature, w.ApprovingIdentity)
		if !verified {
			if m.strict {
				return Waiver{}, &ErrWaiverSignature{WaiverID: w.WaiverID, Reason: "signature did not verify"}
			}
		}
	default:
		if m.strict {
			return Waiver{}, &ErrWaiverSignature{WaiverID: w.WaiverID, Reason: "no crypto bridge available"}
		}
		// Permissive with no crypto bridge: stored unverified.
	}

	w.SignatureVerified = verified

	storedBytes, err := hashing.CanonicalBytes(w.storedFields())
	if err != nil {
		return Waiver{}, fmt.Errorf("waiver: canonicalize stored fields: %w", err)
	}
	address, err := m.store.Put(ctx, storedBytes, WaiverMediaType)
	if err != nil {
		return Waiver{}, fmt.Errorf("waiver: store artifact: %w", err)
	}
	w.ContentAddress = address

	m.mu.Lock()
	m.byScope[w.Scope] = append(m.byScope[w.Scope], w)
	m.mu.Unlock()

	metrics.RecordWaiverRegistration(verified)

	return w, nil
}

// HasValidWaiver reports whether there exists a registered waiver matching
// scope with ExpiresAt after now, and — in strict mode — with
// SignatureVerified == true.
func (m *Manager) HasValidWaiver(scope string, now time.Time) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, w := range m.byScope[scope] {
		if !w.ExpiresAt.After(now) {
			continue
		}
		if m.strict && !w.SignatureVerified {
			continue
		}
		return true
	}
	return false
}

// WaiversForScope returns every registered waiver matching scope. Waivers
// hydrated from the store come first, in no guaranteed order; waivers
// registered through this manager follow in registration order.
func (m *Manager) WaiversForScope(scope string) []Waiver {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Waiver, len(m.byScope[scope]))
	copy(out, m.byScope[scope])
	return out
}
