// Package ledger implements the Run Ledger: an append-only, hash-chained
// log of stage transitions with external anchor export/verify. append is
// the only write path; every other operation reads back what append
// already committed.
package ledger

import (
	"time"

	"github.com/nikodemus-eth/corvusforge/internal/hashing"
)

// TrustContextVersion is the current version tag stamped on every entry's
// trust context.
const TrustContextVersion = "1"

// Entry is a single frozen ledger record. Construction via NewEntry computes
// PayloadHash as part of finalization; EntryHash and PreviousEntryHash are
// filled in by the ledger at append time, since they depend on chain state
// the entry itself does not know about.
type Entry struct {
	EntryID   string
	RunID     string
	StageID   string
	FromState string
	ToState   string
	Timestamp time.Time

	InputHash  string
	OutputHash string

	ArtifactRefs []string
	WaiverRefs   []string

	PipelineVersion   string
	SchemaVersion     string
	ToolchainVersion  string
	RulesetVersions   map[string]string
	TrustContext      map[string]string
	TrustContextVersion string

	PayloadHash string

	PreviousEntryHash string
	EntryHash         string
}

// NewEntryParams are the caller-supplied fields of an entry; everything
// else (PayloadHash, chain hashes) is derived.
type NewEntryParams struct {
	EntryID           string
	RunID             string
	StageID           string
	FromState         string
	ToState           string
	Timestamp         time.Time
	InputHash         string
	OutputHash        string
	ArtifactRefs      []string
	WaiverRefs        []string
	PipelineVersion   string
	SchemaVersion     string
	ToolchainVersion  string
	RulesetVersions   map[string]string
	TrustContext      map[string]string
	Payload           any
}

// NewEntry constructs an unsealed Entry: every field is populated except
// the chain hashes, which only the ledger's append path can compute.
func NewEntry(p NewEntryParams) (Entry, error) {
	payloadHash, err := hashing.CanonicalSha256Hex(p.Payload)
	if err != nil {
		return Entry{}, err
	}

	artifactRefs := p.ArtifactRefs
	if artifactRefs == nil {
		artifactRefs = []string{}
	}
	waiverRefs := p.WaiverRefs
	if waiverRefs == nil {
		waiverRefs = []string{}
	}
	rulesets := p.RulesetVersions
	if rulesets == nil {
		rulesets = map[string]string{}
	}
	trust := p.TrustContext
	if trust == nil {
		trust = map[string]string{}
	}

	return Entry{
		EntryID:             p.EntryID,
		RunID:               p.RunID,
		StageID:             p.StageID,
		FromState:           p.FromState,
		ToState:             p.ToState,
		Timestamp:           p.Timestamp,
		InputHash:           p.InputHash,
		OutputHash:          p.OutputHash,
		ArtifactRefs:        artifactRefs,
		WaiverRefs:          waiverRefs,
		PipelineVersion:     p.PipelineVersion,
		SchemaVersion:       p.SchemaVersion,
		ToolchainVersion:    p.ToolchainVersion,
		RulesetVersions:     rulesets,
		TrustContext:        trust,
		TrustContextVersion: TrustContextVersion,
		PayloadHash:         payloadHash,
	}, nil
}

// hashFields is the canonical mapping hashed to produce EntryHash: every
// field of the entry except EntryHash itself. internal/hashing sorts map
// keys during canonicalization, so no explicit field ordering is required
// here for determinism — only completeness.
func (e Entry) hashFields() map[string]any {
	return map[string]any{
		"entry_id":              e.EntryID,
		"run_id":                e.RunID,
		"stage_id":              e.StageID,
		"state_transition_from": e.FromState,
		"state_transition_to":   e.ToState,
		"timestamp_utc":         formatTimestamp(e.Timestamp),
		"input_hash":            e.InputHash,
		"output_hash":           e.OutputHash,
		"artifact_refs":         toAnySlice(e.ArtifactRefs),
		"waiver_refs":           toAnySlice(e.WaiverRefs),
		"pipeline_version":      e.PipelineVersion,
		"schema_version":        e.SchemaVersion,
		"toolchain_version":     e.ToolchainVersion,
		"ruleset_versions":      toAnyMap(e.RulesetVersions),
		"trust_context":         toAnyMap(e.TrustContext),
		"trust_context_version": e.TrustContextVersion,
		"payload_hash":          e.PayloadHash,
		"previous_entry_hash":   e.PreviousEntryHash,
	}
}

// seal computes EntryHash from the entry's current fields, given
// previousEntryHash as determined by the ledger's append path.
func (e Entry) seal(previousEntryHash string) (Entry, error) {
	e.PreviousEntryHash = previousEntryHash
	h, err := hashing.CanonicalSha256Hex(e.hashFields())
	if err != nil {
		return Entry{}, err
	}
	e.EntryHash = h
	return e, nil
}

// recomputeHash recomputes the hash an entry SHOULD carry given its current
// field values and stated PreviousEntryHash, without mutating the entry.
// Used by verify_chain to detect tampering.
func (e Entry) recomputeHash() (string, error) {
	return hashing.CanonicalSha256Hex(e.hashFields())
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000Z")
}

func toAnySlice(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}

func toAnyMap(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
