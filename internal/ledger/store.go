package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nikodemus-eth/corvusforge/internal/crypto"
	"github.com/nikodemus-eth/corvusforge/internal/hashing"
	"github.com/nikodemus-eth/corvusforge/internal/metrics"
	"github.com/nikodemus-eth/corvusforge/internal/telemetry"
)

// Ledger is the hash-chained append-only store. append is its only write
// path; every other accessor reads back what append already committed.
// Appends are serialized per run_id via a process-wide mutex per run — a
// database row lock would also satisfy the single-writer contract, but a
// per-run in-process mutex is the minimum acceptable discipline and is
// cheap to reason about for a single-process deployment.
type Ledger struct {
	db      *sql.DB
	dialect dialect

	runLocksMu sync.Mutex
	runLocks   map[string]*sync.Mutex

	lastTimestampMu sync.Mutex
	lastTimestamp   map[string]time.Time
}

// Open opens (or creates) a ledger backed by the relational store named by
// dsn. See openBackend for DSN scheme conventions.
func Open(dsn string) (*Ledger, error) {
	db, d, err := openBackend(dsn)
	if err != nil {
		return nil, err
	}
	return &Ledger{
		db:            db,
		dialect:       d,
		runLocks:      make(map[string]*sync.Mutex),
		lastTimestamp: make(map[string]time.Time),
	}, nil
}

// Close releases the underlying database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) lockFor(runID string) *sync.Mutex {
	l.runLocksMu.Lock()
	defer l.runLocksMu.Unlock()
	m, ok := l.runLocks[runID]
	if !ok {
		m = &sync.Mutex{}
		l.runLocks[runID] = m
	}
	return m
}

// Append is the ONLY write path. It looks up the current last entry for
// entry.RunID, chains onto it, computes EntryHash, inserts the row, and
// returns the sealed entry. A failed append leaves no trace: no partial row
// is ever committed.
func (l *Ledger) Append(ctx context.Context, at time.Time, p NewEntryParams) (Entry, error) {
	ctx, span := telemetry.StartLedgerAppendSpan(ctx, p.RunID, p.StageID)

	lock := l.lockFor(p.RunID)
	lock.Lock()
	defer lock.Unlock()

	entry, err := NewEntry(p)
	if err != nil {
		telemetry.EndLedgerAppendSpan(span, "")
		return Entry{}, fmt.Errorf("ledger: build entry: %w", err)
	}
	entry.Timestamp = l.monotonicTimestamp(p.RunID, at)

	last, err := l.lastEntry(ctx, p.RunID)
	if err != nil {
		telemetry.EndLedgerAppendSpan(span, "")
		return Entry{}, fmt.Errorf("ledger: look up last entry for run %s: %w", p.RunID, err)
	}
	previousHash := ""
	if last != nil {
		previousHash = last.EntryHash
	}

	sealed, err := entry.seal(previousHash)
	if err != nil {
		telemetry.EndLedgerAppendSpan(span, "")
		return Entry{}, fmt.Errorf("ledger: seal entry: %w", err)
	}

	if err := l.insert(ctx, sealed); err != nil {
		metrics.RecordLedgerAppend("error")
		telemetry.EndLedgerAppendSpan(span, "")
		return Entry{}, fmt.Errorf("ledger: insert entry: %w", err)
	}
	metrics.RecordLedgerAppend("ok")
	telemetry.EndLedgerAppendSpan(span, sealed.EntryHash)

	return sealed, nil
}

// monotonicTimestamp clamps at forward so that, within a run, every new
// entry's timestamp is >= the previous one; on clock regression it advances
// by one microsecond past the previous timestamp instead.
func (l *Ledger) monotonicTimestamp(runID string, at time.Time) time.Time {
	l.lastTimestampMu.Lock()
	defer l.lastTimestampMu.Unlock()

	at = at.UTC()
	prev, ok := l.lastTimestamp[runID]
	if ok && !at.After(prev) {
		at = prev.Add(time.Microsecond)
	}
	l.lastTimestamp[runID] = at
	return at
}

func (l *Ledger) insert(ctx context.Context, e Entry) error {
	artifactRefs, err := json.Marshal(e.ArtifactRefs)
	if err != nil {
		return err
	}
	waiverRefs, err := json.Marshal(e.WaiverRefs)
	if err != nil {
		return err
	}
	rulesetVersions, err := json.Marshal(e.RulesetVersions)
	if err != nil {
		return err
	}
	trustContext, err := json.Marshal(e.TrustContext)
	if err != nil {
		return err
	}

	query := l.dialect.rebind(`INSERT INTO ledger_entries (
		entry_id, run_id, stage_id, from_state, to_state, timestamp_utc,
		input_hash, output_hash, artifact_refs, waiver_refs,
		pipeline_version, schema_version, toolchain_version, ruleset_versions,
		trust_context, trust_context_version, payload_hash,
		previous_entry_hash, entry_hash
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err = l.db.ExecContext(ctx, query,
		e.EntryID, e.RunID, e.StageID, e.FromState, e.ToState, formatTimestamp(e.Timestamp),
		e.InputHash, e.OutputHash, string(artifactRefs), string(waiverRefs),
		e.PipelineVersion, e.SchemaVersion, e.ToolchainVersion, string(rulesetVersions),
		string(trustContext), e.TrustContextVersion, e.PayloadHash,
		e.PreviousEntryHash, e.EntryHash,
	)
	return err
}

func (l *Ledger) lastEntry(ctx context.Context, runID string) (*Entry, error) {
	entries, err := l.entriesForRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	last := entries[len(entries)-1]
	return &last, nil
}

// EntriesForRun returns every entry for runID in insertion order.
func (l *Ledger) EntriesForRun(ctx context.Context, runID string) ([]Entry, error) {
	return l.entriesForRun(ctx, runID)
}

// ListRunIDs returns every distinct run_id that has at least one ledger
// entry, in first-seen order. Used by periodic anchor export jobs that
// need to discover what runs exist without the caller tracking them.
func (l *Ledger) ListRunIDs(ctx context.Context) ([]string, error) {
	query := l.dialect.rebind(`SELECT run_id FROM ledger_entries GROUP BY run_id ORDER BY MIN(insertion_order)`)

	rows, err := l.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var runID string
		if err := rows.Scan(&runID); err != nil {
			return nil, err
		}
		out = append(out, runID)
	}
	return out, rows.Err()
}

func (l *Ledger) entriesForRun(ctx context.Context, runID string) ([]Entry, error) {
	query := l.dialect.rebind(`SELECT
		entry_id, run_id, stage_id, from_state, to_state, timestamp_utc,
		input_hash, output_hash, artifact_refs, waiver_refs,
		pipeline_version, schema_version, toolchain_version, ruleset_versions,
		trust_context, trust_context_version, payload_hash,
		previous_entry_hash, entry_hash
	FROM ledger_entries WHERE run_id = ? ORDER BY insertion_order ASC`)

	rows, err := l.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                                     Entry
			ts, artifactRefs, waiverRefs          string
			rulesetVersions, trustContext         string
		)
		if err := rows.Scan(
			&e.EntryID, &e.RunID, &e.StageID, &e.FromState, &e.ToState, &ts,
			&e.InputHash, &e.OutputHash, &artifactRefs, &waiverRefs,
			&e.PipelineVersion, &e.SchemaVersion, &e.ToolchainVersion, &rulesetVersions,
			&trustContext, &e.TrustContextVersion, &e.PayloadHash,
			&e.PreviousEntryHash, &e.EntryHash,
		); err != nil {
			return nil, err
		}

		e.Timestamp, err = time.Parse("2006-01-02T15:04:05.000000Z", ts)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp_utc %q: %w", ts, err)
		}
		if err := json.Unmarshal([]byte(artifactRefs), &e.ArtifactRefs); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(waiverRefs), &e.WaiverRefs); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(rulesetVersions), &e.RulesetVersions); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(trustContext), &e.TrustContext); err != nil {
			return nil, err
		}

		out = append(out, e)
	}
	return out, rows.Err()
}

// VerifyChain re-reads entries for runID in order, recomputes each
// EntryHash, and checks that the recomputed hash matches the stored hash,
// that each entry's PreviousEntryHash equals the prior stored EntryHash,
// and that the first entry's PreviousEntryHash is empty.
func (l *Ledger) VerifyChain(ctx context.Context, runID string) error {
	entries, err := l.entriesForRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("ledger: read entries for run %s: %w", runID, err)
	}

	previousHash := ""
	for i, e := range entries {
		recomputed, err := e.recomputeHash()
		if err != nil {
			return fmt.Errorf("ledger: recompute hash for entry %s: %w", e.EntryID, err)
		}
		if recomputed != e.EntryHash {
			return newIntegrityError(runID, "entry %s: stored entry_hash does not match recomputed hash (tampered field)", e.EntryID)
		}
		if e.PreviousEntryHash != previousHash {
			return newIntegrityError(runID, "entry %s at position %d: previous_entry_hash does not match prior entry's entry_hash", e.EntryID, i)
		}
		previousHash = e.EntryHash
	}
	return nil
}

// Anchor is an externally witnessable checkpoint summarizing a run's chain.
type Anchor struct {
	RunID          string
	EntryCount     int
	RootHash       string
	FirstEntryHash string
	Timestamp      time.Time
	AnchorHash     string
	Signature      string
}

func (a Anchor) hashFields() map[string]any {
	return map[string]any{
		"run_id":           a.RunID,
		"entry_count":       a.EntryCount,
		"root_hash":         a.RootHash,
		"first_entry_hash":  a.FirstEntryHash,
		"timestamp_utc":     formatTimestamp(a.Timestamp),
	}
}

// ExportAnchor builds an Anchor from the current final entry of runID. A
// run with zero entries produces an anchor with EntryCount == 0 and empty
// root/first hashes. If signer is non-nil and signingKeyHex is non-empty,
// the anchor is signed over the canonical bytes of its hash fields.
func (l *Ledger) ExportAnchor(ctx context.Context, runID string, at time.Time, signer *crypto.Chain, signingKeyHex string) (Anchor, error) {
	entries, err := l.entriesForRun(ctx, runID)
	if err != nil {
		return Anchor{}, fmt.Errorf("ledger: read entries for run %s: %w", runID, err)
	}

	anchor := Anchor{
		RunID:      runID,
		EntryCount: len(entries),
		Timestamp:  at.UTC(),
	}
	if len(entries) > 0 {
		anchor.FirstEntryHash = entries[0].EntryHash
		anchor.RootHash = entries[len(entries)-1].EntryHash
	}

	anchorHash, err := hashing.CanonicalSha256Hex(anchor.hashFields())
	if err != nil {
		return Anchor{}, fmt.Errorf("ledger: hash anchor: %w", err)
	}
	anchor.AnchorHash = anchorHash

	if signer != nil && signingKeyHex != "" {
		bytesToSign, err := hashing.CanonicalBytes(anchor.hashFields())
		if err != nil {
			return Anchor{}, fmt.Errorf("ledger: canonicalize anchor for signing: %w", err)
		}
		sig, err := signer.Sign(bytesToSign, signingKeyHex)
		if err != nil {
			metrics.RecordAnchorExport("error")
			return Anchor{}, fmt.Errorf("ledger: sign anchor: %w", err)
		}
		anchor.Signature = sig
	}

	metrics.RecordAnchorExport("ok")
	return anchor, nil
}

// VerifyAgainstAnchor checks that the current chain for runID is consistent
// with a previously exported anchor: the anchor's own hash must recompute,
// the current entry count must be >= the anchor's (smaller means
// truncation), the first entry hash must still match (mismatch means
// retroactive rewrite), the entry at position entry_count-1 must match
// root_hash, and the full chain must still verify.
func (l *Ledger) VerifyAgainstAnchor(ctx context.Context, runID string, anchor Anchor) error {
	recomputed, err := hashing.CanonicalSha256Hex(anchor.hashFields())
	if err != nil {
		return fmt.Errorf("ledger: hash anchor: %w", err)
	}
	if recomputed != anchor.AnchorHash {
		return newIntegrityError(runID, "anchor_hash does not match recomputed hash")
	}

	entries, err := l.entriesForRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("ledger: read entries for run %s: %w", runID, err)
	}

	if len(entries) < anchor.EntryCount {
		return newIntegrityError(runID, "current entry count %d is smaller than anchored entry count %d (truncation)", len(entries), anchor.EntryCount)
	}

	if anchor.EntryCount > 0 {
		if len(entries) == 0 || entries[0].EntryHash != anchor.FirstEntryHash {
			return newIntegrityError(runID, "first_entry_hash no longer matches the chain (retroactive rewrite)")
		}
		if entries[anchor.EntryCount-1].EntryHash != anchor.RootHash {
			return newIntegrityError(runID, "entry at anchored position does not match root_hash")
		}
	}

	return l.VerifyChain(ctx, runID)
}
