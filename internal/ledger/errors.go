package ledger

import "fmt"

// ErrLedgerIntegrity reports a chain integrity violation: a recomputed
// entry hash that does not match the stored hash, a previous_entry_hash
// that does not chain, or an anchor that does not match the chain it
// claims to summarize. It is never retried and never swallowed.
type ErrLedgerIntegrity struct {
	RunID   string
	Reason  string
}

func (e *ErrLedgerIntegrity) Error() string {
	return fmt.Sprintf("ledger integrity violation for run %s: %s", e.RunID, e.Reason)
}

func newIntegrityError(runID, format string, args ...any) *ErrLedgerIntegrity {
	return &ErrLedgerIntegrity{RunID: runID, Reason: fmt.Sprintf(format, args...)}
}
