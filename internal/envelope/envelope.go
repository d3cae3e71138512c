// Package envelope implements the Envelope Validator: rejection of
// malformed messages before they reach the ledger or the sink dispatcher.
package envelope

import (
	"encoding/json"
	"fmt"

	"github.com/nikodemus-eth/corvusforge/internal/hashing"
)

// Kind is one of the six envelope kinds the validator accepts.
type Kind string

const (
	KindWorkOrder     Kind = "WorkOrder"
	KindEvent         Kind = "Event"
	KindArtifact      Kind = "Artifact"
	KindClarification Kind = "Clarification"
	KindFailure       Kind = "Failure"
	KindResponse      Kind = "Response"
)

var validKinds = map[Kind]bool{
	KindWorkOrder:     true,
	KindEvent:         true,
	KindArtifact:      true,
	KindClarification: true,
	KindFailure:       true,
	KindResponse:      true,
}

// defaultAcceptedSchemaVersions is the set of schema_version strings a
// validator accepts when NewValidator is given none of its own.
var defaultAcceptedSchemaVersions = map[string]bool{"1": true}

// Envelope is a validated wire message.
type Envelope struct {
	EnvelopeID        string
	RunID             string
	SourceNodeID      string
	DestinationNodeID string
	EnvelopeKind      Kind
	PayloadHash       string
	TimestampUTC      string
	SchemaVersion     string
	Payload           any
}

// ErrEnvelopeValidation reports why raw bytes were rejected.
type ErrEnvelopeValidation struct {
	Reason string
}

func (e *ErrEnvelopeValidation) Error() string {
	return fmt.Sprintf("envelope validation failed: %s", e.Reason)
}

func rejected(format string, args ...any) error {
	return &ErrEnvelopeValidation{Reason: fmt.Sprintf(format, args...)}
}

// Validator parses and validates raw envelope bytes.
type Validator struct {
	acceptedSchemaVersions map[string]bool
}

// NewValidator constructs a Validator accepting the given schema versions.
// If acceptedSchemaVersions is empty, the default set ({"1"}) is used.
func NewValidator(acceptedSchemaVersions ...string) *Validator {
	v := &Validator{acceptedSchemaVersions: make(map[string]bool)}
	if len(acceptedSchemaVersions) == 0 {
		for k := range defaultAcceptedSchemaVersions {
			v.acceptedSchemaVersions[k] = true
		}
		return v
	}
	for _, sv := range acceptedSchemaVersions {
		v.acceptedSchemaVersions[sv] = true
	}
	return v
}

// Validate parses raw as JSON and validates it as an Envelope. Non-object
// JSON (arrays, scalars, null) is rejected before any field access.
func (v *Validator) Validate(raw []byte) (Envelope, error) {
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return Envelope{}, rejected("payload is not valid JSON: %v", err)
	}

	obj, ok := generic.(map[string]any)
	if !ok {
		return Envelope{}, rejected("payload is not a JSON object")
	}

	kindRaw, ok := obj["envelope_kind"]
	if !ok {
		return Envelope{}, rejected("envelope_kind is missing")
	}
	kindStr, ok := kindRaw.(string)
	if !ok || !validKinds[Kind(kindStr)] {
		return Envelope{}, rejected("envelope_kind %v is not one of the six accepted kinds", kindRaw)
	}

	requiredStringFields := []string{"envelope_id", "run_id", "source_node_id", "destination_node_id", "payload_hash", "timestamp_utc", "schema_version"}
	values := make(map[string]string, len(requiredStringFields))
	for _, field := range requiredStringFields {
		raw, ok := obj[field]
		if !ok {
			return Envelope{}, rejected("required field %q is missing", field)
		}
		s, ok := raw.(string)
		if !ok {
			return Envelope{}, rejected("required field %q must be a string", field)
		}
		values[field] = s
	}

	if !v.acceptedSchemaVersions[values["schema_version"]] {
		return Envelope{}, rejected("schema_version %q is not accepted", values["schema_version"])
	}

	payload := obj["payload"]
	canonicalPayload, err := hashing.CanonicalSha256Hex(payload)
	if err != nil {
		return Envelope{}, rejected("payload cannot be canonicalized: %v", err)
	}
	if canonicalPayload != values["payload_hash"] {
		return Envelope{}, rejected("payload_hash does not equal sha256_hex(canonical_bytes(payload))")
	}

	return Envelope{
		EnvelopeID:        values["envelope_id"],
		RunID:             values["run_id"],
		SourceNodeID:      values["source_node_id"],
		DestinationNodeID: values["destination_node_id"],
		EnvelopeKind:      Kind(kindStr),
		PayloadHash:       values["payload_hash"],
		TimestampUTC:      values["timestamp_utc"],
		SchemaVersion:     values["schema_version"],
		Payload:           payload,
	}, nil
}
