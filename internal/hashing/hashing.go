// Package hashing provides canonical byte serialization and SHA-256
// digests used by every integrity-bearing record in corvusforge: ledger
// entries, anchors, artifacts, and waivers all hash through here so that
// identical logical values always produce identical bytes.
package hashing

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// CanonicalBytes returns the deterministic JSON encoding of v: object keys
// sorted, no insignificant whitespace, integers kept as integers, and any
// fractional or non-finite number rejected. Two calls with logically equal
// values always produce byte-identical output, on any platform.
func CanonicalBytes(v any) ([]byte, error) {
	// Round-trip through encoding/json first: this normalizes arbitrary Go
	// values (structs, typed slices, pointers) into the generic JSON value
	// space, and rejects NaN/Inf floats and unsupported types up front.
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: marshal: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonicalize: decode: %w", err)
	}

	var buf bytes.Buffer
	if err := encodeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case string:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("canonicalize: string: %w", err)
		}
		buf.Write(b)
		return nil
	case json.Number:
		return encodeNumber(buf, val)
	case map[string]any:
		return encodeObject(buf, val)
	case []any:
		return encodeArray(buf, val)
	default:
		return fmt.Errorf("canonicalize: unsupported value type %T", v)
	}
}

func encodeNumber(buf *bytes.Buffer, n json.Number) error {
	s := n.String()
	if strings.ContainsAny(s, ".eE") {
		return fmt.Errorf("canonicalize: floats forbidden in hashed payload (got %q)", s)
	}
	buf.WriteString(s)
	return nil
}

func encodeObject(buf *bytes.Buffer, m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return fmt.Errorf("canonicalize: key: %w", err)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		if err := encodeCanonical(buf, m[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func encodeArray(buf *bytes.Buffer, a []any) error {
	buf.WriteByte('[')
	for i, elem := range a {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeCanonical(buf, elem); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

// Sha256Hex returns the lowercase hex-encoded SHA-256 digest of b.
func Sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// CanonicalSha256Hex is a convenience combining CanonicalBytes and Sha256Hex.
func CanonicalSha256Hex(v any) (string, error) {
	b, err := CanonicalBytes(v)
	if err != nil {
		return "", err
	}
	return Sha256Hex(b), nil
}
