// Package keyhash computes the stable request fingerprint described in
// spec.md §3/§4.5: a deterministic hex digest of a structured value where
// map keys are order-independent, sequences are treated as unordered
// sets, function-valued fields are stripped, and a process-scoped salt is
// mixed in under a reserved key no caller can collide with.
package keyhash

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"reflect"
	"sort"
)

// saltKey is the reserved map key the salt is mixed in under. It begins
// with a null byte so no JSON-derived map key (which can never contain
// one) can ever collide with it.
const saltKey = "\x00salt"

// Hasher produces fingerprints for a fixed algorithm and salt.
type Hasher struct {
	algorithm string
	salt      string
	newHash   func() hash.Hash
}

// New builds a Hasher for the given algorithm ("sha256" or "sha512") and
// process-scoped salt (see spec.md §9's AWS_LAMBDA_FUNCTION_NAME note).
func New(algorithm, salt string) (*Hasher, error) {
	var newHash func() hash.Hash
	switch algorithm {
	case "", "sha256":
		newHash = sha256.New
	case "sha512":
		newHash = sha512.New
	default:
		return nil, fmt.Errorf("keyhash.New: unsupported algorithm %q", algorithm)
	}
	return &Hasher{algorithm: algorithm, salt: salt, newHash: newHash}, nil
}

// Fingerprint canonicalizes value and returns its hex digest. value is
// typically a map[string]any built from a connection descriptor, cache
// policy, and request data (see internal/cacheaccess). The "connection"
// key's "options" sub-field is stripped before hashing, per spec.md §3.
func (h *Hasher) Fingerprint(value any) string {
	stripped := stripConnectionOptions(deepStripFuncs(value))
	salted := map[string]any{
		"v":    stripped,
		saltKey: h.salt,
	}
	var buf []byte
	buf = appendCanonical(buf, salted)

	sum := h.newHash()
	sum.Write(buf)
	return hex.EncodeToString(sum.Sum(nil))
}

// deepStripFuncs returns a copy of v with every function-valued field (at
// any depth, in maps or slices) removed.
func deepStripFuncs(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if isFunc(val) {
				continue
			}
			out[k] = deepStripFuncs(val)
		}
		return out
	case []any:
		out := make([]any, 0, len(t))
		for _, val := range t {
			if isFunc(val) {
				continue
			}
			out = append(out, deepStripFuncs(val))
		}
		return out
	default:
		if isFunc(v) {
			return nil
		}
		return v
	}
}

func isFunc(v any) bool {
	if v == nil {
		return false
	}
	return reflect.ValueOf(v).Kind() == reflect.Func
}

// stripConnectionOptions removes connection.options from a canonicalized
// top-level value, per spec.md §3 ("a configurable connection sub-field
// ('options') excluded so that transport tuning does not affect identity").
func stripConnectionOptions(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	conn, ok := m["connection"].(map[string]any)
	if !ok {
		return v
	}
	if _, has := conn["options"]; !has {
		return v
	}
	connCopy := make(map[string]any, len(conn))
	for k, val := range conn {
		if k == "options" {
			continue
		}
		connCopy[k] = val
	}
	out := make(map[string]any, len(m))
	for k, val := range m {
		out[k] = val
	}
	out["connection"] = connCopy
	return out
}

// appendCanonical writes a self-delimiting, order-independent encoding of
// v onto buf. Maps are emitted key-sorted; slices are emitted in the
// sorted order of their own canonical encodings, so two slices containing
// the same elements in different orders encode identically (spec.md §3:
// "sequences treated as sets (order-independent)").
func appendCanonical(buf []byte, v any) []byte {
	switch t := v.(type) {
	case nil:
		return append(buf, "null"...)
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf = append(buf, '{')
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			buf = appendQuoted(buf, k)
			buf = append(buf, ':')
			buf = appendCanonical(buf, t[k])
		}
		return append(buf, '}')
	case []any:
		encoded := make([][]byte, len(t))
		for i, elem := range t {
			encoded[i] = appendCanonical(nil, elem)
		}
		sort.Slice(encoded, func(i, j int) bool {
			return string(encoded[i]) < string(encoded[j])
		})
		buf = append(buf, '[')
		for i, e := range encoded {
			if i > 0 {
				buf = append(buf, ',')
			}
			buf = append(buf, e...)
		}
		return append(buf, ']')
	case string:
		return appendQuoted(buf, t)
	case bool:
		if t {
			return append(buf, "true"...)
		}
		return append(buf, "false"...)
	case int:
		return append(buf, fmt.Sprintf("%d", t)...)
	case int64:
		return append(buf, fmt.Sprintf("%d", t)...)
	case float64:
		return append(buf, fmt.Sprintf("%g", t)...)
	default:
		// Fallback for any other concrete type: use its default formatting.
		// Reached only for caller-supplied scalar types outside the
		// JSON-like value set spec.md §3 describes.
		return append(buf, fmt.Sprintf("%v", t)...)
	}
}

func appendQuoted(buf []byte, s string) []byte {
	buf = append(buf, '"')
	for _, r := range s {
		if r == '"' || r == '\\' {
			buf = append(buf, '\\')
		}
		buf = append(buf, string(r)...)
	}
	return append(buf, '"')
}
