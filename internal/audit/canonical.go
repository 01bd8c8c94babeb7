package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Canon encodes v as canonical JSON: object keys sorted, number literals
// preserved verbatim, no HTML escaping, no insignificant whitespace. The
// output is byte-identical for logically identical input regardless of the
// original key order, which makes it suitable for hashing and signing.
func Canon(v any) ([]byte, error) {
	norm, err := normalize(v)
	if err != nil {
		return nil, err
	}
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm); err != nil {
		return nil, err
	}
	return bytes.TrimSpace(buf.Bytes()), nil
}

// normalize rewrites v into the generic JSON shape Canon encodes. Map keys
// are sorted by encoding/json on marshal; numbers are carried as
// json.Number so their source representation survives the round trip.
func normalize(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			nv, err := normalize(item)
			if err != nil {
				return nil, err
			}
			out[k] = nv
		}
		return out, nil
	case []any:
		out := make([]any, 0, len(val))
		for _, item := range val {
			nv, err := normalize(item)
			if err != nil {
				return nil, err
			}
			out = append(out, nv)
		}
		return out, nil
	case json.Number, string, bool, nil:
		return val, nil
	case float64:
		// Reached only for values handed in directly (decoded JSON comes
		// through as json.Number). Re-encode to keep one representation.
		return json.Number(mustCompactNumber(val)), nil
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("canonicalize: %w", err)
		}
		decoded, err := decodeJSON(b)
		if err != nil {
			return nil, fmt.Errorf("canonicalize: %w", err)
		}
		return normalize(decoded)
	}
}

// decodeJSON parses raw JSON preserving number literals.
func decodeJSON(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func mustCompactNumber(f float64) string {
	b, _ := json.Marshal(f)
	return string(b)
}

// canonString returns the canonical JSON of v as a string, used to flatten
// object-valued event subfields into deterministic strings for transport.
func canonString(v any) (string, error) {
	b, err := Canon(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// normalizeEvent flattens an Event into its transport form: a map with
// empty fields omitted and object or array subfields replaced by their
// canonical JSON strings. The second return value is the canonical byte
// form of that map, the exact input to signing.
func normalizeEvent(e Event) (map[string]any, []byte, error) {
	out := make(map[string]any, 10)
	put := func(key, val string) {
		if val != "" {
			out[key] = val
		}
	}
	put("actor", e.Actor)
	put("action", e.Action)
	put("status", e.Status)
	put("source", e.Source)
	put("tenant_id", e.TenantID)
	put("service_name", e.ServiceName)
	for key, val := range map[string]any{
		"target":  e.Target,
		"message": e.Message,
		"old":     e.Old,
		"new":     e.New,
	} {
		if val == nil {
			continue
		}
		if s, ok := val.(string); ok {
			put(key, s)
			continue
		}
		s, err := canonString(val)
		if err != nil {
			return nil, nil, fmt.Errorf("canonicalize event %s: %w", key, err)
		}
		out[key] = s
	}
	canon, err := Canon(out)
	if err != nil {
		return nil, nil, err
	}
	return out, canon, nil
}
