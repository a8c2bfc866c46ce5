package probe

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Build is one project record as returned by the site's API. Fields holds
// the decoded entry; Raw keeps the original text so dumps keep field order.
type Build struct {
	Fields map[string]any
	Raw    json.RawMessage
}

// Field renders a top-level field as text, "" when missing or null.
func (b *Build) Field(name string) string {
	if b == nil {
		return ""
	}
	v, ok := b.Fields[name]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// ID is the project identifier used to build candidate permalinks.
func (b *Build) ID() string {
	return b.Field("id")
}

func (b *Build) MarshalJSON() ([]byte, error) {
	if b == nil || len(b.Raw) == 0 {
		return []byte("null"), nil
	}
	return b.Raw, nil
}

func (b *Build) UnmarshalJSON(data []byte) error {
	parsed, err := parseBuild(data)
	if err != nil {
		return err
	}
	*b = *parsed
	return nil
}

// Indented returns the raw record as two-space indented JSON.
func (b *Build) Indented() (string, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, b.Raw, "", "  "); err != nil {
		return "", fmt.Errorf("indent build: %w", err)
	}
	return buf.String(), nil
}

func parseBuild(raw json.RawMessage) (*Build, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("decode build: %w", err)
	}
	if fields == nil {
		return nil, errors.New("decode build: not an object")
	}
	return &Build{Fields: fields, Raw: append(json.RawMessage(nil), raw...)}, nil
}

// extractBuilds returns the entries listed under key in an API payload.
// It fails when the body is not a JSON object or the list is empty.
func extractBuilds(body, key string) ([]json.RawMessage, error) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	raw, ok := payload[key]
	if !ok {
		return nil, fmt.Errorf("payload has no %q key", key)
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("decode %q: %w", key, err)
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("%q is empty", key)
	}
	return list, nil
}
