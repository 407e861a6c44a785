// Package patch defines the text-anchor patch protocol shared between the
// orchestrator and the document consumers that apply its change maps.
package patch

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// AppendSentinel is the reserved original value meaning "insert the
// replacement at the end of the document".
const AppendSentinel = "!ADD_TO_END!"

// Entry is one {original, replacement} edit as produced by the generator.
type Entry struct {
	Original    string `json:"original"`
	Replacement string `json:"replacement"`
}

// IsAppend reports whether the entry targets the end of the document.
func (e Entry) IsAppend() bool { return e.Original == AppendSentinel }

// IsDelete reports whether the entry removes its anchor.
func (e Entry) IsDelete() bool { return e.Replacement == "" && !e.IsAppend() }

// ChangeMap maps anchors to replacement text. Keys keep the order in which
// they were first generated; a repeated anchor overwrites the earlier value
// and is remembered in Duplicates.
type ChangeMap struct {
	order   []string
	entries map[string]string
	dups    map[string]int
}

// NewChangeMap returns an empty map.
func NewChangeMap() *ChangeMap {
	return &ChangeMap{
		entries: make(map[string]string),
		dups:    make(map[string]int),
	}
}

// Build collapses generated entries into a ChangeMap. Replacements are
// normalized with StripMarkdown; entries with an empty original are skipped
// since they cannot be located in any document.
func Build(entries []Entry) *ChangeMap {
	m := NewChangeMap()
	for _, e := range entries {
		if e.Original == "" {
			continue
		}
		m.Set(e.Original, StripMarkdown(e.Replacement))
	}
	return m
}

// Set stores replacement under original as-is. Last write wins.
func (m *ChangeMap) Set(original, replacement string) {
	if _, ok := m.entries[original]; ok {
		m.dups[original]++
	} else {
		m.order = append(m.order, original)
	}
	m.entries[original] = replacement
}

// Get returns the replacement for original.
func (m *ChangeMap) Get(original string) (string, bool) {
	r, ok := m.entries[original]
	return r, ok
}

// Len returns the number of distinct anchors.
func (m *ChangeMap) Len() int { return len(m.order) }

// Keys returns anchors in first-generated order.
func (m *ChangeMap) Keys() []string {
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Entries returns the collapsed entries in first-generated order.
func (m *ChangeMap) Entries() []Entry {
	out := make([]Entry, 0, len(m.order))
	for _, k := range m.order {
		out = append(out, Entry{Original: k, Replacement: m.entries[k]})
	}
	return out
}

// Duplicates returns anchors that were generated more than once, in
// first-generated order. Only the last replacement survived for each.
func (m *ChangeMap) Duplicates() []string {
	var out []string
	for _, k := range m.order {
		if m.dups[k] > 0 {
			out = append(out, k)
		}
	}
	return out
}

// MarshalJSON encodes the map as a JSON object whose members appear in
// first-generated order.
func (m *ChangeMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(m.entries[k])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object of anchor -> replacement, keeping the
// member order of the encoded document.
func (m *ChangeMap) UnmarshalJSON(data []byte) error {
	*m = *NewChangeMap()
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("patch: change map must be a JSON object")
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("patch: unexpected token %v", tok)
		}
		var val string
		if err := dec.Decode(&val); err != nil {
			return fmt.Errorf("patch: value for %q: %w", key, err)
		}
		m.Set(key, val)
	}
	_, err = dec.Token()
	return err
}
