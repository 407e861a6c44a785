package patch

import "strings"

// MissingAnchors returns the anchors of m, other than the append sentinel,
// that do not occur in text.
func MissingAnchors(text string, m *ChangeMap) []string {
	var missing []string
	for _, k := range m.order {
		if k == AppendSentinel {
			continue
		}
		if !strings.Contains(text, k) {
			missing = append(missing, k)
		}
	}
	return missing
}

// Apply mutates text the way a document consumer does: each anchor replaces
// its first exact occurrence, an empty replacement deletes the anchor, and
// the append sentinel adds its replacement after all substitutions. Anchors
// that cannot be found are returned and leave text untouched.
func Apply(text string, m *ChangeMap) (string, []string) {
	var unmatched []string
	for _, k := range m.order {
		if k == AppendSentinel {
			continue
		}
		i := strings.Index(text, k)
		if i < 0 {
			unmatched = append(unmatched, k)
			continue
		}
		text = text[:i] + m.entries[k] + text[i+len(k):]
	}
	if tail, ok := m.entries[AppendSentinel]; ok {
		text += tail
	}
	return text, unmatched
}
