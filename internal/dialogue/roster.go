// Package dialogue checks and parses "<speaker>: <utterance>" scripts.
package dialogue

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Speaker is one roster entry. Label is the canonical name written into scripts;
// aliases (slot IDs such as "S1" or "Speaker 1") resolve to it.
type Speaker struct {
	Label   string
	Aliases []string
}

// Roster is the ordered, case-insensitive set of allowed speaker labels.
type Roster struct {
	labels []string
	index  map[string]string
	// turn matches a line opening with any label or alias, taken literally.
	turn *regexp.Regexp
}

// NewRoster builds a roster. Later entries never shadow an earlier label or alias.
func NewRoster(speakers ...Speaker) Roster {
	r := Roster{index: make(map[string]string)}
	for _, s := range speakers {
		label := strings.TrimSpace(s.Label)
		if label == "" {
			continue
		}
		if _, dup := r.index[normalizeLabel(label)]; dup {
			continue
		}
		r.labels = append(r.labels, label)
		r.index[normalizeLabel(label)] = label
		for _, alias := range s.Aliases {
			key := normalizeLabel(alias)
			if key == "" {
				continue
			}
			if _, taken := r.index[key]; !taken {
				r.index[key] = label
			}
		}
	}
	r.turn = turnPattern(r.index)
	return r
}

// turnPattern builds "<label>: <utterance>" with every roster key as a literal
// alternative, longest first so "Dr. Sakura Jr" wins over "Dr. Sakura".
func turnPattern(index map[string]string) *regexp.Regexp {
	if len(index) == 0 {
		return nil
	}
	keys := make([]string, 0, len(index))
	for key := range index {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	alts := make([]string, len(keys))
	for i, key := range keys {
		words := strings.Fields(key)
		for j, w := range words {
			words[j] = regexp.QuoteMeta(w)
		}
		alts[i] = strings.Join(words, `\s+`)
	}
	return regexp.MustCompile(`(?i)^\s*(?:[-*]\s+)?(?:\*\*)?(` + strings.Join(alts, "|") + `)(?:\*\*)?\s*[:：](?:\*\*)?\s*(.*)$`)
}

// matchTurn splits a line that opens with a roster label into the canonical
// label and the rest of the line.
func (r Roster) matchTurn(line string) (label, rest string, ok bool) {
	if r.turn == nil {
		return "", "", false
	}
	m := r.turn.FindStringSubmatch(line)
	if m == nil {
		return "", "", false
	}
	label, ok = r.Resolve(m[1])
	return label, m[2], ok
}

// SlotAliases returns the conventional aliases of the n-th (1-based) slot.
func SlotAliases(id string, n int) []string {
	aliases := []string{
		fmt.Sprintf("Speaker %d", n),
		fmt.Sprintf("Speaker%d", n),
		fmt.Sprintf("スピーカー%d", n),
		fmt.Sprintf("話者%d", n),
	}
	if id != "" {
		aliases = append(aliases, id)
	}
	return aliases
}

// Resolve maps a label or alias to its canonical label.
func (r Roster) Resolve(label string) (string, bool) {
	canonical, ok := r.index[normalizeLabel(label)]
	return canonical, ok
}

// Labels returns canonical labels in roster order.
func (r Roster) Labels() []string {
	return append([]string(nil), r.labels...)
}

func (r Roster) Len() int { return len(r.labels) }

func normalizeLabel(label string) string {
	return strings.ToLower(strings.Join(strings.Fields(label), " "))
}
