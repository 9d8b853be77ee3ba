package channels

import (
	"context"
	"fmt"
	"strings"
)

// Confidence tiers for resolved targets.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// ResolvedTarget is the best-effort resolution of one human-entered
// identifier. Unresolvable entries are reported with Resolved=false, never
// as errors.
type ResolvedTarget struct {
	Input      string `json:"input"`
	Resolved   bool   `json:"resolved"`
	ID         string `json:"id,omitempty"`
	Confidence string `json:"confidence,omitempty"`
	Note       string `json:"note,omitempty"`
}

// ResolveTargets resolves handles, mentions and phone numbers to
// platform-native addressable IDs. Adapters implementing TargetResolver are
// consulted first; heuristics cover the rest.
func (m *Manager) ResolveTargets(ctx context.Context, channel string, entries []string, kind string) ([]ResolvedTarget, error) {
	adapter, ok := m.Adapter(channel)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, channel)
	}

	resolver, _ := adapter.(TargetResolver)

	out := make([]ResolvedTarget, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if resolver != nil {
			if target, err := resolver.ResolveTarget(ctx, entry, kind); err == nil {
				out = append(out, target)
				continue
			}
		}
		out = append(out, resolveHeuristic(entry))
	}
	return out, nil
}

// resolveHeuristic classifies an entry without touching the platform:
// numeric IDs pass through at high confidence, phone numbers are
// normalized to digits at medium, handles are reported unresolved.
func resolveHeuristic(entry string) ResolvedTarget {
	if isDigits(entry) {
		return ResolvedTarget{Input: entry, Resolved: true, ID: entry, Confidence: ConfidenceHigh}
	}

	if strings.HasPrefix(entry, "+") {
		digits := keepDigits(entry)
		if len(digits) >= 7 {
			return ResolvedTarget{
				Input: entry, Resolved: true, ID: digits,
				Confidence: ConfidenceMedium, Note: "normalized phone number",
			}
		}
	}

	// Discord-style mention: <@123456>
	if strings.HasPrefix(entry, "<@") && strings.HasSuffix(entry, ">") {
		id := strings.Trim(entry, "<@!>")
		if isDigits(id) {
			return ResolvedTarget{Input: entry, Resolved: true, ID: id, Confidence: ConfidenceHigh}
		}
	}

	if strings.HasPrefix(entry, "@") {
		return ResolvedTarget{
			Input: entry, Resolved: false, Confidence: ConfidenceLow,
			Note: "handle lookup requires a platform directory",
		}
	}

	return ResolvedTarget{
		Input: entry, Resolved: false, Confidence: ConfidenceLow,
		Note: "unrecognized identifier format",
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func keepDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
