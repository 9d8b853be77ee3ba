package config

import "strings"

// legacyDMPolicyKey is the pre-1.0 location of the DM policy, kept under the
// platform-specific extra map. Normalize migrates it to the canonical fields
// when those are unset.
const legacyDMPolicyKey = "dmPolicy"

// Normalize canonicalizes a loaded or patched config in place:
//   - allow/block lists are trimmed and deduplicated, order preserved
//   - legacy extra.dmPolicy populates DMPolicy when the canonical field is empty
//   - rate limit and media ceiling fall back to defaults when unset
func Normalize(cfg *ChannelConfig) {
	cfg.AllowFrom = dedupeList(cfg.AllowFrom)
	cfg.BlockFrom = dedupeList(cfg.BlockFrom)

	if cfg.DMPolicy == "" && cfg.Extra != nil {
		if legacy := strings.TrimSpace(cfg.Extra[legacyDMPolicyKey]); legacy != "" {
			switch legacy {
			case "pairing", "allowlist", "open", "disabled":
				cfg.DMPolicy = legacy
			}
		}
	}

	if cfg.RateLimitPerMin <= 0 {
		cfg.RateLimitPerMin = DefaultRateLimitPerMin
	}
	if cfg.MediaMaxBytes <= 0 {
		cfg.MediaMaxBytes = DefaultMediaMaxBytes
	}
}

// dedupeList trims entries and removes duplicates and blanks, keeping the
// first occurrence of each value.
func dedupeList(list []string) []string {
	if len(list) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(list))
	out := make([]string, 0, len(list))
	for _, v := range list {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
