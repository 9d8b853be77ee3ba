package channels

import "github.com/nextlevelbuilder/chatgate/internal/config"

// DMPolicy controls how DMs from unknown senders are handled.
type DMPolicy string

const (
	DMPolicyPairing   DMPolicy = "pairing"   // require an approved pairing
	DMPolicyAllowlist DMPolicy = "allowlist" // only allowlisted senders
	DMPolicyOpen      DMPolicy = "open"      // accept all
	DMPolicyDisabled  DMPolicy = "disabled"  // reject all DMs
)

// ResolveDMPolicy resolves the effective DM policy for a channel.
// Precedence: explicit policy field, then allowDMs=false forces disabled,
// then a non-empty allowlist implies allowlist, then the default pairing.
func ResolveDMPolicy(cfg config.ChannelConfig) DMPolicy {
	switch cfg.DMPolicy {
	case "pairing":
		return DMPolicyPairing
	case "allowlist":
		return DMPolicyAllowlist
	case "open":
		return DMPolicyOpen
	case "disabled":
		return DMPolicyDisabled
	}
	if cfg.AllowDMs != nil && !*cfg.AllowDMs {
		return DMPolicyDisabled
	}
	if len(cfg.AllowFrom) > 0 {
		return DMPolicyAllowlist
	}
	return DMPolicyPairing
}

// inList reports whether id matches an allow/block list entry.
func inList(list []string, id string) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}
