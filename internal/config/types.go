// Package config holds per-channel configuration and its file-backed store.
package config

import (
	"os"
	"path/filepath"
)

// Known channel identifiers.
const (
	ChannelTelegram = "telegram"
	ChannelDiscord  = "discord"
	ChannelSlack    = "slack"
	ChannelWhatsApp = "whatsapp"
)

// KnownChannels lists every supported platform identifier.
var KnownChannels = []string{ChannelTelegram, ChannelDiscord, ChannelSlack, ChannelWhatsApp}

// IsKnownChannel reports whether id names a supported platform.
func IsKnownChannel(id string) bool {
	for _, c := range KnownChannels {
		if c == id {
			return true
		}
	}
	return false
}

// Defaults applied during normalization.
const (
	DefaultRateLimitPerMin = 20
	DefaultMediaMaxBytes   = 25 * 1024 * 1024
)

// ChannelConfig is the persisted configuration for one channel.
// Mutated only through Store.Update; normalized on every load.
type ChannelConfig struct {
	Channel         string            `json:"channel"`
	Enabled         bool              `json:"enabled"`
	Token           string            `json:"token,omitempty"`
	Extra           map[string]string `json:"extra,omitempty"` // platform-specific fields (app_token, bridge_url, ...)
	DMPolicy        string            `json:"dm_policy,omitempty"`
	AllowDMs        *bool             `json:"allow_dms,omitempty"`
	AllowGroups     *bool             `json:"allow_groups,omitempty"`
	AllowFrom       []string          `json:"allow_from,omitempty"`
	BlockFrom       []string          `json:"block_from,omitempty"`
	RateLimitPerMin int               `json:"rate_limit_per_min,omitempty"`
	MediaMaxBytes   int64             `json:"media_max_bytes,omitempty"`
}

// Patch describes a partial update applied by Store.Update. Nil fields are
// left unchanged.
type Patch struct {
	Enabled         *bool             `json:"enabled,omitempty"`
	Token           *string           `json:"token,omitempty"`
	Extra           map[string]string `json:"extra,omitempty"` // merged key-by-key
	DMPolicy        *string           `json:"dm_policy,omitempty"`
	AllowDMs        *bool             `json:"allow_dms,omitempty"`
	AllowGroups     *bool             `json:"allow_groups,omitempty"`
	AllowFrom       []string          `json:"allow_from,omitempty"`
	BlockFrom       []string          `json:"block_from,omitempty"`
	RateLimitPerMin *int              `json:"rate_limit_per_min,omitempty"`
	MediaMaxBytes   *int64            `json:"media_max_bytes,omitempty"`
}

// DefaultDir returns the per-user chatgate data directory (~/.chatgate).
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chatgate"
	}
	return filepath.Join(home, ".chatgate")
}

// DefaultPath returns the default channel config file path.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "channels.json")
}

// DefaultPairingPath returns the default pairing state file path.
func DefaultPairingPath() string {
	return filepath.Join(DefaultDir(), "pairing.json")
}
