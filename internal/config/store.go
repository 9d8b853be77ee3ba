package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/titanous/json5"
)

// Store is the file-backed channel configuration store. The config file is
// a JSON array of ChannelConfig records, rewritten wholesale on every update.
// Reads of a corrupt or missing file yield an empty collection; writes are
// best-effort (errors are logged and swallowed).
type Store struct {
	path    string
	mu      sync.Mutex
	configs []ChannelConfig
	loaded  bool
}

// NewStore creates a config store persisting to path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Load reads and normalizes all channel configs from disk. A missing or
// unparseable file is treated as "no configuration yet".
func (s *Store) Load() []ChannelConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()
	return s.snapshotLocked()
}

// List returns all configs, loading from disk on first use.
func (s *Store) List() []ChannelConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		s.loadLocked()
	}
	return s.snapshotLocked()
}

// Get returns the config for a channel, or false if it was never configured.
func (s *Store) Get(channel string) (ChannelConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		s.loadLocked()
	}
	for _, cfg := range s.configs {
		if cfg.Channel == channel {
			return cfg, true
		}
	}
	return ChannelConfig{}, false
}

// Update merges patch into the channel's config (creating it if absent),
// re-normalizes, persists, and returns the resulting config.
func (s *Store) Update(channel string, patch Patch) (ChannelConfig, error) {
	if !IsKnownChannel(channel) {
		return ChannelConfig{}, fmt.Errorf("unknown channel %q", channel)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		s.loadLocked()
	}

	idx := -1
	for i, cfg := range s.configs {
		if cfg.Channel == channel {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.configs = append(s.configs, ChannelConfig{Channel: channel})
		idx = len(s.configs) - 1
	}

	cfg := &s.configs[idx]
	applyPatch(cfg, patch)
	Normalize(cfg)

	s.persistLocked()
	return *cfg, nil
}

// SetEnabled flips the enabled flag and persists. Used by the manager after
// a successful start/stop.
func (s *Store) SetEnabled(channel string, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		s.loadLocked()
	}
	for i := range s.configs {
		if s.configs[i].Channel == channel {
			s.configs[i].Enabled = enabled
			s.persistLocked()
			return
		}
	}
}

func applyPatch(cfg *ChannelConfig, patch Patch) {
	if patch.Enabled != nil {
		cfg.Enabled = *patch.Enabled
	}
	if patch.Token != nil {
		cfg.Token = *patch.Token
	}
	if len(patch.Extra) > 0 {
		if cfg.Extra == nil {
			cfg.Extra = make(map[string]string, len(patch.Extra))
		}
		for k, v := range patch.Extra {
			if v == "" {
				delete(cfg.Extra, k)
			} else {
				cfg.Extra[k] = v
			}
		}
	}
	if patch.DMPolicy != nil {
		cfg.DMPolicy = *patch.DMPolicy
	}
	if patch.AllowDMs != nil {
		cfg.AllowDMs = patch.AllowDMs
	}
	if patch.AllowGroups != nil {
		cfg.AllowGroups = patch.AllowGroups
	}
	if patch.AllowFrom != nil {
		cfg.AllowFrom = patch.AllowFrom
	}
	if patch.BlockFrom != nil {
		cfg.BlockFrom = patch.BlockFrom
	}
	if patch.RateLimitPerMin != nil {
		cfg.RateLimitPerMin = *patch.RateLimitPerMin
	}
	if patch.MediaMaxBytes != nil {
		cfg.MediaMaxBytes = *patch.MediaMaxBytes
	}
}

func (s *Store) loadLocked() {
	s.loaded = true
	s.configs = nil

	data, err := os.ReadFile(s.path)
	if err != nil {
		return // no config yet
	}

	var configs []ChannelConfig
	if err := json5.Unmarshal(data, &configs); err != nil {
		slog.Warn("config: unparseable file, starting empty", "path", s.path, "error", err)
		return
	}

	for i := range configs {
		if !IsKnownChannel(configs[i].Channel) {
			continue
		}
		Normalize(&configs[i])
		s.configs = append(s.configs, configs[i])
	}
}

func (s *Store) persistLocked() {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		slog.Error("config: failed to create dir", "error", err)
		return
	}
	data, err := json.MarshalIndent(s.configs, "", "  ")
	if err != nil {
		slog.Error("config: failed to marshal", "error", err)
		return
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		slog.Error("config: failed to write", "path", s.path, "error", err)
	}
}

func (s *Store) snapshotLocked() []ChannelConfig {
	out := make([]ChannelConfig, len(s.configs))
	copy(out, s.configs)
	return out
}
