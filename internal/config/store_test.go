package config

import (
	"os"
	"path/filepath"
	"testing"
)

func testStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "channels.json")
	return NewStore(path), path
}

func TestStore_LoadMissingFile(t *testing.T) {
	s, _ := testStore(t)
	if configs := s.Load(); len(configs) != 0 {
		t.Errorf("missing file should yield empty configs, got %d", len(configs))
	}
}

func TestStore_LoadCorruptFile(t *testing.T) {
	s, path := testStore(t)
	if err := os.WriteFile(path, []byte("[{channel: "), 0o600); err != nil {
		t.Fatal(err)
	}

	if configs := s.Load(); len(configs) != 0 {
		t.Errorf("corrupt file should yield empty configs, got %d", len(configs))
	}

	// The store stays writable.
	token := "tok"
	if _, err := s.Update(ChannelTelegram, Patch{Token: &token}); err != nil {
		t.Errorf("Update after corrupt load: %v", err)
	}
}

func TestStore_LoadJSON5(t *testing.T) {
	s, path := testStore(t)
	// Comments and trailing commas are tolerated on read.
	raw := `[
		// main bot
		{channel: "telegram", enabled: true, token: "123:abc",},
	]`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}

	configs := s.Load()
	if len(configs) != 1 {
		t.Fatalf("configs = %d, want 1", len(configs))
	}
	if configs[0].Token != "123:abc" {
		t.Errorf("token = %q", configs[0].Token)
	}
}

func TestStore_UnknownChannelsSkipped(t *testing.T) {
	s, path := testStore(t)
	raw := `[{"channel": "carrier-pigeon"}, {"channel": "telegram"}]`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}

	configs := s.Load()
	if len(configs) != 1 || configs[0].Channel != ChannelTelegram {
		t.Errorf("unknown channels should be skipped, got %v", configs)
	}
}

func TestStore_UpdateCreatesAndPersists(t *testing.T) {
	s, path := testStore(t)

	token := "tok"
	policy := "open"
	updated, err := s.Update(ChannelTelegram, Patch{Token: &token, DMPolicy: &policy})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Token != "tok" || updated.DMPolicy != "open" {
		t.Errorf("updated = %+v", updated)
	}
	// Defaults were applied by normalization.
	if updated.RateLimitPerMin != DefaultRateLimitPerMin {
		t.Errorf("rate limit = %d, want default %d", updated.RateLimitPerMin, DefaultRateLimitPerMin)
	}
	if updated.MediaMaxBytes != DefaultMediaMaxBytes {
		t.Errorf("media ceiling = %d, want default %d", updated.MediaMaxBytes, DefaultMediaMaxBytes)
	}

	// A fresh store sees the persisted state.
	s2 := NewStore(path)
	cfg, ok := s2.Get(ChannelTelegram)
	if !ok || cfg.Token != "tok" {
		t.Errorf("persisted config = %+v, ok=%v", cfg, ok)
	}
}

func TestStore_UpdateUnknownChannel(t *testing.T) {
	s, _ := testStore(t)
	if _, err := s.Update("carrier-pigeon", Patch{}); err == nil {
		t.Error("unknown channel should be rejected")
	}
}

func TestStore_ExtraMergedKeyByKey(t *testing.T) {
	s, _ := testStore(t)

	if _, err := s.Update(ChannelSlack, Patch{Extra: map[string]string{"app_token": "xapp-1", "team": "acme"}}); err != nil {
		t.Fatal(err)
	}
	// A later patch touching one key leaves the rest alone; empty deletes.
	updated, err := s.Update(ChannelSlack, Patch{Extra: map[string]string{"app_token": "xapp-2", "team": ""}})
	if err != nil {
		t.Fatal(err)
	}

	if updated.Extra["app_token"] != "xapp-2" {
		t.Errorf("app_token = %q, want xapp-2", updated.Extra["app_token"])
	}
	if _, exists := updated.Extra["team"]; exists {
		t.Error("empty patch value should delete the key")
	}
}

func TestStore_SetEnabled(t *testing.T) {
	s, _ := testStore(t)
	token := "tok"
	if _, err := s.Update(ChannelTelegram, Patch{Token: &token}); err != nil {
		t.Fatal(err)
	}

	s.SetEnabled(ChannelTelegram, true)
	cfg, _ := s.Get(ChannelTelegram)
	if !cfg.Enabled {
		t.Error("enabled should persist")
	}
}

func TestNormalize_DedupesLists(t *testing.T) {
	cfg := ChannelConfig{
		Channel:   ChannelTelegram,
		AllowFrom: []string{" u1 ", "u2", "u1", "", "u2"},
		BlockFrom: []string{"", "  "},
	}
	Normalize(&cfg)

	if len(cfg.AllowFrom) != 2 || cfg.AllowFrom[0] != "u1" || cfg.AllowFrom[1] != "u2" {
		t.Errorf("AllowFrom = %v, want [u1 u2]", cfg.AllowFrom)
	}
	if cfg.BlockFrom != nil {
		t.Errorf("BlockFrom = %v, want nil", cfg.BlockFrom)
	}
}

func TestNormalize_LegacyDMPolicyMigration(t *testing.T) {
	cfg := ChannelConfig{
		Channel: ChannelTelegram,
		Extra:   map[string]string{"dmPolicy": "allowlist"},
	}
	Normalize(&cfg)
	if cfg.DMPolicy != "allowlist" {
		t.Errorf("DMPolicy = %q, want migrated allowlist", cfg.DMPolicy)
	}

	// The canonical field wins over the legacy key.
	cfg2 := ChannelConfig{
		Channel:  ChannelTelegram,
		DMPolicy: "open",
		Extra:    map[string]string{"dmPolicy": "disabled"},
	}
	Normalize(&cfg2)
	if cfg2.DMPolicy != "open" {
		t.Errorf("DMPolicy = %q, want open", cfg2.DMPolicy)
	}

	// Invalid legacy values are ignored.
	cfg3 := ChannelConfig{
		Channel: ChannelTelegram,
		Extra:   map[string]string{"dmPolicy": "bogus"},
	}
	Normalize(&cfg3)
	if cfg3.DMPolicy != "" {
		t.Errorf("DMPolicy = %q, want empty for invalid legacy value", cfg3.DMPolicy)
	}
}
