package methods

import (
	"context"
	"encoding/json"

	"github.com/titanous/json5"

	"github.com/nextlevelbuilder/chatgate/internal/channels"
	"github.com/nextlevelbuilder/chatgate/internal/config"
	"github.com/nextlevelbuilder/chatgate/internal/gateway"
	"github.com/nextlevelbuilder/chatgate/pkg/protocol"
)

const maskedSecret = "***"

// extraSecretKeys lists Extra map keys whose values are masked in config.get
// responses.
var extraSecretKeys = map[string]bool{
	"app_token": true,
}

// ConfigMethods handles config.get and config.patch.
type ConfigMethods struct {
	store   *config.Store
	manager *channels.Manager
	cfgPath string
}

func NewConfigMethods(store *config.Store, manager *channels.Manager, cfgPath string) *ConfigMethods {
	return &ConfigMethods{store: store, manager: manager, cfgPath: cfgPath}
}

func (m *ConfigMethods) Register(router *gateway.MethodRouter) {
	router.Register(protocol.MethodConfigGet, m.handleGet)
	router.Register(protocol.MethodConfigPatch, m.handlePatch)
}

func (m *ConfigMethods) handleGet(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	configs := m.store.List()
	masked := make([]config.ChannelConfig, len(configs))
	for i, cfg := range configs {
		masked[i] = maskedCopy(cfg)
	}

	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"channels": masked,
		"path":     m.cfgPath,
	}))
}

// handlePatch merges a partial update into one channel's config. The patch
// rides as raw JSON5 so hand-written input with comments or trailing commas
// still parses.
func (m *ConfigMethods) handlePatch(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params struct {
		Channel string `json:"channel"`
		Raw     string `json:"raw"`
	}
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}

	if params.Channel == "" || params.Raw == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest,
			"channel and raw patch are required"))
		return
	}
	if !config.IsKnownChannel(params.Channel) {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrNotFound,
			"unknown channel: "+params.Channel))
		return
	}

	var patch config.Patch
	if err := json5.Unmarshal([]byte(params.Raw), &patch); err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest,
			"invalid patch: "+err.Error()))
		return
	}

	updated, err := m.manager.UpdateConfig(params.Channel, patch)
	if err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal,
			"failed to apply patch: "+err.Error()))
		return
	}

	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"channel": maskedCopy(updated),
		"path":    m.cfgPath,
	}))
}

// maskedCopy replaces secrets with a placeholder so tokens never ride back
// over the wire.
func maskedCopy(cfg config.ChannelConfig) config.ChannelConfig {
	out := cfg
	if out.Token != "" {
		out.Token = maskedSecret
	}
	if len(cfg.Extra) > 0 {
		out.Extra = make(map[string]string, len(cfg.Extra))
		for k, v := range cfg.Extra {
			if extraSecretKeys[k] && v != "" {
				out.Extra[k] = maskedSecret
			} else {
				out.Extra[k] = v
			}
		}
	}
	return out
}
