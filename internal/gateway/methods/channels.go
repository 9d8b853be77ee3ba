// Package methods implements the gateway RPC method handlers.
package methods

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/nextlevelbuilder/chatgate/internal/channels"
	"github.com/nextlevelbuilder/chatgate/internal/gateway"
	"github.com/nextlevelbuilder/chatgate/pkg/protocol"
)

// ChannelsMethods handles the channels.* method family.
type ChannelsMethods struct {
	manager *channels.Manager
}

func NewChannelsMethods(manager *channels.Manager) *ChannelsMethods {
	return &ChannelsMethods{manager: manager}
}

func (m *ChannelsMethods) Register(router *gateway.MethodRouter) {
	router.Register(protocol.MethodChannelsList, m.handleList)
	router.Register(protocol.MethodChannelsStatus, m.handleStatus)
	router.Register(protocol.MethodChannelsCapabilities, m.handleCapabilities)
	router.Register(protocol.MethodChannelsStart, m.handleStart)
	router.Register(protocol.MethodChannelsStop, m.handleStop)
	router.Register(protocol.MethodChannelsLogs, m.handleLogs)
	router.Register(protocol.MethodChannelsProbe, m.handleProbe)
	router.Register(protocol.MethodChannelsResolve, m.handleResolve)
}

func (m *ChannelsMethods) handleList(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	configs := m.manager.LoadConfigs()
	out := make([]map[string]interface{}, 0, len(configs))
	for _, cfg := range configs {
		out = append(out, map[string]interface{}{
			"channel": cfg.Channel,
			"enabled": cfg.Enabled,
		})
	}

	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"channels": out,
	}))
}

func (m *ChannelsMethods) handleStatus(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params struct {
		Channel string `json:"channel"`
	}
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}

	if params.Channel != "" {
		status, err := m.manager.Status(params.Channel)
		if err != nil {
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrNotFound, err.Error()))
			return
		}
		client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
			"channels": map[string]channels.Status{params.Channel: status},
		}))
		return
	}

	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"channels": m.manager.StatusAll(),
	}))
}

func (m *ChannelsMethods) handleCapabilities(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"capabilities": m.manager.Capabilities(),
	}))
}

func (m *ChannelsMethods) handleStart(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params struct {
		Channel string `json:"channel"`
	}
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}
	if params.Channel == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "channel is required"))
		return
	}

	if err := m.manager.StartChannel(ctx, params.Channel); err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, startErrorCode(err), err.Error()))
		return
	}

	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"started": params.Channel,
	}))
}

func (m *ChannelsMethods) handleStop(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params struct {
		Channel string `json:"channel"`
	}
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}
	if params.Channel == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "channel is required"))
		return
	}

	if err := m.manager.StopChannel(ctx, params.Channel); err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, startErrorCode(err), err.Error()))
		return
	}

	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"stopped": params.Channel,
	}))
}

func (m *ChannelsMethods) handleLogs(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params struct {
		Channel string `json:"channel"`
		Limit   int    `json:"limit"`
	}
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}

	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"entries": m.manager.Logs(params.Channel, params.Limit),
	}))
}

func (m *ChannelsMethods) handleProbe(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params struct {
		Channel string                `json:"channel"`
		Options channels.ProbeOptions `json:"options"`
	}
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}
	if params.Channel == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "channel is required"))
		return
	}

	result, err := m.manager.Probe(ctx, params.Channel, params.Options)
	if err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrNotFound, err.Error()))
		return
	}

	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"result": result,
	}))
}

func (m *ChannelsMethods) handleResolve(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params struct {
		Channel string   `json:"channel"`
		Entries []string `json:"entries"`
		Kind    string   `json:"kind"`
	}
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}
	if params.Channel == "" || len(params.Entries) == 0 {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "channel and entries are required"))
		return
	}

	targets, err := m.manager.ResolveTargets(ctx, params.Channel, params.Entries, params.Kind)
	if err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrNotFound, err.Error()))
		return
	}

	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"targets": targets,
	}))
}

func startErrorCode(err error) string {
	switch {
	case errors.Is(err, channels.ErrUnknownChannel):
		return protocol.ErrNotFound
	case errors.Is(err, channels.ErrNoConfig):
		return protocol.ErrFailedPrecondition
	default:
		return protocol.ErrUnavailable
	}
}
