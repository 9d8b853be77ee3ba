package methods

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/nextlevelbuilder/chatgate/internal/channels"
	"github.com/nextlevelbuilder/chatgate/internal/gateway"
	"github.com/nextlevelbuilder/chatgate/internal/pairing"
	"github.com/nextlevelbuilder/chatgate/pkg/protocol"
)

// PairingApproveCallback fires after an approval so the channel can notify
// the user.
type PairingApproveCallback func(ctx context.Context, channel, chatID string)

// PairingMethods handles the pairing.* method family.
type PairingMethods struct {
	manager   *channels.Manager
	onApprove PairingApproveCallback
}

func NewPairingMethods(manager *channels.Manager) *PairingMethods {
	return &PairingMethods{manager: manager}
}

// SetOnApprove sets a callback that fires after a pairing is approved.
func (m *PairingMethods) SetOnApprove(cb PairingApproveCallback) {
	m.onApprove = cb
}

func (m *PairingMethods) Register(router *gateway.MethodRouter) {
	router.Register(protocol.MethodPairingList, m.handleList)
	router.Register(protocol.MethodPairingApprove, m.handleApprove)
	router.Register(protocol.MethodPairingReject, m.handleReject)
	router.Register(protocol.MethodPairingRevoke, m.handleRevoke)
}

func (m *PairingMethods) handleList(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	requests, approvals := m.manager.ListPairing()

	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"requests":  requests,
		"approvals": approvals,
	}))
}

// resolveParams identifies a request either by ID or by channel+code.
type resolveParams struct {
	RequestID string `json:"request_id"`
	Channel   string `json:"channel"`
	Code      string `json:"code"`
	By        string `json:"by"`
}

func (p resolveParams) ref() (pairing.Ref, bool) {
	if p.RequestID != "" {
		return pairing.Ref{RequestID: p.RequestID}, true
	}
	if p.Code != "" {
		return pairing.Ref{Channel: p.Channel, Code: pairing.NormalizeCode(p.Code)}, true
	}
	return pairing.Ref{}, false
}

func (m *PairingMethods) handleApprove(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params resolveParams
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}

	ref, ok := params.ref()
	if !ok {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest,
			"request_id or code is required"))
		return
	}
	if params.By == "" {
		params.By = "operator"
	}

	approved, err := m.manager.ApprovePairing(ref, params.By)
	if err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, resolveErrorCode(err), err.Error()))
		return
	}

	// Background context: the CLI client may disconnect before the
	// notification goes out.
	if m.onApprove != nil {
		go m.onApprove(context.Background(), approved.Channel, approved.ChatID)
	}

	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"request": approved,
	}))
}

func (m *PairingMethods) handleReject(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params resolveParams
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}

	ref, ok := params.ref()
	if !ok {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest,
			"request_id or code is required"))
		return
	}
	if params.By == "" {
		params.By = "operator"
	}

	rejected, err := m.manager.RejectPairing(ref, params.By)
	if err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, resolveErrorCode(err), err.Error()))
		return
	}

	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"request": rejected,
	}))
}

func (m *PairingMethods) handleRevoke(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params struct {
		Channel string `json:"channel"`
		UserID  string `json:"user_id"`
	}
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}

	if params.Channel == "" || params.UserID == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest,
			"channel and user_id are required"))
		return
	}

	if err := m.manager.RevokePairing(params.Channel, params.UserID); err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, resolveErrorCode(err), err.Error()))
		return
	}

	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"revoked": true,
	}))
}

func resolveErrorCode(err error) string {
	var already *pairing.AlreadyResolvedError
	switch {
	case errors.As(err, &already):
		return protocol.ErrAlreadyResolved
	case errors.Is(err, pairing.ErrNotFound), errors.Is(err, pairing.ErrApprovalNotFound):
		return protocol.ErrNotFound
	default:
		return protocol.ErrInternal
	}
}
