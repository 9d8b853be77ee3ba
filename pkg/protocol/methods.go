package protocol

// RPC method names.
const (
	MethodConnect = "connect"
	MethodHealth  = "health"

	MethodChannelsList         = "channels.list"
	MethodChannelsStatus       = "channels.status"
	MethodChannelsCapabilities = "channels.capabilities"
	MethodChannelsStart        = "channels.start"
	MethodChannelsStop         = "channels.stop"
	MethodChannelsLogs         = "channels.logs"
	MethodChannelsProbe        = "channels.probe"
	MethodChannelsResolve      = "channels.resolve"

	MethodConfigGet   = "config.get"
	MethodConfigPatch = "config.patch"

	MethodPairingList    = "pairing.list"
	MethodPairingApprove = "pairing.approve"
	MethodPairingReject  = "pairing.reject"
	MethodPairingRevoke  = "pairing.revoke"
)
