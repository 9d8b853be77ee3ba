package protocol

// Event topics pushed from server to client.
const (
	EventChannel  = "channel"
	EventPairing  = "pairing"
	EventHealth   = "health"
	EventShutdown = "shutdown"
)

// Channel event subtypes (in payload.type)
const (
	ChannelEventMessageIn  = "message.in"
	ChannelEventMessageOut = "message.out"
	ChannelEventStarted    = "started"
	ChannelEventStopped    = "stopped"
	ChannelEventError      = "error"
)

// Pairing event subtypes (in payload.type)
const (
	PairingEventRequested = "requested"
	PairingEventResolved  = "resolved"
	PairingEventRevoked   = "revoked"
)
