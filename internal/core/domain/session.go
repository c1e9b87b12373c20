package domain

// SessionState is the connection state of a network session.
type SessionState string

const (
	SessionConnecting   SessionState = "connecting"
	SessionConnected    SessionState = "connected"
	SessionDisconnected SessionState = "disconnected"
	SessionFailed       SessionState = "failed"
)
