package domain

// ConnectionStatus is the session-scoped transport connection state exposed
// to consumers. It is the only connection detail that crosses the engine
// boundary; transient network noise stays internal.
//
// Transitions: disconnected -> connecting -> connected
// -> { reconnecting -> connected | error (terminal) }.
// A manual stop forces disconnected and suppresses further transitions.
type ConnectionStatus string

const (
	ConnDisconnected ConnectionStatus = "disconnected"
	ConnConnecting   ConnectionStatus = "connecting"
	ConnConnected    ConnectionStatus = "connected"
	ConnReconnecting ConnectionStatus = "reconnecting"
	ConnError        ConnectionStatus = "error"
)
