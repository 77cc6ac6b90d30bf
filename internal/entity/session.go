package entity

type SessionState string

const (
	SessionStateDisconnected   SessionState = "disconnected"
	SessionStateConnecting     SessionState = "connecting"
	SessionStateAuthenticating SessionState = "authenticating"
	SessionStateSubscribed     SessionState = "subscribed"
	SessionStateDegraded       SessionState = "degraded"
	SessionStateClosed         SessionState = "closed"
)

func (s SessionState) Terminal() bool {
	return s == SessionStateClosed
}

// Gauge maps the state to the value exported on the session state metric.
func (s SessionState) Gauge() float64 {
	switch s {
	case SessionStateConnecting:
		return 1
	case SessionStateAuthenticating:
		return 2
	case SessionStateSubscribed:
		return 3
	case SessionStateDegraded:
		return 4
	case SessionStateClosed:
		return 5
	default:
		return 0
	}
}
