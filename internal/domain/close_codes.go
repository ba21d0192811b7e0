package domain

// Close codes sent on the websocket close frame. 1000 and 1013 are standard
// codes, the 3xxx range is application defined.
const (
	CloseNormal           = 1000
	CloseGoingAway        = 1001
	CloseTryAgainLater    = 1013
	CloseHeartbeatTimeout = 3002
	CloseManualReset      = 3003
	CloseSuperseded       = 3004
	CloseKicked           = 3005
	CloseRoomNotFound     = 3006
)

var terminalCloseCodes = map[int]struct{}{
	CloseNormal:       {},
	CloseManualReset:  {},
	CloseSuperseded:   {},
	CloseKicked:       {},
	CloseRoomNotFound: {},
}

// ShouldReconnect reports whether a client should open a new connection on
// its own after a close with the given code. A manual reset is in the
// terminal set because the client that requested it redials itself.
func ShouldReconnect(code int) bool {
	_, terminal := terminalCloseCodes[code]
	return !terminal
}

// CloseReason returns the text placed in the close frame for a code.
func CloseReason(code int) string {
	switch code {
	case CloseNormal:
		return "Closed normally."
	case CloseGoingAway:
		return "Server is shutting down."
	case CloseTryAgainLater:
		return "Too slow to keep up, reconnect."
	case CloseHeartbeatTimeout:
		return "Ping didn't receive a pong."
	case CloseManualReset:
		return "Manual reset."
	case CloseSuperseded:
		return "Connected from somewhere else."
	case CloseKicked:
		return "Kicked by the moderator."
	case CloseRoomNotFound:
		return "Room not found."
	default:
		return ""
	}
}
