package call

// State is the local call state observed by one participant. It only moves
// forward; Ended is terminal.
type State int32

const (
	StateIdle State = iota
	StateRinging
	StateAccepted
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRinging:
		return "ringing"
	case StateAccepted:
		return "accepted"
	case StateEnded:
		return "ended"
	}
	return "unknown"
}

// Role distinguishes the two sides of the handshake
type Role int

const (
	RoleCaller Role = iota
	RoleCallee
)

func (r Role) String() string {
	if r == RoleCallee {
		return "callee"
	}
	return "caller"
}
