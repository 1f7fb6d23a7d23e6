// Package session owns the top-level state machine: watch the camera, greet
// a recognized person, hand them to a chat session, and return to watching
// when it ends. One person at a time; everyone else waits.
package session

// State is the controller's position in the watch/greet/chat cycle.
type State int

const (
	// StateWatching means no session is active and identifications are
	// welcome.
	StateWatching State = iota

	// StateGreeting means an identification was just accepted and the
	// greeting side effects are running. Further identifications are
	// rejected.
	StateGreeting

	// StateChatting means a chat session is in progress.
	StateChatting
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateWatching:
		return "watching"
	case StateGreeting:
		return "greeting"
	case StateChatting:
		return "chatting"
	default:
		return "unknown"
	}
}
