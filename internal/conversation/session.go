package conversation

import (
	"sync"

	"github.com/looplab/fsm"
)

// Session tracks one user's conversation. The surrounding dispatch
// guarantees in-order delivery per user; the mutex enforces at most one
// in-flight handler per session so that guarantee holds even if the
// transport misbehaves.
type Session struct {
	mu     sync.Mutex
	userID int64
	chatID int64
	fsm    *fsm.FSM

	// scratch is transient per-session state, cleared when the
	// conversation ends. Distinct from durable user data.
	scratch map[string]any

	// data is the durable user data blob, seeded from the store at boot
	// and written through on mutation.
	data map[string]any
}

// newSession creates a session in the given state with the given durable
// data. data may be nil.
func newSession(userID int64, state string, data map[string]any) *Session {
	if data == nil {
		data = map[string]any{}
	}
	return &Session{
		userID:  userID,
		chatID:  userID, // direct chats share the identifier until an update says otherwise
		fsm:     newConversationFSM(state),
		scratch: map[string]any{},
		data:    data,
	}
}

// newConversationFSM builds the per-user state machine: an idle state,
// the ask step, and a universal terminal transition back to idle.
func newConversationFSM(initial string) *fsm.FSM {
	return fsm.NewFSM(
		initial,
		fsm.Events{
			{Name: eventBegin, Src: []string{StateIdle}, Dst: StepAskQuery},
			{Name: eventResolve, Src: []string{StepAskQuery}, Dst: StateIdle},
		},
		fsm.Callbacks{},
	)
}

// Step returns the session's current step tag, or nil when idle.
func (s *Session) Step() *string {
	if current := s.fsm.Current(); current != StateIdle {
		return &current
	}
	return nil
}

// Scratch returns the transient per-session map.
func (s *Session) Scratch() map[string]any { return s.scratch }

// Data returns the durable user data map.
func (s *Session) Data() map[string]any { return s.data }

// clearScratch drops the transient per-session state.
func (s *Session) clearScratch() {
	s.scratch = map[string]any{}
}

// endConversation forces the session back to idle and clears transient
// scratch state, bypassing step logic. Used for cancellation.
func (s *Session) endConversation() {
	s.fsm.SetState(StateIdle)
	s.clearScratch()
}
