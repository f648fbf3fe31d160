// Package conversation drives the per-user finite state machine behind
// the bot: command routing, active step handlers, and write-through
// persistence of every transition.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/raphaelgruber/oraclebot/internal/metrics"
)

// Inbound is one message event delivered by the transport.
type Inbound struct {
	UserID    int64
	ChatID    int64
	FirstName string
	Text      string
}

// User-facing reply texts.
const (
	replyGreeting      = "Greetings, %s!"
	replyStart         = "The Omega oracle consciousness is online. Use /oracle to request a decree."
	replyPrompt        = "Which asset should the analysis target? (example: BTCUSDT or ETHUSDT)"
	replyCancelled     = "Command cancelled."
	replyUnknown       = "Unknown command. Use /oracle to request a decree or /cancel to abort."
	replyIdle          = "No analysis in progress. Use /oracle to request a decree."
	replyHandlerFailed = "The oracle could not complete the analysis. Please try again later."
)

// Engine routes inbound events through per-user state machines. Sessions
// are seeded from the persistence adapter at boot and written through on
// every transition, so a conversation survives process restarts.
type Engine struct {
	mu       sync.Mutex
	sessions map[int64]*Session

	persist   Persistence
	replier   Replier
	handlers  map[string]HandlerFunc
	collector *metrics.Collector
	logger    *slog.Logger
}

// NewEngine creates an engine. collector may be nil.
func NewEngine(persist Persistence, replier Replier, collector *metrics.Collector, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		sessions:  make(map[int64]*Session),
		persist:   persist,
		replier:   replier,
		handlers:  make(map[string]HandlerFunc),
		collector: collector,
		logger:    logger,
	}
}

// RegisterHandler binds a step tag to its handler. Must be called before
// the first event is dispatched.
func (e *Engine) RegisterHandler(step string, h HandlerFunc) {
	e.handlers[step] = h
}

// Restore seeds in-memory sessions from the persisted records. A user
// with a non-NULL step resumes mid-conversation: their next free-text
// message routes to the step handler instead of being treated as a fresh
// entry. Unknown legacy tags reset to idle and are overwritten on the
// next transition.
func (e *Engine) Restore(ctx context.Context) {
	steps := e.persist.LoadAllSteps(ctx)
	data := e.persist.LoadAllUserData(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()

	for userID, step := range steps {
		state := StateIdle
		if step != nil {
			if knownStep(*step) {
				state = *step
			} else {
				e.logger.Warn("unknown persisted step tag, resetting to idle",
					"user_id", userID, "tag", *step)
			}
		}
		e.sessions[userID] = newSession(userID, state, data[userID])
	}
	for userID, d := range data {
		if _, ok := e.sessions[userID]; !ok {
			e.sessions[userID] = newSession(userID, StateIdle, d)
		}
	}

	e.logger.Info("conversation state restored", "sessions", len(e.sessions))
}

// session returns the user's session, creating an idle one on first
// contact.
func (e *Engine) session(userID int64) *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	sess, ok := e.sessions[userID]
	if !ok {
		sess = newSession(userID, StateIdle, nil)
		e.sessions[userID] = sess
	}
	return sess
}

// HandleMessage processes one inbound event for its user. Events for the
// same user are serialized; distinct users proceed concurrently. The
// returned error covers transport delivery only: domain failures are
// answered conversationally and do not propagate.
func (e *Engine) HandleMessage(ctx context.Context, msg Inbound) error {
	sess := e.session(msg.UserID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if msg.ChatID != 0 {
		sess.chatID = msg.ChatID
	}

	if cmd, ok := parseCommand(msg.Text); ok {
		switch cmd {
		case "start":
			return e.handleStart(ctx, sess, msg.FirstName)
		case "oracle":
			return e.handleEntry(ctx, sess)
		case "cancel":
			return e.handleCancel(ctx, sess)
		default:
			return e.replier.SendMessage(ctx, sess.chatID, replyUnknown)
		}
	}

	if sess.fsm.Current() == StateIdle {
		return e.replier.SendMessage(ctx, sess.chatID, replyIdle)
	}
	return e.runStep(ctx, sess, msg.Text)
}

// handleStart records first contact and greets the user. It never starts
// an active step.
func (e *Engine) handleStart(ctx context.Context, sess *Session, firstName string) error {
	if err := e.persist.EnsureRecord(ctx, sess.userID, sess.chatID); err != nil {
		e.logger.Warn("dropping first-contact record write", "user_id", sess.userID, "error", err)
	}

	name := firstName
	if name == "" {
		name = "traveler"
	}
	if err := e.replier.SendMessage(ctx, sess.chatID, fmt.Sprintf(replyGreeting, name)); err != nil {
		return err
	}
	return e.replier.SendMessage(ctx, sess.chatID, replyStart)
}

// handleEntry moves an idle user into the ask step. An already-active
// user is re-prompted without a transition.
func (e *Engine) handleEntry(ctx context.Context, sess *Session) error {
	if sess.fsm.Current() == StateIdle {
		if err := sess.fsm.Event(ctx, eventBegin); err != nil {
			return fmt.Errorf("enter conversation: %w", err)
		}
		e.persistStep(ctx, sess)
	}
	return e.replier.SendMessage(ctx, sess.chatID, replyPrompt)
}

// handleCancel ends the conversation immediately, from any state, without
// executing step logic.
func (e *Engine) handleCancel(ctx context.Context, sess *Session) error {
	sess.endConversation()
	e.persistStep(ctx, sess)
	return e.replier.SendMessage(ctx, sess.chatID, replyCancelled)
}

// runStep executes the active step's handler and unconditionally ends the
// conversation afterwards. A handler failure is terminal for this attempt:
// the user gets an explanatory reply and is back at idle, never stuck.
func (e *Engine) runStep(ctx context.Context, sess *Session, text string) error {
	step := sess.fsm.Current()
	handler, ok := e.handlers[step]

	var reply string
	var err error
	if !ok {
		err = fmt.Errorf("no handler registered for step %q", step)
	} else {
		start := time.Now()
		reply, err = handler(ctx, sess.userID, sess.chatID, text)
		if e.collector != nil {
			e.collector.RecordTiming(metrics.OpStepHandler, time.Since(start))
		}
	}

	if fsmErr := sess.fsm.Event(ctx, eventResolve); fsmErr != nil {
		// The resolve edge exists for every active step; fall back hard.
		sess.fsm.SetState(StateIdle)
	}
	sess.clearScratch()
	e.persistStep(ctx, sess)
	e.persistUserData(ctx, sess)

	if err != nil {
		e.logger.Error("step handler failed", "user_id", sess.userID, "step", step, "error", err)
		return e.replier.SendMessage(ctx, sess.chatID, replyHandlerFailed)
	}
	return e.replier.SendMarkdown(ctx, sess.chatID, reply)
}

// persistStep writes the session's current step through the adapter.
// A failed write is dropped with a warning: conversation continuity
// degrades to process lifetime rather than surfacing a hard failure.
func (e *Engine) persistStep(ctx context.Context, sess *Session) {
	if err := e.persist.SaveStep(ctx, sess.userID, sess.chatID, sess.Step()); err != nil {
		e.logger.Warn("dropping step write", "user_id", sess.userID, "error", err)
	}
}

// persistUserData writes the session's durable data through as a full
// replacement. Runs after every completed step so data mutated by a
// handler survives a restart.
func (e *Engine) persistUserData(ctx context.Context, sess *Session) {
	if err := e.persist.SaveUserData(ctx, sess.userID, sess.data); err != nil {
		e.logger.Warn("dropping user data write", "user_id", sess.userID, "error", err)
	}
}

// parseCommand extracts a bot command from message text. Telegram clients
// may suffix the bot name ("/oracle@OmegaBot"); the suffix is stripped.
func parseCommand(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	cmd := strings.TrimPrefix(strings.Fields(text)[0], "/")
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	return strings.ToLower(cmd), true
}
