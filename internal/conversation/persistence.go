package conversation

import "context"

// Persistence is the storage capability the engine depends on: a bulk
// load at boot and incremental writes on every transition or data
// mutation. Implementations must tolerate an unreachable store (loads
// return empty mappings, saves fail softly) so the engine can degrade
// to in-memory, per-process-lifetime behavior.
type Persistence interface {
	// LoadAllSteps returns the persisted step per user. nil means the
	// user's conversation ended; absence means first contact.
	LoadAllSteps(ctx context.Context) map[int64]*string

	// SaveStep upserts the user's step and delivery chat. step == nil
	// persists "conversation ended" explicitly.
	SaveStep(ctx context.Context, userID, chatID int64, step *string) error

	// LoadAllUserData returns each user's durable data, defaulting to
	// an empty map per user.
	LoadAllUserData(ctx context.Context) map[int64]map[string]any

	// SaveUserData fully replaces the user's durable data.
	SaveUserData(ctx context.Context, userID int64, data map[string]any) error

	// EnsureRecord creates the user's record on first contact without
	// touching an existing one.
	EnsureRecord(ctx context.Context, userID, chatID int64) error
}

// Replier delivers outbound replies through the messaging transport.
type Replier interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendMarkdown(ctx context.Context, chatID int64, text string) error
}

// HandlerFunc executes an active step for a user: it consumes the user's
// free-text input and produces the reply. Returning an error marks the
// attempt as failed; either way the conversation ends afterwards.
type HandlerFunc func(ctx context.Context, userID, chatID int64, text string) (reply string, err error)
