// Package store persists per-user conversation records in Postgres.
//
// One row per user: current step, delivery chat, and an opaque JSONB blob
// of user data. Step and data writes are independent idempotent upserts
// against the same row; neither assumes the other ran first.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/oraclebot/internal/db"
)

// ConversationStore implements the engine's persistence contract over a
// single telegram_conversations relation.
type ConversationStore struct {
	db     *db.Client
	logger *slog.Logger
}

// New creates a store backed by the given database client.
func New(client *db.Client, logger *slog.Logger) *ConversationStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConversationStore{db: client, logger: logger}
}

// LoadAllSteps returns every user's persisted step. A NULL step is a real
// value ("conversation ended") and comes back as a nil pointer; an
// unreachable store yields an empty map, a cold start rather than an
// error.
func (s *ConversationStore) LoadAllSteps(ctx context.Context) map[int64]*string {
	rows, err := s.db.Execute(ctx,
		`SELECT user_id, current_step FROM telegram_conversations`, nil, db.ModeAll)
	if err != nil {
		s.logger.Warn("could not load conversation steps, starting cold", "error", err)
		return map[int64]*string{}
	}

	steps := make(map[int64]*string, len(rows))
	for _, row := range rows {
		userID, ok := asInt64(row["user_id"])
		if !ok {
			continue
		}
		steps[userID] = asStringPtr(row["current_step"])
	}
	return steps
}

// SaveStep upserts the user's current step and chat. step == nil persists
// SQL NULL, recording that the conversation ended.
func (s *ConversationStore) SaveStep(ctx context.Context, userID, chatID int64, step *string) error {
	var val any
	if step != nil {
		val = *step
	}
	_, err := s.db.Execute(ctx, `
		INSERT INTO telegram_conversations (user_id, chat_id, current_step)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
			SET current_step = EXCLUDED.current_step, chat_id = EXCLUDED.chat_id`,
		[]any{userID, chatID, val}, db.ModeNone)
	if err != nil {
		return fmt.Errorf("save step: %w", err)
	}
	return nil
}

// LoadAllUserData returns every user's durable data blob. A NULL blob
// reads back as an empty map, never nil. Unreachable store yields an
// empty mapping.
func (s *ConversationStore) LoadAllUserData(ctx context.Context) map[int64]map[string]any {
	rows, err := s.db.Execute(ctx,
		`SELECT user_id, conversation_data FROM telegram_conversations`, nil, db.ModeAll)
	if err != nil {
		s.logger.Warn("could not load user data, starting cold", "error", err)
		return map[int64]map[string]any{}
	}

	data := make(map[int64]map[string]any, len(rows))
	for _, row := range rows {
		userID, ok := asInt64(row["user_id"])
		if !ok {
			continue
		}
		data[userID] = decodeBlob(row["conversation_data"], s.logger)
	}
	return data
}

// SaveUserData fully replaces the user's durable data blob. The row's
// chat_id is resolved first so an upsert that races record creation still
// preserves (or sensibly defaults) the delivery chat.
func (s *ConversationStore) SaveUserData(ctx context.Context, userID int64, data map[string]any) error {
	if data == nil {
		data = map[string]any{}
	}

	// Preserve an existing chat_id; fall back to user_id when the user
	// has no record yet (direct chats share the identifier).
	chatID := userID
	row, err := s.db.Execute(ctx,
		`SELECT chat_id FROM telegram_conversations WHERE user_id = $1`,
		[]any{userID}, db.ModeOne)
	if err == nil && len(row) > 0 {
		if id, ok := asInt64(row[0]["chat_id"]); ok {
			chatID = id
		}
	}

	blob, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode user data: %w", err)
	}

	_, err = s.db.Execute(ctx, `
		INSERT INTO telegram_conversations (user_id, chat_id, conversation_data)
		VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (user_id) DO UPDATE
			SET conversation_data = EXCLUDED.conversation_data`,
		[]any{userID, chatID, string(blob)}, db.ModeNone)
	if err != nil {
		return fmt.Errorf("save user data: %w", err)
	}
	return nil
}

// EnsureRecord creates the user's record on first contact. Idempotent:
// an existing record is left untouched.
func (s *ConversationStore) EnsureRecord(ctx context.Context, userID, chatID int64) error {
	_, err := s.db.Execute(ctx, `
		INSERT INTO telegram_conversations (user_id, chat_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING`,
		[]any{userID, chatID}, db.ModeNone)
	if err != nil {
		return fmt.Errorf("ensure record: %w", err)
	}
	return nil
}

// asInt64 normalizes the numeric types the driver may hand back.
func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}

// asStringPtr converts a nullable text column value.
func asStringPtr(v any) *string {
	switch s := v.(type) {
	case string:
		return &s
	case []byte:
		str := string(s)
		return &str
	default:
		return nil
	}
}

// decodeBlob unmarshals a JSONB column value, defaulting to an empty map.
func decodeBlob(v any, logger *slog.Logger) map[string]any {
	var raw []byte
	switch b := v.(type) {
	case []byte:
		raw = b
	case string:
		raw = []byte(b)
	default:
		return map[string]any{}
	}
	if len(raw) == 0 {
		return map[string]any{}
	}

	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		logger.Warn("malformed conversation_data blob, treating as empty", "error", err)
		return map[string]any{}
	}
	if data == nil {
		return map[string]any{}
	}
	return data
}
