package telegram_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/raphaelgruber/oraclebot/internal/telegram"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiCall struct {
	path    string
	payload map[string]any
}

// fakeBotAPI records bot API calls and answers with a canned envelope.
func fakeBotAPI(t *testing.T, calls *[]apiCall, ok bool, description string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		*calls = append(*calls, apiCall{path: r.URL.Path, payload: payload})

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": ok, "description": description})
	}))
}

func testClient(apiURL string) *telegram.Client {
	return telegram.NewClient(apiURL, "TESTTOKEN", slog.New(slog.DiscardHandler))
}

func TestSendMessage(t *testing.T) {
	var calls []apiCall
	api := fakeBotAPI(t, &calls, true, "")
	defer api.Close()

	client := testClient(api.URL)
	err := client.SendMessage(context.Background(), 4242, "hello")
	require.NoError(t, err)

	require.Len(t, calls, 1)
	assert.Equal(t, "/botTESTTOKEN/sendMessage", calls[0].path)
	assert.Equal(t, float64(4242), calls[0].payload["chat_id"])
	assert.Equal(t, "hello", calls[0].payload["text"])
	_, hasParseMode := calls[0].payload["parse_mode"]
	assert.False(t, hasParseMode, "plain sends must not set parse_mode")
}

func TestSendMarkdown(t *testing.T) {
	var calls []apiCall
	api := fakeBotAPI(t, &calls, true, "")
	defer api.Close()

	client := testClient(api.URL)
	err := client.SendMarkdown(context.Background(), 1, "*decree*")
	require.NoError(t, err)

	require.Len(t, calls, 1)
	assert.Equal(t, "Markdown", calls[0].payload["parse_mode"])
}

func TestSendRejectedByAPI(t *testing.T) {
	var calls []apiCall
	api := fakeBotAPI(t, &calls, false, "chat not found")
	defer api.Close()

	client := testClient(api.URL)
	err := client.SendMessage(context.Background(), 1, "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestSetWebhook(t *testing.T) {
	var calls []apiCall
	api := fakeBotAPI(t, &calls, true, "")
	defer api.Close()

	client := testClient(api.URL)
	err := client.SetWebhook(context.Background(), "https://bot.example.com/webhook")
	require.NoError(t, err)

	require.Len(t, calls, 1)
	assert.Equal(t, "/botTESTTOKEN/setWebhook", calls[0].path)
	assert.Equal(t, "https://bot.example.com/webhook", calls[0].payload["url"])
}

func TestSendTransportFailure(t *testing.T) {
	// Closed server: connection refused.
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	api.Close()

	client := testClient(api.URL)
	err := client.SendMessage(context.Background(), 1, "hello")
	require.Error(t, err)
}
