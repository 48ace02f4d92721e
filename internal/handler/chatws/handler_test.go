package chatws

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zhouzirui/hertscortex/backend/internal/llm/llmtest"
	"github.com/zhouzirui/hertscortex/backend/internal/service/ai"
)

func dial(t *testing.T, fake *llmtest.Model, streaming bool) *websocket.Conn {
	t.Helper()
	svc, err := ai.New(context.Background(), fake, ai.Config{}, zaptest.NewLogger(t), nil)
	require.NoError(t, err)

	r := chi.NewRouter()
	New(svc, nil, streaming, nil, zaptest.NewLogger(t)).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func read(t *testing.T, ws *websocket.Conn) OutgoingMessage {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg OutgoingMessage
	require.NoError(t, ws.ReadJSON(&msg))
	return msg
}

func readUntil(t *testing.T, ws *websocket.Conn, final string) []OutgoingMessage {
	t.Helper()
	var out []OutgoingMessage
	for {
		msg := read(t, ws)
		out = append(out, msg)
		if msg.Type == final || msg.Type == TypeError {
			return out
		}
	}
}

func ask(t *testing.T, ws *websocket.Conn, message string) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(map[string]any{
		"type":       TypeAsk,
		"message":    message,
		"docContent": "Enzymes lower activation energy.",
		"persona":    "toddler",
	}))
}

func types(msgs []OutgoingMessage) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Type)
	}
	return out
}

func TestAskStreamsDeltas(t *testing.T) {
	ws := dial(t, &llmtest.Model{Chunks: []string{"Enzymes ", "are ", "helpers."}}, true)

	ask(t, ws, "What do enzymes do?")
	msgs := readUntil(t, ws, TypeEnd)

	assert.Equal(t, []string{"start", "delta", "delta", "delta", "end"}, types(msgs))
	assert.Equal(t, "toddler", msgs[0].Persona)
	assert.Equal(t, "helpers.", msgs[3].Content)
}

func TestAskWithoutStreamingSendsMessage(t *testing.T) {
	ws := dial(t, &llmtest.Model{Chunks: []string{"a", "b"}}, false)

	ask(t, ws, "q")
	msgs := readUntil(t, ws, TypeEnd)

	assert.Equal(t, []string{"start", "message", "end"}, types(msgs))
	assert.Equal(t, "ab", msgs[1].Content)
}

func TestStopCancelsOnlyTheCurrentAnswer(t *testing.T) {
	fake := &llmtest.Model{Chunks: []string{"1", "2", "3", "4", "5", "6", "7", "8"}, ChunkDelay: 100 * time.Millisecond}
	ws := dial(t, fake, true)

	ask(t, ws, "first")
	assert.Equal(t, TypeStart, read(t, ws).Type)
	require.NoError(t, ws.WriteJSON(map[string]string{"type": TypeStop}))
	msgs := readUntil(t, ws, TypeStopped)
	assert.Equal(t, TypeStopped, msgs[len(msgs)-1].Type)
	assert.Less(t, len(msgs), 8)

	// The connection stays usable.
	ask(t, ws, "second")
	msgs = readUntil(t, ws, TypeEnd)
	assert.Equal(t, TypeEnd, msgs[len(msgs)-1].Type)
	assert.Equal(t, 2, fake.CallCount())
}

func TestAskWhileBusyIsRejected(t *testing.T) {
	fake := &llmtest.Model{Chunks: []string{"1", "2", "3"}, ChunkDelay: 100 * time.Millisecond}
	ws := dial(t, fake, true)

	ask(t, ws, "first")
	assert.Equal(t, TypeStart, read(t, ws).Type)
	ask(t, ws, "second")

	var sawBusy bool
	for _, msg := range readUntil(t, ws, TypeEnd) {
		if msg.Type == TypeError {
			sawBusy = true
			assert.Contains(t, msg.Error, "still being generated")
		}
	}
	assert.True(t, sawBusy)
}

func TestEmptyQuestionIsError(t *testing.T) {
	fake := &llmtest.Model{}
	ws := dial(t, fake, true)

	ask(t, ws, "")
	msg := read(t, ws)
	assert.Equal(t, TypeError, msg.Type)
	assert.Equal(t, "Please type a question first.", msg.Error)
	assert.Zero(t, fake.CallCount())
}

func TestUnsupportedFrame(t *testing.T) {
	ws := dial(t, &llmtest.Model{}, true)

	require.NoError(t, ws.WriteJSON(map[string]string{"type": "audio"}))
	msg := read(t, ws)
	assert.Equal(t, TypeError, msg.Type)
	assert.Contains(t, msg.Error, "audio")
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://study.example.com"})

	req := httptest.NewRequest(http.MethodGet, "http://api.example.com/api/chat/ws", nil)
	req.Header.Set("Origin", "https://study.example.com")
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, check(req))

	req.Header.Set("Origin", "http://api.example.com")
	assert.True(t, check(req))

	assert.True(t, originChecker([]string{"*"})(req))
}

func TestServerContextCancelStopsGeneration(t *testing.T) {
	fake := &llmtest.Model{Chunks: []string{"1", "2", "3", "4", "5", "6", "7", "8"}, ChunkDelay: 200 * time.Millisecond}
	svc, err := ai.New(context.Background(), fake, ai.Config{MaxDuration: time.Minute}, zaptest.NewLogger(t), nil)
	require.NoError(t, err)

	r := chi.NewRouter()
	New(svc, nil, true, nil, zaptest.NewLogger(t)).RegisterRoutes(r)
	base, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	srv := httptest.NewUnstartedServer(r)
	srv.Config.BaseContext = func(net.Listener) context.Context { return base }
	srv.Start()
	t.Cleanup(srv.Close)

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/chat/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	ask(t, ws, "long answer")
	assert.Equal(t, TypeStart, read(t, ws).Type)
	cancelBase()

	msgs := readUntil(t, ws, TypeStopped)
	assert.Equal(t, TypeStopped, msgs[len(msgs)-1].Type)
	assert.Less(t, len(msgs), 8)
	fake.Wait()
}
