package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/smartrecall/internal/identity"
	"github.com/ashureev/smartrecall/internal/llm"
)

func newTestRouter(t *testing.T, e *testEnv, cfg HandlerConfig) http.Handler {
	t.Helper()
	h := NewHandler(HandlerDeps{Service: e.svc, Cart: e.cart, Products: e.products, Catalog: e.store}, cfg)
	t.Cleanup(h.Close)

	r := chi.NewRouter()
	r.Use(identity.Middleware(true))
	h.RegisterRoutes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func echoModel(_ context.Context, req llm.Request) (*llm.Response, error) {
	return answer("echo: " + req.Messages[len(req.Messages)-1].Content), nil
}

func TestHandleChat(t *testing.T) {
	e := newTestEnv(t, echoModel)
	router := newTestRouter(t, e, HandlerConfig{})
	session := map[string]string{identity.SessionHeaderName: "sess-http"}

	rec := do(t, router, http.MethodPost, "/api/chat", `{"message":"explain rainbows","chatId":"c1"}`, session)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode[ChatResponse](t, rec)
	assert.Equal(t, "echo: explain rainbows", first.Reply)
	assert.False(t, first.IsCachedResponse)
	assert.Equal(t, "sess-http", first.SessionID)
	assert.Equal(t, "c1", first.ChatID)
	assert.Equal(t, []string{NoToolTag}, first.ToolsUsed)
	assert.NotNil(t, first.FoundProducts)

	rec = do(t, router, http.MethodPost, "/api/chat", `{"message":"explain rainbows","chatId":"c1"}`, session)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[ChatResponse](t, rec).IsCachedResponse, "smart recall defaults to on")

	rec = do(t, router, http.MethodGet, "/api/chat/c1", "", session)
	require.Equal(t, http.StatusOK, rec.Code)
	hist := decode[HistoryResponse](t, rec)
	assert.Equal(t, "sess-http", hist.SessionID)
	assert.Len(t, hist.Messages, 4)
}

func TestHandleChatRejectsBadInput(t *testing.T) {
	e := newTestEnv(t, echoModel)
	router := newTestRouter(t, e, HandlerConfig{MaxRequestBodySize: 64})

	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "malformed json", body: `{"message":`, want: http.StatusBadRequest},
		{name: "missing message", body: `{"chatId":"c1"}`, want: http.StatusBadRequest},
		{name: "blank message", body: `{"message":"   "}`, want: http.StatusBadRequest},
		{name: "unknown profile", body: `{"message":"hi","profile":"travel"}`, want: http.StatusBadRequest},
		{name: "too large", body: `{"message":"` + strings.Repeat("a", 200) + `"}`, want: http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, "/api/chat", tt.body, nil)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.Contains(t, decode[map[string]string](t, rec), "error")
		})
	}
	assert.Zero(t, e.model.Calls())
}

func TestHandleChatRateLimit(t *testing.T) {
	e := newTestEnv(t, echoModel)
	router := newTestRouter(t, e, HandlerConfig{RateLimitRequests: 1, RateLimitWindow: time.Hour})
	session := map[string]string{identity.SessionHeaderName: "sess-limited"}

	rec := do(t, router, http.MethodPost, "/api/chat", `{"message":"one"}`, session)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, router, http.MethodPost, "/api/chat", `{"message":"two"}`, session)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	other := map[string]string{identity.SessionHeaderName: "sess-other"}
	rec = do(t, router, http.MethodPost, "/api/chat", `{"message":"three"}`, other)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleEndSession(t *testing.T) {
	e := newTestEnv(t, echoModel)
	router := newTestRouter(t, e, HandlerConfig{})
	session := map[string]string{identity.SessionHeaderName: "sess-end"}

	rec := do(t, router, http.MethodPost, "/api/chat", `{"message":"explain tides"}`, session)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodDelete, "/api/sessions/sess-end", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[map[string]int64](t, rec)
	assert.Equal(t, int64(1), got["deletedSessionsCount"])
	assert.Equal(t, int64(1), got["clearedCacheCount"])

	rec = do(t, router, http.MethodDelete, "/api/sessions/sess-end", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got = decode[map[string]int64](t, rec)
	assert.Zero(t, got["deletedSessionsCount"])
	assert.Zero(t, got["clearedCacheCount"])
}

func TestCartRoutes(t *testing.T) {
	e := newTestEnv(t, nil)
	router := newTestRouter(t, e, HandlerConfig{})

	rec := do(t, router, http.MethodPost, "/api/cart/add", `{"sessionId":"cart-1","productId":"p-milk","quantity":2}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = do(t, router, http.MethodPost, "/api/cart/add", `{"sessionId":"cart-1","productIds":["p-pasta","p-missing"]}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = do(t, router, http.MethodPost, "/api/cart/add", `{"sessionId":"cart-1","productId":"p-missing"}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, router, http.MethodPost, "/api/cart/add", `{"sessionId":"cart-1"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/cart/cart-1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view struct {
		Items []struct {
			ProductID string `json:"productId"`
			Quantity  int    `json:"quantity"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Len(t, view.Items, 2)

	rec = do(t, router, http.MethodDelete, "/api/cart/cart-1/p-milk", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, router, http.MethodDelete, "/api/cart/cart-1/p-milk", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, http.MethodDelete, "/api/cart/cart-1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cleared := decode[map[string]any](t, rec)
	assert.Equal(t, float64(1), cleared["removedItems"])
}

func TestProductRoutes(t *testing.T) {
	e := newTestEnv(t, nil)
	router := newTestRouter(t, e, HandlerConfig{})

	rec := do(t, router, http.MethodGet, "/api/products?q=cheese&category=dairy", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var found struct {
		Count    int `json:"count"`
		Products []struct {
			ID string `json:"id"`
		} `json:"products"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &found))
	require.NotZero(t, found.Count)
	assert.Equal(t, "p-parm", found.Products[0].ID)

	rec = do(t, router, http.MethodGet, "/api/products?maxPrice=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, router, http.MethodGet, "/api/products?limit=-1", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/products/p-milk", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Whole Milk")

	rec = do(t, router, http.MethodGet, "/api/products/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleWebSocket(t *testing.T) {
	e := newTestEnv(t, echoModel)
	srv := httptest.NewServer(newTestRouter(t, e, HandlerConfig{}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat?session_id=ws-1"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	require.NoError(t, wsjson.Write(ctx, conn, map[string]string{"type": "ping"}))
	var pong map[string]any
	require.NoError(t, wsjson.Read(ctx, conn, &pong))
	assert.Equal(t, "pong", pong["type"])

	require.NoError(t, wsjson.Write(ctx, conn, map[string]string{"message": "explain fog"}))
	var reply struct {
		Type string `json:"type"`
		ChatResponse
	}
	require.NoError(t, wsjson.Read(ctx, conn, &reply))
	assert.Equal(t, "reply", reply.Type)
	assert.Equal(t, "echo: explain fog", reply.Reply)
	assert.Equal(t, "ws-1", reply.SessionID)

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("not json")))
	var bad map[string]any
	require.NoError(t, wsjson.Read(ctx, conn, &bad))
	assert.Equal(t, "error", bad["type"])

	require.NoError(t, wsjson.Write(ctx, conn, map[string]string{"type": "shout"}))
	require.NoError(t, wsjson.Read(ctx, conn, &bad))
	assert.Equal(t, "unknown message type", bad["error"])
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	defer rl.Stop()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))

	now = now.Add(61 * time.Second)
	assert.True(t, rl.Allow("a"))

	now = now.Add(2 * time.Minute)
	rl.evict()
	assert.Zero(t, rl.size())

	rl.Stop()
	rl.Stop()
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	defer rl.Stop()
	for i := 0; i < 100; i++ {
		require.True(t, rl.Allow("a"))
	}
	assert.Equal(t, 0, rl.size())
}
