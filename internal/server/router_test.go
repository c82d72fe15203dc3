package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gorilla/websocket"
	"vanish-drop/internal/auth"
	"vanish-drop/internal/content"
	"vanish-drop/internal/handler"
	"vanish-drop/internal/hub"
	"vanish-drop/internal/membership"
	"vanish-drop/internal/metrics"
	"vanish-drop/internal/model"
	"vanish-drop/internal/ratelimit"
	"vanish-drop/internal/store"
	"vanish-drop/internal/telegram"
)

const primaryID int64 = 1

type prober struct{}

func (prober) QueryMembership(context.Context, string, int64) (membership.MemberStatus, error) {
	return membership.StatusOther, nil
}

func (prober) ProbeSelfPrivilege(_ context.Context, channelID string) (bool, error) {
	return channelID == "@owned", nil
}

type starter struct {
	mu    sync.Mutex
	calls []string
}

func (s *starter) StartBroadcast(operatorID int64, text string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, text)
	return 3
}

type testEnv struct {
	router   *gin.Engine
	store    *store.Store
	registry *content.Registry
	hub      *hub.Hub
	starter  *starter
	tokenCfg auth.TokenConfig
	clock    time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	env := &testEnv{
		store:    store.New(primaryID),
		registry: content.NewRegistry(),
		hub:      hub.New(),
		starter:  &starter{},
		tokenCfg: auth.TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test"},
		clock:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	// each request advances the clock past the window so tests are not throttled
	limiter := ratelimit.NewWithNow[string](DefaultAPIRateLimit, func() time.Time {
		env.clock = env.clock.Add(time.Second)
		return env.clock
	})
	env.router = NewRouter(Deps{
		Store:       env.store,
		Registry:    env.registry,
		Gate:        membership.NewGate(prober{}),
		Hub:         env.hub,
		Metrics:     metrics.New(),
		Broadcasts:  env.starter,
		TokenConfig: env.tokenCfg,
		APILimiter:  limiter,
		Version:     "test",
		StartedAt:   time.Now(),
	})
	return env
}

func (env *testEnv) token(t *testing.T, operatorID int64) string {
	t.Helper()
	tok, err := auth.CreateToken(operatorID, env.tokenCfg)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	return tok
}

func (env *testEnv) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var data []byte
	if body != nil {
		data, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return resp
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/health", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if resp := decode(t, w); resp["ok"] != true || resp["version"] != "test" {
		t.Fatalf("unexpected health response: %v", resp)
	}

	w = env.do(t, http.MethodGet, "/metrics", nil, "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "vanishdrop_deliveries_total") {
		t.Fatalf("expected metrics exposition, got %d: %s", w.Code, w.Body.String())
	}
}

func TestAdminRoutesRequireOperatorToken(t *testing.T) {
	env := newTestEnv(t)

	if w := env.do(t, http.MethodGet, "/v1/bundles", nil, ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/v1/bundles", nil, env.token(t, 77)); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-operator, got %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/v1/bundles", nil, env.token(t, primaryID)); w.Code != http.StatusOK {
		t.Fatalf("expected 200 for operator, got %d: %s", w.Code, w.Body.String())
	}
}

func TestAdminRoutesDisabledWithoutSecret(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := NewRouter(Deps{Store: store.New(primaryID)})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/bundles", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestBundlesListAndRevoke(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, primaryID)
	b, err := env.registry.Publish([]model.MediaItem{{Kind: model.MediaPhoto, FileID: "f"}}, nil, 10, primaryID)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	w := env.do(t, http.MethodGet, "/v1/bundles", nil, tok)
	resp := decode(t, w)
	if resp["total"] != float64(1) {
		t.Fatalf("expected one bundle, got %v", resp)
	}

	if w := env.do(t, http.MethodDelete, "/v1/bundles/"+b.Code, nil, tok); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w := env.do(t, http.MethodDelete, "/v1/bundles/"+b.Code, nil, tok); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second revoke, got %d", w.Code)
	}
}

func TestRequirementsLifecycle(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, primaryID)

	w := env.do(t, http.MethodPost, "/v1/requirements", map[string]any{"channelId": "@owned"}, tok)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	req := decode(t, w)["requirement"].(map[string]any)
	if req["mode"] != string(model.VerifyAuto) || req["target"] != "@owned" {
		t.Fatalf("unexpected requirement: %v", req)
	}

	if w := env.do(t, http.MethodPost, "/v1/requirements", map[string]any{"channelId": "@owned"}, tok); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 on duplicate, got %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/v1/requirements", map[string]any{}, tok); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without channel, got %d", w.Code)
	}

	w = env.do(t, http.MethodGet, "/v1/requirements", nil, tok)
	if list := decode(t, w)["requirements"].([]any); len(list) != 1 {
		t.Fatalf("expected one requirement, got %v", list)
	}

	if w := env.do(t, http.MethodDelete, "/v1/requirements/@owned", nil, tok); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w := env.do(t, http.MethodDelete, "/v1/requirements/@owned", nil, tok); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestUsersBlockAndUnblock(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, primaryID)
	env.store.TouchUser(42, "bob", "Bob", time.Now())

	if w := env.do(t, http.MethodPost, "/v1/users/42/block", nil, tok); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	w := env.do(t, http.MethodGet, "/v1/users?filter=blocked", nil, tok)
	if resp := decode(t, w); resp["total"] != float64(1) {
		t.Fatalf("expected one blocked user, got %v", resp)
	}

	if w := env.do(t, http.MethodPost, "/v1/users/42/unblock", nil, tok); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/v1/users/42/unblock", nil, tok); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when not blocked, got %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/v1/users/1/block", nil, tok); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 blocking an operator, got %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/v1/users/abc/block", nil, tok); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/v1/users?filter=weird", nil, tok); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad filter, got %d", w.Code)
	}
}

func TestBroadcastIsAccepted(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, primaryID)

	w := env.do(t, http.MethodPost, "/v1/broadcast", map[string]any{"text": "hello"}, tok)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	if resp := decode(t, w); resp["targets"] != float64(3) {
		t.Fatalf("unexpected response: %v", resp)
	}
	if len(env.starter.calls) != 1 || env.starter.calls[0] != "hello" {
		t.Fatalf("broadcast not started: %v", env.starter.calls)
	}

	if w := env.do(t, http.MethodPost, "/v1/broadcast", map[string]any{"text": "  "}, tok); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank text, got %d", w.Code)
	}
}

func TestDeliveriesPaging(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, primaryID)
	first := env.store.RecordDelivery("a", 42, []int{1}, time.Now())
	env.store.RecordDelivery("b", 43, []int{2}, time.Now())

	w := env.do(t, http.MethodGet, "/v1/deliveries?after="+strconv.FormatInt(first.Seq, 10), nil, tok)
	list := decode(t, w)["deliveries"].([]any)
	if len(list) != 1 || list[0].(map[string]any)["code"] != "b" {
		t.Fatalf("expected only the second delivery, got %v", list)
	}

	if w := env.do(t, http.MethodGet, "/v1/deliveries?after=-1", nil, tok); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestEventsStreamDeliveries(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events?token=" + env.token(t, primaryID)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	// a pong proves the subscription is registered
	if err := conn.WriteJSON(map[string]any{"type": "ping"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	var resp map[string]any
	if err := conn.ReadJSON(&resp); err != nil || resp["type"] != "pong" {
		t.Fatalf("expected pong, got %v (%v)", resp, err)
	}

	env.hub.Publish(hub.TopicDeliveries, "delivered", model.DeliveryEvent{Code: "abc", UserID: 42})
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	body, _ := resp["body"].(map[string]any)
	if resp["event"] != "delivered" || body["code"] != "abc" {
		t.Fatalf("unexpected event: %v", resp)
	}
}

type fakeParser struct{}

func (fakeParser) ParseWebhook(r *http.Request, secret string) (*tgbotapi.Update, error) {
	if r.Header.Get(telegram.SecretHeader) != secret {
		return nil, telegram.ErrBadWebhookSecret
	}
	return &tgbotapi.Update{UpdateID: 7}, nil
}

func TestWebhookRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	got := make(chan int, 1)
	r := NewRouter(Deps{
		Store: store.New(primaryID),
		Webhook: &handler.WebhookHandler{
			Parser: fakeParser{},
			Secret: "s3",
			Handle: func(_ context.Context, u tgbotapi.Update) { got <- u.UpdateID },
		},
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader("{}")))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without secret, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader("{}"))
	req.Header.Set(telegram.SecretHeader, "s3")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	select {
	case id := <-got:
		if id != 7 {
			t.Fatalf("expected update 7, got %d", id)
		}
	case <-time.After(time.Second):
		t.Fatalf("update was not handled")
	}
}

type bodyParser struct{}

func (bodyParser) ParseWebhook(r *http.Request, _ string) (*tgbotapi.Update, error) {
	var u tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		return nil, err
	}
	return &u, nil
}

func TestWebhookKeepsSenderOrder(t *testing.T) {
	gin.SetMode(gin.TestMode)
	const n = 30
	var mu sync.Mutex
	var handled []int
	dispatcher := telegram.NewDispatcher(func(_ context.Context, u tgbotapi.Update) {
		time.Sleep(time.Millisecond)
		mu.Lock()
		handled = append(handled, u.UpdateID)
		mu.Unlock()
	})
	r := NewRouter(Deps{
		Store:   store.New(primaryID),
		Webhook: &handler.WebhookHandler{Parser: bodyParser{}, Handle: dispatcher.Dispatch},
	})

	for i := 1; i <= n; i++ {
		body := `{"update_id": ` + strconv.Itoa(i) + `, "message": {"message_id": ` + strconv.Itoa(i) +
			`, "date": 0, "from": {"id": 9, "is_bot": false, "first_name": "op"}, "chat": {"id": 9, "type": "private"}}}`
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader(body)))
		if w.Code != http.StatusOK {
			t.Fatalf("update %d: expected 200, got %d", i, w.Code)
		}
	}
	dispatcher.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(handled) != n {
		t.Fatalf("expected %d updates handled, got %d", n, len(handled))
	}
	for i, id := range handled {
		if id != i+1 {
			t.Fatalf("update order lost at position %d: %v", i, handled)
		}
	}
}
