package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/agent"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/diary"
)

type fakeConversations struct {
	mu       sync.Mutex
	requests []agent.Request
	ended    []string
	endErr   error
}

func (f *fakeConversations) Process(_ context.Context, req agent.Request) agent.Reply {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return agent.Reply{Text: "들려주셔서 고마워요.", Mode: agent.ModeEmpathy, Phase: agent.PhaseActive, Turns: len(f.requests)}
}

func (f *fakeConversations) Welcome(userID string) string { return "안녕하세요, " + userID + "님." }

func (f *fakeConversations) EndSession(userID string) error {
	f.ended = append(f.ended, userID)
	return f.endErr
}

func (f *fakeConversations) Snapshot(string) agent.Reply {
	return agent.Reply{Phase: agent.PhaseAwaitingProfile}
}

type fakeComposer struct {
	text string
	err  error
}

func (f fakeComposer) Compose(context.Context, string) (string, error) { return f.text, f.err }

func newTestServer(t *testing.T, composer Composer, apiKey string) (*Server, *fakeConversations, *diary.Store) {
	t.Helper()
	store, err := diary.NewStore(t.TempDir())
	require.NoError(t, err)
	conv := &fakeConversations{}
	s := New(Deps{
		Conversations: conv,
		Diaries:       store,
		Composer:      composer,
		Stats: map[string]StatsFunc{
			"index": func(context.Context) (interface{}, error) { return map[string]int{"facilities": 3}, nil },
		},
	}, apiKey)
	return s, conv, store
}

func do(t *testing.T, h http.Handler, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t, fakeComposer{}, "")
	rec := do(t, s.Handler(), http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, map[string]interface{}{"facilities": float64(3)}, body["index"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestHealth_DegradedWhenStatsFail(t *testing.T) {
	s, _, _ := newTestServer(t, fakeComposer{}, "")
	s.deps.Stats["index"] = func(context.Context) (interface{}, error) { return nil, errors.New("database is locked") }
	rec := do(t, s.Handler(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", decode(t, rec)["status"])
}

func TestChat_ForwardsTextAndMode(t *testing.T) {
	s, conv, _ := newTestServer(t, fakeComposer{}, "")

	rec := do(t, s.Handler(), http.MethodPost, "/users/grace/chat", `{"text":"서울 화장장 알려줘","mode":"info"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "들려주셔서 고마워요.", body["text"])
	assert.Equal(t, "active", body["phase"])

	require.Len(t, conv.requests, 1)
	assert.Equal(t, agent.Request{UserID: "grace", Text: "서울 화장장 알려줘", Mode: agent.ModeInfo}, conv.requests[0])
}

func TestChat_RejectsBadInput(t *testing.T) {
	s, conv, _ := newTestServer(t, fakeComposer{}, "")

	rec := do(t, s.Handler(), http.MethodPost, "/users/grace/chat", `{"text":"hi","mode":"legal"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s.Handler(), http.MethodPost, "/users/grace/chat", `{"txt":"hi"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s.Handler(), http.MethodPost, "/users/grace/chat", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, conv.requests)
}

func TestWelcomeStateAndEnd(t *testing.T) {
	s, conv, _ := newTestServer(t, fakeComposer{}, "")

	rec := do(t, s.Handler(), http.MethodGet, "/users/grace/welcome", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "안녕하세요, grace님.", decode(t, rec)["message"])

	rec = do(t, s.Handler(), http.MethodGet, "/users/grace/state", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "awaiting_profile", decode(t, rec)["phase"])

	rec = do(t, s.Handler(), http.MethodPost, "/users/grace/end", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"grace"}, conv.ended)

	conv.endErr = errors.New("disk full")
	rec = do(t, s.Handler(), http.MethodPost, "/users/grace/end", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestDiaryRoutes(t *testing.T) {
	s, _, store := newTestServer(t, fakeComposer{}, "")
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/users/grace/diaries/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []interface{}{}, decode(t, rec)["dates"])

	require.NoError(t, store.Save("grace", "2025-03-01", "어제는 조용했다."))
	require.NoError(t, store.Save("grace", "2025-03-02", "오늘은 딸이 왔다."))

	rec = do(t, h, http.MethodGet, "/users/grace/diaries/", "")
	assert.Equal(t, []interface{}{"2025-03-02", "2025-03-01"}, decode(t, rec)["dates"])

	rec = do(t, h, http.MethodGet, "/users/grace/diaries/2025-03-02", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "오늘은 딸이 왔다.", decode(t, rec)["text"])

	rec = do(t, h, http.MethodGet, "/users/grace/diaries/2025-02-30", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/users/grace/diaries/2025-01-01", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodDelete, "/users/grace/diaries/2025-03-01", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, http.MethodDelete, "/users/grace/diaries/2025-03-01", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestComposeDiary(t *testing.T) {
	s, _, _ := newTestServer(t, fakeComposer{text: "오늘은 따뜻했다."}, "")
	rec := do(t, s.Handler(), http.MethodPost, "/users/grace/diaries/compose", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "오늘은 따뜻했다.", decode(t, rec)["text"])

	s, _, _ = newTestServer(t, fakeComposer{text: diary.NothingToSummarize, err: diary.ErrNoConversation}, "")
	rec = do(t, s.Handler(), http.MethodPost, "/users/grace/diaries/compose", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, diary.NothingToSummarize, decode(t, rec)["error"])

	s, _, _ = newTestServer(t, fakeComposer{err: errors.New("model down")}, "")
	rec = do(t, s.Handler(), http.MethodPost, "/users/grace/diaries/compose", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestBearerAuth(t *testing.T) {
	s, _, _ := newTestServer(t, fakeComposer{}, "s3cret")
	h := s.Handler()

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/users/grace/welcome", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/users/grace/welcome", "", "Authorization", "Bearer wrong").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/users/grace/welcome", "", "Authorization", "Bearer s3cret").Code)
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	s, _, _ := newTestServer(t, fakeComposer{}, "")
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	client := &http.Client{Timeout: 2 * time.Second}
	require.Eventually(t, func() bool {
		resp, err := client.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)
	client.CloseIdleConnections()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
