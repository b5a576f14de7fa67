package gateway

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/memarena/internal/agent"
	"github.com/soyeahso/memarena/internal/arena"
	"github.com/soyeahso/memarena/internal/chat"
	"github.com/soyeahso/memarena/internal/config"
	"github.com/soyeahso/memarena/internal/domain"
	"github.com/soyeahso/memarena/internal/llm"
	"github.com/soyeahso/memarena/internal/logging"
	"github.com/soyeahso/memarena/internal/store"
	"github.com/soyeahso/memarena/internal/stream"
)

func testServer(t *testing.T, opts ...ServerOption) (*Server, *httptest.Server) {
	t.Helper()
	log := logging.New(nil, "silent")
	st := store.NewMemoryStore()
	d := agent.NewDispatcher(nil, 0, log,
		agent.NewMemoryLake(&llm.MockClient{Events: llm.TextEvents("Hello", " there")}, 256, log),
		agent.NewMem0(nil, nil, 256, log),
		agent.NewSupermemory(nil, nil, 256, log),
	)
	svc := chat.NewService(st, d, nil, chat.FlusherConfig{}, log)

	srv := New(config.Defaults(), log, append([]ServerOption{WithChat(svc)}, opts...)...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func do(t *testing.T, method, url, user string, body any) *http.Response {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func readFragments(t *testing.T, r io.Reader) []stream.Fragment {
	t.Helper()
	sc := stream.NewScanner(r)
	var out []stream.Fragment
	for sc.Next() {
		ev := sc.Event()
		if ev.Done() {
			break
		}
		f, err := stream.DecodeFragment(ev.Data)
		require.NoError(t, err)
		out = append(out, f)
	}
	require.NoError(t, sc.Err())
	return out
}

func chatBody(sessionID, userMsgID, agentID, text string) map[string]any {
	return map[string]any{
		"id":      sessionID,
		"agentId": agentID,
		"modelId": "claude-haiku-4-5-20251001",
		"messages": []map[string]any{
			{"id": userMsgID, "role": "user", "parts": []map[string]any{{"type": "text", "text": text}}},
		},
	}
}

// --- Basic endpoints ---

func TestHealthEndpoints(t *testing.T) {
	_, ts := testServer(t)

	resp := do(t, "GET", ts.URL+"/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	health := decode[HealthResponse](t, resp)
	assert.True(t, health.OK)
	assert.Equal(t, "ok", health.Status)

	resp = do(t, "GET", ts.URL+"/api/ping", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{"ok": true}, decode[map[string]any](t, resp))
}

func TestModelsEndpoint(t *testing.T) {
	_, ts := testServer(t)

	resp := do(t, "GET", ts.URL+"/api/models", "", nil)
	got := decode[modelsResponse](t, resp)
	assert.Equal(t, domain.DefaultModel, got.DefaultModel)
	assert.Len(t, got.Models, 4)
	assert.Len(t, got.Agents, 3)
}

func TestNotFoundEndpoint(t *testing.T) {
	_, ts := testServer(t)

	resp := do(t, "GET", ts.URL+"/nonexistent", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestChatNotConfigured(t *testing.T) {
	srv := New(config.Defaults(), logging.New(nil, "silent"))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp := do(t, "POST", ts.URL+"/api/chat", "u", chatBody("s", "m", "mem0", "hi"))
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

// --- Chat ---

func TestChatRequiresUser(t *testing.T) {
	_, ts := testServer(t)

	resp := do(t, "POST", ts.URL+"/api/chat", "", chatBody("s1", "u1", "memorylake", "hi"))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "X-User-ID header required", decode[errorBody](t, resp).Message)
}

func TestChatBadBodies(t *testing.T) {
	_, ts := testServer(t)

	resp := do(t, "POST", ts.URL+"/api/chat", "u", "{nope")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Bad Request", decode[errorBody](t, resp).Message)

	resp = do(t, "POST", ts.URL+"/api/chat", "u", map[string]any{"id": "s1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode[errorBody](t, resp)
	assert.Equal(t, "Validation failed", body.Message)
	assert.NotEmpty(t, body.Issues)

	b := chatBody("s1", "u1", "memorylake", "hi")
	b["messages"] = []map[string]any{{"role": "assistant", "parts": []any{}}}
	resp = do(t, "POST", ts.URL+"/api/chat", "u", b)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "last message must be user", decode[errorBody](t, resp).Message)
}

func TestChatStreamsAndPersists(t *testing.T) {
	_, ts := testServer(t)

	resp := do(t, "POST", ts.URL+"/api/chat", "u", chatBody("s1", "u1", "memorylake", "Tell me a story"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "v1", resp.Header.Get(stream.ProtocolHeader))

	frags := readFragments(t, resp.Body)
	require.NotEmpty(t, frags)
	assert.Equal(t, stream.KindStart, frags[0].Type)
	assert.Equal(t, stream.KindFinish, frags[len(frags)-1].Type)
	assert.Equal(t, "Hello there", stream.Text(frags))

	hist := decode[[]chat.MessageDTO](t, do(t, "GET", ts.URL+"/api/sessions/s1/messages", "u", nil))
	require.Len(t, hist, 2)
	assert.Equal(t, "Tell me a story", hist[0].Content)
	assert.Equal(t, "Hello there", hist[1].Content)
	assert.Equal(t, "claude-haiku-4-5-20251001", *hist[1].ProviderID)

	list := decode[[]domain.SessionSummary](t, do(t, "GET", ts.URL+"/api/sessions", "u", nil))
	require.Len(t, list, 1)
	assert.Equal(t, "Tell me a story", list[0].Title)
}

func TestChatAgentErrorIsOneFragment(t *testing.T) {
	_, ts := testServer(t)

	resp := do(t, "POST", ts.URL+"/api/chat", "u", chatBody("s1", "u1", "mem0", "hi"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	frags := readFragments(t, resp.Body)
	require.Len(t, frags, 1)
	assert.Equal(t, stream.KindError, frags[0].Type)
	assert.Contains(t, frags[0].ErrorText, "Mem0 is not configured")

	hist := decode[[]chat.MessageDTO](t, do(t, "GET", ts.URL+"/api/sessions/s1/messages", "u", nil))
	require.Len(t, hist, 2)
	assert.Equal(t, true, hist[1].Metadata[domain.MetaIsError])
}

func TestChatRoundOfThree(t *testing.T) {
	_, ts := testServer(t)

	var wg sync.WaitGroup
	for _, a := range domain.AgentIDs() {
		wg.Add(1)
		go func(a domain.AgentID) {
			defer wg.Done()
			resp := do(t, "POST", ts.URL+"/api/chat", "u", chatBody("s1", "u1", string(a), "hi"))
			io.Copy(io.Discard, resp.Body)
		}(a)
	}
	wg.Wait()

	hist := decode[[]chat.MessageDTO](t, do(t, "GET", ts.URL+"/api/sessions/s1/messages", "u", nil))
	require.Len(t, hist, 4)
	agents := map[string]bool{}
	for _, m := range hist[1:] {
		assert.Equal(t, "u1", *m.ReplyToMessageID)
		agents[*m.AgentID] = true
	}
	assert.Len(t, agents, 3)
}

// --- Sessions ---

func TestSessionRoutes(t *testing.T) {
	_, ts := testServer(t)

	resp := do(t, "POST", ts.URL+"/api/sessions", "u", map[string]string{"id": "s9"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = do(t, "POST", ts.URL+"/api/sessions/s9/messages", "u", map[string]any{
		"content":     "with file",
		"attachments": []map[string]any{{"drive_item_id": "d1", "filename": "a.pdf", "size": 12}},
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, decode[map[string]string](t, resp)["userMessageId"])

	resp = do(t, "PATCH", ts.URL+"/api/sessions/s9", "u", map[string]string{"title": "Renamed"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	list := decode[[]domain.SessionSummary](t, do(t, "GET", ts.URL+"/api/sessions", "u", nil))
	require.Len(t, list, 1)
	assert.Equal(t, "Renamed", list[0].Title)

	resp = do(t, "GET", ts.URL+"/api/sessions/s9/messages", "someone-else", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Session not found", decode[errorBody](t, resp).Message)

	resp = do(t, "DELETE", ts.URL+"/api/sessions/s9", "u", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = do(t, "DELETE", ts.URL+"/api/sessions/s9", "u", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// --- Arena proxies ---

type upstreamCall struct {
	method, path, query, user string
	body                      map[string]any
}

func fakeArena(t *testing.T, status int, reply string) (*httptest.Server, *[]upstreamCall) {
	t.Helper()
	var mu sync.Mutex
	var calls []upstreamCall
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := upstreamCall{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery, user: r.Header.Get("X-User-ID")}
		json.NewDecoder(r.Body).Decode(&c.body)
		mu.Lock()
		calls = append(calls, c)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, reply)
	}))
	t.Cleanup(ts.Close)
	return ts, &calls
}

func TestArenaProxiesNotConfigured(t *testing.T) {
	_, ts := testServer(t)

	resp := do(t, "POST", ts.URL+"/api/arena/documents", "u", map[string]string{})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, arenaNotConfigured, decode[errorBody](t, resp).Message)

	resp = do(t, "POST", ts.URL+"/api/upload/create-multipart", "", map[string]any{"file_size": 1})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, "configuration is checked before the user header")
	assert.Equal(t, uploadNotConfigured, decode[errorBody](t, resp).Message)
}

func TestCreateDocumentProxy(t *testing.T) {
	up, calls := fakeArena(t, http.StatusOK, `{"success":true,"data":{"drive_item_id":"d1"}}`)
	_, ts := testServer(t, WithArena(arena.NewClient(up.URL, nil, logging.New(nil, "silent"))))

	resp := do(t, "POST", ts.URL+"/api/arena/documents", "u", map[string]string{"project_id": "p", "file_name": "a.pdf"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "project_id, file_name, and object_key are required", decode[errorBody](t, resp).Message)

	resp = do(t, "POST", ts.URL+"/api/arena/documents", "u", "[1,")
	assert.Equal(t, "Invalid JSON", decode[errorBody](t, resp).Message)

	resp = do(t, "POST", ts.URL+"/api/arena/documents", "u", map[string]string{"project_id": "p", "file_name": "a.pdf", "object_key": "k"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "d1", decode[map[string]any](t, resp)["data"].(map[string]any)["drive_item_id"])

	require.Len(t, *calls, 1)
	c := (*calls)[0]
	assert.Equal(t, arena.DocumentsPath, c.path)
	assert.Equal(t, "u", c.user)
	assert.Equal(t, "u", c.body["user_id"])
	assert.Equal(t, "k", c.body["object_key"])
}

func TestDocumentStatusProxyPassesStatus(t *testing.T) {
	up, calls := fakeArena(t, http.StatusNotFound, `{"success":false,"message":"no such document"}`)
	_, ts := testServer(t, WithArena(arena.NewClient(up.URL, nil, logging.New(nil, "silent"))))

	resp := do(t, "GET", ts.URL+"/api/arena/documents/status?memorylake_document_id=m1", "u", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "memorylake_document_id and supermemory_document_id query params are required", decode[errorBody](t, resp).Message)

	resp = do(t, "GET", ts.URL+"/api/arena/documents/status?memorylake_document_id=m1&supermemory_document_id=s1", "u", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "no such document", decode[errorBody](t, resp).Message)

	require.Len(t, *calls, 1)
	assert.Contains(t, (*calls)[0].query, "memorylake_document_id=m1")
	assert.Contains(t, (*calls)[0].query, "supermemory_document_id=s1")
}

func TestMultipartProxies(t *testing.T) {
	up, calls := fakeArena(t, http.StatusOK, `{"success":true,"data":{}}`)
	_, ts := testServer(t, WithArena(arena.NewClient(up.URL, nil, logging.New(nil, "silent"))))

	for _, bad := range []any{map[string]any{"file_size": -1}, map[string]any{"file_size": "10"}, map[string]any{}} {
		resp := do(t, "POST", ts.URL+"/api/upload/create-multipart", "u", bad)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "file_size must be a non-negative number", decode[errorBody](t, resp).Message)
	}

	resp := do(t, "POST", ts.URL+"/api/upload/create-multipart", "u", map[string]any{"file_size": 10485760})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, "POST", ts.URL+"/api/upload/complete-multipart", "u", map[string]any{"upload_id": "up", "object_key": "k"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "upload_id, object_key, part_eTags required", decode[errorBody](t, resp).Message)

	resp = do(t, "POST", ts.URL+"/api/upload/complete-multipart", "u", map[string]any{
		"upload_id": "up", "object_key": "k", "part_eTags": []map[string]any{{"number": 1, "etag": "e1"}},
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.Len(t, *calls, 2)
	assert.Equal(t, float64(10485760), (*calls)[0].body["file_size"])
	assert.Equal(t, arena.CompleteMultipartPath, (*calls)[1].path)
	assert.Len(t, (*calls)[1].body["part_eTags"], 1)
}

// --- Profile ---

func TestProfileExchange(t *testing.T) {
	main := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/user/self" || r.Header.Get("Cookie") != "session=abc" {
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"success":false,"message":"bad session"}`)
			return
		}
		io.WriteString(w, `{"success":true,"data":{"id":"u-9","display_name":"Ann","email":"a@x","avatar_url":""}}`)
	}))
	defer main.Close()
	up, calls := fakeArena(t, http.StatusOK, `{"data":{"mem0_org_id":"o","mem0_proj_id":"p","dataset_id":"d","proj_id":"pj"}}`)

	log := logging.New(nil, "silent")
	_, ts := testServer(t,
		WithArena(arena.NewClient(up.URL, nil, log)),
		WithIdentity(arena.NewIdentity(main.URL, "session", nil)),
	)

	resp := do(t, "GET", ts.URL+"/api/profile", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Not signed in or session expired", decode[errorBody](t, resp).Message)

	req, err := http.NewRequest("GET", ts.URL+"/api/profile", nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: "session", Value: "expired"})
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "bad session", decode[errorBody](t, resp).Message)

	req, err = http.NewRequest("GET", ts.URL+"/api/profile", nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: "session", Value: "abc"})
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := decode[profileResponse](t, resp)
	assert.Equal(t, "u-9", got.User.ID)
	assert.Equal(t, "o", got.ArenaProfile.Mem0rgID)
	assert.Equal(t, "pj", got.ArenaProfile.ProjID)

	require.Len(t, *calls, 1)
	assert.Equal(t, "u-9", (*calls)[0].user)
	assert.Equal(t, arena.ProfilePath, (*calls)[0].path)
}

func TestResolveBindAddr(t *testing.T) {
	tests := []struct {
		cfg  config.ServerConfig
		want string
	}{
		{config.ServerConfig{Bind: "loopback", Port: 1}, "127.0.0.1:1"},
		{config.ServerConfig{Bind: "lan", Port: 2}, "0.0.0.0:2"},
		{config.ServerConfig{Bind: "custom", CustomBindHost: "10.0.0.5", Port: 3}, "10.0.0.5:3"},
		{config.ServerConfig{Bind: "custom", Port: 4}, "0.0.0.0:4"},
		{config.ServerConfig{Port: 5}, "127.0.0.1:5"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, resolveBindAddr(tt.cfg))
	}
}
