package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/soyeahso/memarena/internal/domain"
	"github.com/soyeahso/memarena/internal/llm"
	"github.com/soyeahso/memarena/internal/logging"
	"github.com/soyeahso/memarena/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func silentLog() *logging.Logger {
	return logging.New(nil, "silent")
}

func kinds(fs []stream.Fragment) []stream.Kind {
	out := make([]stream.Kind, len(fs))
	for i, f := range fs {
		out[i] = f.Type
	}
	return out
}

func userCall(text string) Call {
	return Call{
		Turns:     []Turn{{Role: domain.RoleUser, Text: text}},
		ModelID:   "gpt-5-mini",
		UserID:    "u1",
		MessageID: "asst-1",
	}
}

func mockRegistry(m *llm.MockClient) *llm.Registry {
	reg := llm.NewRegistry(silentLog())
	reg.Register("mock", m)
	reg.SetFallback("mock")
	return reg
}

type fakeMem0 struct {
	mu       sync.Mutex
	memories []llm.Memory
	err      error
	queries  []string
	added    [][]llm.Message
}

func (f *fakeMem0) Search(_ context.Context, _, query string, _ int) ([]llm.Memory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	return f.memories, f.err
}

func (f *fakeMem0) Add(_ context.Context, _ string, msgs []llm.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, msgs)
	return nil
}

type fakeSupermemory struct {
	mu      sync.Mutex
	profile *llm.UserProfile
	added   []string
}

func (f *fakeSupermemory) Profile(context.Context, string, string) (*llm.UserProfile, error) {
	return f.profile, nil
}

func (f *fakeSupermemory) Add(_ context.Context, _, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, content)
	return nil
}

var fullReply = []stream.Kind{
	stream.KindStart, stream.KindTextStart, stream.KindTextDelta, stream.KindTextDelta,
	stream.KindTextEnd, stream.KindFinish,
}

// --- Memory Lake ---

func TestMemoryLakeNotConfigured(t *testing.T) {
	fs := stream.Drain(NewMemoryLake(nil, 0, silentLog()).Stream(context.Background(), userCall("hi")))
	require.Len(t, fs, 1)
	assert.Equal(t, stream.KindError, fs[0].Type)
	assert.Equal(t, "Memory Lake is not configured (ZOOTOPIA_API, ZOOTOPIA_API_KEY)", fs[0].ErrorText)
}

func TestMemoryLakeStream(t *testing.T) {
	mock := &llm.MockClient{ProviderName: "memorylake", Events: llm.TextEvents("Hel", "lo")}
	call := userCall("hi")
	call.Turns[0].Files = []llm.File{{MediaType: "image/png", URL: "https://x"}}
	call.Profile = &domain.MemorylakeProfile{Mem0rgID: "o", Mem0ProjID: "p", DatasetID: "d"}

	fs := stream.Drain(NewMemoryLake(mock, 2048, silentLog()).Stream(context.Background(), call))
	assert.Equal(t, fullReply, kinds(fs))
	assert.Equal(t, "asst-1", fs[0].MessageID)
	assert.Equal(t, "memorylake", fs[0].MessageMetadata["agentId"])
	assert.Equal(t, "block-0", fs[1].ID)
	assert.Equal(t, "Hello", stream.Text(fs))
	assert.Equal(t, "stop", fs[5].FinishReason)

	req := mock.Requests()[0]
	assert.Equal(t, "o", req.Headers["x-memorylake-org-id"])
	assert.Equal(t, 2048, req.MaxTokens)
	assert.Empty(t, req.Messages[0].Files)
}

func TestMemoryLakeUpstreamError(t *testing.T) {
	mock := &llm.MockClient{Events: []stream.Event{
		{Type: stream.EventMessageStart},
		{Type: stream.EventError},
	}}
	fs := stream.Drain(NewMemoryLake(mock, 0, silentLog()).Stream(context.Background(), userCall("hi")))
	assert.Equal(t, []stream.Kind{stream.KindStart, stream.KindError}, kinds(fs))
	assert.Equal(t, "Unknown Memory Lake error", fs[1].ErrorText)
}

func TestMemoryLakeStreamOpenError(t *testing.T) {
	mock := &llm.MockClient{StreamFunc: func(context.Context, llm.Request) (<-chan stream.Event, error) {
		return nil, errors.New("dial failed")
	}}
	fs := stream.Drain(NewMemoryLake(mock, 0, silentLog()).Stream(context.Background(), userCall("hi")))
	require.Len(t, fs, 1)
	assert.Equal(t, "dial failed", fs[0].ErrorText)
}

func TestStreamCancelledMidway(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mock := &llm.MockClient{StreamFunc: func(ctx context.Context, _ llm.Request) (<-chan stream.Event, error) {
		ch := make(chan stream.Event)
		go func() {
			defer close(ch)
			ch <- stream.Event{Type: stream.EventMessageStart}
			ch <- stream.Event{Type: stream.EventBlockDelta, Text: "par"}
			<-ctx.Done()
		}()
		return ch, nil
	}}

	out := NewMemoryLake(mock, 0, silentLog()).Stream(ctx, userCall("hi"))
	var fs []stream.Fragment
	for f := range out {
		fs = append(fs, f)
		if f.Type == stream.KindTextDelta {
			cancel()
		}
	}
	last := fs[len(fs)-1]
	assert.Equal(t, stream.KindError, last.Type)
	assert.Equal(t, "Request cancelled", last.ErrorText)
}

// --- Mem0 ---

func TestMem0InjectsMemoriesAndRecords(t *testing.T) {
	mock := &llm.MockClient{ProviderName: "openai", Events: llm.TextEvents("Tea", "!")}
	mem := &fakeMem0{memories: []llm.Memory{{Memory: "likes green tea"}}}
	a := NewMem0(mockRegistry(mock), mem, 0, silentLog())

	call := userCall("what do I drink?")
	call.Turns = append([]Turn{{Role: domain.RoleAssistant, Text: "earlier"}}, call.Turns...)
	call.Turns[1].Files = []llm.File{{MediaType: "application/pdf", Data: "UEZE"}}

	fs := stream.Drain(a.Stream(context.Background(), call))
	a.Wait()

	assert.Equal(t, fullReply, kinds(fs))
	assert.Equal(t, "mem0", fs[len(fs)-1].MessageMetadata["agentId"])
	assert.Equal(t, []string{"what do I drink?"}, mem.queries)

	req := mock.Requests()[0]
	assert.Contains(t, req.System, "- likes green tea")
	require.Len(t, req.Messages, 2)
	assert.Len(t, req.Messages[1].Files, 1)

	require.Len(t, mem.added, 1)
	assert.Equal(t, "what do I drink?", mem.added[0][0].Text)
	assert.Equal(t, "Tea!", mem.added[0][1].Text)
	assert.True(t, a.AcceptsFiles())
}

func TestMem0SearchFailure(t *testing.T) {
	mock := &llm.MockClient{}
	mem := &fakeMem0{err: errors.New("mem0: 500 boom")}
	a := NewMem0(mockRegistry(mock), mem, 0, silentLog())

	fs := stream.Drain(a.Stream(context.Background(), userCall("hi")))
	a.Wait()
	require.Len(t, fs, 1)
	assert.Equal(t, "Mem0 search failed: mem0: 500 boom", fs[0].ErrorText)
	assert.Empty(t, mock.Requests())
	assert.Empty(t, mem.added)
}

func TestMem0NotConfigured(t *testing.T) {
	fs := stream.Drain(NewMem0(nil, &fakeMem0{}, 0, silentLog()).Stream(context.Background(), userCall("hi")))
	require.Len(t, fs, 1)
	assert.Contains(t, fs[0].ErrorText, "Mem0 is not configured")
}

func TestMem0NoRecordOnError(t *testing.T) {
	mock := &llm.MockClient{Events: []stream.Event{{Type: stream.EventError, Err: "openai: 429 slow down"}}}
	mem := &fakeMem0{}
	a := NewMem0(mockRegistry(mock), mem, 0, silentLog())
	fs := stream.Drain(a.Stream(context.Background(), userCall("hi")))
	a.Wait()
	assert.Equal(t, []stream.Kind{stream.KindError}, kinds(fs))
	assert.Empty(t, mem.added)
}

// --- Supermemory ---

func TestSupermemoryInjectsProfile(t *testing.T) {
	mock := &llm.MockClient{Events: llm.TextEvents("Os", "lo")}
	sm := &fakeSupermemory{profile: &llm.UserProfile{Static: []string{"lives in Norway"}, Results: []string{"asked about fjords"}}}
	a := NewSupermemory(mockRegistry(mock), sm, 0, silentLog())

	call := userCall("where do I live?")
	call.Turns[0].Files = []llm.File{{MediaType: "image/png", URL: "u"}}
	fs := stream.Drain(a.Stream(context.Background(), call))
	a.Wait()

	assert.Equal(t, fullReply, kinds(fs))
	req := mock.Requests()[0]
	assert.Contains(t, req.System, "## User profile\n- lives in Norway")
	assert.Contains(t, req.System, "## Relevant memories\n- asked about fjords")
	assert.Empty(t, req.Messages[0].Files)
	assert.Equal(t, []string{"user: where do I live?\nassistant: Oslo"}, sm.added)
}

func TestSupermemoryEmptyProfile(t *testing.T) {
	mock := &llm.MockClient{}
	a := NewSupermemory(mockRegistry(mock), &fakeSupermemory{}, 0, silentLog())
	fs := stream.Drain(a.Stream(context.Background(), userCall("hi")))
	a.Wait()
	assert.Equal(t, stream.KindFinish, fs[len(fs)-1].Type)
	assert.Empty(t, mock.Requests()[0].System)
}

// --- prompt & history ---

func TestBuildSystemPrompt(t *testing.T) {
	assert.Empty(t, BuildSystemPrompt(PromptConfig{}))

	p := BuildSystemPrompt(PromptConfig{
		AgentName: "Mem0",
		Now:       time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Memories:  []string{" a ", ""},
		Dynamic:   []string{"b"},
	})
	assert.True(t, strings.HasPrefix(p, "Current date: 2026-03-01\nMemory provider: Mem0\n"))
	assert.Contains(t, p, "## Recent context\n- b\n")
	assert.Contains(t, p, "## Relevant memories\n- a\n")
	assert.NotContains(t, p, "User profile")
}

func TestHistory(t *testing.T) {
	msgs := []domain.UIMessage{
		{Role: "system", Parts: []domain.Part{domain.TextPart("be nice")}},
		{Role: "user", Parts: []domain.Part{domain.TextPart("a"), domain.TextPart("b"), domain.FileRefPart(domain.FileRef{DriveItemID: "d"})}},
		{Role: "tool", Parts: []domain.Part{domain.TextPart("x")}},
		{Role: "assistant", Parts: []domain.Part{{Type: "step-start"}, domain.TextPart("c")}},
	}
	turns := History(msgs)
	require.Len(t, turns, 3)
	assert.Equal(t, "ab", turns[1].Text)
	assert.Equal(t, "c", turns[2].Text)
	assert.Equal(t, 1, LastUser(turns))
	assert.Equal(t, -1, LastUser(turns[:1]))
}
