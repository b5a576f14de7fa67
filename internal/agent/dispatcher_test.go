package agent

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/soyeahso/memarena/internal/arena"
	"github.com/soyeahso/memarena/internal/domain"
	"github.com/soyeahso/memarena/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdapter struct {
	id    domain.AgentID
	frags []stream.Fragment
	files bool

	mu    sync.Mutex
	calls []Call
}

func (f *fakeAdapter) ID() domain.AgentID { return f.id }
func (f *fakeAdapter) AcceptsFiles() bool { return f.files }

func (f *fakeAdapter) Stream(_ context.Context, call Call) <-chan stream.Fragment {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
	ch := make(chan stream.Fragment, len(f.frags))
	for _, fr := range f.frags {
		ch <- fr
	}
	close(ch)
	return ch
}

func reply(text string) []stream.Fragment {
	return []stream.Fragment{
		stream.Start("asst-1", nil),
		stream.TextStart("block-0"),
		stream.TextDelta("block-0", text),
		stream.TextEnd("block-0"),
		stream.Finish("stop", nil),
	}
}

func userMsg(parts ...domain.Part) domain.UIMessage {
	return domain.UIMessage{ID: "m1", Role: domain.RoleUser, Parts: parts}
}

func params(agent domain.AgentID, msgs ...domain.UIMessage) (Params, *[]string) {
	var errs []string
	return Params{
		AgentID:            agent,
		ModelID:            "claude-sonnet-4-5-20250929",
		UserID:             "u1",
		Messages:           msgs,
		AssistantMessageID: "asst-1",
		OnStreamError:      func(text string) { errs = append(errs, text) },
	}, &errs
}

func TestDispatchForwardsFragments(t *testing.T) {
	a := &fakeAdapter{id: domain.AgentMemoryLake, frags: reply("hi")}
	d := NewDispatcher(nil, 0, silentLog(), a)

	p, errs := params(domain.AgentMemoryLake, userMsg(domain.TextPart("hello")))
	p.MemorylakeProfile = map[string]any{"mem0rgId": "o", "mem0ProjId": "p", "datasetId": "ds"}
	var out stream.Collector
	require.NoError(t, d.Dispatch(context.Background(), p, &out))

	assert.Equal(t, reply("hi"), out.Fragments())
	assert.Empty(t, *errs)
	require.Len(t, a.calls, 1)
	assert.Equal(t, "hello", a.calls[0].Turns[0].Text)
	assert.Equal(t, "asst-1", a.calls[0].MessageID)
	require.NotNil(t, a.calls[0].Profile)
	assert.Equal(t, "ds", a.calls[0].Profile.DatasetID)
}

func TestDispatchUnknownAgent(t *testing.T) {
	d := NewDispatcher(nil, 0, silentLog())
	p, errs := params("letta", userMsg(domain.TextPart("x")))
	var out stream.Collector
	require.NoError(t, d.Dispatch(context.Background(), p, &out))

	assert.Equal(t, []stream.Fragment{stream.Error("Unknown agent: letta")}, out.Fragments())
	assert.Equal(t, []string{"Unknown agent: letta"}, *errs)
}

func TestDispatchEnforcesSingleTerminal(t *testing.T) {
	frags := append(reply("a"), stream.TextDelta("block-0", "late"), stream.Error("late error"))
	a := &fakeAdapter{id: domain.AgentMem0, frags: frags}
	d := NewDispatcher(nil, 0, silentLog(), a)

	p, errs := params(domain.AgentMem0, userMsg(domain.TextPart("x")))
	var out stream.Collector
	require.NoError(t, d.Dispatch(context.Background(), p, &out))
	assert.Equal(t, reply("a"), out.Fragments())
	assert.Empty(t, *errs)
}

func TestDispatchAddsMissingTerminal(t *testing.T) {
	a := &fakeAdapter{id: domain.AgentMem0, frags: reply("a")[:3]}
	d := NewDispatcher(nil, 0, silentLog(), a)

	p, errs := params(domain.AgentMem0, userMsg(domain.TextPart("x")))
	var out stream.Collector
	require.NoError(t, d.Dispatch(context.Background(), p, &out))
	fs := out.Fragments()
	require.Len(t, fs, 4)
	assert.Equal(t, stream.Error("Upstream stream ended unexpectedly"), fs[3])
	assert.Equal(t, []string{"Upstream stream ended unexpectedly"}, *errs)
}

func TestDispatchReportsAdapterErrors(t *testing.T) {
	a := &fakeAdapter{id: domain.AgentSupermemory, frags: []stream.Fragment{stream.Error("boom")}}
	d := NewDispatcher(nil, 0, silentLog(), a)
	p, errs := params(domain.AgentSupermemory, userMsg(domain.TextPart("x")))
	var out stream.Collector
	require.NoError(t, d.Dispatch(context.Background(), p, &out))
	assert.Equal(t, []string{"boom"}, *errs)
}

func TestDispatchReturnsWriteError(t *testing.T) {
	a := &fakeAdapter{id: domain.AgentMemoryLake, frags: reply("x")}
	d := NewDispatcher(nil, 0, silentLog(), a)
	p, _ := params(domain.AgentMemoryLake, userMsg(domain.TextPart("x")))

	n := 0
	w := stream.WriterFunc(func(stream.Fragment) error {
		n++
		return fmt.Errorf("broken pipe")
	})
	err := d.Dispatch(context.Background(), p, w)
	assert.EqualError(t, err, "broken pipe")
	assert.Equal(t, 5, n)
}

type fakeURLs struct {
	url string
	err error
}

func (f fakeURLs) DownloadURL(_ context.Context, itemID, _ string) (*arena.Download, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &arena.Download{URL: f.url + "/" + itemID, Headers: map[string]string{"X-Sig": "s"}}, nil
}

func TestDispatchResolvesFilesForFileConsumers(t *testing.T) {
	a := &fakeAdapter{id: domain.AgentMem0, frags: reply("ok"), files: true}
	d := NewDispatcher(NewResolver(fakeURLs{url: "https://files"}, nil), 0, silentLog(), a)

	p, _ := params(domain.AgentMem0, userMsg(
		domain.TextPart("see"),
		domain.FileRefPart(domain.FileRef{DriveItemID: "img", MimeType: "image/png", Filename: "a.png", Size: 10}),
		domain.FileRefPart(domain.FileRef{Filename: "no-drive-id"}),
	))
	require.NoError(t, d.Dispatch(context.Background(), p, &stream.Collector{}))

	files := a.calls[0].Turns[0].Files
	require.Len(t, files, 1)
	assert.Equal(t, "https://files/img", files[0].URL)
	assert.Equal(t, "image/png", files[0].MediaType)
}

func TestDispatchResolutionFailureSkipsAdapter(t *testing.T) {
	a := &fakeAdapter{id: domain.AgentMem0, frags: reply("ok"), files: true}
	d := NewDispatcher(NewResolver(fakeURLs{url: "https://files"}, nil), 0, silentLog(), a)

	p, errs := params(domain.AgentMem0, userMsg(
		domain.FileRefPart(domain.FileRef{DriveItemID: "v", MimeType: "video/mp4", Size: 10}),
	))
	var out stream.Collector
	require.NoError(t, d.Dispatch(context.Background(), p, &out))

	want := "Unsupported file type for anthropic: video/mp4. Supported: image/*, PDF; txt (text/plain)."
	assert.Equal(t, []stream.Fragment{stream.Error(want)}, out.Fragments())
	assert.Equal(t, []string{want}, *errs)
	assert.Empty(t, a.calls)
}

func TestDispatchIgnoresFilesForTextAdapters(t *testing.T) {
	a := &fakeAdapter{id: domain.AgentMemoryLake, frags: reply("ok")}
	d := NewDispatcher(nil, 0, silentLog(), a)
	p, _ := params(domain.AgentMemoryLake, userMsg(
		domain.FileRefPart(domain.FileRef{DriveItemID: "v", MimeType: "video/mp4", Size: 10}),
	))
	var out stream.Collector
	require.NoError(t, d.Dispatch(context.Background(), p, &out))
	assert.Equal(t, reply("ok"), out.Fragments())
}

// --- Resolver ---

func TestResolverInlinesNonImages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Sig") != "s" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		switch r.URL.Path {
		case "/doc":
			_, _ = w.Write([]byte("%PDF-1.7"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()
	r := NewResolver(fakeURLs{url: srv.URL}, nil)
	ctx := context.Background()

	files, err := r.Resolve(ctx, "gpt-5-mini", "u", []domain.FileRef{{DriveItemID: "doc", MimeType: "application/pdf", Size: 8, Filename: "r.pdf"}})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Empty(t, files[0].URL)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("%PDF-1.7")), files[0].Data)
	assert.Equal(t, "r.pdf", files[0].Filename)

	_, err = r.Resolve(ctx, "gpt-5-mini", "u", []domain.FileRef{{DriveItemID: "gone", MimeType: "application/pdf", Size: 8}})
	assert.EqualError(t, err, "Failed to fetch file: 404")
}

func TestResolverSizeLimits(t *testing.T) {
	r := NewResolver(fakeURLs{url: "http://unused"}, nil)
	ctx := context.Background()

	_, err := r.Resolve(ctx, "gpt-5-mini", "u", []domain.FileRef{{DriveItemID: "a", MimeType: "application/pdf", Size: arena.MaxInlineBytes}})
	assert.EqualError(t, err, "File too large for base64 (max 20MB)")

	_, err = r.Resolve(ctx, "gpt-5-mini", "u", []domain.FileRef{{DriveItemID: "a", MimeType: "application/pdf"}})
	assert.EqualError(t, err, "File size unknown; cannot use base64")
}

func TestResolverLyingSize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 64))
	}))
	defer srv.Close()
	r := NewResolver(fakeURLs{url: srv.URL}, nil)
	r.maxBytes = 32

	_, err := r.Resolve(context.Background(), "gpt-5-mini", "u", []domain.FileRef{{DriveItemID: "a", MimeType: "audio/wav", Size: 10}})
	assert.EqualError(t, err, "File too large for base64 (max 20MB)")
}

func TestResolverDownloadURLFailure(t *testing.T) {
	r := NewResolver(fakeURLs{err: &arena.APIError{Status: 404, Message: "Get download URL failed (404)"}}, nil)
	_, err := r.Resolve(context.Background(), "gpt-5-mini", "u", []domain.FileRef{{DriveItemID: "a", MimeType: "image/png"}})
	assert.EqualError(t, err, "Get download URL failed (404)")

	r = NewResolver(fakeURLs{err: arena.ErrNotConfigured}, nil)
	_, err = r.Resolve(context.Background(), "gpt-5-mini", "u", []domain.FileRef{{DriveItemID: "a", MimeType: "image/png"}})
	assert.EqualError(t, err, "ARENA_API_BASE is not configured")
}

func TestResolverDefaultsMediaType(t *testing.T) {
	r := NewResolver(fakeURLs{url: "http://x"}, nil)
	_, err := r.Resolve(context.Background(), "gpt-5-mini", "u", []domain.FileRef{{DriveItemID: "a"}})
	assert.EqualError(t, err, "Unsupported file type for openai: application/octet-stream. Supported: image/*, PDF; audio (wav/mp3).")
}
