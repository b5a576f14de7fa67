package arena

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/soyeahso/memarena/internal/domain"
	"github.com/soyeahso/memarena/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func silentLog() *logging.Logger { return logging.New(nil, "silent") }

func arenaServer(t *testing.T, h http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", nil, silentLog()), srv
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestDownloadURL(t *testing.T) {
	c, _ := arenaServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/drives/items/item%2F1/download-url", r.URL.EscapedPath())
		assert.Equal(t, "u1", r.Header.Get("X-User-ID"))
		writeJSON(w, 200, map[string]any{"success": true, "data": map[string]any{
			"download_url": "https://files/x", "headers": map[string]string{"Authorization": "sig"},
		}})
	})

	d, err := c.DownloadURL(context.Background(), "item/1", "u1")
	require.NoError(t, err)
	assert.Equal(t, "https://files/x", d.URL)
	assert.Equal(t, "sig", d.Headers["Authorization"])
}

func TestDownloadURLErrors(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		_, err := NewClient("", nil, silentLog()).DownloadURL(context.Background(), "i", "u")
		assert.ErrorIs(t, err, ErrNotConfigured)
		assert.Equal(t, "ARENA_API_BASE is not configured", err.Error())
	})
	t.Run("backend message", func(t *testing.T) {
		c, _ := arenaServer(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, 404, map[string]any{"success": false, "message": "item not found"})
		})
		_, err := c.DownloadURL(context.Background(), "i", "u")
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, 404, apiErr.Status)
		assert.Equal(t, "item not found", apiErr.Message)
	})
	t.Run("generic message", func(t *testing.T) {
		c, _ := arenaServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(502)
		})
		_, err := c.DownloadURL(context.Background(), "i", "u")
		require.Error(t, err)
		assert.Equal(t, "Get download URL failed (502)", err.Error())
	})
}

func TestCreateDocumentAndStatus(t *testing.T) {
	c, _ := arenaServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case DocumentsPath:
			var body CreateDocumentRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "p1", body.ProjectID)
			assert.Equal(t, "u1", body.UserID)
			writeJSON(w, 200, map[string]any{"success": true, "data": map[string]any{
				"drive_item_id": "d1", "memorylake_document_id": "m1", "supermemory_document_id": "s1",
			}})
		case DocumentStatusPath:
			assert.Equal(t, "m1", r.URL.Query().Get("memorylake_document_id"))
			assert.Equal(t, "s1", r.URL.Query().Get("supermemory_document_id"))
			writeJSON(w, 200, map[string]any{"success": true, "data": map[string]any{"memorylake_status": "okay"}})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	doc, err := c.CreateDocument(context.Background(), "u1", CreateDocumentRequest{ProjectID: "p1", FileName: "a.pdf", ObjectKey: "k/a.pdf"})
	require.NoError(t, err)
	assert.Equal(t, "d1", doc.DriveItemID)

	st, err := c.DocumentStatus(context.Background(), "u1", "m1", "s1")
	require.NoError(t, err)
	assert.Equal(t, StatusOkay, st.MemorylakeStatus)
}

func TestMultipart(t *testing.T) {
	c, _ := arenaServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case CreateMultipartPath:
			writeJSON(w, 200, map[string]any{"success": true, "data": map[string]any{
				"upload_id": "up", "object_key": "k",
				"part_items": []map[string]any{{"number": 1, "size": 5, "upload_url": "https://s3/1"}},
			}})
		case CompleteMultipartPath:
			var body CompleteMultipartRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			if len(body.PartETags) == 0 {
				writeJSON(w, 400, map[string]any{"success": false, "error_code": "NO_PARTS"})
				return
			}
			writeJSON(w, 200, map[string]any{"success": true})
		}
	})

	m, err := c.CreateMultipart(context.Background(), "u", 5)
	require.NoError(t, err)
	require.Len(t, m.PartItems, 1)
	assert.Equal(t, "https://s3/1", m.PartItems[0].UploadURL)

	require.NoError(t, c.CompleteMultipart(context.Background(), "u", CompleteMultipartRequest{
		UploadID: "up", ObjectKey: "k", PartETags: []PartETag{{Number: 1, ETag: "abc"}},
	}))
	err = c.CompleteMultipart(context.Background(), "u", CompleteMultipartRequest{UploadID: "up", ObjectKey: "k"})
	require.Error(t, err)
	assert.Equal(t, "NO_PARTS", err.Error())
}

func TestProfile(t *testing.T) {
	for name, body := range map[string]any{
		"wrapped camel": map[string]any{"data": map[string]any{"mem0rgId": "o", "mem0ProjId": "p", "datasetId": "d", "projId": "pj"}},
		"bare snake":    map[string]any{"mem0_org_id": "o", "mem0_proj_id": "p", "dataset_id": "d", "proj_id": "pj"},
	} {
		t.Run(name, func(t *testing.T) {
			c, _ := arenaServer(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, ProfilePath, r.URL.Path)
				writeJSON(w, 200, body)
			})
			p, err := c.Profile(context.Background(), "u1")
			require.NoError(t, err)
			assert.Equal(t, "o", p.Mem0rgID)
			assert.Equal(t, "p", p.Mem0ProjID)
			assert.Equal(t, "d", p.DatasetID)
			assert.Equal(t, "pj", p.ProjID)
		})
	}

	t.Run("invalid", func(t *testing.T) {
		c, _ := arenaServer(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, 200, map[string]any{"data": map[string]any{"mem0rgId": "o"}})
		})
		_, err := c.Profile(context.Background(), "u1")
		require.Error(t, err)
		assert.Equal(t, "Invalid arena profile response", err.Error())
	})
}

func TestIdentitySelf(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/user/self", r.URL.Path)
		ck, err := r.Cookie("sid")
		if err != nil || ck.Value != "good" {
			writeJSON(w, 401, map[string]any{"success": false, "message": "session expired"})
			return
		}
		writeJSON(w, 200, map[string]any{"success": true, "data": map[string]any{"id": "u1", "email": "a@b.c"}})
	}))
	defer srv.Close()

	id := NewIdentity(srv.URL, "sid", nil)
	u, err := id.Self(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)

	_, err = id.Self(context.Background(), "bad")
	require.Error(t, err)
	assert.Equal(t, "session expired", err.Error())

	_, err = NewIdentity("", "", nil).Self(context.Background(), "x")
	assert.ErrorIs(t, err, ErrIdentityNotConfigured)
}

// --- Poller ---

type fakeDocs struct {
	created   []CreateDocumentRequest
	doc       *Document
	createErr error
	statuses  []string
	polls     int
}

func (f *fakeDocs) CreateDocument(_ context.Context, _ string, req CreateDocumentRequest) (*Document, error) {
	f.created = append(f.created, req)
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.doc, nil
}

func (f *fakeDocs) DocumentStatus(context.Context, string, string, string) (*DocumentStatus, error) {
	i := f.polls
	f.polls++
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	return &DocumentStatus{MemorylakeStatus: f.statuses[i]}, nil
}

// fakeClock advances by each Sleep.
type fakeClock struct{ now time.Time }

func testPoller(api DocumentAPI) (*Poller, *fakeClock) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	p := NewPoller(api)
	p.Now = func() time.Time { return clk.now }
	p.Sleep = func(_ context.Context, d time.Duration) error {
		clk.now = clk.now.Add(d)
		return nil
	}
	return p, clk
}

func okDoc() *Document {
	return &Document{DriveItemID: "drive-1", MemorylakeDocumentID: "m", SupermemoryDocumentID: "s"}
}

func TestPollerSucceeds(t *testing.T) {
	api := &fakeDocs{doc: okDoc(), statuses: []string{"processing", "processing", StatusOkay}}
	p, clk := testPoller(api)

	var seen []UploadStatus
	out, err := p.EnsureReady(context.Background(), "u", "proj", []domain.Attachment{{ObjectKey: "uploads/x/report.pdf"}}, func(s UploadStatus) {
		seen = append(seen, s)
	})
	require.NoError(t, err)
	assert.Equal(t, "drive-1", out[0].DriveItemID)
	assert.Equal(t, 3, api.polls)
	assert.Equal(t, 4*time.Second, clk.now.Sub(time.Unix(0, 0)))
	assert.Equal(t, []UploadStatus{UploadProcessing, UploadDone}, seen)
	assert.Equal(t, "report.pdf", api.created[0].FileName)
}

func TestPollerTerminalFailure(t *testing.T) {
	api := &fakeDocs{doc: okDoc(), statuses: []string{StatusInvalid}}
	p, _ := testPoller(api)
	_, err := p.EnsureReady(context.Background(), "u", "proj", []domain.Attachment{{ObjectKey: "k", Filename: "a"}}, nil)
	require.Error(t, err)
	assert.Equal(t, "Document processing failed (memorylake_status: invalid)", err.Error())
}

func TestPollerTimeout(t *testing.T) {
	api := &fakeDocs{doc: okDoc(), statuses: []string{"processing"}}
	p, _ := testPoller(api)
	_, err := p.EnsureReady(context.Background(), "u", "proj", []domain.Attachment{{ObjectKey: "k"}}, nil)
	require.Error(t, err)
	assert.Equal(t, "Document processing timed out", err.Error())
	// 5 minutes at 2s intervals plus the poll at the ceiling.
	assert.Equal(t, 151, api.polls)
}

func TestPollerCreateFailures(t *testing.T) {
	p, _ := testPoller(&fakeDocs{createErr: &APIError{Status: 500, Message: "Create document failed (500)"}})
	_, err := p.EnsureReady(context.Background(), "u", "proj", []domain.Attachment{{ObjectKey: "k"}}, nil)
	assert.EqualError(t, err, "Create document failed (500)")

	p, _ = testPoller(&fakeDocs{doc: &Document{MemorylakeDocumentID: "m"}})
	_, err = p.EnsureReady(context.Background(), "u", "proj", []domain.Attachment{{ObjectKey: "k"}}, nil)
	assert.EqualError(t, err, "Create document response missing memorylake_document_id or supermemory_document_id")
}

func TestPollerGuards(t *testing.T) {
	p, _ := testPoller(&fakeDocs{})
	_, err := p.EnsureReady(context.Background(), "u", "  ", []domain.Attachment{{ObjectKey: "k"}}, nil)
	assert.EqualError(t, err, "Arena profile or project is missing")

	out, err := p.EnsureReady(context.Background(), "u", "proj", nil, nil)
	require.NoError(t, err)
	assert.Empty(t, out)

	// Nothing to ingest needs no project.
	var reported []UploadStatus
	out, err = p.EnsureReady(context.Background(), "u", "", nil, func(s UploadStatus) { reported = append(reported, s) })
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Empty(t, reported)
}

func TestPollerCancelled(t *testing.T) {
	api := &fakeDocs{doc: okDoc(), statuses: []string{"processing"}}
	p := NewPoller(api)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.EnsureReady(ctx, "u", "proj", []domain.Attachment{{ObjectKey: "k"}}, nil)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "given.txt", FileName(domain.Attachment{Filename: "given.txt", ObjectKey: "a/b"}))
	assert.Equal(t, "b.pdf", FileName(domain.Attachment{ObjectKey: "a/b.pdf"}))
	assert.Equal(t, "file", FileName(domain.Attachment{}))
}

func TestFilePolicy(t *testing.T) {
	assert.True(t, SupportsFileType(domain.FamilyAnthropic, "image/png"))
	assert.True(t, SupportsFileType(domain.FamilyAnthropic, "text/plain"))
	assert.False(t, SupportsFileType(domain.FamilyAnthropic, "audio/mpeg"))
	assert.True(t, SupportsFileType(domain.FamilyOpenAI, "audio/mpeg"))
	assert.True(t, SupportsFileType(domain.FamilyOpenAI, " application/pdf "))
	assert.False(t, SupportsFileType(domain.FamilyOpenAI, "text/plain"))

	assert.True(t, SupportsFileURL(domain.FamilyOpenAI, "image/jpeg"))
	assert.False(t, SupportsFileURL(domain.FamilyAnthropic, "application/pdf"))

	assert.Equal(t,
		"Unsupported file type for anthropic: video/mp4. Supported: image/*, PDF; txt (text/plain).",
		UnsupportedFileType(domain.FamilyAnthropic, "video/mp4"))
	assert.Equal(t,
		"Unsupported file type for openai: text/csv. Supported: image/*, PDF; audio (wav/mp3).",
		UnsupportedFileType(domain.FamilyOpenAI, "text/csv"))
}
